// Package voice holds a character's text-to-speech configuration, its
// versioned persistence and local synthesis of reply audio.
package voice

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daikw/personachat/internal/voice/provider"
)

// SSML gender values
const (
	GenderMale        = "MALE"
	GenderFemale      = "FEMALE"
	GenderNeutral     = "NEUTRAL"
	GenderUnspecified = "SSML_VOICE_GENDER_UNSPECIFIED"
)

// Ranges accepted by the synthesis backends
const (
	MinPitch        = -20.0
	MaxPitch        = 20.0
	MinSpeakingRate = 0.25
	MaxSpeakingRate = 4.0
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid voice config")

// Config is the structured TTS descriptor generated for a character.
type Config struct {
	LanguageCodes []string `json:"languageCodes"`
	Name          string   `json:"name"`
	SsmlGender    string   `json:"ssmlGender"`
	Pitch         float64  `json:"pitch"`
	SpeakingRate  float64  `json:"speakingRate"`
	Type          string   `json:"type,omitempty"` // Standard, WaveNet, Neural2, Studio, Journey
}

// Validate checks the fields a synthesis request depends on.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: voice name cannot be empty", ErrInvalidConfig)
	}
	if len(c.LanguageCodes) == 0 {
		return fmt.Errorf("%w: at least one language code is required", ErrInvalidConfig)
	}
	switch c.SsmlGender {
	case GenderMale, GenderFemale, GenderNeutral, GenderUnspecified, "":
	default:
		return fmt.Errorf("%w: unknown ssml gender %q", ErrInvalidConfig, c.SsmlGender)
	}
	if c.Pitch < MinPitch || c.Pitch > MaxPitch {
		return fmt.Errorf("%w: pitch %.2f outside [%.0f, %.0f]", ErrInvalidConfig, c.Pitch, MinPitch, MaxPitch)
	}
	// Zero means the provider default
	if c.SpeakingRate != 0 && (c.SpeakingRate < MinSpeakingRate || c.SpeakingRate > MaxSpeakingRate) {
		return fmt.Errorf("%w: speaking rate %.2f outside [%.2f, %.0f]", ErrInvalidConfig, c.SpeakingRate, MinSpeakingRate, MaxSpeakingRate)
	}
	return nil
}

// Language returns the primary language code.
func (c *Config) Language() string {
	if c == nil || len(c.LanguageCodes) == 0 {
		return ""
	}
	return c.LanguageCodes[0]
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.LanguageCodes = append([]string(nil), c.LanguageCodes...)
	return &out
}

// SynthesizeOptions converts the config into provider options.
func (c *Config) SynthesizeOptions(format string) provider.SynthesizeOptions {
	family := c.Type
	if family == "" {
		family = typeFromName(c.Name)
	}
	return provider.SynthesizeOptions{
		Voice:    c.Name,
		Language: c.Language(),
		Gender:   c.SsmlGender,
		Engine:   family,
		Speed:    c.SpeakingRate,
		Pitch:    c.Pitch,
		Format:   format,
	}
}

// typeFromName reads the voice family out of a name like en-US-Neural2-D.
func typeFromName(name string) string {
	parts := strings.Split(name, "-")
	if len(parts) >= 4 {
		return parts[2]
	}
	return ""
}
