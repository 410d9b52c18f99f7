// Package provider implements text-to-speech backends used to voice
// character replies that arrive without a pre-rendered audio file.
package provider

import (
	"context"
	"io"
)

// Provider defines the interface for TTS providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// ListVoices returns available voices for this provider
	ListVoices(ctx context.Context) ([]Voice, error)

	// Synthesize generates audio from text and returns an audio stream
	Synthesize(ctx context.Context, text string, options SynthesizeOptions) (io.ReadCloser, error)

	// IsAvailable checks if the provider is available (can be used)
	IsAvailable(ctx context.Context) bool
}

// Voice represents a voice option
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Gender      string `json:"gender,omitempty"`
	Description string `json:"description,omitempty"`
}

// SynthesizeOptions contains options for text synthesis
type SynthesizeOptions struct {
	Voice      string  `json:"voice"`
	Language   string  `json:"language,omitempty"`    // BCP-47 language code
	Gender     string  `json:"gender,omitempty"`      // MALE, FEMALE, NEUTRAL
	Engine     string  `json:"engine,omitempty"`      // Voice family (Standard, Neural2, ...)
	Speed      float64 `json:"speed,omitempty"`       // Speed multiplier (0.25-4.0)
	Pitch      float64 `json:"pitch,omitempty"`       // Semitones (-20 to 20)
	Format     string  `json:"format,omitempty"`      // Output format (mp3, wav, ogg)
	SampleRate string  `json:"sample_rate,omitempty"` // Hz, provider default when empty
}

// Extension returns the file extension matching format.
func Extension(format string) string {
	switch format {
	case "wav", "linear16", "pcm":
		return ".wav"
	case "ogg", "ogg_opus":
		return ".ogg"
	default:
		return ".mp3"
	}
}
