package persona

import (
	"context"
	"strconv"

	"github.com/daikw/personachat/internal/storage"
)

// Preference keys
const (
	KeyAudioEnabled = "audioEnabled"
	KeyDarkMode     = "darkMode"
)

// Preferences are user settings that outlive a bot.
type Preferences struct {
	storage      *storage.Store
	defaultAudio bool
}

// NewPreferences creates preferences with the given audio default.
func NewPreferences(s *storage.Store, defaultAudio bool) *Preferences {
	return &Preferences{storage: s, defaultAudio: defaultAudio}
}

// AudioEnabled reports whether replies should be spoken.
func (p *Preferences) AudioEnabled(ctx context.Context) bool {
	return p.getBool(ctx, KeyAudioEnabled, p.defaultAudio)
}

// SetAudioEnabled stores the audio preference.
func (p *Preferences) SetAudioEnabled(ctx context.Context, enabled bool) {
	p.storage.Set(ctx, KeyAudioEnabled, strconv.FormatBool(enabled))
}

// DarkMode reports the dark mode preference.
func (p *Preferences) DarkMode(ctx context.Context) bool {
	return p.getBool(ctx, KeyDarkMode, false)
}

// SetDarkMode stores the dark mode preference.
func (p *Preferences) SetDarkMode(ctx context.Context, enabled bool) {
	p.storage.Set(ctx, KeyDarkMode, strconv.FormatBool(enabled))
}

func (p *Preferences) getBool(ctx context.Context, key string, fallback bool) bool {
	raw, ok := p.storage.Get(ctx, key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
