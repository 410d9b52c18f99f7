// Package persona stores the generated character (Bot), the chat session
// identifiers and the user's display preferences.
package persona

import (
	"strings"

	"github.com/daikw/personachat/internal/voice"
)

// Bot is a generated character driving a chat session.
type Bot struct {
	Name        string        `json:"name"`
	Personality string        `json:"personality"`
	AvatarURL   string        `json:"avatarUrl"`
	VoiceConfig *voice.Config `json:"voiceConfig"`
}

// Complete reports whether the bot has the fields a chat needs.
func (b *Bot) Complete() bool {
	return b != nil && strings.TrimSpace(b.Name) != "" && strings.TrimSpace(b.Personality) != ""
}

// HasVoice reports whether the bot can drive text-to-speech.
func (b *Bot) HasVoice() bool {
	return b != nil && b.VoiceConfig != nil
}
