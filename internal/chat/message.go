package chat

import (
	"context"

	"github.com/daikw/personachat/internal/api"
	"github.com/daikw/personachat/internal/storage"
	"github.com/rs/zerolog/log"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of the transcript.
type Message struct {
	Sender       Sender `json:"sender"`
	Text         string `json:"text"`
	AudioFileURL string `json:"audioFileUrl,omitempty"`
}

// Status summarises the conversation state.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusAwaitingReply Status = "awaiting_reply"
	StatusError         Status = "error"
)

const (
	// HistoryKeyPrefix prefixes persisted transcripts.
	HistoryKeyPrefix = "chatbot-history-"

	// HistoryVersion is the envelope version of persisted transcripts.
	HistoryVersion = 1
)

// HistoryKey returns the storage key for a character's transcript.
func HistoryKey(characterName string) string {
	return HistoryKeyPrefix + characterName
}

// LegacyRules wraps transcripts saved before envelopes were introduced.
// The message shape did not change, so no transform is needed.
func LegacyRules() []storage.LegacyRule {
	return []storage.LegacyRule{{Prefix: HistoryKeyPrefix, Version: HistoryVersion}}
}

func loadHistory(ctx context.Context, s *storage.Store, characterName string) []Message {
	messages, ok := storage.GetVersioned[[]Message](ctx, s, HistoryKey(characterName), HistoryVersion, nil)
	if !ok {
		return nil
	}
	valid := messages[:0]
	for _, m := range messages {
		if m.Sender != SenderUser && m.Sender != SenderAssistant {
			continue
		}
		valid = append(valid, m)
	}
	log.Debug().Str("character", characterName).Int("messages", len(valid)).Msg("Restored chat history")
	return valid
}

func saveHistory(ctx context.Context, s *storage.Store, characterName string, messages []Message) {
	s.SetVersionedJSON(ctx, HistoryKey(characterName), messages, HistoryVersion)
}

func clearHistory(ctx context.Context, s *storage.Store, characterName string) {
	s.Remove(ctx, HistoryKey(characterName))
}

// turns converts messages to request history.
func turns(messages []Message) []api.Turn {
	out := make([]api.Turn, 0, len(messages))
	for _, m := range messages {
		out = append(out, api.Turn{Sender: string(m.Sender), Text: m.Text})
	}
	return out
}
