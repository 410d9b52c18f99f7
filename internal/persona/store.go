package persona

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/daikw/personachat/internal/storage"
	"github.com/rs/zerolog/log"
)

// Storage keys
const (
	KeyBot          = "chatbot-bot"
	KeyBotTimestamp = "chatbot-bot-timestamp"
)

// DefaultMaxAge is how long a saved bot stays valid.
const DefaultMaxAge = 6 * time.Hour

// Store persists the current bot with an expiry.
type Store struct {
	storage *storage.Store
	maxAge  time.Duration
	now     func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxAge overrides the bot expiry.
func WithMaxAge(d time.Duration) StoreOption {
	return func(s *Store) {
		s.maxAge = d
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a bot store.
func NewStore(s *storage.Store, opts ...StoreOption) *Store {
	st := &Store{
		storage: s,
		maxAge:  DefaultMaxAge,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Save stores bot and stamps it with the current time.
func (s *Store) Save(ctx context.Context, bot *Bot) {
	if bot == nil {
		return
	}
	data, err := json.Marshal(bot)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal bot")
		return
	}
	s.storage.Set(ctx, KeyBot, string(data))
	s.storage.Set(ctx, KeyBotTimestamp, strconv.FormatInt(s.now().UnixMilli(), 10))
	log.Debug().Str("bot", bot.Name).Msg("Saved bot")
}

// Load returns the saved bot, or nil when there is none. An expired,
// unreadable or incomplete record is deleted.
func (s *Store) Load(ctx context.Context) *Bot {
	raw, ok := s.storage.Get(ctx, KeyBot)
	if !ok {
		return nil
	}

	var bot Bot
	if err := json.Unmarshal([]byte(raw), &bot); err != nil {
		log.Debug().Err(err).Msg("Discarding unreadable bot")
		s.Clear(ctx)
		return nil
	}
	if !bot.Complete() {
		log.Debug().Msg("Discarding incomplete bot")
		s.Clear(ctx)
		return nil
	}

	savedAt, ok := s.savedAt(ctx)
	if !ok {
		log.Debug().Str("bot", bot.Name).Msg("Discarding bot without timestamp")
		s.Clear(ctx)
		return nil
	}

	if age := s.now().Sub(savedAt); age > s.maxAge {
		log.Debug().Str("bot", bot.Name).Dur("age", age).Msg("Discarding expired bot")
		s.Clear(ctx)
		return nil
	}

	return &bot
}

func (s *Store) savedAt(ctx context.Context) (time.Time, bool) {
	raw, ok := s.storage.Get(ctx, KeyBotTimestamp)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Clear removes the bot and its timestamp.
func (s *Store) Clear(ctx context.Context) {
	s.storage.Remove(ctx, KeyBot)
	s.storage.Remove(ctx, KeyBotTimestamp)
}
