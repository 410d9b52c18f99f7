package persona

import (
	"context"
	"time"

	"github.com/daikw/personachat/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session storage keys
const (
	KeySessionID       = "bot-session-id"
	KeySessionDatetime = "bot-session-datetime"
)

// Session identifies one chat session in logs and chat requests.
type Session struct {
	ID       string `json:"sessionId"`
	Datetime string `json:"sessionDatetime"`
}

// SessionManager creates and reuses the session identifiers.
type SessionManager struct {
	storage *storage.Store
	now     func() time.Time
	newID   func() string
}

// NewSessionManager creates a session manager on top of s.
func NewSessionManager(s *storage.Store) *SessionManager {
	return &SessionManager{
		storage: s,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Current returns the stored session, starting a new one if needed.
func (sm *SessionManager) Current(ctx context.Context) Session {
	id, okID := sm.storage.Get(ctx, KeySessionID)
	datetime, okDatetime := sm.storage.Get(ctx, KeySessionDatetime)
	if okID && okDatetime && id != "" {
		return Session{ID: id, Datetime: datetime}
	}
	return sm.Start(ctx)
}

// Start begins a new session, replacing any stored one.
func (sm *SessionManager) Start(ctx context.Context) Session {
	session := Session{
		ID:       sm.newID(),
		Datetime: sm.now().UTC().Format(time.RFC3339),
	}
	sm.storage.Set(ctx, KeySessionID, session.ID)
	sm.storage.Set(ctx, KeySessionDatetime, session.Datetime)

	log.Debug().Str("session_id", session.ID).Msg("Session started")
	return session
}

// Reset forgets the stored session.
func (sm *SessionManager) Reset(ctx context.Context) {
	sm.storage.Remove(ctx, KeySessionID)
	sm.storage.Remove(ctx, KeySessionDatetime)
}
