package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the process-wide storage service handed to controllers.
//
// Every operation degrades to an in-memory fallback when the primary backend
// fails, so callers never see a storage error. A failed write switches the
// store to the fallback for the rest of its lifetime; a failed read is served
// from the fallback without switching.
type Store struct {
	mu       sync.RWMutex
	primary  Backend
	fallback *MemoryBackend
	degraded bool
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used for envelope timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore wraps primary. A nil primary makes the store memory-only.
func NewStore(primary Backend, opts ...StoreOption) *Store {
	s := &Store{
		primary:  primary,
		fallback: NewMemoryBackend(),
		degraded: primary == nil,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemoryStore returns a Store backed only by memory, for tests and for
// hosts without persistent storage.
func NewMemoryStore(opts ...StoreOption) *Store {
	return NewStore(nil, opts...)
}

// Degraded reports whether the store has switched to the in-memory fallback.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Store) active() (Backend, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.fallback, true
	}
	return s.primary, false
}

// degrade switches to the fallback, copying whatever the primary can still
// return so reads stay consistent.
func (s *Store) degrade(ctx context.Context, cause error) {
	s.mu.Lock()
	if s.degraded {
		s.mu.Unlock()
		return
	}
	s.degraded = true
	primary := s.primary
	s.mu.Unlock()

	log.Warn().Err(cause).Msg("Storage backend failed, using in-memory fallback")

	keys, err := primary.Keys(ctx)
	if err != nil {
		return
	}
	copied := 0
	for _, key := range keys {
		value, ok, err := primary.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		_ = s.fallback.Set(ctx, key, value)
		copied++
	}
	log.Debug().Int("count", copied).Msg("Copied keys into storage fallback")
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	backend, degraded := s.active()
	value, ok, err := backend.Get(ctx, key)
	if err == nil {
		return value, ok
	}
	if degraded {
		return "", false
	}

	log.Debug().Err(err).Str("key", key).Msg("Storage read failed, reading fallback")
	value, ok, _ = s.fallback.Get(ctx, key)
	return value, ok
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) {
	backend, degraded := s.active()
	err := backend.Set(ctx, key, value)
	if err == nil || degraded {
		return
	}

	s.degrade(ctx, err)
	_ = s.fallback.Set(ctx, key, value)
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) {
	backend, degraded := s.active()
	err := backend.Remove(ctx, key)
	if !degraded {
		// A read-fallback may hold a copy of the key
		_ = s.fallback.Remove(ctx, key)
	}
	if err == nil || degraded {
		return
	}

	s.degrade(ctx, err)
	_ = s.fallback.Remove(ctx, key)
}

// Keys lists the stored keys. A failing primary yields the fallback's keys.
func (s *Store) Keys(ctx context.Context) []string {
	backend, degraded := s.active()
	keys, err := backend.Keys(ctx)
	if err == nil {
		return keys
	}
	if degraded {
		return nil
	}

	log.Debug().Err(err).Msg("Storage key listing failed, reading fallback")
	keys, _ = s.fallback.Keys(ctx)
	return keys
}

// Close closes the primary backend.
func (s *Store) Close() error {
	if s.primary == nil {
		return nil
	}
	return s.primary.Close()
}
