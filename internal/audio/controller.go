// Package audio plays reply audio, one clip at a time.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrAborted reports playback that was stopped or superseded before it began.
var ErrAborted = errors.New("audio playback aborted")

// Handle is one opened clip.
type Handle interface {
	// Source returns the source the clip was opened from.
	Source() string

	// Start begins audible playback.
	Start() error

	// Done is closed when playback ends, naturally or through Stop.
	Done() <-chan struct{}

	// Stop halts playback and releases the clip. It returns once the
	// clip is silent and may be called repeatedly.
	Stop()
}

// Backend opens sources for playback.
type Backend interface {
	Open(ctx context.Context, source string) (Handle, error)
}

// IsAbort reports whether err is a cancellation rather than a failure.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// Controller keeps at most one clip playing.
type Controller struct {
	backend Backend

	mu      sync.Mutex
	enabled bool
	current Handle
	seq     uint64
}

// NewController creates an enabled controller.
func NewController(backend Backend) *Controller {
	return &Controller{backend: backend, enabled: true}
}

// Enabled reports whether playback is allowed.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetEnabled turns playback on or off. Disabling stops the current clip.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.stopLocked()
	}
}

// Current returns the clip being played, or nil.
func (c *Controller) Current() Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// StopAudio stops the current clip and abandons any clip still opening.
func (c *Controller) StopAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.seq++
	if c.current != nil {
		log.Debug().Str("source", c.current.Source()).Msg("Stopping audio")
		c.current.Stop()
		c.current = nil
	}
}

// PlayAudio stops whatever is playing and starts source.
//
// It returns (nil, nil) when playback is disabled, when ctx is cancelled
// before the clip starts, or when a newer call supersedes this one.
// Other failures are returned. Cancelling ctx later stops the clip.
func (c *Controller) PlayAudio(ctx context.Context, source string) (Handle, error) {
	c.mu.Lock()
	c.stopLocked()
	if !c.enabled {
		c.mu.Unlock()
		return nil, nil
	}
	seq := c.seq
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		log.Debug().Err(err).Msg("Audio aborted before open")
		return nil, nil
	}

	h, err := c.backend.Open(ctx, source)
	if err != nil {
		if IsAbort(err) {
			log.Debug().Err(err).Str("source", source).Msg("Audio aborted while opening")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audio: %w", err)
	}

	c.mu.Lock()
	if seq != c.seq || ctx.Err() != nil {
		c.mu.Unlock()
		h.Stop()
		log.Debug().Str("source", source).Msg("Audio superseded before start")
		return nil, nil
	}
	if err := h.Start(); err != nil {
		c.mu.Unlock()
		h.Stop()
		if IsAbort(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to start audio: %w", err)
	}
	c.current = h
	c.mu.Unlock()

	go c.watch(ctx, h)
	return h, nil
}

// watch clears the tracked handle when h finishes, unless a newer clip
// has replaced it.
func (c *Controller) watch(ctx context.Context, h Handle) {
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == h {
		c.current = nil
	}
}
