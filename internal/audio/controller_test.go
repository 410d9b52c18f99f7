package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	source   string
	done     chan struct{}
	startErr error

	mu       sync.Mutex
	started  bool
	stops    int
	stopOnce sync.Once
}

func newFakeHandle(source string) *fakeHandle {
	return &fakeHandle{source: source, done: make(chan struct{})}
}

func (h *fakeHandle) Source() string        { return h.source }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return h.startErr
	}
	h.started = true
	return nil
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
	h.stopOnce.Do(func() { close(h.done) })
}

// finish simulates natural completion.
func (h *fakeHandle) finish() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *fakeHandle) isStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

type fakeBackend struct {
	mu      sync.Mutex
	handles []*fakeHandle
	openErr error
	// gate blocks Open until closed, when set
	gate    chan struct{}
	opening chan struct{}
}

func (b *fakeBackend) Open(ctx context.Context, source string) (Handle, error) {
	if b.opening != nil {
		b.opening <- struct{}{}
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	h := newFakeHandle(source)
	b.mu.Lock()
	b.handles = append(b.handles, h)
	b.mu.Unlock()
	return h, nil
}

func (b *fakeBackend) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

func TestPlayAudio(t *testing.T) {
	backend := &fakeBackend{}
	c := NewController(backend)

	h, err := c.PlayAudio(context.Background(), "a.mp3")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.(*fakeHandle).isStarted())
	assert.Equal(t, h, c.Current())
}

func TestPlayAudioIsExclusive(t *testing.T) {
	c := NewController(&fakeBackend{})

	first, err := c.PlayAudio(context.Background(), "first.mp3")
	require.NoError(t, err)
	second, err := c.PlayAudio(context.Background(), "second.mp3")
	require.NoError(t, err)

	assert.Equal(t, 1, first.(*fakeHandle).stopCount())
	assert.Equal(t, 0, second.(*fakeHandle).stopCount())
	assert.Equal(t, second, c.Current())
}

func TestPlayAudioDisabled(t *testing.T) {
	backend := &fakeBackend{}
	c := NewController(backend)

	playing, err := c.PlayAudio(context.Background(), "a.mp3")
	require.NoError(t, err)

	c.SetEnabled(false)
	assert.False(t, c.Enabled())
	assert.Equal(t, 1, playing.(*fakeHandle).stopCount())
	assert.Nil(t, c.Current())

	h, err := c.PlayAudio(context.Background(), "b.mp3")
	assert.NoError(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 1, backend.opened())
}

func TestPlayAudioAbortedContext(t *testing.T) {
	backend := &fakeBackend{}
	c := NewController(backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h, err := c.PlayAudio(ctx, "a.mp3")
	assert.NoError(t, err)
	assert.Nil(t, h)
	assert.Nil(t, c.Current())
	assert.Equal(t, 0, backend.opened())
}

func TestPlayAudioCancelledWhileOpening(t *testing.T) {
	backend := &fakeBackend{gate: make(chan struct{}), opening: make(chan struct{}, 1)}
	c := NewController(backend)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		h   Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := c.PlayAudio(ctx, "slow.mp3")
		done <- result{h, err}
	}()

	<-backend.opening
	cancel()

	r := <-done
	assert.NoError(t, r.err)
	assert.Nil(t, r.h)
	assert.Nil(t, c.Current())
}

func TestPlayAudioSupersededWhileOpening(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{gate: gate, opening: make(chan struct{}, 2)}
	c := NewController(backend)

	type result struct {
		h   Handle
		err error
	}
	firstDone := make(chan result, 1)
	go func() {
		h, err := c.PlayAudio(context.Background(), "first.mp3")
		firstDone <- result{h, err}
	}()
	<-backend.opening

	secondDone := make(chan result, 1)
	go func() {
		h, err := c.PlayAudio(context.Background(), "second.mp3")
		secondDone <- result{h, err}
	}()
	<-backend.opening
	close(gate)

	first := <-firstDone
	second := <-secondDone

	// Exactly one call wins; the other is treated as an abort
	var winners []Handle
	for _, r := range []result{first, second} {
		assert.NoError(t, r.err)
		if r.h != nil {
			winners = append(winners, r.h)
		}
	}
	require.Len(t, winners, 1)
	assert.Equal(t, winners[0], c.Current())

	for _, h := range backend.handles {
		if Handle(h) != winners[0] {
			assert.False(t, h.isStarted())
			assert.Equal(t, 1, h.stopCount())
		}
	}
}

func TestPlayAudioErrors(t *testing.T) {
	t.Run("open failure is returned", func(t *testing.T) {
		c := NewController(&fakeBackend{openErr: errors.New("decode failed")})
		h, err := c.PlayAudio(context.Background(), "bad.mp3")
		assert.Nil(t, h)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode failed")
		assert.False(t, IsAbort(err))
	})

	t.Run("abort errors are swallowed", func(t *testing.T) {
		for _, openErr := range []error{ErrAborted, context.Canceled} {
			c := NewController(&fakeBackend{openErr: openErr})
			h, err := c.PlayAudio(context.Background(), "a.mp3")
			assert.NoError(t, err)
			assert.Nil(t, h)
		}
	})
}

type startFailBackend struct {
	err error
	h   *fakeHandle
}

func (b *startFailBackend) Open(context.Context, string) (Handle, error) {
	b.h = newFakeHandle("x")
	b.h.startErr = b.err
	return b.h, nil
}

func TestPlayAudioStartFailure(t *testing.T) {
	backend := &startFailBackend{err: errors.New("device busy")}
	c := NewController(backend)

	h, err := c.PlayAudio(context.Background(), "x")
	assert.Nil(t, h)
	assert.ErrorContains(t, err, "device busy")
	assert.Equal(t, 1, backend.h.stopCount())
	assert.Nil(t, c.Current())
}

func TestStopAudio(t *testing.T) {
	c := NewController(&fakeBackend{})

	// Idempotent with nothing playing
	c.StopAudio()
	c.StopAudio()

	h, err := c.PlayAudio(context.Background(), "a.mp3")
	require.NoError(t, err)

	c.StopAudio()
	assert.Equal(t, 1, h.(*fakeHandle).stopCount())
	assert.Nil(t, c.Current())

	c.StopAudio()
	assert.Equal(t, 1, h.(*fakeHandle).stopCount())
}

func TestNaturalCompletion(t *testing.T) {
	c := NewController(&fakeBackend{})

	h, err := c.PlayAudio(context.Background(), "a.mp3")
	require.NoError(t, err)

	h.(*fakeHandle).finish()
	assert.Eventually(t, func() bool { return c.Current() == nil }, time.Second, 5*time.Millisecond)
}

func TestStaleCompletionKeepsNewerHandle(t *testing.T) {
	c := NewController(&fakeBackend{})

	first, err := c.PlayAudio(context.Background(), "first.mp3")
	require.NoError(t, err)
	second, err := c.PlayAudio(context.Background(), "second.mp3")
	require.NoError(t, err)

	// first was stopped, so its watcher has already run or will run now
	<-first.Done()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, second, c.Current())
}

func TestContextCancelStopsPlayback(t *testing.T) {
	c := NewController(&fakeBackend{})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := c.PlayAudio(ctx, "a.mp3")
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		return h.(*fakeHandle).stopCount() == 1 && c.Current() == nil
	}, time.Second, 5*time.Millisecond)
}
