// Package viewport keeps the chat input visible while a virtual keyboard
// is shown.
package viewport

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// KeyboardThreshold is how far the viewport must shrink below its
	// baseline before the keyboard is considered open.
	KeyboardThreshold = 120

	// ScrollDelay is how long the heuristic adapter waits after focus
	// before scrolling the input into view.
	ScrollDelay = 300 * time.Millisecond

	InsetVar          = "--keyboard-inset"
	KeyboardOpenClass = "keyboard-open"
)

// Host applies layout changes to whatever renders the chat.
type Host interface {
	SetStyleVar(name, value string)
	AddClass(name string)
	RemoveClass(name string)
	ScrollInputIntoView()
}

// Layout is the keyboard state last applied to the host.
type Layout struct {
	KeyboardOpen bool
	Inset        int
}

// Adapter tracks keyboard visibility from viewport and focus events.
type Adapter interface {
	Resize(height int)
	Focus()
	Blur()
	Layout() Layout
	Close()
}

// Capabilities describes what the host can report.
type Capabilities struct {
	// VisualViewport is set when the host delivers reliable resize events
	// for the visible area.
	VisualViewport bool
	// Height is the initial visible height.
	Height int
}

// Select picks the adapter for caps.
func Select(host Host, caps Capabilities) Adapter {
	if caps.VisualViewport {
		log.Debug().Int("height", caps.Height).Msg("Using visual viewport adapter")
		return NewStandard(host, caps.Height)
	}
	log.Debug().Msg("Using focus heuristic viewport adapter")
	return NewHeuristic(host)
}

func apply(host Host, layout Layout) {
	host.SetStyleVar(InsetVar, fmt.Sprintf("%dpx", layout.Inset))
	if layout.KeyboardOpen {
		host.AddClass(KeyboardOpenClass)
	} else {
		host.RemoveClass(KeyboardOpenClass)
	}
}

// Standard measures the keyboard from viewport height changes.
type Standard struct {
	host Host

	mu       sync.Mutex
	baseline int
	layout   Layout
}

// NewStandard creates a Standard adapter with the given full height.
func NewStandard(host Host, baseline int) *Standard {
	return &Standard{host: host, baseline: baseline}
}

// Resize records a new visible height. A taller viewport becomes the
// new baseline.
func (s *Standard) Resize(height int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if height > s.baseline {
		s.baseline = height
	}

	next := Layout{}
	if inset := s.baseline - height; inset > KeyboardThreshold {
		next = Layout{KeyboardOpen: true, Inset: inset}
	}
	if next == s.layout {
		return
	}

	wasOpen := s.layout.KeyboardOpen
	s.layout = next
	apply(s.host, next)
	if next.KeyboardOpen && !wasOpen {
		s.host.ScrollInputIntoView()
	}
}

// Focus scrolls the input into view if the keyboard is already open.
func (s *Standard) Focus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layout.KeyboardOpen {
		s.host.ScrollInputIntoView()
	}
}

// Blur is a no-op; the following resize closes the keyboard.
func (s *Standard) Blur() {}

func (s *Standard) Layout() Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

func (s *Standard) Close() {}

// Heuristic assumes the keyboard follows input focus, for hosts without
// usable resize events.
type Heuristic struct {
	host  Host
	delay time.Duration

	mu     sync.Mutex
	layout Layout
	timer  *time.Timer
}

// HeuristicOption configures a Heuristic adapter.
type HeuristicOption func(*Heuristic)

// WithScrollDelay overrides ScrollDelay.
func WithScrollDelay(d time.Duration) HeuristicOption {
	return func(h *Heuristic) {
		h.delay = d
	}
}

// NewHeuristic creates a Heuristic adapter.
func NewHeuristic(host Host, opts ...HeuristicOption) *Heuristic {
	h := &Heuristic{host: host, delay: ScrollDelay}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resize is ignored.
func (h *Heuristic) Resize(int) {}

func (h *Heuristic) Focus() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.layout = Layout{KeyboardOpen: true}
	apply(h.host, h.layout)

	h.stopTimerLocked()
	h.timer = time.AfterFunc(h.delay, h.host.ScrollInputIntoView)
}

func (h *Heuristic) Blur() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopTimerLocked()
	if !h.layout.KeyboardOpen {
		return
	}
	h.layout = Layout{}
	apply(h.host, h.layout)
}

func (h *Heuristic) Layout() Layout {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.layout
}

// Close cancels a pending scroll.
func (h *Heuristic) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopTimerLocked()
}

func (h *Heuristic) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
