// Package creation runs the three-stage persona generation pipeline:
// personality, then avatar, then voice.
package creation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/daikw/personachat/internal/api"
	"github.com/daikw/personachat/internal/persona"
	"github.com/daikw/personachat/internal/voice"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// State is the orchestrator state.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateGenerating State = "generating"
	StateDone       State = "done"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Stage is a generation stage reported to the progress sink.
type Stage string

const (
	StagePersonality Stage = "personality"
	StageAvatar      Stage = "avatar"
	StageVoice       Stage = "voice"
)

const (
	// MaxNameLength is the longest accepted name, in runes.
	MaxNameLength = 80

	// PlaceholderAvatar is used when avatar generation fails.
	PlaceholderAvatar = "/images/silhouette.png"

	// DefaultAvatarMaxWait caps the avatar elapsed-time display.
	DefaultAvatarMaxWait = 60 * time.Second
)

// User-facing messages
const (
	MsgInvalidName = "Please enter a name of up to 80 characters."
	MsgVoiceFailed = "We couldn't create a voice for this character. Please try again."
	MsgBusy        = "A character is already being created."
)

var (
	ErrInvalidName = errors.New("invalid character name")
	ErrCancelled   = errors.New("creation cancelled")
	ErrInProgress  = errors.New("creation already in progress")
)

// Error is a creation failure with a message safe to show the user.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ProgressSink receives stage transitions.
type ProgressSink interface {
	Report(stage Stage)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(Stage)

// Report implements ProgressSink.
func (f ProgressFunc) Report(stage Stage) {
	f(stage)
}

// Generator produces the parts of a persona. api.Client implements it.
type Generator interface {
	GeneratePersonality(ctx context.Context, name string) (*api.PersonalityResult, error)
	GenerateAvatar(ctx context.Context, name string) (string, error)
	VoiceConfigForCharacter(ctx context.Context, name string) (*voice.Config, error)
}

// VoicePersister saves a generated voice config. voice.Store implements it.
type VoicePersister interface {
	Persist(ctx context.Context, characterName string, cfg *voice.Config)
}

// DefaultPersonality is the personality used when generation fails.
func DefaultPersonality(name string) string {
	return fmt.Sprintf("You are %s. Stay in character and answer in the voice, knowledge and manner of %s. Keep replies conversational.", name, name)
}

// Orchestrator drives persona creation. It runs one creation at a time.
type Orchestrator struct {
	gen           Generator
	voices        VoicePersister
	avatarMaxWait time.Duration
	now           func() time.Time

	mu          sync.Mutex
	state       State
	stage       Stage
	loading     bool
	avatarStart time.Time
	avatarEnd   time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAvatarMaxWait sets the avatar elapsed-time cap.
func WithAvatarMaxWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.avatarMaxWait = d
		}
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator. voices may be nil.
func New(gen Generator, voices VoicePersister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:           gen,
		voices:        voices,
		avatarMaxWait: DefaultAvatarMaxWait,
		now:           time.Now,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state and, while generating, the stage.
func (o *Orchestrator) State() (State, Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.stage
}

// Loading reports whether a creation is running.
func (o *Orchestrator) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// AvatarElapsed formats the time spent in the avatar stage, e.g. "12s",
// or "60s max" once the cap is exceeded.
func (o *Orchestrator) AvatarElapsed() string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.avatarStart.IsZero() {
		return "0s"
	}
	end := o.avatarEnd
	if end.IsZero() {
		end = o.now()
	}
	elapsed := end.Sub(o.avatarStart)
	if elapsed > o.avatarMaxWait {
		return fmt.Sprintf("%ds max", int(o.avatarMaxWait.Seconds()))
	}
	return fmt.Sprintf("%ds", int(elapsed.Seconds()))
}

func (o *Orchestrator) setState(state State, stage Stage) {
	o.mu.Lock()
	o.state = state
	o.stage = stage
	o.mu.Unlock()
}

func (o *Orchestrator) enter(stage Stage, sink ProgressSink) {
	o.mu.Lock()
	o.state = StateGenerating
	o.stage = stage
	if stage == StageAvatar {
		o.avatarStart = o.now()
		o.avatarEnd = time.Time{}
	}
	o.mu.Unlock()

	log.Debug().Str("stage", string(stage)).Msg("Creation stage started")
	if sink != nil {
		sink.Report(stage)
	}
}

func (o *Orchestrator) endAvatar() {
	o.mu.Lock()
	o.avatarEnd = o.now()
	o.mu.Unlock()
}

// NormalizeName trims and NFC-normalises a user supplied name.
func NormalizeName(raw string) string {
	return strings.TrimSpace(norm.NFC.String(raw))
}

// ValidateName checks a normalised name.
func ValidateName(name string) error {
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}

// Create generates a persona for rawName. onComplete is called with the
// finished bot only when every stage succeeded and the token was not
// cancelled. Personality and avatar failures fall back to defaults; a voice
// failure returns *Error.
func (o *Orchestrator) Create(tok *Token, rawName string, sink ProgressSink, onComplete func(*persona.Bot)) error {
	o.mu.Lock()
	if o.loading {
		o.mu.Unlock()
		return &Error{Message: MsgBusy, Err: ErrInProgress}
	}
	o.loading = true
	o.avatarStart = time.Time{}
	o.avatarEnd = time.Time{}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.loading = false
		o.mu.Unlock()
	}()

	o.setState(StateValidating, "")
	name := NormalizeName(rawName)
	if err := ValidateName(name); err != nil {
		o.setState(StateFailed, "")
		return &Error{Message: MsgInvalidName, Err: err}
	}
	if tok.IsCancelled() {
		return o.cancelled("")
	}

	// Personality
	o.enter(StagePersonality, sink)
	result, err := await(tok, func(ctx context.Context) (*api.PersonalityResult, error) {
		return o.gen.GeneratePersonality(ctx, name)
	})
	if errors.Is(err, ErrCancelled) {
		return o.cancelled(StagePersonality)
	}
	personality := DefaultPersonality(name)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("Personality generation failed, using default")
	} else {
		personality = result.Personality
		if result.CorrectedName != "" {
			name = result.CorrectedName
		}
	}

	// Avatar
	o.enter(StageAvatar, sink)
	avatarURL, err := await(tok, func(ctx context.Context) (string, error) {
		return o.gen.GenerateAvatar(ctx, name)
	})
	o.endAvatar()
	if errors.Is(err, ErrCancelled) {
		return o.cancelled(StageAvatar)
	}
	if err != nil || avatarURL == "" {
		log.Warn().Err(err).Str("name", name).Msg("Avatar generation failed, using placeholder")
		avatarURL = PlaceholderAvatar
	}

	// Voice
	o.enter(StageVoice, sink)
	cfg, err := await(tok, func(ctx context.Context) (*voice.Config, error) {
		return o.gen.VoiceConfigForCharacter(ctx, name)
	})
	if errors.Is(err, ErrCancelled) {
		return o.cancelled(StageVoice)
	}
	if err == nil && cfg == nil {
		err = errors.New("empty voice config")
	}
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Voice config generation failed")
		o.setState(StateFailed, StageVoice)
		return &Error{Stage: StageVoice, Message: MsgVoiceFailed, Err: err}
	}

	// Last chance to observe a cancel before anything is committed
	if tok.IsCancelled() {
		return o.cancelled(StageVoice)
	}

	bot := &persona.Bot{
		Name:        name,
		Personality: personality,
		AvatarURL:   avatarURL,
		VoiceConfig: cfg,
	}

	o.persistVoice(context.WithoutCancel(tok.Context()), bot)
	o.setState(StateDone, "")
	log.Info().Str("name", bot.Name).Msg("Character created")

	if onComplete != nil {
		onComplete(bot)
	}
	return nil
}

func (o *Orchestrator) cancelled(stage Stage) error {
	o.setState(StateCancelled, stage)
	log.Debug().Str("stage", string(stage)).Msg("Creation cancelled")
	return ErrCancelled
}

// persistVoice saves the voice config without letting any failure escape.
func (o *Orchestrator) persistVoice(ctx context.Context, bot *persona.Bot) {
	if o.voices == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Failed to persist voice config")
		}
	}()
	o.voices.Persist(ctx, bot.Name, bot.VoiceConfig)
}

// await runs fn in its own goroutine and returns its result, or
// ErrCancelled as soon as the token is cancelled. A result that arrives
// after cancellation is discarded.
func await[T any](tok *Token, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	ch := make(chan result, 1)
	go func() {
		v, err := fn(tok.Context())
		ch <- result{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-ch:
		if tok.IsCancelled() {
			return zero, ErrCancelled
		}
		return r.value, r.err
	case <-tok.Context().Done():
		return zero, ErrCancelled
	}
}
