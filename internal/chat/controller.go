// Package chat runs a conversation with a generated persona.
package chat

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/daikw/personachat/internal/api"
	"github.com/daikw/personachat/internal/audio"
	"github.com/daikw/personachat/internal/persona"
	"github.com/daikw/personachat/internal/storage"
	"github.com/daikw/personachat/internal/viewport"
	"github.com/daikw/personachat/internal/voice"
	"github.com/rs/zerolog/log"
)

// User-facing messages
const (
	MsgVoiceMissing = "Voice configuration missing for this character."
	MsgNoResponse   = "The character is not responding right now. Please try again."
)

// DefaultVisibleCount is how many recent messages are shown at first.
const DefaultVisibleCount = 50

// logTimeout bounds the fire-and-forget log calls.
const logTimeout = 10 * time.Second

var (
	ErrVoiceMissing = errors.New("voice configuration missing")
	ErrNoResponse   = errors.New("no response from chat api")
	ErrUnavailable  = errors.New("chat api unavailable")
)

// Error is a chat failure with a message safe to show the user.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// API is the chat backend. api.Client implements it.
type API interface {
	Health(ctx context.Context) error
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatReply, error)
	LogMessage(ctx context.Context, entry api.LogEntry) error
}

// AudioPlayer plays reply audio. audio.Controller implements it.
type AudioPlayer interface {
	PlayAudio(ctx context.Context, source string) (audio.Handle, error)
	StopAudio()
	SetEnabled(enabled bool)
}

// VoiceLoader returns a persisted voice config. voice.Store implements it.
type VoiceLoader interface {
	Load(ctx context.Context, characterName string) *voice.Config
}

// Synthesizer renders reply text locally when the API returns no audio.
// voice.Synthesizer implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, cfg *voice.Config) (string, error)
}

// Controller owns the conversation with one persona. It is safe for
// concurrent use; at most one request is in flight at a time.
type Controller struct {
	api         API
	bot         *persona.Bot
	storage     *storage.Store
	bots        *persona.Store
	voices      VoiceLoader
	prefs       *persona.Preferences
	sessions    *persona.SessionManager
	player      AudioPlayer
	synth       Synthesizer
	classifier  IntentClassifier
	retry       RetryPolicy
	viewport    viewport.Adapter
	onScroll    func()
	onNavigate  func()
	audioOn     bool

	mu           sync.Mutex
	session      persona.Session
	messages     []Message
	loading      bool
	retrying     bool
	errMsg       string
	status       Status
	unavailable  bool
	voiceMissing bool
	visibleCount int
	input        string
	scrolledUp   bool
	audioCancel  context.CancelFunc

	// generation changes when the conversation is abandoned; a reply for
	// an older generation is dropped.
	generation uint64
	reqCancel  context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithAudio enables reply playback through p.
func WithAudio(p AudioPlayer) Option {
	return func(c *Controller) {
		c.player = p
	}
}

// WithSynthesizer renders replies that come back without audio.
func WithSynthesizer(s Synthesizer) Option {
	return func(c *Controller) {
		c.synth = s
	}
}

// WithClassifier uses an intent classifier for continuation replies.
func WithClassifier(ic IntentClassifier) Option {
	return func(c *Controller) {
		c.classifier = ic
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) {
		c.retry = p
	}
}

// WithVoiceLoader overrides the persisted voice config lookup.
func WithVoiceLoader(v VoiceLoader) Option {
	return func(c *Controller) {
		c.voices = v
	}
}

// WithViewport attaches a viewport adapter.
func WithViewport(a viewport.Adapter) Option {
	return func(c *Controller) {
		c.viewport = a
	}
}

// WithScrollHandler is called to scroll the transcript to the bottom
// after a message is appended. It runs with the controller locked and
// must not call back into it.
func WithScrollHandler(fn func()) Option {
	return func(c *Controller) {
		c.onScroll = fn
	}
}

// WithNavigate is called by BackToCharacterCreation.
func WithNavigate(fn func()) Option {
	return func(c *Controller) {
		c.onNavigate = fn
	}
}

// WithAudioDefault sets the audio preference used when none is stored.
func WithAudioDefault(enabled bool) Option {
	return func(c *Controller) {
		c.audioOn = enabled
	}
}

// New creates a controller for bot. s backs history, preferences and the
// session.
func New(client API, bot *persona.Bot, s *storage.Store, opts ...Option) *Controller {
	c := &Controller{
		api:          client,
		bot:          bot,
		storage:      s,
		retry:        DefaultRetryPolicy(),
		audioOn:      true,
		status:       StatusIdle,
		visibleCount: DefaultVisibleCount,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.bots = persona.NewStore(s)
	c.sessions = persona.NewSessionManager(s)
	c.prefs = persona.NewPreferences(s, c.audioOn)
	if c.voices == nil {
		c.voices = voice.NewStore(s)
	}
	return c
}

// Bot returns the persona being chatted with.
func (c *Controller) Bot() *persona.Bot {
	return c.bot
}

// Session returns the session identifiers sent with each request.
func (c *Controller) Session() persona.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start restores the transcript, checks the API and, for a new
// conversation, requests the persona's introduction.
func (c *Controller) Start(ctx context.Context) error {
	c.ensureSession(ctx)
	history := loadHistory(ctx, c.storage, c.bot.Name)
	if c.player != nil {
		c.player.SetEnabled(c.prefs.AudioEnabled(ctx))
	}

	c.mu.Lock()
	c.messages = history
	c.mu.Unlock()

	if err := c.api.Health(ctx); err != nil {
		log.Error().Err(err).Msg("Chat API health check failed")
		c.mu.Lock()
		c.unavailable = true
		c.mu.Unlock()
		return c.fail(&Error{Message: api.UserMessage(err), Err: errors.Join(ErrUnavailable, err)})
	}

	if c.resolveVoice(ctx) == nil {
		c.mu.Lock()
		c.voiceMissing = true
		c.mu.Unlock()
		return c.fail(&Error{Message: MsgVoiceMissing, Err: ErrVoiceMissing})
	}

	if len(history) > 0 {
		return nil
	}

	c.mu.Lock()
	if !c.beginLocked() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	defer c.finish()

	return c.exchange(ctx, "", api.ModeIntro, false)
}

// SetInput replaces the pending input text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the pending input text.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Send sets the input and sends it.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.SetInput(text)
	return c.SendMessage(ctx)
}

// SendMessage sends the pending input. Blank input, or a request already
// in flight, makes it a no-op.
func (c *Controller) SendMessage(ctx context.Context) error {
	c.mu.Lock()
	text := strings.TrimSpace(c.input)
	if text == "" || c.loading {
		c.mu.Unlock()
		return nil
	}
	if c.unavailable {
		c.mu.Unlock()
		return &Error{Message: api.MsgUnavailable, Err: ErrUnavailable}
	}

	// The assistant message being answered, if it offered to continue
	pending := -1
	if n := len(c.messages); n > 0 && c.messages[n-1].Sender == SenderAssistant && HasContinuation(c.messages[n-1].Text) {
		pending = n - 1
	}
	var prompt string
	if pending >= 0 {
		prompt = c.messages[pending].Text
	}

	c.input = ""
	c.beginLocked()
	c.appendLocked(Message{Sender: SenderUser, Text: text})
	c.mu.Unlock()
	defer c.finish()

	mode := ""
	if pending >= 0 {
		if wantsContinuation(ctx, c.classifier, prompt, text) {
			mode = api.ModeContinue
		}
		c.mu.Lock()
		if pending < len(c.messages) {
			c.messages[pending].Text = StripContinuation(c.messages[pending].Text)
		}
		c.mu.Unlock()
	}

	return c.exchange(ctx, text, mode, true)
}

// beginLocked marks a request in flight. It reports false if one already is.
func (c *Controller) beginLocked() bool {
	if c.loading {
		return false
	}
	c.loading = true
	c.retrying = false
	c.errMsg = ""
	c.status = StatusAwaitingReply
	c.cancelAudioLocked()
	return true
}

// finish runs on every exit path of a request.
func (c *Controller) finish() {
	c.mu.Lock()
	c.loading = false
	c.retrying = false
	c.mu.Unlock()
}

// exchange sends one request under the retry policy and applies the
// reply. fromUser is set when the last message is the user turn being
// answered; it is sent as the message rather than as history.
func (c *Controller) exchange(ctx context.Context, text, mode string, fromUser bool) error {
	c.ensureSession(ctx)

	c.mu.Lock()
	history := c.messages
	var user Message
	if fromUser && len(history) > 0 {
		user = history[len(history)-1]
		history = history[:len(history)-1]
	}
	req := api.ChatRequest{
		Message:         text,
		History:         turns(history),
		Persona:         c.bot,
		SessionID:       c.session.ID,
		SessionDatetime: c.session.Datetime,
		Mode:            mode,
	}
	generation := c.generation
	rctx, cancel := context.WithCancel(ctx)
	c.reqCancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.generation == generation {
			c.reqCancel = nil
		}
		c.mu.Unlock()
	}()

	req.VoiceConfig = c.resolveVoice(ctx)
	if req.VoiceConfig == nil {
		return c.fail(&Error{Message: MsgVoiceMissing, Err: ErrVoiceMissing})
	}

	var reply *api.ChatReply
	err := c.retry.Do(rctx, func(ctx context.Context) error {
		var err error
		reply, err = c.api.Chat(ctx, req)
		return err
	}, func(int, error) {
		c.mu.Lock()
		c.retrying = true
		c.mu.Unlock()
	})
	if c.abandoned(generation) {
		log.Debug().Str("character", c.bot.Name).Msg("Dropping reply for abandoned conversation")
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Debug().Msg("Chat request cancelled")
			c.mu.Lock()
			c.status = StatusIdle
			c.mu.Unlock()
			return err
		}
		log.Error().Err(err).Str("character", c.bot.Name).Msg("Chat request failed")
		return c.fail(&Error{Message: MsgNoResponse, Err: errors.Join(ErrNoResponse, err)})
	}

	assistant := Message{Sender: SenderAssistant, Text: reply.Reply, AudioFileURL: reply.AudioFileURL}
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return nil
	}
	c.appendLocked(assistant)
	c.status = StatusIdle
	// History is written and cleared only under c.mu.
	saveHistory(ctx, c.storage, c.bot.Name, c.messages)
	session := c.session
	c.mu.Unlock()

	if fromUser {
		c.logTurn(ctx, session, user)
	}
	c.logTurn(ctx, session, assistant)

	c.playReply(ctx, generation, assistant, req.VoiceConfig)
	return nil
}

// abandoned reports whether BackToCharacterCreation ran since generation
// was taken.
func (c *Controller) abandoned(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != generation
}

func (c *Controller) ensureSession(ctx context.Context) {
	c.mu.Lock()
	ok := c.session.ID != ""
	c.mu.Unlock()
	if ok {
		return
	}

	session := c.sessions.Current(ctx)
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// resolveVoice prefers the persisted config over the persona's own.
func (c *Controller) resolveVoice(ctx context.Context) *voice.Config {
	if cfg := c.voices.Load(ctx, c.bot.Name); cfg != nil {
		return cfg
	}
	if c.bot.HasVoice() {
		return c.bot.VoiceConfig.Clone()
	}
	return nil
}

func (c *Controller) fail(err *Error) error {
	c.mu.Lock()
	c.errMsg = err.Message
	c.status = StatusError
	c.mu.Unlock()
	return err
}

func (c *Controller) appendLocked(m Message) {
	c.messages = append(c.messages, m)
	c.visibleCount++
	if !c.scrolledUp && c.onScroll != nil {
		c.onScroll()
	}
}

func (c *Controller) logTurn(ctx context.Context, session persona.Session, m Message) {
	entry := api.LogEntry{
		Sender:          string(m.Sender),
		Text:            m.Text,
		SessionID:       session.ID,
		SessionDatetime: session.Datetime,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logTimeout)
	go func() {
		defer cancel()
		if err := c.api.LogMessage(ctx, entry); err != nil {
			log.Debug().Err(err).Msg("Failed to log message")
		}
	}()
}

// playReply plays the reply's audio, synthesising it locally when the
// API returned none. Failures are logged and never reach the user.
func (c *Controller) playReply(ctx context.Context, generation uint64, m Message, cfg *voice.Config) {
	if c.player == nil || !c.prefs.AudioEnabled(ctx) {
		return
	}

	actx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancelAudioLocked()
	c.audioCancel = cancel
	c.mu.Unlock()

	source := m.AudioFileURL
	temp := false
	if source == "" {
		if c.synth == nil {
			return
		}
		path, err := c.synth.Synthesize(actx, StripContinuation(m.Text), cfg)
		if err != nil {
			if !audio.IsAbort(err) {
				log.Warn().Err(err).Msg("Failed to synthesize reply")
			}
			return
		}
		source, temp = path, true
	}

	h, err := c.player.PlayAudio(actx, source)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("Failed to play reply audio")
	}
	if temp {
		if h == nil {
			_ = os.Remove(source)
			return
		}
		go func() {
			<-h.Done()
			_ = os.Remove(source)
		}()
	}
}

func (c *Controller) cancelAudioLocked() {
	if c.audioCancel != nil {
		c.audioCancel()
		c.audioCancel = nil
	}
}

// StopAudio stops any reply playback.
func (c *Controller) StopAudio() {
	c.mu.Lock()
	c.cancelAudioLocked()
	c.mu.Unlock()
	if c.player != nil {
		c.player.StopAudio()
	}
}

// AudioEnabled reports the stored audio preference.
func (c *Controller) AudioEnabled(ctx context.Context) bool {
	return c.prefs.AudioEnabled(ctx)
}

// SetAudioEnabled stores the audio preference, stopping playback when
// turned off.
func (c *Controller) SetAudioEnabled(ctx context.Context, enabled bool) {
	c.prefs.SetAudioEnabled(ctx, enabled)
	if !enabled {
		c.StopAudio()
	}
	if c.player != nil {
		c.player.SetEnabled(enabled)
	}
}

// Messages returns a copy of the whole transcript.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// VisibleMessages returns the most recent messages inside the window.
func (c *Controller) VisibleMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := len(c.messages) - c.visibleCount
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), c.messages[start:]...)
}

// HasOlder reports whether messages are hidden above the window.
func (c *Controller) HasOlder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) > c.visibleCount
}

// ShowOlder reveals up to n more messages above the window.
func (c *Controller) ShowOlder(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 {
		return
	}
	c.visibleCount = min(c.visibleCount+n, max(len(c.messages), c.visibleCount))
}

// ScrolledUp records whether the user moved away from the bottom of the
// transcript. While set, new messages do not auto-scroll.
func (c *Controller) ScrolledUp(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scrolledUp = up
}

func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Controller) Retrying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retrying
}

// Error returns the message to show the user, or "".
func (c *Controller) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// InputEnabled reports whether the user can send.
func (c *Controller) InputEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unavailable && !c.voiceMissing && !c.loading
}

// FocusInput forwards input focus to the viewport adapter.
func (c *Controller) FocusInput() {
	if c.viewport != nil {
		c.viewport.Focus()
	}
}

// BlurInput forwards input blur to the viewport adapter.
func (c *Controller) BlurInput() {
	if c.viewport != nil {
		c.viewport.Blur()
	}
}

// ResizeViewport forwards a visible height change.
func (c *Controller) ResizeViewport(height int) {
	if c.viewport != nil {
		c.viewport.Resize(height)
	}
}

// Layout returns the viewport layout.
func (c *Controller) Layout() viewport.Layout {
	if c.viewport == nil {
		return viewport.Layout{}
	}
	return c.viewport.Layout()
}

// BackToCharacterCreation stops audio, forgets the persona and its
// transcript, and calls the navigate callback.
func (c *Controller) BackToCharacterCreation(ctx context.Context) {
	c.mu.Lock()
	c.generation++
	if c.reqCancel != nil {
		c.reqCancel()
		c.reqCancel = nil
	}
	clearHistory(ctx, c.storage, c.bot.Name)
	c.messages = nil
	c.visibleCount = DefaultVisibleCount
	c.errMsg = ""
	c.status = StatusIdle
	c.mu.Unlock()

	c.StopAudio()
	c.bots.Clear(ctx)

	log.Info().Str("character", c.bot.Name).Msg("Returning to character creation")
	if c.onNavigate != nil {
		c.onNavigate()
	}
}

// Close stops audio and releases the viewport adapter.
func (c *Controller) Close() {
	c.StopAudio()
	if c.viewport != nil {
		c.viewport.Close()
	}
}
