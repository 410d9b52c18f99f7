package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daikw/personachat/internal/api"
	"github.com/daikw/personachat/internal/audio"
	"github.com/daikw/personachat/internal/persona"
	"github.com/daikw/personachat/internal/storage"
	"github.com/daikw/personachat/internal/viewport"
	"github.com/daikw/personachat/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatResult struct {
	reply *api.ChatReply
	err   error
}

type fakeAPI struct {
	mu        sync.Mutex
	healthErr error
	results   []chatResult
	requests  []api.ChatRequest
	logs      []api.LogEntry

	// Request number blockAt signals entered and then waits for release,
	// ignoring its context like a server that answers late.
	blockAt int
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAPI) Health(context.Context) error {
	return f.healthErr
}

func (f *fakeAPI) Chat(_ context.Context, req api.ChatRequest) (*api.ChatReply, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if len(f.requests) == f.blockAt {
		f.mu.Unlock()
		close(f.entered)
		<-f.release
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return &api.ChatReply{Reply: fmt.Sprintf("reply %d", len(f.requests))}, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return r.reply, r.err
}

func (f *fakeAPI) LogMessage(_ context.Context, entry api.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeAPI) chatRequests() []api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ChatRequest(nil), f.requests...)
}

func (f *fakeAPI) logEntries() []api.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.LogEntry(nil), f.logs...)
}

func replies(texts ...string) []chatResult {
	out := make([]chatResult, 0, len(texts))
	for _, text := range texts {
		out = append(out, chatResult{reply: &api.ChatReply{Reply: text}})
	}
	return out
}

func failures(n int) []chatResult {
	out := make([]chatResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, chatResult{err: &api.StatusError{Endpoint: api.PathChat, StatusCode: http.StatusBadGateway}})
	}
	return out
}

type fakeHandle struct {
	source string
	done   chan struct{}
}

func (h *fakeHandle) Source() string        { return h.source }
func (h *fakeHandle) Start() error          { return nil }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Stop()                 {}

type fakePlayer struct {
	mu      sync.Mutex
	sources []string
	ctxs    []context.Context
	stops   int
	enabled []bool
}

func (p *fakePlayer) PlayAudio(ctx context.Context, source string) (audio.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, source)
	p.ctxs = append(p.ctxs, ctx)
	return &fakeHandle{source: source, done: make(chan struct{})}, nil
}

func (p *fakePlayer) StopAudio() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *fakePlayer) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = append(p.enabled, enabled)
}

func (p *fakePlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sources...)
}

type fakeSynth struct {
	texts []string
}

func (s *fakeSynth) Synthesize(_ context.Context, text string, _ *voice.Config) (string, error) {
	s.texts = append(s.texts, text)
	return "/tmp/does-not-exist/synth.mp3", nil
}

type fakeClassifier struct {
	affirmative bool
	err         error
	calls       int
}

func (f *fakeClassifier) ClassifyIntent(context.Context, string, string) (bool, error) {
	f.calls++
	return f.affirmative, f.err
}

func testVoice() *voice.Config {
	return &voice.Config{
		LanguageCodes: []string{"en-GB"},
		Name:          "en-GB-Neural2-A",
		SsmlGender:    voice.GenderFemale,
	}
}

func testBot() *persona.Bot {
	return &persona.Bot{
		Name:        "Ada Lovelace",
		Personality: "You are Ada Lovelace.",
		AvatarURL:   "https://cdn.example/ada.png",
		VoiceConfig: testVoice(),
	}
}

func noWait() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newController(t *testing.T, client *fakeAPI, bot *persona.Bot, opts ...Option) (*Controller, *storage.Store) {
	t.Helper()
	s := storage.NewMemoryStore()
	opts = append([]Option{WithRetryPolicy(noWait())}, opts...)
	return New(client, bot, s, opts...), s
}

func TestStartRequestsIntro(t *testing.T) {
	client := &fakeAPI{results: replies("Good day, I am Ada.")}
	c, _ := newController(t, client, testBot())

	require.NoError(t, c.Start(context.Background()))

	reqs := client.chatRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, api.ModeIntro, reqs[0].Mode)
	assert.Empty(t, reqs[0].Message)
	assert.Empty(t, reqs[0].History)
	assert.NotEmpty(t, reqs[0].SessionID)
	assert.NotEmpty(t, reqs[0].SessionDatetime)
	assert.Equal(t, testVoice(), reqs[0].VoiceConfig)

	assert.Equal(t, []Message{{Sender: SenderAssistant, Text: "Good day, I am Ada."}}, c.Messages())
	assert.Equal(t, StatusIdle, c.Status())
	assert.True(t, c.InputEnabled())
}

func TestStartHealthFailure(t *testing.T) {
	client := &fakeAPI{healthErr: &api.StatusError{Endpoint: api.PathHealth, StatusCode: http.StatusServiceUnavailable}}
	c, _ := newController(t, client, testBot())

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, api.MsgUnavailable, c.Error())
	assert.False(t, c.InputEnabled())

	err = c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, client.chatRequests())
}

func TestMissingVoiceBlocksSend(t *testing.T) {
	bot := testBot()
	bot.VoiceConfig = nil
	client := &fakeAPI{}
	c, _ := newController(t, client, bot)

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrVoiceMissing)
	assert.False(t, c.InputEnabled())

	err = c.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVoiceMissing)
	assert.Contains(t, strings.ToLower(c.Error()), "voice configuration missing for this character")
	assert.Equal(t, StatusError, c.Status())
	assert.Empty(t, client.chatRequests())
	assert.False(t, c.Loading())
}

func TestPersistedVoiceTakesPrecedence(t *testing.T) {
	bot := testBot()
	bot.VoiceConfig = nil
	client := &fakeAPI{}
	c, s := newController(t, client, bot)

	persisted := testVoice()
	persisted.Name = "en-GB-Neural2-C"
	voice.NewStore(s).Persist(context.Background(), bot.Name, persisted)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send(context.Background(), "hello"))

	reqs := client.chatRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "en-GB-Neural2-C", reqs[1].VoiceConfig.Name)
}

func TestRequestVoiceIsCopied(t *testing.T) {
	bot := testBot()
	client := &fakeAPI{}
	c, _ := newController(t, client, bot)

	require.NoError(t, c.Start(context.Background()))

	reqs := client.chatRequests()
	require.Len(t, reqs, 1)
	assert.NotSame(t, bot.VoiceConfig, reqs[0].VoiceConfig)
	reqs[0].VoiceConfig.LanguageCodes[0] = "fr-FR"
	assert.Equal(t, "en-GB", bot.VoiceConfig.LanguageCodes[0])
}

func TestSendRetryExhaustion(t *testing.T) {
	client := &fakeAPI{results: append(replies("Hello."), failures(3)...)}
	c, _ := newController(t, client, testBot())
	require.NoError(t, c.Start(context.Background()))

	err := c.Send(context.Background(), "Tell me about engines")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResponse)

	// 1 intro + 3 attempts
	assert.Len(t, client.chatRequests(), 4)
	assert.Equal(t, []Message{
		{Sender: SenderAssistant, Text: "Hello."},
		{Sender: SenderUser, Text: "Tell me about engines"},
	}, c.Messages())
	assert.Equal(t, MsgNoResponse, c.Error())
	assert.Equal(t, StatusError, c.Status())
	assert.False(t, c.Loading())
	assert.False(t, c.Retrying())
}

func TestSendRetryRecovery(t *testing.T) {
	client := &fakeAPI{results: append(replies("Hello."), failures(2)...)}
	client.results = append(client.results, replies("The Analytical Engine.")...)

	var c *Controller
	var retryingSeen []bool
	var waits []time.Duration
	policy := DefaultRetryPolicy()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		retryingSeen = append(retryingSeen, c.Retrying())
		return nil
	}
	c, _ = newController(t, client, testBot(), WithRetryPolicy(policy))
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Send(context.Background(), "Tell me about engines"))

	reqs := client.chatRequests()
	require.Len(t, reqs, 4)
	for _, req := range reqs[1:] {
		assert.Equal(t, "Tell me about engines", req.Message)
		assert.Equal(t, []api.Turn{{Sender: "assistant", Text: "Hello."}}, req.History)
	}

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Sender: SenderAssistant, Text: "The Analytical Engine."}, msgs[2])
	assert.Equal(t, []bool{true, true}, retryingSeen)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
	assert.False(t, c.Retrying())
	assert.Empty(t, c.Error())
	assert.Equal(t, StatusIdle, c.Status())
}

func TestSendCancelled(t *testing.T) {
	client := &fakeAPI{results: append(replies("Hello."), failures(3)...)}
	policy := DefaultRetryPolicy()
	ctx, cancel := context.WithCancel(context.Background())
	policy.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	c, _ := newController(t, client, testBot(), WithRetryPolicy(policy))
	require.NoError(t, c.Start(context.Background()))

	err := c.Send(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.Error())
	assert.Equal(t, StatusIdle, c.Status())
	assert.False(t, c.Loading())
}

func TestSendIgnoresBlankInput(t *testing.T) {
	client := &fakeAPI{}
	c, _ := newController(t, client, testBot())
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Send(context.Background(), "   "))
	assert.Len(t, client.chatRequests(), 1)
	assert.Len(t, c.Messages(), 1)
}

func TestSendClearsInput(t *testing.T) {
	client := &fakeAPI{}
	c, _ := newController(t, client, testBot())
	require.NoError(t, c.Start(context.Background()))

	c.SetInput("  hi there ")
	require.NoError(t, c.SendMessage(context.Background()))

	assert.Empty(t, c.Input())
	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Sender: SenderUser, Text: "hi there"}, msgs[1])
}

func TestContinuation(t *testing.T) {
	long := "It began in 1833 when I met Mr Babbage. " + ContinuationMarker

	tests := []struct {
		name       string
		classifier *fakeClassifier
		message    string
		wantMode   string
	}{
		{"affirmative", nil, "yes please", api.ModeContinue},
		{"new instruction", nil, "What did you think of Byron?", ""},
		{"classifier agrees", &fakeClassifier{affirmative: true}, "hmm alright", api.ModeContinue},
		{"classifier disagrees", &fakeClassifier{affirmative: false}, "yes", ""},
		{"classifier fails", &fakeClassifier{err: errors.New("down")}, "go on", api.ModeContinue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeAPI{results: replies(long, "And then...")}
			var opts []Option
			if tt.classifier != nil {
				opts = append(opts, WithClassifier(tt.classifier))
			}
			c, _ := newController(t, client, testBot(), opts...)
			require.NoError(t, c.Start(context.Background()))

			require.NoError(t, c.Send(context.Background(), tt.message))

			reqs := client.chatRequests()
			require.Len(t, reqs, 2)
			assert.Equal(t, tt.wantMode, reqs[1].Mode)
			assert.Equal(t, tt.message, reqs[1].Message)
			if tt.classifier != nil {
				assert.Equal(t, 1, tt.classifier.calls)
			}

			msgs := c.Messages()
			assert.Equal(t, "It began in 1833 when I met Mr Babbage.", msgs[0].Text)
		})
	}
}

func TestNoContinuationWithoutMarker(t *testing.T) {
	client := &fakeAPI{results: replies("Hello.")}
	classifier := &fakeClassifier{affirmative: true}
	c, _ := newController(t, client, testBot(), WithClassifier(classifier))
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Send(context.Background(), "yes"))

	assert.Empty(t, client.chatRequests()[1].Mode)
	assert.Equal(t, 0, classifier.calls)
}

func TestHistoryRestored(t *testing.T) {
	s := storage.NewMemoryStore()
	bot := testBot()

	first := &fakeAPI{results: replies("Hello.", "Engines!")}
	c := New(first, bot, s, WithRetryPolicy(noWait()))
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send(context.Background(), "Engines?"))

	second := &fakeAPI{}
	restored := New(second, bot, s, WithRetryPolicy(noWait()))
	require.NoError(t, restored.Start(context.Background()))

	assert.Equal(t, c.Messages(), restored.Messages())
	assert.Empty(t, second.chatRequests())
	assert.Equal(t, c.Session(), restored.Session())
}

func TestLogsBothTurns(t *testing.T) {
	client := &fakeAPI{}
	c, _ := newController(t, client, testBot())
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send(context.Background(), "hello"))

	assert.Eventually(t, func() bool { return len(client.logEntries()) == 3 }, time.Second, 5*time.Millisecond)

	session := c.Session()
	var senders []string
	for _, entry := range client.logEntries() {
		assert.Equal(t, session.ID, entry.SessionID)
		senders = append(senders, entry.Sender)
	}
	assert.ElementsMatch(t, []string{"assistant", "user", "assistant"}, senders)
}

func TestReplyAudio(t *testing.T) {
	client := &fakeAPI{results: []chatResult{
		{reply: &api.ChatReply{Reply: "Hello.", AudioFileURL: "https://cdn.example/1.mp3"}},
		{reply: &api.ChatReply{Reply: "Again.", AudioFileURL: "https://cdn.example/2.mp3"}},
	}}
	player := &fakePlayer{}
	c, _ := newController(t, client, testBot(), WithAudio(player))

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Send(context.Background(), "hi"))

	assert.Equal(t, []string{"https://cdn.example/1.mp3", "https://cdn.example/2.mp3"}, player.sources)
	// A new send cancels the previous clip's context
	assert.ErrorIs(t, player.ctxs[0].Err(), context.Canceled)
	assert.NoError(t, player.ctxs[1].Err())
}

func TestReplyAudioDisabled(t *testing.T) {
	client := &fakeAPI{results: []chatResult{
		{reply: &api.ChatReply{Reply: "Hello.", AudioFileURL: "https://cdn.example/1.mp3"}},
	}}
	player := &fakePlayer{}
	c, s := newController(t, client, testBot(), WithAudio(player))
	persona.NewPreferences(s, true).SetAudioEnabled(context.Background(), false)

	require.NoError(t, c.Start(context.Background()))

	assert.False(t, c.AudioEnabled(context.Background()))
	assert.Empty(t, player.sources)
	assert.Equal(t, []bool{false}, player.enabled)
}

func TestSetAudioEnabled(t *testing.T) {
	ctx := context.Background()
	client := &fakeAPI{}
	player := &fakePlayer{}
	c, s := newController(t, client, testBot(), WithAudio(player))
	require.NoError(t, c.Start(ctx))

	c.SetAudioEnabled(ctx, false)

	assert.Equal(t, []bool{true, false}, player.enabled)
	assert.Equal(t, 1, player.stops)
	assert.False(t, persona.NewPreferences(s, true).AudioEnabled(ctx))

	c.SetAudioEnabled(ctx, true)

	assert.Equal(t, []bool{true, false, true}, player.enabled)
	assert.True(t, c.AudioEnabled(ctx))
}

func TestReplyAudioSynthesized(t *testing.T) {
	client := &fakeAPI{results: replies("**Hello** there. " + ContinuationMarker)}
	player := &fakePlayer{}
	synth := &fakeSynth{}
	c, _ := newController(t, client, testBot(), WithAudio(player), WithSynthesizer(synth))

	require.NoError(t, c.Start(context.Background()))

	// Markdown is left for the synthesizer to strip.
	assert.Equal(t, []string{"**Hello** there."}, synth.texts)
	assert.Equal(t, []string{"/tmp/does-not-exist/synth.mp3"}, player.sources)
}

func TestBackToCharacterCreation(t *testing.T) {
	ctx := context.Background()
	client := &fakeAPI{}
	player := &fakePlayer{}
	navigated := false
	bot := testBot()
	c, s := newController(t, client, bot, WithAudio(player), WithNavigate(func() { navigated = true }))

	bots := persona.NewStore(s)
	bots.Save(ctx, bot)
	require.NoError(t, c.Start(ctx))
	_, ok := s.Get(ctx, HistoryKey(bot.Name))
	require.True(t, ok)

	c.BackToCharacterCreation(ctx)

	assert.True(t, navigated)
	assert.Equal(t, 1, player.stops)
	assert.Nil(t, bots.Load(ctx))
	_, ok = s.Get(ctx, persona.KeyBotTimestamp)
	assert.False(t, ok)
	_, ok = s.Get(ctx, HistoryKey(bot.Name))
	assert.False(t, ok)
	assert.Empty(t, c.Messages())
}

func TestBackToCharacterCreationDropsLateReply(t *testing.T) {
	ctx := context.Background()
	client := &fakeAPI{
		results: []chatResult{
			{reply: &api.ChatReply{Reply: "Hello.", AudioFileURL: "https://cdn.example/1.mp3"}},
			{reply: &api.ChatReply{Reply: "Too late.", AudioFileURL: "https://cdn.example/2.mp3"}},
		},
		blockAt: 2,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	player := &fakePlayer{}
	bot := testBot()
	c, s := newController(t, client, bot, WithAudio(player))
	require.NoError(t, c.Start(ctx))

	done := make(chan error, 1)
	go func() {
		done <- c.Send(ctx, "tell me about engines")
	}()
	<-client.entered

	c.BackToCharacterCreation(ctx)
	close(client.release)
	require.NoError(t, <-done)

	assert.Empty(t, c.Messages())
	assert.Empty(t, c.Error())
	_, ok := s.Get(ctx, HistoryKey(bot.Name))
	assert.False(t, ok)
	assert.Equal(t, []string{"https://cdn.example/1.mp3"}, player.played())
	assert.Never(t, func() bool {
		for _, e := range client.logEntries() {
			if e.Text == "Too late." {
				return true
			}
		}
		return false
	}, 50*time.Millisecond, 10*time.Millisecond)
}

func TestTranscriptWindow(t *testing.T) {
	ctx := context.Background()
	bot := testBot()
	s := storage.NewMemoryStore()

	var history []Message
	for i := 0; i < 60; i++ {
		history = append(history, Message{Sender: SenderAssistant, Text: fmt.Sprintf("m%d", i)})
	}
	saveHistory(ctx, s, bot.Name, history)

	scrolls := 0
	c := New(&fakeAPI{}, bot, s, WithRetryPolicy(noWait()), WithScrollHandler(func() { scrolls++ }))
	require.NoError(t, c.Start(ctx))

	visible := c.VisibleMessages()
	require.Len(t, visible, DefaultVisibleCount)
	assert.Equal(t, "m10", visible[0].Text)
	assert.True(t, c.HasOlder())

	c.ShowOlder(5)
	assert.Len(t, c.VisibleMessages(), 55)

	// Appends grow the window instead of pushing messages out
	require.NoError(t, c.Send(ctx, "hi"))
	assert.Len(t, c.VisibleMessages(), 57)
	assert.Equal(t, 2, scrolls)

	c.ScrolledUp(true)
	require.NoError(t, c.Send(ctx, "again"))
	assert.Equal(t, 2, scrolls)

	c.ShowOlder(100)
	assert.Len(t, c.VisibleMessages(), 64)
	assert.False(t, c.HasOlder())
}

type recordingAdapter struct {
	focus, blur int
	heights     []int
	closed      bool
}

func (a *recordingAdapter) Resize(h int) { a.heights = append(a.heights, h) }
func (a *recordingAdapter) Focus()       { a.focus++ }
func (a *recordingAdapter) Blur()        { a.blur++ }
func (a *recordingAdapter) Close()       { a.closed = true }

func (a *recordingAdapter) Layout() viewport.Layout {
	return viewport.Layout{KeyboardOpen: a.focus > a.blur}
}

func TestViewportForwarding(t *testing.T) {
	adapter := &recordingAdapter{}
	c, _ := newController(t, &fakeAPI{}, testBot(), WithViewport(adapter))

	c.FocusInput()
	assert.True(t, c.Layout().KeyboardOpen)
	c.ResizeViewport(480)
	c.BlurInput()
	assert.False(t, c.Layout().KeyboardOpen)
	c.Close()

	assert.Equal(t, []int{480}, adapter.heights)
	assert.True(t, adapter.closed)
}
