package persona

import (
	"context"
	"testing"
	"time"

	"github.com/daikw/personachat/internal/storage"
	"github.com/daikw/personachat/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBot() *Bot {
	return &Bot{
		Name:        "Ada Lovelace",
		Personality: "You are Ada Lovelace.",
		AvatarURL:   "https://cdn.example/ada.png",
		VoiceConfig: &voice.Config{
			LanguageCodes: []string{"en-GB"},
			Name:          "en-GB-Neural2-A",
			SsmlGender:    voice.GenderFemale,
		},
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	s := NewStore(storage.NewMemoryStore(), WithNow(clock.Now))

	assert.Nil(t, s.Load(ctx))

	s.Save(ctx, testBot())
	got := s.Load(ctx)
	require.NotNil(t, got)
	assert.Equal(t, testBot(), got)
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	saved := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{name: "fresh", elapsed: time.Minute, want: true},
		{name: "just before expiry", elapsed: DefaultMaxAge - time.Millisecond, want: true},
		{name: "exactly at expiry", elapsed: DefaultMaxAge, want: true},
		{name: "just after expiry", elapsed: DefaultMaxAge + time.Millisecond, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backing := storage.NewMemoryStore()
			clock := &fakeClock{t: saved}
			s := NewStore(backing, WithNow(clock.Now))
			s.Save(ctx, testBot())

			clock.t = saved.Add(tt.elapsed)
			got := s.Load(ctx)
			assert.Equal(t, tt.want, got != nil)

			_, hasBot := backing.Get(ctx, KeyBot)
			_, hasTimestamp := backing.Get(ctx, KeyBotTimestamp)
			assert.Equal(t, tt.want, hasBot)
			assert.Equal(t, tt.want, hasTimestamp)
		})
	}
}

func TestStoreDiscardsBadRecords(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		bot       string
		timestamp string
	}{
		{name: "missing personality", bot: `{"name":"Ada"}`, timestamp: "1700000000000"},
		{name: "missing name", bot: `{"personality":"x"}`, timestamp: "1700000000000"},
		{name: "unreadable", bot: `{`, timestamp: "1700000000000"},
		{name: "missing timestamp", bot: `{"name":"Ada","personality":"x"}`},
		{name: "bad timestamp", bot: `{"name":"Ada","personality":"x"}`, timestamp: "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backing := storage.NewMemoryStore()
			backing.Set(ctx, KeyBot, tt.bot)
			if tt.timestamp != "" {
				backing.Set(ctx, KeyBotTimestamp, tt.timestamp)
			}

			s := NewStore(backing, WithNow(func() time.Time { return time.UnixMilli(1_700_000_000_000) }))
			assert.Nil(t, s.Load(ctx))
			assert.Empty(t, backing.Keys(ctx))
		})
	}
}

func TestStoreBotWithoutVoice(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemoryStore())

	bot := testBot()
	bot.VoiceConfig = nil
	s.Save(ctx, bot)

	got := s.Load(ctx)
	require.NotNil(t, got)
	assert.False(t, got.HasVoice())
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()
	s := NewStore(backing)
	s.Save(ctx, testBot())

	s.Clear(ctx)
	assert.Nil(t, s.Load(ctx))
	assert.Empty(t, backing.Keys(ctx))
}

func TestSessionManager(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()

	sm := NewSessionManager(backing)
	sm.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	first := sm.Current(ctx)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "2024-05-01T12:00:00Z", first.Datetime)

	t.Run("reuses stored session", func(t *testing.T) {
		again := NewSessionManager(backing).Current(ctx)
		assert.Equal(t, first, again)
	})

	t.Run("reset starts a new one", func(t *testing.T) {
		sm.Reset(ctx)
		next := sm.Current(ctx)
		assert.NotEqual(t, first.ID, next.ID)
	})
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemoryStore()

	p := NewPreferences(backing, true)
	assert.True(t, p.AudioEnabled(ctx))
	assert.False(t, p.DarkMode(ctx))

	p.SetAudioEnabled(ctx, false)
	p.SetDarkMode(ctx, true)
	assert.False(t, p.AudioEnabled(ctx))
	assert.True(t, p.DarkMode(ctx))

	backing.Set(ctx, KeyAudioEnabled, "garbage")
	assert.True(t, p.AudioEnabled(ctx))

	assert.False(t, NewPreferences(storage.NewMemoryStore(), false).AudioEnabled(ctx))
}
