package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/daikw/personachat/internal/api"
	"github.com/daikw/personachat/internal/chat"
	"github.com/daikw/personachat/internal/config"
	"github.com/daikw/personachat/internal/storage"
	"github.com/daikw/personachat/internal/voice"
	"github.com/daikw/personachat/internal/voice/provider"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// app holds what every command needs.
type app struct {
	cfg    *config.Config
	store  *storage.Store
	client *api.Client

	// migrated counts legacy keys upgraded while opening storage.
	migrated int
}

// setup loads the configuration, applies global flags and opens storage.
// Callers must call close.
func setup(ctx context.Context, c *cli.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if u := strings.TrimSpace(c.String("api-url")); u != "" {
		cfg.APIURL = u
	}
	if kind := strings.TrimSpace(c.String("storage")); kind != "" {
		cfg.Storage.Kind = kind
	}
	if cfg.Storage.Kind == string(storage.KindSQLite) && filepath.Ext(cfg.Storage.Path) == ".json" {
		cfg.Storage.Path = strings.TrimSuffix(cfg.Storage.Path, ".json") + ".db"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		store:  openStore(cfg.Storage),
		client: api.NewClient(cfg.APIURL),
	}
	a.migrated = a.store.MigrateLegacy(ctx, legacyRules())
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close storage")
	}
}

// openStore opens the configured backend. Failing that, it falls back to
// memory so the session still works without persistence.
func openStore(sc config.StorageConfig) *storage.Store {
	backend, err := storage.NewBackend(storage.Kind(sc.Kind),
		storage.WithPath(sc.Path),
		storage.WithRedisAddr(sc.RedisAddr),
		storage.WithRedisPrefix(sc.RedisPrefix),
	)
	if err != nil {
		log.Warn().Err(err).Str("kind", sc.Kind).Msg("Failed to open storage, using memory only")
		return storage.NewMemoryStore()
	}
	log.Debug().Str("kind", sc.Kind).Msg("Opened storage")
	return storage.NewStore(backend)
}

func legacyRules() []storage.LegacyRule {
	return append(voice.LegacyRules(), chat.LegacyRules()...)
}

// newSynthesizer returns the local TTS fallback, or nil when disabled or
// unavailable.
func newSynthesizer(ctx context.Context, tts config.TTSConfig) *voice.Synthesizer {
	if tts.Provider == "" || tts.Provider == config.TTSNone {
		return nil
	}

	p, err := provider.NewFactory().CreateProvider(ctx, tts.Provider, provider.Settings{
		Region:    tts.Region,
		ProjectID: tts.ProjectID,
	})
	if err != nil {
		log.Warn().Err(err).Str("provider", tts.Provider).Msg("Failed to create TTS provider")
		return nil
	}
	if !p.IsAvailable(ctx) {
		log.Warn().Str("provider", tts.Provider).Msg("TTS provider is not available")
		return nil
	}
	return voice.NewSynthesizer(p)
}
