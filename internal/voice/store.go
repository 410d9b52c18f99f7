package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/daikw/personachat/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	// KeyPrefix prefixes every persisted voice config key.
	KeyPrefix = "voiceConfig-"

	// ConfigVersion is the current envelope version of persisted configs.
	ConfigVersion = 1
)

// Key returns the storage key for a character.
func Key(characterName string) string {
	return KeyPrefix + characterName
}

// Store persists voice configs per character name.
type Store struct {
	storage *storage.Store
}

// NewStore creates a voice config store on top of s.
func NewStore(s *storage.Store) *Store {
	return &Store{storage: s}
}

// Load returns the persisted config for characterName, or nil when absent,
// unreadable or invalid. Older formats are upgraded in place.
func (s *Store) Load(ctx context.Context, characterName string) *Config {
	cfg, ok := storage.GetVersioned[Config](ctx, s.storage, Key(characterName), ConfigVersion, upgradeConfig)
	if !ok {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		log.Debug().Err(err).Str("character", characterName).Msg("Ignoring persisted voice config")
		return nil
	}
	return &cfg
}

// Persist stores cfg for characterName. It never fails; a nil config is ignored.
func (s *Store) Persist(ctx context.Context, characterName string, cfg *Config) {
	if cfg == nil {
		return
	}
	s.storage.SetVersionedJSON(ctx, Key(characterName), cfg, ConfigVersion)
	log.Debug().Str("character", characterName).Str("voice", cfg.Name).Msg("Persisted voice config")
}

// Remove deletes the persisted config for characterName.
func (s *Store) Remove(ctx context.Context, characterName string) {
	s.storage.Remove(ctx, Key(characterName))
}

// LegacyRules returns the startup migration rule for voice config keys.
func LegacyRules() []storage.LegacyRule {
	return []storage.LegacyRule{{
		Prefix:    KeyPrefix,
		Version:   ConfigVersion,
		Transform: upgradeConfig,
	}}
}

// legacyConfig is the pre-envelope shape with a single language code.
type legacyConfig struct {
	LanguageCode  string   `json:"languageCode"`
	LanguageCodes []string `json:"languageCodes"`
	Name          string   `json:"name"`
	SsmlGender    string   `json:"ssmlGender"`
	Pitch         float64  `json:"pitch"`
	SpeakingRate  float64  `json:"speakingRate"`
	Type          string   `json:"type"`
}

// upgradeConfig converts version 0 payloads to the current Config.
func upgradeConfig(payload json.RawMessage, fromVersion int) (any, error) {
	if fromVersion != storage.LegacyVersion {
		return nil, fmt.Errorf("no upgrade path from voice config version %d", fromVersion)
	}

	var old legacyConfig
	if err := json.Unmarshal(payload, &old); err != nil {
		return nil, fmt.Errorf("failed to parse legacy voice config: %w", err)
	}

	cfg := Config{
		LanguageCodes: old.LanguageCodes,
		Name:          old.Name,
		SsmlGender:    strings.ToUpper(old.SsmlGender),
		Pitch:         old.Pitch,
		SpeakingRate:  old.SpeakingRate,
		Type:          old.Type,
	}
	if len(cfg.LanguageCodes) == 0 && old.LanguageCode != "" {
		cfg.LanguageCodes = []string{old.LanguageCode}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
