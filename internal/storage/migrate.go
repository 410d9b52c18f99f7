package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// LegacyRule upgrades every key starting with Prefix to Version.
type LegacyRule struct {
	Prefix    string
	Version   int
	Transform Transform
}

// MigrateLegacy scans all keys once and upgrades those matching a rule.
// A key that fails to migrate is skipped so it cannot block startup.
// It returns the number of keys rewritten.
func (s *Store) MigrateLegacy(ctx context.Context, rules []LegacyRule) int {
	migrated := 0
	for _, key := range s.Keys(ctx) {
		for _, rule := range rules {
			if !strings.HasPrefix(key, rule.Prefix) {
				continue
			}
			ok, err := s.migrateKey(ctx, key, rule)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Skipping key during storage migration")
			} else if ok {
				migrated++
			}
			break
		}
	}

	if migrated > 0 {
		log.Info().Int("count", migrated).Msg("Migrated legacy storage keys")
	}
	return migrated
}

func (s *Store) migrateKey(ctx context.Context, key string, rule LegacyRule) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("migration panicked: %v", r)
		}
	}()
	return s.MigrateToVersioned(ctx, key, rule.Version, rule.Transform), nil
}
