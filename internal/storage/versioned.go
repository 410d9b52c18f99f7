package storage

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// LegacyVersion is the version assigned to values written without an envelope.
const LegacyVersion = 0

// Envelope is the stored shape of a versioned value.
type Envelope struct {
	V         int             `json:"v"`
	CreatedAt int64           `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Transform upgrades a payload stored at fromVersion. The returned value is
// marshalled as the new payload.
type Transform func(payload json.RawMessage, fromVersion int) (any, error)

// parseStored splits a raw stored value into its payload and version.
// Values that are valid JSON but not an envelope are legacy payloads.
func parseStored(raw string) (payload json.RawMessage, version int, ok bool) {
	if !json.Valid([]byte(raw)) {
		return nil, 0, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err == nil {
		v, hasV := fields["v"]
		p, hasPayload := fields["payload"]
		if hasV && hasPayload {
			if err := json.Unmarshal(v, &version); err != nil {
				return nil, 0, false
			}
			return p, version, true
		}
	}

	return json.RawMessage(raw), LegacyVersion, true
}

// SetVersionedJSON stores payload wrapped in an envelope tagged with version.
func (s *Store) SetVersionedJSON(ctx context.Context, key string, payload any, version int) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal versioned payload")
		return
	}

	envelope, err := json.Marshal(Envelope{
		V:         version,
		CreatedAt: s.now().UnixMilli(),
		Payload:   data,
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal envelope")
		return
	}

	s.Set(ctx, key, string(envelope))
}

// GetVersionedJSON decodes the payload stored under key into out.
//
// When the stored version differs from version the transform is applied and
// the upgraded value rewritten; without a transform the value is treated as
// absent. It returns false whenever out was not filled.
func (s *Store) GetVersionedJSON(ctx context.Context, key string, version int, out any, transform Transform) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}

	payload, from, ok := parseStored(raw)
	if !ok {
		log.Debug().Str("key", key).Msg("Stored value is not JSON, treating as absent")
		return false
	}

	if from == version {
		if err := json.Unmarshal(payload, out); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to decode versioned payload")
			return false
		}
		return true
	}

	if transform == nil {
		log.Debug().
			Str("key", key).
			Int("stored", from).
			Int("expected", version).
			Msg("Version mismatch without transform, treating as absent")
		return false
	}

	upgraded, err := transform(payload, from)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("Failed to transform versioned payload")
		return false
	}

	data, err := json.Marshal(upgraded)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}

	s.SetVersionedJSON(ctx, key, json.RawMessage(data), version)
	log.Debug().Str("key", key).Int("from", from).Int("to", version).Msg("Migrated versioned value")
	return true
}

// GetVersioned is the generic form of GetVersionedJSON.
func GetVersioned[T any](ctx context.Context, s *Store, key string, version int, transform Transform) (T, bool) {
	var out T
	if !s.GetVersionedJSON(ctx, key, version, &out, transform) {
		var zero T
		return zero, false
	}
	return out, true
}

// MigrateToVersioned rewrites the value under key as an envelope of
// targetVersion. A nil transform wraps legacy payloads unchanged. It reports
// whether the stored value was rewritten.
func (s *Store) MigrateToVersioned(ctx context.Context, key string, targetVersion int, transform Transform) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}

	payload, from, ok := parseStored(raw)
	if !ok || from == targetVersion {
		return false
	}

	var upgraded any = payload
	if transform != nil {
		var err error
		upgraded, err = transform(payload, from)
		if err != nil {
			log.Debug().Err(err).Str("key", key).Msg("Failed to migrate value")
			return false
		}
	} else if from != LegacyVersion {
		// Versioned values need an explicit transform
		return false
	}

	s.SetVersionedJSON(ctx, key, upgraded, targetVersion)
	return true
}
