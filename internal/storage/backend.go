// Package storage provides the key-value persistence used by the chat client.
//
// A Backend is the raw store (memory, JSON file, sqlite or redis). Store wraps
// a Backend with an in-memory fallback and versioned JSON envelopes, and never
// reports failures to its callers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is a raw string key-value store.
type Backend interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists every key currently stored.
	Keys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Kind names a backend implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindRedis  Kind = "redis"
)

// Common backend errors
var (
	ErrInvalidConfig = errors.New("invalid storage configuration")
	ErrInvalidKind   = errors.New("invalid storage kind")
	ErrClosed        = errors.New("storage backend closed")
)

// Option configures NewBackend.
type Option func(*backendConfig)

type backendConfig struct {
	path        string
	redisClient *redis.Client
	redisAddr   string
	redisPrefix string
	redisTTL    time.Duration
}

// WithPath sets the file path for the file and sqlite backends.
func WithPath(path string) Option {
	return func(c *backendConfig) {
		c.path = path
	}
}

// WithRedisClient sets an existing redis client for the redis backend.
func WithRedisClient(client *redis.Client) Option {
	return func(c *backendConfig) {
		c.redisClient = client
	}
}

// WithRedisAddr makes the redis backend dial addr when no client is supplied.
func WithRedisAddr(addr string) Option {
	return func(c *backendConfig) {
		c.redisAddr = addr
	}
}

// WithRedisPrefix namespaces every redis key.
func WithRedisPrefix(prefix string) Option {
	return func(c *backendConfig) {
		c.redisPrefix = prefix
	}
}

// WithRedisTTL expires redis keys after ttl. Zero keeps keys forever.
func WithRedisTTL(ttl time.Duration) Option {
	return func(c *backendConfig) {
		c.redisTTL = ttl
	}
}

// NewBackend creates a backend of the given kind.
// The file and sqlite kinds require WithPath; redis requires WithRedisClient
// or WithRedisAddr.
func NewBackend(kind Kind, opts ...Option) (Backend, error) {
	cfg := &backendConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch kind {
	case KindMemory, "":
		return NewMemoryBackend(), nil

	case KindFile:
		if cfg.path == "" {
			return nil, ErrInvalidConfig
		}
		return NewFileBackend(cfg.path)

	case KindSQLite:
		if cfg.path == "" {
			return nil, ErrInvalidConfig
		}
		return NewSQLiteBackend(cfg.path)

	case KindRedis:
		client := cfg.redisClient
		if client == nil {
			if cfg.redisAddr == "" {
				return nil, ErrInvalidConfig
			}
			client = redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		}
		return NewRedisBackend(client, cfg.redisPrefix, cfg.redisTTL), nil

	default:
		return nil, ErrInvalidKind
	}
}
