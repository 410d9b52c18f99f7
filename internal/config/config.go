// Package config loads personachat settings from defaults, a JSON file,
// a .env file and environment variables, in that order of precedence
// (later wins).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	ConfigDir      = ".personachat"
	ConfigFileName = "config.json"

	DefaultAPIURL        = "http://localhost:3000"
	DefaultAvatarMaxWait = 60 * time.Second
	DefaultChatAttempts  = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 5 * time.Second
	DefaultStorageKind   = "file"
	DefaultStorageFile   = "storage.json"
	DefaultRedisPrefix   = "personachat:"
)

// TTS provider names
const (
	TTSNone  = "none"
	TTSGCP   = "gcp"
	TTSPolly = "polly"
)

// Config holds every runtime setting.
type Config struct {
	APIURL string `json:"api_url"`

	Storage StorageConfig `json:"storage"`
	Chat    ChatConfig    `json:"chat"`
	TTS     TTSConfig     `json:"tts"`

	// AudioEnabled is the default audio preference before the user sets one.
	AudioEnabled bool `json:"audio_enabled"`

	// AvatarMaxWait caps the avatar elapsed-time display.
	AvatarMaxWait        time.Duration `json:"-"`
	AvatarMaxWaitSeconds int           `json:"avatar_max_wait_seconds,omitempty"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Kind        string `json:"kind"`
	Path        string `json:"path,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty"`
}

// ChatConfig controls the reply retry policy.
type ChatConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	RetryDelay   time.Duration `json:"-"`
	RetryDelayMS int           `json:"retry_delay_ms,omitempty"`
	MaxDelay     time.Duration `json:"-"`
}

// TTSConfig selects local speech synthesis for replies without audio.
type TTSConfig struct {
	Provider  string `json:"provider"`
	Region    string `json:"region,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIURL: DefaultAPIURL,
		Storage: StorageConfig{
			Kind:        DefaultStorageKind,
			Path:        defaultStoragePath(DefaultStorageFile),
			RedisPrefix: DefaultRedisPrefix,
		},
		Chat: ChatConfig{
			MaxAttempts: DefaultChatAttempts,
			RetryDelay:  DefaultRetryDelay,
			MaxDelay:    DefaultMaxRetryDelay,
		},
		TTS:           TTSConfig{Provider: TTSNone},
		AudioEnabled:  true,
		AvatarMaxWait: DefaultAvatarMaxWait,
	}
}

// Load builds the configuration. A missing .env or config file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := Default()

	path, err := FilePath()
	if err != nil {
		return nil, err
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("api_url", cfg.APIURL).
		Str("storage", cfg.Storage.Kind).
		Str("tts", cfg.TTS.Provider).
		Msg("Loaded configuration")
	return cfg, nil
}

// FilePath returns the JSON config path, honouring PERSONACHAT_CONFIG.
func FilePath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("PERSONACHAT_CONFIG")); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDir, ConfigFileName), nil
}

func defaultStoragePath(name string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return filepath.Join(homeDir, ConfigDir, name)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("No config file found")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if c.AvatarMaxWaitSeconds > 0 {
		c.AvatarMaxWait = time.Duration(c.AvatarMaxWaitSeconds) * time.Second
	}
	if c.Chat.RetryDelayMS > 0 {
		c.Chat.RetryDelay = time.Duration(c.Chat.RetryDelayMS) * time.Millisecond
	}

	log.Debug().Str("path", path).Msg("Loaded config file")
	return nil
}

func (c *Config) applyEnv() error {
	if v := envString("PERSONACHAT_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := envString("PERSONACHAT_STORAGE"); v != "" {
		c.Storage.Kind = strings.ToLower(v)
	}
	if v := envString("PERSONACHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := envString("PERSONACHAT_REDIS_ADDR"); v != "" {
		c.Storage.RedisAddr = v
	}
	if v := envString("PERSONACHAT_TTS_PROVIDER"); v != "" {
		c.TTS.Provider = strings.ToLower(v)
	}
	if v := envString("AWS_REGION"); v != "" {
		c.TTS.Region = v
	}
	if v := envString("GOOGLE_CLOUD_PROJECT"); v != "" {
		c.TTS.ProjectID = v
	}

	wait, err := parseOptionalIntEnv("PERSONACHAT_AVATAR_MAX_WAIT")
	if err != nil {
		return err
	}
	if wait != nil {
		c.AvatarMaxWait = time.Duration(*wait) * time.Second
	}

	attempts, err := parseOptionalIntEnv("PERSONACHAT_CHAT_ATTEMPTS")
	if err != nil {
		return err
	}
	if attempts != nil {
		c.Chat.MaxAttempts = *attempts
	}

	delay, err := parseOptionalIntEnv("PERSONACHAT_RETRY_DELAY_MS")
	if err != nil {
		return err
	}
	if delay != nil {
		c.Chat.RetryDelay = time.Duration(*delay) * time.Millisecond
	}

	audio, err := parseBoolEnv("PERSONACHAT_AUDIO", c.AudioEnabled)
	if err != nil {
		return err
	}
	c.AudioEnabled = audio

	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api url cannot be empty")
	}

	switch c.Storage.Kind {
	case "memory", "redis":
	case "file", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage kind %s requires a path", c.Storage.Kind)
		}
	default:
		return fmt.Errorf("unknown storage kind: %s", c.Storage.Kind)
	}

	switch c.TTS.Provider {
	case TTSNone, TTSGCP, TTSPolly:
	default:
		return fmt.Errorf("unknown tts provider: %s", c.TTS.Provider)
	}

	if c.Chat.MaxAttempts < 1 {
		return fmt.Errorf("chat attempts must be at least 1, got %d", c.Chat.MaxAttempts)
	}
	if c.Chat.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.AvatarMaxWait <= 0 {
		return fmt.Errorf("avatar max wait must be positive")
	}
	return nil
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := envString(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
