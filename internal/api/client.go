// Package api is the HTTP client for the hosted generation and chat API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/daikw/personachat/internal/voice"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 512
)

// Client calls the personachat API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// NewClient creates a client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GeneratePersonality asks for a personality for name.
func (c *Client) GeneratePersonality(ctx context.Context, name string) (*PersonalityResult, error) {
	var out PersonalityResult
	if err := c.do(ctx, http.MethodPost, PathGeneratePersonality, nameRequest{Name: name}, &out); err != nil {
		return nil, err
	}
	out.Personality = strings.TrimSpace(out.Personality)
	out.CorrectedName = strings.TrimSpace(out.CorrectedName)
	if out.Personality == "" {
		return nil, &ParseError{Endpoint: PathGeneratePersonality, Err: errors.New("missing personality")}
	}
	return &out, nil
}

// GenerateAvatar returns an avatar URL or data URI for name.
func (c *Client) GenerateAvatar(ctx context.Context, name string) (string, error) {
	var out avatarResponse
	if err := c.do(ctx, http.MethodPost, PathGenerateAvatar, nameRequest{Name: name}, &out); err != nil {
		return "", err
	}
	switch {
	case out.AvatarURL != "":
		return out.AvatarURL, nil
	case out.AvatarDataURL != "":
		return out.AvatarDataURL, nil
	default:
		return "", &ParseError{Endpoint: PathGenerateAvatar, Err: errors.New("missing avatarUrl")}
	}
}

// VoiceConfigForCharacter asks for a TTS voice matching name.
// The response may be the config itself or wrapped in {"voiceConfig": ...}.
func (c *Client) VoiceConfigForCharacter(ctx context.Context, name string) (*voice.Config, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, PathVoiceConfig, nameRequest{Name: name}, &raw); err != nil {
		return nil, err
	}

	var wrapped voiceConfigResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.VoiceConfig != nil {
		if err := wrapped.VoiceConfig.Validate(); err != nil {
			return nil, &ParseError{Endpoint: PathVoiceConfig, Err: err}
		}
		return wrapped.VoiceConfig, nil
	}

	var cfg voice.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, &ParseError{Endpoint: PathVoiceConfig, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{Endpoint: PathVoiceConfig, Err: err}
	}
	return &cfg, nil
}

// Chat sends one chat turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if req.History == nil {
		req.History = []Turn{}
	}
	var out ChatReply
	if err := c.do(ctx, http.MethodPost, PathChat, req, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Reply) == "" {
		return nil, &ParseError{Endpoint: PathChat, Err: errors.New("missing reply")}
	}
	return &out, nil
}

// Health checks that the API is up.
func (c *Client) Health(ctx context.Context) error {
	var out healthResponse
	if err := c.do(ctx, http.MethodGet, PathHealth, nil, &out); err != nil {
		return err
	}
	if out.Status == "" {
		return &ParseError{Endpoint: PathHealth, Err: errors.New("missing status")}
	}
	return nil
}

// LogMessage records one message. The response body is ignored.
func (c *Client) LogMessage(ctx context.Context, entry LogEntry) error {
	return c.do(ctx, http.MethodPost, PathLogMessage, entry, nil)
}

// ClassifyIntent asks whether message agrees to prompt.
func (c *Client) ClassifyIntent(ctx context.Context, prompt, message string) (bool, error) {
	var out classifyResponse
	if err := c.do(ctx, http.MethodPost, PathClassifyIntent, classifyRequest{Prompt: prompt, Message: message}, &out); err != nil {
		return false, err
	}
	if out.Affirmative == nil {
		return false, &ParseError{Endpoint: PathClassifyIntent, Err: errors.New("missing affirmative")}
	}
	return *out.Affirmative, nil
}

// do sends a JSON request and decodes the response into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("method", method).Str("endpoint", path).Msg("Making API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request to %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.Debug().Int("status", resp.StatusCode).Str("endpoint", path).Msg("API request failed")
		return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ParseError{Endpoint: path, Err: err}
	}
	return nil
}
