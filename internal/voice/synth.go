package voice

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/daikw/personachat/internal/voice/provider"
	"github.com/rs/zerolog/log"
)

// DefaultFormat is the audio format requested from providers.
const DefaultFormat = "mp3"

// Synthesizer renders reply text to a temporary audio file.
type Synthesizer struct {
	provider provider.Provider
	format   string
	tempDir  string
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithFormat sets the requested audio format.
func WithFormat(format string) SynthesizerOption {
	return func(s *Synthesizer) {
		s.format = format
	}
}

// WithTempDir sets the directory for rendered files.
func WithTempDir(dir string) SynthesizerOption {
	return func(s *Synthesizer) {
		s.tempDir = dir
	}
}

// NewSynthesizer creates a synthesizer backed by p.
func NewSynthesizer(p provider.Provider, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{
		provider: p,
		format:   DefaultFormat,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize renders text with cfg and returns the audio file path.
// The caller owns the file.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, cfg *Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	text = StripMarkdown(text)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text cannot be empty")
	}

	audioStream, err := s.provider.Synthesize(ctx, text, cfg.SynthesizeOptions(s.format))
	if err != nil {
		return "", fmt.Errorf("synthesis failed: %w", err)
	}
	defer func() { _ = audioStream.Close() }()

	pattern := fmt.Sprintf("reply_%s_*%s", s.provider.Name(), provider.Extension(s.format))
	tmpFile, err := os.CreateTemp(s.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := io.Copy(tmpFile, audioStream); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to save audio: %w", err)
	}

	log.Debug().
		Str("provider", s.provider.Name()).
		Str("file", tmpFile.Name()).
		Str("voice", cfg.Name).
		Msg("Audio synthesis completed")

	return tmpFile.Name(), nil
}

// StripMarkdown removes markdown formatting using mdstrip if available
func StripMarkdown(text string) string {
	if _, err := exec.LookPath("mdstrip"); err != nil {
		return text
	}

	cmd := exec.Command("mdstrip")
	cmd.Stdin = strings.NewReader(text)

	output, err := cmd.Output()
	if err != nil {
		log.Warn().Err(err).Msg("mdstrip failed, keeping original text")
		return text
	}

	return string(output)
}
