package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Player is an external command that plays the file appended to Args.
type Player struct {
	Command string
	Args    []string
}

// DefaultPlayers are tried in order: afplay on macOS, ALSA and PulseAudio
// on Linux, then ffplay anywhere ffmpeg is installed.
var DefaultPlayers = []Player{
	{Command: "afplay"},
	{Command: "aplay"},
	{Command: "paplay"},
	{Command: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
}

// ExecBackend plays clips through a local player process. Remote and data
// URI sources are written to a temporary file first.
type ExecBackend struct {
	httpClient *http.Client
	players    []Player
	lookPath   func(string) (string, error)
	tempDir    string
}

// ExecOption configures an ExecBackend.
type ExecOption func(*ExecBackend)

// WithPlayers replaces the player candidates.
func WithPlayers(players ...Player) ExecOption {
	return func(b *ExecBackend) {
		b.players = players
	}
}

// WithHTTPClient sets the client used to download remote sources.
func WithHTTPClient(client *http.Client) ExecOption {
	return func(b *ExecBackend) {
		b.httpClient = client
	}
}

// WithTempDir sets where downloaded clips are written.
func WithTempDir(dir string) ExecOption {
	return func(b *ExecBackend) {
		b.tempDir = dir
	}
}

// NewExecBackend creates an exec backend.
func NewExecBackend(opts ...ExecOption) *ExecBackend {
	b := &ExecBackend{
		httpClient: http.DefaultClient,
		players:    DefaultPlayers,
		lookPath:   exec.LookPath,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Available reports whether any player is installed.
func (b *ExecBackend) Available() bool {
	_, err := b.player()
	return err == nil
}

func (b *ExecBackend) player() (Player, error) {
	for _, p := range b.players {
		if _, err := b.lookPath(p.Command); err == nil {
			return p, nil
		}
	}
	return Player{}, errors.New("no audio player found")
}

// Open implements Backend.
func (b *ExecBackend) Open(ctx context.Context, source string) (Handle, error) {
	p, err := b.player()
	if err != nil {
		return nil, err
	}

	path, temp, err := b.fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	args := append(append([]string(nil), p.Args...), path)
	h := &execHandle{
		source: source,
		cmd:    exec.Command(p.Command, args...),
		done:   make(chan struct{}),
	}
	if temp {
		h.tempFile = path
	}

	log.Debug().Str("player", p.Command).Str("source", source).Msg("Opened audio")
	return h, nil
}

// fetch returns a local file for source and whether it is a temporary copy.
func (b *ExecBackend) fetch(ctx context.Context, source string) (string, bool, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		path, err := b.download(ctx, source)
		return path, err == nil, err
	case strings.HasPrefix(source, "data:"):
		path, err := b.decodeDataURI(source)
		return path, err == nil, err
	default:
		if _, err := os.Stat(source); err != nil {
			return "", false, fmt.Errorf("audio file not found: %w", err)
		}
		return source, false, nil
	}
}

func (b *ExecBackend) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download audio: status %d", resp.StatusCode)
	}

	return b.writeTemp(resp.Body)
}

func (b *ExecBackend) decodeDataURI(uri string) (string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return "", errors.New("unsupported audio data URI")
	}
	return b.writeTemp(base64.NewDecoder(base64.StdEncoding, strings.NewReader(payload)))
}

func (b *ExecBackend) writeTemp(r io.Reader) (string, error) {
	f, err := os.CreateTemp(b.tempDir, "personachat_audio_*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, r); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	return f.Name(), nil
}

type execHandle struct {
	source   string
	cmd      *exec.Cmd
	tempFile string
	done     chan struct{}

	mu       sync.Mutex
	started  bool
	stopped  bool
	doneOnce sync.Once
}

func (h *execHandle) Source() string {
	return h.source
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrAborted
	}
	if err := h.cmd.Start(); err != nil {
		return fmt.Errorf("failed to play audio: %w", err)
	}
	h.started = true

	go func() {
		if err := h.cmd.Wait(); err != nil {
			log.Debug().Err(err).Str("source", h.source).Msg("Audio player exited")
		}
		h.finish()
	}()
	return nil
}

func (h *execHandle) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.stopped = true
	started := h.started
	h.mu.Unlock()

	if !started {
		h.finish()
		return
	}
	_ = h.cmd.Process.Kill()
	<-h.done
}

// finish releases the temp file and signals Done once.
func (h *execHandle) finish() {
	h.doneOnce.Do(func() {
		if h.tempFile != "" {
			_ = os.Remove(h.tempFile)
		}
		close(h.done)
	})
}
