package localstt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"voxsearch/internal/domain"
	"voxsearch/internal/ports"
	"voxsearch/internal/providers/oneshot"
)

// Config controls the on-device recognizer.
type Config struct {
	Command  string
	Language string
	Timeout  time.Duration
}

// Transport runs a local recognizer command against the sealed clip.
type Transport struct {
	cmd []string
	cfg Config
	mu  sync.Mutex
}

type execResult struct {
	Text string `json:"text"`
}

// NewTransport parses the recognizer command line. An empty command yields an unavailable tier.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return &Transport{cfg: cfg}, nil
	}
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	return &Transport{cmd: args, cfg: cfg}, nil
}

func (t *Transport) Tier() domain.Tier { return domain.TierLocal }

func (t *Transport) Mode() domain.CaptureMode { return domain.CaptureClip }

func (t *Transport) Available() bool {
	if len(t.cmd) == 0 {
		return false
	}
	_, err := exec.LookPath(t.cmd[0])
	return err == nil
}

func (t *Transport) Open(ctx context.Context, _ ports.SessionInfo) (ports.TransportSession, error) {
	if len(t.cmd) == 0 {
		return nil, fmt.Errorf("%w: local recognizer is not configured", domain.ErrTransport)
	}
	return oneshot.NewSession(ctx, t.Transcribe), nil
}

// Transcribe writes the clip to a temporary WAV file and runs the recognizer on it.
// Stdout is either {"text": ...} or the plain transcript.
func (t *Transport) Transcribe(ctx context.Context, clip domain.AudioClip) (string, error) {
	if !wav.NewDecoder(bytes.NewReader(clip.Data)).IsValidFile() {
		return "", errors.New("clip is not a valid wav file")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.CreateTemp("", "voxsearch_clip_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())

	if _, err := file.Write(clip.Data); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write clip: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close clip: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if t.cfg.Language != "" {
		args = append(args, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, t.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("recognizer command: %w", ctxErr)
		}
		return "", fmt.Errorf("recognizer command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseOutput(stdout.Bytes()), nil
}

func parseOutput(output []byte) string {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var resp execResult
		if err := json.Unmarshal(trimmed, &resp); err == nil {
			return strings.TrimSpace(resp.Text)
		}
	}
	return string(trimmed)
}
