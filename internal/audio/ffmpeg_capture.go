package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxsearch/internal/ports"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no microphone device")
)

// DeviceError reports a microphone that could not be acquired.
type DeviceError struct {
	Device string
	Err    error
	Detail string
}

func (e *DeviceError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("audio device %q: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("audio device %q: %v: %s", e.Device, e.Err, e.Detail)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// FFMPEGCapture acquires the microphone through ffmpeg, audio-only, as s16le mono PCM.
type FFMPEGCapture struct {
	command      string
	startupGrace time.Duration
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command, startupGrace: 250 * time.Millisecond}
}

// Available reports whether the recorder binary can be found.
func (c *FFMPEGCapture) Available() bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

func (c *FFMPEGCapture) Acquire(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = 48000
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.CaptureRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, &DeviceError{Device: cfg.InputDevice, Err: ErrNoDevice, Detail: err.Error()}
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		output := stringsTrimSpaceSafe(stderr.String())
		detail := "ffmpeg exited before capture started"
		if err != nil {
			detail += ": " + err.Error()
		}
		if output != "" {
			detail += ": " + output
		}
		return nil, &DeviceError{Device: cfg.InputDevice, Err: classifyDeviceFailure(output), Detail: detail}
	case <-time.After(c.startupGrace):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func classifyDeviceFailure(stderr string) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "operation not permitted"):
		return ErrPermissionDenied
	default:
		return ErrNoDevice
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	releaseOnce sync.Once
	releaseErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Release() error {
	s.releaseOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.releaseErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.releaseErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.releaseErr == nil {
				s.releaseErr = closeErr
			}
		}

		if s.releaseErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.releaseErr = fmt.Errorf("%w: %s", s.releaseErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.releaseErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
