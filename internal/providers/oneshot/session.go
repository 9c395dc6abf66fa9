// Package oneshot implements the transport session shared by clip tiers: one sealed clip in,
// one committed or failed event out.
package oneshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"voxsearch/internal/domain"
)

var (
	ErrFramesUnsupported = errors.New("clip tier does not accept frames")
	ErrEmptyTranscript   = errors.New("recognizer returned an empty transcript")
)

// RecognizeFunc turns a sealed clip into text.
type RecognizeFunc func(ctx context.Context, clip domain.AudioClip) (string, error)

type Session struct {
	recognize RecognizeFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	events chan domain.TranscriptEvent
	closed bool

	finishOnce sync.Once
	closeOnce  sync.Once
}

// NewSession binds the session lifetime to ctx. Cancelling ctx behaves like Close.
func NewSession(ctx context.Context, recognize RecognizeFunc) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		recognize: recognize,
		ctx:       sessionCtx,
		cancel:    cancel,
		events:    make(chan domain.TranscriptEvent, 1),
	}
	context.AfterFunc(sessionCtx, func() {
		_ = s.Close()
	})
	return s
}

func (s *Session) SendFrame(domain.AudioFrame) error {
	return ErrFramesUnsupported
}

// Finish runs recognition once and emits its single event. Later calls are no-ops.
func (s *Session) Finish(ctx context.Context, clip *domain.AudioClip) error {
	s.finishOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()

		if clip == nil || len(clip.Data) == 0 {
			s.finish(domain.TranscriptEvent{
				Kind: domain.TranscriptKindFailed,
				Err:  fmt.Errorf("%w: no audio clip", domain.ErrTransport),
			})
			return
		}

		text, err := s.recognize(ctx, *clip)
		switch {
		case err != nil:
			s.finish(domain.TranscriptEvent{Kind: domain.TranscriptKindFailed, Err: wrapTransport(err)})
		case strings.TrimSpace(text) == "":
			s.finish(domain.TranscriptEvent{Kind: domain.TranscriptKindFailed, Err: wrapTransport(ErrEmptyTranscript)})
		default:
			s.finish(domain.TranscriptEvent{Kind: domain.TranscriptKindCommitted, Text: text})
		}
	})
	return nil
}

func (s *Session) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed {
			s.closed = true
			close(s.events)
		}
	})
	return nil
}

// finish publishes the final event and closes the stream. Results after Close are discarded.
func (s *Session) finish(event domain.TranscriptEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- event
	s.closed = true
	close(s.events)
}

func wrapTransport(err error) error {
	if errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransport, err)
}
