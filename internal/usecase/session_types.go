package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxsearch/internal/domain"
	"voxsearch/internal/endpoint"
	"voxsearch/internal/ports"
	"voxsearch/internal/transcript"
)

// recordingSession owns every resource of one capture: device, sink, transcript and signals.
// Only the session goroutine touches device and sink fields.
type recordingSession struct {
	id        string
	trigger   domain.Trigger
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once

	stateMu sync.Mutex
	state   domain.SessionState
	tier    domain.Tier

	assembler *transcript.Assembler
	meter     *endpoint.Meter

	device      ports.AudioSession
	sink        atomic.Pointer[captureSink]
	pumpDone    chan struct{}
	releaseOnce sync.Once
	releaseErr  error

	done   chan struct{}
	result domain.SessionResult
}

func newRecordingSession(ctx context.Context, trigger domain.Trigger, startedAt time.Time) *recordingSession {
	sessionCtx, cancel := context.WithCancel(ctx)
	return &recordingSession{
		id:        uuid.NewString(),
		trigger:   trigger,
		startedAt: startedAt,
		ctx:       sessionCtx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		state:     domain.SessionStateConnecting,
		assembler: transcript.NewAssembler(),
		meter:     &endpoint.Meter{},
		done:      make(chan struct{}),
	}
}

func (s *recordingSession) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *recordingSession) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// abort cancels the session token. Every in-flight request and timer observes it.
func (s *recordingSession) abort() {
	s.cancel()
}

func (s *recordingSession) aborted() bool {
	return s.ctx.Err() != nil
}

// releaseDevice stops the microphone. It runs at most once per acquired device.
func (s *recordingSession) releaseDevice() error {
	if s.device == nil {
		return nil
	}
	s.releaseOnce.Do(func() {
		s.releaseErr = s.device.Release()
	})
	return s.releaseErr
}

// waitPump blocks until the capture goroutine has returned.
func (s *recordingSession) waitPump() {
	if s.pumpDone != nil {
		<-s.pumpDone
	}
}

func (s *recordingSession) setState(state domain.SessionState, tier domain.Tier) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
	s.tier = tier
}

func (s *recordingSession) getState() (domain.SessionState, domain.Tier) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state, s.tier
}
