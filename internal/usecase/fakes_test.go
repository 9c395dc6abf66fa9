package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxsearch/internal/domain"
	"voxsearch/internal/endpoint"
	"voxsearch/internal/ports"
)

func testConfig() Config {
	return Config{
		Endpoint: endpoint.Config{
			Threshold:       0.02,
			MinDuration:     time.Second,
			SilenceDuration: 10 * time.Second,
			MaxDuration:     30 * time.Second,
			SampleInterval:  10 * time.Millisecond,
		},
		FinalizeTimeout: 500 * time.Millisecond,
	}
}

func newTestController(
	capture *fakeAudioCapture,
	tiers []ports.Transport,
	extractor *fakeExtractor,
	search *fakeSearch,
	events *fakeEventSink,
	cfg Config,
) *CaptureController {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCaptureController(capture, tiers, extractor, search, events, nil, logger, cfg)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitListening(t *testing.T, c *CaptureController, tier domain.Tier) {
	t.Helper()
	waitFor(t, "listening on "+string(tier), func() bool {
		status := c.Status()
		return status.State == domain.SessionStateListening && status.Tier == tier
	})
}

// pcmChunk returns 48 kHz s16le bytes for n samples of a constant value.
func pcmChunk(samples int, value int16) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(value))
	}
	return buf
}

type fakeAudioCapture struct {
	mu         sync.Mutex
	available  bool
	acquireErr error
	prefill    [][]byte
	feed       func(s *fakeAudioSession)
	sessions   []*fakeAudioSession
}

func newFakeAudioCapture(prefill ...[]byte) *fakeAudioCapture {
	return &fakeAudioCapture{available: true, prefill: prefill}
}

func (f *fakeAudioCapture) Acquire(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	session := &fakeAudioSession{
		chunks:   make(chan []byte, len(f.prefill)+1),
		released: make(chan struct{}),
	}
	for _, chunk := range f.prefill {
		session.chunks <- chunk
	}
	if f.feed != nil {
		go f.feed(session)
	}
	f.sessions = append(f.sessions, session)
	return session, nil
}

func (f *fakeAudioCapture) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeAudioCapture) acquired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeAudioCapture) session(i int) *fakeAudioSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

type fakeAudioSession struct {
	chunks   chan []byte
	released chan struct{}

	once     sync.Once
	releases atomic.Int32
	reads    atomic.Int32
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	select {
	case <-f.released:
		return 0, io.EOF
	default:
	}
	select {
	case chunk := <-f.chunks:
		f.reads.Add(1)
		return copy(p, chunk), nil
	case <-f.released:
		return 0, io.EOF
	}
}

func (f *fakeAudioSession) Release() error {
	f.releases.Add(1)
	f.once.Do(func() { close(f.released) })
	return nil
}

// push delivers a chunk unless the device has been released.
func (f *fakeAudioSession) push(chunk []byte) bool {
	select {
	case f.chunks <- chunk:
		return true
	case <-f.released:
		return false
	}
}

type fakeTransport struct {
	tier      domain.Tier
	mode      domain.CaptureMode
	available bool
	openErr   error
	openGate  chan struct{}
	finish    func(s *fakeTransportSession, clip *domain.AudioClip)
	// stallFrames makes SendFrame block until the session is closed.
	stallFrames bool

	opened   atomic.Int32
	mu       sync.Mutex
	sessions []*fakeTransportSession
}

func newFakeTransport(tier domain.Tier, mode domain.CaptureMode) *fakeTransport {
	return &fakeTransport{tier: tier, mode: mode, available: true}
}

func (f *fakeTransport) Tier() domain.Tier        { return f.tier }
func (f *fakeTransport) Mode() domain.CaptureMode { return f.mode }
func (f *fakeTransport) Available() bool          { return f.available }

func (f *fakeTransport) Open(ctx context.Context, _ ports.SessionInfo) (ports.TransportSession, error) {
	f.opened.Add(1)
	if f.openGate != nil {
		select {
		case <-f.openGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	session := &fakeTransportSession{events: make(chan domain.TranscriptEvent, 16), finish: f.finish}
	if f.stallFrames {
		session.stall = make(chan struct{})
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, session)
	f.mu.Unlock()
	return session, nil
}

func (f *fakeTransport) session(i int) *fakeTransportSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeTransport) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

type fakeTransportSession struct {
	finish func(s *fakeTransportSession, clip *domain.AudioClip)
	stall  chan struct{}
	sends  atomic.Int32

	mu          sync.Mutex
	events      chan domain.TranscriptEvent
	closed      bool
	frames      []uint64
	finishCalls int
	closeCalls  int
	clip        *domain.AudioClip
}

func (f *fakeTransportSession) SendFrame(frame domain.AudioFrame) error {
	f.sends.Add(1)
	if f.stall != nil {
		<-f.stall
		return errors.New("session closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame.Seq)
	return nil
}

func (f *fakeTransportSession) Finish(_ context.Context, clip *domain.AudioClip) error {
	f.mu.Lock()
	f.finishCalls++
	f.clip = clip
	f.mu.Unlock()
	if f.finish != nil {
		f.finish(f, clip)
	}
	return nil
}

func (f *fakeTransportSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeTransportSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		f.closed = true
		close(f.events)
		if f.stall != nil {
			close(f.stall)
		}
	}
	return nil
}

func (f *fakeTransportSession) emit(event domain.TranscriptEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- event
}

func (f *fakeTransportSession) sentFrames() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.frames...)
}

func (f *fakeTransportSession) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeTransportSession) receivedClip() *domain.AudioClip {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clip
}

func commit(text string) func(*fakeTransportSession, *domain.AudioClip) {
	return func(s *fakeTransportSession, _ *domain.AudioClip) {
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindCommitted, Text: text})
	}
}

func fail(err error) func(*fakeTransportSession, *domain.AudioClip) {
	return func(s *fakeTransportSession, _ *domain.AudioClip) {
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFailed, Err: err})
	}
}

type fakeExtractor struct {
	result domain.ExtractionResult
	err    error

	mu    sync.Mutex
	calls []string
}

func (f *fakeExtractor) Extract(_ context.Context, transcript string) (domain.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transcript)
	return f.result, f.err
}

func (f *fakeExtractor) snapshotCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSearch struct {
	mu      sync.Mutex
	applied []domain.ExtractionResult
}

func (f *fakeSearch) ApplySearch(result domain.ExtractionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, result)
}

func (f *fakeSearch) snapshot() []domain.ExtractionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ExtractionResult(nil), f.applied...)
}

type fakeEventSink struct {
	mu       sync.Mutex
	states   []stateEvent
	partials []string
	finals   []string
	errors   []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) FinalTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, text)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotPartials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.partials...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) lastState() stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return stateEvent{}
	}
	return f.states[len(f.states)-1]
}

func (f *fakeEventSink) hasError(code domain.ErrorCode) bool {
	for _, e := range f.snapshotErrors() {
		if e.code == code {
			return true
		}
	}
	return false
}

func strPtr(s string) *string { return &s }
