package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voxsearch/internal/audio"
	"voxsearch/internal/domain"
	"voxsearch/internal/endpoint"
	"voxsearch/internal/metrics"
	"voxsearch/internal/ports"
)

var (
	ErrNoActiveSession    = errors.New("no active recording session")
	ErrCaptureUnavailable = errors.New("voice capture is unavailable")
)

// Config controls capture and cascade behavior.
type Config struct {
	Audio           ports.AudioConfig
	Endpoint        endpoint.Config
	FinalizeTimeout time.Duration
	FrameQueueSize  int
	ChunkSize       int
}

// CaptureController runs one recording session at a time through the ordered transport tiers.
type CaptureController struct {
	audio     ports.AudioCapture
	tiers     []ports.Transport
	events    ports.EventSink
	finalizer searchFinalizer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time

	mu            sync.Mutex
	current       *recordingSession
	disabled      bool
	everSucceeded bool
}

func NewCaptureController(
	audioCapture ports.AudioCapture,
	tiers []ports.Transport,
	extractor ports.IntentExtractor,
	search ports.SearchState,
	events ports.EventSink,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *CaptureController {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Audio.CaptureRate <= 0 {
		cfg.Audio.CaptureRate = 48000
	}
	if cfg.Endpoint == (endpoint.Config{}) {
		cfg.Endpoint = endpoint.DefaultConfig()
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 3 * time.Second
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	return &CaptureController{
		audio:     audioCapture,
		tiers:     tiers,
		events:    events,
		finalizer: newSearchFinalizer(extractor, search, events, m, logger),
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start begins a session. It is a no-op while another session is active.
func (c *CaptureController) Start(ctx context.Context, trigger domain.Trigger) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil
	}
	if !c.availableLocked() {
		c.mu.Unlock()
		return ErrCaptureUnavailable
	}
	session := newRecordingSession(ctx, trigger, c.now())
	c.current = session
	c.mu.Unlock()

	c.metrics.RecordSessionStarted()
	c.logger.Info("capture session started",
		slog.String("session_id", session.id),
		slog.String("trigger", string(trigger)),
	)

	go c.run(session)
	return nil
}

// Stop asks the active session to finish and waits until it is idle again.
func (c *CaptureController) Stop(ctx context.Context) (domain.SessionResult, error) {
	session, err := c.getCurrent()
	if err != nil {
		return domain.SessionResult{}, err
	}

	session.requestStop()

	select {
	case <-session.done:
		return session.result, nil
	case <-ctx.Done():
		return domain.SessionResult{}, ctx.Err()
	}
}

// Abort discards the active session without transcription or extraction.
func (c *CaptureController) Abort() error {
	session, err := c.getCurrent()
	if err != nil {
		return err
	}

	session.abort()
	<-session.done
	return nil
}

// Status returns the current backend status.
func (c *CaptureController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle, Available: c.availableLocked()}
	}
	state, tier := c.current.getState()
	return domain.Status{
		State:     state,
		Active:    state != domain.SessionStateIdle,
		Tier:      tier,
		Available: c.availableLocked(),
	}
}

// Available reports whether the capture control should be enabled.
func (c *CaptureController) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableLocked()
}

// TierAvailability reports which tiers the running platform supports, in cascade order.
func (c *CaptureController) TierAvailability() []TierInfo {
	infos := make([]TierInfo, 0, len(c.tiers))
	for _, tier := range c.tiers {
		infos = append(infos, TierInfo{Tier: tier.Tier(), Mode: tier.Mode(), Available: tier.Available()})
	}
	return infos
}

// TierInfo describes one configured tier.
type TierInfo struct {
	Tier      domain.Tier        `json:"tier"`
	Mode      domain.CaptureMode `json:"mode"`
	Available bool               `json:"available"`
}

func (c *CaptureController) availableLocked() bool {
	if c.disabled || c.audio == nil || !c.audio.Available() {
		return false
	}
	for _, tier := range c.tiers {
		if tier.Available() {
			return true
		}
	}
	return false
}

func (c *CaptureController) getCurrent() (*recordingSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

type attemptStatus int

const (
	// attemptCompleted: the tier delivered its transcript, or the user ended a session with nothing to transcribe.
	attemptCompleted attemptStatus = iota
	attemptFailed
	attemptStopped
	attemptAborted
	attemptDeviceFailed
)

type attemptResult struct {
	status attemptStatus
	err    error
	// clip is the audio the failed tier heard after capture ended; the next clip tier transcribes it.
	clip *domain.AudioClip
}

func (c *CaptureController) run(session *recordingSession) {
	defer close(session.done)

	outcome, search, reason, tier := c.cascade(session)

	session.abort()
	if err := session.releaseDevice(); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	session.waitPump()

	if outcome == domain.OutcomeNoop && reason == "" {
		reason = domain.SessionReasonNoTranscript
	}
	session.result = domain.SessionResult{
		SessionID:  session.id,
		Tier:       tier,
		Transcript: session.assembler.Text(),
		Outcome:    outcome,
		Search:     search,
	}
	session.setState(domain.SessionStateIdle, "")

	c.mu.Lock()
	if c.current == session {
		c.current = nil
	}
	c.mu.Unlock()

	c.metrics.RecordSessionFinished(string(outcome), c.now().Sub(session.startedAt))
	c.logger.Info("capture session finished",
		slog.String("session_id", session.id),
		slog.String("tier", string(tier)),
		slog.String("outcome", string(outcome)),
	)
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

// cascade walks the tiers in order until one completes, the session ends, or none remain.
func (c *CaptureController) cascade(session *recordingSession) (domain.Outcome, domain.ExtractionResult, domain.SessionStateReason, domain.Tier) {
	var (
		carried   *domain.AudioClip
		attempted int
		lastTier  domain.Tier
	)

	for _, tier := range c.tiers {
		if session.aborted() {
			return domain.OutcomeNoop, domain.ExtractionResult{}, domain.SessionReasonDiscarded, lastTier
		}
		if !tier.Available() {
			continue
		}
		if carried != nil && tier.Mode() != domain.CaptureClip {
			continue
		}
		if attempted > 0 && carried == nil && session.stopRequested() {
			return c.finalize(session, lastTier)
		}

		reason := domain.SessionReasonConnecting
		if attempted > 0 {
			reason = domain.SessionReasonTierFailed
		}
		attempted++
		lastTier = tier.Tier()

		result := c.attempt(session, tier, carried, reason)
		switch result.status {
		case attemptCompleted, attemptStopped:
			return c.finalize(session, tier.Tier())
		case attemptAborted:
			return domain.OutcomeNoop, domain.ExtractionResult{}, domain.SessionReasonDiscarded, lastTier
		case attemptDeviceFailed:
			c.logger.Warn("microphone unavailable",
				slog.String("session_id", session.id),
				slog.String("error", result.err.Error()),
			)
			c.events.SessionError(domain.ErrorCodeDevice, result.err.Error())
			return c.finalize(session, lastTier)
		case attemptFailed:
			c.metrics.RecordTierFailure(string(tier.Tier()))
			c.logger.Warn("transport tier failed",
				slog.String("session_id", session.id),
				slog.String("tier", string(tier.Tier())),
				slog.String("error", errString(result.err)),
			)
			carried = result.clip
		}
	}

	if session.aborted() {
		return domain.OutcomeNoop, domain.ExtractionResult{}, domain.SessionReasonDiscarded, lastTier
	}

	if attempted > 0 {
		c.events.SessionError(domain.ErrorCodeTransport, "every transcription tier failed")
	}

	c.mu.Lock()
	if !c.everSucceeded {
		c.disabled = true
	}
	disabled := c.disabled
	c.mu.Unlock()

	outcome, search, reason, tier := c.finalize(session, lastTier)
	if disabled && outcome == domain.OutcomeNoop {
		c.logger.Error("no transport tier succeeded, disabling voice capture", slog.String("session_id", session.id))
		reason = domain.SessionReasonUnavailable
	}
	return outcome, search, reason, tier
}

// attempt opens one tier and runs it until it completes, fails, or the session ends.
func (c *CaptureController) attempt(
	session *recordingSession,
	tier ports.Transport,
	carried *domain.AudioClip,
	reason domain.SessionStateReason,
) attemptResult {
	session.setState(domain.SessionStateConnecting, tier.Tier())
	c.events.SessionStateChanged(domain.SessionStateConnecting, reason)
	c.metrics.RecordTierAttempt(string(tier.Tier()))

	transport, err := tier.Open(session.ctx, ports.SessionInfo{ID: session.id, SampleRate: audio.TargetSampleRate})
	if session.aborted() {
		if transport != nil {
			_ = transport.Close()
		}
		return attemptResult{status: attemptAborted}
	}
	if err != nil {
		if carried == nil && session.stopRequested() {
			return attemptResult{status: attemptStopped, err: err}
		}
		return attemptResult{status: attemptFailed, err: err, clip: carried}
	}
	defer transport.Close()

	if carried != nil {
		return c.transcribeClip(session, transport, *carried)
	}
	if session.stopRequested() {
		return attemptResult{status: attemptStopped}
	}

	return c.listen(session, tier, transport)
}

func (c *CaptureController) ensureDevice(session *recordingSession) error {
	if session.device != nil {
		return nil
	}
	device, err := c.audio.Acquire(session.ctx, c.cfg.Audio)
	if err != nil {
		return err
	}
	session.device = device
	session.pumpDone = make(chan struct{})
	go func() {
		if err := pumpAudio(device, c.cfg.Audio.CaptureRate, c.cfg.ChunkSize, &session.sink, session.meter, session.pumpDone); err != nil {
			c.logger.Debug("audio capture ended", slog.String("session_id", session.id), slog.String("error", err.Error()))
		}
	}()
	return nil
}

// listen captures audio for the tier until stop, an endpoint signal, device end, or tier failure.
func (c *CaptureController) listen(session *recordingSession, tier ports.Transport, transport ports.TransportSession) attemptResult {
	sink := newCaptureSink(tier.Mode(), c.cfg.FrameQueueSize)
	session.sink.Store(sink)
	defer func() {
		session.sink.CompareAndSwap(sink, nil)
		c.metrics.RecordFramesDropped(sink.dropped())
	}()

	if err := c.ensureDevice(session); err != nil {
		sink.abandon()
		if session.aborted() {
			return attemptResult{status: attemptAborted}
		}
		return attemptResult{status: attemptDeviceFailed, err: err}
	}

	var sendDone chan error
	if sink.queue != nil {
		sendDone = make(chan error, 1)
		go forwardFrames(sink.queue, transport, c.metrics, sendDone)
	}

	var endpointSignal chan endpoint.Signal
	if tier.Mode() == domain.CaptureClip {
		watchCtx, stopWatch := context.WithCancel(session.ctx)
		defer stopWatch()
		endpointSignal = make(chan endpoint.Signal, 1)
		detector := endpoint.NewDetector(c.cfg.Endpoint, c.now())
		go func() {
			endpointSignal <- endpoint.Watch(watchCtx, session.meter, detector, c.cfg.Endpoint.SampleInterval)
		}()
	}

	session.setState(domain.SessionStateListening, tier.Tier())
	c.events.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonListening)

	committedBefore := session.assembler.Segments()
	events := transport.Events()

listening:
	for {
		select {
		case <-session.ctx.Done():
			sink.abandon()
			return attemptResult{status: attemptAborted}
		case <-session.stopCh:
			break listening
		case <-session.pumpDone:
			break listening
		case signal := <-endpointSignal:
			if signal != endpoint.SignalNone {
				c.logger.Info("end of speech detected",
					slog.String("session_id", session.id),
					slog.String("signal", signal.String()),
				)
				break listening
			}
			endpointSignal = nil
		case err := <-sendDone:
			sink.abandon()
			return attemptResult{status: attemptFailed, err: fmt.Errorf("%w: %w", domain.ErrTransport, err)}
		case event, ok := <-events:
			if !ok {
				sink.abandon()
				return attemptResult{status: attemptFailed, err: fmt.Errorf("%w: transport closed", domain.ErrTransport)}
			}
			if event.Kind == domain.TranscriptKindFailed {
				sink.abandon()
				return attemptResult{status: attemptFailed, err: event.Err}
			}
			c.applyTranscript(session, event)
		}
	}

	session.setState(domain.SessionStateFinalizing, tier.Tier())
	c.events.SessionStateChanged(domain.SessionStateFinalizing, domain.SessionReasonTranscribing)

	// The finalize bound starts at stop and covers draining capture as well as the commit wait.
	var deadline <-chan time.Time
	if sink.queue != nil {
		timer := time.NewTimer(c.cfg.FinalizeTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	clip, sealed, clipErr := c.stopCapture(session, sink, deadline)
	if !sealed {
		if session.aborted() {
			return attemptResult{status: attemptAborted}
		}
		c.logger.Warn("timed out draining audio frames",
			slog.String("session_id", session.id),
			slog.Duration("timeout", c.cfg.FinalizeTimeout),
		)
		return attemptResult{status: attemptCompleted}
	}

	if tier.Mode() == domain.CaptureClip {
		if errors.Is(clipErr, audio.ErrEmptyClip) {
			return attemptResult{status: attemptStopped}
		}
		if clipErr != nil {
			return attemptResult{status: attemptFailed, err: clipErr}
		}
		return c.transcribeClip(session, transport, clip)
	}

	var carry *domain.AudioClip
	if clipErr == nil {
		carry = &clip
	}
	return c.flushStream(session, transport, sendDone, events, deadline, committedBefore, carry)
}

// stopCapture releases the device and seals the attempt's sink. A frame consumer that stops
// draining would hold the capture goroutine in the queue, so past the deadline (or on abort)
// the queue is abandoned and sealed reports false.
func (c *CaptureController) stopCapture(
	session *recordingSession,
	sink *captureSink,
	deadline <-chan time.Time,
) (domain.AudioClip, bool, error) {
	if err := session.releaseDevice(); err != nil {
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}

	var (
		clip    domain.AudioClip
		clipErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		session.waitPump()
		clip, clipErr = sink.finish()
	}()

	select {
	case <-finished:
		return clip, true, clipErr
	case <-deadline:
	case <-session.ctx.Done():
	}
	sink.abandon()
	<-finished
	return domain.AudioClip{}, false, nil
}

// flushStream drains queued frames, sends the commit marker and waits a bounded time for the
// final committed segment. On timeout the session finalizes with what has accumulated.
func (c *CaptureController) flushStream(
	session *recordingSession,
	transport ports.TransportSession,
	sendDone chan error,
	events <-chan domain.TranscriptEvent,
	deadline <-chan time.Time,
	committedBefore int,
	carry *domain.AudioClip,
) attemptResult {
	failed := func(err error) attemptResult {
		if session.assembler.Segments() > committedBefore {
			c.logger.Warn("transport failed after committing, finalizing accumulated transcript",
				slog.String("session_id", session.id),
				slog.String("error", errString(err)),
			)
			return attemptResult{status: attemptCompleted}
		}
		return attemptResult{status: attemptFailed, err: err, clip: carry}
	}

	select {
	case err := <-sendDone:
		if err != nil {
			return failed(fmt.Errorf("%w: %w", domain.ErrTransport, err))
		}
	case <-session.ctx.Done():
		return attemptResult{status: attemptAborted}
	case <-deadline:
		c.logger.Warn("timed out draining audio frames", slog.String("session_id", session.id))
		return attemptResult{status: attemptCompleted}
	}

	if err := transport.Finish(session.ctx, nil); err != nil {
		return failed(fmt.Errorf("%w: %w", domain.ErrTransport, err))
	}

	for {
		select {
		case <-session.ctx.Done():
			return attemptResult{status: attemptAborted}
		case <-deadline:
			c.logger.Warn("no committed transcript before finalize timeout",
				slog.String("session_id", session.id),
				slog.Duration("timeout", c.cfg.FinalizeTimeout),
			)
			return attemptResult{status: attemptCompleted}
		case event, ok := <-events:
			if !ok {
				return attemptResult{status: attemptCompleted}
			}
			switch event.Kind {
			case domain.TranscriptKindFailed:
				return failed(event.Err)
			case domain.TranscriptKindCommitted:
				c.applyTranscript(session, event)
				return attemptResult{status: attemptCompleted}
			default:
				c.applyTranscript(session, event)
			}
		}
	}
}

// transcribeClip hands a sealed clip to a clip tier and waits for its single result.
func (c *CaptureController) transcribeClip(session *recordingSession, transport ports.TransportSession, clip domain.AudioClip) attemptResult {
	state, tier := session.getState()
	if state != domain.SessionStateFinalizing {
		session.setState(domain.SessionStateFinalizing, tier)
		c.events.SessionStateChanged(domain.SessionStateFinalizing, domain.SessionReasonTranscribing)
	}

	finishErr := make(chan error, 1)
	go func() {
		finishErr <- transport.Finish(session.ctx, &clip)
	}()

	events := transport.Events()
	for {
		select {
		case <-session.ctx.Done():
			return attemptResult{status: attemptAborted}
		case err := <-finishErr:
			if err != nil {
				return attemptResult{status: attemptFailed, err: fmt.Errorf("%w: %w", domain.ErrTransport, err), clip: &clip}
			}
			finishErr = nil
		case event, ok := <-events:
			if !ok {
				return attemptResult{status: attemptFailed, err: fmt.Errorf("%w: no transcript returned", domain.ErrTransport), clip: &clip}
			}
			switch event.Kind {
			case domain.TranscriptKindFailed:
				return attemptResult{status: attemptFailed, err: event.Err, clip: &clip}
			case domain.TranscriptKindCommitted:
				c.applyTranscript(session, event)
				return attemptResult{status: attemptCompleted}
			default:
				c.applyTranscript(session, event)
			}
		}
	}
}

func (c *CaptureController) applyTranscript(session *recordingSession, event domain.TranscriptEvent) {
	display := session.assembler.Apply(event)
	if event.Kind == domain.TranscriptKindCommitted {
		c.mu.Lock()
		c.everSucceeded = true
		c.mu.Unlock()
	}
	c.events.PartialTranscript(display)
}

// finalize turns the accumulated transcript into a search. The local tier bypasses extraction.
func (c *CaptureController) finalize(session *recordingSession, tier domain.Tier) (domain.Outcome, domain.ExtractionResult, domain.SessionStateReason, domain.Tier) {
	if session.aborted() {
		return domain.OutcomeNoop, domain.ExtractionResult{}, domain.SessionReasonDiscarded, tier
	}

	raw := session.assembler.Text()
	if raw != "" {
		session.setState(domain.SessionStateFinalizing, tier)
		c.events.FinalTranscript(raw)
	}

	outcome, search, reason := c.finalizer.Finalize(session.ctx, raw, tier == domain.TierLocal)
	return outcome, search, reason, tier
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
