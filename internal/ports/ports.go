package ports

import (
	"context"
	"io"

	"voxsearch/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	CaptureRate int
	InputFormat string
	InputDevice string
}

// AudioSession is an acquired microphone device producing s16le mono PCM at CaptureRate.
type AudioSession interface {
	io.Reader
	// Release stops all device tracks. Safe to call more than once.
	Release() error
}

// AudioCapture acquires microphone devices.
type AudioCapture interface {
	Acquire(ctx context.Context, cfg AudioConfig) (AudioSession, error)
	Available() bool
}

// SessionInfo is what a tier learns about the session that opens it.
type SessionInfo struct {
	ID         string
	SampleRate int
}

// TransportSession is one open attempt of a tier. Close is always reachable and idempotent.
type TransportSession interface {
	// SendFrame forwards a captured frame. Only frame-mode tiers receive frames.
	SendFrame(frame domain.AudioFrame) error
	// Finish flushes the attempt. Clip-mode tiers receive the sealed clip; frame-mode tiers get nil.
	Finish(ctx context.Context, clip *domain.AudioClip) error
	Events() <-chan domain.TranscriptEvent
	Close() error
}

// Transport is one tier of the cascade.
type Transport interface {
	Tier() domain.Tier
	Mode() domain.CaptureMode
	// Available reports whether the running platform supports the tier.
	Available() bool
	Open(ctx context.Context, info SessionInfo) (TransportSession, error)
}

// IntentExtractor turns a transcript into structured search parameters.
type IntentExtractor interface {
	Extract(ctx context.Context, transcript string) (domain.ExtractionResult, error)
}

// SearchState is the query/filter collaborator the result is applied to.
type SearchState interface {
	ApplySearch(result domain.ExtractionResult)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(text string)
	SessionError(code domain.ErrorCode, detail string)
}
