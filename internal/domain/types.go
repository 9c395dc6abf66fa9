package domain

import "time"

// SessionState models the capture lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateListening  SessionState = "listening"
	SessionStateFinalizing SessionState = "finalizing"
)

// Trigger records what started a recording session.
type Trigger string

const (
	TriggerControl    Trigger = "control"
	TriggerHoldToTalk Trigger = "hold_to_talk"
)

// Tier identifies one strategy of the transport cascade.
type Tier string

const (
	TierStreaming Tier = "streaming"
	TierBuffered  Tier = "buffered"
	TierLocal     Tier = "local"
)

// CaptureMode is how a tier consumes microphone audio.
type CaptureMode string

const (
	CaptureFrames CaptureMode = "frames"
	CaptureClip   CaptureMode = "clip"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady         SessionStateReason = "ready"
	SessionReasonConnecting    SessionStateReason = "connecting"
	SessionReasonListening     SessionStateReason = "listening"
	SessionReasonTranscribing  SessionStateReason = "transcribing"
	SessionReasonUnderstanding SessionStateReason = "understanding"
	SessionReasonTierFailed    SessionStateReason = "tier_failed"
	SessionReasonSearchApplied SessionStateReason = "search_applied"
	SessionReasonRawSearch     SessionStateReason = "raw_search"
	SessionReasonNoTranscript  SessionStateReason = "no_transcript"
	SessionReasonDiscarded     SessionStateReason = "discarded"
	SessionReasonUnavailable   SessionStateReason = "unavailable"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeDevice     ErrorCode = "device"
	ErrorCodeTransport  ErrorCode = "transport"
	ErrorCodeExtraction ErrorCode = "extraction"
	ErrorCodeAudioStop  ErrorCode = "audio_stop"
)

// TranscriptKind identifies the type of a transport event.
type TranscriptKind string

const (
	TranscriptKindPartial   TranscriptKind = "partial"
	TranscriptKindCommitted TranscriptKind = "committed"
	TranscriptKindFailed    TranscriptKind = "failed"
)

// TranscriptEvent is the uniform signal every tier emits. Failed events end the tier.
type TranscriptEvent struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`
	Err  error          `json:"-"`
}

// AudioFrame is a fixed-length run of 16 kHz mono PCM samples.
type AudioFrame struct {
	Seq     uint64
	Samples []int16
}

// AudioClip is a sealed, encoded recording handed once to a clip tier.
type AudioClip struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// ExtractionResult holds the structured search parameters. Nil fields leave UI state untouched.
type ExtractionResult struct {
	Query     *string  `json:"query,omitempty"`
	Category  *string  `json:"category,omitempty"`
	Sort      *string  `json:"sort,omitempty"`
	MinRating *float64 `json:"min_rating,omitempty"`
}

// Empty reports whether no field was extracted.
func (r ExtractionResult) Empty() bool {
	return r.Query == nil && r.Category == nil && r.Sort == nil && r.MinRating == nil
}

// Outcome is what a completed session did with its transcript.
type Outcome string

const (
	OutcomeExtracted Outcome = "extracted"
	OutcomeRawSearch Outcome = "raw_search"
	OutcomeNoop      Outcome = "noop"
)

// SessionResult is returned once a session has returned to idle.
type SessionResult struct {
	SessionID  string           `json:"sessionId"`
	Tier       Tier             `json:"tier,omitempty"`
	Transcript string           `json:"transcript"`
	Outcome    Outcome          `json:"outcome"`
	Search     ExtractionResult `json:"search"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	Tier      Tier         `json:"tier,omitempty"`
	Available bool         `json:"available"`
	Message   string       `json:"message,omitempty"`
}
