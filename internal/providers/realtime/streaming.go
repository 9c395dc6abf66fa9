package realtime

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxsearch/internal/domain"
	"voxsearch/internal/ports"
)

const (
	messageSessionStarted      = "session_started"
	messagePartialTranscript   = "partial_transcript"
	messageCommittedTranscript = "committed_transcript"
	messageInputAudioChunk     = "input_audio_chunk"
	messageError               = "error"
	messageAuthError           = "auth_error"
	messageQuotaExceeded       = "quota_exceeded"
)

// Config controls the streaming tier.
type Config struct {
	APIBaseURL   string
	OpenTimeout  time.Duration
	// WriteTimeout bounds each websocket write; a peer that stops reading fails the tier.
	WriteTimeout time.Duration
	HTTPClient   *http.Client
	Dialer       *websocket.Dialer
}

// Transport is the streaming tier: a short-lived token, then a websocket carrying frames out
// and transcript segments back.
type Transport struct {
	cfg Config
}

func NewTransport(cfg Config) *Transport {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) Tier() domain.Tier { return domain.TierStreaming }

func (t *Transport) Mode() domain.CaptureMode { return domain.CaptureFrames }

func (t *Transport) Available() bool { return t.cfg.APIBaseURL != "" }

// Open fetches a token, dials the channel and waits for the ready signal, all within OpenTimeout.
func (t *Transport) Open(ctx context.Context, info ports.SessionInfo) (ports.TransportSession, error) {
	if !t.Available() {
		return nil, fmt.Errorf("%w: streaming api is not configured", domain.ErrTransport)
	}
	if info.SampleRate <= 0 {
		info.SampleRate = 16000
	}

	openCtx, cancel := context.WithTimeout(ctx, t.cfg.OpenTimeout)
	defer cancel()

	token, err := t.fetchToken(openCtx)
	if err != nil {
		return nil, openErr(openCtx, err)
	}

	conn, _, err := t.cfg.Dialer.DialContext(openCtx, token.WSURL, nil)
	if err != nil {
		return nil, openErr(openCtx, fmt.Errorf("failed to connect to streaming websocket: %w", err))
	}

	if err := awaitSessionStarted(openCtx, conn); err != nil {
		_ = conn.Close()
		return nil, openErr(openCtx, err)
	}

	session := &streamingSession{
		conn:         conn,
		sampleRate:   info.SampleRate,
		writeTimeout: t.cfg.WriteTimeout,
		events:       make(chan domain.TranscriptEvent, 64),
		frames:       make(chan string, 32),
		closing:      make(chan struct{}),
		writeDone:    make(chan struct{}),
		done:         make(chan struct{}),
	}

	stopWatch := context.AfterFunc(ctx, func() {
		_ = session.Close()
	})

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		stopWatch()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	return session, nil
}

type tokenResponse struct {
	Token string `json:"token"`
	WSURL string `json:"ws_url"`
}

func (t *Transport) fetchToken(ctx context.Context) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.APIBaseURL+"/transcribe/token", nil)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("failed to build token request: %w", err)
	}
	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("failed to fetch streaming token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenResponse{}, fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return tokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if strings.TrimSpace(token.WSURL) == "" {
		return tokenResponse{}, errors.New("token response has no ws_url")
	}
	return token, nil
}

func awaitSessionStarted(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed waiting for session start: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("malformed message before session start: %w", err)
		}
		switch msg.MessageType {
		case messageSessionStarted:
			if !stop() {
				return ctx.Err()
			}
			return conn.SetReadDeadline(time.Time{})
		case messageError, messageAuthError, messageQuotaExceeded:
			return msg.err()
		}
	}
}

func openErr(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransport, err)
}

type serverMessage struct {
	MessageType string `json:"message_type"`
	Text        string `json:"text"`
	Message     string `json:"message"`
	Error       string `json:"error"`
}

func (m serverMessage) err() error {
	detail := strings.TrimSpace(m.Message)
	if detail == "" {
		detail = strings.TrimSpace(m.Error)
	}
	if detail == "" {
		return fmt.Errorf("server sent %s", m.MessageType)
	}
	return fmt.Errorf("server sent %s: %s", m.MessageType, detail)
}

type audioChunk struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base64"`
	Commit      bool   `json:"commit"`
	SampleRate  int    `json:"sample_rate"`
}

type streamingSession struct {
	conn         *websocket.Conn
	sampleRate   int
	writeTimeout time.Duration

	events    chan domain.TranscriptEvent
	frames    chan string
	closing   chan struct{}
	writeDone chan struct{}
	done      chan struct{}

	wg sync.WaitGroup

	failOnce sync.Once

	finishOnce sync.Once
	closeOnce  sync.Once
	sendMu     sync.RWMutex
	sendClosed bool
}

func (s *streamingSession) SendFrame(frame domain.AudioFrame) error {
	if len(frame.Samples) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already flushed")
	}

	select {
	case s.frames <- encodeFrame(frame.Samples):
		return nil
	case <-s.closing:
		return errors.New("session closed")
	case <-s.writeDone:
		return errors.New("audio stream stopped")
	}
}

// Finish ends the frame stream. The write loop sends the commit marker once queued frames drain.
func (s *streamingSession) Finish(context.Context, *domain.AudioClip) error {
	s.finishOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.frames)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.Finish(context.Background(), nil)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(250*time.Millisecond),
		)
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()
	defer close(s.writeDone)

	for encoded := range s.frames {
		if err := s.writeChunk(audioChunk{AudioBase64: encoded}); err != nil {
			s.fail(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	select {
	case <-s.closing:
		return
	default:
	}
	if err := s.writeChunk(audioChunk{Commit: true}); err != nil {
		s.fail(fmt.Errorf("failed to send commit: %w", err))
	}
}

func (s *streamingSession) writeChunk(chunk audioChunk) error {
	chunk.MessageType = messageInputAudioChunk
	chunk.SampleRate = s.sampleRate
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(chunk)
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				s.fail(fmt.Errorf("failed to read transcript event: %w", err))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.fail(fmt.Errorf("malformed transcript event: %w", err))
			return
		}

		switch msg.MessageType {
		case messagePartialTranscript:
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: msg.Text})
		case messageCommittedTranscript:
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindCommitted, Text: msg.Text})
		case messageError, messageAuthError, messageQuotaExceeded:
			s.fail(msg.err())
			return
		}
	}
}

func (s *streamingSession) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// fail emits the single failed event of this attempt. Failures after Close are not reported.
func (s *streamingSession) fail(err error) {
	if s.isClosing() {
		return
	}
	s.failOnce.Do(func() {
		s.emit(domain.TranscriptEvent{
			Kind: domain.TranscriptKindFailed,
			Err:  fmt.Errorf("%w: %w", domain.ErrTransport, err),
		})
	})
}

func (s *streamingSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

// encodeFrame packs samples as base64 s16le PCM.
func encodeFrame(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return base64.StdEncoding.EncodeToString(buf)
}
