package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"voxsearch/internal/domain"
	"voxsearch/internal/ports"
	"voxsearch/internal/providers/oneshot"
)

// Config controls the buffered upload tier.
type Config struct {
	APIBaseURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Transport uploads the sealed clip in one request and reads back a single transcript.
type Transport struct {
	cfg Config
}

func NewTransport(cfg Config) *Transport {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) Tier() domain.Tier { return domain.TierBuffered }

func (t *Transport) Mode() domain.CaptureMode { return domain.CaptureClip }

func (t *Transport) Available() bool { return t.cfg.APIBaseURL != "" }

func (t *Transport) Open(ctx context.Context, _ ports.SessionInfo) (ports.TransportSession, error) {
	if !t.Available() {
		return nil, fmt.Errorf("%w: upload api is not configured", domain.ErrTransport)
	}
	return oneshot.NewSession(ctx, t.Transcribe), nil
}

type transcribeResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error"`
}

// Transcribe posts the clip as the multipart "file" field of POST {api}/transcribe.
func (t *Transport) Transcribe(ctx context.Context, clip domain.AudioClip) (string, error) {
	body, contentType, err := multipartClip(clip)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.APIBaseURL+"/transcribe", body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload clip: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("transcribe endpoint returned %s", resp.Status)
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if !decoded.Success {
		message := strings.TrimSpace(decoded.Error)
		if message == "" {
			message = "transcription was not successful"
		}
		return "", errors.New(message)
	}
	return decoded.Text, nil
}

func multipartClip(clip domain.AudioClip) (*bytes.Buffer, string, error) {
	mimeType := clip.MimeType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="recording.wav"`)
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create multipart file: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write multipart file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
