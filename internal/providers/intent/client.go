package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voxsearch/internal/domain"
)

// ExtractionError reports a failed or malformed extraction call. Callers fall back to a raw search.
type ExtractionError struct {
	Status int
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("intent extraction failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("intent extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Config controls the extraction client.
type Config struct {
	APIBaseURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client calls POST {api}/voice/extract.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg}
}

type extractRequest struct {
	Transcript string `json:"transcript"`
}

func (c *Client) Extract(ctx context.Context, transcript string) (domain.ExtractionResult, error) {
	if c.cfg.APIBaseURL == "" {
		return domain.ExtractionResult{}, &ExtractionError{Err: errors.New("extraction api is not configured")}
	}
	if strings.TrimSpace(transcript) == "" {
		return domain.ExtractionResult{}, &ExtractionError{Err: errors.New("transcript is required")}
	}

	body, err := json.Marshal(extractRequest{Transcript: transcript})
	if err != nil {
		return domain.ExtractionResult{}, &ExtractionError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/voice/extract", bytes.NewReader(body))
	if err != nil {
		return domain.ExtractionResult{}, &ExtractionError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return domain.ExtractionResult{}, &ExtractionError{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ExtractionResult{}, &ExtractionError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ExtractionResult{}, &ExtractionError{
			Status: resp.StatusCode,
			Err:    errors.New(strings.TrimSpace(string(payload))),
		}
	}

	var result domain.ExtractionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.ExtractionResult{}, &ExtractionError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return result, nil
}
