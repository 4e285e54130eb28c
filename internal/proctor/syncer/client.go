package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/proctor/internal/domain/exam"
	"github.com/okian/proctor/internal/domain/violation"
)

// DefaultTimeout bounds each backend call.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// ErrConflict is returned when the backend refuses a write with 409.
var ErrConflict = errors.New("backend conflict")

// StatusError is returned for a non-2xx response the client has no sentinel for.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Ack is the backend's answer to a violation batch.
type Ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Client talks JSON to the backend. It implements exam.Store.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// ClientOption applies a configuration option to the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ exam.Store = (*Client)(nil)

// PostViolations sends one batch. Both a fresh accept and a duplicate
// acknowledgement count as delivered.
func (c *Client) PostViolations(ctx context.Context, batch violation.Batch) (Ack, error) {
	var ack Ack
	if err := c.do(ctx, http.MethodPost, "/violations", batch, &ack); err != nil {
		return Ack{}, fmt.Errorf("posting violations: %w", err)
	}
	return ack, nil
}

// FindActive returns the active session for key, or exam.ErrNotFound.
func (c *Client) FindActive(ctx context.Context, key exam.Key) (exam.Session, error) {
	q := url.Values{}
	q.Set("candidate_id", key.CandidateID)
	q.Set("job_id", key.JobID)
	q.Set("assessment_type", string(key.AssessmentType))
	var sess exam.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/active?"+q.Encode(), nil, &sess); err != nil {
		return exam.Session{}, fmt.Errorf("finding active session: %w", err)
	}
	return sess, nil
}

// Create stores a new session; exam.ErrActiveExists when the key already has one.
func (c *Client) Create(ctx context.Context, s exam.Session) (exam.Session, error) {
	var sess exam.Session
	if err := c.do(ctx, http.MethodPost, "/sessions", s, &sess); err != nil {
		if errors.Is(err, ErrConflict) {
			return exam.Session{}, fmt.Errorf("creating session: %w: %w", exam.ErrActiveExists, err)
		}
		return exam.Session{}, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Update overwrites the stored session.
func (c *Client) Update(ctx context.Context, s exam.Session) (exam.Session, error) {
	var sess exam.Session
	if err := c.do(ctx, http.MethodPut, "/sessions/"+url.PathEscape(s.ID), s, &sess); err != nil {
		return exam.Session{}, fmt.Errorf("updating session: %w", err)
	}
	return sess, nil
}

// Violations returns what the backend stored for sessionID.
func (c *Client) Violations(ctx context.Context, sessionID string) ([]violation.Log, error) {
	var logs []violation.Log
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/violations", nil, &logs); err != nil {
		return nil, fmt.Errorf("listing violations: %w", err)
	}
	return logs, nil
}

// Healthy reports whether the backend answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	se := &StatusError{Code: code, Body: string(body)}
	switch code {
	case http.StatusNotFound:
		return errors.Join(exam.ErrNotFound, se)
	case http.StatusConflict:
		return errors.Join(ErrConflict, se)
	}
	return se
}
