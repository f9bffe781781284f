package inference

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
	"sync"
	"time"

	"dopchat/config"
	"dopchat/metrics"
)

const sleepingMessage = "The server is waking up. This can take a few minutes..."

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 << 10

type Timeouts struct {
	Submit   time.Duration
	Poll     time.Duration
	Feedback time.Duration
	Health   time.Duration
	Queue    time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Submit:   30 * time.Second,
		Poll:     10 * time.Second,
		Feedback: 15 * time.Second,
		Health:   5 * time.Second,
		Queue:    10 * time.Second,
	}
}

// Client talks to the question-answering service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeouts   Timeouts
	backoff    *Backoff
	metrics    *metrics.Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeouts(t Timeouts) Option {
	return func(c *Client) { c.timeouts = t }
}

func WithBackoff(b *Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeouts:   DefaultTimeouts(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.backoff == nil {
		c.backoff = NewBackoff(DefaultBackoffConfig(), nil)
	}

	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submission is the outcome of SubmitQuestion. When the service was asleep,
// Response carries a synthetic sleeping status and the real outcome arrives
// through Wait once the background retries settle.
type Submission struct {
	Response QueueResponse

	pending chan submitOutcome

	mu      sync.Mutex
	settled bool
	final   submitOutcome
}

type submitOutcome struct {
	resp QueueResponse
	err  error
}

// NewSubmission wraps a response that needs no further waiting.
func NewSubmission(resp QueueResponse) *Submission {
	return &Submission{Response: resp}
}

// NewDeferredSubmission wraps an interim response. The returned resolve
// func delivers the final outcome; only its first call counts.
func NewDeferredSubmission(initial QueueResponse) (*Submission, func(QueueResponse, error)) {
	s := &Submission{
		Response: initial,
		pending:  make(chan submitOutcome, 1),
	}
	var once sync.Once
	resolve := func(resp QueueResponse, err error) {
		once.Do(func() {
			s.pending <- submitOutcome{resp: resp, err: err}
		})
	}
	return s, resolve
}

// Sleeping reports whether the service was waking up at submission time.
func (s *Submission) Sleeping() bool {
	return s.pending != nil
}

// Wait blocks until the background retries succeed or give up. For a
// submission that did not hit a sleeping service it returns immediately.
func (s *Submission) Wait(ctx context.Context) (QueueResponse, error) {
	if s.pending == nil {
		return s.Response, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.settled {
		select {
		case out := <-s.pending:
			s.final = out
			s.settled = true
		case <-ctx.Done():
			return QueueResponse{}, ctx.Err()
		}
	}
	return s.final.resp, s.final.err
}

// SubmitQuestion sends a question. A cold-start signal on the first attempt
// returns right away with a sleeping response while the same request keeps
// retrying in the background under ctx.
func (c *Client) SubmitQuestion(ctx context.Context, question string) (*Submission, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	resp, err := c.submitOnce(ctx, question)
	if err == nil {
		return NewSubmission(resp), nil
	}
	if !errors.Is(err, ErrServiceSleeping) {
		return nil, err
	}

	config.Log.Info().Err(err).Msg("service sleeping, retrying submission in background")

	sub, resolve := NewDeferredSubmission(QueueResponse{
		Question: question,
		Status:   StatusSleeping,
		Message:  sleepingMessage,
	})
	go c.retrySubmit(ctx, question, resolve)

	return sub, nil
}

func (c *Client) retrySubmit(ctx context.Context, question string, resolve func(QueueResponse, error)) {
	maxAttempts := c.backoff.MaxAttempts()

	// attempt 1 already happened in SubmitQuestion
	for retry := 0; retry < maxAttempts-1; retry++ {
		delay := c.backoff.Next(retry)
		config.Log.Debug().Int("retry", retry+1).Dur("delay", delay).Msg("waiting before submission retry")

		if err := c.sleep(ctx, delay); err != nil {
			resolve(QueueResponse{}, err)
			return
		}

		c.metrics.RecordColdStartRetry()
		resp, err := c.submitOnce(ctx, question)
		if err == nil {
			config.Log.Info().Int("attempt", retry+2).Str("request_id", resp.RequestID).Msg("service woke up")
			resolve(resp, nil)
			return
		}
		if !errors.Is(err, ErrServiceSleeping) {
			resolve(QueueResponse{}, err)
			return
		}
	}

	config.Log.Warn().Int("attempts", maxAttempts).Msg("wake-up retries exhausted")
	resolve(QueueResponse{}, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, maxAttempts))
}

func (c *Client) submitOnce(ctx context.Context, question string) (QueueResponse, error) {
	var resp QueueResponse
	err := c.do(ctx, "chat", http.MethodPost, "/chat", c.timeouts.Submit, ChatRequest{Question: question}, &resp)
	if err != nil {
		return QueueResponse{}, err
	}
	return resp, nil
}

// PollStatus checks a request once. A cold-start signal comes back as a
// sleeping status rather than an error, so the caller's poll schedule acts
// as the retry loop.
func (c *Client) PollStatus(ctx context.Context, requestID string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, "status", http.MethodGet, "/status/"+url.PathEscape(requestID), c.timeouts.Poll, nil, &resp)
	if errors.Is(err, ErrServiceSleeping) {
		return StatusResponse{
			RequestID: requestID,
			Status:    StatusSleeping,
			Message:   sleepingMessage,
		}, nil
	}
	if err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) (FeedbackResponse, error) {
	var resp FeedbackResponse
	if err := c.do(ctx, "feedback", http.MethodPost, "/feedback", c.timeouts.Feedback, req, &resp); err != nil {
		return FeedbackResponse{}, err
	}
	return resp, nil
}

// CheckHealth maps GET /health onto a HealthState. Timeouts and transport
// errors count as sleeping since a scaled-down service looks the same.
func (c *Client) CheckHealth(ctx context.Context) (HealthState, error) {
	err := c.do(ctx, "health", http.MethodGet, "/health", c.timeouts.Health, nil, nil)
	if err == nil {
		return HealthOnline, nil
	}
	if errors.Is(err, ErrServiceSleeping) {
		return HealthSleeping, nil
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return HealthUnknown, nil
	}
	if ctx.Err() != nil {
		return HealthUnknown, err
	}
	return HealthSleeping, err
}

// QueueInfo fetches the service's aggregate queue description.
func (c *Client) QueueInfo(ctx context.Context) (map[string]any, error) {
	var info map[string]any
	if err := c.do(ctx, "queue", http.MethodGet, "/queue", c.timeouts.Queue, nil, &info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, timeout time.Duration, in, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransportError(ctx, callCtx, endpoint, start, timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.RecordRemoteCall(endpoint, "sleeping", time.Since(start))
		config.Log.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("cold start signal")
		return fmt.Errorf("%w: %s returned %d", ErrServiceSleeping, endpoint, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.RecordRemoteCall(endpoint, "http_error", time.Since(start))
		config.Log.Warn().Str("endpoint", endpoint).Int("status", resp.StatusCode).Str("body", string(data)).Msg("request failed")
		return &RequestError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	} else if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			c.metrics.RecordRemoteCall(endpoint, "timeout", time.Since(start))
			return fmt.Errorf("%w: %s timed out after %s", ErrServiceSleeping, endpoint, timeout)
		}
		c.metrics.RecordRemoteCall(endpoint, "decode_error", time.Since(start))
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	c.metrics.RecordRemoteCall(endpoint, "ok", time.Since(start))
	return nil
}

func (c *Client) classifyTransportError(ctx, callCtx context.Context, endpoint string, start time.Time, timeout time.Duration, err error) error {
	elapsed := time.Since(start)

	// the caller gave up; not a service condition
	if ctx.Err() != nil {
		c.metrics.RecordRemoteCall(endpoint, "cancelled", elapsed)
		return ctx.Err()
	}

	if callCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		c.metrics.RecordRemoteCall(endpoint, "timeout", elapsed)
		config.Log.Debug().Str("endpoint", endpoint).Dur("timeout", timeout).Msg("request timed out")
		return fmt.Errorf("%w: %s timed out after %s", ErrServiceSleeping, endpoint, timeout)
	}

	c.metrics.RecordRemoteCall(endpoint, "error", elapsed)
	config.Log.Warn().Err(err).Str("endpoint", endpoint).Msg("transport error")
	return fmt.Errorf("%s request failed: %w", endpoint, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
