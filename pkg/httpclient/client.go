// Package httpclient provides the pooled, retrying HTTP client shared by
// search backends and remote storage providers. Connections are pooled via
// a shared transport; failed requests retry on a fixed backoff schedule,
// honoring Retry-After hints; the underlying session is replaced when close
// is detected mid-flight.
package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBackoffSchedule is the delay before each retry attempt.
var DefaultBackoffSchedule = []time.Duration{
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
}

// RateLimitInfo carries throttling hints parsed from response headers.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
}

// RateLimitHeaderParser extracts throttling hints from response headers.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// Client wraps http.Client with pooling, bounded retries, and session
// replacement. Safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	session *http.Client

	backoff      []time.Duration
	headerParser RateLimitHeaderParser
	timeout      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each individual request attempt.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithBackoffSchedule replaces the retry delays. The schedule length is the
// retry count.
func WithBackoffSchedule(schedule []time.Duration) Option {
	return func(c *Client) {
		c.backoff = append([]time.Duration(nil), schedule...)
	}
}

// WithHeaderParser installs a rate-limit header parser. Defaults to
// ParseRetryHeaders.
func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

// WithHTTPClient substitutes the underlying session, mainly for tests.
func WithHTTPClient(session *http.Client) Option {
	return func(c *Client) {
		c.session = session
	}
}

// New creates a pooled retrying client.
func New(opts ...Option) *Client {
	c := &Client{
		backoff:      DefaultBackoffSchedule,
		headerParser: ParseRetryHeaders,
		timeout:      30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.session == nil {
		c.session = &http.Client{
			Transport: NewPooledTransport(nil),
			Timeout:   c.timeout,
		}
	}

	return c
}

// Do executes req, retrying retryable failures per the backoff schedule.
// The request must carry GetBody when it has a body, so retries can replay
// it; http.NewRequest sets GetBody for the common body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	maxAttempts := len(c.backoff) + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff[attempt-1]
			if hint, ok := retryAfterOf(lastErr); ok && hint > delay {
				delay = hint
			}

			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(delay):
			}

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.currentSession().Do(req)
		if err != nil {
			if isSessionClosed(err) {
				c.replaceSession()
			}
			lastErr = err
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		var info RateLimitInfo
		if c.headerParser != nil {
			info = c.headerParser(resp.Header)
		}
		if resp.Close {
			c.replaceSession()
		}

		// Drain so the pooled connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		lastErr = &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			RetryAfter: retryDelay(info),
		}
	}

	return nil, &RetryableError{
		Message: fmt.Sprintf("max retries (%d) exceeded", len(c.backoff)),
		Err:     lastErr,
	}
}

func (c *Client) currentSession() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// replaceSession swaps in a fresh session with a new connection pool. Idle
// connections of the old session are closed.
func (c *Client) replaceSession() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if transport, ok := c.session.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	c.session = &http.Client{
		Transport: NewPooledTransport(nil),
		Timeout:   c.timeout,
	}
}

// retryableStatus reports whether a response status warrants a retry.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryDelay(info RateLimitInfo) time.Duration {
	if info.RetryAfter > 0 {
		return info.RetryAfter
	}
	if info.ResetTime > 0 {
		if delay := time.Until(time.Unix(info.ResetTime, 0)); delay > 0 {
			return delay
		}
	}
	return 0
}

func retryAfterOf(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) && re.RetryAfter > 0 {
		return re.RetryAfter, true
	}
	return 0, false
}

// isSessionClosed reports whether err indicates the remote or the pool
// closed the connection under us.
func isSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "use of closed network connection")
}
