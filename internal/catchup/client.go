// Package catchup implements the REST-based catch-up fetcher: cursor
// pagination over notification history and unread counts per category. It
// is the repair path for state the stream may have missed on reconnect or
// cold start; both endpoints are idempotent GETs, safe to poll.
package catchup

import (
	"log/slog"
	"net/http"
	"time"
)

// Retries stay short: the stream controller refetches on every reconnect
// anyway, so a catch-up call that keeps failing is abandoned rather than
// held open against the relay.
const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBackoff   = time.Second
)

// Client fetches from the relay's catch-up REST endpoints.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a catch-up client. token is the same session token the
// WebSocket handshake uses, sent as a bearer credential.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
		logger:       slog.Default(),
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries overrides the retry budget and initial backoff.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client, for tests or for
// hosts that carry their own transport (proxies, client certs).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
