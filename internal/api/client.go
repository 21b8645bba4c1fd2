package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/livewire/internal/version"
)

// Defaults applied by NewClient.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
)

// Client fetches upstream resources that the refresher keeps warm in the
// executor cache. Paths are joined to the base URL verbatim and signed
// with the same credentials the websocket handshake uses.
type Client struct {
	baseURL    string
	signer     Signer
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string

	// Transient failures (transport errors, 5xx, 429) are retried up to
	// maxRetries times with jittered exponential backoff.
	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for the upstream rooted at baseURL. A
// trailing slash on baseURL is dropped.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		logger:       slog.Default(),
		userAgent:    version.UserAgent(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout bounds each attempt, not the whole retry sequence. The
// executor's operation timeout bounds the sequence.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times a retryable failure is retried and the
// base delay between attempts. max 0 disables retries.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithSigner attaches access headers to every request.
func WithSigner(s Signer) ClientOption {
	return func(c *Client) { c.signer = s }
}

// WithLogger sets the logger retries are reported on. nil keeps the
// default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the transport, e.g. for an httptest server.
// It overrides any WithTimeout applied before it.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func (c *Client) BaseURL() string { return c.baseURL }
