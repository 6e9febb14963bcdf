package hibp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/607011/hibpdl/pkg/hashcount"
)

// DefaultBaseURL is the production Pwned Passwords endpoint.
const DefaultBaseURL = "https://api.pwnedpasswords.com"

// ErrBadPrefix reports a range prefix that is not 5 uppercase hex characters.
var ErrBadPrefix = errors.New("hibp: prefix must be 5 uppercase hex characters")

// StatusError is a non-200 answer from the range API. The API signals
// rate limiting with 429 and transient trouble with 5xx; callers treat
// every StatusError as retryable.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hibp: unexpected status %s", e.Status)
}

// Options configures the API client.
type Options struct {
	// BaseURL of the range API.
	// Default: DefaultBaseURL
	BaseURL string

	// UserAgent sent with every request. The API rejects requests
	// without one.
	// Default: "hibpdl"
	UserAgent string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 30s
	Timeout time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:             DefaultBaseURL,
		UserAgent:           "hibpdl",
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
	}
}

// Client fetches hash ranges from the Pwned Passwords API.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new API client. Zero-valued option fields fall back
// to DefaultOptions.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxIdleConnsPerHost == 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout == 0 {
		opts.Timeout = def.Timeout
	}

	// Transparent gzip stays enabled; range bodies compress well.
	transport := &http.Transport{
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
}

// Range fetches the hash range for a 5-character hex prefix and returns
// the decoded records. It performs a single attempt: a non-200 answer
// comes back as a *StatusError and transport failures come back wrapped,
// so the caller's retry loop can stay in charge. Records decoded before a
// malformed line are returned alongside an error wrapping ErrMalformedLine.
//
// The request is detached from ctx cancellation: a cooperative stop must
// never abort a transfer in flight. The client timeout bounds each request
// instead.
func (c *Client) Range(ctx context.Context, prefix string) (hashcount.Collection, error) {
	if !validPrefix(prefix) {
		return nil, fmt.Errorf("%w: %q", ErrBadPrefix, prefix)
	}

	url := c.opts.BaseURL + "/range/" + prefix
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch range %s: %w", prefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	return ParseRange(prefix, resp.Body)
}

// validPrefix reports whether s is exactly 5 uppercase hex characters.
func validPrefix(s string) bool {
	if len(s) != 5 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
