// Package httpclient provides the bounded-retry outbound HTTP client
// used to talk to the raw server and classifier workers (spec §7:
// "non-2xx from raw server or classifier worker → bounded retry (5),
// then surface as a server error").
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ilastik/blockpipeline/internal/apierr"
)

// Client wraps http.Client with a bounded retry policy applied to
// every request. One Client is constructed per remote endpoint
// (per raw server, per classifier worker) during /setup.
type Client struct {
	base     *http.Client
	baseURL  string
	attempts uint64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.base.Timeout = d }
}

// WithAttempts overrides the default retry budget of 5 attempts.
func WithAttempts(n uint64) Option {
	return func(c *Client) { c.attempts = n }
}

// New constructs a retrying client bound to baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:     &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		attempts: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the endpoint this client was constructed for.
func (c *Client) BaseURL() string { return c.baseURL }

// Get performs GET path against the base URL, retrying non-2xx and
// transport errors up to the configured attempt budget with
// exponential backoff, and returns the response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs POST path with body against the base URL under the
// same retry policy as Get.
func (c *Client) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.attempts-1)
	policy = backoff.WithContext(policy, ctx)

	var result []byte
	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		resp, err := c.base.Do(req)
		if err != nil {
			return fmt.Errorf("transport error: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		}
		result = data
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, apierr.RemoteFetch(fmt.Errorf("%s%s after retries: %w", c.baseURL, path, err))
	}
	return result, nil
}
