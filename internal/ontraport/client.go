package ontraport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vcto/ontraport-adapter/internal/trace"
)

// DefaultBaseURL is the versioned Ontraport API root.
const DefaultBaseURL = "https://api.ontraport.com/1"

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	maxErrorBodyBytes = 512
)

// Config holds the immutable settings for a Client. AppID and APIKey are
// required; everything else has a default.
type Config struct {
	AppID      string        // Api-Appid header, sent on every request
	APIKey     string        // Api-Key header, sent on every request
	BaseURL    string        // API root, defaults to DefaultBaseURL
	Timeout    time.Duration // per-request timeout, defaults to 30s
	MaxRetries int           // extra GET attempts on transport/5xx failure; negative disables
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Client handles authenticated Ontraport API requests. It is safe for
// concurrent use; the only mutable state is the rate limiter.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *RateLimiter
	recorder trace.Recorder
	locks    *keyedMutex
}

// NewClient creates an Ontraport API client from explicit configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.AppID == "" || cfg.APIKey == "" {
		return nil, errors.New("ontraport: app id and api key are required")
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  NewRateLimiter(),
		recorder: trace.NoOp{},
		locks:    newKeyedMutex(),
	}, nil
}

// SetRecorder attaches a diagnostic call recorder. Attach before issuing
// requests; the recorder is written fire-and-forget off the request path.
func (c *Client) SetRecorder(r trace.Recorder) {
	if r == nil {
		r = trace.NoOp{}
	}
	c.recorder = r
}

// SetRateLimiter replaces the default limiter. Attach before issuing
// requests.
func (c *Client) SetRateLimiter(rl *RateLimiter) {
	if rl != nil {
		c.limiter = rl
	}
}

// Request performs a single authenticated API call and decodes the response
// envelope. Params are appended to the URL for GET, sent form-encoded as the
// body for POST and PUT, and ignored for DELETE.
//
// Failures are distinguished, not conflated: a network fault comes back
// wrapped, a non-2xx status as *APIError, an unparseable body as ErrDecode.
func (c *Client) Request(ctx context.Context, method, resource string, params url.Values) (*Envelope, error) {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += c.cfg.MaxRetries
	}

	start := time.Now()
	env, err := c.dispatch(ctx, method, resource, params, attempts)
	c.record(method, resource, params, env, err, time.Since(start))
	return env, err
}

func (c *Client) dispatch(ctx context.Context, method, resource string, params url.Values, attempts int) (*Envelope, error) {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		env, err := c.do(ctx, method, resource, params)
		if err == nil {
			c.limiter.ResetBackoff()
			return env, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status == http.StatusTooManyRequests {
				c.limiter.HandleRateLimit()
			} else if apiErr.Status < 500 {
				// 4xx other than rate limiting will not improve on retry.
				return nil, err
			}
		} else if errors.Is(err, ErrDecode) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, resource string, params url.Values) (*Envelope, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(resource, "/")

	var body io.Reader
	switch method {
	case http.MethodGet:
		if encoded := params.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}
	case http.MethodPost, http.MethodPut:
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Api-Appid", c.cfg.AppID)
	req.Header.Set("Api-Key", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, resource, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(respBody), maxErrorBodyBytes)}
	}

	return decodeEnvelope(respBody)
}

// record hands the call off to the diagnostic recorder without blocking the
// request path. Recorder failures are its own problem, never the caller's.
func (c *Client) record(method, resource string, params url.Values, env *Envelope, callErr error, d time.Duration) {
	if !c.recorder.Enabled() {
		return
	}
	go func() {
		_ = c.recorder.Record(method, resource, params, env, callErr, d)
	}()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
