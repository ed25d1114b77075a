package awr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// Client is the typed client for the AWR report service.
type Client struct {
	baseURL    string
	token      string
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

// New creates a Client from an explicit configuration.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("awr: BaseURL is required")
	}
	cfg = cfg.withDefaults()

	cc := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cc); err != nil {
			return nil, err
		}
	}

	httpClient := cc.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cc.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    cc.limiter,
		logger:     logger,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithRateLimit caps outgoing requests at r per second with the given burst.
// Polling loops share the same limiter.
func WithRateLimit(r float64, burst int) Option {
	return func(cfg *clientConfig) error {
		if r <= 0 || burst <= 0 {
			return fmt.Errorf("awr: rate limit must be positive (got %v/%d)", r, burst)
		}
		cfg.limiter = rate.NewLimiter(rate.Limit(r), burst)
		return nil
	}
}

// Config returns the effective configuration, defaults applied.
func (c *Client) Config() Config { return c.cfg }

type request struct {
	method      string
	url         string
	operation   string
	body        []byte
	contentType string
	header      http.Header
}

// doJSON executes req under the per-call timeout and decodes a JSON response
// into dst. It returns the HTTP status so callers can tell 204 from 200.
func (c *Client) doJSON(ctx context.Context, req request, dst any) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(callCtx); err != nil {
			return 0, c.classify(ctx, req.operation, err)
		}
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.method, req.url, body)
	if err != nil {
		return 0, fmt.Errorf("%s: create request: %w", req.operation, err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	c.logger.InfoContext(ctx, "API request", "operation", req.operation, "method", req.method, "url", req.url)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, c.classify(ctx, req.operation, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "API response", "operation", req.operation, "status", resp.StatusCode)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, c.classify(ctx, req.operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		eb := decodeErrorBody(respBody)
		apiErr := newAPIError(req.operation, resp.StatusCode, eb.Code, eb.Detail)
		apiErr.reportStatus = eb.Status
		apiErr.runID = eb.RunID
		return resp.StatusCode, apiErr
	}

	if dst != nil && resp.StatusCode != http.StatusNoContent && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, dst); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", req.operation, err)
		}
	}
	return resp.StatusCode, nil
}

// classify maps a failed round trip onto the error taxonomy. Cancellation of
// the caller's own context is returned as-is so abandoned views stay silent.
func (c *Client) classify(parent context.Context, operation string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: %w", operation, parent.Err())
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{operation: operation, after: c.cfg.Timeout}
	}
	return &TransportError{operation: operation, err: err}
}

// decodeErrorBody extracts the ErrorBody fields. A non-string detail (such as
// a list of field errors) is kept as its raw JSON text, and a body that is not
// JSON at all becomes the detail.
func decodeErrorBody(body []byte) ErrorBody {
	var raw struct {
		Detail json.RawMessage `json:"detail"`
		Code   string          `json:"code"`
		Status Status          `json:"status"`
		RunID  int64           `json:"run_id"`
	}
	if json.Unmarshal(body, &raw) != nil {
		return ErrorBody{Detail: strings.TrimSpace(string(body))}
	}
	eb := ErrorBody{Code: raw.Code, Status: raw.Status, RunID: raw.RunID}
	if len(raw.Detail) > 0 {
		var s string
		if json.Unmarshal(raw.Detail, &s) == nil {
			eb.Detail = s
		} else if string(raw.Detail) != "null" {
			eb.Detail = string(raw.Detail)
		}
	}
	return eb
}

func (c *Client) reportURL(id int64, suffix string) string {
	return fmt.Sprintf("%s/reports/%d%s", c.baseURL, id, suffix)
}
