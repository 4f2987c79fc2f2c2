// Package facilitator implements the outbound client for x402 payment
// verification and settlement.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	x402 "github.com/x402arcade/x402-go"
)

const (
	verifyPath    = "/v2/x402/verify"
	settlePath    = "/v2/x402/settle"
	supportedPath = "/v2/x402/supported"

	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoffBase = 250 * time.Millisecond

	maxResponseBody = 64 << 10
)

// Client talks to an x402 facilitator service. It satisfies
// x402.Facilitator.
//
// Transient failures (5xx, network errors, timeouts) are retried with
// exponential backoff up to the attempt limit. 4xx responses are
// deterministic rejections and are never retried.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	log         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout on the underlying client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxAttempts bounds how many times a transient failure is retried.
// The minimum is 1 (no retries).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the first retry delay; each subsequent attempt
// doubles it.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// WithLogger attaches a structured logger for call diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a facilitator client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify checks the authorization signature and payer balance via
// POST /v2/x402/verify.
func (c *Client) Verify(ctx context.Context, req *x402.SettlementRequest) (*x402.VerifyResult, error) {
	var result x402.VerifyResult
	if err := c.post(ctx, verifyPath, "verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Settle executes the transfer on-chain via POST /v2/x402/settle. When the
// call times out the settlement may still have completed on the
// facilitator side; the returned error says so rather than guessing.
func (c *Client) Settle(ctx context.Context, req *x402.SettlementRequest) (*x402.SettlementResponse, error) {
	var result x402.SettlementResponse
	if err := c.post(ctx, settlePath, "settle", req, &result); err != nil {
		var serr *x402.SettlementError
		if errors.As(err, &serr) && serr.Code() == x402.CodeTimeout {
			serr.ProtocolError = serr.ProtocolError.WithDetails("settlementState", "unknown")
		}
		return nil, err
	}
	return &result, nil
}

// Supported fetches the facilitator's supported scheme+network pairs via
// GET /v2/x402/supported. Useful as a startup health probe.
func (c *Client) Supported(ctx context.Context) (*x402.SupportedInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+supportedPath, nil)
	if err != nil {
		return nil, x402.Wrap(err)
	}
	httpReq.Header.Set(x402.HeaderFacilitatorVersion, x402.ProtocolVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return nil, x402.SettlementFromError(err, duration)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return nil, x402.SettlementFromHTTPResponse(resp.StatusCode, string(body), nil, duration)
	}

	var info x402.SupportedInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, x402.Wrap(fmt.Errorf("decode supported response: %w", err))
	}
	return &info, nil
}

// post issues one JSON POST with bounded retries for transient failures.
func (c *Client) post(ctx context.Context, path, operation string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return x402.Wrap(fmt.Errorf("marshal %s request: %w", operation, err))
	}

	var lastErr *x402.SettlementError
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		serr := c.doOnce(ctx, path, operation, payload, target, attempt)
		if serr == nil {
			return nil
		}
		lastErr = serr
		if !serr.Retryable() || attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, attempt); err != nil {
			break
		}
	}
	return lastErr
}

// doOnce performs a single attempt and classifies its failure.
func (c *Client) doOnce(ctx context.Context, path, operation string, payload []byte, target any, attempt int) *x402.SettlementError {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return x402.SettlementFromError(err, 0)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(x402.HeaderFacilitatorVersion, x402.ProtocolVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		c.log.Debug("facilitator call failed",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("duration", duration),
			zap.Error(err))
		return x402.SettlementFromError(err, duration)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return x402.SettlementFromError(err, duration)
	}

	c.log.Debug("facilitator call",
		zap.String("operation", operation),
		zap.Int("attempt", attempt),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return x402.SettlementFromHTTPResponse(resp.StatusCode, string(raw), nil, duration)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		base := x402.NewErrorf(x402.CodeFacilitatorError,
			"facilitator returned a malformed %s response", operation).WithCause(err)
		return &x402.SettlementError{
			ProtocolError: base,
			StatusCode:    resp.StatusCode,
			Body:          string(raw),
			Duration:      duration,
		}
	}
	return nil
}

// sleep waits for the exponential backoff delay, giving up early when the
// context is done.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoffBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
