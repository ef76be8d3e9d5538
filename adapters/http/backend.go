// Package http provides the HTTP client for the document conversion backend.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vivek1240/docling-api/domain/convert"
	"github.com/vivek1240/docling-api/ports"
)

// Conversion responses are bounded to keep a misbehaving backend from
// exhausting memory.
const maxResponseBytes = 100 << 20 // 100MB

// BackendConfig contains configuration for the backend client.
type BackendConfig struct {
	BaseURL         string
	Timeout         time.Duration // Whole-conversion deadline (default: 300s)
	MaxRetries      int           // Attempts per request (default: 3)
	RetryBaseDelay  time.Duration // First backoff step (default: 500ms)
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// BackendClient implements ports.Backend over HTTP with bounded
// exponential retries. Conversions are slow, so the timeout is long and
// applied per call via context.
type BackendClient struct {
	client     *http.Client
	baseURL    *url.URL
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger

	// onRetry is invoked once per retry attempt; wired to metrics.
	onRetry func()
}

// NewBackendClient creates a new conversion backend client.
func NewBackendClient(cfg BackendConfig, logger zerolog.Logger) (*BackendClient, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &BackendClient{
		// The per-call context carries the deadline; the client itself
		// has none so retries share one budget.
		client:     &http.Client{Transport: transport},
		baseURL:    baseURL,
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		logger:     logger,
	}, nil
}

// OnRetry registers a callback invoked on every retry attempt.
func (c *BackendClient) OnRetry(fn func()) {
	c.onRetry = fn
}

// Convert forwards a batch conversion request to the backend.
func (c *BackendClient) Convert(ctx context.Context, req convert.Request) (convert.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return convert.Result{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: "/v1alpha/convert/source"})

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			if c.onRetry != nil {
				c.onRetry()
			}
			delay := c.baseDelay << (attempt - 1)
			c.logger.Warn().
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying backend conversion")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return convert.Result{}, c.wrapErr(ctx.Err())
			}
		}

		result, err := c.doConvert(ctx, endpoint.String(), body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			break
		}
	}

	return convert.Result{}, c.wrapErr(lastErr)
}

func (c *BackendClient) doConvert(ctx context.Context, endpoint string, body []byte) (convert.Result, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return convert.Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return convert.Result{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return convert.Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return convert.Result{}, &statusError{code: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return convert.Result{}, fmt.Errorf("backend status %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var decoded struct {
		Results []convert.DocumentResult `json:"results"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return convert.Result{}, fmt.Errorf("decode response: %w", err)
	}

	return convert.Result{
		Results:          decoded.Results,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// HealthCheck verifies the backend is reachable.
func (c *BackendClient) HealthCheck(ctx context.Context) error {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: "/health"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ports.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ports.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (c *BackendClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// statusError marks 5xx responses as retryable.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend status %d", e.code)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Context expiry is terminal, not retryable.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func (c *BackendClient) wrapErr(err error) error {
	if err == nil {
		return ports.ErrBackendUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ports.ErrBackendTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ports.ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ports.ErrBackendUnavailable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Ensure interface compliance.
var _ ports.Backend = (*BackendClient)(nil)
