package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPClient implements Client over HTTP JSON-RPC with strictly-ordered
// endpoint failover: for one logical call, endpoints are
// tried in order, and within each endpoint up to MaxRetries attempts are
// made with exponential back-off before advancing.
type HTTPClient struct {
	endpoints     []string
	currentIndex  int
	healthTracker HealthTracker
	httpClient    *http.Client
	requestID     atomic.Int64
	mu            sync.RWMutex

	baseDelay  time.Duration
	maxRetries int
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

func WithBaseDelay(d time.Duration) Option   { return func(c *HTTPClient) { c.baseDelay = d } }
func WithMaxRetries(n int) Option            { return func(c *HTTPClient) { c.maxRetries = n } }
func WithHealthTracker(h HealthTracker) Option { return func(c *HTTPClient) { c.healthTracker = h } }

// NewHTTPClient builds an endpoint-failover JSON-RPC client. endpoints must
// be non-empty, primary first.
func NewHTTPClient(endpoints []string, timeout time.Duration, opts ...Option) (*HTTPClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("rpc: at least one endpoint is required")
	}
	c := &HTTPClient{
		endpoints:     endpoints,
		healthTracker: NewSimpleHealthTracker(),
		httpClient:    &http.Client{Timeout: timeout},
		baseDelay:     500 * time.Millisecond,
		maxRetries:    3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Call executes a single JSON-RPC call with endpoint failover.
func (c *HTTPClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := Request{Method: method, Params: params}

	var lastErr error
	attempted := make(map[string]bool)
	for len(attempted) < len(c.endpoints) {
		endpoint := c.getNextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		result, err := c.callEndpointWithRetry(ctx, endpoint, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rpc: all endpoints failed: %w", lastErr)
}

// CallBatch executes a batch JSON-RPC call with endpoint failover.
func (c *HTTPClient) CallBatch(ctx context.Context, requests []Request) ([]json.RawMessage, error) {
	if len(requests) == 0 {
		return []json.RawMessage{}, nil
	}

	var lastErr error
	attempted := make(map[string]bool)
	for len(attempted) < len(c.endpoints) {
		endpoint := c.getNextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		results, err := c.callBatchEndpoint(ctx, endpoint, requests)
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rpc: all endpoints failed for batch: %w", lastErr)
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// callEndpointWithRetry retries a single endpoint up to maxRetries times
// with exponential back-off: base_delay·2^attempt normally,
// base_delay·2^attempt + 30s on an explicit rate-limit signal. Exhausting
// retries here is what lets the caller move on to the next endpoint.
func (c *HTTPClient) callEndpointWithRetry(ctx context.Context, endpoint string, req Request) (json.RawMessage, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.baseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0 // bounded by maxRetries, not elapsed wall-clock

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		result, err := c.callEndpoint(ctx, endpoint, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		wait := eb.NextBackOff()
		if isRateLimitErr(err) {
			wait += 30 * time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func isRateLimitErr(err error) bool {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr.IsRateLimit()
	}
	if httpErr, ok := err.(*httpStatusError); ok {
		return httpErr.code == http.StatusTooManyRequests
	}
	return false
}

type httpStatusError struct{ code int }

func (e *httpStatusError) Error() string { return fmt.Sprintf("http status %d", e.code) }

func (c *HTTPClient) callEndpoint(ctx context.Context, endpoint string, req Request) (json.RawMessage, error) {
	start := time.Now()

	id := c.requestID.Add(1)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  req.Method,
		"params":  req.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		statusErr := &httpStatusError{code: resp.StatusCode}
		c.healthTracker.RecordFailure(endpoint, statusErr)
		return nil, statusErr
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http error %d: %s", resp.StatusCode, string(respBody))
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, err
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("unmarshal JSON-RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		c.healthTracker.RecordFailure(endpoint, rpcResp.Error)
		return nil, rpcResp.Error
	}

	c.healthTracker.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return rpcResp.Result, nil
}

func (c *HTTPClient) callBatchEndpoint(ctx context.Context, endpoint string, requests []Request) ([]json.RawMessage, error) {
	start := time.Now()

	batch := make([]map[string]interface{}, len(requests))
	for i, req := range requests {
		batch[i] = map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      c.requestID.Add(1),
			"method":  req.Method,
			"params":  req.Params,
		}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http error %d", resp.StatusCode)
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, err
	}

	var batchResp []Response
	if err := json.Unmarshal(respBody, &batchResp); err != nil {
		c.healthTracker.RecordFailure(endpoint, err)
		return nil, fmt.Errorf("unmarshal batch response: %w", err)
	}

	results := make([]json.RawMessage, len(batchResp))
	for i, r := range batchResp {
		if r.Error == nil {
			results[i] = r.Result
		}
	}
	c.healthTracker.RecordSuccess(endpoint, time.Since(start).Milliseconds())
	return results, nil
}

func (c *HTTPClient) getNextHealthyEndpoint(attempted map[string]bool) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.currentIndex + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if c.healthTracker.IsHealthy(endpoint) {
			c.currentIndex = (idx + 1) % len(c.endpoints)
			return endpoint
		}
	}
	for _, endpoint := range c.endpoints {
		if !attempted[endpoint] {
			return endpoint
		}
	}
	return ""
}

var _ Client = (*HTTPClient)(nil)
