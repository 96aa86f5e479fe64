package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// upbitClient wraps raw calls to the Upbit REST API with caching, a circuit
// breaker and bounded retry-with-backoff. It is the single point that
// classifies upstream failures; everything above it propagates apiError
// values unchanged.
type upbitClient struct {
	httpClient  *http.Client
	baseURL     string
	cache       *ttlCache
	breakers    *breakerTable
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(time.Duration)
}

func newUpbitClient(cfg Config, cache *ttlCache, breakers *breakerTable) *upbitClient {
	return &upbitClient{
		httpClient:  &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:     cfg.UpbitAPIURL,
		cache:       cache,
		breakers:    breakers,
		maxAttempts: cfg.RetryMaxAttempts,
		baseDelay:   cfg.RetryBaseDelay,
		sleep:       time.Sleep,
	}
}

// fetchRows performs one logical upstream call and returns the decoded JSON
// array. Results are cached for ttl when ttl > 0. The circuit breaker is
// keyed by path; an open circuit fails fast without touching the network or
// consuming retry budget.
func (u *upbitClient) fetchRows(ctx context.Context, path string, params map[string]string, ttl time.Duration) ([]json.RawMessage, error) {
	if !u.breakers.allow(path) {
		return nil, errCircuitOpen(path)
	}

	key := cacheKey(path, params)
	if cached, ok := u.cache.get(key); ok {
		if rows, ok := cached.([]json.RawMessage); ok {
			return rows, nil
		}
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	requestURL := u.baseURL + path + "?" + query.Encode()

	var lastErr *apiError
	for attempt := 0; attempt < u.maxAttempts; attempt++ {
		rows, apiErr := u.doRequest(ctx, path, requestURL)
		if apiErr == nil {
			u.breakers.recordSuccess(path)
			u.cache.put(key, rows, ttl)
			return rows, nil
		}
		if !apiErr.Retryable {
			return nil, apiErr
		}
		lastErr = apiErr
		if attempt < u.maxAttempts-1 {
			u.sleep(backoffDelay(u.baseDelay, attempt))
		}
	}
	return nil, lastErr
}

// doRequest runs one attempt and classifies the outcome. Transport errors,
// timeouts and 429/5xx statuses count as breaker failures; other 4xx
// statuses are treated as caller error, not upstream instability.
func (u *upbitClient) doRequest(ctx context.Context, path, requestURL string) ([]json.RawMessage, *apiError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errUpstreamRejected("invalid upstream request: " + path)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		u.breakers.recordFailure(path)
		fmt.Printf("[Upstream] %s transport error: %v\n", path, err)
		return nil, errUpstreamFailure("upstream request failed: " + path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		u.breakers.recordFailure(path)
		fmt.Printf("[Upstream] %s returned status %d\n", path, resp.StatusCode)
		return nil, errUpstreamFailure(fmt.Sprintf("upstream returned status %d: %s", resp.StatusCode, path))
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, errUpstreamRejected(fmt.Sprintf("upstream rejected request (status %d): %s", resp.StatusCode, path))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		u.breakers.recordFailure(path)
		return nil, errUpstreamFailure("failed to read upstream response: " + path)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		// Treated as transient: Upbit occasionally serves error blobs with a
		// 200 status. No breaker penalty, only transport/5xx/429 trip it.
		fmt.Printf("[Upstream] %s unexpected payload shape\n", path)
		return nil, errUpstreamMalformed("unexpected upstream response shape: " + path)
	}
	return rows, nil
}

// backoffDelay is base * 2^attempt plus a random jitter bounded to 10% of
// the backoff.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}
