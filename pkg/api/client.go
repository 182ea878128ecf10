package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/fastlane-games/fastlane-client/pkg/log"
)

// Client is a rate-limited, cached, de-duplicated HTTP request layer.
// Three policies compose on every request, in order: a short-TTL response
// cache, coalescing of identical in-flight requests, and pacing against
// both the server-directed cooldown and a local request interval.
type Client struct {
	baseURL    string
	httpClient *http.Client

	cacheTTL    time.Duration
	minInterval time.Duration
	maxAttempts int

	lock           sync.Mutex
	cache          map[string]cacheEntry
	pending        map[string]*inflight
	rateLimitUntil time.Time
	lastRequest    time.Time
	currentBackoff time.Duration
}

type cacheEntry struct {
	body    []byte
	expires time.Time
}

type inflight struct {
	done chan struct{}
	body []byte
	err  error
}

type NewClientOptions struct {
	BaseURL string
	// Timeout is the per-request transport timeout. Defaults to
	// constants.RequestTimeout.
	Timeout time.Duration
	// CacheTTL overrides the response cache TTL. Defaults to
	// constants.ResponseCacheTTL.
	CacheTTL time.Duration
	// MinRequestInterval overrides the local pacing floor. Defaults to
	// constants.MinRequestInterval.
	MinRequestInterval time.Duration
}

// NewClient creates a new resilient API client.
func NewClient(opts NewClientOptions) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = constants.RequestTimeout
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = constants.ResponseCacheTTL
	}
	minInterval := opts.MinRequestInterval
	if minInterval == 0 {
		minInterval = constants.MinRequestInterval
	}
	return &Client{
		baseURL:     opts.BaseURL,
		httpClient:  &http.Client{Timeout: timeout},
		cacheTTL:    cacheTTL,
		minInterval: minInterval,
		maxAttempts: constants.RateLimitRetries,
		cache:       make(map[string]cacheEntry),
		pending:     make(map[string]*inflight),
	}
}

// Request performs an HTTP request against the game server and returns the
// response body. A burst of identical concurrent calls results in exactly
// one network dispatch; all callers receive the same result.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqData []byte
	if body != nil {
		var err error
		reqData, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	key := method + " " + path + " " + string(reqData)

	c.lock.Lock()
	if entry, ok := c.cache[key]; ok {
		if time.Now().Before(entry.expires) {
			c.lock.Unlock()
			log.Trace("Cache hit for %s", key)
			return entry.body, nil
		}
		delete(c.cache, key)
	}
	if call, ok := c.pending[key]; ok {
		c.lock.Unlock()
		log.Trace("Coalescing request for %s", key)
		select {
		case <-call.done:
			return call.body, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	c.pending[key] = call
	c.lock.Unlock()

	respBody, err := c.dispatch(ctx, method, path, reqData)

	c.lock.Lock()
	if err == nil {
		c.cache[key] = cacheEntry{body: respBody, expires: time.Now().Add(c.cacheTTL)}
	}
	delete(c.pending, key)
	c.lock.Unlock()

	call.body = respBody
	call.err = err
	close(call.done)

	return respBody, err
}

// dispatch performs the paced network call, waiting out 429 cooldowns up
// to the retry budget.
func (c *Client) dispatch(ctx context.Context, method, path string, reqData []byte) ([]byte, error) {
	url := c.baseURL + path

	for attempt := 1; ; attempt++ {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if reqData != nil {
			reqBody = bytes.NewReader(reqData)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if reqData != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.growBackoff()
			return nil, &NetworkError{URL: url, Err: err}
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.lock.Lock()
			c.rateLimitUntil = time.Now().Add(delay)
			c.lock.Unlock()
			c.growBackoff()
			log.Debug("Rate limited on %s, cooling down for %s", url, delay)
			if attempt >= c.maxAttempts {
				return nil, &RateLimitError{URL: url, RetryAfter: delay}
			}
			continue
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			c.growBackoff()
			return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode}
		}
		if readErr != nil {
			c.growBackoff()
			return nil, &NetworkError{URL: url, Err: readErr}
		}

		c.lock.Lock()
		c.currentBackoff = 0
		c.lock.Unlock()

		return respBody, nil
	}
}

// pace blocks until both the server-directed cooldown has elapsed and the
// local request interval (stretched by the current backoff) has passed
// since the last dispatch.
func (c *Client) pace(ctx context.Context) error {
	for {
		c.lock.Lock()
		interval := c.minInterval
		if c.currentBackoff > interval {
			interval = c.currentBackoff
		}
		earliest := c.lastRequest.Add(interval)
		if c.rateLimitUntil.After(earliest) {
			earliest = c.rateLimitUntil
		}
		wait := time.Until(earliest)
		if wait <= 0 {
			c.lastRequest = time.Now()
			c.lock.Unlock()
			return nil
		}
		c.lock.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// growBackoff grows the local multiplicative backoff. This is a softer
// throttle layered under the hard server-directed cooldown.
func (c *Client) growBackoff() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.currentBackoff == 0 {
		c.currentBackoff = constants.BackoffInitial
	} else {
		c.currentBackoff = time.Duration(float64(c.currentBackoff) * constants.BackoffFactor)
	}
	if c.currentBackoff > constants.BackoffCap {
		c.currentBackoff = constants.BackoffCap
	}
}

// parseRetryAfter converts a Retry-After header (seconds) into a cooldown,
// clamped into [RateLimitMinDelay, RateLimitMaxDelay].
func parseRetryAfter(header string) time.Duration {
	delay := constants.RateLimitDefaultDelay
	if header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			delay = time.Duration(seconds) * time.Second
		}
	}
	if delay < constants.RateLimitMinDelay {
		delay = constants.RateLimitMinDelay
	}
	if delay > constants.RateLimitMaxDelay {
		delay = constants.RateLimitMaxDelay
	}
	return delay
}
