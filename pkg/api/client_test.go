package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(NewClientOptions{
		BaseURL:            baseURL,
		MinRequestInterval: time.Millisecond,
	})
}

func TestRequestCachesResponses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	first, err := client.Request(ctx, http.MethodGet, "/cards", nil)
	require.NoError(t, err)
	second, err := client.Request(ctx, http.MethodGet, "/cards", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRequestCacheKeyIncludesBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	_, err := client.Request(ctx, http.MethodPost, "/rooms/r/move", map[string]int{"steps": 1})
	require.NoError(t, err)
	_, err = client.Request(ctx, http.MethodPost, "/rooms/r/move", map[string]int{"steps": 2})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequestCoalescesIdenticalCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]byte, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger slightly so one caller wins the dispatch and the rest
			// find it pending.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			results[i], errs[i] = client.Request(ctx, http.MethodGet, "/rooms/r/game-state", nil)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for i := 0; i < 5; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
}

func TestRequestRetriesAfterRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	start := time.Now()
	body, err := client.Request(context.Background(), http.MethodGet, "/cards", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(body))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	// Even a Retry-After of zero is clamped up to the minimum cooldown.
	assert.GreaterOrEqual(t, time.Since(start), constants.RateLimitMinDelay)
}

func TestRequestGivesUpAfterRepeatedRateLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	_, err := client.Request(context.Background(), http.MethodGet, "/cards", nil)
	var rateLimited *RateLimitError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, constants.RateLimitMinDelay, rateLimited.RetryAfter)
}

func TestRequestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	_, err := client.Request(context.Background(), http.MethodGet, "/cards", nil)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
}

func TestParseRetryAfter(t *testing.T) {
	testCases := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{
			name:   "missing header uses the default",
			header: "",
			want:   constants.RateLimitDefaultDelay,
		},
		{
			name:   "zero clamps up to the minimum",
			header: "0",
			want:   constants.RateLimitMinDelay,
		},
		{
			name:   "one second passes through",
			header: "1",
			want:   time.Second,
		},
		{
			name:   "large values clamp down to the maximum",
			header: "30",
			want:   constants.RateLimitMaxDelay,
		},
		{
			name:   "garbage uses the default",
			header: "soon",
			want:   constants.RateLimitDefaultDelay,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseRetryAfter(tc.header))
		})
	}
}

func TestGrowBackoffCaps(t *testing.T) {
	client := newTestClient("http://localhost")

	client.growBackoff()
	assert.Equal(t, constants.BackoffInitial, client.currentBackoff)

	for i := 0; i < 200; i++ {
		client.growBackoff()
	}
	assert.Equal(t, constants.BackoffCap, client.currentBackoff)
}
