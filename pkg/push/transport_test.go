package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollTransportDeliversSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms/room-1/game-state", r.URL.Path)
		w.Write([]byte(`{"success":true,"state":{"currentPlayerIndex":1,"players":[{"id":"p1","balance":100}]}}`))
	}))
	defer srv.Close()

	apiClient := api.NewClient(api.NewClientOptions{
		BaseURL:            srv.URL,
		MinRequestInterval: time.Millisecond,
		CacheTTL:           time.Millisecond,
	})
	transport := NewPollTransport(apiClient, 10*time.Millisecond)
	require.NoError(t, transport.Start(context.Background(), "room-1"))
	defer transport.Close()

	select {
	case env := <-transport.Updates():
		assert.Equal(t, EventSnapshot, env.Type)
		require.NotNil(t, env.Patch)
		require.NotNil(t, env.Patch.CurrentPlayerIndex)
		assert.Equal(t, 1, *env.Patch.CurrentPlayerIndex)
		require.Len(t, env.Patch.Players, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestPollTransportSurvivesFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true,"state":{"currentPlayerIndex":0}}`))
	}))
	defer srv.Close()

	apiClient := api.NewClient(api.NewClientOptions{
		BaseURL:            srv.URL,
		MinRequestInterval: time.Millisecond,
		CacheTTL:           time.Millisecond,
	})
	transport := NewPollTransport(apiClient, 10*time.Millisecond)
	require.NoError(t, transport.Start(context.Background(), "room-1"))
	defer transport.Close()

	// The first poll fails; the ticker keeps going and the next one lands.
	select {
	case env := <-transport.Updates():
		require.NotNil(t, env.Patch)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered after failure")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestPollTransportCloseStopsUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"state":{}}`))
	}))
	defer srv.Close()

	apiClient := api.NewClient(api.NewClientOptions{
		BaseURL:            srv.URL,
		MinRequestInterval: time.Millisecond,
	})
	transport := NewPollTransport(apiClient, 5*time.Millisecond)
	require.NoError(t, transport.Start(context.Background(), "room-1"))
	require.NoError(t, transport.Close())

	// The updates channel is closed once the transport stops.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-transport.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates channel never closed")
		}
	}
}
