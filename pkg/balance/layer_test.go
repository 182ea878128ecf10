package balance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	writes []string
}

func (m *recordingMirror) WriteBalance(playerID string, formatted string, updated bool) {
	m.writes = append(m.writes, formatted)
}

func TestUpdateBalanceDeduplicates(t *testing.T) {
	layer := NewLayer(NewLayerOptions{})

	assert.True(t, layer.UpdateBalance("p1", 100, types.BalanceSourceGameState))
	// Same amount inside the freshness window is a no-op.
	assert.False(t, layer.UpdateBalance("p1", 100, types.BalanceSourceGameState))
	// A differing amount always lands, even inside the window.
	assert.True(t, layer.UpdateBalance("p1", 200, types.BalanceSourceManual))

	record, ok := layer.Balance("p1")
	require.True(t, ok)
	assert.Equal(t, int64(200), record.Amount)
	assert.Equal(t, types.BalanceSourceManual, record.Source)
}

func TestUpdateBalanceStaleRewrite(t *testing.T) {
	layer := NewLayer(NewLayerOptions{Freshness: 20 * time.Millisecond})

	assert.True(t, layer.UpdateBalance("p1", 100, types.BalanceSourceGameState))
	time.Sleep(40 * time.Millisecond)
	// Unchanged amount still recovers a stale record.
	assert.True(t, layer.UpdateBalance("p1", 100, types.BalanceSourceGameState))
}

func TestUpdateBalanceMirrorsAndEvents(t *testing.T) {
	bus := events.NewBus()
	layer := NewLayer(NewLayerOptions{Bus: bus})

	var published []events.BalanceUpdatedEvent
	bus.BalanceUpdated.Subscribe(func(e events.BalanceUpdatedEvent) {
		published = append(published, e)
	})

	mirror := &recordingMirror{}
	layer.BindMirror("p1", mirror)

	layer.UpdateBalance("p1", 1234, types.BalanceSourceGameState)

	require.Len(t, mirror.writes, 1)
	assert.Equal(t, "$1,234", mirror.writes[0])
	require.Len(t, published, 1)
	assert.Equal(t, "p1", published[0].PlayerID)
	assert.Equal(t, int64(1234), published[0].Amount)
}

func TestRefreshFromAuthoritativeFloor(t *testing.T) {
	layer := NewLayer(NewLayerOptions{RefreshFloor: time.Hour})

	players := []*types.Player{{ID: "p1", Balance: 100}}
	layer.RefreshFromAuthoritative(players)

	record, ok := layer.Balance("p1")
	require.True(t, ok)
	assert.Equal(t, int64(100), record.Amount)

	// A second sweep inside the floor is dropped entirely.
	players[0].Balance = 999
	layer.RefreshFromAuthoritative(players)
	record, _ = layer.Balance("p1")
	assert.Equal(t, int64(100), record.Amount)
}

func TestSyncBalances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms/room-1/players", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"players":[{"id":"p1","name":"Avery","balance":2500}]}`))
	}))
	defer srv.Close()

	apiClient := api.NewClient(api.NewClientOptions{
		BaseURL:            srv.URL,
		MinRequestInterval: time.Millisecond,
	})
	layer := NewLayer(NewLayerOptions{APIClient: apiClient})
	layer.SetRoom("room-1")

	require.NoError(t, layer.SyncBalances(context.Background()))

	record, ok := layer.Balance("p1")
	require.True(t, ok)
	assert.Equal(t, int64(2500), record.Amount)
	assert.Equal(t, types.BalanceSourceBankAPI, record.Source)
}

func TestSyncBalancesKeepsStaleOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	apiClient := api.NewClient(api.NewClientOptions{
		BaseURL:            srv.URL,
		MinRequestInterval: time.Millisecond,
	})
	layer := NewLayer(NewLayerOptions{APIClient: apiClient})
	layer.SetRoom("room-1")
	layer.UpdateBalance("p1", 100, types.BalanceSourceGameState)

	require.Error(t, layer.SyncBalances(context.Background()))

	// The prior record stays displayed rather than being blanked.
	record, ok := layer.Balance("p1")
	require.True(t, ok)
	assert.Equal(t, int64(100), record.Amount)
}

func TestSyncBalancesWithoutRoom(t *testing.T) {
	layer := NewLayer(NewLayerOptions{})
	assert.NoError(t, layer.SyncBalances(context.Background()))
}

func TestFormatAmount(t *testing.T) {
	testCases := []struct {
		amount int64
		want   string
	}{
		{0, "$0"},
		{999, "$999"},
		{1234, "$1,234"},
		{1234567, "$1,234,567"},
		{-50, "-$50"},
		{-1234567, "-$1,234,567"},
	}

	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatAmount(tc.amount))
		})
	}
}
