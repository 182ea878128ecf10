package decks

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetadataLifecycle(t *testing.T, baseURL string) *Lifecycle {
	t.Helper()
	apiClient := api.NewClient(api.NewClientOptions{
		BaseURL:            baseURL,
		MinRequestInterval: time.Millisecond,
		CacheTTL:           time.Millisecond,
	})
	l, err := NewLifecycle(context.Background(), NewLifecycleOptions{
		RoomID:    "room-1",
		APIClient: apiClient,
		Templates: []DeckInfo{
			{ID: "deal", Name: "Deals", Description: "Investment opportunities"},
			{ID: "expense", Name: "Expenses", Description: "Unexpected costs"},
		},
		Source: rand.NewSource(1),
	})
	require.NoError(t, err)
	return l
}

func TestRefreshMetadataMergesTemplates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards", r.URL.Path)
		w.Write([]byte(`{"success":true,"data":{
			"decks":[{"id":"deal","name":"Deals","drawPile":[{"id":"c1"},{"id":"c2"}],"discardPile":[{"id":"c3"}]}],
			"stats":[{"id":"market","drawCount":7,"discardCount":0}],
			"updatedAt":1700000000000
		}}`))
	}))
	defer srv.Close()

	l := newMetadataLifecycle(t, srv.URL)
	require.NoError(t, l.RefreshMetadata(context.Background()))

	infos := l.Metadata()
	require.Len(t, infos, 3)

	// Sorted by id: deal, expense, market.
	assert.Equal(t, "deal", infos[0].ID)
	assert.Equal(t, 2, infos[0].DrawCount)
	assert.Equal(t, 1, infos[0].DiscardCount)
	assert.False(t, infos[0].Unavailable)

	// The template-only deck keeps its static description.
	assert.Equal(t, "expense", infos[1].ID)
	assert.Equal(t, "Unexpected costs", infos[1].Description)

	// A deck only known from stats still shows its counts.
	assert.Equal(t, "market", infos[2].ID)
	assert.Equal(t, 7, infos[2].DrawCount)
}

func TestRefreshMetadataDegradesOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success":true,"data":{"decks":[{"id":"deal","name":"Deals","drawPile":[{"id":"c1"}]}],"updatedAt":1}}`))
	}))
	defer srv.Close()

	l := newMetadataLifecycle(t, srv.URL)
	require.NoError(t, l.RefreshMetadata(context.Background()))

	fail.Store(true)
	require.Error(t, l.RefreshMetadata(context.Background()))

	// Last known counts survive, flagged unavailable, instead of blanking.
	infos := l.Metadata()
	require.NotEmpty(t, infos)
	for _, info := range infos {
		assert.True(t, info.Unavailable)
	}
	assert.Equal(t, "deal", infos[0].ID)
	assert.Equal(t, 1, infos[0].DrawCount)
}
