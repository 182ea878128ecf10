package decks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "decks.db"))
	require.NoError(t, err)
	defer store.Close()

	snapshot := &Snapshot{
		Decks: map[string]PileSnapshot{
			"deal": {
				Draw:    []types.Card{{ID: "card-1", Title: "Rental duplex", Value: 5000}},
				Discard: []types.Card{{ID: "card-2", Title: "Index fund", Value: 1000}},
			},
		},
		OwnedCardIDs: []string{"card-3"},
	}
	require.NoError(t, store.Save(ctx, "room-1", snapshot))

	loaded, err := store.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, snapshot, loaded)

	// Saving again overwrites the row.
	snapshot.OwnedCardIDs = nil
	require.NoError(t, store.Save(ctx, "room-1", snapshot))
	loaded, err = store.Load(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.OwnedCardIDs)
}

func TestSQLiteStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "decks.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Load(ctx, "missing")
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.RoomID)
}

func TestSQLiteStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "decks.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(ctx, "room-1", &Snapshot{}))
	require.NoError(t, store.Delete(ctx, "room-1"))

	_, err = store.Load(ctx, "room-1")
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)

	// Deleting an absent row is not an error.
	assert.NoError(t, store.Delete(ctx, "room-1"))
}
