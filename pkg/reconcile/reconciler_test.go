package reconcile

import (
	"testing"

	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func twoPlayers() []*types.Player {
	return []*types.Player{
		{ID: "p1", Name: "Avery", Balance: 1000},
		{ID: "p2", Name: "Jordan", Balance: 2000},
	}
}

func TestApplyPartialMergesOnlyPresentFields(t *testing.T) {
	r := NewReconciler("room-1", nil)
	r.ApplyPartial(&types.SessionPatch{
		Players:            twoPlayers(),
		CurrentPlayerIndex: intPtr(1),
		CanRoll:            boolPtr(true),
	})

	// A later patch touching only the index leaves everything else alone.
	r.ApplyPartial(&types.SessionPatch{CurrentPlayerIndex: intPtr(0)})

	state := r.State()
	assert.Equal(t, 0, state.CurrentPlayerIndex)
	assert.Len(t, state.Players, 2)
	assert.True(t, state.CanRoll)
	assert.False(t, state.GameStarted)
}

func TestApplyPartialNilPatch(t *testing.T) {
	r := NewReconciler("room-1", nil)
	r.ApplyPartial(nil)
	assert.Equal(t, "room-1", r.State().RoomID)
}

func TestApplyPartialEmitsTurnChanged(t *testing.T) {
	bus := events.NewBus()
	r := NewReconciler("room-1", bus)
	r.ApplyPartial(&types.SessionPatch{Players: twoPlayers()})

	var turns []events.TurnChangedEvent
	bus.TurnChanged.Subscribe(func(e events.TurnChangedEvent) {
		turns = append(turns, e)
	})

	r.ApplyPartial(&types.SessionPatch{CurrentPlayerIndex: intPtr(1)})
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].CurrentPlayerIndex)
	assert.Equal(t, "p2", turns[0].PlayerID)

	// An unchanged index does not re-announce the turn.
	r.ApplyPartial(&types.SessionPatch{CurrentPlayerIndex: intPtr(1)})
	assert.Len(t, turns, 1)
}

func TestApplyPartialEmitsGameStartedOnce(t *testing.T) {
	bus := events.NewBus()
	r := NewReconciler("room-1", bus)

	var started []events.GameStartedEvent
	bus.GameStarted.Subscribe(func(e events.GameStartedEvent) {
		started = append(started, e)
	})

	r.ApplyPartial(&types.SessionPatch{
		Players:     twoPlayers(),
		GameStarted: boolPtr(true),
	})
	require.Len(t, started, 1)
	assert.Len(t, started[0].Players, 2)

	// Echoing gameStarted=true again is not a new start.
	r.ApplyPartial(&types.SessionPatch{GameStarted: boolPtr(true)})
	assert.Len(t, started, 1)
}

func TestSetActivePlayer(t *testing.T) {
	bus := events.NewBus()
	r := NewReconciler("room-1", bus)
	r.ApplyPartial(&types.SessionPatch{Players: twoPlayers()})

	var changes []events.ActivePlayerChangedEvent
	bus.ActivePlayerChanged.Subscribe(func(e events.ActivePlayerChangedEvent) {
		changes = append(changes, e)
	})

	require.NoError(t, r.SetActivePlayer("p2"))
	assert.Equal(t, 1, r.State().CurrentPlayerIndex)
	require.Len(t, changes, 1)
	assert.Equal(t, "p2", changes[0].PlayerID)
	assert.Equal(t, 1, changes[0].Index)

	err := r.SetActivePlayer("ghost")
	var notFound *ErrPlayerNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.PlayerID)
}

func TestMovePlayer(t *testing.T) {
	bus := events.NewBus()
	r := NewReconciler("room-1", bus)
	r.ApplyPartial(&types.SessionPatch{Players: twoPlayers()})

	var moves []events.PlayerMovedEvent
	bus.PlayerMoved.Subscribe(func(e events.PlayerMovedEvent) {
		moves = append(moves, e)
	})

	require.NoError(t, r.MovePlayer("p1", 7))
	assert.Equal(t, 7, r.State().PlayerByID("p1").Position)
	require.Len(t, moves, 1)
	assert.Equal(t, 7, moves[0].Position)

	var notFound *ErrPlayerNotFound
	assert.ErrorAs(t, r.MovePlayer("ghost", 1), &notFound)
}

func TestAddPlayerDeduplicates(t *testing.T) {
	r := NewReconciler("room-1", nil)
	r.AddPlayer(&types.Player{ID: "p1"})
	r.AddPlayer(&types.Player{ID: "p1"})
	assert.Len(t, r.State().Players, 1)
}

func TestRemovePlayerKeepsIndexValid(t *testing.T) {
	r := NewReconciler("room-1", nil)
	r.ApplyPartial(&types.SessionPatch{
		Players:            twoPlayers(),
		CurrentPlayerIndex: intPtr(1),
	})

	r.RemovePlayer("p2")
	state := r.State()
	assert.Len(t, state.Players, 1)
	assert.Equal(t, 0, state.CurrentPlayerIndex)

	// Removing an unknown player is a no-op.
	r.RemovePlayer("ghost")
	assert.Len(t, r.State().Players, 1)
}

func TestStateReturnsCopy(t *testing.T) {
	r := NewReconciler("room-1", nil)
	r.ApplyPartial(&types.SessionPatch{Players: twoPlayers()})

	state := r.State()
	state.Players[0].Balance = -1
	state.CurrentPlayerIndex = 99

	fresh := r.State()
	assert.Equal(t, int64(1000), fresh.Players[0].Balance)
	assert.Equal(t, 0, fresh.CurrentPlayerIndex)
}
