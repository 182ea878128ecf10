package reconcile

import (
	"fmt"
	"sync"

	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
)

// ErrPlayerNotFound is returned when an operation names a player the
// session does not know.
type ErrPlayerNotFound struct {
	PlayerID string
}

func (e *ErrPlayerNotFound) Error() string {
	return fmt.Sprintf("player %s not found in session", e.PlayerID)
}

// Reconciler holds the single authoritative SessionState for a room and
// merges server snapshots into it at field level. Mutations emit events
// carrying the minimal delta so listeners can update incrementally.
type Reconciler struct {
	lock  sync.Mutex
	state *types.SessionState
	bus   *events.Bus
}

// NewReconciler creates the reconciler for a room.
func NewReconciler(roomID string, bus *events.Bus) *Reconciler {
	return &Reconciler{
		state: types.NewSessionState(roomID),
		bus:   bus,
	}
}

// State returns a copy of the current session state.
func (r *Reconciler) State() *types.SessionState {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state.Copy()
}

// ApplyPartial merges a patch into the session state. Only fields present
// in the patch are touched; a lagging server snapshot therefore never
// clobbers local optimistic fields it has not echoed yet. Callers must
// apply snapshots in receipt order.
func (r *Reconciler) ApplyPartial(patch *types.SessionPatch) {
	if patch == nil {
		return
	}

	r.lock.Lock()
	prevIndex := r.state.CurrentPlayerIndex
	prevStarted := r.state.GameStarted

	if patch.RoomID != nil {
		r.state.RoomID = *patch.RoomID
	}
	if patch.Players != nil {
		r.state.Players = patch.Players
	}
	if patch.CurrentPlayerIndex != nil {
		r.state.CurrentPlayerIndex = *patch.CurrentPlayerIndex
	}
	if patch.GameStarted != nil {
		r.state.GameStarted = *patch.GameStarted
	}
	if patch.LastDiceRoll != nil {
		r.state.LastDiceRoll = patch.LastDiceRoll
	}
	if patch.CanRoll != nil {
		r.state.CanRoll = *patch.CanRoll
	}
	if patch.CanMove != nil {
		r.state.CanMove = *patch.CanMove
	}
	if patch.CanEndTurn != nil {
		r.state.CanEndTurn = *patch.CanEndTurn
	}

	newIndex := r.state.CurrentPlayerIndex
	newStarted := r.state.GameStarted
	var activeID string
	if active := r.state.ActivePlayer(); active != nil {
		activeID = active.ID
	}
	var startedPlayers []*types.Player
	if !prevStarted && newStarted {
		startedPlayers = make([]*types.Player, len(r.state.Players))
		for i, p := range r.state.Players {
			startedPlayers[i] = p.Copy()
		}
	}
	r.lock.Unlock()

	if r.bus == nil {
		return
	}
	r.bus.SessionPatched.Publish(events.SessionPatchedEvent{Patch: patch})
	if newIndex != prevIndex {
		r.bus.TurnChanged.Publish(events.TurnChangedEvent{
			CurrentPlayerIndex: newIndex,
			PlayerID:           activeID,
		})
	}
	if !prevStarted && newStarted {
		r.bus.GameStarted.Publish(events.GameStartedEvent{
			Players:        startedPlayers,
			ActivePlayerID: activeID,
		})
	}
}

// SetActivePlayer makes the named player active, recomputing the current
// player index from the player list by id rather than trusting any stale
// index.
func (r *Reconciler) SetActivePlayer(playerID string) error {
	r.lock.Lock()
	index := -1
	for i, p := range r.state.Players {
		if p.ID == playerID {
			index = i
			break
		}
	}
	if index == -1 {
		r.lock.Unlock()
		return &ErrPlayerNotFound{PlayerID: playerID}
	}
	changed := r.state.CurrentPlayerIndex != index
	r.state.CurrentPlayerIndex = index
	r.lock.Unlock()

	if r.bus != nil {
		r.bus.ActivePlayerChanged.Publish(events.ActivePlayerChangedEvent{
			PlayerID: playerID,
			Index:    index,
		})
		if changed {
			r.bus.TurnChanged.Publish(events.TurnChangedEvent{
				CurrentPlayerIndex: index,
				PlayerID:           playerID,
			})
		}
	}
	return nil
}

// MovePlayer updates a player's position in place.
func (r *Reconciler) MovePlayer(playerID string, newPosition int) error {
	r.lock.Lock()
	player := r.state.PlayerByID(playerID)
	if player == nil {
		r.lock.Unlock()
		return &ErrPlayerNotFound{PlayerID: playerID}
	}
	player.Position = newPosition
	r.lock.Unlock()

	if r.bus != nil {
		r.bus.PlayerMoved.Publish(events.PlayerMovedEvent{
			PlayerID: playerID,
			Position: newPosition,
		})
	}
	return nil
}

// AddPlayer adds a player to the session if not already present.
func (r *Reconciler) AddPlayer(player *types.Player) {
	r.lock.Lock()
	if r.state.PlayerByID(player.ID) != nil {
		r.lock.Unlock()
		return
	}
	r.state.Players = append(r.state.Players, player)
	r.lock.Unlock()

	if r.bus != nil {
		r.bus.PlayerJoined.Publish(events.PlayerJoinedEvent{Player: player})
	}
}

// RemovePlayer removes a player, keeping CurrentPlayerIndex valid.
func (r *Reconciler) RemovePlayer(playerID string) {
	r.lock.Lock()
	index := -1
	for i, p := range r.state.Players {
		if p.ID == playerID {
			index = i
			break
		}
	}
	if index == -1 {
		r.lock.Unlock()
		return
	}
	r.state.Players = append(r.state.Players[:index], r.state.Players[index+1:]...)
	if r.state.CurrentPlayerIndex >= len(r.state.Players) && len(r.state.Players) > 0 {
		r.state.CurrentPlayerIndex = 0
	}
	r.lock.Unlock()

	if r.bus != nil {
		r.bus.PlayerLeft.Publish(events.PlayerLeftEvent{PlayerID: playerID})
	}
}
