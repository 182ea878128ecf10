package events

import (
	"sync"

	"github.com/fastlane-games/fastlane-client/pkg/game/types"
)

// Handler handles a published event.
type Handler[T any] func(event T)

// Topic is a pub/sub channel for one event type. Handlers run synchronously
// on the publishing goroutine, in subscription order, so listeners observe
// server updates in receipt order.
type Topic[T any] struct {
	lock     sync.Mutex
	handlers []Handler[T]
}

// Subscribe registers a handler for events on this topic.
func (t *Topic[T]) Subscribe(handler Handler[T]) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Publish delivers the event to all registered handlers.
func (t *Topic[T]) Publish(event T) {
	t.lock.Lock()
	handlers := make([]Handler[T], len(t.handlers))
	copy(handlers, t.handlers)
	t.lock.Unlock()
	for _, handler := range handlers {
		handler(event)
	}
}

type DiceRolledEvent struct {
	Roll *types.RollResult
}

type TurnChangedEvent struct {
	CurrentPlayerIndex int
	PlayerID           string
}

type PlayerJoinedEvent struct {
	Player *types.Player
}

type PlayerLeftEvent struct {
	PlayerID string
}

type PlayerMovedEvent struct {
	PlayerID string
	Position int
}

type GameStartedEvent struct {
	Players        []*types.Player
	ActivePlayerID string
}

type ActivePlayerChangedEvent struct {
	PlayerID string
	Index    int
}

type BalanceUpdatedEvent struct {
	PlayerID string
	Amount   int64
	Source   types.BalanceSource
}

type SessionPatchedEvent struct {
	Patch *types.SessionPatch
}

type DecksUpdatedEvent struct{}

type ConnectionLostEvent struct {
	Attempts int
}

// Bus is the closed set of event topics the engine publishes on. Payload
// types are fixed per topic, so a mismatched publish or subscribe is a
// compile-time error.
type Bus struct {
	DiceRolled          Topic[DiceRolledEvent]
	TurnChanged         Topic[TurnChangedEvent]
	PlayerJoined        Topic[PlayerJoinedEvent]
	PlayerLeft          Topic[PlayerLeftEvent]
	PlayerMoved         Topic[PlayerMovedEvent]
	GameStarted         Topic[GameStartedEvent]
	ActivePlayerChanged Topic[ActivePlayerChangedEvent]
	BalanceUpdated      Topic[BalanceUpdatedEvent]
	SessionPatched      Topic[SessionPatchedEvent]
	DecksUpdated        Topic[DecksUpdatedEvent]
	ConnectionLost      Topic[ConnectionLostEvent]
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}
