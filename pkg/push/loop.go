package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/fastlane-games/fastlane-client/pkg/balance"
	"github.com/fastlane-games/fastlane-client/pkg/dice"
	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/fastlane-games/fastlane-client/pkg/log"
	"github.com/fastlane-games/fastlane-client/pkg/reconcile"
	"github.com/google/uuid"
)

// Loop registers a client identity with the server, receives authoritative
// updates through a Transport, and feeds them into the reconciler and the
// balance layer. Known push event shapes are additionally dispatched to
// dedicated handlers.
type Loop struct {
	apiClient  *api.Client
	transport  Transport
	reconciler *reconcile.Reconciler
	balances   *balance.Layer
	diceEngine *dice.Engine
	bus        *events.Bus
	userInfo   api.UserInfo

	reconnectInterval time.Duration
	maxAttempts       int

	clientID string
	roomID   string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	gaveUp   chan struct{}
	gaveOnce sync.Once
}

type NewLoopOptions struct {
	APIClient  *api.Client
	Transport  Transport
	Reconciler *reconcile.Reconciler
	Balances   *balance.Layer
	DiceEngine *dice.Engine
	Bus        *events.Bus
	UserInfo   api.UserInfo
	// ReconnectInterval overrides the fixed reconnect backoff. Defaults to
	// constants.ReconnectInterval.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts overrides the attempt bound. Defaults to
	// constants.MaxReconnectAttempts.
	MaxReconnectAttempts int
}

// NewLoop creates a push delivery loop.
func NewLoop(opts NewLoopOptions) *Loop {
	reconnectInterval := opts.ReconnectInterval
	if reconnectInterval == 0 {
		reconnectInterval = constants.ReconnectInterval
	}
	maxAttempts := opts.MaxReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = constants.MaxReconnectAttempts
	}
	return &Loop{
		apiClient:         opts.APIClient,
		transport:         opts.Transport,
		reconciler:        opts.Reconciler,
		balances:          opts.Balances,
		diceEngine:        opts.DiceEngine,
		bus:               opts.Bus,
		userInfo:          opts.UserInfo,
		reconnectInterval: reconnectInterval,
		maxAttempts:       maxAttempts,
		clientID:          uuid.New().String(),
		gaveUp:            make(chan struct{}),
	}
}

// ClientID returns the registered client identity.
func (l *Loop) ClientID() string {
	return l.clientID
}

// GaveUp is closed when reconnect attempts are exhausted. The session then
// keeps serving last-known state; whether that is fatal is the caller's
// call.
func (l *Loop) GaveUp() <-chan struct{} {
	return l.gaveUp
}

// Connect registers the client and starts delivery for the room. It
// returns immediately; registration failures are retried with a fixed
// backoff up to the attempt bound, after which the loop halts and GaveUp
// is signalled.
func (l *Loop) Connect(ctx context.Context, roomID string) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.roomID = roomID

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx)
	}()
}

func (l *Loop) run(ctx context.Context) {
	registered := false
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := l.apiClient.RegisterPush(ctx, l.clientID, l.userInfo); err != nil {
			log.Warn("Push registration attempt %d/%d failed: %v", attempt, l.maxAttempts, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.reconnectInterval):
			}
			continue
		}
		registered = true
		break
	}
	if !registered {
		log.Error("Push registration gave up after %d attempts", l.maxAttempts)
		l.gaveOnce.Do(func() { close(l.gaveUp) })
		if l.bus != nil {
			l.bus.ConnectionLost.Publish(events.ConnectionLostEvent{Attempts: l.maxAttempts})
		}
		return
	}

	if err := l.transport.Start(ctx, l.roomID); err != nil {
		log.Error("Failed to start push transport: %v", err)
		l.gaveOnce.Do(func() { close(l.gaveUp) })
		if l.bus != nil {
			l.bus.ConnectionLost.Publish(events.ConnectionLostEvent{Attempts: 1})
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-l.transport.Updates():
			if !ok {
				return
			}
			l.handle(envelope)
		}
	}
}

// Disconnect stops delivery and best-effort unregisters the client.
// Network errors during unregister are swallowed, not retried.
func (l *Loop) Disconnect() {
	if l.cancel != nil {
		l.cancel()
	}
	l.transport.Close()
	l.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.apiClient.UnregisterPush(ctx, l.clientID); err != nil {
		log.Debug("Push unregister failed (ignored): %v", err)
	}
}

// handle translates one envelope into reconciler/balance/dice calls.
// Malformed payloads are logged and skipped, never fatal.
func (l *Loop) handle(envelope Envelope) {
	if envelope.Patch != nil || envelope.Type == EventSnapshot {
		patch := envelope.Patch
		if patch == nil {
			patch = &types.SessionPatch{}
			if err := json.Unmarshal(envelope.Data, patch); err != nil {
				log.Warn("Malformed snapshot payload: %v", err)
				return
			}
		}
		l.reconciler.ApplyPartial(patch)
		if patch.Players != nil {
			l.balances.RefreshFromAuthoritative(patch.Players)
		}
		return
	}

	switch envelope.Type {
	case EventTurnChanged:
		var data struct {
			PlayerID           string `json:"playerId"`
			CurrentPlayerIndex *int   `json:"currentPlayerIndex"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			log.Warn("Malformed turn_changed payload: %v", err)
			return
		}
		if data.PlayerID != "" {
			if err := l.reconciler.SetActivePlayer(data.PlayerID); err != nil {
				log.Warn("turn_changed for unknown player: %v", err)
			}
		} else if data.CurrentPlayerIndex != nil {
			l.reconciler.ApplyPartial(&types.SessionPatch{CurrentPlayerIndex: data.CurrentPlayerIndex})
		}
		// A new turn clears the doubles streak.
		l.diceEngine.ResetTurn()

	case EventPlayerJoined:
		var data struct {
			Player *types.Player `json:"player"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil || data.Player == nil || data.Player.ID == "" {
			log.Warn("Malformed player_joined payload")
			return
		}
		l.reconciler.AddPlayer(data.Player)

	case EventPlayerLeft:
		var data struct {
			PlayerID string `json:"playerId"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil || data.PlayerID == "" {
			log.Warn("Malformed player_left payload")
			return
		}
		l.reconciler.RemovePlayer(data.PlayerID)

	case EventDiceRolled:
		var data struct {
			DiceValue          int   `json:"diceValue"`
			Faces              []int `json:"faces"`
			IsDouble           bool  `json:"isDouble"`
			ConsecutiveDoubles *int  `json:"consecutiveDoubles"`
			Timestamp          int64 `json:"timestamp"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil {
			log.Warn("Malformed dice_rolled payload: %v", err)
			return
		}
		faces := data.Faces
		if len(faces) == 0 {
			if data.DiceValue == 0 {
				log.Warn("dice_rolled payload missing faces")
				return
			}
			faces = []int{data.DiceValue}
		}
		if _, err := l.diceEngine.IngestServerRoll(dice.ServerRoll{
			Faces:              faces,
			IsDouble:           data.IsDouble,
			ConsecutiveDoubles: data.ConsecutiveDoubles,
			Timestamp:          data.Timestamp,
		}); err != nil {
			log.Warn("Failed to ingest server roll: %v", err)
		}

	case EventPlayerMoved:
		var data struct {
			ActivePlayer string `json:"activePlayer"`
			NewPosition  int    `json:"newPosition"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil || data.ActivePlayer == "" {
			log.Warn("Malformed player_moved payload")
			return
		}
		if err := l.reconciler.MovePlayer(data.ActivePlayer, data.NewPosition); err != nil {
			log.Warn("player_moved for unknown player: %v", err)
		}

	case EventGameStarted:
		var data struct {
			Players      []*types.Player `json:"players"`
			ActivePlayer string          `json:"activePlayer"`
		}
		if err := json.Unmarshal(envelope.Data, &data); err != nil || data.Players == nil {
			log.Warn("Malformed game_started payload")
			return
		}
		started := true
		l.reconciler.ApplyPartial(&types.SessionPatch{
			Players:     data.Players,
			GameStarted: &started,
		})
		if data.ActivePlayer != "" {
			if err := l.reconciler.SetActivePlayer(data.ActivePlayer); err != nil {
				log.Warn("game_started with unknown active player: %v", err)
			}
		}
		l.balances.RefreshFromAuthoritative(data.Players)

	case EventDecksUpdated:
		if l.bus != nil {
			l.bus.DecksUpdated.Publish(events.DecksUpdatedEvent{})
		}

	default:
		log.Debug("Ignoring unknown push event type %q", envelope.Type)
	}
}
