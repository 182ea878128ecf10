package push

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/fastlane-games/fastlane-client/pkg/log"
)

// Push event types delivered by the server.
const (
	EventSnapshot     = "snapshot"
	EventTurnChanged  = "turn_changed"
	EventPlayerJoined = "player_joined"
	EventPlayerLeft   = "player_left"
	EventDiceRolled   = "dice_rolled"
	EventPlayerMoved  = "player_moved"
	EventGameStarted  = "game_started"
	EventDecksUpdated = "decks_updated"
)

// Envelope is one authoritative update. Either Patch is set (full-snapshot
// transports) or Type/Data carry a push event of the known taxonomy.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Patch *types.SessionPatch
}

// Transport delivers authoritative updates for a room. Polling is one
// valid backend, a persistent stream is another; the delivery loop does
// not care which it is fed by.
type Transport interface {
	// Start begins delivering updates for the room until the context is
	// cancelled or Close is called.
	Start(ctx context.Context, roomID string) error
	// Updates is the stream of updates. It is closed when the transport
	// stops.
	Updates() <-chan Envelope
	// Close stops the transport.
	Close() error
}

// PollTransport implements Transport by polling the room's game-state
// endpoint at a fixed interval.
type PollTransport struct {
	apiClient *api.Client
	interval  time.Duration
	updates   chan Envelope
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPollTransport creates a polling transport.
func NewPollTransport(apiClient *api.Client, interval time.Duration) *PollTransport {
	return &PollTransport{
		apiClient: apiClient,
		interval:  interval,
		updates:   make(chan Envelope, 16),
	}
}

func (t *PollTransport) Start(ctx context.Context, roomID string) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.updates)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				patch, err := t.apiClient.GameState(ctx, roomID)
				if err != nil {
					// The request layer already paces and backs off; a
					// failed poll just waits for the next tick.
					log.Debug("Snapshot poll failed: %v", err)
					continue
				}
				select {
				case t.updates <- Envelope{Type: EventSnapshot, Patch: patch}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

func (t *PollTransport) Updates() <-chan Envelope {
	return t.updates
}

func (t *PollTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
	})
	return nil
}
