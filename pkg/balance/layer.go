package balance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/fastlane-games/fastlane-client/pkg/log"
)

// Mirror receives formatted balance values for display. Implementations
// are UI-side; the engine only pushes into them.
type Mirror interface {
	// WriteBalance displays the formatted value for a player. The updated
	// flag asks for a transient "updated" visual marker.
	WriteBalance(playerID string, formatted string, updated bool)
}

// Layer is the single source of truth for player balances. Exactly one
// record is kept per player; writes are freshness-gated to avoid redundant
// UI churn but an authoritative divergence always wins.
type Layer struct {
	lock        sync.Mutex
	records     map[string]*types.BalanceRecord
	mirrors     map[string][]Mirror
	bus         *events.Bus
	apiClient   *api.Client
	roomID      string
	lastRefresh time.Time
	syncing     bool

	freshness    time.Duration
	refreshFloor time.Duration
	syncInterval time.Duration
}

type NewLayerOptions struct {
	APIClient *api.Client
	Bus       *events.Bus
	// Freshness overrides the freshness window. Defaults to
	// constants.BalanceFreshnessWindow.
	Freshness time.Duration
	// RefreshFloor overrides the bulk-refresh floor. Defaults to
	// constants.BalanceRefreshFloor.
	RefreshFloor time.Duration
	// SyncInterval overrides the pull-sync interval. Defaults to
	// constants.BalanceSyncInterval.
	SyncInterval time.Duration
}

// NewLayer creates a new balance consistency layer.
func NewLayer(opts NewLayerOptions) *Layer {
	freshness := opts.Freshness
	if freshness == 0 {
		freshness = constants.BalanceFreshnessWindow
	}
	refreshFloor := opts.RefreshFloor
	if refreshFloor == 0 {
		refreshFloor = constants.BalanceRefreshFloor
	}
	syncInterval := opts.SyncInterval
	if syncInterval == 0 {
		syncInterval = constants.BalanceSyncInterval
	}
	return &Layer{
		records:      make(map[string]*types.BalanceRecord),
		mirrors:      make(map[string][]Mirror),
		bus:          opts.Bus,
		apiClient:    opts.APIClient,
		freshness:    freshness,
		refreshFloor: refreshFloor,
		syncInterval: syncInterval,
	}
}

// BindMirror binds a UI mirror to a player id.
func (l *Layer) BindMirror(playerID string, mirror Mirror) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.mirrors[playerID] = append(l.mirrors[playerID], mirror)
}

// UpdateBalance upserts a player's balance record. A fresh record with an
// unchanged amount makes the call a no-op; everything else overwrites
// unconditionally, so a differing amount lands even inside the freshness
// window and an unchanged amount still recovers a stale record. Returns
// whether a write happened.
func (l *Layer) UpdateBalance(playerID string, amount int64, source types.BalanceSource) bool {
	now := time.Now()

	l.lock.Lock()
	if existing, ok := l.records[playerID]; ok {
		if existing.Fresh(now, l.freshness) && existing.Amount == amount {
			l.lock.Unlock()
			log.Trace("Skipping fresh unchanged balance for %s", playerID)
			return false
		}
	}
	l.records[playerID] = &types.BalanceRecord{
		Amount:    amount,
		Source:    source,
		Timestamp: now,
	}
	mirrors := append([]Mirror(nil), l.mirrors[playerID]...)
	l.lock.Unlock()

	formatted := FormatAmount(amount)
	for _, mirror := range mirrors {
		mirror.WriteBalance(playerID, formatted, true)
	}
	if l.bus != nil {
		l.bus.BalanceUpdated.Publish(events.BalanceUpdatedEvent{
			PlayerID: playerID,
			Amount:   amount,
			Source:   source,
		})
	}
	return true
}

// Balance returns the current record for a player.
func (l *Layer) Balance(playerID string) (types.BalanceRecord, bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	record, ok := l.records[playerID]
	if !ok {
		return types.BalanceRecord{}, false
	}
	return *record, true
}

// RefreshFromAuthoritative applies balances from a server snapshot. The
// bulk path is debounced with a hard floor between sweeps; calls inside
// the floor are dropped entirely, not queued.
func (l *Layer) RefreshFromAuthoritative(players []*types.Player) {
	now := time.Now()
	l.lock.Lock()
	if !l.lastRefresh.IsZero() && now.Sub(l.lastRefresh) < l.refreshFloor {
		l.lock.Unlock()
		log.Trace("Dropping balance refresh inside the floor")
		return
	}
	l.lastRefresh = now
	l.lock.Unlock()

	for _, player := range players {
		l.UpdateBalance(player.ID, player.Balance, types.BalanceSourceGameState)
	}
}

// SetRoom points the pull-sync loop at a room.
func (l *Layer) SetRoom(roomID string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.roomID = roomID
}

// SyncBalances pulls authoritative balances once. A sync already in flight
// suppresses the call rather than queuing it; the guard is always cleared
// on completion. Divergences overwrite the local record regardless of
// freshness.
func (l *Layer) SyncBalances(ctx context.Context) error {
	l.lock.Lock()
	if l.syncing || l.roomID == "" {
		l.lock.Unlock()
		return nil
	}
	l.syncing = true
	roomID := l.roomID
	l.lock.Unlock()

	defer func() {
		l.lock.Lock()
		l.syncing = false
		l.lock.Unlock()
	}()

	players, err := l.apiClient.Players(ctx, roomID)
	if err != nil {
		// Staleness is preferred over unavailability: the prior balance
		// stays displayed.
		log.Warn("Balance sync failed: %v", err)
		return err
	}
	for _, player := range players {
		l.UpdateBalance(player.ID, player.Balance, types.BalanceSourceBankAPI)
	}
	return nil
}

// Run drives the pull-sync loop until the context is cancelled.
func (l *Layer) Run(ctx context.Context) {
	ticker := time.NewTicker(l.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.SyncBalances(ctx); err != nil {
				log.Debug("Balance sync error: %v", err)
			}
		}
	}
}

// FormatAmount renders an amount for display, e.g. -1234567 -> "-$1,234,567".
func FormatAmount(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var out []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, d)
	}
	if negative {
		return "-$" + string(out)
	}
	return "$" + string(out)
}
