package decks

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/fastlane-games/fastlane-client/pkg/api"
	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/fastlane-games/fastlane-client/pkg/log"
)

type pile struct {
	draw    []types.Card
	discard []types.Card
}

// Lifecycle tracks draw/discard/reshuffle and permanent card ownership for
// every deck in a room. For a deck's card universe U the piles and the
// owned set always partition U: no card is duplicated or lost.
type Lifecycle struct {
	lock      sync.Mutex
	roomID    string
	decks     map[string]*pile
	owned     map[string]struct{}
	universe  map[string]map[string]struct{}
	store     Store
	apiClient *api.Client
	bus       *events.Bus
	randGen   *rand.Rand
	metadata  map[string]*DeckInfo
	templates []DeckInfo
}

type NewLifecycleOptions struct {
	RoomID    string
	Store     Store
	APIClient *api.Client
	Bus       *events.Bus
	// Templates are the static deck descriptions merged under server
	// metadata for any deck the server response omits.
	Templates []DeckInfo
	// Source overrides the shuffle random source, for deterministic tests.
	Source rand.Source
}

// NewLifecycle creates the deck lifecycle for a room, restoring any
// persisted snapshot for that room.
func NewLifecycle(ctx context.Context, opts NewLifecycleOptions) (*Lifecycle, error) {
	source := opts.Source
	if source == nil {
		source = rand.NewSource(rand.Int63())
	}
	l := &Lifecycle{
		roomID:    opts.RoomID,
		decks:     make(map[string]*pile),
		owned:     make(map[string]struct{}),
		universe:  make(map[string]map[string]struct{}),
		store:     opts.Store,
		apiClient: opts.APIClient,
		bus:       opts.Bus,
		randGen:   rand.New(source),
		metadata:  make(map[string]*DeckInfo),
		templates: opts.Templates,
	}

	if l.store != nil {
		snapshot, err := l.store.Load(ctx, opts.RoomID)
		if err != nil {
			var notFound *ErrNotFound
			if !errors.As(err, &notFound) {
				return nil, err
			}
		} else {
			l.restore(snapshot)
		}
	}

	if l.bus != nil {
		l.bus.DecksUpdated.Subscribe(func(events.DecksUpdatedEvent) {
			if err := l.RefreshMetadata(context.Background()); err != nil {
				log.Warn("Failed to refresh deck metadata: %v", err)
			}
		})
	}

	return l, nil
}

func (l *Lifecycle) restore(snapshot *Snapshot) {
	for deckID, piles := range snapshot.Decks {
		p := &pile{
			draw:    append([]types.Card(nil), piles.Draw...),
			discard: append([]types.Card(nil), piles.Discard...),
		}
		l.decks[deckID] = p
		for _, card := range p.draw {
			l.track(deckID, card.ID)
		}
		for _, card := range p.discard {
			l.track(deckID, card.ID)
		}
	}
	for _, id := range snapshot.OwnedCardIDs {
		l.owned[id] = struct{}{}
	}
}

func (l *Lifecycle) track(deckID, cardID string) {
	if l.universe[deckID] == nil {
		l.universe[deckID] = make(map[string]struct{})
	}
	l.universe[deckID][cardID] = struct{}{}
}

// InstallDeck seeds a deck's draw pile. A deck that already exists (for
// example restored from the snapshot store) is left untouched.
func (l *Lifecycle) InstallDeck(deckID string, cards []types.Card) {
	l.lock.Lock()
	if _, ok := l.decks[deckID]; !ok {
		l.decks[deckID] = &pile{draw: append([]types.Card(nil), cards...)}
		for _, card := range cards {
			l.track(deckID, card.ID)
		}
	}
	l.lock.Unlock()
	l.persist()
}

// Draw pops the next card from the deck's draw pile, reshuffling the
// discard pile into it when the draw pile is exhausted. Permanently
// acquired cards never re-enter circulation. Returns nil when both piles
// are effectively empty.
func (l *Lifecycle) Draw(deckID string) *types.Card {
	l.lock.Lock()
	p, ok := l.decks[deckID]
	if !ok {
		l.lock.Unlock()
		return nil
	}
	if len(p.draw) == 0 {
		l.reshuffleLocked(p)
	}
	if len(p.draw) == 0 {
		l.lock.Unlock()
		return nil
	}
	card := p.draw[0]
	p.draw = p.draw[1:]
	l.lock.Unlock()
	l.persist()
	return &card
}

// reshuffleLocked rebuilds the draw pile from the discard pile, excluding
// owned cards, with an unbiased Fisher-Yates shuffle. Callers hold the
// lock. The whole operation is synchronous: the piles are never observable
// half-updated.
func (l *Lifecycle) reshuffleLocked(p *pile) {
	filtered := make([]types.Card, 0, len(p.discard))
	for _, card := range p.discard {
		if _, owned := l.owned[card.ID]; owned {
			continue
		}
		filtered = append(filtered, card)
	}
	for i := len(filtered) - 1; i > 0; i-- {
		j := l.randGen.Intn(i + 1)
		filtered[i], filtered[j] = filtered[j], filtered[i]
	}
	p.draw = filtered
	p.discard = nil
}

// Discard appends a card to the deck's discard pile. Discarded but
// unacquired cards recirculate on future reshuffles.
func (l *Lifecycle) Discard(deckID string, card types.Card) {
	l.lock.Lock()
	p, ok := l.decks[deckID]
	if !ok {
		p = &pile{}
		l.decks[deckID] = p
	}
	p.discard = append(p.discard, card)
	l.track(deckID, card.ID)
	l.lock.Unlock()
	l.persist()
}

// Acquire marks a card as permanently owned, excluding it from all future
// reshuffles. Acquiring the same card twice is a no-op.
func (l *Lifecycle) Acquire(card types.Card) {
	l.lock.Lock()
	l.owned[card.ID] = struct{}{}
	l.lock.Unlock()
	l.persist()
}

// IsOwned reports whether a card has been permanently acquired.
func (l *Lifecycle) IsOwned(cardID string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	_, ok := l.owned[cardID]
	return ok
}

// OwnedCardIDs returns the session-wide owned card set.
func (l *Lifecycle) OwnedCardIDs() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	ids := make([]string, 0, len(l.owned))
	for id := range l.owned {
		ids = append(ids, id)
	}
	return ids
}

// OwnedInDeck returns how many of the deck's card universe are owned.
func (l *Lifecycle) OwnedInDeck(deckID string) int {
	l.lock.Lock()
	defer l.lock.Unlock()
	count := 0
	for id := range l.universe[deckID] {
		if _, ok := l.owned[id]; ok {
			count++
		}
	}
	return count
}

// Counts returns the draw and discard pile sizes for a deck.
func (l *Lifecycle) Counts(deckID string) (draw int, discard int) {
	l.lock.Lock()
	defer l.lock.Unlock()
	p, ok := l.decks[deckID]
	if !ok {
		return 0, 0
	}
	return len(p.draw), len(p.discard)
}

// Reset clears all piles and the owned set and removes the persisted
// snapshot. This is the only way persisted deck state is cleared.
func (l *Lifecycle) Reset(ctx context.Context) error {
	l.lock.Lock()
	l.decks = make(map[string]*pile)
	l.owned = make(map[string]struct{})
	l.universe = make(map[string]map[string]struct{})
	l.lock.Unlock()
	if l.store == nil {
		return nil
	}
	return l.store.Delete(ctx, l.roomID)
}

// persist writes the current snapshot to the store. Persistence failures
// are logged, never fatal to the game.
func (l *Lifecycle) persist() {
	if l.store == nil {
		return
	}
	l.lock.Lock()
	snapshot := &Snapshot{
		Decks:        make(map[string]PileSnapshot, len(l.decks)),
		OwnedCardIDs: make([]string, 0, len(l.owned)),
	}
	for deckID, p := range l.decks {
		snapshot.Decks[deckID] = PileSnapshot{
			Draw:    append([]types.Card(nil), p.draw...),
			Discard: append([]types.Card(nil), p.discard...),
		}
	}
	for id := range l.owned {
		snapshot.OwnedCardIDs = append(snapshot.OwnedCardIDs, id)
	}
	roomID := l.roomID
	l.lock.Unlock()

	if err := l.store.Save(context.Background(), roomID, snapshot); err != nil {
		log.Error("Failed to persist deck snapshot for room %s: %v", roomID, err)
	}
}
