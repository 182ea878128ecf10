package decks

import (
	"context"
	"sort"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/log"
)

// DeckInfo is the read-only metadata mirror entry for one deck.
type DeckInfo struct {
	ID           string
	Name         string
	Description  string
	DrawCount    int
	DiscardCount int
	// Unavailable is set when the last metadata fetch failed; the counts
	// shown are then the last known values.
	Unavailable bool
}

// RefreshMetadata fetches deck metadata from the server and merges it with
// the static templates for any deck absent from the response. On failure
// the mirror degrades to an "unavailable" state instead of blanking.
func (l *Lifecycle) RefreshMetadata(ctx context.Context) error {
	if l.apiClient == nil {
		return nil
	}
	catalog, err := l.apiClient.Cards(ctx)
	if err != nil {
		l.lock.Lock()
		for _, info := range l.metadata {
			info.Unavailable = true
		}
		l.lock.Unlock()
		return err
	}

	merged := make(map[string]*DeckInfo)
	for _, template := range l.templates {
		t := template
		merged[t.ID] = &t
	}
	for _, deck := range catalog.Decks {
		info, ok := merged[deck.ID]
		if !ok {
			info = &DeckInfo{ID: deck.ID}
			merged[deck.ID] = info
		}
		if deck.Name != "" {
			info.Name = deck.Name
		}
		info.DrawCount = len(deck.DrawPile)
		info.DiscardCount = len(deck.DiscardPile)
		info.Unavailable = false
	}
	for _, stats := range catalog.Stats {
		info, ok := merged[stats.ID]
		if !ok {
			info = &DeckInfo{ID: stats.ID}
			merged[stats.ID] = info
		}
		info.DrawCount = stats.DrawCount
		info.DiscardCount = stats.DiscardCount
		info.Unavailable = false
	}

	l.lock.Lock()
	l.metadata = merged
	l.lock.Unlock()
	return nil
}

// Metadata returns the current mirror entries sorted by deck id.
func (l *Lifecycle) Metadata() []DeckInfo {
	l.lock.Lock()
	defer l.lock.Unlock()
	infos := make([]DeckInfo, 0, len(l.metadata))
	for _, info := range l.metadata {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// StartAutoRefresh refreshes the metadata mirror periodically until the
// context is cancelled.
func (l *Lifecycle) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.RefreshMetadata(ctx); err != nil {
					log.Warn("Failed to refresh deck metadata: %v", err)
				}
			}
		}
	}()
}
