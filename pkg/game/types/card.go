package types

// Card represents a single card. Cards are immutable once created.
type Card struct {
	// ID uniquely identifies the card within its deck's universe
	ID string `json:"id"`
	// Title is the display title
	Title string `json:"title"`
	// Value is the price or value of the card
	Value int64 `json:"value"`
	// Description is descriptive flavor text
	Description string `json:"description,omitempty"`
}

// Deck represents one deck's draw and discard piles. Together with the
// session-wide owned card set they partition the deck's card universe.
type Deck struct {
	// ID identifies the deck (e.g. "deal", "market")
	ID string `json:"id"`
	// DrawPile is the ordered sequence of cards left to draw
	DrawPile []Card `json:"drawPile"`
	// DiscardPile is the ordered sequence of discarded cards
	DiscardPile []Card `json:"discardPile"`
}
