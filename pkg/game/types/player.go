package types

// Track identifies which board track a player is on.
type Track string

const (
	TrackInner Track = "inner"
	TrackOuter Track = "outer"
)

// Player represents one participant in a room.
type Player struct {
	// ID is the server-assigned player identifier
	ID string `json:"id"`
	// Name is the display name
	Name string `json:"name"`
	// Track is the board track the player is on
	Track Track `json:"track"`
	// Position is the tile index on the current track
	Position int `json:"position"`
	// Balance is the player's cash balance
	Balance int64 `json:"balance"`
	// Ready indicates the player is ready to start
	Ready bool `json:"ready"`
	// HasBundle indicates the player owns a client bundle
	HasBundle bool `json:"hasBundle"`
}

func (p *Player) Copy() *Player {
	c := *p
	return &c
}
