package types

// SessionState represents the authoritative state of one room.
// It is mutated only through merges so that fields the server has not
// echoed yet are never clobbered by a lagging snapshot.
type SessionState struct {
	// RoomID identifies the room
	RoomID string `json:"roomId"`
	// Players is the ordered player list
	Players []*Player `json:"players"`
	// CurrentPlayerIndex indexes the active player in Players
	CurrentPlayerIndex int `json:"currentPlayerIndex"`
	// GameStarted indicates the game is underway
	GameStarted bool `json:"gameStarted"`
	// LastDiceRoll is the most recent roll, if any
	LastDiceRoll *RollResult `json:"lastDiceRoll,omitempty"`
	// CanRoll gates the roll action
	CanRoll bool `json:"canRoll"`
	// CanMove gates the move action
	CanMove bool `json:"canMove"`
	// CanEndTurn gates ending the turn
	CanEndTurn bool `json:"canEndTurn"`
}

func NewSessionState(roomID string) *SessionState {
	return &SessionState{
		RoomID:  roomID,
		Players: []*Player{},
	}
}

// ActivePlayer returns the player at CurrentPlayerIndex, or nil if the
// index does not address the player list.
func (s *SessionState) ActivePlayer() *Player {
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return nil
	}
	return s.Players[s.CurrentPlayerIndex]
}

// PlayerByID returns the player with the given id, or nil.
func (s *SessionState) PlayerByID(id string) *Player {
	for _, p := range s.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *SessionState) Copy() *SessionState {
	c := &SessionState{
		RoomID:             s.RoomID,
		CurrentPlayerIndex: s.CurrentPlayerIndex,
		GameStarted:        s.GameStarted,
		CanRoll:            s.CanRoll,
		CanMove:            s.CanMove,
		CanEndTurn:         s.CanEndTurn,
		Players:            make([]*Player, len(s.Players)),
	}
	for i, p := range s.Players {
		c.Players[i] = p.Copy()
	}
	if s.LastDiceRoll != nil {
		c.LastDiceRoll = s.LastDiceRoll.Copy()
	}
	return c
}

// SessionPatch is a partial SessionState. Nil fields are absent from the
// patch and leave the corresponding state field untouched.
type SessionPatch struct {
	RoomID             *string     `json:"roomId,omitempty"`
	Players            []*Player   `json:"players,omitempty"`
	CurrentPlayerIndex *int        `json:"currentPlayerIndex,omitempty"`
	GameStarted        *bool       `json:"gameStarted,omitempty"`
	LastDiceRoll       *RollResult `json:"lastDiceRoll,omitempty"`
	CanRoll            *bool       `json:"canRoll,omitempty"`
	CanMove            *bool       `json:"canMove,omitempty"`
	CanEndTurn         *bool       `json:"canEndTurn,omitempty"`
}
