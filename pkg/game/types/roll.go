package types

// RollSource identifies where a roll result came from.
type RollSource string

const (
	RollSourceLocal  RollSource = "local"
	RollSourceServer RollSource = "server"
)

// PenaltyTurnForfeit tags a roll that forfeits the turn after too many doubles.
const PenaltyTurnForfeit = "turn-forfeit"

// RollResult represents the outcome of a single dice roll.
type RollResult struct {
	// ID uniquely identifies the roll
	ID string `json:"id"`
	// Timestamp is the roll time in unix milliseconds
	Timestamp int64 `json:"timestamp"`
	// DiceCount is the number of dice rolled (1 or 2)
	DiceCount int `json:"diceCount"`
	// Faces holds the individual die values
	Faces []int `json:"faces"`
	// Total is the sum of the faces
	Total int `json:"total"`
	// IsDouble is true when two dice were rolled and both faces match
	IsDouble bool `json:"isDouble"`
	// ConsecutiveDoubles counts back-to-back doubles including this roll
	ConsecutiveDoubles int `json:"consecutiveDoubles"`
	// MaxDoublesReached is true when the doubles ceiling was hit
	MaxDoublesReached bool `json:"maxDoublesReached,omitempty"`
	// Penalty carries a penalty tag when the ceiling was hit
	Penalty string `json:"penalty,omitempty"`
	// Source is where the roll was generated
	Source RollSource `json:"source"`
}

func (r *RollResult) Copy() *RollResult {
	c := *r
	c.Faces = make([]int, len(r.Faces))
	copy(c.Faces, r.Faces)
	return &c
}
