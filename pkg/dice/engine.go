package dice

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/events"
	"github.com/fastlane-games/fastlane-client/pkg/game/constants"
	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/google/uuid"
)

// ErrRollNotAllowed is returned when rolling is gated off, either by the
// session state or because the doubles ceiling was reached this turn.
var ErrRollNotAllowed = errors.New("roll not allowed")

// Engine generates dice rolls and tracks the consecutive-doubles
// escalation policy. Server-authoritative rolls are ingested through the
// same history and event channel as local rolls, so downstream consumers
// are transport-agnostic.
type Engine struct {
	lock               sync.Mutex
	randGen            *rand.Rand
	doubleDice         bool
	consecutiveDoubles int
	ceilingReached     bool
	history            []*types.RollResult
	bus                *events.Bus
	gate               func() bool
}

// RollOptions tweaks a single roll.
type RollOptions struct {
	// ForceSingle rolls one die even when double-dice is enabled
	ForceSingle bool
	// ForceDouble rolls two dice regardless of the double-dice flag
	ForceDouble bool
}

type NewEngineOptions struct {
	Bus *events.Bus
	// Gate is an externally supplied canRoll gate, typically backed by the
	// session state's action gates. A nil gate always allows rolling.
	Gate func() bool
	// Source overrides the random source, for deterministic tests.
	Source rand.Source
}

func newSeed() rand.Source {
	var b [8]byte
	_, err := crypto_rand.Read(b[:])
	if err != nil {
		panic("cannot seed math/rand package with cryptographically secure random number generator")
	}
	return rand.NewSource(int64(binary.LittleEndian.Uint64(b[:])))
}

// NewEngine creates a new dice engine.
func NewEngine(opts NewEngineOptions) *Engine {
	source := opts.Source
	if source == nil {
		source = newSeed()
	}
	return &Engine{
		randGen: rand.New(source),
		bus:     opts.Bus,
		gate:    opts.Gate,
	}
}

// SetDoubleDice toggles the double-dice feature flag (e.g. during a
// charity event).
func (e *Engine) SetDoubleDice(enabled bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.doubleDice = enabled
}

// CanRoll reports whether a roll may be issued. It is false once the
// doubles ceiling has been reached this turn, and also respects the
// external gate.
func (e *Engine) CanRoll() bool {
	e.lock.Lock()
	ceilingReached := e.ceilingReached
	e.lock.Unlock()
	if ceilingReached {
		return false
	}
	if e.gate != nil && !e.gate() {
		return false
	}
	return true
}

// Roll generates a local roll. Callers must check MaxDoublesReached on the
// result and stop issuing rolls for the turn when it is set.
func (e *Engine) Roll(opts *RollOptions) (*types.RollResult, error) {
	if !e.CanRoll() {
		return nil, ErrRollNotAllowed
	}
	if opts == nil {
		opts = &RollOptions{}
	}

	e.lock.Lock()
	diceCount := 1
	if opts.ForceDouble || (e.doubleDice && !opts.ForceSingle) {
		diceCount = 2
	}
	faces := make([]int, diceCount)
	total := 0
	for i := range faces {
		faces[i] = e.randGen.Intn(constants.DiceFaces) + 1
		total += faces[i]
	}
	isDouble := diceCount == 2 && faces[0] == faces[1]

	roll := e.recordLocked(&types.RollResult{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UnixMilli(),
		DiceCount: diceCount,
		Faces:     faces,
		Total:     total,
		IsDouble:  isDouble,
		Source:    types.RollSourceLocal,
	}, nil)
	e.lock.Unlock()

	if e.bus != nil {
		e.bus.DiceRolled.Publish(events.DiceRolledEvent{Roll: roll})
	}
	return roll, nil
}

// ServerRoll is a server-authoritative roll payload. ConsecutiveDoubles is
// a pointer because older server versions omit it; when present the server
// count wins over the locally derived one.
type ServerRoll struct {
	Faces              []int
	Total              int
	IsDouble           bool
	ConsecutiveDoubles *int
	Timestamp          int64
}

// IngestServerRoll merges a server roll into the history and re-emits it
// through the same event channel as local rolls.
func (e *Engine) IngestServerRoll(payload ServerRoll) (*types.RollResult, error) {
	if len(payload.Faces) == 0 {
		return nil, errors.New("server roll has no faces")
	}
	total := payload.Total
	if total == 0 {
		for _, f := range payload.Faces {
			total += f
		}
	}
	isDouble := payload.IsDouble
	if !isDouble {
		isDouble = len(payload.Faces) == 2 && payload.Faces[0] == payload.Faces[1]
	}
	timestamp := payload.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	e.lock.Lock()
	roll := e.recordLocked(&types.RollResult{
		ID:        uuid.New().String(),
		Timestamp: timestamp,
		DiceCount: len(payload.Faces),
		Faces:     payload.Faces,
		Total:     total,
		IsDouble:  isDouble,
		Source:    types.RollSourceServer,
	}, payload.ConsecutiveDoubles)
	e.lock.Unlock()

	if e.bus != nil {
		e.bus.DiceRolled.Publish(events.DiceRolledEvent{Roll: roll})
	}
	return roll, nil
}

// recordLocked applies the escalation policy to the roll, appends it to
// the bounded history, and returns it. Callers hold the lock.
func (e *Engine) recordLocked(roll *types.RollResult, serverDoubles *int) *types.RollResult {
	switch {
	case serverDoubles != nil:
		e.consecutiveDoubles = *serverDoubles
	case roll.IsDouble:
		e.consecutiveDoubles++
	default:
		e.consecutiveDoubles = 0
	}
	roll.ConsecutiveDoubles = e.consecutiveDoubles

	if e.consecutiveDoubles >= constants.MaxConsecutiveDoubles {
		roll.MaxDoublesReached = true
		roll.Penalty = types.PenaltyTurnForfeit
		e.ceilingReached = true
	}

	e.history = append(e.history, roll)
	if len(e.history) > constants.RollHistorySize {
		e.history = e.history[len(e.history)-constants.RollHistorySize:]
	}
	return roll
}

// ConsecutiveDoubles returns the current doubles streak.
func (e *Engine) ConsecutiveDoubles() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.consecutiveDoubles
}

// ResetTurn clears the doubles streak and the ceiling latch at turn end.
func (e *Engine) ResetTurn() {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.consecutiveDoubles = 0
	e.ceilingReached = false
}

// History returns the bounded roll history, oldest first.
func (e *Engine) History() []*types.RollResult {
	e.lock.Lock()
	defer e.lock.Unlock()
	history := make([]*types.RollResult, len(e.history))
	for i, roll := range e.history {
		history[i] = roll.Copy()
	}
	return history
}
