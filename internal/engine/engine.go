// internal/engine/engine.go
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/models"
)

// ActionKind tags the structured action records submitted to an engine.
type ActionKind string

const (
	ActionPlayCard      ActionKind = "playCard"
	ActionBid           ActionKind = "bid"
	ActionPass          ActionKind = "pass"
	ActionDeclare       ActionKind = "declare"
	ActionExchange      ActionKind = "exchange"
	ActionCloseStock    ActionKind = "closeStock"
	ActionFinalizeTrick ActionKind = "finalizeTrick"
)

// Action is the uniform action record. Rule-specific fields are optional; each
// engine validates the kinds it understands and rejects the rest.
type Action struct {
	Kind ActionKind `json:"kind"`
	Card *Card      `json:"card,omitempty"`
	Suit *Suit      `json:"suit,omitempty"`
	Bid  int        `json:"bid,omitempty"`

	// Cards carries multi-card payloads (musik discards).
	Cards []Card `json:"cards,omitempty"`
}

// IllegalActionError is returned by Apply when an action violates the rules.
// The runtime reports it to the caller and leaves the snapshot untouched.
type IllegalActionError struct {
	Reason string
}

func (e *IllegalActionError) Error() string {
	return "illegal action: " + e.Reason
}

// Illegal builds an IllegalActionError.
func Illegal(format string, args ...interface{}) error {
	return &IllegalActionError{Reason: fmt.Sprintf(format, args...)}
}

// Engine is the uniform contract over rule engines. The runtime never inspects
// engine internals; it persists Serialize output as an opaque blob.
type Engine interface {
	// Apply mutates internal state, or rejects with *IllegalActionError.
	Apply(playerID uuid.UUID, action Action) error

	// LegalActions lists the actions playerID may take right now.
	LegalActions(playerID uuid.UUID) []Action

	// ViewFor returns a serializable perspective hiding other players' cards.
	ViewFor(playerID uuid.UUID) interface{}

	// CurrentPlayer returns the player to act, or uuid.Nil between turns or
	// when terminal.
	CurrentPlayer() uuid.UUID

	// PendingAutoStep reports whether a synchronous rule step (e.g. trick
	// finalization) is waiting; the runtime applies it in the same critical
	// section as the triggering action.
	PendingAutoStep() bool

	IsTerminal() bool

	// Outcome maps playerID to a score in [0,1]; defined only when terminal.
	Outcome() map[uuid.UUID]float64

	// Clone returns a deep, independent copy for search-based policies.
	Clone() Engine

	// Serialize produces a snapshot stable across process restarts.
	Serialize() ([]byte, error)
}

// ContainsUUID reports whether ids holds id.
func ContainsUUID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Factory creates a fresh engine for the given seat-ordered players.
type Factory func(players []uuid.UUID, variant string) (Engine, error)

// Deserializer restores an engine from snapshot bytes.
type Deserializer func(blob []byte) (Engine, error)

type registration struct {
	factory     Factory
	deserialize Deserializer
}

var registry = map[models.GameType]registration{}

// Register installs a rule engine for a game type. Engines register themselves
// from init in their own packages.
func Register(gt models.GameType, f Factory, d Deserializer) {
	registry[gt] = registration{factory: f, deserialize: d}
}

// New creates an engine for gt, seat order = players.
func New(gt models.GameType, players []uuid.UUID, variant string) (Engine, error) {
	reg, ok := registry[gt]
	if !ok {
		return nil, fmt.Errorf("unknown game type %q", gt)
	}
	return reg.factory(players, variant)
}

// Deserialize restores an engine of type gt from blob.
func Deserialize(gt models.GameType, blob []byte) (Engine, error) {
	reg, ok := registry[gt]
	if !ok {
		return nil, fmt.Errorf("unknown game type %q", gt)
	}
	return reg.deserialize(blob)
}
