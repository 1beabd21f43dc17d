// internal/match/errors.go
package match

import "fmt"

// Kind is the machine tag attached to runtime errors. Transport layers map
// kinds onto HTTP statuses or WS error frames.
type Kind string

const (
	KindNotFound      Kind = "notFound"
	KindUnauthorized  Kind = "unauthorized"
	KindConflict      Kind = "conflict"
	KindIllegalAction Kind = "illegalAction"
	KindNotYourTurn   Kind = "notYourTurn"
	KindNotInGame     Kind = "notInGame"
	KindBusy          Kind = "busy"
	KindLockLost      Kind = "lockLost"
	KindEngineCorrupt Kind = "engineCorrupt"
	KindTimeout       Kind = "timeout"
	KindShutdown      Kind = "shutdown"
)

// Error carries a machine tag and a human message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Msg
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// E builds a tagged error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound      = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrConflict      = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrIllegalAction = &Error{Kind: KindIllegalAction, Msg: "illegal action"}
	ErrNotYourTurn   = &Error{Kind: KindNotYourTurn, Msg: "not your turn"}
	ErrNotInGame     = &Error{Kind: KindNotInGame, Msg: "not in game"}
	ErrBusy          = &Error{Kind: KindBusy, Msg: "busy"}
	ErrLockLost      = &Error{Kind: KindLockLost, Msg: "lock lost"}
	ErrEngineCorrupt = &Error{Kind: KindEngineCorrupt, Msg: "engine corrupt"}
	ErrShutdown      = &Error{Kind: KindShutdown, Msg: "shutting down"}
)
