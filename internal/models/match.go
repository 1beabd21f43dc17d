// internal/models/match.go
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// GameType selects the rule engine a match runs.
type GameType string

const (
	GameSixtySix GameType = "66"
	GameThousand GameType = "thousand"
)

// MatchStatus is the lifecycle state of a match record.
type MatchStatus string

const (
	StatusLobby    MatchStatus = "LOBBY"
	StatusInGame   MatchStatus = "IN_GAME"
	StatusFinished MatchStatus = "FINISHED"
	StatusForfeit  MatchStatus = "FORFEIT"
)

// SeatKind distinguishes empty, human, and bot seats.
type SeatKind string

const (
	SeatEmpty SeatKind = "EMPTY"
	SeatHuman SeatKind = "HUMAN"
	SeatBot   SeatKind = "BOT"
)

// Seat is one ordered slot within a match.
type Seat struct {
	SeatIdx     int       `json:"seat_idx"`
	Kind        SeatKind  `json:"kind"`
	UserID      uuid.UUID `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Ready       bool      `json:"ready"`
	IsHost      bool      `json:"is_host"`
	Team        string    `json:"team,omitempty"` // 4p only: "A" or "B"
}

// Occupied reports whether a human or bot sits here.
func (s Seat) Occupied() bool {
	return s.Kind != SeatEmpty
}

// MatchOptions are the recognized creation options.
type MatchOptions struct {
	Password string `json:"password,omitempty"`
	Ranked   bool   `json:"ranked"`
	Variant  string `json:"variant,omitempty"`
}

// TurnTimer is the persisted per-turn deadline for ranked games. MoveNumber
// fences stale sweeper fires.
type TurnTimer struct {
	SeatIdx    int       `json:"seat_idx"`
	MoveNumber int64     `json:"move_number"`
	Deadline   time.Time `json:"deadline"`
}

// Match is the shared lobby/game record persisted in the KV store. Both words
// refer to the same record: lobby before start, match once in game.
type Match struct {
	ID         string       `json:"id"`
	GameTypeID GameType     `json:"game_type_id"`
	Mode       int          `json:"mode"` // player count: 2, 3 or 4
	Ranked     bool         `json:"ranked"`
	MaxPlayers int          `json:"max_players"`
	CreatedAt  time.Time    `json:"created_at"`
	Status     MatchStatus  `json:"status"`
	Seats      []Seat       `json:"seats"`
	HostUserID uuid.UUID    `json:"host_user_id"`
	Options    MatchOptions `json:"options"`

	// Kicked users may not re-join this match.
	Kicked []uuid.UUID `json:"kicked,omitempty"`

	// TeamNames maps team tag ("A"/"B") to a display name. 4p only.
	TeamNames map[string]string `json:"team_names,omitempty"`

	// DisconnectDeadlines maps a disconnected user to the absolute instant at
	// which the disconnect supervisor forfeits them.
	DisconnectDeadlines map[uuid.UUID]time.Time `json:"disconnect_deadlines,omitempty"`

	TurnTimer *TurnTimer `json:"turn_timer,omitempty"`

	// MoveNumber increments on every applied action and every turn change.
	MoveNumber int64 `json:"move_number"`

	// LastActivity is refreshed on every committed mutation; the cleanup
	// sweeper uses it to expire idle lobbies.
	LastActivity time.Time `json:"last_activity"`

	// EndedReason and Outcome are set when the match reaches FINISHED/FORFEIT.
	EndedReason string                `json:"ended_reason,omitempty"`
	Outcome     map[uuid.UUID]float64 `json:"outcome,omitempty"`

	// EloPending marks a terminated ranked match awaiting the external rating
	// worker.
	EloPending bool `json:"elo_pending,omitempty"`
}

// TeamOf returns the fixed 4p team tag for a seat index: even seats are "A",
// odd seats are "B".
func TeamOf(seatIdx int) string {
	if seatIdx%2 == 0 {
		return "A"
	}
	return "B"
}

// SeatOf finds the seat occupied by userID, or nil.
func (m *Match) SeatOf(userID uuid.UUID) *Seat {
	for i := range m.Seats {
		if m.Seats[i].Occupied() && m.Seats[i].UserID == userID {
			return &m.Seats[i]
		}
	}
	return nil
}

// EmptySeatIdx returns the first EMPTY seat index, or -1 when full.
func (m *Match) EmptySeatIdx() int {
	for i := range m.Seats {
		if !m.Seats[i].Occupied() {
			return i
		}
	}
	return -1
}

// AllReady reports whether every seat is occupied and ready.
func (m *Match) AllReady() bool {
	return lo.EveryBy(m.Seats, func(s Seat) bool {
		return s.Occupied() && s.Ready
	})
}

// IsKicked reports whether userID was kicked from this match.
func (m *Match) IsKicked(userID uuid.UUID) bool {
	return lo.Contains(m.Kicked, userID)
}

// PlayerIDs returns occupied seat user ids in seat order.
func (m *Match) PlayerIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.Seats))
	for _, s := range m.Seats {
		if s.Occupied() {
			ids = append(ids, s.UserID)
		}
	}
	return ids
}

// BumpMove advances the move counter and returns the new value.
func (m *Match) BumpMove() int64 {
	m.MoveNumber++
	return m.MoveNumber
}

// Touch refreshes the activity timestamp.
func (m *Match) Touch(now time.Time) {
	m.LastActivity = now
}
