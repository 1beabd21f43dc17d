// internal/events/events.go
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type tags every event published on a match channel.
type Type string

const (
	StateUpdated       Type = "state_updated"
	GameStarted        Type = "game_started"
	GameEnded          Type = "game_ended"
	PlayerDisconnected Type = "player_disconnected"
	PlayerReconnected  Type = "player_reconnected"
	Chat               Type = "chat"

	// BotAdmin carries matchmaking/bot flag changes so every process converges.
	BotAdmin Type = "bot_admin"
)

// Event is the wire format fanned out on channel:<matchID>. STATE_UPDATED is a
// hint only; clients re-read the match record rather than trusting payloads.
type Event struct {
	Type    Type      `json:"type"`
	MatchID string    `json:"match_id,omitempty"`
	UserID  uuid.UUID `json:"user_id,omitempty"`

	// GameStarted
	Players []uuid.UUID `json:"players,omitempty"`

	// GameEnded
	Reason  string                `json:"reason,omitempty"`
	Outcome map[uuid.UUID]float64 `json:"outcome,omitempty"`

	// PlayerDisconnected
	Deadline *time.Time `json:"deadline,omitempty"`

	// Chat
	From uuid.UUID `json:"from,omitempty"`
	Body string    `json:"body,omitempty"`

	// BotAdmin
	Admin *AdminChange `json:"admin,omitempty"`
}

// AdminChange mirrors a bot-worker flag mutation across processes.
type AdminChange struct {
	MatchmakingEnabled *bool     `json:"matchmaking_enabled,omitempty"`
	BotID              uuid.UUID `json:"bot_id,omitempty"`
	BotActive          *bool     `json:"bot_active,omitempty"`
}

// AdminChannel is the process-convergence channel for bot admin changes.
const AdminChannel = "channel:bots:admin"

// Encode marshals the event for publish.
func (e Event) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Decode parses event bytes received from pub/sub.
func Decode(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
