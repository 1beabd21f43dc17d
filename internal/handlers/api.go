// internal/handlers/api.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/bots"
	"github.com/stolik-gg/stolik/internal/match"
	"github.com/stolik-gg/stolik/internal/models"
)

// API exposes the JSON command surface used by the portal frontend: match
// CRUD plus the bot admin controls.
type API struct {
	Gateway *Gateway
	Bots    *bots.Worker
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	var kerr *match.Error
	if !errors.As(err, &kerr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch kerr.Kind {
	case match.KindNotFound:
		status = http.StatusNotFound
	case match.KindUnauthorized:
		status = http.StatusForbidden
	case match.KindConflict, match.KindIllegalAction, match.KindNotYourTurn, match.KindNotInGame:
		status = http.StatusConflict
	case match.KindBusy, match.KindLockLost:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": kerr.Msg, "kind": string(kerr.Kind)})
}

// authedUser resolves the bearer token on an API request.
func (a *API) authedUser(r *http.Request) (uuid.UUID, match.UserInfo, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	userID, err := a.Gateway.Sessions.Authenticate(r.Context(), token)
	if err != nil {
		return uuid.Nil, match.UserInfo{}, match.E(match.KindUnauthorized, "invalid session")
	}
	info := match.UserInfo{
		ID:          userID,
		DisplayName: r.Header.Get("X-Display-Name"),
		Avatar:      r.Header.Get("X-Avatar"),
	}
	if info.DisplayName == "" {
		info.DisplayName = "Player_" + userID.String()[:4]
	}
	return userID, info, nil
}

// CreateSession handles POST /session: mints a guest session token. The
// portal's account system lives elsewhere; callers bring their own stable
// user id or get a fresh one.
func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID uuid.UUID `json:"user_id,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.UserID == uuid.Nil {
		body.UserID = uuid.New()
	}
	token, err := a.Gateway.Sessions.CreateSession(r.Context(), body.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"user_id": body.UserID.String(),
		"token":   token,
	})
}

// CreateMatch handles POST /match/create.
func (a *API) CreateMatch(w http.ResponseWriter, r *http.Request) {
	_, info, err := a.authedUser(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		GameType models.GameType     `json:"game_type"`
		Mode     int                 `json:"mode"`
		Options  models.MatchOptions `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, match.E(match.KindConflict, "bad request body"))
		return
	}
	id, err := a.Gateway.Runtime.CreateMatch(r.Context(), info, match.CreateParams{
		GameType: body.GameType,
		Mode:     body.Mode,
		Options:  body.Options,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"match_id": id})
}

// JoinMatch handles POST /match/join.
func (a *API) JoinMatch(w http.ResponseWriter, r *http.Request) {
	_, info, err := a.authedUser(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var body struct {
		MatchID  string `json:"match_id"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, match.E(match.KindConflict, "bad request body"))
		return
	}
	if err := a.Gateway.Runtime.JoinMatch(r.Context(), body.MatchID, info, body.Password); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"match_id": body.MatchID})
}

// ListMatches handles GET /match/list. Display-only read, no lock.
func (a *API) ListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := a.Gateway.Runtime.ListMatches(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// AdminMatchmaking handles POST /admin/matchmaking {"enabled": bool}.
func (a *API) AdminMatchmaking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, match.E(match.KindConflict, "bad request body"))
		return
	}
	if err := a.Bots.SetMatchmakingEnabled(r.Context(), body.Enabled); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

// AdminBot handles POST /admin/bot {"bot_id": ..., "active": bool, "force_match_id": ...}.
func (a *API) AdminBot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BotID        uuid.UUID `json:"bot_id"`
		Active       *bool     `json:"active,omitempty"`
		ForceMatchID string    `json:"force_match_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, match.E(match.KindConflict, "bad request body"))
		return
	}
	if body.Active != nil {
		if err := a.Bots.SetBotActive(r.Context(), body.BotID, *body.Active); err != nil {
			writeErr(w, err)
			return
		}
	}
	if body.ForceMatchID != "" {
		if err := a.Bots.ForceBotToLobby(r.Context(), body.BotID, body.ForceMatchID); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AdminStatus handles GET /admin/status.
func (a *API) AdminStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Bots.Status())
}
