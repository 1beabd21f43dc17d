// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/auth"
	"github.com/stolik-gg/stolik/internal/broadcast"
	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/match"
)

// ClientMessage is the envelope for commands arriving over a match socket.
type ClientMessage struct {
	Type     string         `json:"type"`
	SeatIdx  int            `json:"seat_idx,omitempty"`
	Ready    bool           `json:"ready,omitempty"`
	BotID    string         `json:"bot_id,omitempty"`
	Action   *engine.Action `json:"action,omitempty"`
	Body     string         `json:"body,omitempty"`
	Password string         `json:"password,omitempty"`
}

type errorFrame struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

// Gateway is the thin ws edge over the runtime command port. It owns no match
// state; it authenticates, forwards commands, and feeds socket drops to the
// disconnect supervisor through the bus.
type Gateway struct {
	Log      *logrus.Logger
	Runtime  *match.Runtime
	Bus      *broadcast.Bus
	Sessions *auth.Service
}

// MatchWS serves /ws/{matchID}: it authenticates the session token, attaches
// a sink to the broadcast bus, and pumps client commands into the runtime.
func (g *Gateway) MatchWS(w http.ResponseWriter, r *http.Request) {
	matchID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if matchID == "" || strings.Contains(matchID, "/") {
		http.Error(w, "missing match id (/ws/{match_id})", http.StatusBadRequest)
		return
	}
	userID, err := g.Sessions.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}
	if _, err := g.Runtime.GetMatch(r.Context(), matchID); err != nil {
		http.Error(w, "match not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.Log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler exit")

	ctx := r.Context()
	sink := broadcast.NewWebsocketSink(ctx, userID, conn)
	defer sink.Close()
	g.Bus.Attach(ctx, matchID, sink)

	// A returning player inside the grace window clears their deadline. An
	// expired window refuses the socket; the sweeper owns the forfeit.
	if err := g.Runtime.OnReconnect(ctx, matchID, userID); err != nil {
		if kerr, ok := err.(*match.Error); ok && kerr.Kind == match.KindTimeout {
			g.Bus.Detach(matchID, sink)
			conn.Close(websocket.StatusPolicyViolation, "reconnect window expired")
			return
		}
	}
	g.Log.WithFields(logrus.Fields{"match": matchID, "user": userID}).Info("client attached")

	g.readLoop(ctx, conn, matchID, userID)
	g.Bus.SinkGone(matchID, sink)
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, matchID string, userID uuid.UUID) {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}
		if err := g.dispatch(ctx, matchID, userID, msg); err != nil {
			frame := errorFrame{Type: "error", Msg: err.Error()}
			if kerr, ok := err.(*match.Error); ok {
				frame.Kind = string(kerr.Kind)
				frame.Msg = kerr.Msg
			}
			_ = wsjson.Write(ctx, conn, frame)
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, matchID string, userID uuid.UUID, msg ClientMessage) error {
	switch msg.Type {
	case "ready":
		return g.Runtime.SetReady(ctx, matchID, userID, msg.Ready)
	case "change_seat":
		return g.Runtime.ChangeSeat(ctx, matchID, userID, msg.SeatIdx)
	case "add_bot":
		botID, err := uuid.Parse(msg.BotID)
		if err != nil {
			return match.E(match.KindConflict, "bad bot id")
		}
		return g.Runtime.AddBot(ctx, matchID, userID, msg.SeatIdx, botID)
	case "kick":
		return g.Runtime.KickSeat(ctx, matchID, userID, msg.SeatIdx)
	case "start":
		return g.Runtime.StartGame(ctx, matchID, userID)
	case "action":
		if msg.Action == nil {
			return match.E(match.KindIllegalAction, "missing action")
		}
		return g.Runtime.SubmitAction(ctx, matchID, userID, *msg.Action)
	case "finalize_trick":
		return g.Runtime.FinalizeTrickIfPending(ctx, matchID)
	case "leave":
		return g.Runtime.LeaveMatch(ctx, matchID, userID)
	case "chat":
		return g.Bus.SendChat(ctx, matchID, userID, msg.Body)
	default:
		return match.E(match.KindConflict, "unknown message type %q", msg.Type)
	}
}
