// internal/match/game.go
package match

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/events"
	"github.com/stolik-gg/stolik/internal/models"
	"github.com/stolik-gg/stolik/internal/store"
)

// StartGame transitions LOBBY → IN_GAME. Requires every seat occupied and
// ready, and the host as caller.
func (r *Runtime) StartGame(ctx context.Context, id string, actor uuid.UUID) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		if m.HostUserID != actor {
			return E(KindUnauthorized, "only the host may start the game")
		}
		if !m.AllReady() {
			return E(KindConflict, "all seats must be occupied and ready")
		}

		players := m.PlayerIDs()
		eng, err := engine.New(m.GameTypeID, players, m.Options.Variant)
		if err != nil {
			return E(KindConflict, "create engine: %v", err)
		}
		blob, err := eng.Serialize()
		if err != nil {
			return E(KindEngineCorrupt, "serialize fresh engine: %v", err)
		}

		m.Status = models.StatusInGame
		m.BumpMove()
		r.armTurnTimer(m, eng)
		m.Touch(time.Now())
		if err := r.store.SaveEngine(ctx, id, blob); err != nil {
			return err
		}
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}

		r.log.WithFields(logrus.Fields{"match": id, "players": len(players)}).Info("game started")
		r.publish(ctx, events.Event{Type: events.GameStarted, MatchID: id, Players: players})
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		r.maybeEnqueueBotTurn(m, eng)
		return nil
	})
}

// SubmitAction applies a player action under the match lock, drives bounded
// auto-steps, re-arms the turn timer, and publishes the result.
func (r *Runtime) SubmitAction(ctx context.Context, id string, userID uuid.UUID, action engine.Action) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, eng, err := r.loadGame(ctx, id)
		if err != nil {
			return err
		}
		if m.SeatOf(userID) == nil {
			return E(KindUnauthorized, "user not seated in match %s", id)
		}
		if cur := eng.CurrentPlayer(); cur != userID {
			return E(KindNotYourTurn, "current player is %s", cur)
		}
		if err := eng.Apply(userID, action); err != nil {
			var ill *engine.IllegalActionError
			if errors.As(err, &ill) {
				return E(KindIllegalAction, "%s", ill.Reason)
			}
			return err
		}
		m.BumpMove()
		return r.commit(ctx, m, eng)
	})
}

// FinalizeTrickIfPending applies any pending synchronous engine step. Callable
// by any connected client; a second call is a no-op.
func (r *Runtime) FinalizeTrickIfPending(ctx context.Context, id string) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, eng, err := r.loadGame(ctx, id)
		if err != nil {
			return err
		}
		if !eng.PendingAutoStep() {
			return nil
		}
		m.BumpMove()
		return r.commit(ctx, m, eng)
	})
}

// TimeoutCurrentTurn is invoked by the turn-timer sweeper. The move-number
// fence makes the at-least-once sweep at-most-once per turn.
func (r *Runtime) TimeoutCurrentTurn(ctx context.Context, id string, expectedMoveNumber int64) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil // match vanished; nothing to do
		}
		if err != nil {
			return err
		}
		if m.Status != models.StatusInGame || m.TurnTimer == nil {
			return nil
		}
		if m.TurnTimer.MoveNumber != expectedMoveNumber || time.Now().Before(m.TurnTimer.Deadline) {
			return nil // turn advanced or deadline re-armed; stale fire
		}
		loser := m.Seats[m.TurnTimer.SeatIdx].UserID
		r.log.WithFields(logrus.Fields{
			"match": id, "seat": m.TurnTimer.SeatIdx, "move": expectedMoveNumber,
		}).Info("turn timed out")
		return r.forfeitLocked(ctx, m, loser, "turnTimeout")
	})
}

// Forfeit ends the game with loserUser's side losing.
func (r *Runtime) Forfeit(ctx context.Context, id string, loserUser uuid.UUID, reason string) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return E(KindNotFound, "match %s not found", id)
		}
		if err != nil {
			return err
		}
		if m.Status != models.StatusInGame {
			return E(KindNotInGame, "match %s is not in game", id)
		}
		return r.forfeitLocked(ctx, m, loserUser, reason)
	})
}

// forfeitLocked commits the FORFEIT transition. Caller holds the match lock.
// A forfeit never reverses.
func (r *Runtime) forfeitLocked(ctx context.Context, m *models.Match, loserUser uuid.UUID, reason string) error {
	m.Status = models.StatusForfeit
	m.EndedReason = reason
	m.Outcome = r.forfeitOutcome(m, loserUser)
	m.TurnTimer = nil
	m.DisconnectDeadlines = nil
	if m.Ranked {
		m.EloPending = true
	}
	m.BumpMove()
	m.Touch(time.Now())
	if err := r.store.SaveMatch(ctx, m); err != nil {
		return err
	}
	r.publish(ctx, events.Event{
		Type: events.GameEnded, MatchID: m.ID, Reason: reason, Outcome: m.Outcome,
	})
	r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: m.ID})
	return nil
}

// forfeitOutcome applies the outcome rules: 4p loses as a team, 3p survivors
// draw (policy knob), 2p winner takes all.
func (r *Runtime) forfeitOutcome(m *models.Match, loserUser uuid.UUID) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(m.Seats))
	loserSeat := m.SeatOf(loserUser)
	if loserSeat == nil {
		// Loser already vacated; everyone else draws.
		for _, s := range m.Seats {
			if s.Occupied() {
				out[s.UserID] = 0.5
			}
		}
		return out
	}
	switch m.MaxPlayers {
	case 4:
		loserTeam := models.TeamOf(loserSeat.SeatIdx)
		for _, s := range m.Seats {
			if models.TeamOf(s.SeatIdx) == loserTeam {
				out[s.UserID] = 0.0
			} else {
				out[s.UserID] = 1.0
			}
		}
	case 3:
		if r.cfg.ThreePlayerForfeitSplit {
			for _, s := range m.Seats {
				if s.UserID == loserUser {
					out[s.UserID] = 0.0
				} else {
					out[s.UserID] = 0.5
				}
			}
		} else {
			// Full win to the next seat in turn order.
			winner := (loserSeat.SeatIdx + 1) % len(m.Seats)
			for _, s := range m.Seats {
				switch s.SeatIdx {
				case loserSeat.SeatIdx:
					out[s.UserID] = 0.0
				case winner:
					out[s.UserID] = 1.0
				default:
					out[s.UserID] = 0.0
				}
			}
		}
	default:
		for _, s := range m.Seats {
			if s.UserID == loserUser {
				out[s.UserID] = 0.0
			} else {
				out[s.UserID] = 1.0
			}
		}
	}
	return out
}

// OnDisconnect starts the grace window for a user whose socket dropped.
func (r *Runtime) OnDisconnect(ctx context.Context, id string, userID uuid.UUID) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.Status != models.StatusInGame || m.SeatOf(userID) == nil {
			return nil
		}
		deadline := time.Now().Add(r.cfg.DisconnectGrace())
		if m.DisconnectDeadlines == nil {
			m.DisconnectDeadlines = make(map[uuid.UUID]time.Time)
		}
		m.DisconnectDeadlines[userID] = deadline
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{
			Type: events.PlayerDisconnected, MatchID: id, UserID: userID, Deadline: &deadline,
		})
		return nil
	})
}

// OnReconnect clears the grace entry. A reconnect after expiry is refused; the
// sweeper will forfeit the game.
func (r *Runtime) OnReconnect(ctx context.Context, id string, userID uuid.UUID) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return E(KindNotFound, "match %s not found", id)
		}
		if err != nil {
			return err
		}
		deadline, ok := m.DisconnectDeadlines[userID]
		if !ok {
			return nil
		}
		if time.Now().After(deadline) {
			return E(KindTimeout, "grace window for %s expired", userID)
		}
		delete(m.DisconnectDeadlines, userID)
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.PlayerReconnected, MatchID: id, UserID: userID})
		return nil
	})
}

// loadGame loads an IN_GAME match plus its engine. Corrupt engine bytes
// forfeit the match immediately.
func (r *Runtime) loadGame(ctx context.Context, id string) (*models.Match, engine.Engine, error) {
	m, err := r.store.LoadMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, E(KindNotFound, "match %s not found", id)
	}
	if err != nil {
		return nil, nil, err
	}
	if m.Status != models.StatusInGame {
		return nil, nil, E(KindNotInGame, "match %s is not in game", id)
	}
	blob, err := r.store.LoadEngine(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, E(KindNotFound, "engine for match %s not found", id)
	}
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.Deserialize(m.GameTypeID, blob)
	if err != nil {
		r.log.WithError(err).WithField("match", id).Error("engine snapshot corrupt")
		if ferr := r.forfeitLocked(ctx, m, uuid.Nil, "engineCorrupt"); ferr != nil {
			return nil, nil, ferr
		}
		return nil, nil, E(KindEngineCorrupt, "engine for match %s corrupt", id)
	}
	return m, eng, nil
}

// commit runs the shared tail of every in-game mutation: bounded auto-steps,
// terminal detection, timer re-arm, persistence, publish, bot-turn dispatch.
// Caller holds the match lock and has already bumped the move number.
func (r *Runtime) commit(ctx context.Context, m *models.Match, eng engine.Engine) error {
	for i := 0; i < maxAutoSteps && eng.PendingAutoStep(); i++ {
		if err := eng.Apply(uuid.Nil, engine.Action{Kind: engine.ActionFinalizeTrick}); err != nil {
			r.log.WithError(err).WithField("match", m.ID).Warn("auto-step failed")
			break
		}
		m.BumpMove()
	}

	if eng.IsTerminal() {
		m.Status = models.StatusFinished
		m.EndedReason = "completed"
		m.Outcome = eng.Outcome()
		m.TurnTimer = nil
		m.DisconnectDeadlines = nil
		if m.Ranked {
			m.EloPending = true
		}
		m.Touch(time.Now())
		blob, err := eng.Serialize()
		if err == nil {
			err = r.store.SaveEngine(ctx, m.ID, blob)
		}
		if err != nil {
			return err
		}
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{
			Type: events.GameEnded, MatchID: m.ID, Reason: m.EndedReason, Outcome: m.Outcome,
		})
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: m.ID})
		return nil
	}

	r.armTurnTimer(m, eng)
	m.Touch(time.Now())
	blob, err := eng.Serialize()
	if err != nil {
		return E(KindEngineCorrupt, "serialize engine: %v", err)
	}
	if err := r.store.SaveEngine(ctx, m.ID, blob); err != nil {
		return err
	}
	if err := r.store.SaveMatch(ctx, m); err != nil {
		return err
	}
	r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: m.ID})
	r.maybeEnqueueBotTurn(m, eng)
	return nil
}

// armTurnTimer sets or clears the persisted per-turn deadline. Ranked games
// with a current player carry a timer; everything else clears it.
func (r *Runtime) armTurnTimer(m *models.Match, eng engine.Engine) {
	cur := eng.CurrentPlayer()
	if !m.Ranked || m.Status != models.StatusInGame || cur == uuid.Nil {
		m.TurnTimer = nil
		return
	}
	seat := m.SeatOf(cur)
	if seat == nil {
		m.TurnTimer = nil
		return
	}
	// Keep the running deadline if the same seat still acts on the same move.
	if m.TurnTimer != nil && m.TurnTimer.SeatIdx == seat.SeatIdx && m.TurnTimer.MoveNumber == m.MoveNumber {
		return
	}
	m.TurnTimer = &models.TurnTimer{
		SeatIdx:    seat.SeatIdx,
		MoveNumber: m.MoveNumber,
		Deadline:   time.Now().Add(r.cfg.TurnTimeout()),
	}
}
