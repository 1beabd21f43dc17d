// internal/match/sweeper.go
package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/models"
	"github.com/stolik-gg/stolik/internal/store"
)

// StartSweepers launches the turn-timer, disconnect, and cleanup sweepers.
// They stop when ctx is cancelled; in-flight forfeits finish first.
func (r *Runtime) StartSweepers(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.sweepLoop(ctx, r.cfg.TimerSweepInterval(), r.sweepDeadlines)
	}()
	go func() {
		defer wg.Done()
		r.sweepLoop(ctx, r.cfg.CleanupInterval(), r.sweepStale)
	}()
	return &wg
}

func (r *Runtime) sweepLoop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// sweepDeadlines handles both wall-clock supervisors in one pass: expired turn
// timers on ranked games and expired disconnect grace windows. Firing is
// at-least-once at sweep resolution; the move-number fence and the in-lock
// re-checks make the effect at-most-once.
func (r *Runtime) sweepDeadlines(ctx context.Context) {
	ids, err := r.store.ListMatchIDs(ctx)
	if err != nil {
		r.log.WithError(err).Warn("deadline sweep: list matches failed")
		return
	}
	now := time.Now()
	for _, id := range ids {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			r.log.WithError(err).WithField("match", id).Warn("deadline sweep: load failed")
			continue
		}
		if m.Status != models.StatusInGame {
			continue
		}

		if m.Ranked && m.TurnTimer != nil && !now.Before(m.TurnTimer.Deadline) {
			if err := r.TimeoutCurrentTurn(ctx, id, m.TurnTimer.MoveNumber); err != nil && !errors.Is(err, ErrBusy) {
				r.log.WithError(err).WithField("match", id).Warn("turn timeout failed")
			}
			continue
		}

		for userID, deadline := range m.DisconnectDeadlines {
			if now.Before(deadline) {
				continue
			}
			r.log.WithFields(logrus.Fields{"match": id, "user": userID}).Info("disconnect grace expired")
			err := r.Forfeit(ctx, id, userID, "disconnectTimeout")
			if err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNotInGame) {
				r.log.WithError(err).WithField("match", id).Warn("disconnect forfeit failed")
			}
			break // one forfeit ends the game
		}

		r.nudgeBotTurn(ctx, m)
	}
}

// nudgeBotTurn re-enqueues a bot task when the current player is a bot. The
// normal path enqueues on commit; the nudge covers process restarts and
// dropped tasks.
func (r *Runtime) nudgeBotTurn(ctx context.Context, m *models.Match) {
	hasBot := false
	for _, s := range m.Seats {
		if s.Kind == models.SeatBot {
			hasBot = true
			break
		}
	}
	if !hasBot {
		return
	}
	blob, err := r.store.LoadEngine(ctx, m.ID)
	if err != nil {
		return
	}
	eng, err := engine.Deserialize(m.GameTypeID, blob)
	if err != nil {
		return
	}
	r.maybeEnqueueBotTurn(m, eng)
}

// sweepStale is the cleanup sweeper: it deletes finished and forfeited
// matches past their grace period, ancient idle lobbies, and orphaned engine
// snapshots. Deletions take the match lock; busy matches wait a cycle.
func (r *Runtime) sweepStale(ctx context.Context) {
	ids, err := r.store.ListMatchIDs(ctx)
	if err != nil {
		r.log.WithError(err).Warn("cleanup sweep: list matches failed")
		return
	}
	now := time.Now()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			continue
		}

		var stale bool
		switch m.Status {
		case models.StatusFinished, models.StatusForfeit:
			stale = now.Sub(m.LastActivity) > r.cfg.FinishedMatchGrace()
		case models.StatusLobby:
			stale = now.Sub(m.LastActivity) > r.cfg.MaxLobbyAge()
		}
		if !stale {
			continue
		}

		err = r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
			if err := r.store.DeleteMatch(ctx, id); err != nil {
				return err
			}
			return r.store.DeleteEngine(ctx, id)
		})
		if errors.Is(err, ErrBusy) {
			continue // retried next cycle
		}
		if err != nil {
			r.log.WithError(err).WithField("match", id).Warn("cleanup delete failed")
			continue
		}
		r.log.WithField("match", id).Info("stale match deleted")
	}

	// Engines whose match record is gone are orphans.
	engineIDs, err := r.store.ListEngineIDs(ctx)
	if err != nil {
		return
	}
	for _, id := range engineIDs {
		if seen[id] {
			continue
		}
		if _, err := r.store.LoadMatch(ctx, id); !errors.Is(err, store.ErrNotFound) {
			continue
		}
		err := r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
			return r.store.DeleteEngine(ctx, id)
		})
		if err == nil {
			r.log.WithField("match", id).Info("orphaned engine deleted")
		}
	}
}
