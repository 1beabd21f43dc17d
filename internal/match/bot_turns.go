// internal/match/bot_turns.go
package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/models"
	"github.com/stolik-gg/stolik/internal/store"
)

// botTurn is one queued "a bot should act now" task. The move number fences
// tasks computed from a state the match has already left.
type botTurn struct {
	matchID    string
	seatIdx    int
	moveNumber int64
}

const botTurnWorkers = 4

// maybeEnqueueBotTurn schedules a bot task when the new current player is a
// bot seat. Dropping on a full queue is safe: the next sweep or human action
// re-evaluates the turn.
func (r *Runtime) maybeEnqueueBotTurn(m *models.Match, eng engine.Engine) {
	cur := eng.CurrentPlayer()
	if cur == uuid.Nil {
		return
	}
	seat := m.SeatOf(cur)
	if seat == nil || seat.Kind != models.SeatBot {
		return
	}
	select {
	case r.botTurns <- botTurn{matchID: m.ID, seatIdx: seat.SeatIdx, moveNumber: m.MoveNumber}:
	default:
		r.log.WithField("match", m.ID).Warn("bot turn queue full, dropping task")
	}
}

// StartBotTurnWorkers runs the bot-turn task pool until ctx is cancelled.
func (r *Runtime) StartBotTurnWorkers(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for i := 0; i < botTurnWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-r.botTurns:
					if err := r.runBotTurn(ctx, task); err != nil {
						r.log.WithError(err).WithFields(logrus.Fields{
							"match": task.matchID, "seat": task.seatIdx,
						}).Warn("bot turn failed")
					}
				}
			}
		}()
	}
	return &wg
}

// runBotTurn evaluates the policy against an unlocked snapshot, then commits
// under the match lock with revalidation. Stale tasks no-op on the fence.
func (r *Runtime) runBotTurn(ctx context.Context, task botTurn) error {
	if r.BotPolicy == nil {
		return nil
	}
	m, err := r.store.LoadMatch(ctx, task.matchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Status != models.StatusInGame || m.MoveNumber != task.moveNumber {
		return nil
	}
	if task.seatIdx >= len(m.Seats) || m.Seats[task.seatIdx].Kind != models.SeatBot {
		return nil
	}
	botID := m.Seats[task.seatIdx].UserID

	// Policy evaluation happens before the lock; the view may be stale and the
	// chosen action is revalidated on commit.
	blob, err := r.store.LoadEngine(ctx, task.matchID)
	if err != nil {
		return nil
	}
	eng, err := engine.Deserialize(m.GameTypeID, blob)
	if err != nil {
		return nil // SubmitAction path owns corruption handling
	}
	legal := eng.LegalActions(botID)
	if len(legal) == 0 {
		return nil
	}
	chosen, err := r.BotPolicy.Choose(eng.ViewFor(botID), legal)
	if err != nil {
		return err
	}

	key := store.MatchLockKey(task.matchID)
	token, err := r.locker.TryAcquire(ctx, key, store.DefaultLockTTL, lockWait)
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			return nil // someone else is mutating; the next commit re-enqueues
		}
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.locker.Release(releaseCtx, key, token)
	}()

	m, eng, err = r.loadGame(ctx, task.matchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotInGame) {
			return nil
		}
		return err
	}
	if m.MoveNumber != task.moveNumber || eng.CurrentPlayer() != botID {
		return nil
	}

	// Each retry renews the lease once, so maxLockExtensions bounds both the
	// re-invocations and the time spent inside this critical section.
	for extensions := 0; ; extensions++ {
		legal = eng.LegalActions(botID)
		if len(legal) == 0 {
			return nil
		}
		if actionIn(chosen, legal) || extensions >= maxLockExtensions {
			break
		}
		// Stale choice; renew the lease and re-invoke on the fresh state.
		if err := r.locker.Extend(ctx, key, token, store.DefaultLockTTL); err != nil {
			return E(KindLockLost, "bot turn lease lost on match %s", task.matchID)
		}
		chosen, err = r.BotPolicy.Choose(eng.ViewFor(botID), legal)
		if err != nil {
			return err
		}
	}
	if !actionIn(chosen, legal) {
		// Give up and pass; fall back to the first legal action when passing
		// is not available in this phase.
		chosen = engine.Action{Kind: engine.ActionPass}
		if !actionIn(chosen, legal) {
			chosen = legal[0]
		}
	}

	if err := eng.Apply(botID, chosen); err != nil {
		return err
	}
	m.BumpMove()
	return r.commit(ctx, m, eng)
}

func actionIn(a engine.Action, legal []engine.Action) bool {
	for _, l := range legal {
		if actionEqual(a, l) {
			return true
		}
	}
	return false
}

func actionEqual(a, b engine.Action) bool {
	if a.Kind != b.Kind || a.Bid != b.Bid {
		return false
	}
	if (a.Card == nil) != (b.Card == nil) || (a.Card != nil && *a.Card != *b.Card) {
		return false
	}
	if (a.Suit == nil) != (b.Suit == nil) || (a.Suit != nil && *a.Suit != *b.Suit) {
		return false
	}
	return true
}
