// internal/bots/admin.go
package bots

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/events"
	"github.com/stolik-gg/stolik/internal/match"
	"github.com/stolik-gg/stolik/internal/store"
)

// BotStatus is one row of the admin status snapshot.
type BotStatus struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"display_name"`
	Active       bool      `json:"active"`
	CurrentMatch string    `json:"current_match,omitempty"`
	InGame       bool      `json:"in_game"`
}

// Status reports the worker's process-local view of every bot.
type Status struct {
	MatchmakingEnabled bool        `json:"matchmaking_enabled"`
	Bots               []BotStatus `json:"bots"`
}

// Status returns a snapshot without blocking any bot task.
func (w *Worker) Status() Status {
	w.mu.Lock()
	enabled := w.mmEnabled
	order := append([]uuid.UUID(nil), w.order...)
	w.mu.Unlock()

	st := Status{MatchmakingEnabled: enabled}
	for _, id := range order {
		b := w.bots[id]
		cur, inGame := b.current()
		st.Bots = append(st.Bots, BotStatus{
			ID:           b.ID,
			DisplayName:  b.DisplayName,
			Active:       b.isActive(),
			CurrentMatch: cur,
			InGame:       inGame,
		})
	}
	return st
}

// SetMatchmakingEnabled flips the global matchmaking switch and broadcasts it
// so every other process converges.
func (w *Worker) SetMatchmakingEnabled(ctx context.Context, enabled bool) error {
	w.mu.Lock()
	w.mmEnabled = enabled
	w.mu.Unlock()
	w.log.WithField("enabled", enabled).Info("matchmaking flag changed")
	ev := events.Event{Type: events.BotAdmin, Admin: &events.AdminChange{MatchmakingEnabled: &enabled}}
	return w.st.Publish(ctx, events.AdminChannel, ev.Encode())
}

// SetBotActive flips one bot's flag and broadcasts it.
func (w *Worker) SetBotActive(ctx context.Context, botID uuid.UUID, active bool) error {
	b, ok := w.bots[botID]
	if !ok {
		return match.E(match.KindNotFound, "unknown bot %s", botID)
	}
	b.setActive(active)
	ev := events.Event{Type: events.BotAdmin, Admin: &events.AdminChange{BotID: botID, BotActive: &active}}
	return w.st.Publish(ctx, events.AdminChannel, ev.Encode())
}

// ForceBotToLobby seats a bot in a specific lobby immediately and readies it.
// The bot's loop lock serializes the force with step(): a concurrent
// matchmaking iteration must not overwrite currentMatch behind the join.
func (w *Worker) ForceBotToLobby(ctx context.Context, botID uuid.UUID, matchID string) error {
	b, ok := w.bots[botID]
	if !ok {
		return match.E(match.KindNotFound, "unknown bot %s", botID)
	}
	locker := w.st.Locker()
	key := store.BotLockKey(botID)
	token, err := locker.Acquire(ctx, key, store.DefaultLockTTL)
	if errors.Is(err, store.ErrBusy) {
		return match.E(match.KindBusy, "bot %s is mid-step", botID)
	}
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = locker.Release(releaseCtx, key, token)
	}()

	if err := w.rt.BotJoin(ctx, matchID, w.identity(b)); err != nil {
		return err
	}
	if err := w.rt.SetReady(ctx, matchID, botID, true); err != nil {
		return err
	}
	b.setCurrent(matchID, false)
	w.log.WithField("bot", b.DisplayName).WithField("match", matchID).Info("bot forced into lobby")
	return nil
}

// adminLoop applies flag changes broadcast by other processes.
func (w *Worker) adminLoop(ctx context.Context) {
	sub := w.st.Subscribe(ctx, events.AdminChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := events.Decode([]byte(msg.Payload))
			if err != nil || ev.Type != events.BotAdmin || ev.Admin == nil {
				continue
			}
			if ev.Admin.MatchmakingEnabled != nil {
				w.mu.Lock()
				w.mmEnabled = *ev.Admin.MatchmakingEnabled
				w.mu.Unlock()
			}
			if ev.Admin.BotActive != nil {
				if b, ok := w.bots[ev.Admin.BotID]; ok {
					b.setActive(*ev.Admin.BotActive)
				}
			}
		}
	}
}
