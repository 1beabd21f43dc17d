// internal/bots/worker.go
package bots

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/config"
	"github.com/stolik-gg/stolik/internal/match"
	"github.com/stolik-gg/stolik/internal/models"
	"github.com/stolik-gg/stolik/internal/store"
)

// botState is the process-local view of one autonomous bot. The bot's task is
// the single mutator of currentMatch; match state itself is only ever touched
// through the runtime's lock.
type botState struct {
	Identity
	minInterval time.Duration
	maxInterval time.Duration
	minPause    time.Duration
	maxPause    time.Duration
	rng         *rand.Rand

	mu           sync.Mutex
	active       bool
	currentMatch string
	inGame       bool
}

func (b *botState) setCurrent(id string, inGame bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.currentMatch = id
	b.inGame = inGame
}

func (b *botState) current() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentMatch, b.inGame
}

func (b *botState) isActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *botState) setActive(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = v
}

// Worker runs one cooperative matchmaking task per bot: bots join or create
// lobbies, ready up, and start games among themselves. Admin flags converge
// across processes over the pub/sub admin channel.
type Worker struct {
	rt  *match.Runtime
	st  *store.Store
	cfg config.Config
	log *logrus.Logger

	mu        sync.Mutex
	bots      map[uuid.UUID]*botState
	order     []uuid.UUID
	mmEnabled bool
	started   bool
	cancel    context.CancelFunc

	wg sync.WaitGroup
}

// NewWorker builds the worker over a roster. Per-bot intervals are drawn once
// here: minInterval uniform in [20,40]s, maxInterval uniform in [60,120]s.
func NewWorker(rt *match.Runtime, st *store.Store, cfg config.Config, log *logrus.Logger, roster []Identity, seed int64) *Worker {
	w := &Worker{
		rt:        rt,
		st:        st,
		cfg:       cfg,
		log:       log,
		bots:      make(map[uuid.UUID]*botState, len(roster)),
		mmEnabled: cfg.MatchmakingEnabled,
	}
	seedRng := rand.New(rand.NewSource(seed))
	for _, ident := range roster {
		b := &botState{
			Identity:    ident,
			minInterval: time.Duration(20+seedRng.Intn(21)) * time.Second,
			maxInterval: time.Duration(60+seedRng.Intn(61)) * time.Second,
			minPause:    2 * time.Second,
			maxPause:    5 * time.Second,
			rng:         rand.New(rand.NewSource(seedRng.Int63())),
			active:      true,
		}
		w.bots[ident.ID] = b
		w.order = append(w.order, ident.ID)
	}
	return w
}

// Start launches one task per bot plus the admin subscriber. Calling Start
// twice is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.log.Warn("bot worker already started")
		return
	}
	w.started = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.adminLoop(ctx)
	}()
	for _, id := range w.order {
		b := w.bots[id]
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.botLoop(ctx, b)
		}()
	}
	w.log.WithField("bots", len(w.order)).Info("bot worker started")
}

// Stop cancels every task and waits for them to drain.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Worker) matchmakingEnabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mmEnabled
}

// sleep waits d or until cancellation, reporting whether to keep running.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (b *botState) interval() time.Duration {
	spread := b.maxInterval - b.minInterval
	return b.minInterval + time.Duration(b.rng.Int63n(int64(spread)+1))
}

// pause is the 2-5s human-like delay between lobby actions.
func (b *botState) pause() time.Duration {
	return b.minPause + time.Duration(b.rng.Int63n(int64(b.maxPause-b.minPause)))
}

func (w *Worker) botLoop(ctx context.Context, b *botState) {
	// Startup jitter keeps a fleet from waking in lockstep.
	minDelay, maxDelay := w.cfg.BotInitialDelayMinSeconds, w.cfg.BotInitialDelayMaxSeconds
	jitter := time.Duration(minDelay) * time.Second
	if maxDelay > minDelay {
		jitter += time.Duration(b.rng.Int63n(int64(maxDelay-minDelay)+1)) * time.Second
	}
	if !sleep(ctx, jitter) {
		return
	}
	for {
		if !sleep(ctx, b.interval()) {
			return
		}
		if !w.matchmakingEnabled() || !b.isActive() {
			continue
		}
		if err := w.step(ctx, b); err != nil {
			w.log.WithError(err).WithField("bot", b.DisplayName).Warn("bot step failed")
		}
	}
}

// step is one matchmaking iteration, serialized by the bot's loop lock so an
// admin force-join cannot interleave with it.
func (w *Worker) step(ctx context.Context, b *botState) error {
	locker := w.st.Locker()
	key := store.BotLockKey(b.ID)
	token, err := locker.Acquire(ctx, key, store.DefaultLockTTL)
	if errors.Is(err, store.ErrBusy) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = locker.Release(releaseCtx, key, token)
	}()

	if id, _ := b.current(); id != "" {
		return w.tendCurrent(ctx, b, id)
	}
	return w.matchmake(ctx, b)
}

// tendCurrent checks on the bot's remembered match and tries to start it when
// it is a ready lobby the bot hosts.
func (w *Worker) tendCurrent(ctx context.Context, b *botState, id string) error {
	m, err := w.rt.GetMatch(ctx, id)
	if errors.Is(err, match.ErrNotFound) {
		b.setCurrent("", false)
		return nil
	}
	if err != nil {
		return err
	}
	switch m.Status {
	case models.StatusInGame:
		b.setCurrent(id, true)
		return nil
	case models.StatusLobby:
		if m.SeatOf(b.ID) == nil {
			b.setCurrent("", false)
			return nil
		}
		return w.tryStart(ctx, b, m)
	default:
		b.setCurrent("", false)
		return nil
	}
}

// matchmake joins a random compatible lobby 70% of the time, otherwise
// creates one. A bot already seated somewhere adopts that match instead.
func (w *Worker) matchmake(ctx context.Context, b *botState) error {
	matches, err := w.rt.ListMatches(ctx)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if m.SeatOf(b.ID) != nil && (m.Status == models.StatusLobby || m.Status == models.StatusInGame) {
			b.setCurrent(m.ID, m.Status == models.StatusInGame)
			return nil
		}
	}

	candidates := lo.Filter(matches, func(m *models.Match, _ int) bool {
		if m.Status != models.StatusLobby || m.GameTypeID != b.GameType {
			return false
		}
		if m.Options.Password != "" || m.IsKicked(b.ID) {
			return false
		}
		if b.PrefersRanked && !m.Ranked {
			return false
		}
		return m.EmptySeatIdx() >= 0
	})

	roll := b.rng.Float64()
	switch {
	case roll < w.cfg.BotJoinProbability && len(candidates) > 0:
		target := candidates[b.rng.Intn(len(candidates))]
		return w.join(ctx, b, target.ID)
	case roll >= w.cfg.BotJoinProbability:
		return w.create(ctx, b)
	default:
		return nil
	}
}

func (w *Worker) identity(b *botState) match.BotIdentity {
	return match.BotIdentity{ID: b.ID, DisplayName: b.DisplayName, Avatar: b.Avatar}
}

// join fills a seat, waits a human-like pause, readies up, and tries to start.
func (w *Worker) join(ctx context.Context, b *botState, id string) error {
	err := w.rt.BotJoin(ctx, id, w.identity(b))
	if errors.Is(err, match.ErrConflict) || errors.Is(err, match.ErrBusy) {
		return nil // lobby filled or busy during our nap; back to matchmaking
	}
	if err != nil {
		return err
	}
	b.setCurrent(id, false)
	w.log.WithFields(logrus.Fields{"bot": b.DisplayName, "match": id}).Info("bot joined lobby")

	if !sleep(ctx, b.pause()) {
		return nil
	}
	if err := w.rt.SetReady(ctx, id, b.ID, true); err != nil {
		if errors.Is(err, match.ErrNotFound) || errors.Is(err, match.ErrConflict) {
			b.setCurrent("", false)
			return nil
		}
		return err
	}
	m, err := w.rt.GetMatch(ctx, id)
	if err != nil {
		return nil
	}
	return w.tryStart(ctx, b, m)
}

// create builds a lobby hosted by the bot and readies its own seat.
func (w *Worker) create(ctx context.Context, b *botState) error {
	id, err := w.rt.BotCreateMatch(ctx, w.identity(b), match.CreateParams{
		GameType: b.GameType,
		Mode:     b.Mode,
		Options:  models.MatchOptions{Ranked: b.PrefersRanked},
	})
	if err != nil {
		return err
	}
	b.setCurrent(id, false)
	w.log.WithFields(logrus.Fields{"bot": b.DisplayName, "match": id}).Info("bot created lobby")

	if !sleep(ctx, b.pause()) {
		return nil
	}
	return w.rt.SetReady(ctx, id, b.ID, true)
}

// tryStart starts the game when the bot hosts a fully ready lobby. StartGame
// re-verifies everything under the match lock after the pause.
func (w *Worker) tryStart(ctx context.Context, b *botState, m *models.Match) error {
	if m.HostUserID != b.ID || !m.AllReady() {
		return nil
	}
	if !sleep(ctx, b.pause()) {
		return nil
	}
	err := w.rt.StartGame(ctx, m.ID, b.ID)
	if errors.Is(err, match.ErrConflict) || errors.Is(err, match.ErrBusy) || errors.Is(err, match.ErrNotFound) {
		return nil
	}
	if err == nil {
		b.setCurrent(m.ID, true)
	}
	return err
}
