// internal/match/runtime.go
package match

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/config"
	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/events"
	"github.com/stolik-gg/stolik/internal/models"
	"github.com/stolik-gg/stolik/internal/store"
)

const (
	// lockWait bounds how long a command waits on a busy match lock before
	// reporting Busy to the caller.
	lockWait = 2 * time.Second
	// maxAutoSteps caps synchronous engine auto-steps per commit so a
	// misbehaving engine cannot spin the critical section forever.
	maxAutoSteps = 4
	// maxLockExtensions bounds lease renewals inside one critical section.
	maxLockExtensions = 3
)

// UserInfo identifies a human player joining or creating a match.
type UserInfo struct {
	ID          uuid.UUID
	DisplayName string
	Avatar      string
}

// BotIdentity is a known bot user. The bot directory is injected so the
// runtime can validate AddBot requests without importing the bot worker.
type BotIdentity struct {
	ID          uuid.UUID
	DisplayName string
	Avatar      string
}

// Policy picks an action for a bot seat from its view and legal actions.
// Implementations may search for a long time; evaluation happens before the
// match lock is taken and the result is revalidated on commit.
type Policy interface {
	Choose(view interface{}, legal []engine.Action) (engine.Action, error)
}

// CreateParams describe a new match.
type CreateParams struct {
	GameType models.GameType
	Mode     int // 2, 3 or 4 players
	Options  models.MatchOptions
}

// Runtime owns the lobby lifecycle and the in-game phase driver. All match
// mutations are serialized by the per-match distributed lock, so any process
// running a Runtime can serve any match.
type Runtime struct {
	store  *store.Store
	locker *store.Locker
	cfg    config.Config
	log    *logrus.Logger

	// BotLookup resolves a bot id to its identity; nil means no bots.
	BotLookup func(uuid.UUID) (BotIdentity, bool)
	// BotPolicy chooses actions for bot seats.
	BotPolicy Policy

	botTurns chan botTurn
	done     chan struct{}
}

// NewRuntime wires the runtime over the shared store.
func NewRuntime(st *store.Store, cfg config.Config, log *logrus.Logger) *Runtime {
	return &Runtime{
		store:    st,
		locker:   st.Locker(),
		cfg:      cfg,
		log:      log,
		botTurns: make(chan botTurn, 256),
		done:     make(chan struct{}),
	}
}

// newMatchID returns a fresh short sortable id.
func newMatchID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String())
}

// withMatchLock runs fn while holding the match lock, releasing it afterward.
// Busy and lost locks surface as ErrBusy / ErrLockLost.
func (r *Runtime) withMatchLock(ctx context.Context, id string, fn func(ctx context.Context, token string) error) error {
	key := store.MatchLockKey(id)
	token, err := r.locker.TryAcquire(ctx, key, store.DefaultLockTTL, lockWait)
	if err != nil {
		if errors.Is(err, store.ErrBusy) {
			return E(KindBusy, "match %s is busy", id)
		}
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.locker.Release(releaseCtx, key, token); err != nil {
			r.log.WithError(err).WithField("match", id).Warn("failed to release match lock")
		}
	}()
	return fn(ctx, token)
}

func (r *Runtime) publish(ctx context.Context, ev events.Event) {
	if err := r.store.Publish(ctx, store.ChannelFor(ev.MatchID), ev.Encode()); err != nil {
		r.log.WithError(err).WithField("match", ev.MatchID).Warn("publish failed")
	}
}

// CreateMatch initializes a lobby with the creator hosting seat 0.
func (r *Runtime) CreateMatch(ctx context.Context, creator UserInfo, params CreateParams) (string, error) {
	if params.Mode < 2 || params.Mode > 4 {
		return "", E(KindConflict, "unsupported mode %d", params.Mode)
	}
	if params.GameType != models.GameSixtySix && params.GameType != models.GameThousand {
		return "", E(KindConflict, "unknown game type %q", params.GameType)
	}

	now := time.Now()
	m := &models.Match{
		ID:           newMatchID(),
		GameTypeID:   params.GameType,
		Mode:         params.Mode,
		Ranked:       params.Options.Ranked,
		MaxPlayers:   params.Mode,
		CreatedAt:    now,
		Status:       models.StatusLobby,
		HostUserID:   creator.ID,
		Options:      params.Options,
		LastActivity: now,
	}
	m.Seats = make([]models.Seat, params.Mode)
	for i := range m.Seats {
		m.Seats[i] = models.Seat{SeatIdx: i, Kind: models.SeatEmpty}
		if params.Mode == 4 {
			m.Seats[i].Team = models.TeamOf(i)
		}
	}
	m.Seats[0].Kind = models.SeatHuman
	m.Seats[0].UserID = creator.ID
	m.Seats[0].DisplayName = creator.DisplayName
	m.Seats[0].Avatar = creator.Avatar
	m.Seats[0].IsHost = true
	if params.Mode == 4 {
		m.TeamNames = map[string]string{"A": "Team A", "B": "Team B"}
	}

	err := r.withMatchLock(ctx, m.ID, func(ctx context.Context, _ string) error {
		return r.store.SaveMatch(ctx, m)
	})
	if err != nil {
		return "", err
	}
	r.log.WithFields(logrus.Fields{
		"match": m.ID, "game": params.GameType, "mode": params.Mode, "ranked": m.Ranked,
	}).Info("match created")
	r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: m.ID})
	return m.ID, nil
}

// BotCreateMatch builds a lobby hosted by a bot at seat 0.
func (r *Runtime) BotCreateMatch(ctx context.Context, ident BotIdentity, params CreateParams) (string, error) {
	id, err := r.CreateMatch(ctx, UserInfo(ident), params)
	if err != nil {
		return "", err
	}
	err = r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		m.Seats[0].Kind = models.SeatBot
		return r.store.SaveMatch(ctx, m)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// BotJoin fills the first empty seat with the bot identity. A lobby that
// filled since the bot chose it aborts cleanly with Conflict.
func (r *Runtime) BotJoin(ctx context.Context, id string, ident BotIdentity) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		if m.SeatOf(ident.ID) != nil {
			return nil
		}
		idx := m.EmptySeatIdx()
		if idx < 0 {
			return E(KindConflict, "match %s is full", id)
		}
		seatBot(m, idx, ident)
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
}

// JoinMatch seats a human in the first empty seat.
func (r *Runtime) JoinMatch(ctx context.Context, id string, user UserInfo, password string) error {
	err := r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return E(KindNotFound, "match %s not found", id)
		}
		if err != nil {
			return err
		}
		if m.Status != models.StatusLobby {
			return E(KindConflict, "match %s is not in lobby", id)
		}
		if m.IsKicked(user.ID) {
			return E(KindUnauthorized, "user was kicked from match %s", id)
		}
		if m.Options.Password != "" && m.Options.Password != password {
			return E(KindUnauthorized, "wrong password for match %s", id)
		}
		if m.SeatOf(user.ID) != nil {
			return nil // already seated; idempotent
		}
		idx := m.EmptySeatIdx()
		if idx < 0 {
			return E(KindConflict, "match %s is full", id)
		}
		seat := &m.Seats[idx]
		seat.Kind = models.SeatHuman
		seat.UserID = user.ID
		seat.DisplayName = user.DisplayName
		seat.Avatar = user.Avatar
		seat.Ready = false
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
	return err
}

// ChangeSeat moves a non-ready user to an empty seat.
func (r *Runtime) ChangeSeat(ctx context.Context, id string, userID uuid.UUID, toSeatIdx int) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		seat := m.SeatOf(userID)
		if seat == nil {
			return E(KindNotFound, "user not seated in match %s", id)
		}
		if seat.Ready {
			return E(KindConflict, "cannot change seat while ready")
		}
		if toSeatIdx < 0 || toSeatIdx >= len(m.Seats) {
			return E(KindConflict, "seat %d out of range", toSeatIdx)
		}
		target := &m.Seats[toSeatIdx]
		if target.Occupied() {
			return E(KindConflict, "seat %d is taken", toSeatIdx)
		}
		target.Kind, seat.Kind = seat.Kind, models.SeatEmpty
		target.UserID, seat.UserID = seat.UserID, uuid.Nil
		target.DisplayName, seat.DisplayName = seat.DisplayName, ""
		target.Avatar, seat.Avatar = seat.Avatar, ""
		target.IsHost, seat.IsHost = seat.IsHost, false
		target.Ready = false
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
}

// SetReady flips a seat's ready flag.
func (r *Runtime) SetReady(ctx context.Context, id string, userID uuid.UUID, ready bool) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		seat := m.SeatOf(userID)
		if seat == nil {
			return E(KindNotFound, "user not seated in match %s", id)
		}
		if seat.Ready == ready {
			return nil
		}
		seat.Ready = ready
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
}

// AddBot seats a known bot. Host only.
func (r *Runtime) AddBot(ctx context.Context, id string, actor uuid.UUID, seatIdx int, botID uuid.UUID) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		if m.HostUserID != actor {
			return E(KindUnauthorized, "only the host may add bots")
		}
		if r.BotLookup == nil {
			return E(KindConflict, "no bot directory configured")
		}
		ident, ok := r.BotLookup(botID)
		if !ok {
			return E(KindNotFound, "unknown bot %s", botID)
		}
		if seatIdx < 0 || seatIdx >= len(m.Seats) || m.Seats[seatIdx].Occupied() {
			return E(KindConflict, "seat %d unavailable", seatIdx)
		}
		seatBot(m, seatIdx, ident)
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
}

// seatBot fills a seat with a bot identity. Bots are always ready.
func seatBot(m *models.Match, seatIdx int, ident BotIdentity) {
	seat := &m.Seats[seatIdx]
	seat.Kind = models.SeatBot
	seat.UserID = ident.ID
	seat.DisplayName = ident.DisplayName
	seat.Avatar = ident.Avatar
	seat.Ready = false
}

// KickSeat vacates a seat. Host only; kicked humans may not re-join.
func (r *Runtime) KickSeat(ctx context.Context, id string, actor uuid.UUID, seatIdx int) error {
	return r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.loadLobby(ctx, id)
		if err != nil {
			return err
		}
		if m.HostUserID != actor {
			return E(KindUnauthorized, "only the host may kick")
		}
		if seatIdx < 0 || seatIdx >= len(m.Seats) || !m.Seats[seatIdx].Occupied() {
			return E(KindConflict, "seat %d is not occupied", seatIdx)
		}
		seat := &m.Seats[seatIdx]
		if seat.UserID == actor {
			return E(KindConflict, "host cannot kick themselves")
		}
		if seat.Kind == models.SeatHuman {
			m.Kicked = append(m.Kicked, seat.UserID)
		}
		vacate(seat)
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
}

func vacate(seat *models.Seat) {
	seat.Kind = models.SeatEmpty
	seat.UserID = uuid.Nil
	seat.DisplayName = ""
	seat.Avatar = ""
	seat.Ready = false
	seat.IsHost = false
}

// LeaveMatch removes a user from a lobby, migrating the host seat if needed.
// Leaving a running game counts as a forfeit.
func (r *Runtime) LeaveMatch(ctx context.Context, id string, userID uuid.UUID) error {
	var forfeitAfter bool
	err := r.withMatchLock(ctx, id, func(ctx context.Context, _ string) error {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return E(KindNotFound, "match %s not found", id)
		}
		if err != nil {
			return err
		}
		seat := m.SeatOf(userID)
		if seat == nil {
			return E(KindNotFound, "user not seated in match %s", id)
		}
		if m.Status == models.StatusInGame {
			forfeitAfter = true
			return nil
		}
		if m.Status != models.StatusLobby {
			return nil
		}
		wasHost := seat.IsHost
		vacate(seat)
		if occupiedSeats(m) == 0 {
			if err := r.store.DeleteMatch(ctx, id); err != nil {
				return err
			}
			return r.store.DeleteEngine(ctx, id)
		}
		if wasHost {
			migrateHost(m)
		}
		m.Touch(time.Now())
		if err := r.store.SaveMatch(ctx, m); err != nil {
			return err
		}
		r.publish(ctx, events.Event{Type: events.StateUpdated, MatchID: id})
		return nil
	})
	if err != nil {
		return err
	}
	if forfeitAfter {
		return r.Forfeit(ctx, id, userID, "playerLeft")
	}
	return nil
}

func occupiedSeats(m *models.Match) int {
	n := 0
	for _, s := range m.Seats {
		if s.Occupied() {
			n++
		}
	}
	return n
}

// migrateHost hands the host flag to the first occupied seat.
func migrateHost(m *models.Match) {
	for i := range m.Seats {
		m.Seats[i].IsHost = false
	}
	for i := range m.Seats {
		if m.Seats[i].Occupied() {
			m.Seats[i].IsHost = true
			m.HostUserID = m.Seats[i].UserID
			return
		}
	}
}

// loadLobby loads a match and requires LOBBY status.
func (r *Runtime) loadLobby(ctx context.Context, id string) (*models.Match, error) {
	m, err := r.store.LoadMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E(KindNotFound, "match %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if m.Status != models.StatusLobby {
		return nil, E(KindConflict, "match %s is not in lobby", id)
	}
	return m, nil
}

// GetMatch is the read-uncommitted display path; no lock is taken.
func (r *Runtime) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	m, err := r.store.LoadMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, E(KindNotFound, "match %s not found", id)
	}
	return m, err
}

// ListMatches returns every match record the scan finds.
func (r *Runtime) ListMatches(ctx context.Context) ([]*models.Match, error) {
	ids, err := r.store.ListMatchIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Match, 0, len(ids))
	for _, id := range ids {
		m, err := r.store.LoadMatch(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue // deleted mid-scan
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
