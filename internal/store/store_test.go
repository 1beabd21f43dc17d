// internal/store/store_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/stolik-gg/stolik/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb), mr
}

func TestMatchRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	m := &models.Match{
		ID:         "01abc",
		GameTypeID: models.GameSixtySix,
		Mode:       2,
		Status:     models.StatusInGame,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Seats: []models.Seat{
			{SeatIdx: 0, Kind: models.SeatHuman, UserID: uuid.New(), DisplayName: "anna"},
			{SeatIdx: 1, Kind: models.SeatBot, UserID: uuid.New(), DisplayName: "Basia"},
		},
		MoveNumber: 7,
	}
	require.NoError(t, st.SaveMatch(ctx, m))

	got, err := st.LoadMatch(ctx, "01abc")
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, m.GameTypeID, got.GameTypeID)
	require.Equal(t, int64(7), got.MoveNumber)
	require.Len(t, got.Seats, 2)
	require.Equal(t, m.Seats[0].UserID, got.Seats[0].UserID)

	require.NoError(t, st.DeleteMatch(ctx, "01abc"))
	_, err = st.LoadMatch(ctx, "01abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadMatchMissing(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.LoadMatch(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveMatchTTLByStatus(t *testing.T) {
	st, mr := newTestStore(t)
	ctx := context.Background()

	lobby := &models.Match{ID: "lob", Status: models.StatusLobby}
	require.NoError(t, st.SaveMatch(ctx, lobby))
	require.Equal(t, lobbyTTL, mr.TTL("match:lob"))

	running := &models.Match{ID: "run", Status: models.StatusInGame}
	require.NoError(t, st.SaveMatch(ctx, running))
	require.Equal(t, matchTTL, mr.TTL("match:run"))
}

func TestListMatchIDs(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "b2", "c3"} {
		require.NoError(t, st.SaveMatch(ctx, &models.Match{ID: id, Status: models.StatusLobby}))
	}
	// non-match keys must not leak into the listing
	require.NoError(t, st.SaveEngine(ctx, "a1", []byte("{}")))

	ids, err := st.ListMatchIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a1", "b2", "c3"}, ids)
}

func TestEngineBlobRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	blob := []byte(`{"phase":"play"}`)
	require.NoError(t, st.SaveEngine(ctx, "m1", blob))

	ok, err := st.HasEngine(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.LoadEngine(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, blob, got)

	ids, err := st.ListEngineIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids)

	require.NoError(t, st.DeleteEngine(ctx, "m1"))
	ok, err = st.HasEngine(ctx, "m1")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = st.LoadEngine(ctx, "m1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTokenLifecycle(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, st.SetToken(ctx, "tok-1", userID))

	got, err := st.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, userID, got)

	require.NoError(t, st.RevokeToken(ctx, "tok-1"))
	_, err = st.GetToken(ctx, "tok-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPublishSubscribe(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	sub := st.Subscribe(ctx, ChannelFor("m1"))
	defer sub.Close()

	// wait for the subscription to register before publishing
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, st.Publish(ctx, ChannelFor("m1"), []byte("hello")))

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "hello", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
