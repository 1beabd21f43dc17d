// internal/engine/sixtysix/sixtysix_test.go
package sixtysix

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/models"
)

func makePlayers(n int) []uuid.UUID {
	players := make([]uuid.UUID, n)
	for i := range players {
		players[i] = uuid.New()
	}
	return players
}

// playout drives a game to its terminal state picking random legal actions.
func playout(t *testing.T, g engine.Engine, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	for steps := 0; !g.IsTerminal(); steps++ {
		require.Less(t, steps, 500, "playout did not terminate")
		if g.PendingAutoStep() {
			require.Equal(t, uuid.Nil, g.CurrentPlayer())
			require.NoError(t, g.Apply(uuid.Nil, engine.Action{Kind: engine.ActionFinalizeTrick}))
			continue
		}
		cp := g.CurrentPlayer()
		require.NotEqual(t, uuid.Nil, cp)
		acts := g.LegalActions(cp)
		require.NotEmpty(t, acts, "player to act has no legal actions")
		require.NoError(t, g.Apply(cp, acts[rng.Intn(len(acts))]))
	}
}

func TestNewDealSizes(t *testing.T) {
	for _, tc := range []struct {
		n, hand, stock int
	}{
		{2, 6, 11}, // one card turned as trump indicator
		{3, 8, 0},
		{4, 6, 0},
	} {
		players := makePlayers(tc.n)
		g, err := New(players, 1)
		require.NoError(t, err)
		for _, p := range players {
			v := g.ViewFor(p).(View)
			require.Len(t, v.Hand, tc.hand)
			require.Equal(t, tc.stock, v.StockSize)
		}
	}

	_, err := New(makePlayers(5), 1)
	require.Error(t, err)
	_, err = New(makePlayers(1), 1)
	require.Error(t, err)
}

func TestTwoPlayerTrumpIndicator(t *testing.T) {
	g, err := New(makePlayers(2), 42)
	require.NoError(t, err)
	v := g.ViewFor(g.CurrentPlayer()).(View)
	require.NotNil(t, v.TrumpCard)
	require.Equal(t, v.TrumpCard.Suit, v.Trump)
	require.False(t, v.StockClosed)
}

func TestFourPlayerDealsWholeDeck(t *testing.T) {
	g, err := New(makePlayers(4), 42)
	require.NoError(t, err)
	v := g.ViewFor(g.CurrentPlayer()).(View)
	require.Nil(t, v.TrumpCard)
	require.True(t, v.StockClosed)
	require.Zero(t, v.StockSize)
}

func TestRandomPlayoutsTerminate(t *testing.T) {
	for n := 2; n <= 4; n++ {
		for seed := int64(0); seed < 10; seed++ {
			players := makePlayers(n)
			g, err := New(players, seed)
			require.NoError(t, err)
			playout(t, g, seed)

			out := g.Outcome()
			require.Len(t, out, n)
			for _, p := range players {
				score, ok := out[p]
				require.True(t, ok)
				require.Contains(t, []float64{0, 0.5, 1}, score)
			}
			if n == 4 {
				// fixed teams: partners always score the same, the two team
				// scores always account for both seats
				require.Equal(t, out[players[0]], out[players[2]])
				require.Equal(t, out[players[1]], out[players[3]])
				require.InDelta(t, 2.0, out[players[0]]*2+out[players[1]]*2, 1e-9)
			}
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	players := makePlayers(3)
	g, err := New(players, 7)
	require.NoError(t, err)

	// advance a few plies so the snapshot carries mid-trick state
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 4 && !g.IsTerminal(); i++ {
		if g.PendingAutoStep() {
			require.NoError(t, g.Apply(uuid.Nil, engine.Action{Kind: engine.ActionFinalizeTrick}))
			continue
		}
		cp := g.CurrentPlayer()
		acts := g.LegalActions(cp)
		require.NoError(t, g.Apply(cp, acts[rng.Intn(len(acts))]))
	}

	blob, err := g.Serialize()
	require.NoError(t, err)
	restored, err := Deserialize(blob)
	require.NoError(t, err)

	require.Equal(t, g.CurrentPlayer(), restored.CurrentPlayer())
	require.Equal(t, g.PendingAutoStep(), restored.PendingAutoStep())
	for _, p := range players {
		require.Equal(t, g.LegalActions(p), restored.LegalActions(p))
	}

	blob2, err := restored.Serialize()
	require.NoError(t, err)
	require.JSONEq(t, string(blob), string(blob2))
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte("not json"))
	require.Error(t, err)
	_, err = Deserialize([]byte("{}"))
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	players := makePlayers(2)
	g, err := New(players, 3)
	require.NoError(t, err)

	before, err := g.Serialize()
	require.NoError(t, err)

	cp := g.Clone()
	cur := cp.CurrentPlayer()
	acts := cp.LegalActions(cur)
	require.NotEmpty(t, acts)
	require.NoError(t, cp.Apply(cur, acts[0]))

	after, err := g.Serialize()
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))
}

func TestIllegalActions(t *testing.T) {
	players := makePlayers(2)
	g, err := New(players, 5)
	require.NoError(t, err)

	cur := g.CurrentPlayer()
	other := players[0]
	if other == cur {
		other = players[1]
	}

	var illegal *engine.IllegalActionError

	// out of turn
	v := g.ViewFor(other).(View)
	err = g.Apply(other, engine.Action{Kind: engine.ActionPlayCard, Card: &v.Hand[0]})
	require.True(t, errors.As(err, &illegal))

	// card not in hand, guaranteed by playing the trump indicator
	cv := g.ViewFor(cur).(View)
	err = g.Apply(cur, engine.Action{Kind: engine.ActionPlayCard, Card: cv.TrumpCard})
	require.True(t, errors.As(err, &illegal))

	// no trick pending
	err = g.Apply(cur, engine.Action{Kind: engine.ActionFinalizeTrick})
	require.True(t, errors.As(err, &illegal))
}

func TestMarriageScoring(t *testing.T) {
	// search for a deal where the opening leader holds a marriage
	for seed := int64(0); seed < 200; seed++ {
		g, err := New(makePlayers(2), seed)
		require.NoError(t, err)
		cur := g.CurrentPlayer()
		for _, a := range g.LegalActions(cur) {
			if a.Kind != engine.ActionDeclare {
				continue
			}
			v := g.ViewFor(cur).(View)
			want := 20
			if *a.Suit == v.Trump {
				want = 40
			}
			require.NoError(t, g.Apply(cur, a))
			after := g.ViewFor(cur).(View)
			require.Equal(t, want, after.Points[cur])

			// the same marriage cannot be declared twice
			for _, b := range g.LegalActions(g.CurrentPlayer()) {
				if b.Kind == engine.ActionDeclare {
					require.NotEqual(t, *a.Suit, *b.Suit)
				}
			}
			return
		}
	}
	t.Fatal("no deal with an opening marriage found")
}

func TestCloseStockOnlyTwoPlayer(t *testing.T) {
	g, err := New(makePlayers(2), 9)
	require.NoError(t, err)
	cur := g.CurrentPlayer()

	found := false
	for _, a := range g.LegalActions(cur) {
		if a.Kind == engine.ActionCloseStock {
			found = true
		}
	}
	require.True(t, found)
	require.NoError(t, g.Apply(cur, engine.Action{Kind: engine.ActionCloseStock}))

	// closing twice is illegal
	var illegal *engine.IllegalActionError
	err = g.Apply(cur, engine.Action{Kind: engine.ActionCloseStock})
	require.True(t, errors.As(err, &illegal))

	g3, err := New(makePlayers(3), 9)
	require.NoError(t, err)
	for _, a := range g3.LegalActions(g3.CurrentPlayer()) {
		require.NotEqual(t, engine.ActionCloseStock, a.Kind)
	}
}

func TestRegisteredWithEngineRegistry(t *testing.T) {
	players := makePlayers(2)
	g, err := engine.New(models.GameSixtySix, players, "")
	require.NoError(t, err)

	blob, err := g.Serialize()
	require.NoError(t, err)
	restored, err := engine.Deserialize(models.GameSixtySix, blob)
	require.NoError(t, err)
	require.Equal(t, g.CurrentPlayer(), restored.CurrentPlayer())
}
