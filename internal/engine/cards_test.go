// internal/engine/cards_test.go
package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDeck(t *testing.T) {
	deck := NewDeck()
	require.Len(t, deck, 24)

	seen := map[Card]bool{}
	total := 0
	for _, c := range deck {
		require.False(t, seen[c], "duplicate card %s", c)
		seen[c] = true
		total += c.Rank.Points()
	}
	// card points in the deck always sum to 120
	require.Equal(t, 120, total)
}

func TestShuffleKeepsAllCards(t *testing.T) {
	deck := NewDeck()
	Shuffle(deck, rand.New(rand.NewSource(1)))
	require.Len(t, deck, 24)
	seen := map[Card]bool{}
	for _, c := range deck {
		seen[c] = true
	}
	require.Len(t, seen, 24)
}

func TestRemoveCard(t *testing.T) {
	hand := []Card{{Spades, Ace}, {Hearts, Ten}, {Clubs, Nine}}

	out, ok := RemoveCard(hand, Card{Hearts, Ten})
	require.True(t, ok)
	require.Equal(t, []Card{{Spades, Ace}, {Clubs, Nine}}, out)

	_, ok = RemoveCard(out, Card{Hearts, Ten})
	require.False(t, ok)
}

func TestTrickWinner(t *testing.T) {
	hearts := Hearts

	tests := []struct {
		name  string
		plays []Card
		led   Suit
		trump *Suit
		want  int
	}{
		{
			name:  "highest of led suit wins",
			plays: []Card{{Spades, King}, {Spades, Ace}, {Spades, Nine}},
			led:   Spades,
			want:  1,
		},
		{
			name:  "off-suit discard never wins",
			plays: []Card{{Spades, Nine}, {Diamonds, Ace}},
			led:   Spades,
			want:  0,
		},
		{
			name:  "trump beats led suit",
			plays: []Card{{Spades, Ace}, {Hearts, Nine}},
			led:   Spades,
			trump: &hearts,
			want:  1,
		},
		{
			name:  "higher trump beats lower trump",
			plays: []Card{{Hearts, Jack}, {Hearts, Ten}, {Spades, Ace}},
			led:   Hearts,
			trump: &hearts,
			want:  1,
		},
		{
			name:  "ten outranks king",
			plays: []Card{{Clubs, King}, {Clubs, Ten}},
			led:   Clubs,
			want:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, TrickWinner(tt.plays, tt.led, tt.trump))
		})
	}
}
