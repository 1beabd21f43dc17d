// internal/engine/cards.go
package engine

import "math/rand"

// Suit of a card. Both portal games play with the same 24-card deck
// (9, J, Q, K, 10, A in four suits).
type Suit string

const (
	Spades   Suit = "S"
	Clubs    Suit = "C"
	Diamonds Suit = "D"
	Hearts   Suit = "H"
)

// Suits in a stable order used for dealing and iteration.
var Suits = []Suit{Spades, Clubs, Diamonds, Hearts}

// Rank of a card. Ordering follows trick-taking strength: A > 10 > K > Q > J > 9.
type Rank string

const (
	Nine  Rank = "9"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ten   Rank = "10"
	Ace   Rank = "A"
)

// Ranks in ascending strength order.
var Ranks = []Rank{Nine, Jack, Queen, King, Ten, Ace}

// Card is a single playing card.
type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

func (c Card) String() string {
	return string(c.Rank) + string(c.Suit)
}

// Points returns the trick-scoring value of a rank, shared by both games.
func (r Rank) Points() int {
	switch r {
	case Ace:
		return 11
	case Ten:
		return 10
	case King:
		return 4
	case Queen:
		return 3
	case Jack:
		return 2
	default:
		return 0
	}
}

// Strength orders ranks for trick comparison; higher wins within a suit.
func (r Rank) Strength() int {
	for i, rr := range Ranks {
		if rr == r {
			return i
		}
	}
	return -1
}

// NewDeck returns the 24-card deck in canonical order.
func NewDeck() []Card {
	deck := make([]Card, 0, 24)
	for _, s := range Suits {
		for _, r := range Ranks {
			deck = append(deck, Card{Suit: s, Rank: r})
		}
	}
	return deck
}

// Shuffle permutes deck in place using rng.
func Shuffle(deck []Card, rng *rand.Rand) {
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
}

// RemoveCard deletes the first occurrence of c from hand, reporting success.
func RemoveCard(hand []Card, c Card) ([]Card, bool) {
	for i, h := range hand {
		if h == c {
			return append(hand[:i:i], hand[i+1:]...), true
		}
	}
	return hand, false
}

// ContainsCard reports whether hand holds c.
func ContainsCard(hand []Card, c Card) bool {
	for _, h := range hand {
		if h == c {
			return true
		}
	}
	return false
}

// TrickWinner decides the winning play index given the led suit, an optional
// trump suit, and the plays in order.
func TrickWinner(plays []Card, ledSuit Suit, trump *Suit) int {
	best := 0
	for i := 1; i < len(plays); i++ {
		if beats(plays[i], plays[best], ledSuit, trump) {
			best = i
		}
	}
	return best
}

func beats(a, b Card, ledSuit Suit, trump *Suit) bool {
	if trump != nil {
		if a.Suit == *trump && b.Suit != *trump {
			return true
		}
		if b.Suit == *trump && a.Suit != *trump {
			return false
		}
	}
	if a.Suit == b.Suit {
		return a.Rank.Strength() > b.Rank.Strength()
	}
	// Off-suit, non-trump plays never win.
	return a.Suit == ledSuit && b.Suit != ledSuit
}
