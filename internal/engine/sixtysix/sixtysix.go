// internal/engine/sixtysix/sixtysix.go
package sixtysix

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/engine"
	"github.com/stolik-gg/stolik/internal/models"
)

func init() {
	engine.Register(models.GameSixtySix,
		func(players []uuid.UUID, variant string) (engine.Engine, error) {
			return New(players, time.Now().UnixNano())
		},
		func(blob []byte) (engine.Engine, error) {
			return Deserialize(blob)
		})
}

const (
	targetPoints   = 66
	lastTrickBonus = 10
)

// state is the full serializable game state. Hands of other players are
// stripped by ViewFor, never here.
type state struct {
	Players     []uuid.UUID                 `json:"players"`
	Hands       map[uuid.UUID][]engine.Card `json:"hands"`
	Stock       []engine.Card               `json:"stock,omitempty"`
	Trump       engine.Suit                 `json:"trump"`
	TrumpCard   *engine.Card                `json:"trump_card,omitempty"`
	StockClosed bool                        `json:"stock_closed"`

	Leader       int               `json:"leader"`
	Trick        []engine.Card     `json:"trick,omitempty"`
	PendingTrick bool              `json:"pending_trick"`
	TricksTaken  map[uuid.UUID]int `json:"tricks_taken"`

	Points   map[uuid.UUID]int `json:"points"`
	Declared map[string]bool   `json:"declared,omitempty"`

	Terminal bool                  `json:"terminal"`
	Scores   map[uuid.UUID]float64 `json:"scores,omitempty"`
}

// Game is the Sixty-Six engine. Two-player games draw from a stock after each
// trick; three- and four-player games deal the whole deck and play strict
// follow rules throughout. Four-player games score as fixed teams (even seats
// vs odd seats).
type Game struct {
	st state
}

// New deals a fresh game for the seat-ordered players.
func New(players []uuid.UUID, seed int64) (*Game, error) {
	n := len(players)
	if n < 2 || n > 4 {
		return nil, fmt.Errorf("sixtysix: unsupported player count %d", n)
	}
	rng := rand.New(rand.NewSource(seed))
	deck := engine.NewDeck()
	engine.Shuffle(deck, rng)

	handSize := map[int]int{2: 6, 3: 8, 4: 6}[n]
	st := state{
		Players:     players,
		Hands:       make(map[uuid.UUID][]engine.Card, n),
		TricksTaken: make(map[uuid.UUID]int, n),
		Points:      make(map[uuid.UUID]int, n),
		Declared:    make(map[string]bool),
	}
	for i, p := range players {
		st.Hands[p] = append([]engine.Card(nil), deck[i*handSize:(i+1)*handSize]...)
		st.Points[p] = 0
	}
	rest := deck[n*handSize:]
	if n == 2 {
		// Top of the remainder is turned up as the trump indicator.
		trumpCard := rest[0]
		st.TrumpCard = &trumpCard
		st.Trump = trumpCard.Suit
		st.Stock = append([]engine.Card(nil), rest[1:]...)
	} else {
		// Whole deck dealt: the last card dealt fixes trump and stays in hand.
		last := st.Hands[players[n-1]][handSize-1]
		st.Trump = last.Suit
		st.StockClosed = true
	}
	return &Game{st: st}, nil
}

// Deserialize restores a game from snapshot bytes.
func Deserialize(blob []byte) (*Game, error) {
	var st state
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("sixtysix: decode snapshot: %w", err)
	}
	if len(st.Players) == 0 || st.Hands == nil {
		return nil, fmt.Errorf("sixtysix: snapshot missing players")
	}
	return &Game{st: st}, nil
}

func (g *Game) Serialize() ([]byte, error) {
	return json.Marshal(g.st)
}

func (g *Game) Clone() engine.Engine {
	blob, _ := g.Serialize()
	cp, _ := Deserialize(blob)
	return cp
}

func (g *Game) IsTerminal() bool { return g.st.Terminal }

func (g *Game) PendingAutoStep() bool { return g.st.PendingTrick }

// CurrentPlayer returns uuid.Nil while a trick awaits finalization or after
// the hand ends.
func (g *Game) CurrentPlayer() uuid.UUID {
	if g.st.Terminal || g.st.PendingTrick {
		return uuid.Nil
	}
	idx := (g.st.Leader + len(g.st.Trick)) % len(g.st.Players)
	return g.st.Players[idx]
}

func (g *Game) Outcome() map[uuid.UUID]float64 {
	if !g.st.Terminal {
		return nil
	}
	out := make(map[uuid.UUID]float64, len(g.st.Scores))
	for k, v := range g.st.Scores {
		out[k] = v
	}
	return out
}

// View is the per-player perspective sent to clients and policies.
type View struct {
	You          uuid.UUID             `json:"you"`
	Hand         []engine.Card         `json:"hand"`
	Trump        engine.Suit           `json:"trump"`
	TrumpCard    *engine.Card          `json:"trump_card,omitempty"`
	StockSize    int                   `json:"stock_size"`
	StockClosed  bool                  `json:"stock_closed"`
	Trick        []engine.Card         `json:"trick"`
	Leader       uuid.UUID             `json:"leader"`
	Current      uuid.UUID             `json:"current"`
	PendingTrick bool                  `json:"pending_trick"`
	Points       map[uuid.UUID]int     `json:"points"`
	HandCounts   map[uuid.UUID]int     `json:"hand_counts"`
	Terminal     bool                  `json:"terminal"`
	Scores       map[uuid.UUID]float64 `json:"scores,omitempty"`
}

func (g *Game) ViewFor(playerID uuid.UUID) interface{} {
	v := View{
		You:          playerID,
		Hand:         append([]engine.Card(nil), g.st.Hands[playerID]...),
		Trump:        g.st.Trump,
		TrumpCard:    g.st.TrumpCard,
		StockSize:    len(g.st.Stock),
		StockClosed:  g.st.StockClosed,
		Trick:        append([]engine.Card(nil), g.st.Trick...),
		Leader:       g.st.Players[g.st.Leader],
		Current:      g.CurrentPlayer(),
		PendingTrick: g.st.PendingTrick,
		Points:       make(map[uuid.UUID]int, len(g.st.Points)),
		HandCounts:   make(map[uuid.UUID]int, len(g.st.Hands)),
		Terminal:     g.st.Terminal,
		Scores:       g.st.Scores,
	}
	for p, pts := range g.st.Points {
		v.Points[p] = pts
	}
	for p, h := range g.st.Hands {
		v.HandCounts[p] = len(h)
	}
	return v
}

func (g *Game) playerIdx(playerID uuid.UUID) int {
	for i, p := range g.st.Players {
		if p == playerID {
			return i
		}
	}
	return -1
}

// strict reports whether follow/trump obligations apply.
func (g *Game) strict() bool {
	return g.st.StockClosed || len(g.st.Stock) == 0
}

func (g *Game) legalCards(playerID uuid.UUID) []engine.Card {
	hand := g.st.Hands[playerID]
	if len(g.st.Trick) == 0 || !g.strict() {
		return append([]engine.Card(nil), hand...)
	}
	led := g.st.Trick[0].Suit
	var follow, trumps []engine.Card
	for _, c := range hand {
		if c.Suit == led {
			follow = append(follow, c)
		}
		if c.Suit == g.st.Trump {
			trumps = append(trumps, c)
		}
	}
	if len(follow) > 0 {
		return follow
	}
	if len(trumps) > 0 {
		return trumps
	}
	return append([]engine.Card(nil), hand...)
}

func (g *Game) LegalActions(playerID uuid.UUID) []engine.Action {
	if g.st.Terminal {
		return nil
	}
	if g.st.PendingTrick {
		// Anyone may finalize; the step is idempotent in effect.
		return []engine.Action{{Kind: engine.ActionFinalizeTrick}}
	}
	if g.CurrentPlayer() != playerID {
		return nil
	}
	var acts []engine.Action
	for _, c := range g.legalCards(playerID) {
		card := c
		acts = append(acts, engine.Action{Kind: engine.ActionPlayCard, Card: &card})
	}
	if len(g.st.Trick) == 0 {
		// Marriage declarations lead the king or queen of a held pair.
		for _, s := range engine.Suits {
			if g.st.Declared[marriageKey(playerID, s)] {
				continue
			}
			hand := g.st.Hands[playerID]
			if engine.ContainsCard(hand, engine.Card{Suit: s, Rank: engine.King}) &&
				engine.ContainsCard(hand, engine.Card{Suit: s, Rank: engine.Queen}) {
				suit := s
				k := engine.Card{Suit: s, Rank: engine.King}
				q := engine.Card{Suit: s, Rank: engine.Queen}
				acts = append(acts,
					engine.Action{Kind: engine.ActionDeclare, Card: &k, Suit: &suit},
					engine.Action{Kind: engine.ActionDeclare, Card: &q, Suit: &suit})
			}
		}
		if len(g.st.Players) == 2 && !g.st.StockClosed && len(g.st.Stock) >= 2 {
			acts = append(acts, engine.Action{Kind: engine.ActionCloseStock})
		}
	}
	return acts
}

func marriageKey(playerID uuid.UUID, s engine.Suit) string {
	return playerID.String() + ":" + string(s)
}

func (g *Game) Apply(playerID uuid.UUID, action engine.Action) error {
	if g.st.Terminal {
		return engine.Illegal("hand is over")
	}
	switch action.Kind {
	case engine.ActionFinalizeTrick:
		return g.finalizeTrick()
	case engine.ActionPlayCard, engine.ActionDeclare:
		return g.playCard(playerID, action)
	case engine.ActionCloseStock:
		return g.closeStock(playerID)
	default:
		return engine.Illegal("unknown action kind %q", action.Kind)
	}
}

func (g *Game) closeStock(playerID uuid.UUID) error {
	if g.st.PendingTrick || g.CurrentPlayer() != playerID || len(g.st.Trick) != 0 {
		return engine.Illegal("only the leader may close the stock")
	}
	if len(g.st.Players) != 2 || g.st.StockClosed || len(g.st.Stock) < 2 {
		return engine.Illegal("stock cannot be closed")
	}
	g.st.StockClosed = true
	return nil
}

func (g *Game) playCard(playerID uuid.UUID, action engine.Action) error {
	if g.st.PendingTrick {
		return engine.Illegal("trick awaits finalization")
	}
	if g.CurrentPlayer() != playerID {
		return engine.Illegal("not your turn")
	}
	if action.Card == nil {
		return engine.Illegal("missing card")
	}
	card := *action.Card
	legal := false
	for _, c := range g.legalCards(playerID) {
		if c == card {
			legal = true
			break
		}
	}
	if !legal {
		return engine.Illegal("card %s may not be played", card)
	}

	if action.Kind == engine.ActionDeclare {
		if len(g.st.Trick) != 0 {
			return engine.Illegal("marriages are declared on the lead")
		}
		if card.Rank != engine.King && card.Rank != engine.Queen {
			return engine.Illegal("marriage must lead the king or queen")
		}
		other := engine.Card{Suit: card.Suit, Rank: engine.King}
		if card.Rank == engine.King {
			other.Rank = engine.Queen
		}
		if !engine.ContainsCard(g.st.Hands[playerID], other) {
			return engine.Illegal("no %s marriage in hand", card.Suit)
		}
		key := marriageKey(playerID, card.Suit)
		if g.st.Declared[key] {
			return engine.Illegal("%s marriage already declared", card.Suit)
		}
		g.st.Declared[key] = true
		pts := 20
		if card.Suit == g.st.Trump {
			pts = 40
		}
		g.st.Points[playerID] += pts
	}

	hand, ok := engine.RemoveCard(g.st.Hands[playerID], card)
	if !ok {
		return engine.Illegal("card %s not in hand", card)
	}
	g.st.Hands[playerID] = hand
	g.st.Trick = append(g.st.Trick, card)
	if len(g.st.Trick) == len(g.st.Players) {
		g.st.PendingTrick = true
	}
	// A declaration alone can already decide the hand.
	if action.Kind == engine.ActionDeclare && g.sideReached(playerID) {
		g.finish()
	}
	return nil
}

func (g *Game) finalizeTrick() error {
	if !g.st.PendingTrick {
		return engine.Illegal("no trick to finalize")
	}
	trump := g.st.Trump
	winIdx := engine.TrickWinner(g.st.Trick, g.st.Trick[0].Suit, &trump)
	winnerSeat := (g.st.Leader + winIdx) % len(g.st.Players)
	winner := g.st.Players[winnerSeat]

	pts := 0
	for _, c := range g.st.Trick {
		pts += c.Rank.Points()
	}
	lastTrick := len(g.st.Hands[winner]) == 0
	if lastTrick {
		pts += lastTrickBonus
	}
	g.st.Points[winner] += pts
	g.st.TricksTaken[winner]++
	g.st.Trick = nil
	g.st.PendingTrick = false
	g.st.Leader = winnerSeat

	// Two-player draw phase: winner first, then the loser. The turned trump
	// indicator is the last drawable card, keeping the hands even.
	if len(g.st.Players) == 2 && !g.st.StockClosed && (len(g.st.Stock) > 0 || g.st.TrumpCard != nil) {
		loser := g.st.Players[(winnerSeat+1)%2]
		for _, p := range []uuid.UUID{winner, loser} {
			switch {
			case len(g.st.Stock) > 0:
				g.st.Hands[p] = append(g.st.Hands[p], g.st.Stock[0])
				g.st.Stock = g.st.Stock[1:]
			case g.st.TrumpCard != nil:
				g.st.Hands[p] = append(g.st.Hands[p], *g.st.TrumpCard)
				g.st.TrumpCard = nil
			}
		}
	}

	if g.sideReached(winner) || lastTrick {
		g.finish()
	}
	return nil
}

// sideReached reports whether the player's side has hit the target score.
func (g *Game) sideReached(playerID uuid.UUID) bool {
	return g.sidePoints(playerID) >= targetPoints
}

func (g *Game) sidePoints(playerID uuid.UUID) int {
	if len(g.st.Players) != 4 {
		return g.st.Points[playerID]
	}
	idx := g.playerIdx(playerID)
	total := 0
	for i, p := range g.st.Players {
		if i%2 == idx%2 {
			total += g.st.Points[p]
		}
	}
	return total
}

// finish computes final scores: the side with the most points wins outright,
// ties split at 0.5.
func (g *Game) finish() {
	g.st.Terminal = true
	g.st.PendingTrick = false
	g.st.Trick = nil
	g.st.Scores = make(map[uuid.UUID]float64, len(g.st.Players))

	if len(g.st.Players) == 4 {
		a := g.st.Points[g.st.Players[0]] + g.st.Points[g.st.Players[2]]
		b := g.st.Points[g.st.Players[1]] + g.st.Points[g.st.Players[3]]
		for i, p := range g.st.Players {
			switch {
			case a == b:
				g.st.Scores[p] = 0.5
			case (i%2 == 0) == (a > b):
				g.st.Scores[p] = 1.0
			default:
				g.st.Scores[p] = 0.0
			}
		}
		return
	}

	best := -1
	for _, p := range g.st.Players {
		if g.st.Points[p] > best {
			best = g.st.Points[p]
		}
	}
	var winners []uuid.UUID
	for _, p := range g.st.Players {
		if g.st.Points[p] == best {
			winners = append(winners, p)
		}
	}
	for _, p := range g.st.Players {
		switch {
		case len(winners) > 1 && engine.ContainsUUID(winners, p):
			g.st.Scores[p] = 0.5
		case len(winners) == 1 && winners[0] == p:
			g.st.Scores[p] = 1.0
		default:
			g.st.Scores[p] = 0.0
		}
	}
}
