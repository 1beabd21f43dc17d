// internal/engine/thousand/thousand.go
package thousand

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
	engine.Register(models.GameThousand,
		func(players []uuid.UUID, variant string) (engine.Engine, error) {
			return New(players, time.Now().UnixNano())
		},
		func(blob []byte) (engine.Engine, error) {
			return Deserialize(blob)
		})
}

const (
	minBid  = 100
	bidStep = 10
	maxBid  = 300
)

// Phase of a Thousand hand.
type Phase string

const (
	PhaseAuction Phase = "auction"
	PhaseMusik   Phase = "musik"   // auction winner picks up the musik
	PhaseDiscard Phase = "discard" // winner puts cards back face down
	PhasePlay    Phase = "play"
	PhaseDone    Phase = "done"
)

// MarriageValue returns the meld points for announcing the king-queen pair of
// a suit: spades 40, clubs 60, diamonds 80, hearts 100.
func MarriageValue(s engine.Suit) int {
	switch s {
	case engine.Spades:
		return 40
	case engine.Clubs:
		return 60
	case engine.Diamonds:
		return 80
	case engine.Hearts:
		return 100
	default:
		return 0
	}
}

type state struct {
	Players []uuid.UUID                 `json:"players"`
	Hands   map[uuid.UUID][]engine.Card `json:"hands"`
	Musik   []engine.Card               `json:"musik,omitempty"`
	Phase   Phase                       `json:"phase"`

	// Auction
	HighBid    int    `json:"high_bid"`
	HighBidder int    `json:"high_bidder"`
	Passed     []bool `json:"passed"`
	BidTurn    int    `json:"bid_turn"`

	// Play
	Trump        *engine.Suit      `json:"trump,omitempty"`
	Leader       int               `json:"leader"`
	Trick        []engine.Card     `json:"trick,omitempty"`
	PendingTrick bool              `json:"pending_trick"`
	PendingMusik bool              `json:"pending_musik"`
	Points       map[uuid.UUID]int `json:"points"`
	Declared     map[string]bool   `json:"declared,omitempty"`

	Terminal bool                  `json:"terminal"`
	Scores   map[uuid.UUID]float64 `json:"scores,omitempty"`
}

// Game plays a single hand of Thousand: auction for the contract, musik
// pickup and discard by the declarer, then trick play with marriage
// announcements that set trump. Scores map the contract result into [0,1].
type Game struct {
	st state
}

// New deals a hand for 2-4 seat-ordered players. Hand sizes divide the
// 24-card deck, with the remainder forming the musik.
func New(players []uuid.UUID, seed int64) (*Game, error) {
	n := len(players)
	if n < 2 || n > 4 {
		return nil, fmt.Errorf("thousand: unsupported player count %d", n)
	}
	rng := rand.New(rand.NewSource(seed))
	deck := engine.NewDeck()
	engine.Shuffle(deck, rng)

	handSize := map[int]int{2: 10, 3: 7, 4: 5}[n]
	st := state{
		Players:    players,
		Hands:      make(map[uuid.UUID][]engine.Card, n),
		Phase:      PhaseAuction,
		HighBid:    minBid,
		HighBidder: 0, // seat 0 opens with the obligatory 100
		Passed:     make([]bool, n),
		BidTurn:    1 % n,
		Points:     make(map[uuid.UUID]int, n),
		Declared:   make(map[string]bool),
	}
	for i, p := range players {
		st.Hands[p] = append([]engine.Card(nil), deck[i*handSize:(i+1)*handSize]...)
		st.Points[p] = 0
	}
	st.Musik = append([]engine.Card(nil), deck[n*handSize:]...)
	return &Game{st: st}, nil
}

// Deserialize restores a hand from snapshot bytes.
func Deserialize(blob []byte) (*Game, error) {
	var st state
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("thousand: decode snapshot: %w", err)
	}
	if len(st.Players) == 0 || st.Hands == nil {
		return nil, fmt.Errorf("thousand: snapshot missing players")
	}
	return &Game{st: st}, nil
}

func (g *Game) Serialize() ([]byte, error) { return json.Marshal(g.st) }

func (g *Game) Clone() engine.Engine {
	blob, _ := g.Serialize()
	cp, _ := Deserialize(blob)
	return cp
}

func (g *Game) IsTerminal() bool { return g.st.Terminal }

func (g *Game) PendingAutoStep() bool { return g.st.PendingTrick || g.st.PendingMusik }

func (g *Game) declarer() uuid.UUID { return g.st.Players[g.st.HighBidder] }

func (g *Game) CurrentPlayer() uuid.UUID {
	if g.st.Terminal || g.PendingAutoStep() {
		return uuid.Nil
	}
	switch g.st.Phase {
	case PhaseAuction:
		return g.st.Players[g.st.BidTurn]
	case PhaseDiscard:
		return g.declarer()
	case PhasePlay:
		return g.st.Players[(g.st.Leader+len(g.st.Trick))%len(g.st.Players)]
	default:
		return uuid.Nil
	}
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

// View is the per-player perspective; the musik and other hands stay hidden
// until picked up.
type View struct {
	You        uuid.UUID             `json:"you"`
	Phase      Phase                 `json:"phase"`
	Hand       []engine.Card         `json:"hand"`
	MusikSize  int                   `json:"musik_size"`
	HighBid    int                   `json:"high_bid"`
	HighBidder uuid.UUID             `json:"high_bidder"`
	Trump      *engine.Suit          `json:"trump,omitempty"`
	Trick      []engine.Card         `json:"trick"`
	Current    uuid.UUID             `json:"current"`
	Points     map[uuid.UUID]int     `json:"points"`
	HandCounts map[uuid.UUID]int     `json:"hand_counts"`
	Terminal   bool                  `json:"terminal"`
	Scores     map[uuid.UUID]float64 `json:"scores,omitempty"`
}

func (g *Game) ViewFor(playerID uuid.UUID) interface{} {
	v := View{
		You:        playerID,
		Phase:      g.st.Phase,
		Hand:       append([]engine.Card(nil), g.st.Hands[playerID]...),
		MusikSize:  len(g.st.Musik),
		HighBid:    g.st.HighBid,
		HighBidder: g.declarer(),
		Trump:      g.st.Trump,
		Trick:      append([]engine.Card(nil), g.st.Trick...),
		Current:    g.CurrentPlayer(),
		Points:     make(map[uuid.UUID]int, len(g.st.Points)),
		HandCounts: make(map[uuid.UUID]int, len(g.st.Hands)),
		Terminal:   g.st.Terminal,
		Scores:     g.st.Scores,
	}
	for p, pts := range g.st.Points {
		v.Points[p] = pts
	}
	for p, h := range g.st.Hands {
		v.HandCounts[p] = len(h)
	}
	return v
}

func (g *Game) LegalActions(playerID uuid.UUID) []engine.Action {
	if g.st.Terminal {
		return nil
	}
	if g.PendingAutoStep() {
		return []engine.Action{{Kind: engine.ActionFinalizeTrick}}
	}
	if g.CurrentPlayer() != playerID {
		return nil
	}
	switch g.st.Phase {
	case PhaseAuction:
		acts := []engine.Action{{Kind: engine.ActionPass}}
		for bid := g.st.HighBid + bidStep; bid <= maxBid; bid += bidStep {
			acts = append(acts, engine.Action{Kind: engine.ActionBid, Bid: bid})
		}
		return acts
	case PhaseDiscard:
		// Offer each card as a single discard; Apply takes them one at a time
		// until hand size is back to the deal size.
		var acts []engine.Action
		for _, c := range g.st.Hands[playerID] {
			card := c
			acts = append(acts, engine.Action{Kind: engine.ActionExchange, Card: &card})
		}
		return acts
	case PhasePlay:
		var acts []engine.Action
		for _, c := range g.legalCards(playerID) {
			card := c
			acts = append(acts, engine.Action{Kind: engine.ActionPlayCard, Card: &card})
		}
		if len(g.st.Trick) == 0 {
			for _, s := range engine.Suits {
				if g.st.Declared[string(s)] {
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
		}
		return acts
	default:
		return nil
	}
}

func (g *Game) legalCards(playerID uuid.UUID) []engine.Card {
	hand := g.st.Hands[playerID]
	if len(g.st.Trick) == 0 {
		return append([]engine.Card(nil), hand...)
	}
	led := g.st.Trick[0].Suit
	var follow []engine.Card
	for _, c := range hand {
		if c.Suit == led {
			follow = append(follow, c)
		}
	}
	if len(follow) > 0 {
		return follow
	}
	if g.st.Trump != nil {
		var trumps []engine.Card
		for _, c := range hand {
			if c.Suit == *g.st.Trump {
				trumps = append(trumps, c)
			}
		}
		if len(trumps) > 0 {
			return trumps
		}
	}
	return append([]engine.Card(nil), hand...)
}

func (g *Game) Apply(playerID uuid.UUID, action engine.Action) error {
	if g.st.Terminal {
		return engine.Illegal("hand is over")
	}
	switch action.Kind {
	case engine.ActionFinalizeTrick:
		if g.st.PendingMusik {
			return g.pickUpMusik()
		}
		return g.finalizeTrick()
	case engine.ActionBid:
		return g.bid(playerID, action.Bid)
	case engine.ActionPass:
		return g.pass(playerID)
	case engine.ActionExchange:
		return g.discard(playerID, action)
	case engine.ActionPlayCard, engine.ActionDeclare:
		return g.playCard(playerID, action)
	default:
		return engine.Illegal("unknown action kind %q", action.Kind)
	}
}

func (g *Game) playerIdx(playerID uuid.UUID) int {
	for i, p := range g.st.Players {
		if p == playerID {
			return i
		}
	}
	return -1
}

func (g *Game) bid(playerID uuid.UUID, bid int) error {
	if g.st.Phase != PhaseAuction || g.CurrentPlayer() != playerID {
		return engine.Illegal("not your turn to bid")
	}
	if bid < g.st.HighBid+bidStep || bid > maxBid || bid%bidStep != 0 {
		return engine.Illegal("bid %d out of range", bid)
	}
	g.st.HighBid = bid
	g.st.HighBidder = g.st.BidTurn
	g.advanceAuction()
	return nil
}

func (g *Game) pass(playerID uuid.UUID) error {
	if g.st.Phase != PhaseAuction || g.CurrentPlayer() != playerID {
		return engine.Illegal("not your turn to bid")
	}
	g.st.Passed[g.st.BidTurn] = true
	g.advanceAuction()
	return nil
}

func (g *Game) advanceAuction() {
	n := len(g.st.Players)
	active := 0
	for i := range g.st.Players {
		if !g.st.Passed[i] {
			active++
		}
	}
	if active <= 1 {
		// Auction over; the high bidder collects the musik next.
		g.st.Phase = PhaseMusik
		g.st.PendingMusik = true
		return
	}
	for {
		g.st.BidTurn = (g.st.BidTurn + 1) % n
		if !g.st.Passed[g.st.BidTurn] {
			return
		}
	}
}

// pickUpMusik moves the musik into the declarer's hand; the declarer then
// discards back down to the deal size.
func (g *Game) pickUpMusik() error {
	if !g.st.PendingMusik {
		return engine.Illegal("no musik to pick up")
	}
	d := g.declarer()
	g.st.Hands[d] = append(g.st.Hands[d], g.st.Musik...)
	g.st.Musik = nil
	g.st.PendingMusik = false
	g.st.Phase = PhaseDiscard
	return nil
}

func (g *Game) dealSize() int {
	return map[int]int{2: 10, 3: 7, 4: 5}[len(g.st.Players)]
}

func (g *Game) discard(playerID uuid.UUID, action engine.Action) error {
	if g.st.Phase != PhaseDiscard || playerID != g.declarer() {
		return engine.Illegal("no discard pending for you")
	}
	if action.Card == nil {
		return engine.Illegal("missing card")
	}
	hand, ok := engine.RemoveCard(g.st.Hands[playerID], *action.Card)
	if !ok {
		return engine.Illegal("card %s not in hand", *action.Card)
	}
	g.st.Hands[playerID] = hand
	if len(hand) == g.dealSize() {
		g.st.Phase = PhasePlay
		g.st.Leader = g.st.HighBidder
	}
	return nil
}

func (g *Game) playCard(playerID uuid.UUID, action engine.Action) error {
	if g.st.Phase != PhasePlay {
		return engine.Illegal("not in play phase")
	}
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
			return engine.Illegal("marriages are announced on the lead")
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
		if g.st.Declared[string(card.Suit)] {
			return engine.Illegal("%s marriage already announced", card.Suit)
		}
		g.st.Declared[string(card.Suit)] = true
		g.st.Points[playerID] += MarriageValue(card.Suit)
		trump := card.Suit
		g.st.Trump = &trump
	}

	hand, _ := engine.RemoveCard(g.st.Hands[playerID], card)
	g.st.Hands[playerID] = hand
	g.st.Trick = append(g.st.Trick, card)
	if len(g.st.Trick) == len(g.st.Players) {
		g.st.PendingTrick = true
	}
	return nil
}

func (g *Game) finalizeTrick() error {
	if !g.st.PendingTrick {
		return engine.Illegal("no trick to finalize")
	}
	winIdx := engine.TrickWinner(g.st.Trick, g.st.Trick[0].Suit, g.st.Trump)
	winnerSeat := (g.st.Leader + winIdx) % len(g.st.Players)
	winner := g.st.Players[winnerSeat]
	for _, c := range g.st.Trick {
		g.st.Points[winner] += c.Rank.Points()
	}
	g.st.Trick = nil
	g.st.PendingTrick = false
	g.st.Leader = winnerSeat

	if len(g.st.Hands[winner]) == 0 {
		g.finish()
	}
	return nil
}

// finish settles the contract: the declarer wins outright when their points
// reach the bid, otherwise the defenders share the win.
func (g *Game) finish() {
	g.st.Terminal = true
	g.st.Phase = PhaseDone
	g.st.Scores = make(map[uuid.UUID]float64, len(g.st.Players))
	d := g.declarer()
	made := g.st.Points[d] >= g.st.HighBid
	for _, p := range g.st.Players {
		switch {
		case p == d && made:
			g.st.Scores[p] = 1.0
		case p == d:
			g.st.Scores[p] = 0.0
		case made:
			g.st.Scores[p] = 0.0
		default:
			g.st.Scores[p] = 0.5
		}
	}
}
