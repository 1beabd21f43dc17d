// internal/broadcast/bus.go
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/stolik-gg/stolik/internal/events"
	"github.com/stolik-gg/stolik/internal/store"
)

// Sink receives match events for one attached client. Send must not block;
// implementations drop on a full buffer.
type Sink interface {
	UserID() uuid.UUID
	Send(ev events.Event)
}

// Bus fans pub/sub events out to the sinks attached in this process. It holds
// one Redis subscription per match with at least one local sink, and never
// mutates match state itself.
type Bus struct {
	st  *store.Store
	log *logrus.Logger

	// OnSinkGone is notified when a sink detaches uncleanly, feeding the
	// disconnect supervisor.
	OnSinkGone func(matchID string, userID uuid.UUID)

	mu   sync.Mutex
	subs map[string]*matchSub
}

type matchSub struct {
	sinks  map[Sink]struct{}
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// NewBus builds an empty bus.
func NewBus(st *store.Store, log *logrus.Logger) *Bus {
	return &Bus{st: st, log: log, subs: make(map[string]*matchSub)}
}

// Attach registers a sink for a match. The first sink in this process opens
// the Redis subscription.
func (b *Bus) Attach(ctx context.Context, matchID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[matchID]
	if !ok {
		subCtx, cancel := context.WithCancel(context.Background())
		sub = &matchSub{
			sinks:  make(map[Sink]struct{}),
			pubsub: b.st.Subscribe(subCtx, store.ChannelFor(matchID)),
			cancel: cancel,
		}
		b.subs[matchID] = sub
		go b.pump(subCtx, matchID, sub.pubsub)
	}
	sub.sinks[sink] = struct{}{}
}

// Detach removes a sink; the last sink closes the subscription.
func (b *Bus) Detach(matchID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[matchID]
	if !ok {
		return
	}
	delete(sub.sinks, sink)
	if len(sub.sinks) == 0 {
		sub.cancel()
		if err := sub.pubsub.Close(); err != nil {
			b.log.WithError(err).WithField("match", matchID).Warn("pubsub close failed")
		}
		delete(b.subs, matchID)
	}
}

// SinkGone detaches a sink whose connection dropped and notifies the
// disconnect supervisor.
func (b *Bus) SinkGone(matchID string, sink Sink) {
	b.Detach(matchID, sink)
	if b.OnSinkGone != nil {
		b.OnSinkGone(matchID, sink.UserID())
	}
}

// SendChat routes a chat message through pub/sub so every process forwards it
// to its local sinks.
func (b *Bus) SendChat(ctx context.Context, matchID string, from uuid.UUID, body string) error {
	ev := events.Event{Type: events.Chat, MatchID: matchID, From: from, Body: body}
	return b.st.Publish(ctx, store.ChannelFor(matchID), ev.Encode())
}

// pump forwards every received event to the sinks attached at delivery time.
func (b *Bus) pump(ctx context.Context, matchID string, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			ev, err := events.Decode([]byte(msg.Payload))
			if err != nil {
				b.log.WithError(err).WithField("match", matchID).Warn("bad event payload")
				continue
			}
			b.mu.Lock()
			sub, ok := b.subs[matchID]
			var sinks []Sink
			if ok {
				for s := range sub.sinks {
					sinks = append(sinks, s)
				}
			}
			b.mu.Unlock()
			for _, s := range sinks {
				s.Send(ev)
			}
		}
	}
}

// LocalSinks reports how many sinks are attached for a match in this process.
func (b *Bus) LocalSinks(matchID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[matchID]
	if !ok {
		return 0
	}
	return len(sub.sinks)
}
