// internal/broadcast/bus_test.go
package broadcast

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/stolik-gg/stolik/internal/events"
	"github.com/stolik-gg/stolik/internal/store"
)

type chanSink struct {
	userID uuid.UUID
	ch     chan events.Event
}

func newChanSink() *chanSink {
	return &chanSink{userID: uuid.New(), ch: make(chan events.Event, 16)}
}

func (s *chanSink) UserID() uuid.UUID { return s.userID }

func (s *chanSink) Send(ev events.Event) {
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *chanSink) wait(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return events.Event{}
	}
}

func newTestBus(t *testing.T) (*Bus, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.NewWithClient(rdb)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewBus(st, log), st
}

func publish(t *testing.T, st *store.Store, matchID string, ev events.Event) {
	t.Helper()
	require.NoError(t, st.Publish(context.Background(), store.ChannelFor(matchID), ev.Encode()))
}

func TestAttachDeliversEvents(t *testing.T) {
	bus, st := newTestBus(t)
	sink := newChanSink()

	bus.Attach(context.Background(), "m1", sink)
	require.Equal(t, 1, bus.LocalSinks("m1"))
	time.Sleep(50 * time.Millisecond) // let the subscription register

	publish(t, st, "m1", events.Event{Type: events.StateUpdated, MatchID: "m1"})
	ev := sink.wait(t)
	require.Equal(t, events.StateUpdated, ev.Type)
	require.Equal(t, "m1", ev.MatchID)
}

func TestFanOutToAllSinks(t *testing.T) {
	bus, st := newTestBus(t)
	a, b := newChanSink(), newChanSink()

	bus.Attach(context.Background(), "m1", a)
	bus.Attach(context.Background(), "m1", b)
	require.Equal(t, 2, bus.LocalSinks("m1"))
	time.Sleep(50 * time.Millisecond)

	publish(t, st, "m1", events.Event{Type: events.GameStarted, MatchID: "m1"})
	require.Equal(t, events.GameStarted, a.wait(t).Type)
	require.Equal(t, events.GameStarted, b.wait(t).Type)
}

func TestDetachStopsDelivery(t *testing.T) {
	bus, st := newTestBus(t)
	sink := newChanSink()

	bus.Attach(context.Background(), "m1", sink)
	time.Sleep(50 * time.Millisecond)
	bus.Detach("m1", sink)
	require.Zero(t, bus.LocalSinks("m1"))

	require.NoError(t, st.Publish(context.Background(), store.ChannelFor("m1"),
		events.Event{Type: events.StateUpdated, MatchID: "m1"}.Encode()))
	select {
	case <-sink.ch:
		t.Fatal("detached sink still received an event")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSinkGoneNotifies(t *testing.T) {
	bus, _ := newTestBus(t)
	sink := newChanSink()

	var gotMatch string
	var gotUser uuid.UUID
	bus.OnSinkGone = func(matchID string, userID uuid.UUID) {
		gotMatch = matchID
		gotUser = userID
	}

	bus.Attach(context.Background(), "m1", sink)
	bus.SinkGone("m1", sink)
	require.Equal(t, "m1", gotMatch)
	require.Equal(t, sink.userID, gotUser)
	require.Zero(t, bus.LocalSinks("m1"))
}

func TestSendChatRoundTrip(t *testing.T) {
	bus, _ := newTestBus(t)
	sink := newChanSink()
	from := uuid.New()

	bus.Attach(context.Background(), "m1", sink)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.SendChat(context.Background(), "m1", from, "dzien dobry"))
	ev := sink.wait(t)
	require.Equal(t, events.Chat, ev.Type)
	require.Equal(t, from, ev.From)
	require.Equal(t, "dzien dobry", ev.Body)
}
