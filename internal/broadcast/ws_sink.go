// internal/broadcast/ws_sink.go
package broadcast

import (
	"context"
	"log"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/events"
)

// WebsocketSink adapts a websocket connection to the Sink interface with a
// buffered outgoing channel so slow clients never block the fan-out path.
type WebsocketSink struct {
	userID uuid.UUID
	conn   *websocket.Conn
	out    chan events.Event
	cancel context.CancelFunc
}

// NewWebsocketSink wraps conn and starts its write pump.
func NewWebsocketSink(ctx context.Context, userID uuid.UUID, conn *websocket.Conn) *WebsocketSink {
	ctx, cancel := context.WithCancel(ctx)
	s := &WebsocketSink{
		userID: userID,
		conn:   conn,
		out:    make(chan events.Event, 32),
		cancel: cancel,
	}
	go s.writePump(ctx)
	return s
}

func (s *WebsocketSink) UserID() uuid.UUID { return s.userID }

// Send queues an event, dropping when the client cannot keep up. Clients poll
// the match record on reconnect, so a dropped hint is recoverable.
func (s *WebsocketSink) Send(ev events.Event) {
	select {
	case s.out <- ev:
	default:
		log.Printf("WebsocketSink: out buffer full for user %s, dropped %s", s.userID, ev.Type)
	}
}

// Close stops the write pump.
func (s *WebsocketSink) Close() {
	s.cancel()
}

func (s *WebsocketSink) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, s.conn, ev)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
