package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// tapClientBuffer is how many events a client may lag before it is
	// dropped.
	tapClientBuffer = 64

	tapWriteTimeout = 5 * time.Second
)

// Tap broadcasts the event stream to websocket subscribers, giving ops
// dashboards a live view without touching the journal.
//
// Register it on a mux (typically at /events) and add it to the sink set. A
// client that cannot drain its buffer is disconnected rather than allowed to
// stall the broadcast.
type Tap struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewTap returns a Tap logging to log, or [slog.Default] when log is nil.
func NewTap(log *slog.Logger) *Tap {
	if log == nil {
		log = slog.Default()
	}
	return &Tap{
		log:     log,
		clients: make(map[chan []byte]struct{}),
	}
}

// Emit broadcasts the event to all connected clients. Slow clients are
// dropped.
func (t *Tap) Emit(_ context.Context, e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		t.log.Error("tap marshal failed", "event_id", e.ID, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.clients {
		select {
		case ch <- b:
		default:
			delete(t.clients, ch)
			close(ch)
			t.log.Warn("tap client dropped", "reason", "slow consumer")
		}
	}
}

// ServeHTTP upgrades the request to a websocket and streams events until the
// client disconnects or the tap closes.
func (t *Tap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.log.Warn("tap accept failed", "error", err)
		return
	}

	ch, ok := t.subscribe()
	if !ok {
		conn.Close(websocket.StatusGoingAway, "tap closed")
		return
	}
	defer t.unsubscribe(ch)

	// CloseRead discards inbound frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case b, open := <-ch:
			if !open {
				conn.Close(websocket.StatusGoingAway, "tap closed")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, tapWriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Clients reports the current subscriber count.
func (t *Tap) Clients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Close disconnects all subscribers. Subsequent Emit calls are no-ops and
// new connections are refused.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for ch := range t.clients {
		delete(t.clients, ch)
		close(ch)
	}
	return nil
}

func (t *Tap) subscribe() (chan []byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, false
	}
	ch := make(chan []byte, tapClientBuffer)
	t.clients[ch] = struct{}{}
	return ch, true
}

// unsubscribe removes the channel if the broadcaster has not already dropped
// it; only the side that removes it from the map closes it.
func (t *Tap) unsubscribe(ch chan []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[ch]; ok {
		delete(t.clients, ch)
		close(ch)
	}
}

var _ Sink = (*Tap)(nil)
