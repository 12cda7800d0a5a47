package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/rollupsim/internal/engine"
)

const (
	streamInterval    = 200 * time.Millisecond
	streamWriteWait   = 5 * time.Second
	subscriberBacklog = 8
)

// sameHostOrLoopback accepts browsers on the serving host or a loopback
// address, and non-browser clients that send no Origin.
func sameHostOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

var upgrader = websocket.Upgrader{CheckOrigin: sameHostOrLoopback}

// StatusSource produces the frames streamed to subscribers.
type StatusSource interface {
	Status() Status
}

// subscriber is one connected client. Frames queue on send and are written
// by the client's own goroutine, so a slow reader never blocks the others.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// StatusStream pushes run status to WebSocket subscribers while a run is
// active, plus one frame when the run ends.
type StatusStream struct {
	source StatusSource
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func NewStatusStream(source StatusSource, logger *slog.Logger) *StatusStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusStream{
		source: source,
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
		done:   make(chan struct{}),
	}
}

// Handler upgrades the request and sends the current status right away.
func (st *StatusStream) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			st.logger.Warn("status stream upgrade failed", slog.String("error", err.Error()))
			return
		}

		sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBacklog)}
		if frame, ok := st.encode(st.source.Status()); ok {
			sub.send <- frame
		}
		if !st.add(sub) {
			conn.Close()
			return
		}

		go st.write(sub)
		st.read(sub)
	}
}

func (st *StatusStream) add(sub *subscriber) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	select {
	case <-st.done:
		return false
	default:
	}
	st.subs[sub] = struct{}{}
	st.logger.Debug("status subscriber connected", slog.Int("subscribers", len(st.subs)))
	return true
}

// remove unregisters sub and closes its queue unless Stop already did.
func (st *StatusStream) remove(sub *subscriber) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.subs[sub]; !ok {
		return
	}
	delete(st.subs, sub)
	close(sub.send)
	st.logger.Debug("status subscriber disconnected", slog.Int("subscribers", len(st.subs)))
}

// read discards client messages until the connection fails.
func (st *StatusStream) read(sub *subscriber) {
	defer func() {
		st.remove(sub)
		sub.conn.Close()
	}()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				st.logger.Debug("status subscriber read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (st *StatusStream) write(sub *subscriber) {
	for frame := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			st.logger.Debug("status subscriber write failed", slog.String("error", err.Error()))
			sub.conn.Close()
			return
		}
	}
	_ = sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	sub.conn.Close()
}

// Start runs the publishing loop until Stop.
func (st *StatusStream) Start() {
	go st.run()
}

// Stop ends publishing and disconnects every subscriber. Repeated calls are
// no-ops.
func (st *StatusStream) Stop() {
	st.stopOnce.Do(func() {
		st.mu.Lock()
		close(st.done)
		for sub := range st.subs {
			delete(st.subs, sub)
			close(sub.send)
		}
		st.mu.Unlock()
	})
}

func (st *StatusStream) run() {
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	last := engine.StateIdle
	for {
		select {
		case <-st.done:
			return
		case <-ticker.C:
		}

		status := st.source.Status()
		state := parseState(status.State)
		// Terminal states are published once per transition.
		if state == engine.StateRunning || (state != last && state != engine.StateIdle) {
			st.publish(status)
		}
		last = state
	}
}

func parseState(s string) engine.State {
	for _, state := range []engine.State{engine.StateRunning, engine.StateCompleted, engine.StateAborted} {
		if state.String() == s {
			return state
		}
	}
	return engine.StateIdle
}

func (st *StatusStream) publish(status Status) {
	frame, ok := st.encode(status)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for sub := range st.subs {
		select {
		case sub.send <- frame:
		default:
			st.logger.Debug("status subscriber lagging, frame dropped")
		}
	}
}

func (st *StatusStream) encode(status Status) ([]byte, bool) {
	frame, err := json.Marshal(status)
	if err != nil {
		st.logger.Error("failed to encode status frame", slog.String("error", err.Error()))
		return nil, false
	}
	return frame, true
}

// Subscribers returns the number of connected clients.
func (st *StatusStream) Subscribers() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}
