package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("websocket connection closed")

const wsWriteTimeout = 10 * time.Second

// WSClient multiplexes calls over one WebSocket connection. Responses are
// matched to callers by request id in a single reader goroutine.
type WSClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	lastID   uint64
	inflight map[uint64]chan<- Response
	readErr  error

	closed chan struct{}
}

var _ Client = (*WSClient)(nil)

// DialWS opens a connection to cfg.URL. cfg.Timeout bounds the handshake.
func DialWS(ctx context.Context, cfg ClientConfig) (*WSClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &WSClient{
		conn:     conn,
		logger:   cfg.logger(),
		inflight: make(map[uint64]chan<- Response),
		closed:   make(chan struct{}),
	}
	go c.read()

	c.logger.Info("connected to rollup websocket", slog.String("url", cfg.URL))
	return c, nil
}

func (c *WSClient) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	reply := make(chan Response, 1)
	id, err := c.track(reply)
	if err != nil {
		return nil, err
	}
	defer c.untrack(id)

	if err := c.send(ctx, newRequest(id, method, params)); err != nil {
		return nil, err
	}

	select {
	case resp := <-reply:
		return resp.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		select {
		case resp := <-reply:
			return resp.result()
		default:
			return nil, c.failure()
		}
	}
}

// Close sends a close frame, closes the connection and waits for the reader.
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.closed
	return err
}

func (c *WSClient) track(reply chan<- Response) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	c.lastID++
	c.inflight[c.lastID] = reply
	return c.lastID, nil
}

func (c *WSClient) untrack(id uint64) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *WSClient) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *WSClient) send(ctx context.Context, req Request) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(wsWriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

func (c *WSClient) read() {
	defer close(c.closed)

	for {
		var resp Response
		err := c.conn.ReadJSON(&resp)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			c.logger.Warn("dropping undecodable websocket frame", slog.String("error", err.Error()))
			continue
		case err != nil:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("rollup websocket read failed", slog.String("error", err.Error()))
			}
			c.mu.Lock()
			c.readErr = fmt.Errorf("%w: %v", ErrClosed, err)
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if reply, ok := c.inflight[resp.ID]; ok {
			reply <- resp
			delete(c.inflight, resp.ID)
		}
		c.mu.Unlock()
	}
}
