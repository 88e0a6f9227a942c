// Package transport is a thin client over a persistent websocket carrying
// named JSON events. It knows nothing about chat semantics: callers emit
// and subscribe to events by name. Reconnection policy is not implemented
// here; a dropped connection surfaces as a single "disconnect" event and
// the owner decides whether to dial again.
package transport

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

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings with this period. Must be less than pongWait.
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Lifecycle pseudo-events. They flow through the same dispatcher as named
// server events so subscribers observe one ordered stream.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// ErrNotConnected is returned by Emit when there is no live connection.
var ErrNotConnected = errors.New("transport: not connected")

// Envelope is the wire frame: one named event plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of a subscribed event. It is an
// alias so Subscribe's signature matches consumers that declare the
// method against a plain func type.
type Handler = func(data json.RawMessage)

// Client is a single connection handle. Construct it explicitly and
// inject it where needed; it does not dial until Connect is called.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger

	connectMu sync.Mutex // serializes Connect/Disconnect

	mu       sync.Mutex
	handlers map[string]Handler
	active   *session
}

// session is the state of one dialed connection. A new one is created on
// every successful Connect so a late pump from a dead connection can
// never touch a live one.
type session struct {
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{
		url:      url,
		dialer:   websocket.DefaultDialer,
		logger:   logger.With(slog.String("component", "transport")),
		handlers: make(map[string]Handler),
	}
}

// Connect dials the server and starts the read/write pumps. Calling it
// with a live connection is a no-op. A failed dial is reported both as a
// returned error and as a connect_error event.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.Connected() {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.dispatch(EventConnectError, errPayload(err))
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}

	s := &session{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
	c.mu.Lock()
	c.active = s
	c.mu.Unlock()

	go c.writePump(s)
	go c.readPump(s)

	c.logger.Info("connected", slog.String("url", c.url))
	c.dispatch(EventConnect, nil)
	return nil
}

// Disconnect closes the current connection, if any. Safe to call twice.
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s != nil {
		c.teardown(s, nil)
	}
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Emit queues a named event for delivery. The payload is marshalled to
// JSON and wrapped in an Envelope.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transport: marshal %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("transport: marshal %s envelope: %w", event, err)
	}

	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.closed:
		return ErrNotConnected
	}
}

// Subscribe registers the handler for an event name, replacing any
// previous one. Handlers for server events run on the read pump
// goroutine, so delivery order equals wire order.
func (c *Client) Subscribe(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = h
}

func (c *Client) Unsubscribe(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// readPump pumps envelopes from the connection into the dispatcher.
func (c *Client) readPump(s *session) {
	defer func() {
		c.teardown(s, errors.New("read loop exited"))
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("read failed", slog.Any("error", err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("dropping malformed frame", slog.Any("error", err))
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

// writePump pumps queued frames to the connection and keeps it alive
// with periodic pings.
func (c *Client) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.teardown(s, errors.New("write loop exited"))
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// teardown closes one session exactly once and emits the disconnect
// event. The session is detached only if it is still the active one.
func (c *Client) teardown(s *session, reason error) {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()

		c.mu.Lock()
		if c.active == s {
			c.active = nil
		}
		c.mu.Unlock()

		c.logger.Info("disconnected", slog.Any("reason", reason))
		c.dispatch(EventDisconnect, nil)
	})
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	h := c.handlers[event]
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug("unhandled event", slog.String("event", event))
		return
	}
	h(data)
}

func errPayload(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	return data
}
