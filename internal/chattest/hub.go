package chattest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go-chat-client/internal/chat"
	"go-chat-client/internal/transport"
)

// hub routes realtime events between connected sockets. It is a
// single-process stand-in for the production fan-out: room membership,
// presence lists and typing sets live in memory.
type hub struct {
	srv      *Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]bool
	typing  map[string]map[string]bool // roomID -> usernames composing
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once

	// Set by join-room; guarded by hub.mu.
	roomID   string
	username string
	userID   string
}

func newHub(srv *Server) *hub {
	return &hub{
		srv: srv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]bool),
		typing:  make(map[string]map[string]bool),
	}
}

func (h *hub) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.srv.logger.Error("upgrade failed", slog.Any("error", err))
		return
	}
	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()
	h.readLoop(c)
}

func (h *hub) readLoop(c *wsClient) {
	defer h.drop(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Event {
		case chat.EventJoinRoom:
			var p chat.JoinPayload
			if json.Unmarshal(env.Data, &p) == nil {
				h.join(c, p)
			}
		case chat.EventChatMessage:
			var p chat.MessagePayload
			if json.Unmarshal(env.Data, &p) == nil {
				h.chat(p)
			}
		case chat.EventTyping:
			var p chat.TypingPayload
			if json.Unmarshal(env.Data, &p) == nil {
				h.setTyping(p)
			}
		}
	}
}

func (c *wsClient) writePump() {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *hub) join(c *wsClient, p chat.JoinPayload) {
	h.mu.Lock()
	old := c.roomID
	if old != "" {
		delete(h.typing[old], c.username)
	}
	c.roomID = p.RoomID
	c.username = p.Username
	c.userID = p.UserID
	h.mu.Unlock()

	if old != "" && old != p.RoomID {
		h.broadcast(old, chat.EventUserLeft, chat.UserEvent{Username: p.Username})
		h.broadcast(old, chat.EventOnlineUsers, h.onlineUsers(old))
		h.broadcast(old, chat.EventTyping, h.typingEvent(old))
	}

	h.broadcast(p.RoomID, chat.EventUserJoined, chat.UserEvent{Username: p.Username})
	h.broadcast(p.RoomID, chat.EventOnlineUsers, h.onlineUsers(p.RoomID))
}

// chat stores the message and echoes the full record to everyone in the
// room, sender included.
func (h *hub) chat(p chat.MessagePayload) {
	msg := h.srv.AddMessage(p.RoomID, p.Username, p.UserID, p.Message)
	h.broadcast(p.RoomID, chat.EventChatMessage, msg)
}

// setTyping updates the room's typing set and rebroadcasts the whole
// list, the sender included. Filtering out the local user is the
// client's job.
func (h *hub) setTyping(p chat.TypingPayload) {
	h.mu.Lock()
	set := h.typing[p.RoomID]
	if set == nil {
		set = make(map[string]bool)
		h.typing[p.RoomID] = set
	}
	if p.IsTyping {
		set[p.Username] = true
	} else {
		delete(set, p.Username)
	}
	h.mu.Unlock()

	h.broadcast(p.RoomID, chat.EventTyping, h.typingEvent(p.RoomID))
}

func (h *hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	roomID, username := c.roomID, c.username
	if roomID != "" {
		delete(h.typing[roomID], username)
	}
	h.mu.Unlock()

	c.close()
	if roomID != "" {
		h.broadcast(roomID, chat.EventUserLeft, chat.UserEvent{Username: username})
		h.broadcast(roomID, chat.EventOnlineUsers, h.onlineUsers(roomID))
		h.broadcast(roomID, chat.EventTyping, h.typingEvent(roomID))
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

func (h *hub) closeAll() {
	h.mu.Lock()
	var all []*wsClient
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
}

func (h *hub) broadcast(roomID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(transport.Envelope{Event: event, Data: data})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.roomID != roomID {
			continue
		}
		select {
		case c.send <- frame:
		default:
			// Slow consumer; a test client that stopped reading.
		}
	}
}

func (h *hub) onlineUsers(roomID string) []chat.OnlineUser {
	h.mu.Lock()
	defer h.mu.Unlock()
	users := []chat.OnlineUser{}
	for c := range h.clients {
		if c.roomID == roomID {
			users = append(users, chat.OnlineUser{
				Username: c.username,
				UserID:   c.userID,
				SocketID: c.id,
			})
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (h *hub) typingEvent(roomID string) chat.TypingEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := []string{}
	for name := range h.typing[roomID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return chat.TypingEvent{TypingUsers: names}
}
