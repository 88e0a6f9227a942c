package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultTypingDebounce is the inactivity window after the last
	// keystroke before a typing-stop is emitted.
	DefaultTypingDebounce = 2 * time.Second

	maxRoomNameLen = 30
)

// Transport is the persistent-connection handle the controller drives.
// Satisfied by *transport.Client; tests inject their own.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Emit(event string, payload any) error
	Subscribe(event string, h func(data json.RawMessage))
	Unsubscribe(event string)
	Connected() bool
}

// RoomService is the slice of the REST API the controller needs.
// Satisfied by *api.Client.
type RoomService interface {
	ListRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, name string) (Room, error)
	RoomMessages(ctx context.Context, roomID string) ([]Message, error)
}

// SessionStore clears the persisted session record on logout.
type SessionStore interface {
	Clear() error
}

// Events are the controller's notifications to the presentation layer.
// Every field is optional. Callbacks run on whichever goroutine produced
// the change, including the transport read loop; keep them quick and do
// not block in them.
type Events struct {
	Status   func(Status)
	Rooms    func([]Room)
	History  func([]Message) // buffer replaced wholesale
	Message  func(Message)   // one message appended
	Presence func([]OnlineUser)
	Typing   func([]string)
	Alert    func(title, message string)
}

// Config wires a Controller together. Transport and RoomService are
// required; the rest is optional.
type Config struct {
	User           User
	Transport      Transport
	Rooms          RoomService
	Sessions       SessionStore
	Events         Events
	Logger         *slog.Logger
	TypingDebounce time.Duration
}

// Controller mediates all live-session state: connection status, room
// list, active room, message buffer, presence set and typing set. It is
// the single consumer of inbound transport events, so state updates are
// applied in delivery order.
type Controller struct {
	user     User
	tr       Transport
	rooms    RoomService
	sessions SessionStore
	events   Events
	logger   *slog.Logger
	debounce time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     Status
	roomList   []Room
	active     *Room
	messages   []Message
	online     []OnlineUser
	typing     []string
	historyGen uint64 // bumped on every room switch; stale fetches are discarded

	typingTimer *time.Timer
	typingGen   uint64 // guards against a stopped timer firing anyway
}

func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.TypingDebounce
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		user:     cfg.User,
		tr:       cfg.Transport,
		rooms:    cfg.Rooms,
		sessions: cfg.Sessions,
		events:   cfg.Events,
		logger:   logger.With(slog.String("component", "session")),
		debounce: debounce,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusConnecting,
	}
	c.subscribe()
	return c
}

// subscribedEvents is everything the controller listens for; teardown
// removes exactly this set.
var subscribedEvents = []string{
	"connect", "disconnect", "connect_error",
	EventChatMessage, EventOnlineUsers, EventTyping,
	EventUserJoined, EventUserLeft,
}

func (c *Controller) subscribe() {
	c.tr.Subscribe("connect", c.onConnect)
	c.tr.Subscribe("disconnect", c.onDisconnect)
	c.tr.Subscribe("connect_error", c.onConnectError)
	c.tr.Subscribe(EventChatMessage, c.onChatMessage)
	c.tr.Subscribe(EventOnlineUsers, c.onOnlineUsers)
	c.tr.Subscribe(EventTyping, c.onTyping)
	c.tr.Subscribe(EventUserJoined, c.onUserJoined)
	c.tr.Subscribe(EventUserLeft, c.onUserLeft)
}

// Connect establishes the live connection. Idempotent: with a connection
// already up it does nothing. No room is joined until JoinRoom.
func (c *Controller) Connect(ctx context.Context) error {
	if c.tr.Connected() {
		return nil
	}
	c.setStatus(StatusConnecting)
	return c.tr.Connect(ctx)
}

// LoadRooms fetches the room list. If no room is active yet, the first
// listed room is joined automatically.
func (c *Controller) LoadRooms(ctx context.Context) error {
	rooms, err := c.rooms.ListRooms(ctx)
	if err != nil {
		c.alert("Error", fmt.Sprintf("Failed to load chat rooms: %v", err))
		return err
	}

	c.mu.Lock()
	c.roomList = rooms
	noActive := c.active == nil
	c.mu.Unlock()
	c.notifyRooms(rooms)

	if noActive && len(rooms) > 0 {
		return c.JoinRoom(rooms[0])
	}
	return nil
}

// JoinRoom makes the room active. Joining the already-active room is a
// no-op that leaves buffer, presence and typing sets untouched. A real
// switch resets all three, announces the join, then fetches history in
// the background; the buffer is replaced when the fetch lands, unless a
// later switch has superseded it.
func (c *Controller) JoinRoom(room Room) error {
	if !c.tr.Connected() {
		c.alert("Connection Status", "Not connected to chat server. Please wait or check connection.")
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == room.ID {
		c.mu.Unlock()
		return nil
	}
	r := room
	c.active = &r
	c.messages = nil
	c.online = nil
	c.typing = nil
	c.cancelTypingLocked()
	c.historyGen++
	gen := c.historyGen
	c.mu.Unlock()

	c.notifyHistory(nil)
	c.notifyPresence(nil)
	c.notifyTyping(nil)

	if err := c.tr.Emit(EventJoinRoom, JoinPayload{
		RoomID:   room.ID,
		Username: c.user.Username,
		UserID:   c.user.UserID,
	}); err != nil {
		c.logger.Error("join emit failed", slog.String("room", room.Name), slog.Any("error", err))
	}

	go c.loadHistory(room, gen)
	return nil
}

func (c *Controller) loadHistory(room Room, gen uint64) {
	msgs, err := c.rooms.RoomMessages(c.ctx, room.ID)
	if err != nil {
		c.alert("Error", fmt.Sprintf("Failed to load messages for room %s: %v", room.Name, err))
		return
	}

	c.mu.Lock()
	if gen != c.historyGen {
		// A later switch owns the buffer now.
		c.mu.Unlock()
		c.logger.Debug("discarding stale history", slog.String("room", room.Name))
		return
	}
	c.messages = msgs
	c.mu.Unlock()
	c.notifyHistory(msgs)
}

// SendMessage emits the trimmed text to the active room. The local echo
// is not appended here: the appended copy arrives back over the
// transport, keeping the server the single source of message order.
func (c *Controller) SendMessage(text string) error {
	if !c.tr.Connected() {
		c.alert("Error", "Cannot send message. Not connected or no room selected.")
		return ErrNotConnected
	}
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		c.alert("Error", "Cannot send message. Not connected or no room selected.")
		return ErrNoRoom
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ValidationError{Field: "message", Reason: "empty after trimming"}
	}

	// Sending counts as an explicit typing stop.
	c.stopTypingIfArmed(active.ID)

	return c.tr.Emit(EventChatMessage, MessagePayload{
		RoomID:   active.ID,
		Message:  trimmed,
		Username: c.user.Username,
		UserID:   c.user.UserID,
	})
}

// SetTyping reports composing activity. The first keystroke emits a
// typing-start and arms the inactivity timer; further keystrokes re-arm
// it; expiry or an explicit stop emits exactly one typing-stop. At most
// one timer is armed at a time.
func (c *Controller) SetTyping(isTyping bool) {
	if !c.tr.Connected() {
		return
	}
	c.mu.Lock()
	active := c.active
	if active == nil {
		c.mu.Unlock()
		return
	}
	roomID := active.ID

	if !isTyping {
		armed := c.typingTimer != nil
		c.cancelTypingLocked()
		c.mu.Unlock()
		if armed {
			c.emitTyping(roomID, false)
		}
		return
	}

	starting := c.typingTimer == nil
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.typingTimer = time.AfterFunc(c.debounce, func() { c.typingExpired(gen, roomID) })
	c.mu.Unlock()

	if starting {
		c.emitTyping(roomID, true)
	}
}

func (c *Controller) typingExpired(gen uint64, roomID string) {
	c.mu.Lock()
	if gen != c.typingGen {
		// Re-armed or cancelled after this timer fired; its stop is void.
		c.mu.Unlock()
		return
	}
	c.typingTimer = nil
	c.mu.Unlock()
	c.emitTyping(roomID, false)
}

// stopTypingIfArmed cancels the debounce timer and emits the stop, but
// only when a typing window is actually open.
func (c *Controller) stopTypingIfArmed(roomID string) {
	c.mu.Lock()
	armed := c.typingTimer != nil
	c.cancelTypingLocked()
	c.mu.Unlock()
	if armed {
		c.emitTyping(roomID, false)
	}
}

// cancelTypingLocked must be called with c.mu held.
func (c *Controller) cancelTypingLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
}

func (c *Controller) emitTyping(roomID string, isTyping bool) {
	err := c.tr.Emit(EventTyping, TypingPayload{
		RoomID:   roomID,
		Username: c.user.Username,
		IsTyping: isTyping,
	})
	if err != nil {
		c.logger.Debug("typing emit failed", slog.Any("error", err))
	}
}

// CreateRoom validates the name (1 to 30 characters after trimming),
// creates the room, appends it to the list and joins it.
func (c *Controller) CreateRoom(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ValidationError{Field: "room name", Reason: "empty after trimming"}
	}
	if utf8.RuneCountInString(name) > maxRoomNameLen {
		return &ValidationError{Field: "room name", Reason: fmt.Sprintf("longer than %d characters", maxRoomNameLen)}
	}

	room, err := c.rooms.CreateRoom(ctx, name)
	if err != nil {
		c.alert("Error", fmt.Sprintf("Failed to create room: %v", err))
		return err
	}

	c.mu.Lock()
	c.roomList = append(c.roomList, room)
	rooms := append([]Room(nil), c.roomList...)
	c.mu.Unlock()
	c.notifyRooms(rooms)

	return c.JoinRoom(room)
}

// Logout clears session state and the persisted session record. The
// transport is left to its normal lifecycle; call Close to tear it down.
func (c *Controller) Logout() error {
	c.mu.Lock()
	c.active = nil
	c.roomList = nil
	c.messages = nil
	c.online = nil
	c.typing = nil
	c.cancelTypingLocked()
	c.historyGen++
	c.mu.Unlock()

	if c.sessions != nil {
		if err := c.sessions.Clear(); err != nil {
			return fmt.Errorf("chat: clear session: %w", err)
		}
	}
	return nil
}

// Close removes every event subscription and closes the connection. No
// listener survives it.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	c.cancelTypingLocked()
	c.mu.Unlock()

	for _, event := range subscribedEvents {
		c.tr.Unsubscribe(event)
	}
	c.tr.Disconnect()
}

// ---------------------------------------------
// Inbound events
// ---------------------------------------------

func (c *Controller) onConnect(json.RawMessage) {
	c.setStatus(StatusConnected)

	// Recover server-side room membership after a reconnect.
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if active == nil {
		return
	}
	if err := c.tr.Emit(EventJoinRoom, JoinPayload{
		RoomID:   active.ID,
		Username: c.user.Username,
		UserID:   c.user.UserID,
	}); err != nil {
		c.logger.Error("rejoin emit failed", slog.Any("error", err))
	}
}

func (c *Controller) onDisconnect(json.RawMessage) {
	c.setStatus(StatusDisconnected)
}

func (c *Controller) onConnectError(data json.RawMessage) {
	c.setStatus(StatusDisconnected)
	var payload struct {
		Message string `json:"message"`
	}
	json.Unmarshal(data, &payload)
	c.logger.Error("connection error", slog.String("message", payload.Message))
	c.alert("Connection Error", "Could not connect to the chat server. Please check your network or server status.")
}

func (c *Controller) onChatMessage(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("bad chat-message payload", slog.Any("error", err))
		return
	}
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	if c.events.Message != nil {
		c.events.Message(msg)
	}
}

func (c *Controller) onOnlineUsers(data json.RawMessage) {
	var users []OnlineUser
	if err := json.Unmarshal(data, &users); err != nil {
		c.logger.Warn("bad online-users payload", slog.Any("error", err))
		return
	}
	// Entire set replaced each broadcast, never merged.
	c.mu.Lock()
	c.online = users
	c.mu.Unlock()
	c.notifyPresence(users)
}

func (c *Controller) onTyping(data json.RawMessage) {
	var payload TypingEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("bad typing payload", slog.Any("error", err))
		return
	}
	// A client never sees itself in its own typing indicator.
	filtered := make([]string, 0, len(payload.TypingUsers))
	for _, name := range payload.TypingUsers {
		if name != c.user.Username {
			filtered = append(filtered, name)
		}
	}
	c.mu.Lock()
	c.typing = filtered
	c.mu.Unlock()
	c.notifyTyping(filtered)
}

func (c *Controller) onUserJoined(data json.RawMessage) {
	var payload UserEvent
	if json.Unmarshal(data, &payload) == nil {
		c.logger.Info("user joined", slog.String("username", payload.Username))
	}
}

func (c *Controller) onUserLeft(data json.RawMessage) {
	var payload UserEvent
	if json.Unmarshal(data, &payload) == nil {
		c.logger.Info("user left", slog.String("username", payload.Username))
	}
}

// ---------------------------------------------
// Snapshots
// ---------------------------------------------

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Rooms() []Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Room(nil), c.roomList...)
}

// ActiveRoom returns the current room, if one is set.
func (c *Controller) ActiveRoom() (Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Room{}, false
	}
	return *c.active, true
}

func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Controller) OnlineUsers() []OnlineUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]OnlineUser(nil), c.online...)
}

func (c *Controller) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.typing...)
}

// ---------------------------------------------
// Notifications
// ---------------------------------------------

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	if c.events.Status != nil {
		c.events.Status(s)
	}
}

func (c *Controller) notifyRooms(rooms []Room) {
	if c.events.Rooms != nil {
		c.events.Rooms(rooms)
	}
}

func (c *Controller) notifyHistory(msgs []Message) {
	if c.events.History != nil {
		c.events.History(msgs)
	}
}

func (c *Controller) notifyPresence(users []OnlineUser) {
	if c.events.Presence != nil {
		c.events.Presence(users)
	}
}

func (c *Controller) notifyTyping(users []string) {
	if c.events.Typing != nil {
		c.events.Typing(users)
	}
}

func (c *Controller) alert(title, message string) {
	if c.events.Alert != nil {
		c.events.Alert(title, message)
		return
	}
	c.logger.Warn("alert", slog.String("title", title), slog.String("message", message))
}
