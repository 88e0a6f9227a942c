package chat

import "time"

// ---------------------------------------------
// REST & storage models
// ---------------------------------------------

// User is the authenticated (or guest) identity, as returned by the auth
// API and persisted between runs.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

type Room struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"_id"`
	RoomID    string    `json:"roomId"`
	Body      string    `json:"message"`
	Username  string    `json:"username"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// OnlineUser is one entry of the presence set. SocketID is whatever
// transport-session id the server chooses to expose, if any.
type OnlineUser struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
	SocketID string `json:"socketId,omitempty"`
}

// Status of the live connection, driving UI affordances.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ---------------------------------------------
// Realtime event models
// ---------------------------------------------

// Named channel events exchanged over the persistent connection.
const (
	EventJoinRoom    = "join-room"
	EventChatMessage = "chat-message"
	EventOnlineUsers = "online-users"
	EventTyping      = "typing"
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
)

// JoinPayload is sent when entering a room.
type JoinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// MessagePayload is the outbound shape of a chat message. The server
// assigns the id and timestamp and echoes the full Message back.
type MessagePayload struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// TypingEvent is the server's view of who is composing in the room.
type TypingEvent struct {
	TypingUsers []string `json:"typingUsers"`
}

type UserEvent struct {
	Username string `json:"username"`
}
