// Package chattest is an in-memory chat server implementing the REST and
// realtime contract the client speaks. The test suite runs against it
// instead of a live deployment; nothing is persisted.
package chattest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go-chat-client/internal/chat"
)

type credential struct {
	userID string
	hash   []byte
}

type Server struct {
	logger *slog.Logger
	secret []byte
	hub    *hub
	http   *httptest.Server

	mu       sync.Mutex
	users    map[string]credential
	rooms    []chat.Room
	messages map[string][]chat.Message
}

func New(logger *slog.Logger) *Server {
	s := &Server{
		logger:   logger.With(slog.String("component", "chattest")),
		secret:   []byte("chattest-secret"),
		users:    make(map[string]credential),
		messages: make(map[string][]chat.Message),
	}
	s.hub = newHub(s)

	r := chi.NewRouter()
	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/rooms", s.handleListRooms)
	r.Post("/api/rooms", s.handleCreateRoom)
	r.Get("/api/messages/{roomID}", s.handleRoomMessages)
	r.Get("/socket", s.hub.serveWs)

	s.http = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.hub.closeAll()
	s.http.Close()
}

// BaseURL is the http root for the REST client.
func (s *Server) BaseURL() string {
	return s.http.URL
}

// SocketURL is the websocket endpoint for the transport client.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/socket"
}

// AddRoom seeds a room without going through the API.
func (s *Server) AddRoom(name string) chat.Room {
	room := chat.Room{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()
	return room
}

// AddMessage seeds stored history for a room.
func (s *Server) AddMessage(roomID, username, userID, body string) chat.Message {
	msg := chat.Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Body:      body,
		Username:  username,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
	s.mu.Lock()
	s.messages[roomID] = append(s.messages[roomID], msg)
	s.mu.Unlock()
	return msg
}

// ---------------------------------------------
// REST handlers
// ---------------------------------------------

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing failed")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "username already taken")
		return
	}
	cred := credential{userID: uuid.NewString(), hash: hash}
	s.users[req.Username] = cred
	s.mu.Unlock()

	token, err := s.mintToken(cred.userID, req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	writeJSON(w, http.StatusCreated, chat.User{UserID: cred.userID, Username: req.Username, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	cred, exists := s.users[req.Username]
	s.mu.Unlock()
	if !exists || bcrypt.CompareHashAndPassword(cred.hash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.mintToken(cred.userID, req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}
	writeJSON(w, http.StatusOK, chat.User{UserID: cred.userID, Username: req.Username, Token: token})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rooms := append([]chat.Room{}, s.rooms...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, rooms)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "room name is required")
		return
	}

	s.mu.Lock()
	for _, room := range s.rooms {
		if room.Name == name {
			s.mu.Unlock()
			writeError(w, http.StatusBadRequest, "room already exists")
			return
		}
	}
	room := chat.Room{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	s.rooms = append(s.rooms, room)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	s.mu.Lock()
	msgs := append([]chat.Message{}, s.messages[roomID]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, msgs)
}

type serverClaims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *Server) mintToken(userID, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, serverClaims{
		ID:       userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chattest",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	return token.SignedString(s.secret)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
