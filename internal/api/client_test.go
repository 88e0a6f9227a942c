package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat-client/internal/api"
	"go-chat-client/internal/chat"
)

func newServer(t *testing.T, configure func(r chi.Router)) *api.Client {
	t.Helper()
	r := chi.NewRouter()
	configure(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL, 5*time.Second)
}

func TestLogin(t *testing.T) {
	client := newServer(t, func(r chi.Router) {
		r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Username string `json:"username"`
				Password string `json:"password"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "alice", req.Username)
			assert.Equal(t, "pw", req.Password)
			json.NewEncoder(w).Encode(chat.User{UserID: "u1", Username: "alice", Token: "t1"})
		})
	})

	user, err := client.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, chat.User{UserID: "u1", Username: "alice", Token: "t1"}, user)
}

func TestLoginServerError(t *testing.T) {
	client := newServer(t, func(r chi.Router) {
		r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
		})
	})

	_, err := client.Login(context.Background(), "alice", "wrong")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid credentials", apiErr.Message)
}

func TestRegisterFallbackMessage(t *testing.T) {
	client := newServer(t, func(r chi.Router) {
		r.Post("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
			// No error body at all: the generic fallback applies.
			w.WriteHeader(http.StatusInternalServerError)
		})
	})

	_, err := client.Register(context.Background(), "alice", "pw")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Registration failed", apiErr.Message)
}

func TestListRooms(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := newServer(t, func(r chi.Router) {
		r.Get("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]chat.Room{
				{ID: "r1", Name: "general", CreatedAt: created},
			})
		})
	})

	rooms, err := client.ListRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)
	assert.True(t, rooms[0].CreatedAt.Equal(created))
}

func TestCreateRoom(t *testing.T) {
	client := newServer(t, func(r chi.Router) {
		r.Post("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name string `json:"name"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(chat.Room{ID: "r2", Name: req.Name})
		})
	})

	room, err := client.CreateRoom(context.Background(), "lounge")
	require.NoError(t, err)
	assert.Equal(t, "r2", room.ID)
	assert.Equal(t, "lounge", room.Name)
}

func TestRoomMessagesPreservesOrder(t *testing.T) {
	client := newServer(t, func(r chi.Router) {
		r.Get("/api/messages/{roomID}", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "r1", chi.URLParam(r, "roomID"))
			json.NewEncoder(w).Encode([]chat.Message{
				{ID: "m2", RoomID: "r1", Body: "second"},
				{ID: "m1", RoomID: "r1", Body: "first"},
			})
		})
	})

	msgs, err := client.RoomMessages(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// Server ordering is authoritative; no client-side sort.
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "m1", msgs[1].ID)
}

func TestNetworkFailure(t *testing.T) {
	client := api.NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	_, err := client.ListRooms(context.Background())
	require.Error(t, err)
	var apiErr *api.Error
	assert.False(t, errors.As(err, &apiErr), "transport failures are not api errors")
}
