// Package api holds the stateless REST helpers: auth, room listing and
// creation, and message history. One request/response cycle per call, no
// retries, no caching.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-chat-client/internal/chat"
)

// Error carries a non-success HTTP response: the status code and the
// server-provided message when there is one, a generic fallback otherwise.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Register(ctx context.Context, username, password string) (chat.User, error) {
	var u chat.User
	err := c.postJSON(ctx, "/api/auth/register", credentials{username, password}, &u, "Registration failed")
	return u, err
}

func (c *Client) Login(ctx context.Context, username, password string) (chat.User, error) {
	var u chat.User
	err := c.postJSON(ctx, "/api/auth/login", credentials{username, password}, &u, "Login failed")
	return u, err
}

func (c *Client) ListRooms(ctx context.Context) ([]chat.Room, error) {
	var rooms []chat.Room
	err := c.getJSON(ctx, "/api/rooms", &rooms, "Failed to fetch rooms")
	return rooms, err
}

func (c *Client) CreateRoom(ctx context.Context, name string) (chat.Room, error) {
	var room chat.Room
	err := c.postJSON(ctx, "/api/rooms", map[string]string{"name": name}, &room, "Failed to create room")
	return room, err
}

func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := c.getJSON(ctx, "/api/messages/"+url.PathEscape(roomID), &msgs, "Failed to fetch messages")
	return msgs, err
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any, fallback string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("api: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out, fallback)
}

func (c *Client) getJSON(ctx context.Context, path string, out any, fallback string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("api: build %s request: %w", path, err)
	}
	return c.do(req, out, fallback)
}

func (c *Client) do(req *http.Request, out any, fallback string) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: serverMessage(resp.Body, fallback)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// serverMessage extracts {"error": "..."} from a failure body.
func serverMessage(body io.Reader, fallback string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fallback
}
