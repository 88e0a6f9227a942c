// Package session persists the one local session record: userId,
// username and token. The mobile original kept this in device storage
// under a fixed key; here it is a JSON file under the configured path.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-chat-client/internal/chat"
)

// GuestToken marks a client-generated guest identity. It is opaque to
// the server and never expires.
const GuestToken = "guest-token"

type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With(slog.String("component", "session")),
	}
}

// Save writes the session record, creating parent directories as needed.
func (s *Store) Save(u chat.User) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("session: create dir: %w", err)
	}
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", s.path, err)
	}
	return nil
}

// Load reads the persisted session. A missing, corrupted, incomplete or
// expired record is treated as absent: the file is removed and the
// caller goes back to login rather than crashing startup.
func (s *Store) Load() (chat.User, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("unreadable session file", slog.Any("error", err))
			s.Clear()
		}
		return chat.User{}, false
	}

	var u chat.User
	if err := json.Unmarshal(data, &u); err != nil || u.UserID == "" || u.Username == "" || u.Token == "" {
		s.logger.Warn("discarding corrupted session record")
		s.Clear()
		return chat.User{}, false
	}

	if tokenExpired(u.Token) {
		s.logger.Info("discarding expired session token", slog.String("username", u.Username))
		s.Clear()
		return chat.User{}, false
	}
	return u, true
}

// Clear removes the session record.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove %s: %w", s.path, err)
	}
	return nil
}

// tokenExpired decodes a JWT session token without verifying it (the
// signing secret lives server-side) just to read its expiry. Tokens that
// do not parse as JWTs, guest tokens included, are treated as opaque and
// kept.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(time.Now())
}

// NewGuest builds a client-generated guest identity, the same shape the
// original guest entry produced: a random Guest<N> name and a fresh uuid.
func NewGuest() chat.User {
	return chat.User{
		UserID:   uuid.NewString(),
		Username: fmt.Sprintf("Guest%d", rand.Intn(100000)),
		Token:    GuestToken,
	}
}
