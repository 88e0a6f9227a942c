package session_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat-client/internal/chat"
	"go-chat-client/internal/session"
)

func newStore(t *testing.T) (*session.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return session.NewStore(path, logger), path
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestSaveAndLoad(t *testing.T) {
	store, _ := newStore(t)
	user := chat.User{
		UserID:   "u1",
		Username: "alice",
		Token:    signedToken(t, time.Now().Add(time.Hour)),
	}

	require.NoError(t, store.Save(user))
	got, ok := store.Load()
	require.True(t, ok)
	assert.Equal(t, user, got)
}

func TestLoadMissingFile(t *testing.T) {
	store, _ := newStore(t)
	_, ok := store.Load()
	assert.False(t, ok)
}

func TestCorruptedRecordTreatedAsAbsent(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, ok := store.Load()
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupted record is cleared")
}

func TestIncompleteRecordTreatedAsAbsent(t *testing.T) {
	store, path := newStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"alice"}`), 0o600))

	_, ok := store.Load()
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExpiredTokenTreatedAsAbsent(t *testing.T) {
	store, path := newStore(t)
	user := chat.User{
		UserID:   "u1",
		Username: "alice",
		Token:    signedToken(t, time.Now().Add(-time.Hour)),
	}
	require.NoError(t, store.Save(user))

	_, ok := store.Load()
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestGuestTokenIsOpaque(t *testing.T) {
	store, _ := newStore(t)
	guest := session.NewGuest()
	require.NoError(t, store.Save(guest))

	got, ok := store.Load()
	require.True(t, ok, "opaque tokens never expire client-side")
	assert.Equal(t, guest, got)
}

func TestClear(t *testing.T) {
	store, _ := newStore(t)
	require.NoError(t, store.Save(chat.User{UserID: "u1", Username: "alice", Token: "t"}))

	require.NoError(t, store.Clear())
	_, ok := store.Load()
	assert.False(t, ok)
	require.NoError(t, store.Clear(), "clearing twice is fine")
}

func TestNewGuest(t *testing.T) {
	guest := session.NewGuest()
	assert.True(t, strings.HasPrefix(guest.Username, "Guest"))
	assert.Equal(t, session.GuestToken, guest.Token)
	_, err := uuid.Parse(guest.UserID)
	assert.NoError(t, err, "guest ids are client-generated uuids")

	other := session.NewGuest()
	assert.NotEqual(t, guest.UserID, other.UserID)
}
