package chat_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat-client/internal/api"
	"go-chat-client/internal/chat"
	"go-chat-client/internal/chattest"
	"go-chat-client/internal/transport"
)

// These tests run the real REST and transport clients against the
// in-memory chattest server instead of fakes.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEndToEndSession(t *testing.T) {
	logger := quietLogger()
	srv := chattest.New(logger)
	t.Cleanup(srv.Close)

	apiClient := api.NewClient(srv.BaseURL(), 5*time.Second)
	ctx := context.Background()

	// Register, then log in with the same credentials.
	registered, err := apiClient.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", registered.Username)
	assert.NotEmpty(t, registered.UserID)
	assert.NotEmpty(t, registered.Token)

	user, err := apiClient.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, registered.UserID, user.UserID)

	_, err = apiClient.Login(ctx, "alice", "nope")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid credentials", apiErr.Message)

	// Seed a room with history.
	general := srv.AddRoom("general")
	srv.AddMessage(general.ID, "bob", "u2", "welcome")

	ctrl := chat.NewController(chat.Config{
		User:      user,
		Transport: transport.NewClient(srv.SocketURL(), logger),
		Rooms:     apiClient,
		Logger:    logger,
	})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Connect(ctx))
	require.NoError(t, ctrl.LoadRooms(ctx))

	// The first listed room is joined and its history fetched.
	active, ok := ctrl.ActiveRoom()
	require.True(t, ok)
	assert.Equal(t, general.ID, active.ID)
	require.Eventually(t, func() bool {
		msgs := ctrl.Messages()
		return len(msgs) == 1 && msgs[0].Body == "welcome"
	}, 5*time.Second, 10*time.Millisecond)

	// Sending appends nothing locally; the server echo does.
	require.NoError(t, ctrl.SendMessage("  hello "))
	require.Eventually(t, func() bool {
		msgs := ctrl.Messages()
		return len(msgs) == 2 && msgs[1].Body == "hello" && msgs[1].Username == "alice"
	}, 5*time.Second, 10*time.Millisecond)

	// A second participant shows up in presence and typing, self stays
	// excluded from the typing list.
	bob := transport.NewClient(srv.SocketURL(), logger)
	require.NoError(t, bob.Connect(ctx))
	t.Cleanup(bob.Disconnect)
	require.NoError(t, bob.Emit(chat.EventJoinRoom, chat.JoinPayload{
		RoomID: general.ID, Username: "bob", UserID: "u2",
	}))

	require.Eventually(t, func() bool {
		return len(ctrl.OnlineUsers()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	ctrl.SetTyping(true)
	require.NoError(t, bob.Emit(chat.EventTyping, chat.TypingPayload{
		RoomID: general.ID, Username: "bob", IsTyping: true,
	}))
	require.Eventually(t, func() bool {
		typing := ctrl.TypingUsers()
		return len(typing) == 1 && typing[0] == "bob"
	}, 5*time.Second, 10*time.Millisecond)

	// Bob leaves; presence shrinks back.
	bob.Disconnect()
	require.Eventually(t, func() bool {
		return len(ctrl.OnlineUsers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEndToEndCreateRoom(t *testing.T) {
	logger := quietLogger()
	srv := chattest.New(logger)
	t.Cleanup(srv.Close)

	apiClient := api.NewClient(srv.BaseURL(), 5*time.Second)
	ctx := context.Background()

	user, err := apiClient.Register(ctx, "carol", "pw")
	require.NoError(t, err)

	ctrl := chat.NewController(chat.Config{
		User:      user,
		Transport: transport.NewClient(srv.SocketURL(), logger),
		Rooms:     apiClient,
		Logger:    logger,
	})
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Connect(ctx))
	require.NoError(t, ctrl.CreateRoom(ctx, "lounge"))

	active, ok := ctrl.ActiveRoom()
	require.True(t, ok)
	assert.Equal(t, "lounge", active.Name)

	// Duplicate name is rejected server-side with its own message.
	err = ctrl.CreateRoom(ctx, "lounge")
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "room already exists", apiErr.Message)

	rooms, err := apiClient.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
}
