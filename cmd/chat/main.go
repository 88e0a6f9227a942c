package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"go-chat-client/internal/api"
	"go-chat-client/internal/chat"
	"go-chat-client/internal/config"
	"go-chat-client/internal/session"
	"go-chat-client/internal/transport"
)

func main() {
	configName := flag.String("config", "chat", "config file name (without extension)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(logger, *configName)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()}))

	socketURL, err := cfg.SocketURL()
	if err != nil {
		log.Fatalf("❌ Bad server config: %v", err)
	}

	ctx := context.Background()
	stdin := bufio.NewScanner(os.Stdin)
	apiClient := api.NewClient(cfg.Server.BaseURL, cfg.HTTP.Timeout)
	store := session.NewStore(cfg.Session.Path, logger)

	user, ok := store.Load()
	if !ok {
		user, err = signIn(ctx, stdin, apiClient, store)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
	}
	fmt.Printf("✅ Signed in as %s\n", user.Username)

	tr := transport.NewClient(socketURL, logger)
	ctrl := chat.NewController(chat.Config{
		User:      user,
		Transport: tr,
		Rooms:     apiClient,
		Sessions:  store,
		Logger:    logger,
		Events: chat.Events{
			Status: func(s chat.Status) {
				fmt.Printf("-- %s --\n", s)
			},
			Message: func(m chat.Message) {
				fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.Username, m.Body)
			},
			History: func(msgs []chat.Message) {
				for _, m := range msgs {
					fmt.Printf("[%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.Username, m.Body)
				}
			},
			Typing: func(users []string) {
				if len(users) > 0 {
					fmt.Printf("… %s typing\n", strings.Join(users, ", "))
				}
			},
			Alert: func(title, message string) {
				fmt.Printf("!! %s: %s\n", title, message)
			},
		},
		TypingDebounce: cfg.Typing.Debounce,
	})
	defer ctrl.Close()

	if err := ctrl.Connect(ctx); err != nil {
		log.Fatalf("❌ Could not connect: %v", err)
	}
	if err := ctrl.LoadRooms(ctx); err != nil {
		logger.Error("room list unavailable", slog.Any("error", err))
	}

	fmt.Println("🚀 Connected. /rooms /join <name> /create <name> /who /logout /quit")
	runLoop(ctx, stdin, ctrl)
}

// signIn walks the login/register/guest flow on stdin and persists the
// resulting session.
func signIn(ctx context.Context, stdin *bufio.Scanner, apiClient *api.Client, store *session.Store) (chat.User, error) {
	fmt.Print("login, register or guest? ")
	if !stdin.Scan() {
		return chat.User{}, fmt.Errorf("no input")
	}
	mode := strings.TrimSpace(stdin.Text())

	var user chat.User
	if mode == "guest" {
		user = session.NewGuest()
	} else {
		fmt.Print("username: ")
		if !stdin.Scan() {
			return chat.User{}, fmt.Errorf("no input")
		}
		username := strings.TrimSpace(stdin.Text())
		fmt.Print("password: ")
		if !stdin.Scan() {
			return chat.User{}, fmt.Errorf("no input")
		}
		password := stdin.Text()

		var err error
		if mode == "register" {
			user, err = apiClient.Register(ctx, username, password)
		} else {
			user, err = apiClient.Login(ctx, username, password)
		}
		if err != nil {
			return chat.User{}, fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := store.Save(user); err != nil {
		return chat.User{}, err
	}
	return user, nil
}

func runLoop(ctx context.Context, stdin *bufio.Scanner, ctrl *chat.Controller) {
	for stdin.Scan() {
		line := stdin.Text()
		switch {
		case line == "/quit":
			return
		case line == "/logout":
			if err := ctrl.Logout(); err != nil {
				fmt.Printf("!! logout: %v\n", err)
			}
			return
		case line == "/rooms":
			for _, r := range ctrl.Rooms() {
				marker := " "
				if active, ok := ctrl.ActiveRoom(); ok && active.ID == r.ID {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, r.Name)
			}
		case line == "/who":
			for _, u := range ctrl.OnlineUsers() {
				fmt.Println(u.Username)
			}
		case strings.HasPrefix(line, "/join "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/join "))
			room, ok := findRoom(ctrl.Rooms(), name)
			if !ok {
				fmt.Printf("!! no such room: %s\n", name)
				continue
			}
			ctrl.JoinRoom(room)
		case strings.HasPrefix(line, "/create "):
			name := strings.TrimPrefix(line, "/create ")
			if err := ctrl.CreateRoom(ctx, name); err != nil {
				fmt.Printf("!! create: %v\n", err)
			}
		case strings.HasPrefix(line, "/"):
			fmt.Printf("!! unknown command: %s\n", strings.Fields(line)[0])
		default:
			if strings.TrimSpace(line) == "" {
				continue
			}
			ctrl.SetTyping(true)
			if err := ctrl.SendMessage(line); err != nil {
				fmt.Printf("!! send: %v\n", err)
			}
		}
	}
}

func findRoom(rooms []chat.Room, name string) (chat.Room, bool) {
	for _, r := range rooms {
		if r.Name == name {
			return r, true
		}
	}
	return chat.Room{}, false
}
