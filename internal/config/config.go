// Package config loads client configuration from a yaml file and
// GOCHAT_-prefixed environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Session SessionConfig `mapstructure:"session"`
	Typing  TypingConfig  `mapstructure:"typing"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	// BaseURL is the http(s) root of the chat server; both the REST
	// calls and the websocket dial derive from it.
	BaseURL    string `mapstructure:"baseURL"`
	SocketPath string `mapstructure:"socketPath"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	Path string `mapstructure:"path"`
}

type TypingConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.baseURL", "http://localhost:8080")
	v.SetDefault("server.socketPath", "/socket")
	v.SetDefault("http.timeout", "10s")
	v.SetDefault("session.path", defaultSessionPath())
	v.SetDefault("typing.debounce", "2s")
	v.SetDefault("log.level", "info")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GOCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		logger.Warn("config file not found, relying on defaults and env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SocketURL converts the configured base URL into the websocket endpoint.
func (c *Config) SocketURL() (string, error) {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return "", fmt.Errorf("config: parse baseURL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("config: unsupported scheme %q", u.Scheme)
	}
	u.Path = c.Server.SocketPath
	return u.String(), nil
}

// LogLevel maps the configured level name onto slog, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gochat-session.json"
	}
	return filepath.Join(dir, "gochat", "session.json")
}
