package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

type Config struct {
	Environment string
	LogLevel    slog.Level
	LogFile     string

	Transport string
	ServerURL string
	RedisURL  string
	SessionID string

	TypingInterval  time.Duration
	ReconnectDelay  time.Duration
	NarrationMarker string
	ContentRating   string

	// mock storyteller
	MockPort  string
	MockTurns int
}

// Load reads configuration from the environment, after applying an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	typing, err := parseDuration("TYPING_INTERVAL", "25ms")
	if err != nil {
		return nil, err
	}
	reconnect, err := parseDuration("RECONNECT_DELAY", "3s")
	if err != nil {
		return nil, err
	}
	turns, err := strconv.Atoi(getEnv("MOCK_TURNS", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid MOCK_TURNS: %w", err)
	}

	cfg := &Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        parseLogLevel(getEnv("LOG_LEVEL", "info")),
		LogFile:         getEnv("LOG_FILE", "story-console.log"),
		Transport:       strings.ToLower(getEnv("TRANSPORT", TransportWebSocket)),
		ServerURL:       strings.TrimRight(getEnv("SERVER_URL", "ws://localhost:8000"), "/"),
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
		SessionID:       getEnv("SESSION_ID", uuid.NewString()),
		TypingInterval:  typing,
		ReconnectDelay:  reconnect,
		NarrationMarker: getEnv("NARRATION_MARKER", `"narration": "`),
		ContentRating:   getEnv("CONTENT_RATING", "R"),
		MockPort:        getEnv("MOCK_PORT", "8000"),
		MockTurns:       turns,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWebSocket:
		if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
			return fmt.Errorf("SERVER_URL must start with ws:// or wss://, got %q", c.ServerURL)
		}
	case TransportRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis transport")
		}
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}
	if c.SessionID == "" {
		return fmt.Errorf("SESSION_ID cannot be empty")
	}
	if c.TypingInterval <= 0 {
		return fmt.Errorf("TYPING_INTERVAL must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be positive")
	}
	if c.NarrationMarker == "" {
		return fmt.Errorf("NARRATION_MARKER cannot be empty")
	}
	if c.MockTurns < 1 {
		return fmt.Errorf("MOCK_TURNS must be at least 1")
	}
	return nil
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
