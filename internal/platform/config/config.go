package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses the variable with time.ParseDuration ("750ms", "3s").
// A bare integer is read as seconds. Invalid or negative values yield fallback.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		return d
	}
	return fallback
}

// GetEnvBool accepts the values understood by strconv.ParseBool.
func GetEnvBool(key string, fallback bool) bool {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return fallback
}

// Settings is the server configuration read from the environment.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	CommentBackend string // "memory" or "redis"
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	StreamURLTemplate string
	ProbeStreams      bool

	CommentPageSize    int
	ResolveTimeout     time.Duration
	CommentTimeout     time.Duration
	ControlsHideDelay  time.Duration
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
	IntentRateLimit    int // intents per client per minute, 0 disables
}

// FromEnv reads Settings, applying defaults for unset keys.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		CommentBackend: strings.ToLower(GetEnv("COMMENT_BACKEND", "memory")),
		RedisAddr:      GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  GetEnv("REDIS_PASSWORD", ""),
		RedisDB:        GetEnvInt("REDIS_DB", 0),

		StreamURLTemplate: GetEnv("STREAM_URL_TEMPLATE", "https://cdn.example.com/live/{match}/master.m3u8"),
		ProbeStreams:      GetEnvBool("STREAM_PROBE", false),

		CommentPageSize:    GetEnvInt("COMMENT_PAGE_SIZE", 20),
		ResolveTimeout:     GetEnvDuration("RESOLVE_TIMEOUT", 10*time.Second),
		CommentTimeout:     GetEnvDuration("COMMENT_TIMEOUT", 10*time.Second),
		ControlsHideDelay:  GetEnvDuration("CONTROLS_HIDE_DELAY", 3*time.Second),
		SessionIdleTimeout: GetEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SweepInterval:      GetEnvDuration("SWEEP_INTERVAL", time.Minute),
		IntentRateLimit:    GetEnvInt("INTENT_RATE_LIMIT", 120),
	}
}
