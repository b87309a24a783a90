package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	Turn           TurnConfig
	Matchmaking    MatchConfig
	Signaling      SignalingConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// TurnConfig describes the external relay-credential broker and the static
// fallback used when the broker cannot be reached.
type TurnConfig struct {
	BrokerURL    string
	APIKey       string
	FetchTimeout time.Duration
	FallbackURLs []string
	FallbackUser string
	FallbackCred string
	StunURLs     []string
}

type MatchConfig struct {
	WaitingTTL   time.Duration
	PollInterval time.Duration
	MaxWait      time.Duration
	DefaultQueue string
}

type SignalingConfig struct {
	// NegotiationTimeout bounds how long an endpoint waits for the remote
	// description and first connectivity before giving up on the session.
	NegotiationTimeout time.Duration
}

func Load() *Config {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) *Config {
	getEnv := func(key, defaultValue string) string {
		if value, ok := lookup(key); ok && value != "" {
			return value
		}
		return defaultValue
	}
	getDuration := func(key string, defaultValue time.Duration) time.Duration {
		if value, ok := lookup(key); ok && value != "" {
			if d, err := time.ParseDuration(value); err == nil {
				return d
			}
		}
		return defaultValue
	}
	getInt := func(key string, defaultValue int) int {
		if value, ok := lookup(key); ok && value != "" {
			if n, err := strconv.Atoi(value); err == nil {
				return n
			}
		}
		return defaultValue
	}

	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := splitCommaSeparated(originsStr)

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Turn: TurnConfig{
			BrokerURL:    getEnv("TURN_BROKER_URL", ""),
			APIKey:       getEnv("TURN_BROKER_API_KEY", ""),
			FetchTimeout: getDuration("TURN_FETCH_TIMEOUT", 10*time.Second),
			FallbackURLs: splitCommaSeparated(getEnv("TURN_FALLBACK_URLS", "")),
			FallbackUser: getEnv("TURN_FALLBACK_USERNAME", ""),
			FallbackCred: getEnv("TURN_FALLBACK_CREDENTIAL", ""),
			StunURLs:     splitCommaSeparated(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
		},
		Matchmaking: MatchConfig{
			WaitingTTL:   getDuration("MATCH_WAITING_TTL", 60*time.Second),
			PollInterval: getDuration("MATCH_POLL_INTERVAL", 2*time.Second),
			MaxWait:      getDuration("MATCH_MAX_WAIT", 5*time.Minute),
			DefaultQueue: getEnv("MATCH_DEFAULT_QUEUE", "general"),
		},
		Signaling: SignalingConfig{
			NegotiationTimeout: getDuration("NEGOTIATION_TIMEOUT", 30*time.Second),
		},
	}
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
