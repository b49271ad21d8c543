package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             int
	NatsURL          string
	NatsToken        string
	DatabaseURL      string
	RedisURL         string
	LogLevel         string
	APIToken         string
	AssistantSpeaker string
	SystemContext    string
	StatePath        string
	SlackBotToken    string
	SlackChannel     string
}

// Load reads configuration from the environment. Values from an env file
// (SCRIBE_ENV_FILE, default ".env") fill in anything not already set.
func Load() Config {
	_ = godotenv.Load(envStr("SCRIBE_ENV_FILE", ".env"))

	return Config{
		Port:             envInt("SCRIBE_PORT", 8760),
		NatsURL:          envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:        envStr("NATS_TOKEN", ""),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		RedisURL:         envStr("REDIS_URL", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		APIToken:         envStr("SCRIBE_API_TOKEN", ""),
		AssistantSpeaker: envStr("SCRIBE_ASSISTANT_SPEAKER", ""),
		SystemContext:    envStr("SCRIBE_SYSTEM_CONTEXT", ""),
		StatePath:        envStr("SCRIBE_STATE_PATH", "~/.scribe/batch-state.json"),
		SlackBotToken:    envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:     envStr("SLACK_CHANNEL", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
