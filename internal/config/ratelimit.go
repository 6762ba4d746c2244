package config

import (
	"time"

	"github.com/deepgram/persona-relay/pkg/logger"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := GetEnvOrDefault("RATELIMIT_ENABLED", "false") == "true"

	configs := map[string]RateLimitConfig{
		"global": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_GLOBAL", 1000), // 1000 requests per minute globally
			Window:  time.Minute,
		},
		"session_credential": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_SESSION_CREDENTIAL", 10), // 10 sessions per minute
			Window:  time.Minute,
		},
		"chat_stream": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_CHAT_STREAM", 120), // 120 requests per minute
			Window:  time.Minute,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	logger.Warn(logger.CONFIG, "No rate limit config found for key: %s", key)
	return RateLimitConfig{Enabled: false}
}
