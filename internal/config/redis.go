package config

import (
	"github.com/deepgram/persona-relay/pkg/logger"
)

func GetRedisURL() string {
	logger.Debug(logger.CONFIG, "Attempting to retrieve Redis URL from environment")
	value := GetEnvOrDefault("REDIS_URL", "")
	if value == "" {
		logger.Info(logger.CONFIG, "Redis URL not set - rate limits stay in process memory")
	} else {
		logger.Info(logger.CONFIG, "Redis URL successfully loaded")
	}
	return value
}

func GetRedisPassword() string {
	return GetEnvOrDefault("REDIS_PASSWORD", "")
}

func GetRedisDB() int {
	return parseEnvInt("REDIS_DB", 0)
}
