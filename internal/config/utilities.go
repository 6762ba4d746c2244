package config

import (
	"os"
	"strconv"
	"time"

	"github.com/deepgram/persona-relay/pkg/logger"
)

// GetEnvOrDefault returns the value of an environment variable or a default value
func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" && defaultValue == "" {
		logger.Debug(logger.CONFIG, "Empty value and default for environment variable: %s", key)
	}
	if value == "" {
		return defaultValue
	}
	return value
}

func parseEnvInt(key string, defaultValue int) int {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(val)
	if err != nil {
		logger.Warn(logger.CONFIG, "Invalid value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return parsed
}

func parseEnvFloat(key string, defaultValue float32) float32 {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseFloat(val, 32)
	if err != nil {
		logger.Warn(logger.CONFIG, "Invalid value for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return float32(parsed)
}

func parseEnvBool(key string, defaultValue bool) bool {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(val)
	if err != nil {
		logger.Warn(logger.CONFIG, "Invalid value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return parsed
}

// parseEnvDuration accepts Go duration strings ("30s") or a bare number of seconds.
func parseEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := GetEnvOrDefault(key, "")
	if val == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}

	logger.Warn(logger.CONFIG, "Invalid value for %s, using default: %s", key, defaultValue)
	return defaultValue
}
