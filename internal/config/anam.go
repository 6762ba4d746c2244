package config

import "github.com/deepgram/persona-relay/pkg/logger"

const defaultAnamBaseURL = "https://api.anam.ai"

func GetAnamAPIKey() string {
	logger.Debug(logger.CONFIG, "Attempting to retrieve Anam API key from environment")
	value := GetEnvOrDefault("ANAM_API_KEY", "")
	if value == "" {
		logger.Warn(logger.CONFIG, "Failed to retrieve Anam API key - environment variable not set")
	} else {
		logger.Info(logger.CONFIG, "Anam API key successfully loaded")
	}
	return value
}

func GetAnamBaseURL() string {
	return GetEnvOrDefault("ANAM_BASE_URL", defaultAnamBaseURL)
}
