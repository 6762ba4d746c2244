package config

import (
	"github.com/deepgram/persona-relay/pkg/logger"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel       = openai.GPT4oMini
	defaultOpenAITemperature = float32(0.7)
)

// GetOpenAIKey returns the OpenAI key, preferring OPENAI_API_KEY over the legacy OPENAI_KEY
func GetOpenAIKey() string {
	value := GetEnvOrDefault("OPENAI_API_KEY", GetEnvOrDefault("OPENAI_KEY", ""))
	if value == "" {
		logger.Warn(logger.CONFIG, "OPENAI_API_KEY environment variable not set")
	}
	return value
}

// GetOpenAIBaseURL returns an alternative API base URL, or empty for the public API
func GetOpenAIBaseURL() string {
	return GetEnvOrDefault("OPENAI_BASE_URL", "")
}

func GetOpenAIModel() string {
	return GetEnvOrDefault("OPENAI_MODEL", defaultOpenAIModel)
}

func GetOpenAITemperature() float32 {
	return parseEnvFloat("OPENAI_TEMPERATURE", defaultOpenAITemperature)
}
