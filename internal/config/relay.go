package config

import "time"

const defaultRelaySystemPrompt = "You are Cara, a helpful AI assistant. Be friendly, concise, and conversational in your responses. Keep responses under 100 words unless specifically asked for detailed information."

// GetRelayReadTimeout bounds a single upstream stream read. Zero leaves the
// transport default in place.
func GetRelayReadTimeout() time.Duration {
	return parseEnvDuration("RELAY_READ_TIMEOUT", 0)
}

// GetRelaySystemPrompt returns the instruction prepended to every relayed turn
func GetRelaySystemPrompt() string {
	return GetEnvOrDefault("RELAY_SYSTEM_PROMPT", defaultRelaySystemPrompt)
}
