package config

import "time"

func GetPort() string {
	return GetEnvOrDefault("PORT", "8000")
}

func GetShutdownTimeout() time.Duration {
	return parseEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
}

// IsEmulatorEnabled reports whether the development rendering emulator is mounted
func IsEmulatorEnabled() bool {
	return parseEnvBool("EMULATOR_ENABLED", false)
}

// GetEmulatorReadyDelay is how long the emulator waits before signalling readiness
func GetEmulatorReadyDelay() time.Duration {
	return parseEnvDuration("EMULATOR_READY_DELAY", 500*time.Millisecond)
}

// GetEmulatorSecret signs emulator session tokens. An empty value makes the
// emulator generate a per-process secret.
func GetEmulatorSecret() string {
	return GetEnvOrDefault("EMULATOR_SECRET", "")
}

func GetEmulatorTokenTTL() time.Duration {
	return parseEnvDuration("EMULATOR_TOKEN_TTL", time.Hour)
}
