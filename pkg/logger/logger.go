package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
)

const (
	APP        = "APP"
	CLIENT     = "CLIENT"
	CONFIG     = "CONFIG"
	CREDENTIAL = "CREDENTIAL"
	EMULATOR   = "EMULATOR"
	HANDLER    = "HANDLER"
	MIDDLEWARE = "MIDDLEWARE"
	REDIS      = "REDIS"
	RELAY      = "RELAY"
	SERVICE    = "SERVICE"
)

var (
	mu           sync.RWMutex
	currentLevel = getLogLevel()
	base         = newLogger(os.Stderr)
)

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetOutput redirects every namespaced logger to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w)
}

// SetLevel overrides the level read from LOG_LEVEL.
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

func getLogLevel() LogLevel {
	level := strings.ToUpper(os.Getenv("LOG_LEVEL"))
	switch level {
	case "DEBUG", "TRACE":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// ZerologLevel maps LOG_LEVEL onto zerolog's global level so direct
// zerolog/log callers follow the same setting.
func ZerologLevel() zerolog.Level {
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "TRACE") {
		return zerolog.TraceLevel
	}
	switch getLogLevel() {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func formatMessage(namespace, format string, v ...interface{}) string {
	msg := fmt.Sprintf(format, v...)
	return fmt.Sprintf("[%s] %s", namespace, msg)
}

func emit(min LogLevel, level zerolog.Level, namespace, format string, v ...interface{}) {
	mu.RLock()
	enabled := currentLevel >= min
	l := base
	mu.RUnlock()

	if !enabled {
		return
	}
	l.WithLevel(level).Str("namespace", namespace).Msg(formatMessage(namespace, format, v...))
}

func Debug(namespace, format string, v ...interface{}) {
	emit(DEBUG, zerolog.DebugLevel, namespace, format, v...)
}

func Info(namespace, format string, v ...interface{}) {
	emit(INFO, zerolog.InfoLevel, namespace, format, v...)
}

func Warn(namespace, format string, v ...interface{}) {
	emit(WARN, zerolog.WarnLevel, namespace, format, v...)
}

func Error(namespace, format string, v ...interface{}) {
	emit(ERROR, zerolog.ErrorLevel, namespace, format, v...)
}

// Fatal logs at fatal level without exiting; callers decide how to stop.
func Fatal(namespace, format string, v ...interface{}) {
	emit(ERROR, zerolog.FatalLevel, namespace, format, v...)
}
