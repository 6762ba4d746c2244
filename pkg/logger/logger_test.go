package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envLevel string
		want     LogLevel
	}{
		{"Debug level", "DEBUG", DEBUG},
		{"Trace collapses to Debug", "TRACE", DEBUG},
		{"Info level", "INFO", INFO},
		{"Warn level", "WARN", WARN},
		{"Error level", "ERROR", ERROR},
		{"Empty defaults to Info", "", INFO},
		{"Invalid defaults to Info", "INVALID", INFO},
		{"Case insensitive", "debug", DEBUG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("LOG_LEVEL", tt.envLevel)
			defer os.Unsetenv("LOG_LEVEL")

			assert.Equal(t, tt.want, getLogLevel())
		})
	}
}

func TestZerologLevel(t *testing.T) {
	tests := []struct {
		envLevel string
		want     zerolog.Level
	}{
		{"TRACE", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.envLevel, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.envLevel)
			assert.Equal(t, tt.want, ZerologLevel())
		})
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
		format    string
		args      []interface{}
		want      string
	}{
		{
			name:      "Simple message",
			namespace: "TEST",
			format:    "Hello",
			want:      "[TEST] Hello",
		},
		{
			name:      "Message with args",
			namespace: "APP",
			format:    "Count: %d",
			args:      []interface{}{42},
			want:      "[APP] Count: 42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatMessage(tt.namespace, tt.format, tt.args...))
		})
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name      string
		setLevel  LogLevel
		logFunc   func(string, string, ...interface{})
		shouldLog bool
		level     string
	}{
		{"Debug logs when Debug", DEBUG, Debug, true, `"level":"debug"`},
		{"Debug doesn't log when Info", INFO, Debug, false, ""},
		{"Info logs when Info", INFO, Info, true, `"level":"info"`},
		{"Info doesn't log when Error", ERROR, Info, false, ""},
		{"Warn logs when Warn", WARN, Warn, true, `"level":"warn"`},
		{"Error always logs", ERROR, Error, true, `"level":"error"`},
		{"Fatal logs without exiting", ERROR, Fatal, true, `"level":"fatal"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetOutput(&buf)
			SetLevel(tt.setLevel)
			t.Cleanup(func() {
				SetOutput(os.Stderr)
				SetLevel(getLogLevel())
			})

			tt.logFunc("TEST", "message %s", "body")

			output := strings.TrimSpace(buf.String())
			if !tt.shouldLog {
				assert.Empty(t, output)
				return
			}
			assert.Contains(t, output, tt.level)
			assert.Contains(t, output, `"namespace":"TEST"`)
			assert.Contains(t, output, "[TEST] message body")
		})
	}
}

func TestTokenPreview(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"empty", "", "..."},
		{"short token keeps half", "s3cr3t-session-tok", "s3cr3t-se..."},
		{"exactly twenty", "abcdefghijklmnopqrst", "abcdefghij..."},
		{"long token capped", "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGH", "abcdefghijklmnopqrst..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenPreview(tt.token)
			assert.Equal(t, tt.want, got)
			if tt.token != "" {
				assert.NotContains(t, got, tt.token)
			}
		})
	}
}
