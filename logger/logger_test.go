package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextLogging(t *testing.T) {
	ctx := context.Background()
	ctx = WithContextValue(ctx, PoolKey, "primary")
	ctx = WithContextValue(ctx, ConnIDKey, "c-1")
	ctx = WithContextValue(ctx, RequestIDKey, "req789")

	args := ExtractContextValues(ctx)
	assert.Equal(t, []any{"pool", "primary", "conn_id", "c-1", "request_id", "req789"}, args)

	assert.Nil(t, ExtractContextValues(nil))
	assert.Empty(t, ExtractContextValues(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"trace", LevelTrace, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"ERROR", slog.LevelError, true},
		{"4", slog.Level(4), true},
		{"loud", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewLoggerWritesCustomLevelNames(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: LevelTrace, Format: "text", Writer: &buf})

	Trace(context.Background(), l, "probe", ConnID("abc"))

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "conn_id=abc")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_ADD_SOURCE", "true")

	config := LoadConfig()
	assert.Equal(t, slog.LevelDebug, config.Level)
	assert.Equal(t, "json", config.Format)
	assert.True(t, config.AddSource)
}
