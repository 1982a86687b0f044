package logging

import (
	"log/slog"
	"testing"

	"github.com/unitkey/unitkey-core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_FormatsAndOutputs(t *testing.T) {
	// Construction should not panic for any combination; behaviour beyond
	// that is slog's concern.
	for _, format := range []string{"json", "text", ""} {
		for _, output := range []string{"stdout", "stderr", ""} {
			l := New(config.LoggingConfig{Level: "info", Format: format, Output: output}, "test")
			if l == nil || l.Logger == nil {
				t.Fatalf("New(format=%q, output=%q) returned nil", format, output)
			}
		}
	}
}

func TestWith_ReturnsNewLogger(t *testing.T) {
	base := Default()
	child := base.With("component", "test")

	if child == base {
		t.Error("With() should return a new Logger")
	}
	if child.Logger == nil {
		t.Error("With() returned logger with nil slog.Logger")
	}
}
