package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"opengemini-client/config"
)

func TestNew_JSONFormat(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be disabled at info level")
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled at debug level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
