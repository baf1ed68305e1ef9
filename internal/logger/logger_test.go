package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zap.DebugLevel},
		{"warn", zap.WarnLevel},
		{"error", zap.ErrorLevel},
		{"", zap.InfoLevel},
		{"loud", zap.InfoLevel},
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew_DevLowersLevel(t *testing.T) {
	log := New(Options{Level: "error", File: filepath.Join(t.TempDir(), "app.log"), Dev: true})
	defer log.Sync()

	if !log.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug to be enabled in dev mode")
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	log := New(Options{Level: "warn"})
	if log.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
}
