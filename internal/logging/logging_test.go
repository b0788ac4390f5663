package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("debug", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug not enabled")
	}
	if zap.L() != logger {
		t.Fatalf("global logger not replaced")
	}

	logger, err = New("warn", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info enabled at warn level")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}
