package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("DEBUG")
	if err != nil {
		t.Fatal(err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be enabled")
	}

	logger, err = New("")
	if err != nil {
		t.Fatal(err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) || !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("default level should be info")
	}

	if _, err := New("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
