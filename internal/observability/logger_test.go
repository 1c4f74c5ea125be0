package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies that parseLogLevel handles case, whitespace and unknown values.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env      string
		fallback zapcore.Level
		expect   zapcore.Level
	}{
		{"", zap.InfoLevel, zap.InfoLevel},
		{"", zap.WarnLevel, zap.WarnLevel},
		{"INFO", zap.WarnLevel, zap.InfoLevel},
		{"DEBUG", zap.InfoLevel, zap.DebugLevel},
		{"WARN", zap.InfoLevel, zap.WarnLevel},
		{"warning", zap.InfoLevel, zap.WarnLevel},
		{"ERROR", zap.InfoLevel, zap.ErrorLevel},
		{"debug", zap.InfoLevel, zap.DebugLevel},
		{"  warn  ", zap.InfoLevel, zap.WarnLevel},
		{"invalid", zap.InfoLevel, zap.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.env, tt.fallback); got != tt.expect {
			t.Errorf("parseLogLevel(%q, %v) = %v, want %v", tt.env, tt.fallback, got, tt.expect)
		}
	}
}

func TestNewCommandLogger_DefaultsToWarn(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	logger, err := NewCommandLogger()
	if err != nil {
		t.Fatalf("NewCommandLogger() error = %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("command logger enabled at INFO, want WARN by default")
	}
	if !logger.Core().Enabled(zap.WarnLevel) {
		t.Error("command logger disabled at WARN")
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger() returned nil logger")
	}
	logger.Info("test message")
	_ = FlushTelemetry(context.Background(), logger)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if LoggerFromContext(ctx) != nil {
		t.Error("LoggerFromContext(empty) should be nil")
	}
	if CorrelationID(ctx) != "" {
		t.Error("CorrelationID(empty) should be empty")
	}

	logger := zap.NewNop()
	ctx = WithLogger(ctx, logger)
	ctx = WithCorrelationID(ctx, "abc-123")
	if LoggerFromContext(ctx) != logger {
		t.Error("LoggerFromContext did not return attached logger")
	}
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID = %q, want abc-123", got)
	}
}

func TestFlushTelemetry_NilLogger(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry(nil) = %v, want nil", err)
	}
}
