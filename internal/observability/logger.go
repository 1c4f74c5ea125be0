package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "blaue-tonne-service"

// NewLogger builds the production JSON logger for the server. LOG_LEVEL selects the level (default INFO).
func NewLogger() (*zap.Logger, error) {
	return newLogger(zap.InfoLevel)
}

// NewCommandLogger builds the logger for one-shot commands. It defaults to WARN so
// per-plan progress does not bury the result; LOG_LEVEL still overrides.
func NewCommandLogger() (*zap.Logger, error) {
	return newLogger(zap.WarnLevel)
}

func newLogger(fallback zapcore.Level) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(parseLogLevel(os.Getenv("LOG_LEVEL"), fallback))
	config.InitialFields = map[string]interface{}{"service": ServiceName}
	return config.Build()
}

func parseLogLevel(s string, fallback zapcore.Level) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN", "WARNING":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return fallback
	}
}
