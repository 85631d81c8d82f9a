package internal

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the logger of an environment preset.
// prod logs JSON from the info level, dev logs readable text from the debug level.
func NewLogger(env string) (*zap.Logger, error) {
	switch env {
	case "prod", "production":
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build(zap.Fields(zap.String("app", "irclog")))
	case "dev", "development":
		return zap.NewDevelopment()
	default:
		// In tests or unknown env, use development config but without noisy stack traces
		cfg := zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		return cfg.Build()
	}
}
