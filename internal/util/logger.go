package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every log line and names the tracer
const ServiceName = "tradehub"

var logger *zap.Logger

// InitLogger initializes the global logger: JSON in production, colored
// console output otherwise
func InitLogger(env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	built, err := config.Build()
	if err != nil {
		return err
	}
	logger = withService(built, env)

	zap.ReplaceGlobals(logger)
	return nil
}

func withService(l *zap.Logger, env string) *zap.Logger {
	return l.With(zap.String("service", ServiceName), zap.String("env", env))
}

// GetLogger returns the global logger, falling back to a development logger
// when InitLogger was never called (tests, tools)
func GetLogger() *zap.Logger {
	if logger == nil {
		dev, _ := zap.NewDevelopment()
		logger = withService(dev, "development")
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
