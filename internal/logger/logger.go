// Package logger builds the process-wide zap logger. The logger is passed
// explicitly to components instead of being installed as a global.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a logger appropriate for the environment. Development mode
// gets human-readable console output; everything else gets production JSON
// suitable for CloudWatch.
func New(env string) (*zap.Logger, error) {
	var config zap.Config

	switch env {
	case "dev", "development":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}
