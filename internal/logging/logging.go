// Package logging builds the zap logger memwatch uses for its own
// operational logging (mprotect failures, fault-source startup, adapter
// demotions). It never logs ChangeEvent contents: user memory passing
// through a log line would defeat the point of a change watcher.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger by default, or a console-encoded
// development logger when MEMWATCH_LOG_DEV is set to any non-empty value.
func New() (*zap.Logger, error) {
	if os.Getenv("MEMWATCH_LOG_DEV") != "" {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
