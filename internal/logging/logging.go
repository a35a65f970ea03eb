// Package logging constructs the zap logger shared by every component of a
// node, threading a *zap.Logger through constructors instead of reaching
// for the global log package.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production logger unless dev is set, in which case it builds
// a more verbose, human-friendly console logger.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}
