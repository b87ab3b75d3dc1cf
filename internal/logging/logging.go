// Package logging wires go.uber.org/zap the way HK9750-sentinal-chat's
// pkg/logger does: a small constructor picking production vs development
// encoding, handed to every component explicitly rather than reached for
// as a package-level global.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

// New builds a *zap.SugaredLogger configured for mode.
func New(mode string) *zap.SugaredLogger {
	var cfg zap.Config
	if mode == ModeProduction {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		panic(err)
	}
	return logger.Sugar()
}
