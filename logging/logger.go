package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger = zap.NewNop()

func InitLogger(production bool) error {
	var config zap.Config

	if production {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}
	Logger = logger
	zap.ReplaceGlobals(logger)
	return nil
}

// Named returns a component logger, or a no-op logger when none is given
func Named(l *zap.Logger, component string) *zap.Logger {
	if l == nil {
		l = Logger
	}
	return l.Named(component)
}

// Sync flushes buffered entries; call on shutdown
func Sync() {
	_ = Logger.Sync()
}
