package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Debug bool
}

// NewLogger builds a JSON zap logger. Debug lowers the level to debug and
// switches to a human readable console encoder.
func NewLogger(cfg *LoggerConfig, options ...zap.Option) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LoggerConfig{}
	}

	mergedOptions := append([]zap.Option{zap.WithCaller(true)}, options...)

	var c zap.Config
	if cfg.Debug {
		c = zap.NewDevelopmentConfig()
		c.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		c = zap.NewProductionConfig()
		c.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return c.Build(mergedOptions...)
}
