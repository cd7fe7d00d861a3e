package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON production logger writing to stderr.
// Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	return build(level, []string{"stderr"})
}

// NewFileLogger writes JSON lines to path only. cmd/forward uses it for the
// per-session trade log.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	return build(level, []string{path})
}

func build(level string, outputs []string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = outputs
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}
