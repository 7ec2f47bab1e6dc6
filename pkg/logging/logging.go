// Package logging builds the zap loggers shared by the CLI and packages.
package logging

import (
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger, at debug level when debug is set.
func New(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// retryLogger routes go-retryablehttp messages into zap.
type retryLogger struct {
	s *zap.SugaredLogger
}

// RetryLogger adapts l to retryablehttp.LeveledLogger.
func RetryLogger(l *zap.Logger) retryablehttp.LeveledLogger {
	return retryLogger{s: OrNop(l).Named("http").Sugar()}
}

func (r retryLogger) Error(msg string, keysAndValues ...interface{}) {
	r.s.Errorw(msg, keysAndValues...)
}

func (r retryLogger) Info(msg string, keysAndValues ...interface{}) {
	r.s.Infow(msg, keysAndValues...)
}

func (r retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	r.s.Debugw(msg, keysAndValues...)
}

func (r retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	r.s.Warnw(msg, keysAndValues...)
}
