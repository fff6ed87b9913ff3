package zaplog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapSprintfLogger exposes zap's sugared logger through the sprintf-style
// interface the orchestrator packages expect
type ZapSprintfLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapSprintfLogger creates a console logger at the given level.
// Valid levels: debug, info, warn, error; anything else falls back to info.
func NewZapSprintfLogger(level string) *ZapSprintfLogger {
	zapLevel := zapcore.InfoLevel
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.DisableStacktrace = true

	logger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		// Build only fails on invalid config; fall back to a no-op logger
		logger = zap.NewNop()
	}

	return &ZapSprintfLogger{sugar: logger.Sugar()}
}

func (l *ZapSprintfLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *ZapSprintfLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *ZapSprintfLogger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *ZapSprintfLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered log entries, to be called before process exit
func (l *ZapSprintfLogger) Sync() {
	_ = l.sugar.Sync()
}
