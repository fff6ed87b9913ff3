package logging

// Logger is the minimal logging contract used across the orchestrator packages
type Logger interface {
	LogLevelf(level int, format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// LogFuncs bundles the backend functions a prefixed logger delegates to
type LogFuncs struct {
	Debugf func(format string, args ...interface{})
	Infof  func(format string, args ...interface{})
	Warnf  func(format string, args ...interface{})
	Errorf func(format string, args ...interface{})
}

type prefixLogger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger wraps backend log functions with a fixed message prefix
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &prefixLogger{
		prefix: prefix,
		funcs:  funcs,
	}
}

func (l *prefixLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch {
	case level <= 0:
		l.Debugf(format, args...)
	case level == 1:
		l.Infof(format, args...)
	case level == 2:
		l.Warnf(format, args...)
	default:
		l.Errorf(format, args...)
	}
}

func (l *prefixLogger) Debugf(format string, args ...interface{}) {
	if l.funcs.Debugf != nil {
		l.funcs.Debugf(l.prefix+format, args...)
	}
}

func (l *prefixLogger) Infof(format string, args ...interface{}) {
	if l.funcs.Infof != nil {
		l.funcs.Infof(l.prefix+format, args...)
	}
}

func (l *prefixLogger) Warnf(format string, args ...interface{}) {
	if l.funcs.Warnf != nil {
		l.funcs.Warnf(l.prefix+format, args...)
	}
}

func (l *prefixLogger) Errorf(format string, args ...interface{}) {
	if l.funcs.Errorf != nil {
		l.funcs.Errorf(l.prefix+format, args...)
	}
}

type nullLogger struct{}

// NewNullLogger returns a logger that discards everything
func NewNullLogger() Logger {
	return &nullLogger{}
}

func (l *nullLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *nullLogger) Debugf(format string, args ...interface{})               {}
func (l *nullLogger) Infof(format string, args ...interface{})                {}
func (l *nullLogger) Warnf(format string, args ...interface{})                {}
func (l *nullLogger) Errorf(format string, args ...interface{})               {}
