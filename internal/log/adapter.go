package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

// entryLogger implements Logger on a logrus entry. Derived loggers share
// the parent's logrus.Logger and extend its fields.
type entryLogger struct {
	e *logrus.Entry
}

func newEntryLogger(level logrus.Level, f logrus.Formatter, out io.Writer) *entryLogger {
	base := &logrus.Logger{
		Out:       out,
		Formatter: f,
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  func(int) {},
	}
	return &entryLogger{e: logrus.NewEntry(base)}
}

func (l *entryLogger) derive(e *logrus.Entry) Logger { return &entryLogger{e: e} }

func (l *entryLogger) Debug(args ...any)            { l.e.Log(logrus.DebugLevel, args...) }
func (l *entryLogger) Debugf(f string, args ...any) { l.e.Logf(logrus.DebugLevel, f, args...) }
func (l *entryLogger) Info(args ...any)             { l.e.Log(logrus.InfoLevel, args...) }
func (l *entryLogger) Infof(f string, args ...any)  { l.e.Logf(logrus.InfoLevel, f, args...) }
func (l *entryLogger) Warn(args ...any)             { l.e.Log(logrus.WarnLevel, args...) }
func (l *entryLogger) Warnf(f string, args ...any)  { l.e.Logf(logrus.WarnLevel, f, args...) }
func (l *entryLogger) Error(args ...any)            { l.e.Log(logrus.ErrorLevel, args...) }
func (l *entryLogger) Errorf(f string, args ...any) { l.e.Logf(logrus.ErrorLevel, f, args...) }

func (l *entryLogger) WithField(key string, value any) Logger {
	return l.derive(l.e.WithField(key, value))
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return l.derive(l.e.WithFields(logrus.Fields(fields)))
}

func (l *entryLogger) WithError(err error) Logger {
	return l.derive(l.e.WithError(err))
}

func (l *entryLogger) IsDebugEnabled() bool {
	return l.e.Logger.IsLevelEnabled(logrus.DebugLevel)
}
