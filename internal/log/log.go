// Package log provides the process-wide structured logger, backed by logrus.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/flowlens/internal/config"
)

// Fields is a set of structured log fields.
type Fields map[string]any

// Logger is the logging surface used across flowlens.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

var global atomic.Pointer[entryLogger]

// GetLogger returns the process logger. Before Init it logs at info level
// to stderr.
func GetLogger() Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l := newEntryLogger(logrus.InfoLevel, &logrus.TextFormatter{FullTimestamp: true}, os.Stderr)
	global.CompareAndSwap(nil, l)
	return global.Load()
}

// Init replaces the process logger. Console output goes to stderr so that
// stdout stays free for the renderer.
func Init(cfg config.LogConfig) error {
	l, err := build(cfg, os.Stderr)
	if err != nil {
		return err
	}
	global.Store(l)
	return nil
}

// New builds a standalone logger writing to console and, when configured,
// to a rotated file.
func New(cfg config.LogConfig, console io.Writer) (Logger, error) {
	return build(cfg, console)
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return newEntryLogger(logrus.PanicLevel, &logrus.TextFormatter{}, io.Discard)
}

func build(cfg config.LogConfig, console io.Writer) (*entryLogger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var f logrus.Formatter
	switch strings.ToLower(cfg.Format) {
	case "json":
		f = &logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat}
	case "text", "":
		f = &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: cfg.TimeFormat}
	case "pattern":
		f = newPatternFormatter(cfg.Pattern, cfg.TimeFormat)
	default:
		return nil, fmt.Errorf("unsupported log format: %s (must be text/json/pattern)", cfg.Format)
	}

	out := NewMultiWriter().Add(console)
	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("file output requires 'path' field")
		}
		out.AddFileAppender(cfg.File)
	}
	return newEntryLogger(level, f, out), nil
}

// parseLevel converts a config level name to a logrus level.
func parseLevel(levelStr string) (logrus.Level, error) {
	switch strings.ToLower(levelStr) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// fileWriter builds the rotating writer for file output.
func fileWriter(fc config.FileOutputConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,  // megabytes
		MaxBackups: fc.Rotation.MaxBackups, // number of backups
		MaxAge:     fc.Rotation.MaxAgeDays, // days
		Compress:   fc.Rotation.Compress,
	}
}
