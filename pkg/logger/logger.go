// Package logger wraps logrus behind a small package-level API so the rest
// of the program can log without carrying a logger handle around. Output
// goes to stderr by default; when a file path is configured the file is
// size-rotated via lumberjack and stderr keeps receiving a copy.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log *logrus.Logger

// Config selects level, format and optional rotated file output.
type Config struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // text or json (default text)
	File       string // optional log file path; empty means stderr only
	MaxSizeMB  int    // rotate after this many megabytes
	MaxBackups int    // rotated files to keep
	MaxAgeDays int    // days to keep rotated files
}

// Init configures the shared logger. Safe to call more than once; the last
// call wins.
func Init(cfg Config) error {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	writers := []io.Writer{os.Stderr}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	log = l
	return nil
}

// L returns the shared logger, creating a default one if Init was never
// called. Handy for tests and for packages that want a *logrus.Entry.
func L() *logrus.Logger {
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
	}
	return log
}

func Debug(args ...interface{}) { L().Debug(args...) }

func Debugf(format string, args ...interface{}) { L().Debugf(format, args...) }

func Info(args ...interface{}) { L().Info(args...) }

func Infof(format string, args ...interface{}) { L().Infof(format, args...) }

func Warn(args ...interface{}) { L().Warn(args...) }

func Warnf(format string, args ...interface{}) { L().Warnf(format, args...) }

func Error(args ...interface{}) { L().Error(args...) }

func Errorf(format string, args ...interface{}) { L().Errorf(format, args...) }

// WithField returns an entry carrying one structured field.
func WithField(key string, value interface{}) *logrus.Entry {
	return L().WithField(key, value)
}

// WithFields returns an entry carrying several structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return L().WithFields(fields)
}
