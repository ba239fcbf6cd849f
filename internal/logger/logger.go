package logger

import (
	"context"
	"io"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Config controls log output.
type Config struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json, text
	Output string `yaml:"output" env:"OUTPUT"` // stdout, stderr, file path
}

// Logger is a logrus logger carrying a fixed set of fields.
type Logger struct {
	logger *logrus.Logger
	fields logrus.Fields
	file   *os.File
}

// New builds a logger from config.
func New(cfg Config) (*Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	switch cfg.Output {
	case "", "stdout":
		l.SetOutput(os.Stdout)
	case "stderr":
		l.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		l.SetOutput(file)
		return &Logger{logger: l, fields: logrus.Fields{}, file: file}, nil
	}

	return &Logger{logger: l, fields: logrus.Fields{}}, nil
}

// Close releases the log file when output is a path. It is a no-op on
// derived loggers and on stdout/stderr output.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.logger.SetOutput(io.Discard)
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns a logger that writes nothing; used by tests and as a
// default so callers never need nil guards.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{logger: l, fields: logrus.Fields{}}
}

// WithField returns a copy with key set.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields returns a copy with the given fields added.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{logger: l.logger, fields: merged}
}

// WithError attaches err.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField(logrus.ErrorKey, err.Error())
}

// WithContext attaches the request id when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		return l.WithField("request_id", reqID)
	}
	return l
}

func (l *Logger) entry() *logrus.Entry {
	return l.logger.WithFields(l.fields)
}

func (l *Logger) Info(args ...any)  { l.entry().Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry().Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry().Error(args...) }
