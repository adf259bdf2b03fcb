// Package logger provides the structured logging wrapper used across the
// session core: a thin shell over logrus with service-scoped helpers.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with service-scoped helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// Config controls level, format and output of a Logger.
type Config struct {
	Level      string `env:"LOG_LEVEL"`
	Format     string `env:"LOG_FORMAT"`
	Output     string `env:"LOG_OUTPUT"`
	FilePrefix string `env:"LOG_FILE_PREFIX"`
}

// New builds a Logger for the given service name from cfg.
func New(service string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "sessioncore"
		}
		if err := os.MkdirAll("logs", 0o755); err != nil {
			l.Errorf("failed to create logs directory: %v", err)
			break
		}
		path := filepath.Join("logs", prefix+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Errorf("failed to open log file: %v", err)
			break
		}
		l.SetOutput(io.MultiWriter(os.Stdout, f))
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l, service: service}
}

// NewDefault returns a Logger with sane defaults for the given service name.
func NewDefault(service string) *Logger {
	return New(service, Config{Level: "info", Format: "text", Output: "stdout"})
}

// WithField returns a log entry scoped to the service and the given field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField("service", l.service).WithField(key, value)
}

// WithFields returns a log entry scoped to the service and the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithSession scopes a log entry to a session and the acting subject.
func (l *Logger) WithSession(sessionID, subjectID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"session_id": sessionID, "subject_id": subjectID})
}
