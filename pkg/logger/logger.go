// Package logger provides the structured logger used across the engine.
// It is a thin layer over logrus so call sites can chain fields:
//
//	log.WithField("pool_id", id).WithField("user", user).Info("stake accepted")
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	// Level is one of trace, debug, info, warn, error. Defaults to info.
	Level string
	// Format is "json" or "text". Defaults to json.
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// Logger is a component-scoped logrus entry.
type Logger struct {
	*logrus.Entry
}

// New builds a logger for the named component.
func New(name string, cfg Config) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stderr)
	}

	return &Logger{Entry: base.WithField("component", name)}
}

// NewDefault builds an info-level JSON logger for the named component.
func NewDefault(name string) *Logger {
	return New(name, Config{})
}

// NewNop builds a logger that discards everything.
func NewNop() *Logger {
	return New("nop", Config{Level: "panic", Output: io.Discard})
}

// Named returns a child logger with a different component field.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Entry: l.Entry.WithField("component", component)}
}
