// Package logging provides structured logging for the EVOS sync core.
//
// It is a thin layer over logrus so every package logs through the same
// JSON-formatted logger and failure logs always carry enough context
// (action id, type, work order) for manual reconciliation.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is the set of structured context attached to a log entry.
type Fields = logrus.Fields

var (
	global *logrus.Logger
	once   sync.Once
)

// Init initializes the global logger. It is safe to call more than once;
// only the first call takes effect.
func Init(out io.Writer, level logrus.Level) {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(level)
		l.SetFormatter(&logrus.JSONFormatter{})
		global = l
	})
}

// Get returns the global logger, initializing it with defaults if needed.
func Get() *logrus.Logger {
	if global == nil {
		Init(os.Stdout, logrus.InfoLevel)
	}
	return global
}

// SetLevel adjusts the minimum level of the global logger.
func SetLevel(level logrus.Level) {
	Get().SetLevel(level)
}

// Debug logs a debug message with optional structured fields.
func Debug(message string, fields ...Fields) {
	entry(fields...).Debug(message)
}

// Info logs an info message with optional structured fields.
func Info(message string, fields ...Fields) {
	entry(fields...).Info(message)
}

// Warn logs a warning message with optional structured fields.
func Warn(message string, fields ...Fields) {
	entry(fields...).Warn(message)
}

// Error logs an error message. A nil err is allowed.
func Error(message string, err error, fields ...Fields) {
	e := entry(fields...)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(message)
}

// entry merges the given field maps into one log entry.
func entry(fields ...Fields) *logrus.Entry {
	e := logrus.NewEntry(Get())
	for _, f := range fields {
		e = e.WithFields(f)
	}
	return e
}
