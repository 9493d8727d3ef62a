// Package logging adapts logrus to types.Logger.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/goliatone/go-tenancy/pkg/types"
)

// Logger writes types.Logger calls through a logrus entry.
type Logger struct {
	entry *log.Entry
}

var _ types.Logger = (*Logger)(nil)

// New wraps an existing logrus logger.
func New(base *log.Logger) *Logger {
	if base == nil {
		base = log.StandardLogger()
	}
	return &Logger{entry: log.NewEntry(base)}
}

// NewText builds a text logger at the named level, falling back to info when
// the level does not parse.
func NewText(out io.Writer, level string, json bool) *Logger {
	if out == nil {
		out = os.Stdout
	}
	base := log.New()
	base.SetOutput(out)
	if json {
		base.SetFormatter(&log.JSONFormatter{})
	} else {
		base.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	base.SetLevel(parsed)
	return New(base)
}

// With returns a logger carrying the extra fields on every line.
func (l *Logger) With(fields ...any) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(fields))}
}

// Debug implements types.Logger.
func (l *Logger) Debug(msg string, fields ...any) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

// Info implements types.Logger.
func (l *Logger) Info(msg string, fields ...any) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

// Error implements types.Logger.
func (l *Logger) Error(msg string, err error, fields ...any) {
	entry := l.entry.WithFields(toFields(fields))
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Error(msg)
}

// toFields pairs alternating key/value arguments. A trailing key without a
// value is recorded under "extra".
func toFields(kv []any) log.Fields {
	fields := make(log.Fields, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = "field"
		}
		if i+1 >= len(kv) {
			fields["extra"] = kv[i]
			break
		}
		fields[key] = kv[i+1]
	}
	return fields
}
