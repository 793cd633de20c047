// Package log provides the process-wide structured logger for matrixsync.
// It wraps zerolog behind a small field-oriented API so library and CLI code
// log the same way without passing a logger through every call.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// InitLogger replaces the global logger.
// When pretty is true the output is rendered with zerolog's console writer,
// otherwise one JSON object is written per line.
func InitLogger(w io.Writer, level zerolog.Level, pretty bool) {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}

	mu.Lock()
	logger = zerolog.New(w).With().Timestamp().Logger().Level(level)
	mu.Unlock()
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(level zerolog.Level) {
	mu.Lock()
	logger = logger.Level(level)
	mu.Unlock()
}

// GetLevel returns the current minimum level.
func GetLevel() zerolog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return logger.GetLevel()
}

// ParseLevel converts a level name ("debug", "info", ...) to a zerolog level.
// An empty name maps to info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(name)
}

// Logger returns a copy of the current global zerolog logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Entry is a set of fields waiting for a message.
// Entries are values; adding a field returns a new Entry.
type Entry struct {
	fields map[string]interface{}
	err    error
}

// WithField starts an entry with a single field.
func WithField(key string, value interface{}) Entry {
	return Entry{}.WithField(key, value)
}

// WithFields starts an entry with several fields.
func WithFields(fields map[string]interface{}) Entry {
	return Entry{}.WithFields(fields)
}

// WithError starts an entry carrying err.
func WithError(err error) Entry {
	return Entry{err: err}
}

// WithField returns a copy of e with key set.
func (e Entry) WithField(key string, value interface{}) Entry {
	fields := make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return Entry{fields: fields, err: e.err}
}

// WithFields returns a copy of e with all of fields set.
func (e Entry) WithFields(fields map[string]interface{}) Entry {
	merged := make(map[string]interface{}, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return Entry{fields: merged, err: e.err}
}

// WithError returns a copy of e carrying err.
func (e Entry) WithError(err error) Entry {
	return Entry{fields: e.fields, err: err}
}

// Debug logs msg at debug level.
func (e Entry) Debug(msg string) { e.emit(zerolog.DebugLevel, msg) }

// Info logs msg at info level.
func (e Entry) Info(msg string) { e.emit(zerolog.InfoLevel, msg) }

// Warn logs msg at warn level.
func (e Entry) Warn(msg string) { e.emit(zerolog.WarnLevel, msg) }

// Error logs msg at error level.
func (e Entry) Error(msg string) { e.emit(zerolog.ErrorLevel, msg) }

func (e Entry) emit(level zerolog.Level, msg string) {
	l := Logger()
	event := l.WithLevel(level)
	if event == nil {
		return
	}
	if len(e.fields) > 0 {
		event = event.Fields(e.fields)
	}
	if e.err != nil {
		event = event.Err(e.err)
	}
	event.Msg(msg)
}

// Debug logs msg at debug level with no fields.
func Debug(msg string) { Entry{}.Debug(msg) }

// Info logs msg at info level with no fields.
func Info(msg string) { Entry{}.Info(msg) }

// Warn logs msg at warn level with no fields.
func Warn(msg string) { Entry{}.Warn(msg) }

// Error logs msg at error level with no fields.
func Error(msg string) { Entry{}.Error(msg) }
