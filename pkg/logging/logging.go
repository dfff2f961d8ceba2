package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger = zerolog.New(io.Discard)
	mu     sync.RWMutex
)

// Initialize sets up the package logger. Output goes to w as human-readable
// console lines; debug enables debug-level records.
func Initialize(w io.Writer, debug bool) {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
}

// InitializeJSON is Initialize without the console formatting, for callers
// that ship logs to a collector.
func InitializeJSON(w io.Writer, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	l := zerolog.New(w).Level(level).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
}

func current() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := logger
	return &l
}

// LogDebug logs msg with alternating key/value pairs.
func LogDebug(msg string, kv ...interface{}) {
	current().Debug().Fields(kv).Msg(msg)
}

func LogInfo(msg string, kv ...interface{}) {
	current().Info().Fields(kv).Msg(msg)
}

func LogWarning(msg string, kv ...interface{}) {
	current().Warn().Fields(kv).Msg(msg)
}

// LogError logs err under msg. A nil err is logged as a plain error record.
func LogError(err error, msg string, kv ...interface{}) {
	current().Error().Err(err).Fields(kv).Msg(msg)
}
