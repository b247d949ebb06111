package log

import (
	"os"
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Stack dumps start with "goroutine NNN [...": 10 bytes of prefix,
	// then the id digits.
	goroutinePrefixLen = 10
	stackBufSize       = 32
)

var (
	Logger  zerolog.Logger
	bufPool = sync.Pool{New: func() interface{} { return make([]byte, stackBufSize) }}
)

// goroutineID parses the current goroutine id from the first stack line.
func goroutineID() string {
	buf, ok := bufPool.Get().([]byte)
	if !ok {
		return "unknown"
	}
	defer bufPool.Put(buf) //nolint:staticcheck // fixed-size byte slice, pooling is intentional

	n := runtime.Stack(buf, false)
	if n <= goroutinePrefixLen {
		return "unknown"
	}

	start := goroutinePrefixLen
	end := start
	for end < n && buf[end] >= '0' && buf[end] <= '9' {
		end++
	}
	if end == start {
		return "unknown"
	}
	return string(buf[start:end])
}

func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}

	Logger = zerolog.New(output).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger().
		Hook(zerolog.HookFunc(func(e *zerolog.Event, level zerolog.Level, msg string) {
			e.Str("goid", goroutineID())
		}))

	log.Logger = Logger
}

// Info logs an info message with goroutine ID.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Error logs an error message with goroutine ID.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Warn logs a warning message with goroutine ID.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Debug logs a debug message with goroutine ID.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Fatal logs a fatal message with goroutine ID and exits.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// With returns a component-scoped logger sharing the global configuration.
func With(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// SetDebugMode switches the logger to debug level.
func SetDebugMode() {
	Logger = Logger.Level(zerolog.DebugLevel)
	log.Logger = Logger
}
