// Package logging implements a structured, leveled logging helper shared by
// every package in the follower: a small registry of named loggers built on
// top of go-kit's log package.
package logging

import (
	"io"
	"os"
	"sync"

	kitlog "github.com/go-kit/kit/log"
	kitlevel "github.com/go-kit/kit/log/level"
	golog "github.com/whyrusleeping/go-logging"
)

// Level is a logging level.
type Level uint8

// Supported levels, from least to most verbose.
const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// LogEvent is the well-known structured field name used to tag a log line
// with a machine-readable event identifier, passed as
// `logging.LogEvent, "some.event.name"` key/value pair to a logger call.
const LogEvent = "log_event"

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Logger)

	defaultLevel  = LevelInfo
	defaultWriter io.Writer = os.Stdout
)

// Logger is a named, leveled, structured logger.
type Logger struct {
	name  string
	level Level
	base  kitlog.Logger
}

// Initialize sets the process-wide default level and output writer. It must
// be called before the first call to GetLogger for the settings to apply to
// loggers created afterwards; existing loggers are unaffected.
func Initialize(w io.Writer, level Level) {
	registryMu.Lock()
	defer registryMu.Unlock()

	defaultWriter = w
	defaultLevel = level
}

// GetLogger returns the named logger, creating it on first use.
func GetLogger(name string) *Logger {
	registryMu.Lock()
	defer registryMu.Unlock()

	if l, ok := registry[name]; ok {
		return l
	}

	base := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(defaultWriter))
	base = kitlog.With(base, "ts", kitlog.DefaultTimestampUTC, "module", name)

	l := &Logger{
		name:  name,
		level: defaultLevel,
		base:  base,
	}
	registry[name] = l
	return l
}

// With returns a derived logger with the given key/value pairs appended to
// every subsequent log line.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{
		name:  l.name,
		level: l.level,
		base:  kitlog.With(l.base, keyvals...),
	}
}

func (l *Logger) log(lvl Level, levelFn func(kitlog.Logger) kitlog.Logger, msg string, keyvals []interface{}) {
	if lvl > l.level {
		return
	}
	logger := levelFn(l.base)
	args := make([]interface{}, 0, len(keyvals)+2)
	args = append(args, "msg", msg)
	args = append(args, keyvals...)
	_ = logger.Log(args...)
}

// Error logs at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, kitlevel.Error, msg, keyvals)
}

// Warn logs at warning level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, kitlevel.Warn, msg, keyvals)
}

// Info logs at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, kitlevel.Info, msg, keyvals)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, kitlevel.Debug, msg, keyvals)
}

// ConfigureLibp2pLogging routes go-libp2p's own logger (whyrusleeping/go-logging,
// the dependency the p2p transport stack pulls in) down to the same level as
// our own default, so operators get one coherent verbosity knob instead of
// two independently configured logging stacks.
func ConfigureLibp2pLogging(level Level) {
	var golevel golog.Level
	switch level {
	case LevelDebug:
		golevel = golog.DEBUG
	case LevelInfo:
		golevel = golog.INFO
	case LevelWarn:
		golevel = golog.WARNING
	default:
		golevel = golog.ERROR
	}
	golog.SetLevel(golevel, "")
}
