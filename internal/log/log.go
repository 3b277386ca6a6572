// Package log provides leveled key=value logging for the vellum toolchain.
// Everything is written to the configured writer (stderr by default): when
// the language server is running, stdout carries the protocol stream and must
// stay clean.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "off", "none":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %q (expected debug|info|warn|error|off)", s)
	}
}

// Logger writes timestamped key=value lines. The zero value is not usable;
// construct with New or Nop.
type Logger struct {
	mu    *sync.Mutex
	w     io.Writer
	level Level
	name  string
}

// New creates a Logger writing entries at or above level to w.
func New(w io.Writer, level Level) *Logger {
	return &Logger{mu: &sync.Mutex{}, w: w, level: level}
}

// Stderr creates a Logger on os.Stderr.
func Stderr(level Level) *Logger {
	return New(os.Stderr, level)
}

// Nop creates a Logger that discards everything.
func Nop() *Logger {
	return New(io.Discard, LevelOff)
}

// Named returns a derived Logger tagged with name. Nested names are joined
// with a dot.
func (l *Logger) Named(name string) *Logger {
	joined := name
	if l.name != "" {
		joined = l.name + "." + name
	}
	return &Logger{mu: l.mu, w: l.w, level: l.level, name: joined}
}

// Enabled reports whether the given level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level && l.level != LevelOff
}

func (l *Logger) Debug(msg string, fields ...any) { l.log(LevelDebug, msg, fields...) }
func (l *Logger) Info(msg string, fields ...any)  { l.log(LevelInfo, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...any)  { l.log(LevelWarn, msg, fields...) }
func (l *Logger) Error(msg string, fields ...any) { l.log(LevelError, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...any) {
	if !l.Enabled(level) {
		return
	}

	// Format: 2025-12-06T10:45:00 [ERROR] [session] message key=value
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s]", level)
	if l.name != "" {
		fmt.Fprintf(&b, " [%s]", l.name)
	}
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	b.WriteByte('\n')

	l.mu.Lock()
	_, _ = io.WriteString(l.w, b.String())
	l.mu.Unlock()
}
