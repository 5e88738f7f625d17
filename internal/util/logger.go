// Package util provides helper functions for logging events
package util

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// Level is the minimum severity a Logger writes.
type Level int32

// Log levels, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
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
	}
	return "UNKNOWN"
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

var globalLevel atomic.Int32

func init() { globalLevel.Store(int32(LevelInfo)) }

// SetupLogger configures the process-wide log flags and minimum level.
func SetupLogger(level string) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	globalLevel.Store(int32(ParseLevel(level)))
}

// Logger writes leveled lines tagged with a component name.
type Logger struct {
	component string
	out       *log.Logger
}

// NewLogger returns a component logger writing to the standard logger's output.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// NewLoggerTo returns a component logger writing to w without extra flags.
func NewLoggerTo(w io.Writer, component string) *Logger {
	return &Logger{component: component, out: log.New(w, "", 0)}
}

// With returns a logger for a sub-component sharing the same output.
func (l *Logger) With(sub string) *Logger {
	return &Logger{component: l.component + "/" + sub, out: l.out}
}

func (l *Logger) logf(level Level, msg string, args ...any) {
	if level < Level(globalLevel.Load()) {
		return
	}
	line := fmt.Sprintf("[%s] %s | [%s] %s", level, time.Now().Format(time.RFC3339), l.component, fmt.Sprintf(msg, args...))
	if l.out != nil {
		l.out.Println(line)
		return
	}
	log.Println(line)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(msg string, args ...any) { l.logf(LevelDebug, msg, args...) }

// Infof logs at info level.
func (l *Logger) Infof(msg string, args ...any) { l.logf(LevelInfo, msg, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(msg string, args ...any) { l.logf(LevelWarn, msg, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(msg string, args ...any) { l.logf(LevelError, msg, args...) }

// Info prints general system information messages with timestamp.
func Info(msg string, args ...any) {
	log.Printf("[INFO] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}

// Error prints error messages with timestamp.
func Error(msg string, args ...any) {
	log.Printf("[ERROR] %s | %s", time.Now().Format(time.RFC3339), fmt.Sprintf(msg, args...))
}
