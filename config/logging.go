package config

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Open returns the configured log destination. Closing stdout or stderr
// does nothing.
func (c LogConfig) Open() (io.WriteCloser, error) {
	switch c.Output {
	case "", "stderr":
		return nopCloser{os.Stderr}, nil
	case "stdout":
		return nopCloser{os.Stdout}, nil
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output: %w", err)
		}
		return f, nil
	}
}

// Enabled reports whether messages at level are written
func (c LogConfig) Enabled(level LogLevel) bool {
	return levelRank(level) >= levelRank(c.Level)
}

// NewLogger returns a logger for component that writes informational
// messages to w, or discards them when the configured level is higher
func NewLogger(w io.Writer, cfg LogConfig, component string) *log.Logger {
	if !cfg.Enabled(LogLevelInfo) {
		w = io.Discard
	}
	return log.New(w, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

// DebugLogger is like NewLogger for debug messages
func DebugLogger(w io.Writer, cfg LogConfig, component string) *log.Logger {
	if !cfg.Enabled(LogLevelDebug) {
		w = io.Discard
	}
	return log.New(w, "["+component+"] ", log.LstdFlags|log.Lmicroseconds)
}

func levelRank(l LogLevel) int {
	switch l {
	case LogLevelTrace:
		return 0
	case LogLevelDebug:
		return 1
	case LogLevelInfo:
		return 2
	case LogLevelWarn:
		return 3
	case LogLevelError:
		return 4
	case LogLevelFatal:
		return 5
	default:
		return 2
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
