// Package logging is the logger every component is handed at construction.
//
// Components never reach for a global; the CLI builds one Logger at startup and
// passes it down. The interface has a single method so tests and alternative
// sinks stay trivial to write.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "", "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Logger interface {
	Record(level Level, component, message string)
}

// Slog writes records through a slog.Logger with the component as an attribute.
type Slog struct {
	l *slog.Logger
}

func NewSlog(l *slog.Logger) *Slog {
	if l == nil {
		l = slog.Default()
	}
	return &Slog{l: l}
}

// New builds a slog-backed Logger writing to w. format is "text" or "json".
func New(w io.Writer, level Level, format string) *Slog {
	opts := &slog.HandlerOptions{Level: level.slog()}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return NewSlog(slog.New(h))
}

func (s *Slog) Record(level Level, component, message string) {
	s.l.Log(context.Background(), level.slog(), message, slog.String("component", component))
}

type nop struct{}

func (nop) Record(Level, string, string) {}

// Nop discards everything.
var Nop Logger = nop{}

// Entry is one record captured by Memory.
type Entry struct {
	Level     Level
	Component string
	Message   string
}

// Memory keeps records in memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(level Level, component, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{Level: level, Component: component, Message: message})
}

func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Contains reports whether any record at level or above contains substr.
func (m *Memory) Contains(level Level, substr string) bool {
	for _, e := range m.Entries() {
		if e.Level >= level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
