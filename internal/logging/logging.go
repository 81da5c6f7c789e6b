package logging

import (
	"io"
	"log/slog"
)

// Logger tags every record with the component that emitted it. The default
// handler is looked up per record, so loggers created before Init (package
// level vars, long-lived components) still follow it.
type Logger struct {
	attrs []any
}

// Init installs the default handler. Stdout belongs to the TUI, so callers pass
// the file returned by tea.LogToFile (or io.Discard in tests).
func Init(w io.Writer, debug bool) {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		options.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, options)))
}

// New returns a logger for one component, eg. New("navigator").
func New(component string) *Logger {
	return &Logger{attrs: []any{"component", component}}
}

func (l *Logger) inner() *slog.Logger { return slog.Default().With(l.attrs...) }

func (l *Logger) Info(msg string, args ...any)  { l.inner().Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner().Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner().Error(msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.inner().Debug(msg, args...) }

// With returns a child logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	attrs := append(append([]any(nil), l.attrs...), args...)
	return &Logger{attrs: attrs}
}
