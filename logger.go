package visq

import (
	"log/slog"
	"os"

	"github.com/visq/visq/query"
)

// Logger wraps slog.Logger with visq-specific context helpers, so the same
// field names show up across the whole query pipeline.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. If handler is nil, a
// text handler to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that writes human-readable text to
// stderr.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewJSONLogger creates a Logger that writes JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithQueryID tags the logger with a backend query id.
func (l *Logger) WithQueryID(qid int) *Logger {
	return &Logger{Logger: l.Logger.With("query_id", qid)}
}

// WithEngine tags the logger with an engine name.
func (l *Logger) WithEngine(engine string) *Logger {
	return &Logger{Logger: l.Logger.With("engine", engine)}
}

// WithSignature tags the logger with a query signature.
func (l *Logger) WithSignature(sig string) *Logger {
	return &Logger{Logger: l.Logger.With("signature", sig)}
}

// WithState tags the logger with a worker state.
func (l *Logger) WithState(s query.State) *Logger {
	return &Logger{Logger: l.Logger.With("state", s.String())}
}
