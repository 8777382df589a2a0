package vatstore

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with the vat's event helpers so that every
// crank and reap is logged with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger returns a Logger writing to handler, or to a text handler on
// stderr at info level when handler is nil.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger returns a Logger writing JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger returns a Logger writing logfmt-style text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithVat adds the vat ID to the logger.
func (l *Logger) WithVat(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("vat", id),
	}
}

// LogDelivery logs the outcome of one crank.
func (l *Logger) LogDelivery(ctx context.Context, duration time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "delivery failed",
			"duration", duration,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delivery completed",
			"duration", duration,
		)
	}
}

// LogReap logs a reap checkpoint.
func (l *Logger) LogReap(ctx context.Context, r *ReapReport, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reap failed",
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "reap completed",
		"deleted", len(r.Deleted),
		"drop_imports", len(r.DropImports),
		"retire_imports", len(r.RetireImports),
		"retire_exports", len(r.RetireExports),
		"passes", r.Passes,
		"duration", r.Duration,
	)
}

// LogDelete logs an object erased by a reap.
func (l *Logger) LogDelete(ctx context.Context, vref string, retired bool) {
	l.DebugContext(ctx, "object deleted",
		"vref", vref,
		"retired", retired,
	)
}

// LogFatal logs the error that failed the vat.
func (l *Logger) LogFatal(ctx context.Context, op string, err error) {
	l.ErrorContext(ctx, "vat failed",
		"op", op,
		"error", err,
	)
}
