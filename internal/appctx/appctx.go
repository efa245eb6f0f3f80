// Package appctx carries request- and workflow-scoped values on a context.
package appctx

import (
	"context"
	"log/slog"
)

type (
	loggerKey struct{}
	runIDKey  struct{}
)

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger from the context (if present).
func LoggerFromContext(ctx context.Context) (*slog.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return l, ok && l != nil
}

// GetLogger returns the logger from the context, or slog.Default() if missing.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := LoggerFromContext(ctx); ok {
		return l
	}
	return slog.Default()
}

// WithRunID tags the context with a workflow run id. The context logger, if
// any, is replaced by one carrying a run_id attribute.
func WithRunID(ctx context.Context, runID string) context.Context {
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	if l, ok := LoggerFromContext(ctx); ok {
		ctx = WithLogger(ctx, l.With("run_id", runID))
	}
	return ctx
}

// RunID returns the workflow run id, or "" outside a workflow.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
