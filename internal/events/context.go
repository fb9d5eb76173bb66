package events

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
)

type contextKey int

const (
	loggerKey contextKey = iota
	runIDKey
	bookIDKey
)

// FromContext extracts logger from context.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	// Return default logger
	return defaultLogger
}

// WithLogger adds logger to context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRunID tags the context with a sync run ID. An empty id generates one.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewRunID()
	}
	logger := FromContext(ctx).WithField("run_id", id)
	ctx = context.WithValue(ctx, runIDKey, id)
	return WithLogger(ctx, logger)
}

// WithBookID adds book ID to context.
func WithBookID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("book_id", id)
	ctx = context.WithValue(ctx, bookIDKey, id)
	return WithLogger(ctx, logger)
}

// GetRunID retrieves run ID from context.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// GetBookID retrieves book ID from context.
func GetBookID(ctx context.Context) string {
	if id, ok := ctx.Value(bookIDKey).(string); ok {
		return id
	}
	return ""
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

var defaultLogger = &Logger{
	mu:     &sync.Mutex{},
	level:  InfoLevel,
	format: "text",
	output: os.Stderr,
	fields: make(map[string]interface{}),
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
