package tracing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RunIDKey is the context key for the active run ID
	RunIDKey ContextKey = "run_id"
	// SpanIDKey is the context key for the span being recorded
	SpanIDKey ContextKey = "span_id"
	// AppKey is the context key for the traced application name
	AppKey ContextKey = "app"
	// EnvKey is the context key for the environment label
	EnvKey ContextKey = "env"
)

const (
	runIDPrefix  = "run_"
	spanIDPrefix = "span_"
	idAlphabet   = "0123456789abcdef"
	spanIDLength = 12
)

// TraceContext holds tracing information
type TraceContext struct {
	RunID  string
	SpanID string
	App    string
	Env    string
}

// NewRunID generates a new run ID
func NewRunID() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return runIDPrefix + hex[:16]
}

// NewSpanID generates a new span ID
func NewSpanID() (string, error) {
	id, err := gonanoid.Generate(idAlphabet, spanIDLength)
	if err != nil {
		return "", err
	}
	return spanIDPrefix + id, nil
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithSpanID adds a span ID to the context
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

// WithApp adds the application identity to the context
func WithApp(ctx context.Context, app, env string) context.Context {
	ctx = context.WithValue(ctx, AppKey, app)
	return context.WithValue(ctx, EnvKey, env)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetSpanID retrieves the span ID from the context
func GetSpanID(ctx context.Context) string {
	if spanID, ok := ctx.Value(SpanIDKey).(string); ok {
		return spanID
	}
	return ""
}

// GetApp retrieves the application name from the context
func GetApp(ctx context.Context) string {
	if app, ok := ctx.Value(AppKey).(string); ok {
		return app
	}
	return ""
}

// GetEnv retrieves the environment label from the context
func GetEnv(ctx context.Context) string {
	if env, ok := ctx.Value(EnvKey).(string); ok {
		return env
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		RunID:  GetRunID(ctx),
		SpanID: GetSpanID(ctx),
		App:    GetApp(ctx),
		Env:    GetEnv(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.SpanID != "" {
		ctx = WithSpanID(ctx, tc.SpanID)
	}
	if tc.App != "" || tc.Env != "" {
		ctx = WithApp(ctx, tc.App, tc.Env)
	}
	return ctx
}
