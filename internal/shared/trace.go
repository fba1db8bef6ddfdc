// Package shared holds small cross-cutting helpers used by every layer:
// context-carried correlation IDs and secret redaction.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type sessionIDKey struct{}
type turnIDKey struct{}
type stageKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithSessionID attaches a session_id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts session_id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NewSessionID generates a new session_id.
func NewSessionID() string {
	return uuid.NewString()
}

// WithTurnID attaches the conversation turn number to the context.
func WithTurnID(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, turnIDKey{}, turn)
}

// TurnID extracts the turn number (0 if absent).
func TurnID(ctx context.Context) int {
	if v, ok := ctx.Value(turnIDKey{}).(int); ok {
		return v
	}
	return 0
}

// WithStage attaches the currently running stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageName extracts the current stage name from context. Returns "" if absent.
func StageName(ctx context.Context) string {
	if v, ok := ctx.Value(stageKey{}).(string); ok {
		return v
	}
	return ""
}
