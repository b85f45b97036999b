package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type cycleCtxKey struct{}
type componentCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)

	if cycleID := CycleIDFromContext(ctx); cycleID != "" {
		fields = append(fields, zap.String("cycle.id", cycleID))
	}
	if component := ComponentFromContext(ctx); component != "" {
		fields = append(fields, zap.String("component", component))
	}

	return fields
}

// WithCycleID attaches a loop cycle identifier to the context.
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, cycleID)
}

// CycleIDFromContext extracts the cycle identifier, or "" if unset.
func CycleIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(cycleCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithComponent attaches a component name to the context.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentCtxKey{}, component)
}

// ComponentFromContext extracts the component name, or "" if unset.
func ComponentFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(componentCtxKey{}).(string); ok {
		return c
	}
	return ""
}
