package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type buildCtxKey struct{}
type phaseCtxKey struct{}
type componentCtxKey struct{}

// WithBuildID attaches a build job id to the context.
func WithBuildID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, buildCtxKey{}, id)
}

// BuildIDFromContext returns the build job id, or "" if absent.
func BuildIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(buildCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithPhase attaches the current build phase to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext returns the current phase, or "" if absent.
func PhaseFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithComponent attaches a component id to the context.
func WithComponent(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, componentCtxKey{}, id)
}

// ComponentFromContext returns the component id, or "" if absent.
func ComponentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(componentCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)

	if id := BuildIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("build.id", id))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("build.phase", phase))
	}
	if comp := ComponentFromContext(ctx); comp != "" {
		fields = append(fields, zap.String("component.id", comp))
	}

	return fields
}
