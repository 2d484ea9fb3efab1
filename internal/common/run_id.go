package common

import (
	"context"

	"github.com/segmentio/ksuid"
)

type ctxKey string

const RunIDKey string = "run_id"
const runIDKeyCtx ctxKey = ctxKey(RunIDKey)

// GenerateRunID returns a time-sortable globally unique identifier.
func GenerateRunID() string {
	return ksuid.New().String()
}

// WithRunID stores id in ctx unless a run ID is already set.
func WithRunID(ctx context.Context, id string) context.Context {
	if RunIDFromContext(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKeyCtx, id)
}

func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKeyCtx).(string)
	return id
}
