package shared

import (
	"context"
	"strings"
)

// SystemActor is recorded for changes that were not triggered by a person.
const SystemActor = "System"

type actorContextKey struct{}

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext extracts the acting user, falling back to SystemActor.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return SystemActor
	}
	return actor
}
