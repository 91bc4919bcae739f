package actor

import "context"

type ctxKey string

const actorKey ctxKey = "CASTELLAN_ACTOR"

// WithActor returns a derived context carrying the acting identity.
func WithActor(ctx context.Context, act Actor) context.Context {
	return context.WithValue(ctx, actorKey, act)
}

// FromContext extracts the Actor and a boolean indicating presence.
func FromContext(ctx context.Context) (Actor, bool) {
	v := ctx.Value(actorKey)
	if v == nil {
		return Actor{}, false
	}
	act, ok := v.(Actor)
	return act, ok
}

// FromContextOrAnonymous extracts the Actor, falling back to Anonymous.
func FromContextOrAnonymous(ctx context.Context) Actor {
	if act, ok := FromContext(ctx); ok {
		return act
	}
	return Anonymous()
}
