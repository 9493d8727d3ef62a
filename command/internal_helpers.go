package command

import (
	"context"
	"time"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func safeClock(clock types.Clock) types.Clock {
	if clock != nil {
		return clock
	}
	return types.SystemClock{}
}

func safeLogger(logger types.Logger) types.Logger {
	if logger != nil {
		return logger
	}
	return types.NopLogger{}
}

func now(clock types.Clock) time.Time {
	if clock == nil {
		return time.Now().UTC()
	}
	return clock.Now().UTC()
}

// actorRef is the value stored in *_by columns: the actor id when present,
// otherwise the actor kind.
func actorRef(actor types.Actor) *string {
	ref := actor.ID
	if ref == "" {
		ref = string(actor.Kind)
	}
	return &ref
}

func stringPtr(s string) *string {
	return &s
}

func emitTransitionHook(ctx context.Context, hooks types.Hooks, event types.TransitionEvent) {
	switch event.EntityType {
	case types.EntityTenant:
		if hooks.AfterTenantTransition != nil {
			hooks.AfterTenantTransition(ctx, event)
		}
	case types.EntitySubscription:
		if hooks.AfterSubscriptionTransition != nil {
			hooks.AfterSubscriptionTransition(ctx, event)
		}
	}
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
