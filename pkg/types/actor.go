package types

import (
	"fmt"
	"strings"
)

// ActorKind tags who triggered a change.
type ActorKind string

const (
	ActorUser      ActorKind = "user"
	ActorSystem    ActorKind = "system"
	ActorAPI       ActorKind = "api"
	ActorWebhook   ActorKind = "webhook"
	ActorScheduler ActorKind = "scheduler"
)

// Valid reports whether the kind is one of the known actor kinds.
func (k ActorKind) Valid() bool {
	switch k {
	case ActorUser, ActorSystem, ActorAPI, ActorWebhook, ActorScheduler:
		return true
	}
	return false
}

// Actor describes whoever invoked an operation. Only user actors carry an
// email; the ID is an opaque string so upstream user stores can use integer
// or UUID keys.
type Actor struct {
	Kind  ActorKind `json:"type"`
	ID    string    `json:"id,omitempty"`
	Email string    `json:"email,omitempty"`
}

// UserActor builds a human actor.
func UserActor(id, email string) Actor {
	return Actor{Kind: ActorUser, ID: strings.TrimSpace(id), Email: strings.TrimSpace(email)}
}

// SystemActor builds the internal system actor.
func SystemActor() Actor { return Actor{Kind: ActorSystem} }

// APIActor builds an API client actor identified by token or client id.
func APIActor(id string) Actor { return Actor{Kind: ActorAPI, ID: strings.TrimSpace(id)} }

// WebhookActor builds an actor for inbound webhook processing.
func WebhookActor(source string) Actor {
	return Actor{Kind: ActorWebhook, ID: strings.TrimSpace(source)}
}

// SchedulerActor builds an actor for scheduled jobs.
func SchedulerActor(job string) Actor {
	return Actor{Kind: ActorScheduler, ID: strings.TrimSpace(job)}
}

// Validate checks the actor descriptor.
func (a Actor) Validate() error {
	if a.Kind == "" {
		return ErrActorRequired
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: unknown actor type %q", ErrValidation, a.Kind)
	}
	if a.Kind == ActorUser && a.ID == "" {
		return fmt.Errorf("%w: user actor requires id", ErrValidation)
	}
	return nil
}

// String renders the actor for logs.
func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.ID
}

// RequestContext carries caller supplied request metadata. The core never
// derives it from ambient state.
type RequestContext struct {
	IP            string
	UserAgent     string
	RequestID     string
	CorrelationID string
}
