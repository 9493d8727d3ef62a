// Package authctx resolves the actor and request metadata that callers attach
// to HTTP requests. Authentication itself happens upstream; this package only
// reads what the gateway forwarded.
package authctx

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/mssola/useragent"

	"github.com/goliatone/go-tenancy/pkg/types"
)

const (
	textCodeActorMissing = "ACTOR_CONTEXT_MISSING"
	textCodeActorInvalid = "ACTOR_CONTEXT_INVALID"
)

// Header names forwarded by the upstream gateway.
const (
	HeaderActorType     = "X-Actor-Type"
	HeaderActorID       = "X-Actor-Id"
	HeaderActorEmail    = "X-Actor-Email"
	HeaderRequestID     = "X-Request-Id"
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderForwardedFor  = "X-Forwarded-For"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	requestKey
)

// WithActor stores the resolved actor on the context.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	if ctx == nil {
		return types.Actor{}, false
	}
	actor, ok := ctx.Value(actorKey).(types.Actor)
	return actor, ok
}

// WithRequest stores request metadata on the context.
func WithRequest(ctx context.Context, req types.RequestContext) context.Context {
	return context.WithValue(ctx, requestKey, req)
}

// RequestFromContext returns the request metadata stored by WithRequest.
func RequestFromContext(ctx context.Context) types.RequestContext {
	if ctx == nil {
		return types.RequestContext{}
	}
	req, _ := ctx.Value(requestKey).(types.RequestContext)
	return req
}

// ResolveActor returns the actor stored on the context, failing with a rich
// unauthorized error when none was attached.
func ResolveActor(ctx context.Context) (types.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return types.Actor{}, errors.New("go-tenancy: actor context not found on request", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(textCodeActorMissing)
	}
	return actor, nil
}

// ResolveActorFromRouter mirrors ResolveActor for go-router transports where
// host middleware stores the actor on the request context.
func ResolveActorFromRouter(ctx router.Context) (types.Actor, error) {
	if ctx == nil {
		return types.Actor{}, errors.New("go-tenancy: missing router context", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(textCodeActorMissing)
	}
	return ResolveActor(ctx.Context())
}

// RequestFromRouter returns the request metadata stored on a router context.
func RequestFromRouter(ctx router.Context) types.RequestContext {
	if ctx == nil {
		return types.RequestContext{}
	}
	return RequestFromContext(ctx.Context())
}

// ActorFromRequest reads the forwarded actor headers.
func ActorFromRequest(r *http.Request) (types.Actor, error) {
	if r == nil {
		return types.Actor{}, errors.New("go-tenancy: missing request", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(textCodeActorMissing)
	}
	kind := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorType)))
	if kind == "" {
		return types.Actor{}, errors.New("go-tenancy: actor type header missing", errors.CategoryAuth).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(textCodeActorMissing)
	}
	actor := types.Actor{
		Kind:  types.ActorKind(kind),
		ID:    strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Email: strings.TrimSpace(r.Header.Get(HeaderActorEmail)),
	}
	if actor.Kind != types.ActorUser {
		actor.Email = ""
	}
	if err := actor.Validate(); err != nil {
		return types.Actor{}, errors.Wrap(err, errors.CategoryAuth, "go-tenancy: invalid actor headers").
			WithCode(errors.CodeUnauthorized).
			WithTextCode(textCodeActorInvalid)
	}
	return actor, nil
}

// RequestContextFromRequest captures the caller address, user agent and
// request identifiers. The correlation id falls back to the request id.
func RequestContextFromRequest(r *http.Request) types.RequestContext {
	if r == nil {
		return types.RequestContext{}
	}
	requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	correlationID := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
	if correlationID == "" {
		correlationID = requestID
	}
	return types.RequestContext{
		IP:            clientIP(r),
		UserAgent:     strings.TrimSpace(r.UserAgent()),
		RequestID:     requestID,
		CorrelationID: correlationID,
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get(HeaderForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientInfo is the parsed form of a user agent string.
type ClientInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// ParseUserAgent extracts browser and platform details. Empty input yields
// the zero value.
func ParseUserAgent(raw string) ClientInfo {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ClientInfo{}
	}
	ua := useragent.New(raw)
	browser, version := ua.Browser()
	return ClientInfo{
		Browser:        strings.TrimSpace(browser),
		BrowserVersion: strings.TrimSpace(version),
		OS:             strings.TrimSpace(ua.OS()),
		Mobile:         ua.Mobile(),
		Bot:            ua.Bot(),
	}
}

// Map renders the client info for entry metadata. Returns nil when nothing
// was parsed.
func (c ClientInfo) Map() map[string]any {
	if c == (ClientInfo{}) {
		return nil
	}
	out := map[string]any{"mobile": c.Mobile, "bot": c.Bot}
	if c.Browser != "" {
		out["browser"] = c.Browser
	}
	if c.BrowserVersion != "" {
		out["browser_version"] = c.BrowserVersion
	}
	if c.OS != "" {
		out["os"] = c.OS
	}
	return out
}
