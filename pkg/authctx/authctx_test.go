package authctx

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-tenancy/pkg/types"
)

func TestActorFromRequestReadsHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/audit", nil)
	req.Header.Set(HeaderActorType, "User")
	req.Header.Set(HeaderActorID, " 42 ")
	req.Header.Set(HeaderActorEmail, "ops@example.com")

	actor, err := ActorFromRequest(req)
	require.NoError(t, err)
	require.Equal(t, types.UserActor("42", "ops@example.com"), actor)
}

func TestActorFromRequestDropsEmailForMachines(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderActorType, "webhook")
	req.Header.Set(HeaderActorID, "stripe")
	req.Header.Set(HeaderActorEmail, "noreply@stripe.com")

	actor, err := ActorFromRequest(req)
	require.NoError(t, err)
	require.Equal(t, types.WebhookActor("stripe"), actor)
}

func TestActorFromRequestMissingReturnsRichError(t *testing.T) {
	_, err := ActorFromRequest(httptest.NewRequest("GET", "/", nil))
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, errors.As(err, &richErr))
	require.Equal(t, goerrors.CategoryAuth, richErr.Category)
	require.Equal(t, textCodeActorMissing, richErr.TextCode)
}

func TestActorFromRequestInvalidKind(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderActorType, "robot")

	_, err := ActorFromRequest(req)
	var richErr *goerrors.Error
	require.True(t, errors.As(err, &richErr))
	require.Equal(t, textCodeActorInvalid, richErr.TextCode)
}

func TestActorFromRequestUserWithoutID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(HeaderActorType, "user")

	_, err := ActorFromRequest(req)
	var richErr *goerrors.Error
	require.True(t, errors.As(err, &richErr))
	require.Equal(t, textCodeActorInvalid, richErr.TextCode)
}

func TestResolveActorRoundTrip(t *testing.T) {
	_, err := ResolveActor(context.Background())
	require.Error(t, err)

	ctx := WithActor(context.Background(), types.SystemActor())
	actor, err := ResolveActor(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActorSystem, actor.Kind)
}

func TestRequestContextFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.8:5123"
	req.Header.Set("User-Agent", "curl/8.4.0")
	req.Header.Set(HeaderRequestID, "req-9")

	rc := RequestContextFromRequest(req)
	require.Equal(t, "10.0.0.8", rc.IP)
	require.Equal(t, "curl/8.4.0", rc.UserAgent)
	require.Equal(t, "req-9", rc.RequestID)
	require.Equal(t, "req-9", rc.CorrelationID)

	req.Header.Set(HeaderForwardedFor, "203.0.113.7, 10.0.0.1")
	req.Header.Set(HeaderCorrelationID, "flow-1")
	rc = RequestContextFromRequest(req)
	require.Equal(t, "203.0.113.7", rc.IP)
	require.Equal(t, "flow-1", rc.CorrelationID)

	ctx := WithRequest(context.Background(), rc)
	require.Equal(t, rc, RequestFromContext(ctx))
}

func TestParseUserAgent(t *testing.T) {
	require.Nil(t, ParseUserAgent("").Map())

	info := ParseUserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	require.Equal(t, "Chrome", info.Browser)
	require.Equal(t, "120.0.0.0", info.BrowserVersion)
	require.False(t, info.Mobile)
	require.Equal(t, "Chrome", info.Map()["browser"])
}

func TestResolveActorFromRouter(t *testing.T) {
	_, err := ResolveActorFromRouter(nil)
	var rich *goerrors.Error
	require.True(t, errors.As(err, &rich))
	require.Equal(t, textCodeActorMissing, rich.TextCode)

	empty := router.NewMockContext()
	empty.On("Context").Return(context.Background())
	_, err = ResolveActorFromRouter(empty)
	require.True(t, errors.As(err, &rich))
	require.Equal(t, goerrors.CodeUnauthorized, rich.Code)

	actor := types.APIActor("billing-sync")
	req := types.RequestContext{RequestID: "req-1", CorrelationID: "corr-1"}
	populated := router.NewMockContext()
	populated.On("Context").Return(WithRequest(WithActor(context.Background(), actor), req))

	got, err := ResolveActorFromRouter(populated)
	require.NoError(t, err)
	require.Equal(t, actor, got)
	require.Equal(t, req, RequestFromRouter(populated))
	require.Equal(t, types.RequestContext{}, RequestFromRouter(nil))
}
