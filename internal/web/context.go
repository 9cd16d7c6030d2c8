package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/imoveis/internal/core"
)

// Headers naming the acting user. They are set by the authenticating
// proxy or the API client.
const (
	HeaderActorID   = "X-Actor-Id"
	HeaderActorName = "X-Actor-Name"
)

// WithRequestMetadata adds the actor, IP and User-Agent to the context for
// creator stamping and audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr // Already processed by middleware.TrustedRealIP
	ua := r.Header.Get("User-Agent")
	ctx = core.ContextWithIPAddress(ctx, ip)
	ctx = core.ContextWithUserAgent(ctx, ua)
	ctx = core.ContextWithActor(ctx, core.Actor{
		ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
		Name: strings.TrimSpace(r.Header.Get(HeaderActorName)),
	})
	return ctx
}
