package testutil

import (
	"context"
	"net/http"
	"time"

	"trustcore/internal/authz"
	id "trustcore/pkg/domain"
	"trustcore/pkg/requestcontext"
)

// WithCaller adds an authenticated caller and its granted capabilities to
// the request context. This simulates what the auth middleware does.
func WithCaller(req *http.Request, caller string, caps ...authz.Capability) *http.Request {
	return req.WithContext(CallerContext(req.Context(), caller, caps...))
}

// CallerContext returns ctx carrying caller and its granted capabilities.
// Invalid account ids are silently ignored.
func CallerContext(ctx context.Context, caller string, caps ...authz.Capability) context.Context {
	if parsed, err := id.ParseAccountID(caller); err == nil {
		ctx = requestcontext.WithCaller(ctx, parsed)
	}
	if len(caps) > 0 {
		ctx = authz.WithGrantedCapabilities(ctx, caps)
	}
	return ctx
}

// At returns ctx with the request time pinned to now.
func At(ctx context.Context, now time.Time) context.Context {
	return requestcontext.WithTime(ctx, now)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
