// Package auth binds bearer-token claims to the request context.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"trustcore/internal/authz"
	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
	"trustcore/pkg/platform/httputil"
	"trustcore/pkg/requestcontext"
)

// TokenValidator verifies a bearer token and returns its claims.
type TokenValidator interface {
	Validate(tokenString string) (*authz.Claims, error)
}

const bearerPrefix = "Bearer "

// Authenticate resolves the Authorization header when present. A valid token
// sets the caller and its granted capabilities; an invalid one is rejected.
// Requests without a token continue anonymously so public reads keep working.
func Authenticate(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			token, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - malformed authorization header",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Ensure(err, dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = requestcontext.WithCaller(ctx, id.AccountID(claims.Subject))
			ctx = authz.WithGrantedCapabilities(ctx, claims.Capabilities)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCaller rejects anonymous requests.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestcontext.Caller(r.Context()).IsNil() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
