package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/internal/authz"
	"trustcore/pkg/requestcontext"
)

func TestAuthenticate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := authz.NewTokenService("test-signing-key", "trustcore-test")

	var (
		seenCaller  string
		seenGranted bool
	)
	h := Authenticate(tokens, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		seenCaller = requestcontext.Caller(ctx).String()
		seenGranted = authz.ContextGrants{}.Authorize(ctx, "", authz.CapabilityOracle)
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous request passes through", func(t *testing.T) {
		seenCaller = "stale"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, seenCaller)
	})

	t.Run("valid token binds caller and capabilities", func(t *testing.T) {
		token, err := tokens.Issue("0xoracle", []authz.Capability{authz.CapabilityOracle}, time.Minute)
		require.NoError(t, err)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "0xoracle", seenCaller)
		assert.True(t, seenGranted)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer not-a-jwt")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("non-bearer scheme is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireCaller(t *testing.T) {
	h := RequireCaller(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r = r.WithContext(requestcontext.WithCaller(r.Context(), "0xabc"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
