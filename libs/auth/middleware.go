package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/peerhours/libs/httpx"
)

type ctxKey struct{}

// IdentityFromContext returns the caller stored by RequireBearer.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequireBearer rejects requests without a valid bearer token and stores the caller identity.
func RequireBearer(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="availability"`)
				httpx.WriteError(w, r, http.StatusUnauthorized, "unauthenticated", "missing or invalid Authorization header")
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			claims, err := v.Verify(r.Context(), token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_token", "invalid token")
				return
			}

			ctx := ContextWithIdentity(r.Context(), Identity{UserID: claims.Subject, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserKey buckets rate limiting by authenticated user when present.
func UserKey(fallback func(*http.Request) string) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := IdentityFromContext(r.Context()); ok {
			return "user:" + id.UserID
		}
		return fallback(r)
	}
}
