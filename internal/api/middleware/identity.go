package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mcoot/storyguess/internal/api/apierr"
	"github.com/mcoot/storyguess/internal/model"
)

type contextKey string

const localIDContextKey contextKey = "local_id"

// IdentityCookie carries the client's local id for browsers
const IdentityCookie = "player_id"

// Identity reads the caller's local id from the request, if present.
// There are no accounts: the local id is a client-generated device token.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := extractLocalID(r); id != "" {
				r = r.WithContext(WithLocalID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdentity rejects requests without a local id
func RequireIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := GetLocalID(r.Context())
			if id == "" {
				id = extractLocalID(r)
			}
			if id == "" {
				apierr.WriteError(w, apierr.NewUnauthorizedError())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithLocalID(r.Context(), id)))
		})
	}
}

// extractLocalID checks the Authorization header, then the identity cookie
func extractLocalID(r *http.Request) model.LocalID {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return model.LocalID(strings.TrimSpace(token))
	}
	if cookie, err := r.Cookie(IdentityCookie); err == nil {
		return model.LocalID(strings.TrimSpace(cookie.Value))
	}
	return ""
}

// WithLocalID stores a local id on the context
func WithLocalID(ctx context.Context, id model.LocalID) context.Context {
	return context.WithValue(ctx, localIDContextKey, id)
}

// GetLocalID returns the caller's local id, or empty if none was sent
func GetLocalID(ctx context.Context) model.LocalID {
	id, _ := ctx.Value(localIDContextKey).(model.LocalID)
	return id
}
