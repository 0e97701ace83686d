package middleware

import (
	"context"
	"net/http"
	"strings"
)

const actorIDContextKey contextKey = "actor_id"

// Auth guards /v1/ routes with a shared bearer token and requires callers to
// identify themselves with X-Actor-Id. The actor becomes the owner of every
// resource the request touches.
func Auth(requiredToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			if requiredToken != "" {
				authorization := r.Header.Get("Authorization")
				const prefix = "Bearer "
				if !strings.HasPrefix(authorization, prefix) {
					writeUnauthorized(w, r)
					return
				}
				token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
				if token == "" || token != requiredToken {
					writeUnauthorized(w, r)
					return
				}
			}

			actorID := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
			if actorID == "" || len(actorID) > 64 {
				writeUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), actorIDContextKey, actorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActorID returns the authenticated caller identity, or "" outside of
// authenticated routes.
func GetActorID(ctx context.Context) string {
	value, _ := ctx.Value(actorIDContextKey).(string)
	return value
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
