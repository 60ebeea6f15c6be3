package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/database"
)

type contextKey string

const identityContextKey contextKey = "identity"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RequireAuth resolves the Bearer token to an identity and stores it on the
// request context. With AuthDisabled, the first admin user stands in.
func RequireAuth(tokens *auth.TokenStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Cfg.AuthDisabled {
				user, err := database.GetFirstAdmin()
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "No admin user found"})
					return
				}
				id := auth.Identity{Username: user.Username, Role: user.Role, HomeDir: user.HomeDir}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey, id)))
				return
			}

			token := bearerToken(r)
			if token == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}

			id, ok := tokens.Verify(token)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication required"})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey, id)))
		})
	}
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r)
		if !ok || id.Role != "admin" {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetIdentity(r *http.Request) (auth.Identity, bool) {
	id, ok := r.Context().Value(identityContextKey).(auth.Identity)
	return id, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// WithIdentityForTest attaches an identity to a request. Test hook.
func WithIdentityForTest(r *http.Request, id auth.Identity) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), identityContextKey, id))
}
