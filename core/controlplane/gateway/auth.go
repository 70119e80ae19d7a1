package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cordum/cordum-packs/core/packs"
)

// AuthContext captures request identity for auditing.
type AuthContext struct {
	APIKey      string
	PrincipalID string
}

type authContextKey struct{}

// AuthProvider authenticates API requests.
type AuthProvider interface {
	AuthenticateHTTP(r *http.Request) (*AuthContext, error)
}

// APIKeyAuth accepts requests carrying one of a fixed set of keys in X-API-Key.
// With no keys configured every request is accepted.
type APIKeyAuth struct {
	keys map[string]struct{}
}

// NewAPIKeyAuth builds an authenticator from keys; blanks are ignored.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	set := map[string]struct{}{}
	for _, k := range keys {
		if k = normalizeAPIKey(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return &APIKeyAuth{keys: set}
}

func (a *APIKeyAuth) AuthenticateHTTP(r *http.Request) (*AuthContext, error) {
	if r == nil {
		return nil, errors.New("request required")
	}
	key := normalizeAPIKey(r.Header.Get("X-API-Key"))
	principal := strings.TrimSpace(r.Header.Get("X-Principal-Id"))
	if len(a.keys) == 0 {
		return &AuthContext{APIKey: key, PrincipalID: principal}, nil
	}
	if key == "" {
		return nil, errors.New("api key required")
	}
	if _, ok := a.keys[key]; !ok {
		return nil, errors.New("invalid api key")
	}
	return &AuthContext{APIKey: key, PrincipalID: principal}, nil
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "Bearer ")
	return strings.TrimSpace(key)
}

func authFromRequest(r *http.Request) *AuthContext {
	if r == nil {
		return nil
	}
	auth, _ := r.Context().Value(authContextKey{}).(*AuthContext)
	return auth
}

// apiKeyMiddleware enforces API key auth and carries the principal into the request context.
func apiKeyMiddleware(auth AuthProvider, next http.Handler) http.Handler {
	if auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		authCtx, err := auth.AuthenticateHTTP(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authCtx)
		if authCtx.PrincipalID != "" {
			ctx = packs.ContextWithUser(ctx, authCtx.PrincipalID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
