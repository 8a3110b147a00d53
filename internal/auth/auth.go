package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ignite/fan-automation/internal/config"
	"github.com/ignite/fan-automation/internal/pkg/httputil"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// ActorHeader carries the operator id set by a trusted gateway.
const ActorHeader = "X-Actor-ID"

type contextKey struct{}

// Actor is the authenticated caller of an admin endpoint.
type Actor struct {
	ID     string `json:"id"`
	Method string `json:"method"` // "api_key" or "gateway"
}

// AuthManager authenticates admin callers by API key, or by the gateway
// actor header when the deployment sits behind a trusted proxy.
type AuthManager struct {
	keys         map[string]string
	trustGateway bool
}

// NewAuthManager creates a new authentication manager
func NewAuthManager(cfg config.AuthConfig) *AuthManager {
	keys := make(map[string]string, len(cfg.APIKeys))
	for k, actor := range cfg.APIKeys {
		if k != "" && actor != "" {
			keys[k] = actor
		}
	}
	return &AuthManager{keys: keys, trustGateway: cfg.TrustGatewayHeader}
}

// Enabled reports whether any authentication method is configured.
func (am *AuthManager) Enabled() bool {
	return len(am.keys) > 0 || am.trustGateway
}

// Authenticate resolves the actor of r, or returns false.
func (am *AuthManager) Authenticate(r *http.Request) (Actor, bool) {
	if key := presentedKey(r); key != "" {
		for k, actor := range am.keys {
			if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
				return Actor{ID: actor, Method: "api_key"}, true
			}
		}
		return Actor{}, false
	}
	if am.trustGateway {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			return Actor{ID: id, Method: "gateway"}, true
		}
	}
	return Actor{}, false
}

// RequireAuth is middleware that requires an authenticated actor and stores
// it on the request context.
func (am *AuthManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := am.Authenticate(r)
		if !ok {
			logger.Warn("auth: rejected admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
			httputil.Unauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// ActorFromContext returns the actor stored by RequireAuth.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}

func presentedKey(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return strings.TrimSpace(v)
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return ""
}
