package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Authenticator verifies a bearer token and returns its principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

type principalKeyType struct{}

var principalKey principalKeyType

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal stored by Authenticate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// Middleware wires RBAC authentication and authorization helpers for HTTP handlers.
type Middleware struct {
	Auth     Authenticator
	Resolver *Resolver
	Logger   *slog.Logger
}

// Authenticate resolves the bearer token into a principal and rejects the request when
// none can be built.
func (m Middleware) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := m.Auth.Authenticate(r.Context(), bearerToken(r))
			if err != nil {
				m.respond(w, "rbac authenticate", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require any", func(set PermissionSet) bool { return set.HasAny(perms...) })
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require("rbac require all", func(set PermissionSet) bool { return set.HasAll(perms...) })
}

func (m Middleware) require(op string, check func(PermissionSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.Unauthenticated("missing_principal", "authentication required"))
				return
			}
			granted, err := m.Resolver.Resolve(r.Context(), p)
			if err != nil {
				m.respond(w, op, err)
				return
			}
			if !check(granted) {
				httpx.RespondError(w, shared.Forbidden(string(AxisPermission), "missing permission"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) respond(w http.ResponseWriter, op string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError && m.Logger != nil {
		m.Logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
