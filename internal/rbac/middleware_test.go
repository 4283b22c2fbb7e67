package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type staticAuth struct {
	principals map[string]Principal
}

func (s staticAuth) Authenticate(ctx context.Context, token string) (Principal, error) {
	p, ok := s.principals[token]
	if !ok {
		return Principal{}, shared.Unauthenticated("invalid_token", "invalid token")
	}
	return p, nil
}

func newTestMiddleware() Middleware {
	store := newMemoryStore()
	store.addRole(3, "cashier", LevelStore, "shift.open", "shift.view")
	auth := staticAuth{principals: map[string]Principal{
		"cashier": {ID: 7, StoreID: ptr(int64(3)), Assignments: []Assignment{assignment(1, 3, LevelStore)}},
	}}
	return Middleware{Auth: auth, Resolver: NewResolver(store, nil, nil)}
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateStoresPrincipal(t *testing.T) {
	m := newTestMiddleware()
	var seen Principal
	h := m.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(h, "cashier")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(7), seen.ID)

	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "forged").Code)
}

func TestRequirePermissions(t *testing.T) {
	m := newTestMiddleware()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	cases := []struct {
		name   string
		guard  func(http.Handler) http.Handler
		status int
	}{
		{"any granted", m.RequireAny("roles.manage", "shift.open"), http.StatusOK},
		{"any missing", m.RequireAny("roles.manage"), http.StatusForbidden},
		{"all granted", m.RequireAll("shift.open", "SHIFT.VIEW"), http.StatusOK},
		{"all partial", m.RequireAll("shift.open", "close_others_shift"), http.StatusForbidden},
		{"empty list", m.RequireAny(), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := m.Authenticate()(tc.guard(ok))
			assert.Equal(t, tc.status, serve(h, "cashier").Code)
		})
	}
}

func TestRequireWithoutPrincipal(t *testing.T) {
	m := newTestMiddleware()
	h := m.RequireAny("shift.open")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
}
