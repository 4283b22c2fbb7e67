package audithttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Record
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Record, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

type staticPerms map[int64][]string

func (s staticPerms) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	return s[roleID], nil
}

var (
	auditor = rbac.Principal{ID: 1, ChainID: ptr(int64(9)), Assignments: []rbac.Assignment{
		{ID: 1, UserID: 1, RoleID: 1, Level: rbac.LevelChain, ChainID: ptr(int64(9)), IsActive: true},
	}}
	cashier = rbac.Principal{ID: 7, StoreID: ptr(int64(3)), Assignments: []rbac.Assignment{
		{ID: 2, UserID: 7, RoleID: 2, Level: rbac.LevelStore, StoreID: ptr(int64(3)), IsActive: true},
	}}
)

func ptr[T any](v T) *T { return &v }

func newRouter(service *stubTimelineService, p rbac.Principal, exportLimit int) http.Handler {
	resolver := rbac.NewResolver(staticPerms{1: {"audit.view"}, 2: {"shift.open"}}, nil, nil)
	h := NewHandler(nil, service, rbac.Middleware{Resolver: resolver}, exportLimit)
	h.now = func() time.Time { return time.Date(2026, 3, 14, 15, 30, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(rbac.WithPrincipal(req.Context(), p)))
		})
	})
	r.Route("/audit", h.MountRoutes)
	return r
}

func TestTimelineDefaults(t *testing.T) {
	service := &stubTimelineService{}
	router := newRouter(service, auditor, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?action=shift.close&actor_id=7", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"rows":[],"paging":{"page":0,"has_next":false,"page_size":0}}`, rec.Body.String())

	f := service.lastFilters
	assert.Equal(t, time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), f.To)
	assert.Equal(t, "shift.close", f.Action)
	assert.Equal(t, int64(7), f.ActorID)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newRouter(&stubTimelineService{}, auditor, 0)
	for _, query := range []string{
		"from=2026-13-01",
		"from=2026-03-10&to=2026-03-01",
		"from=2025-01-01&to=2026-03-01",
		"page=0",
		"actor_id=abc",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestTimelineRequiresAuditView(t *testing.T) {
	router := newRouter(&stubTimelineService{}, cashier, 0)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Record{{
		ActorID:      7,
		Action:       "shift.open",
		ResourceType: "shift",
		ResourceID:   "101",
		Outcome:      audit.OutcomeSuccess,
		At:           time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}}}
	router := newRouter(service, auditor, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2026-03-01&to=2026-03-14", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2026-03-14T09:00:00Z,7,shift.open,shift,101,success,", lines[1])
}

func TestExportRateLimited(t *testing.T) {
	router := newRouter(&stubTimelineService{}, auditor, 2)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
