package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PermissionCatalog lists the known permissions.
type PermissionCatalog interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// Handler exposes assignment and permission endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
	catalog  PermissionCatalog
	rbac     Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, catalog PermissionCatalog, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, resolver: resolver, catalog: catalog, rbac: rbac}
}

// MountRoutes registers RBAC routes. The router must already run Authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me/permissions", h.myPermissions)
	r.Get("/users/{id}/assignments", h.listAssignments)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermRolesView, shared.PermRolesManage))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermAssignRoles))
		r.Post("/assignments", h.assign)
		r.Delete("/assignments/{id}", h.revoke)
	})
}

type permissionsResponse struct {
	UserID      int64    `json:"user_id"`
	Level       *Level   `json:"level,omitempty"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	subject, err := h.resolver.Subject(r.Context(), p)
	if err != nil {
		h.fail(w, "resolve permissions", err)
		return
	}
	resp := permissionsResponse{UserID: p.ID, Permissions: subject.Permissions.Codes()}
	if subject.Level != LevelNone {
		level := subject.Level
		resp.Level = &level
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	userID, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignments, err := h.service.ListAssignments(r.Context(), p, userID)
	if err != nil {
		h.fail(w, "list assignments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	var in AssignInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.ExpiresAt != nil {
		utc := in.ExpiresAt.UTC().Truncate(time.Second)
		in.ExpiresAt = &utc
	}
	assignment, err := h.service.AssignRole(r.Context(), p, in)
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignment, err := h.service.RevokeAssignment(r.Context(), p, id)
	if err != nil {
		h.fail(w, "revoke assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("id", "invalid id")
	}
	return id, nil
}
