package shifts

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes the shift ledger over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// MountRoutes registers shift routes. Authorization is decided per shift by the ledger.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.open)
	r.Get("/", h.list)
	r.Get("/mine", h.listOwn)
	r.Get("/current", h.current)
	r.Get("/{id}", h.get)
	r.Post("/{id}/close", h.close)
	r.Post("/{id}/sales", h.recordSale)
	r.Post("/{id}/refunds", h.recordRefund)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	var req OpenInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	shift, err := h.service.Open(r.Context(), p, req)
	if err != nil {
		h.fail(w, "open shift", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, shift)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req CloseInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	shift, err := h.service.Close(r.Context(), p, id, req)
	if err != nil {
		h.fail(w, "close shift", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shift)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shift, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get shift", err)
		return
	}
	httpx.JSON(w, http.StatusOK, shift)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shifts, err := h.service.FindAccessible(r.Context(), p, filter)
	if err != nil {
		h.fail(w, "list shifts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shifts": nonNil(shifts)})
}

func (h *Handler) listOwn(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	shifts, err := h.service.ListOwn(r.Context(), p, filter)
	if err != nil {
		h.fail(w, "list own shifts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shifts": nonNil(shifts)})
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	shift, err := h.service.GetCurrentOpenShift(r.Context(), p)
	if err != nil {
		h.fail(w, "current shift", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"shift": shift})
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	h.recordAmount(w, r, "record sale", h.service.RecordSale)
}

func (h *Handler) recordRefund(w http.ResponseWriter, r *http.Request) {
	h.recordAmount(w, r, "record refund", h.service.RecordRefund)
}

func (h *Handler) recordAmount(w http.ResponseWriter, r *http.Request, op string,
	post func(ctx context.Context, p rbac.Principal, id int64, amount decimal.Decimal) (Shift, error)) {
	p, _ := rbac.PrincipalFromContext(r.Context())
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	shift, err := post(r.Context(), p, id, req.Amount)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shift)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilter(q url.Values) (ListFilter, error) {
	var f ListFilter
	if v := q.Get("status"); v != "" {
		status := Status(v)
		if status != StatusOpen && status != StatusClosed {
			return ListFilter{}, shared.Validation("status", "status must be OPEN or CLOSED")
		}
		f.Status = status
	}
	var err error
	if f.StoreID, err = optionalID(q, "store_id"); err != nil {
		return ListFilter{}, err
	}
	if f.UserID, err = optionalID(q, "user_id"); err != nil {
		return ListFilter{}, err
	}
	if f.From, err = optionalTime(q, "from"); err != nil {
		return ListFilter{}, err
	}
	if f.To, err = optionalTime(q, "to"); err != nil {
		return ListFilter{}, err
	}
	if f.Limit, err = optionalInt(q, "limit"); err != nil {
		return ListFilter{}, err
	}
	if f.Offset, err = optionalInt(q, "offset"); err != nil {
		return ListFilter{}, err
	}
	return f, nil
}

func optionalID(q url.Values, key string) (*int64, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, shared.Validation(key, key+" must be a positive integer")
	}
	return &id, nil
}

func optionalTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, shared.Validation(key, key+" must be RFC 3339")
	}
	return t, nil
}

func optionalInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, shared.Validation(key, key+" must be a non-negative integer")
	}
	return n, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("id", "invalid shift id")
	}
	return id, nil
}

func nonNil(shifts []Shift) []Shift {
	if shifts == nil {
		return []Shift{}
	}
	return shifts
}
