package shifts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repository is the shift persistence the ledger needs.
type Repository interface {
	// FindOpenShiftForUser returns nil, nil when the user has no open shift.
	FindOpenShiftForUser(ctx context.Context, userID int64) (*Shift, error)
	// CreateShift inserts an OPEN shift atomically; it returns ErrAlreadyOpen when the
	// user already has one, whoever won the race.
	CreateShift(ctx context.Context, draft Draft) (Shift, error)
	// UpdateShiftOnClose closes an OPEN shift, reconciling expected cash and difference
	// against the totals stored at the moment of the write; it returns ErrAlreadyClosed
	// when the shift is no longer open.
	UpdateShiftOnClose(ctx context.Context, id int64, fields CloseFields) (Shift, error)
	FindShiftByID(ctx context.Context, id int64) (Shift, error)
	ListShifts(ctx context.Context, reach rbac.Reach, filter ListFilter) ([]Shift, error)
	// AddTotals accumulates totals on an OPEN shift.
	AddTotals(ctx context.Context, id int64, totals Totals) (Shift, error)
}

// TransitionObserver is notified of every attempted shift transition.
type TransitionObserver interface {
	ObserveShiftTransition(transition, outcome string)
}

// Transition names.
const (
	TransitionOpen  = "open"
	TransitionClose = "close"
)

// ServiceConfig wires the ledger's collaborators.
type ServiceConfig struct {
	Repo     Repository
	Resolver *rbac.Resolver
	Guard    *rbac.Guard
	Audit    *audit.Recorder
	Metrics  TransitionObserver
	Logger   *slog.Logger
}

// Service is the shift ledger.
type Service struct {
	repo     Repository
	resolver *rbac.Resolver
	guard    *rbac.Guard
	audit    *audit.Recorder
	metrics  TransitionObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the ledger.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := cfg.Guard
	if guard == nil {
		guard = &rbac.Guard{}
	}
	return &Service{
		repo:     cfg.Repo,
		resolver: cfg.Resolver,
		guard:    guard,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if s != nil && clock != nil {
		s.now = clock
	}
}

// Open starts a shift for the principal at its store.
func (s *Service) Open(ctx context.Context, p rbac.Principal, in OpenInput) (shift Shift, err error) {
	defer func() {
		s.observe(TransitionOpen, err)
		s.audit.Record(ctx, audit.Entry{
			ActorID:      p.ID,
			Action:       "shift.open",
			ResourceType: "shift",
			ResourceID:   auditID(shift.ID),
			After:        openSnapshot(shift, in),
			Err:          err,
		})
	}()

	if p.StoreID == nil {
		return Shift{}, ErrNoStore
	}
	if err := validCash("opening_cash", in.OpeningCash); err != nil {
		return Shift{}, err
	}

	// The shift is always the principal's own at its own store, so there is no
	// foreign scope to check; the partial unique index decides concurrent opens.
	now := s.now()
	return s.repo.CreateShift(ctx, Draft{
		Code:        shiftCode(now, p.ID),
		StoreID:     *p.StoreID,
		UserID:      p.ID,
		OpeningCash: in.OpeningCash,
		Note:        in.Note,
		OpenedAt:    now,
	})
}

// Close closes a shift and reconciles its drawer. Failures are checked in order:
// NotFound, Forbidden, Conflict.
func (s *Service) Close(ctx context.Context, p rbac.Principal, id int64, in CloseInput) (shift Shift, err error) {
	var before Shift
	defer func() {
		s.observe(TransitionClose, err)
		entry := audit.Entry{
			ActorID:      p.ID,
			Action:       "shift.close",
			ResourceType: "shift",
			ResourceID:   strconv.FormatInt(id, 10),
			Err:          err,
		}
		if before.ID != 0 {
			entry.Before = before
		}
		if shift.ID != 0 {
			entry.After = shift
		}
		s.audit.Record(ctx, entry)
	}()

	before, err = s.repo.FindShiftByID(ctx, id)
	if err != nil {
		return Shift{}, err
	}
	subject, err := s.resolver.Subject(ctx, p)
	if err != nil {
		return Shift{}, err
	}
	decision := s.guard.Evaluate(subject, shiftTarget(before), rbac.ModeModify)
	if err := decision.Err(rbac.ModeModify); err != nil {
		return Shift{}, err
	}
	if !mayCloseFor(subject, decision, before) {
		return Shift{}, shared.Forbidden(string(rbac.AxisPermission), "closing another employee's shift requires "+shared.PermCloseOthersShift)
	}
	if before.Status == StatusClosed {
		return Shift{}, ErrAlreadyClosed
	}
	if err := validCash("closing_cash", in.ClosingCash); err != nil {
		return Shift{}, err
	}

	// Expected cash is computed by the repository from the totals it closes over, so a
	// sale recorded after the read above still counts.
	return s.repo.UpdateShiftOnClose(ctx, id, CloseFields{
		ClosingCash: in.ClosingCash,
		Note:        in.Note,
		ClosedAt:    s.now(),
		ClosedBy:    p.ID,
	})
}

// shiftCode is unique per open: the millisecond and user keep it readable, the random
// suffix keeps two opens in the same millisecond apart.
func shiftCode(now time.Time, userID int64) string {
	return fmt.Sprintf("SHIFT-%d-%d-%s", now.UnixMilli(), userID, strings.ToUpper(uuid.NewString()[:8]))
}

// mayCloseFor applies the close-others rule. Chain-wide and global authority already
// covers every drawer in reach; store-tier staff need close_others_shift for drawers
// that are not theirs.
func mayCloseFor(subject rbac.Subject, decision rbac.Decision, shift Shift) bool {
	if shift.UserID == subject.Principal.ID {
		return true
	}
	switch decision.Axis {
	case rbac.AxisGlobal, rbac.AxisChain:
		return true
	}
	return subject.Permissions.Has(shared.PermCloseOthersShift)
}

// Get returns a shift the principal may view.
func (s *Service) Get(ctx context.Context, p rbac.Principal, id int64) (Shift, error) {
	shift, err := s.repo.FindShiftByID(ctx, id)
	if err != nil {
		return Shift{}, err
	}
	subject, err := s.resolver.Subject(ctx, p)
	if err != nil {
		return Shift{}, err
	}
	if err := s.guard.Evaluate(subject, shiftTarget(shift), rbac.ModeView).Err(rbac.ModeView); err != nil {
		return Shift{}, err
	}
	return shift, nil
}

// FindAccessible lists the shifts within the principal's VIEW reach.
func (s *Service) FindAccessible(ctx context.Context, p rbac.Principal, filter ListFilter) ([]Shift, error) {
	subject, err := s.resolver.Subject(ctx, p)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListShifts(ctx, rbac.ReachOf(subject), filter.normalized())
	if err != nil {
		return nil, err
	}
	visible := rows[:0]
	for _, shift := range rows {
		if s.guard.CanAccess(subject, shiftTarget(shift), rbac.ModeView) {
			visible = append(visible, shift)
		}
	}
	return visible, nil
}

// GetCurrentOpenShift returns the principal's open shift, or nil when there is none.
func (s *Service) GetCurrentOpenShift(ctx context.Context, p rbac.Principal) (*Shift, error) {
	return s.repo.FindOpenShiftForUser(ctx, p.ID)
}

// ListOwn lists the principal's own shifts.
func (s *Service) ListOwn(ctx context.Context, p rbac.Principal, filter ListFilter) ([]Shift, error) {
	filter = filter.normalized()
	filter.UserID = nil
	return s.repo.ListShifts(ctx, rbac.SelfReach(p.ID), filter)
}

// RecordSale adds a completed sale to an open shift.
func (s *Service) RecordSale(ctx context.Context, p rbac.Principal, id int64, amount decimal.Decimal) (Shift, error) {
	if err := validAmount("amount", amount); err != nil {
		return Shift{}, err
	}
	return s.addTotals(ctx, p, id, Totals{Sales: amount, Orders: 1})
}

// RecordRefund adds a refund to an open shift.
func (s *Service) RecordRefund(ctx context.Context, p rbac.Principal, id int64, amount decimal.Decimal) (Shift, error) {
	if err := validAmount("amount", amount); err != nil {
		return Shift{}, err
	}
	return s.addTotals(ctx, p, id, Totals{Refunds: amount})
}

func (s *Service) addTotals(ctx context.Context, p rbac.Principal, id int64, totals Totals) (Shift, error) {
	shift, err := s.repo.FindShiftByID(ctx, id)
	if err != nil {
		return Shift{}, err
	}
	subject, err := s.resolver.Subject(ctx, p)
	if err != nil {
		return Shift{}, err
	}
	if err := s.guard.Evaluate(subject, shiftTarget(shift), rbac.ModeModify).Err(rbac.ModeModify); err != nil {
		return Shift{}, err
	}
	if shift.Status != StatusOpen {
		return Shift{}, ErrAlreadyClosed
	}
	return s.repo.AddTotals(ctx, id, totals)
}

func (s *Service) observe(transition string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveShiftTransition(transition, outcomeOf(err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrValidation):
		return "invalid"
	}
	return "error"
}

func shiftTarget(shift Shift) rbac.Target {
	chain, store, owner := shift.ChainID, shift.StoreID, shift.UserID
	return rbac.Target{ChainID: &chain, StoreID: &store, OwnerUserID: &owner}
}

func openSnapshot(shift Shift, in OpenInput) any {
	if shift.ID != 0 {
		return shift
	}
	return in
}

func auditID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
