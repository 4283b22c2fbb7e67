package shifts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/audit"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	chains map[int64]int64
	shifts map[int64]Shift
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		chains: map[int64]int64{3: 9, 4: 9, 5: 11},
		shifts: map[int64]Shift{},
		nextID: 100,
	}
}

func (m *memoryRepo) FindOpenShiftForUser(ctx context.Context, userID int64) (*Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shifts {
		if s.UserID == userID && s.Status == StatusOpen {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryRepo) CreateShift(ctx context.Context, draft Draft) (Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shifts {
		if s.Code == draft.Code || (s.UserID == draft.UserID && s.Status == StatusOpen) {
			return Shift{}, ErrAlreadyOpen
		}
	}
	m.nextID++
	shift := Shift{
		ID:          m.nextID,
		Code:        draft.Code,
		StoreID:     draft.StoreID,
		ChainID:     m.chains[draft.StoreID],
		UserID:      draft.UserID,
		Status:      StatusOpen,
		OpeningCash: draft.OpeningCash,
		Note:        draft.Note,
		OpenedAt:    draft.OpenedAt,
		CreatedAt:   draft.OpenedAt,
		UpdatedAt:   draft.OpenedAt,
	}
	m.shifts[shift.ID] = shift
	return shift, nil
}

func (m *memoryRepo) UpdateShiftOnClose(ctx context.Context, id int64, fields CloseFields) (Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shift, ok := m.shifts[id]
	if !ok {
		return Shift{}, shared.NotFound("shift", id)
	}
	if shift.Status != StatusOpen {
		return Shift{}, ErrAlreadyClosed
	}
	shift.Status = StatusClosed
	shift.ClosingCash = decimal.NewNullDecimal(fields.ClosingCash)
	rec := Reconcile(shift.OpeningCash, shift.TotalSales, shift.TotalRefunds, fields.ClosingCash)
	shift.ExpectedCash = decimal.NewNullDecimal(rec.Expected)
	shift.CashDifference = decimal.NewNullDecimal(rec.Difference)
	if fields.Note != nil {
		shift.Note = fields.Note
	}
	closedAt, closedBy := fields.ClosedAt, fields.ClosedBy
	shift.ClosedAt = &closedAt
	shift.ClosedBy = &closedBy
	shift.UpdatedAt = closedAt
	m.shifts[id] = shift
	return shift, nil
}

func (m *memoryRepo) FindShiftByID(ctx context.Context, id int64) (Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shift, ok := m.shifts[id]
	if !ok {
		return Shift{}, shared.NotFound("shift", id)
	}
	return shift, nil
}

func (m *memoryRepo) ListShifts(ctx context.Context, reach rbac.Reach, filter ListFilter) ([]Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Shift
	for _, s := range m.shifts {
		if !reach.All {
			inReach := s.UserID == reach.UserID ||
				(reach.ChainID != nil && *reach.ChainID == s.ChainID) ||
				(reach.StoreID != nil && *reach.StoreID == s.StoreID)
			if !inReach {
				continue
			}
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.StoreID != nil && *filter.StoreID != s.StoreID {
			continue
		}
		if filter.UserID != nil && *filter.UserID != s.UserID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryRepo) AddTotals(ctx context.Context, id int64, totals Totals) (Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shift, ok := m.shifts[id]
	if !ok {
		return Shift{}, shared.NotFound("shift", id)
	}
	if shift.Status != StatusOpen {
		return Shift{}, ErrAlreadyClosed
	}
	shift.TotalSales = shift.TotalSales.Add(totals.Sales)
	shift.TotalRefunds = shift.TotalRefunds.Add(totals.Refunds)
	shift.TotalOrders += totals.Orders
	m.shifts[id] = shift
	return shift, nil
}

// seed stores an open shift directly.
func (m *memoryRepo) seed(shift Shift) Shift {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shift.Status == "" {
		shift.Status = StatusOpen
	}
	shift.ChainID = m.chains[shift.StoreID]
	m.shifts[shift.ID] = shift
	return shift
}

// lateSaleRepo books a sale on the shift right before the close is written, the way a
// concurrent RecordSale landing between the service's read and its update would.
type lateSaleRepo struct {
	*memoryRepo
	sale decimal.Decimal
}

func (r *lateSaleRepo) UpdateShiftOnClose(ctx context.Context, id int64, fields CloseFields) (Shift, error) {
	if _, err := r.memoryRepo.AddTotals(ctx, id, Totals{Sales: r.sale, Orders: 1}); err != nil {
		return Shift{}, err
	}
	return r.memoryRepo.UpdateShiftOnClose(ctx, id, fields)
}

type decisionSpy struct {
	mu        sync.Mutex
	decisions []string
}

func (s *decisionSpy) ObserveDecision(mode, axis string, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, mode+"/"+axis)
}

func (s *decisionSpy) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.decisions...)
}

type rolePerms map[int64][]string

func (r rolePerms) PermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	return r[roleID], nil
}

const (
	roleOwner        int64 = 1
	roleChainManager int64 = 2
	roleCashier      int64 = 3
	roleStoreManager int64 = 4
	roleSupervisor   int64 = 5
)

var testRoles = rolePerms{
	roleOwner:        {shared.PermWildcard},
	roleChainManager: {shared.PermShiftView, shared.PermUsersView},
	roleCashier:      {shared.PermShiftOpen, shared.PermShiftView},
	roleStoreManager: {shared.PermShiftView},
	roleSupervisor:   {shared.PermShiftOpen, shared.PermShiftView, shared.PermCloseOthersShift},
}

func ptr[T any](v T) *T { return &v }

func storePrincipal(id, storeID, roleID int64) rbac.Principal {
	return rbac.Principal{ID: id, StoreID: ptr(storeID), Assignments: []rbac.Assignment{{
		ID: id * 10, UserID: id, RoleID: roleID, Level: rbac.LevelStore, StoreID: ptr(storeID), IsActive: true,
	}}}
}

func chainPrincipal(id, chainID int64) rbac.Principal {
	return rbac.Principal{ID: id, ChainID: ptr(chainID), Assignments: []rbac.Assignment{{
		ID: id * 10, UserID: id, RoleID: roleChainManager, Level: rbac.LevelChain, ChainID: ptr(chainID), IsActive: true,
	}}}
}

func ownerPrincipal(id int64) rbac.Principal {
	return rbac.Principal{ID: id, Assignments: []rbac.Assignment{{
		ID: id * 10, UserID: id, RoleID: roleOwner, Level: rbac.LevelGlobal, IsActive: true,
	}}}
}

type memorySink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (s *memorySink) Record(ctx context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Action+":"+string(rec.Outcome))
	}
	return out
}

type transitionSpy struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *transitionSpy) ObserveShiftTransition(transition, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	s.counts[transition+"/"+outcome]++
}

func (s *transitionSpy) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

type fixture struct {
	repo      *memoryRepo
	sink      *memorySink
	metrics   *transitionSpy
	decisions *decisionSpy
	service   *Service
	now       time.Time
}

func newFixture() *fixture {
	return newFixtureWith(func(r *memoryRepo) Repository { return r })
}

// newFixtureWith lets a test wrap the memory repository the service talks to.
func newFixtureWith(wrap func(*memoryRepo) Repository) *fixture {
	f := &fixture{
		repo:      newMemoryRepo(),
		sink:      &memorySink{},
		metrics:   &transitionSpy{},
		decisions: &decisionSpy{},
		now:       time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	f.service = NewService(ServiceConfig{
		Repo:     wrap(f.repo),
		Resolver: rbac.NewResolver(testRoles, nil, nil),
		Guard:    rbac.NewGuard(f.decisions),
		Audit:    audit.NewRecorder(f.sink, nil),
		Metrics:  f.metrics,
	})
	f.service.WithClock(func() time.Time { return f.now })
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
