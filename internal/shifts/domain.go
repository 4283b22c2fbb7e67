package shifts

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Status is the lifecycle state of a shift. OPEN moves to CLOSED exactly once.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// CashScale is the number of fractional digits money amounts may carry.
const CashScale = 2

var (
	// ErrAlreadyOpen is returned when the user already works an open shift.
	ErrAlreadyOpen = shared.Conflict("already_open_shift", "shift already open")
	// ErrAlreadyClosed is returned when closing or posting to a closed shift.
	ErrAlreadyClosed = shared.Conflict("already_closed_shift", "shift already closed")
	// ErrNoStore is returned when a principal without store affiliation opens a shift.
	ErrNoStore = shared.Validation("no_store_affiliation", "a store affiliation is required to operate a drawer")
)

// Shift is one cash-drawer session of one employee at one store. ChainID is the chain
// of the store.
type Shift struct {
	ID             int64               `json:"id"`
	Code           string              `json:"code"`
	StoreID        int64               `json:"store_id"`
	ChainID        int64               `json:"chain_id"`
	UserID         int64               `json:"user_id"`
	Status         Status              `json:"status"`
	OpeningCash    decimal.Decimal     `json:"opening_cash"`
	ClosingCash    decimal.NullDecimal `json:"closing_cash"`
	ExpectedCash   decimal.NullDecimal `json:"expected_cash"`
	CashDifference decimal.NullDecimal `json:"cash_difference"`
	TotalSales     decimal.Decimal     `json:"total_sales"`
	TotalRefunds   decimal.Decimal     `json:"total_refunds"`
	TotalOrders    int                 `json:"total_orders"`
	Note           *string             `json:"note,omitempty"`
	OpenedAt       time.Time           `json:"opened_at"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`
	ClosedBy       *int64              `json:"closed_by,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// OpenInput opens a shift.
type OpenInput struct {
	OpeningCash decimal.Decimal `json:"opening_cash"`
	Note        *string         `json:"note,omitempty" validate:"omitempty,max=500"`
}

// CloseInput closes a shift with the counted drawer cash.
type CloseInput struct {
	ClosingCash decimal.Decimal `json:"closing_cash"`
	Note        *string         `json:"note,omitempty" validate:"omitempty,max=500"`
}

// Draft is persisted atomically by Repository.CreateShift.
type Draft struct {
	Code        string
	StoreID     int64
	UserID      int64
	OpeningCash decimal.Decimal
	Note        *string
	OpenedAt    time.Time
}

// CloseFields are written by Repository.UpdateShiftOnClose. Expected cash and the
// difference are derived from the stored totals, not supplied by the caller.
type CloseFields struct {
	ClosingCash decimal.Decimal
	Note        *string
	ClosedAt    time.Time
	ClosedBy    int64
}

// Totals are added to an open shift's running totals.
type Totals struct {
	Sales   decimal.Decimal
	Refunds decimal.Decimal
	Orders  int
}

// ListFilter narrows shift listings. Zero values match everything.
type ListFilter struct {
	Status  Status    `json:"status,omitempty"`
	StoreID *int64    `json:"store_id,omitempty"`
	UserID  *int64    `json:"user_id,omitempty"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
	Limit   int       `json:"limit,omitempty"`
	Offset  int       `json:"offset,omitempty"`
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
