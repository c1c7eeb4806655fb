package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeType enumerates billable line item categories.
type ChargeType string

const (
	ChargeTypeRoom       ChargeType = "ROOM"
	ChargeTypeMedication ChargeType = "MEDICATION"
	ChargeTypeProcedure  ChargeType = "PROCEDURE"
	ChargeTypeLab        ChargeType = "LAB"
	ChargeTypeService    ChargeType = "SERVICE"
	ChargeTypeDiet       ChargeType = "DIET"
	ChargeTypeAdjustment ChargeType = "ADJUSTMENT"
)

// manualChargeTypes are the types staff may post directly. ROOM and DIET are
// reserved for the recurring job, ADJUSTMENT for the adjustment operation.
var manualChargeTypes = map[ChargeType]bool{
	ChargeTypeMedication: true,
	ChargeTypeProcedure:  true,
	ChargeTypeLab:        true,
	ChargeTypeService:    true,
}

// Charge is a billable line item against an admission. Once InvoiceID is set
// the row is frozen: no field may change and it never moves to another invoice.
type Charge struct {
	ID              int64
	AdmissionID     int64
	Type            ChargeType
	Description     string
	Quantity        int
	UnitPrice       decimal.Decimal
	TotalAmount     decimal.Decimal
	ChargeDate      time.Time
	InventoryItemID *int64
	RoomID          *int64
	InvoiceID       *int64
	Reason          string
	CreatedBy       int64
	CreatedAt       time.Time
}

// TypeSubtotal summarises the captured charges of one type on an invoice.
type TypeSubtotal struct {
	Type   ChargeType
	Count  int
	Amount decimal.Decimal
}

// Invoice is the one-time immutable snapshot of an admission's unbilled charges.
type Invoice struct {
	ID          int64
	Number      string
	AdmissionID int64
	TotalAmount decimal.Decimal
	ChargeCount int
	Subtotals   []TypeSubtotal
	GeneratedBy int64
	GeneratedAt time.Time
}

// DailyBalance is one day of an admission's balance breakdown.
type DailyBalance struct {
	Date            time.Time       `json:"date"`
	DailyTotal      decimal.Decimal `json:"daily_total"`
	CumulativeTotal decimal.Decimal `json:"cumulative_total"`
	Charges         []BalanceLine   `json:"charges"`
}

// BalanceLine is a single charge inside a daily breakdown.
type BalanceLine struct {
	ChargeID    int64           `json:"charge_id"`
	Type        ChargeType      `json:"type"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Balance aggregates everything ever charged to an admission.
type Balance struct {
	AdmissionID  int64           `json:"admission_id"`
	TotalBalance decimal.Decimal `json:"total_balance"`
	Days         []DailyBalance  `json:"daily_breakdown"`
}

// CreateChargeInput groups fields for a manual charge.
type CreateChargeInput struct {
	AdmissionID     int64
	Type            ChargeType
	Description     string
	Quantity        int
	UnitPrice       decimal.Decimal
	ChargeDate      time.Time
	InventoryItemID *int64
	ActorID         int64
}

// AdjustmentInput groups fields for a billing correction.
type AdjustmentInput struct {
	AdmissionID int64
	Description string
	Amount      decimal.Decimal
	Reason      string
	ActorID     int64
}

// RecurringChargeInput describes one day of an automatic room or diet charge.
type RecurringChargeInput struct {
	AdmissionID int64
	RoomID      int64
	ChargeDate  time.Time
	Amount      decimal.Decimal
}

var (
	// ErrAdmissionNotFound indicates the admission does not exist.
	ErrAdmissionNotFound = errors.New("billing: admission not found")
	// ErrAdmissionNotDischarged indicates invoice generation was attempted too early.
	ErrAdmissionNotDischarged = errors.New("billing: admission is not discharged")
	// ErrInvoiceAlreadyExists indicates a duplicate generation attempt.
	ErrInvoiceAlreadyExists = errors.New("billing: invoice already exists for admission")
	// ErrInvoiceNotFound indicates no invoice exists for the admission.
	ErrInvoiceNotFound = errors.New("billing: invoice not found")
	// ErrChargeAlreadyInvoiced indicates an attempted mutation of a frozen charge.
	ErrChargeAlreadyInvoiced = errors.New("billing: charge already invoiced")
	// ErrReasonRequired indicates an adjustment without justification.
	ErrReasonRequired = errors.New("billing: adjustment reason is required")
	// ErrInvalidQuantity indicates a non-positive charge quantity.
	ErrInvalidQuantity = errors.New("billing: quantity must be positive")
	// ErrInvalidChargeType indicates a type not allowed for manual charges.
	ErrInvalidChargeType = errors.New("billing: charge type not allowed for manual charges")
	// ErrDietRateNotConfigured indicates the daily meal rate is unset.
	ErrDietRateNotConfigured = errors.New("billing: daily meal rate not configured")
)

// normalizeDate truncates a timestamp to its calendar day in UTC.
func normalizeDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
