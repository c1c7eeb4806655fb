package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementTypeEntry represents stock coming in.
	MovementTypeEntry MovementType = "ENTRY"
	// MovementTypeExit represents stock going out.
	MovementTypeExit MovementType = "EXIT"
)

// PricingType selects how an item is billed.
type PricingType string

const (
	PricingTypeFlat      PricingType = "FLAT"
	PricingTypeTimeBased PricingType = "TIME_BASED"
)

// TimeUnit qualifies time-based pricing.
type TimeUnit string

const (
	TimeUnitHour TimeUnit = "HOUR"
	TimeUnitDay  TimeUnit = "DAY"
)

// Item models a stocked inventory item. Quantity is a cached projection of
// all movements and is mutated only through the ledger's conditional update.
type Item struct {
	ID           int64
	CategoryID   int64
	Name         string
	Description  string
	Price        decimal.Decimal
	Cost         decimal.Decimal
	Quantity     int
	RestockLevel int
	PricingType  PricingType
	TimeUnit     *TimeUnit
	TimeInterval *int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Movement is the immutable audit record of one quantity change.
// NewQuantity - PreviousQuantity always equals the signed delta applied.
type Movement struct {
	ID               int64
	ItemID           int64
	Type             MovementType
	Quantity         int
	PreviousQuantity int
	NewQuantity      int
	Note             string
	CreatedBy        int64
	CreatedAt        time.Time
}

// Delta returns the signed quantity change the movement recorded.
func (m Movement) Delta() int {
	return m.NewQuantity - m.PreviousQuantity
}

// AdjustmentInput describes a request to adjust stock. Delta is signed:
// positive for an entry, negative for an exit.
type AdjustmentInput struct {
	ItemID  int64
	Delta   int
	Note    string
	ActorID int64
}

// ReadMode controls whether soft-deleted rows are visible.
type ReadMode int

const (
	// ActiveOnly filters out soft-deleted rows. Default for application flow.
	ActiveOnly ReadMode = iota
	// IncludeDeleted bypasses the soft-delete filter for administrative reads.
	IncludeDeleted
)

var (
	// ErrItemNotFound indicates a missing inventory item.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrItemInactive indicates the item exists but is deactivated.
	ErrItemInactive = errors.New("inventory: item is inactive")
	// ErrInvalidDelta indicates a zero quantity change.
	ErrInvalidDelta = errors.New("inventory: delta must be non zero")
)

// InsufficientStockError reports an exit that exceeds available quantity.
type InsufficientStockError struct {
	ItemID    int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for item %d: %d available, %d requested", e.ItemID, e.Available, e.Requested)
}
