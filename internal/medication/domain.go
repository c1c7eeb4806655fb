package medication

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status records the outcome of a scheduled dose.
type Status string

const (
	StatusGiven   Status = "GIVEN"
	StatusMissed  Status = "MISSED"
	StatusRefused Status = "REFUSED"
	StatusHeld    Status = "HELD"
)

var validStatuses = map[Status]bool{
	StatusGiven:   true,
	StatusMissed:  true,
	StatusRefused: true,
	StatusHeld:    true,
}

// Order is a standing prescription for an admission. MedicationItemID is nil
// for orders with no stocked medication, such as compounded preparations.
type Order struct {
	ID               int64
	AdmissionID      int64
	MedicationItemID *int64
	MedicationName   string
	DoseQuantity     int
	Instructions     string
	DiscontinuedAt   *time.Time
	CreatedAt        time.Time
}

// Discontinued reports whether the order has been stopped.
func (o Order) Discontinued() bool {
	return o.DiscontinuedAt != nil
}

// Administration is one recorded dose outcome. Only GIVEN doses against a
// stocked medication consume stock and bill; the other statuses are chart-only
// rows. Billable marks GIVEN doses regardless of whether anything was billed.
type Administration struct {
	ID             int64
	OrderID        int64
	AdmissionID    int64
	Status         Status
	Billable       bool
	DoseQuantity   int
	UnitPrice      decimal.Decimal
	Note           string
	ChargeID       *int64
	MovementID     *int64
	AdministeredBy int64
	AdministeredAt time.Time
}

// RecordInput groups the fields for recording a dose.
type RecordInput struct {
	OrderID int64
	Status  Status
	Note    string
	ActorID int64
}

var (
	// ErrOrderNotFound indicates the medication order does not exist.
	ErrOrderNotFound = errors.New("medication: order not found")
	// ErrOrderDiscontinued indicates a dose was recorded against a stopped order.
	ErrOrderDiscontinued = errors.New("medication: order is discontinued")
	// ErrAdmissionNotActive indicates the patient is no longer admitted.
	ErrAdmissionNotActive = errors.New("medication: admission is not active")
	// ErrInvalidStatus indicates an unknown administration status.
	ErrInvalidStatus = errors.New("medication: invalid administration status")
)
