// Package admissions is a read-only view over admission and room records
// owned by the patient-management side of the system. The ledger only needs
// identity, lifecycle status and the room rate.
package admissions

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the admission lifecycle states the ledger cares about.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusDischarged Status = "DISCHARGED"
)

// Type enumerates admission types. Only hospitalization drives diet charges.
type Type string

const (
	TypeHospitalization Type = "HOSPITALIZATION"
	TypeElectroshock    Type = "ELECTROSHOCK_THERAPY"
	TypeKetamine        Type = "KETAMINE_INFUSION"
)

// Admission is the collaborator record consumed by billing and medication.
type Admission struct {
	ID            int64
	Status        Status
	Type          Type
	AdmissionDate time.Time
	DischargedAt  *time.Time
	RoomID        *int64
	RoomNumber    string
	RoomRate      decimal.Decimal
}

// IsDischarged reports whether the admission left the accumulating state.
func (a Admission) IsDischarged() bool {
	return a.Status == StatusDischarged
}

// ErrNotFound indicates the admission does not exist.
var ErrNotFound = errors.New("admissions: admission not found")
