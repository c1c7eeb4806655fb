package medication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-hms/meridian/internal/admissions"
	"github.com/meridian-hms/meridian/internal/billing"
	"github.com/meridian-hms/meridian/internal/inventory"
	"github.com/meridian-hms/meridian/internal/shared"
)

// AdmissionDirectory resolves admissions for administration checks.
type AdmissionDirectory interface {
	Get(ctx context.Context, id int64) (admissions.Admission, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator bumps the balance cache after a billed dose.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service records medication administrations against standing orders.
type Service struct {
	repo  RepositoryPort
	dir   AdmissionDirectory
	audit AuditPort
	cache CacheInvalidator
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, dir AdmissionDirectory, audit AuditPort, cache CacheInvalidator) *Service {
	return &Service{repo: repo, dir: dir, audit: audit, cache: cache, now: time.Now}
}

// Record writes one dose outcome. A GIVEN dose against a stocked medication
// consumes stock, records the exit movement and posts the medication charge in
// the same transaction as the administration row; any failure rolls all of it
// back. The other statuses, and orders without a linked item, write only the
// administration row.
func (s *Service) Record(ctx context.Context, input RecordInput) (Administration, error) {
	if !validStatuses[input.Status] {
		return Administration{}, ErrInvalidStatus
	}

	order, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return Administration{}, err
	}
	adm, err := s.dir.Get(ctx, order.AdmissionID)
	if err != nil {
		return Administration{}, err
	}
	if adm.IsDischarged() {
		return Administration{}, ErrAdmissionNotActive
	}

	var administration Administration
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.Discontinued() {
			return ErrOrderDiscontinued
		}
		dose := order.DoseQuantity
		if dose <= 0 {
			dose = 1
		}

		administration = Administration{
			OrderID:        order.ID,
			AdmissionID:    order.AdmissionID,
			Status:         input.Status,
			Billable:       input.Status == StatusGiven,
			DoseQuantity:   dose,
			UnitPrice:      decimal.Zero,
			Note:           input.Note,
			AdministeredBy: input.ActorID,
		}

		if input.Status == StatusGiven && order.MedicationItemID != nil {
			item, err := tx.GetItem(ctx, *order.MedicationItemID)
			if err != nil {
				return err
			}
			if !item.Active {
				return inventory.ErrItemInactive
			}

			newQuantity, err := tx.ApplyStockDelta(ctx, item.ID, -dose)
			if err != nil {
				if errors.Is(err, errStockNotAdjusted) {
					return &inventory.InsufficientStockError{
						ItemID:    item.ID,
						Available: item.Quantity,
						Requested: dose,
					}
				}
				return err
			}

			movement, err := tx.InsertMovement(ctx, inventory.Movement{
				ItemID:           item.ID,
				Type:             inventory.MovementTypeExit,
				Quantity:         dose,
				PreviousQuantity: newQuantity + dose,
				NewQuantity:      newQuantity,
				Note:             fmt.Sprintf("Medication order %d", order.ID),
				CreatedBy:        input.ActorID,
			})
			if err != nil {
				return err
			}

			day := s.now().UTC()
			charge, err := tx.InsertCharge(ctx, billing.Charge{
				AdmissionID:     order.AdmissionID,
				Type:            billing.ChargeTypeMedication,
				Description:     fmt.Sprintf("Medication: %s", item.Name),
				Quantity:        dose,
				UnitPrice:       item.Price,
				TotalAmount:     item.Price.Mul(decimal.NewFromInt(int64(dose))),
				ChargeDate:      time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
				InventoryItemID: &item.ID,
				CreatedBy:       input.ActorID,
			})
			if err != nil {
				return err
			}

			administration.UnitPrice = item.Price
			administration.ChargeID = &charge.ID
			administration.MovementID = &movement.ID
		}

		administration, err = tx.InsertAdministration(ctx, administration)
		return err
	})
	if err != nil {
		return Administration{}, err
	}

	if administration.ChargeID != nil && s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("medication:%s", administration.Status),
			Entity:   "medication_administration",
			EntityID: fmt.Sprintf("%d", administration.ID),
			Meta: map[string]any{
				"order_id":     administration.OrderID,
				"admission_id": administration.AdmissionID,
				"dose":         administration.DoseQuantity,
			},
			At: s.now(),
		})
	}
	return administration, nil
}

// History lists an order's administrations, most recent first.
func (s *Service) History(ctx context.Context, orderID int64, limit int) ([]Administration, error) {
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListAdministrations(ctx, orderID, limit)
}
