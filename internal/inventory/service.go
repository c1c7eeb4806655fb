package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-hms/meridian/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates stock ledger operations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// AdjustStock applies a signed quantity change to an item and records exactly
// one movement, all in one transaction. The conditional update is the sole
// synchronization point: concurrent exits cannot drive quantity negative.
func (s *Service) AdjustStock(ctx context.Context, input AdjustmentInput) (Movement, error) {
	if input.Delta == 0 {
		return Movement{}, ErrInvalidDelta
	}

	var movement Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, input.ItemID, ActiveOnly)
		if err != nil {
			return err
		}
		if !item.Active {
			return ErrItemInactive
		}

		newQuantity, err := tx.ApplyQuantityDelta(ctx, input.ItemID, input.Delta)
		if err != nil {
			if errors.Is(err, errNotAdjusted) {
				return &InsufficientStockError{
					ItemID:    input.ItemID,
					Available: item.Quantity,
					Requested: -input.Delta,
				}
			}
			return err
		}

		movementType := MovementTypeEntry
		quantity := input.Delta
		if input.Delta < 0 {
			movementType = MovementTypeExit
			quantity = -input.Delta
		}
		movement, err = tx.InsertMovement(ctx, Movement{
			ItemID:           input.ItemID,
			Type:             movementType,
			Quantity:         quantity,
			PreviousQuantity: newQuantity - input.Delta,
			NewQuantity:      newQuantity,
			Note:             input.Note,
			CreatedBy:        input.ActorID,
		})
		return err
	})
	if err != nil {
		return Movement{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("inventory:%s", movement.Type),
			Entity:   "inventory_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"item_id":      input.ItemID,
				"delta":        input.Delta,
				"new_quantity": movement.NewQuantity,
				"note":         input.Note,
			},
			At: s.now(),
		})
	}
	return movement, nil
}

// GetItem returns one item for application flow (soft-deleted rows hidden).
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id, ActiveOnly)
}

// Movements lists one page of an item's movement history, most recent first.
func (s *Service) Movements(ctx context.Context, itemID int64, page, perPage int) ([]Movement, shared.Pagination, error) {
	if _, err := s.repo.GetItem(ctx, itemID, ActiveOnly); err != nil {
		return nil, shared.Pagination{}, err
	}
	return s.repo.ListMovements(ctx, itemID, page, perPage)
}

// LowStock lists items at or below their restock threshold.
func (s *Service) LowStock(ctx context.Context, categoryID *int64) ([]Item, error) {
	return s.repo.LowStock(ctx, categoryID)
}
