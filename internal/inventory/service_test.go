package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian/internal/shared"
)

type memoryRepo struct {
	items     map[int64]Item
	movements []Movement
	nextID    int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: map[int64]Item{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	items := make(map[int64]Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	movements := append([]Movement(nil), m.movements...)
	nextID := m.nextID

	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.items, m.movements, m.nextID = items, movements, nextID
		return err
	}
	return nil
}

func (m *memoryRepo) GetItem(_ context.Context, id int64, mode ReadMode) (Item, error) {
	item, ok := m.items[id]
	if !ok || (mode == ActiveOnly && item.DeletedAt != nil) {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (m *memoryRepo) ListMovements(_ context.Context, itemID int64, page, perPage int) ([]Movement, shared.Pagination, error) {
	var all []Movement
	for i := len(m.movements) - 1; i >= 0; i-- {
		if m.movements[i].ItemID == itemID {
			all = append(all, m.movements[i])
		}
	}
	p := shared.NewPagination(page, perPage, len(all))
	start := (p.Page - 1) * p.PerPage
	if start > len(all) {
		start = len(all)
	}
	end := start + p.PerPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], p, nil
}

func (m *memoryRepo) LowStock(_ context.Context, categoryID *int64) ([]Item, error) {
	var out []Item
	for _, item := range m.items {
		if item.DeletedAt != nil || !item.Active || item.RestockLevel <= 0 {
			continue
		}
		if categoryID != nil && item.CategoryID != *categoryID {
			continue
		}
		if item.Quantity <= item.RestockLevel {
			out = append(out, item)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetItem(ctx context.Context, id int64, mode ReadMode) (Item, error) {
	return t.repo.GetItem(ctx, id, mode)
}

func (t *memoryTx) ApplyQuantityDelta(_ context.Context, itemID int64, delta int) (int, error) {
	item, ok := t.repo.items[itemID]
	if !ok || !item.Active || item.DeletedAt != nil || item.Quantity+delta < 0 {
		return 0, errNotAdjusted
	}
	item.Quantity += delta
	t.repo.items[itemID] = item
	return item.Quantity, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m Movement) (Movement, error) {
	m.ID = t.repo.nextID
	t.repo.nextID++
	m.CreatedAt = time.Now()
	t.repo.movements = append(t.repo.movements, m)
	return m, nil
}

func seedItem(repo *memoryRepo, quantity int) {
	repo.items[1] = Item{
		ID: 1, CategoryID: 2, Name: "Gauze pads", Price: decimal.RequireFromString("2.50"),
		Quantity: quantity, RestockLevel: 20, Active: true,
	}
}

func TestAdjustStockEntry(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 100)
	svc := NewService(repo, nil)

	movement, err := svc.AdjustStock(context.Background(), AdjustmentInput{
		ItemID: 1, Delta: 30, Note: "weekly delivery", ActorID: 9,
	})
	require.NoError(t, err)
	require.Equal(t, MovementTypeEntry, movement.Type)
	require.Equal(t, 30, movement.Quantity)
	require.Equal(t, 100, movement.PreviousQuantity)
	require.Equal(t, 130, movement.NewQuantity)
	require.Equal(t, 130, repo.items[1].Quantity)
}

func TestAdjustStockExit(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 100)
	svc := NewService(repo, nil)

	movement, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 1, Delta: -5})
	require.NoError(t, err)
	require.Equal(t, MovementTypeExit, movement.Type)
	require.Equal(t, 5, movement.Quantity)
	require.Equal(t, 100, movement.PreviousQuantity)
	require.Equal(t, 95, movement.NewQuantity)
	require.Equal(t, 95, repo.items[1].Quantity)
}

func TestAdjustStockInsufficientLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 3)
	svc := NewService(repo, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 1, Delta: -10})
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 3, stockErr.Available)
	require.Equal(t, 10, stockErr.Requested)

	require.Equal(t, 3, repo.items[1].Quantity)
	require.Empty(t, repo.movements)
}

func TestAdjustStockZeroDelta(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 10)
	svc := NewService(repo, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 1, Delta: 0})
	require.ErrorIs(t, err, ErrInvalidDelta)
}

func TestAdjustStockInactiveItem(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 10)
	item := repo.items[1]
	item.Active = false
	repo.items[1] = item
	svc := NewService(repo, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 1, Delta: 5})
	require.ErrorIs(t, err, ErrItemInactive)
}

func TestAdjustStockUnknownItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 99, Delta: 5})
	require.ErrorIs(t, err, ErrItemNotFound)
}

// Conservation: after any sequence of adjustments the quantity equals the
// initial amount plus the sum of all applied deltas.
func TestAdjustStockConservesQuantity(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 100)
	svc := NewService(repo, nil)

	deltas := []int{-5, 30, -40, -90, 15, -120, 7}
	applied := 0
	for _, delta := range deltas {
		if _, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 1, Delta: delta}); err == nil {
			applied += delta
		}
	}
	require.Equal(t, 100+applied, repo.items[1].Quantity)

	sum := 0
	for _, m := range repo.movements {
		sum += m.Delta()
	}
	require.Equal(t, applied, sum)
}

func TestMovementsPaginated(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 100)
	svc := NewService(repo, nil)

	for i := 0; i < 5; i++ {
		_, err := svc.AdjustStock(context.Background(), AdjustmentInput{ItemID: 1, Delta: -1})
		require.NoError(t, err)
	}

	movements, pagination, err := svc.Movements(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	require.Equal(t, 5, pagination.Total)
	require.Equal(t, 3, pagination.TotalPages)
	// Most recent first.
	require.Equal(t, 95, movements[0].NewQuantity)

	_, _, err = svc.Movements(context.Background(), 99, 1, 10)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestLowStock(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 10)
	repo.items[2] = Item{ID: 2, CategoryID: 3, Name: "Syringes", Quantity: 500, RestockLevel: 50, Active: true}
	svc := NewService(repo, nil)

	items, err := svc.LowStock(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, int64(1), items[0].ID)
}

type auditCapture struct {
	entries []shared.AuditLog
}

func (a *auditCapture) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func TestAdjustStockWritesAuditEntry(t *testing.T) {
	repo := newMemoryRepo()
	seedItem(repo, 100)
	audit := &auditCapture{}
	svc := NewService(repo, audit)

	_, err := svc.AdjustStock(context.Background(), AdjustmentInput{
		ItemID: 1, Delta: -5, Note: "breakage", ActorID: 9,
	})
	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "inventory:EXIT", audit.entries[0].Action)
	require.False(t, audit.entries[0].At.IsZero())
}
