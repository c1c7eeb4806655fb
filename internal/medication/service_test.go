package medication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hms/meridian/internal/admissions"
	"github.com/meridian-hms/meridian/internal/billing"
	"github.com/meridian-hms/meridian/internal/inventory"
	"github.com/meridian-hms/meridian/internal/shared"
)

type memoryStore struct {
	orders          map[int64]Order
	items           map[int64]inventory.Item
	movements       []inventory.Movement
	charges         []billing.Charge
	administrations []Administration
	nextID          int64
	failCharge      bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders: map[int64]Order{},
		items:  map[int64]inventory.Item{},
		nextID: 1,
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	items := make(map[int64]inventory.Item, len(m.items))
	for k, v := range m.items {
		items[k] = v
	}
	movements := append([]inventory.Movement(nil), m.movements...)
	charges := append([]billing.Charge(nil), m.charges...)
	administrations := append([]Administration(nil), m.administrations...)
	nextID := m.nextID

	if err := fn(ctx, &storeTx{store: m}); err != nil {
		m.items, m.movements, m.charges, m.administrations = items, movements, charges, administrations
		m.nextID = nextID
		return err
	}
	return nil
}

func (m *memoryStore) GetOrder(_ context.Context, id int64) (Order, error) {
	order, ok := m.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (m *memoryStore) ListAdministrations(_ context.Context, orderID int64, limit int) ([]Administration, error) {
	var out []Administration
	for i := len(m.administrations) - 1; i >= 0; i-- {
		if m.administrations[i].OrderID == orderID {
			out = append(out, m.administrations[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type storeTx struct {
	store *memoryStore
}

func (t *storeTx) GetOrder(ctx context.Context, id int64) (Order, error) {
	return t.store.GetOrder(ctx, id)
}

func (t *storeTx) GetItem(_ context.Context, id int64) (inventory.Item, error) {
	item, ok := t.store.items[id]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (t *storeTx) ApplyStockDelta(_ context.Context, itemID int64, delta int) (int, error) {
	item, ok := t.store.items[itemID]
	if !ok || !item.Active || item.Quantity+delta < 0 {
		return 0, errStockNotAdjusted
	}
	item.Quantity += delta
	t.store.items[itemID] = item
	return item.Quantity, nil
}

func (t *storeTx) InsertMovement(_ context.Context, m inventory.Movement) (inventory.Movement, error) {
	m.ID = t.store.nextID
	t.store.nextID++
	m.CreatedAt = time.Now()
	t.store.movements = append(t.store.movements, m)
	return m, nil
}

func (t *storeTx) InsertCharge(_ context.Context, c billing.Charge) (billing.Charge, error) {
	if t.store.failCharge {
		return billing.Charge{}, errors.New("charge insert failed")
	}
	c.ID = t.store.nextID
	t.store.nextID++
	c.CreatedAt = time.Now()
	t.store.charges = append(t.store.charges, c)
	return c, nil
}

func (t *storeTx) InsertAdministration(_ context.Context, a Administration) (Administration, error) {
	a.ID = t.store.nextID
	t.store.nextID++
	a.AdministeredAt = time.Now()
	t.store.administrations = append(t.store.administrations, a)
	return a, nil
}

type fakeDirectory struct {
	admissions map[int64]admissions.Admission
}

func (d *fakeDirectory) Get(_ context.Context, id int64) (admissions.Admission, error) {
	adm, ok := d.admissions[id]
	if !ok {
		return admissions.Admission{}, admissions.ErrNotFound
	}
	return adm, nil
}

type bumpCounter struct {
	bumps int
}

func (b *bumpCounter) Bump(context.Context) error {
	b.bumps++
	return nil
}

type auditSink struct {
	entries []shared.AuditLog
}

func (a *auditSink) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func seededStore(t *testing.T) *memoryStore {
	t.Helper()
	store := newMemoryStore()
	store.items[10] = inventory.Item{
		ID: 10, Name: "Sertraline 50mg", Price: mustDec("5.50"), Quantity: 10, Active: true,
	}
	itemID := int64(10)
	store.orders[1] = Order{
		ID: 1, AdmissionID: 7, MedicationItemID: &itemID, MedicationName: "Sertraline 50mg", DoseQuantity: 2,
	}
	store.nextID = 100
	return store
}

func mustDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func activeDir() *fakeDirectory {
	return &fakeDirectory{admissions: map[int64]admissions.Admission{
		7: {ID: 7, Status: admissions.StatusActive},
	}}
}

func TestRecordGivenConsumesStockAndBills(t *testing.T) {
	store := seededStore(t)
	cache := &bumpCounter{}
	audit := &auditSink{}
	svc := NewService(store, activeDir(), audit, cache)

	administration, err := svc.Record(context.Background(), RecordInput{
		OrderID: 1, Status: StatusGiven, Note: "taken with water", ActorID: 42,
	})
	require.NoError(t, err)
	require.Equal(t, StatusGiven, administration.Status)
	require.True(t, administration.Billable)
	require.Equal(t, 2, administration.DoseQuantity)
	require.NotNil(t, administration.ChargeID)
	require.NotNil(t, administration.MovementID)
	require.True(t, administration.UnitPrice.Equal(mustDec("5.50")))

	require.Equal(t, 8, store.items[10].Quantity)

	require.Len(t, store.movements, 1)
	movement := store.movements[0]
	require.Equal(t, inventory.MovementTypeExit, movement.Type)
	require.Equal(t, 2, movement.Quantity)
	require.Equal(t, 10, movement.PreviousQuantity)
	require.Equal(t, 8, movement.NewQuantity)
	require.Equal(t, int64(42), movement.CreatedBy)

	require.Len(t, store.charges, 1)
	charge := store.charges[0]
	require.Equal(t, billing.ChargeTypeMedication, charge.Type)
	require.Equal(t, "Medication: Sertraline 50mg", charge.Description)
	require.True(t, charge.TotalAmount.Equal(mustDec("11.00")))
	require.Equal(t, int64(7), charge.AdmissionID)

	require.Equal(t, 1, cache.bumps)
	require.Len(t, audit.entries, 1)
	require.False(t, audit.entries[0].At.IsZero())
}

func TestRecordChartOnlyStatuses(t *testing.T) {
	for _, status := range []Status{StatusMissed, StatusRefused, StatusHeld} {
		store := seededStore(t)
		cache := &bumpCounter{}
		svc := NewService(store, activeDir(), nil, cache)

		administration, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: status})
		require.NoError(t, err)
		require.False(t, administration.Billable)
		require.Nil(t, administration.ChargeID)
		require.Nil(t, administration.MovementID)
		require.True(t, administration.UnitPrice.IsZero())

		require.Equal(t, 10, store.items[10].Quantity)
		require.Empty(t, store.movements)
		require.Empty(t, store.charges)
		require.Len(t, store.administrations, 1)
		require.Equal(t, 0, cache.bumps)
	}
}

func TestRecordGivenWithoutLinkedItem(t *testing.T) {
	store := seededStore(t)
	store.orders[2] = Order{ID: 2, AdmissionID: 7, DoseQuantity: 1}
	svc := NewService(store, activeDir(), nil, nil)

	administration, err := svc.Record(context.Background(), RecordInput{OrderID: 2, Status: StatusGiven})
	require.NoError(t, err)
	require.True(t, administration.Billable)
	require.Nil(t, administration.ChargeID)
	require.Nil(t, administration.MovementID)
	require.Empty(t, store.movements)
	require.Empty(t, store.charges)
}

func TestRecordInsufficientStockRollsBack(t *testing.T) {
	store := seededStore(t)
	item := store.items[10]
	item.Quantity = 1
	store.items[10] = item
	svc := NewService(store, activeDir(), nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: StatusGiven})
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 1, stockErr.Available)
	require.Equal(t, 2, stockErr.Requested)

	require.Equal(t, 1, store.items[10].Quantity)
	require.Empty(t, store.movements)
	require.Empty(t, store.charges)
	require.Empty(t, store.administrations)
}

func TestRecordChargeFailureRestoresStock(t *testing.T) {
	store := seededStore(t)
	store.failCharge = true
	svc := NewService(store, activeDir(), nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: StatusGiven})
	require.Error(t, err)

	require.Equal(t, 10, store.items[10].Quantity)
	require.Empty(t, store.movements)
	require.Empty(t, store.administrations)
}

func TestRecordDiscontinuedOrder(t *testing.T) {
	store := seededStore(t)
	order := store.orders[1]
	at := time.Now()
	order.DiscontinuedAt = &at
	store.orders[1] = order
	svc := NewService(store, activeDir(), nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: StatusGiven})
	require.ErrorIs(t, err, ErrOrderDiscontinued)
	require.Equal(t, 10, store.items[10].Quantity)
}

func TestRecordRequiresActiveAdmission(t *testing.T) {
	store := seededStore(t)
	at := time.Now()
	dir := &fakeDirectory{admissions: map[int64]admissions.Admission{
		7: {ID: 7, Status: admissions.StatusDischarged, DischargedAt: &at},
	}}
	svc := NewService(store, dir, nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: StatusGiven})
	require.ErrorIs(t, err, ErrAdmissionNotActive)
}

func TestRecordUnknownOrder(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, activeDir(), nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{OrderID: 99, Status: StatusGiven})
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRecordInvalidStatus(t *testing.T) {
	store := seededStore(t)
	svc := NewService(store, activeDir(), nil, nil)

	_, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: Status("APPLIED")})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestDoseDefaultsToOne(t *testing.T) {
	store := seededStore(t)
	order := store.orders[1]
	order.DoseQuantity = 0
	store.orders[1] = order
	svc := NewService(store, activeDir(), nil, nil)

	administration, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: StatusGiven})
	require.NoError(t, err)
	require.Equal(t, 1, administration.DoseQuantity)
	require.Equal(t, 9, store.items[10].Quantity)
}

func TestHistoryMostRecentFirst(t *testing.T) {
	store := seededStore(t)
	svc := NewService(store, activeDir(), nil, nil)

	for _, status := range []Status{StatusGiven, StatusMissed, StatusGiven} {
		_, err := svc.Record(context.Background(), RecordInput{OrderID: 1, Status: status})
		require.NoError(t, err)
	}

	history, err := svc.History(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, StatusGiven, history[0].Status)
	require.Equal(t, StatusMissed, history[1].Status)

	_, err = svc.History(context.Background(), 99, 0)
	require.ErrorIs(t, err, ErrOrderNotFound)
}
