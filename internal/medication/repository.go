package medication

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian/internal/billing"
	"github.com/meridian-hms/meridian/internal/inventory"
	"github.com/meridian-hms/meridian/internal/platform/db"
)

// errStockNotAdjusted signals the conditional stock update matched no row.
var errStockNotAdjusted = errors.New("medication: stock not adjusted")

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListAdministrations(ctx context.Context, orderID int64, limit int) ([]Administration, error)
}

// TxRepository bundles the order, stock, charge and administration writes that
// must land in one transaction when a dose is given.
type TxRepository interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	GetItem(ctx context.Context, id int64) (inventory.Item, error)
	// ApplyStockDelta decrements the medication's stock under the non-negative
	// guard. Returns errStockNotAdjusted when no row matched.
	ApplyStockDelta(ctx context.Context, itemID int64, delta int) (newQuantity int, err error)
	InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error)
	InsertCharge(ctx context.Context, c billing.Charge) (billing.Charge, error)
	InsertAdministration(ctx context.Context, a Administration) (Administration, error)
}

// Repository persists medication data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

const orderColumns = `o.id, o.admission_id, o.medication_item_id, COALESCE(i.name, ''), o.dose_quantity,
	COALESCE(o.instructions, ''), o.discontinued_at, o.created_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.AdmissionID, &o.MedicationItemID, &o.MedicationName,
		&o.DoseQuantity, &o.Instructions, &o.DiscontinuedAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return o, nil
}

func getOrder(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id int64) (Order, error) {
	return scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+`
		FROM medication_orders o
		LEFT JOIN inventory_items i ON i.id = o.medication_item_id
		WHERE o.id = $1`, id))
}

// GetOrder returns a single order with its medication name.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, r.pool, id)
}

// ListAdministrations returns an order's dose history, most recent first.
func (r *Repository) ListAdministrations(ctx context.Context, orderID int64, limit int) ([]Administration, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, admission_id, status, billable, dose_quantity,
		unit_price, COALESCE(note, ''), charge_id, movement_id, administered_by, administered_at
		FROM medication_administrations
		WHERE order_id = $1
		ORDER BY administered_at DESC, id DESC
		LIMIT $2`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var administrations []Administration
	for rows.Next() {
		var a Administration
		if err := rows.Scan(&a.ID, &a.OrderID, &a.AdmissionID, &a.Status, &a.Billable, &a.DoseQuantity,
			&a.UnitPrice, &a.Note, &a.ChargeID, &a.MovementID, &a.AdministeredBy, &a.AdministeredAt); err != nil {
			return nil, err
		}
		administrations = append(administrations, a)
	}
	return administrations, rows.Err()
}

type txRepo struct {
	q pgx.Tx
}

func (r *txRepo) GetOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, r.q, id)
}

func (r *txRepo) GetItem(ctx context.Context, id int64) (inventory.Item, error) {
	var it inventory.Item
	err := r.q.QueryRow(ctx, `SELECT id, category_id, name, price, quantity, active
		FROM inventory_items WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&it.ID, &it.CategoryID, &it.Name, &it.Price, &it.Quantity, &it.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	if err != nil {
		return inventory.Item{}, err
	}
	return it, nil
}

func (r *txRepo) ApplyStockDelta(ctx context.Context, itemID int64, delta int) (int, error) {
	row := r.q.QueryRow(ctx, `UPDATE inventory_items
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND active AND deleted_at IS NULL AND quantity + $2 >= 0
		RETURNING quantity`, itemID, delta)
	var newQuantity int
	if err := row.Scan(&newQuantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errStockNotAdjusted
		}
		return 0, err
	}
	return newQuantity, nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m inventory.Movement) (inventory.Movement, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO inventory_movements
		(item_id, movement_type, quantity, previous_quantity, new_quantity, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`, m.ItemID, m.Type, m.Quantity, m.PreviousQuantity, m.NewQuantity, m.Note, m.CreatedBy)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return inventory.Movement{}, err
	}
	return m, nil
}

func (r *txRepo) InsertCharge(ctx context.Context, c billing.Charge) (billing.Charge, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO charges
		(admission_id, charge_type, description, quantity, unit_price, total_amount,
		 charge_date, inventory_item_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		c.AdmissionID, c.Type, c.Description, c.Quantity, c.UnitPrice, c.TotalAmount,
		c.ChargeDate, c.InventoryItemID, c.CreatedBy).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return billing.Charge{}, err
	}
	return c, nil
}

func (r *txRepo) InsertAdministration(ctx context.Context, a Administration) (Administration, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO medication_administrations
		(order_id, admission_id, status, billable, dose_quantity, unit_price, note, charge_id, movement_id, administered_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, administered_at`,
		a.OrderID, a.AdmissionID, a.Status, a.Billable, a.DoseQuantity, a.UnitPrice, a.Note,
		a.ChargeID, a.MovementID, a.AdministeredBy).
		Scan(&a.ID, &a.AdministeredAt)
	if err != nil {
		return Administration{}, err
	}
	return a, nil
}
