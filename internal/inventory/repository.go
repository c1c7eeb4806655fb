package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian/internal/platform/db"
	"github.com/meridian-hms/meridian/internal/shared"
)

// errNotAdjusted signals the conditional update matched no row. The service
// decides whether that means missing item, inactive item or insufficient stock.
var errNotAdjusted = errors.New("inventory: quantity not adjusted")

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, id int64, mode ReadMode) (Item, error)
	ListMovements(ctx context.Context, itemID int64, page, perPage int) ([]Movement, shared.Pagination, error)
	LowStock(ctx context.Context, categoryID *int64) ([]Item, error)
}

// TxRepository exposes transactional operations used by the service.
type TxRepository interface {
	GetItem(ctx context.Context, id int64, mode ReadMode) (Item, error)
	// ApplyQuantityDelta performs the single conditional update guarding the
	// non-negative invariant. Returns errNotAdjusted when no row matched.
	ApplyQuantityDelta(ctx context.Context, itemID int64, delta int) (newQuantity int, err error)
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

// Repository persists inventory data in PostgreSQL.
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

const itemColumns = `id, category_id, name, COALESCE(description, ''), price, cost, quantity,
	restock_level, pricing_type, time_unit, time_interval, active, created_at, updated_at, deleted_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.CategoryID, &it.Name, &it.Description, &it.Price, &it.Cost,
		&it.Quantity, &it.RestockLevel, &it.PricingType, &it.TimeUnit, &it.TimeInterval,
		&it.Active, &it.CreatedAt, &it.UpdatedAt, &it.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

func getItem(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, id int64, mode ReadMode) (Item, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`
	if mode == ActiveOnly {
		query += ` AND deleted_at IS NULL`
	}
	return scanItem(q.QueryRow(ctx, query, id))
}

// GetItem returns a single item. ActiveOnly hides soft-deleted rows.
func (r *Repository) GetItem(ctx context.Context, id int64, mode ReadMode) (Item, error) {
	return getItem(ctx, r.pool, id, mode)
}

// ListMovements returns one page of an item's movement history, most recent
// first.
func (r *Repository) ListMovements(ctx context.Context, itemID int64, page, perPage int) ([]Movement, shared.Pagination, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_movements
		WHERE item_id = $1 AND deleted_at IS NULL`, itemID).Scan(&total)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	p := shared.NewPagination(page, perPage, total)

	rows, err := r.pool.Query(ctx, `SELECT id, item_id, movement_type, quantity, previous_quantity,
		new_quantity, COALESCE(note, ''), created_by, created_at
		FROM inventory_movements
		WHERE item_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, itemID, p.PerPage, (p.Page-1)*p.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Type, &m.Quantity, &m.PreviousQuantity,
			&m.NewQuantity, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		movements = append(movements, m)
	}
	return movements, p, rows.Err()
}

// LowStock lists items at or below their restock level, largest deficit first.
func (r *Repository) LowStock(ctx context.Context, categoryID *int64) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+`
		FROM inventory_items
		WHERE deleted_at IS NULL AND active
		  AND restock_level > 0 AND quantity <= restock_level
		  AND ($1::bigint IS NULL OR category_id = $1)
		ORDER BY (restock_level - quantity) DESC, name ASC`, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// PurgeItem irreversibly removes an item and its movements. Maintenance
// tooling only; never mounted on a route.
func (r *Repository) PurgeItem(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM inventory_movements WHERE item_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
		return err
	})
}

type txRepo struct {
	q pgx.Tx
}

func (r *txRepo) GetItem(ctx context.Context, id int64, mode ReadMode) (Item, error) {
	return getItem(ctx, r.q, id, mode)
}

func (r *txRepo) ApplyQuantityDelta(ctx context.Context, itemID int64, delta int) (int, error) {
	row := r.q.QueryRow(ctx, `UPDATE inventory_items
		SET quantity = quantity + $2, updated_at = NOW()
		WHERE id = $1 AND active AND deleted_at IS NULL AND quantity + $2 >= 0
		RETURNING quantity`, itemID, delta)
	var newQuantity int
	if err := row.Scan(&newQuantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errNotAdjusted
		}
		return 0, err
	}
	return newQuantity, nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO inventory_movements
		(item_id, movement_type, quantity, previous_quantity, new_quantity, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`, m.ItemID, m.Type, m.Quantity, m.PreviousQuantity, m.NewQuantity, m.Note, m.CreatedBy)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	return m, nil
}
