package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian/internal/platform/db"
)

// ChargeFilter restricts charge listings by invoice assignment.
type ChargeFilter int

const (
	FilterAll ChargeFilter = iota
	FilterUnbilled
	FilterBilled
)

// errRecurringExists signals a per-day uniqueness constraint fired on a
// recurring charge insert. The service treats it as "already posted today".
var errRecurringExists = errors.New("billing: recurring charge exists for date")

// RepositoryPort is the persistence surface the billing service depends on.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	ListCharges(ctx context.Context, admissionID int64, filter ChargeFilter) ([]Charge, error)
	GetInvoice(ctx context.Context, admissionID int64) (Invoice, []Charge, error)
}

// TxRepository exposes the charge and invoice writes that must share a transaction.
type TxRepository interface {
	InsertCharge(ctx context.Context, charge Charge) (Charge, error)
	FindRecurringCharge(ctx context.Context, admissionID int64, chargeType ChargeType, date time.Time, roomID *int64) (Charge, error)
	ListUnbilled(ctx context.Context, admissionID int64) ([]Charge, error)
	HasInvoice(ctx context.Context, admissionID int64) (bool, error)
	InsertInvoice(ctx context.Context, invoice Invoice) (Invoice, error)
	SetInvoiceNumber(ctx context.Context, invoiceID int64, number string) error
	AssignCharges(ctx context.Context, invoiceID int64, chargeIDs []int64) (int64, error)
	InsertSubtotals(ctx context.Context, invoiceID int64, subtotals []TypeSubtotal) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const chargeColumns = `id, admission_id, charge_type, description, quantity, unit_price,
	total_amount, charge_date, inventory_item_id, room_id, invoice_id, reason, created_by, created_at`

func scanCharge(row pgx.Row) (Charge, error) {
	var c Charge
	err := row.Scan(
		&c.ID, &c.AdmissionID, &c.Type, &c.Description, &c.Quantity, &c.UnitPrice,
		&c.TotalAmount, &c.ChargeDate, &c.InventoryItemID, &c.RoomID, &c.InvoiceID,
		&c.Reason, &c.CreatedBy, &c.CreatedAt,
	)
	return c, err
}

func collectCharges(rows pgx.Rows) ([]Charge, error) {
	defer rows.Close()
	var charges []Charge
	for rows.Next() {
		c, err := scanCharge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan charge: %w", err)
		}
		charges = append(charges, c)
	}
	return charges, rows.Err()
}

func (r *Repository) ListCharges(ctx context.Context, admissionID int64, filter ChargeFilter) ([]Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges WHERE admission_id = $1`
	switch filter {
	case FilterUnbilled:
		query += ` AND invoice_id IS NULL`
	case FilterBilled:
		query += ` AND invoice_id IS NOT NULL`
	}
	query += ` ORDER BY charge_date ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, admissionID)
	if err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	return collectCharges(rows)
}

func (r *Repository) GetInvoice(ctx context.Context, admissionID int64) (Invoice, []Charge, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `
		SELECT id, invoice_number, admission_id, total_amount, charge_count, generated_by, generated_at
		FROM invoices WHERE admission_id = $1`, admissionID).
		Scan(&inv.ID, &inv.Number, &inv.AdmissionID, &inv.TotalAmount, &inv.ChargeCount, &inv.GeneratedBy, &inv.GeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, nil, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("get invoice: %w", err)
	}

	subRows, err := r.pool.Query(ctx, `
		SELECT charge_type, charge_count, amount
		FROM invoice_subtotals WHERE invoice_id = $1 ORDER BY charge_type ASC`, inv.ID)
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("invoice subtotals: %w", err)
	}
	defer subRows.Close()
	for subRows.Next() {
		var s TypeSubtotal
		if err := subRows.Scan(&s.Type, &s.Count, &s.Amount); err != nil {
			return Invoice{}, nil, fmt.Errorf("scan subtotal: %w", err)
		}
		inv.Subtotals = append(inv.Subtotals, s)
	}
	if err := subRows.Err(); err != nil {
		return Invoice{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+chargeColumns+` FROM charges WHERE invoice_id = $1 ORDER BY charge_date ASC, id ASC`, inv.ID)
	if err != nil {
		return Invoice{}, nil, fmt.Errorf("invoice charges: %w", err)
	}
	charges, err := collectCharges(rows)
	if err != nil {
		return Invoice{}, nil, err
	}
	return inv, charges, nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) InsertCharge(ctx context.Context, charge Charge) (Charge, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO charges (admission_id, charge_type, description, quantity, unit_price,
			total_amount, charge_date, inventory_item_id, room_id, reason, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`,
		charge.AdmissionID, charge.Type, charge.Description, charge.Quantity, charge.UnitPrice,
		charge.TotalAmount, charge.ChargeDate, charge.InventoryItemID, charge.RoomID,
		charge.Reason, charge.CreatedBy).
		Scan(&charge.ID, &charge.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" &&
			(pgErr.ConstraintName == "uq_charges_room_per_day" || pgErr.ConstraintName == "uq_charges_diet_per_day") {
			return Charge{}, errRecurringExists
		}
		return Charge{}, fmt.Errorf("insert charge: %w", err)
	}
	return charge, nil
}

// FindRecurringCharge resolves the row behind a recurring-charge conflict.
// Room charges are keyed per room so a same-day room move bills both rooms.
func (t *txRepo) FindRecurringCharge(ctx context.Context, admissionID int64, chargeType ChargeType, date time.Time, roomID *int64) (Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charges
		WHERE admission_id = $1 AND charge_type = $2 AND charge_date = $3`
	args := []any{admissionID, chargeType, date}
	if roomID != nil {
		query += ` AND room_id = $4`
		args = append(args, *roomID)
	}
	row := t.tx.QueryRow(ctx, query, args...)
	c, err := scanCharge(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Charge{}, pgx.ErrNoRows
	}
	if err != nil {
		return Charge{}, fmt.Errorf("find recurring charge: %w", err)
	}
	return c, nil
}

func (t *txRepo) ListUnbilled(ctx context.Context, admissionID int64) ([]Charge, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+chargeColumns+` FROM charges
		WHERE admission_id = $1 AND invoice_id IS NULL
		ORDER BY charge_date ASC, id ASC`, admissionID)
	if err != nil {
		return nil, fmt.Errorf("list unbilled: %w", err)
	}
	return collectCharges(rows)
}

func (t *txRepo) HasInvoice(ctx context.Context, admissionID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM invoices WHERE admission_id = $1)`, admissionID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("invoice exists: %w", err)
	}
	return exists, nil
}

func (t *txRepo) InsertInvoice(ctx context.Context, invoice Invoice) (Invoice, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (invoice_number, admission_id, total_amount, charge_count, generated_by)
		VALUES ('', $1, $2, $3, $4)
		RETURNING id, generated_at`,
		invoice.AdmissionID, invoice.TotalAmount, invoice.ChargeCount, invoice.GeneratedBy).
		Scan(&invoice.ID, &invoice.GeneratedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_invoices_admission" {
			return Invoice{}, ErrInvoiceAlreadyExists
		}
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	return invoice, nil
}

func (t *txRepo) SetInvoiceNumber(ctx context.Context, invoiceID int64, number string) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE invoices SET invoice_number = $2 WHERE id = $1`, invoiceID, number)
	if err != nil {
		return fmt.Errorf("set invoice number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

// AssignCharges stamps unbilled charges with the invoice id. The invoice_id IS
// NULL guard means a charge grabbed by a concurrent invoice is skipped, which
// the caller detects by comparing the affected count.
func (t *txRepo) AssignCharges(ctx context.Context, invoiceID int64, chargeIDs []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE charges SET invoice_id = $1
		WHERE id = ANY($2) AND invoice_id IS NULL`, invoiceID, chargeIDs)
	if err != nil {
		return 0, fmt.Errorf("assign charges: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) InsertSubtotals(ctx context.Context, invoiceID int64, subtotals []TypeSubtotal) error {
	for _, s := range subtotals {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO invoice_subtotals (invoice_id, charge_type, charge_count, amount)
			VALUES ($1, $2, $3, $4)`, invoiceID, s.Type, s.Count, s.Amount)
		if err != nil {
			return fmt.Errorf("insert subtotal %s: %w", s.Type, err)
		}
	}
	return nil
}
