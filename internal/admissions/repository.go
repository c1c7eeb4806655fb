package admissions

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads admission records from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const admissionColumns = `a.id, a.status, a.admission_type, a.admission_date, a.discharged_at,
	a.room_id, COALESCE(r.number, ''), COALESCE(r.daily_rate, 0)`

// Get returns a single admission joined with its room, if any.
func (r *Repository) Get(ctx context.Context, id int64) (Admission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+admissionColumns+`
		FROM admissions a
		LEFT JOIN rooms r ON r.id = a.room_id
		WHERE a.id = $1 AND a.deleted_at IS NULL`, id)
	var a Admission
	err := row.Scan(&a.ID, &a.Status, &a.Type, &a.AdmissionDate, &a.DischargedAt, &a.RoomID, &a.RoomNumber, &a.RoomRate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Admission{}, ErrNotFound
		}
		return Admission{}, err
	}
	return a, nil
}

// ListActive returns admissions still accumulating daily charges. The
// recurring charge job iterates this set once per day.
func (r *Repository) ListActive(ctx context.Context) ([]Admission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+admissionColumns+`
		FROM admissions a
		LEFT JOIN rooms r ON r.id = a.room_id
		WHERE a.status = $1 AND a.deleted_at IS NULL
		ORDER BY a.id`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Admission
	for rows.Next() {
		var a Admission
		if err := rows.Scan(&a.ID, &a.Status, &a.Type, &a.AdmissionDate, &a.DischargedAt, &a.RoomID, &a.RoomNumber, &a.RoomRate); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
