package scheduler

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
// Schema lives in db/migrations.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, sc ScheduledCall) error {
	const q = `
INSERT INTO scheduled_calls (
    id, user_id, phone, scheduled_for, status, attempts, max_attempts,
    external_call_id, last_error, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
ON CONFLICT (id) DO UPDATE SET
    scheduled_for    = EXCLUDED.scheduled_for,
    status           = EXCLUDED.status,
    attempts         = EXCLUDED.attempts,
    external_call_id = EXCLUDED.external_call_id,
    last_error       = EXCLUDED.last_error,
    updated_at       = EXCLUDED.updated_at
`
	if _, err := r.db.ExecContext(ctx, q,
		sc.ID, sc.UserID, sc.Phone, sc.ScheduledFor, string(sc.Status),
		sc.Attempts, sc.MaxAttempts, sc.ExternalCallID, sc.LastError,
		sc.CreatedAt, sc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("save scheduled call: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListPending(ctx context.Context) ([]ScheduledCall, error) {
	const q = `
SELECT id, user_id, phone, scheduled_for, status, attempts, max_attempts,
       COALESCE(external_call_id, ''), COALESCE(last_error, ''),
       created_at, updated_at
FROM scheduled_calls
WHERE status IN ('scheduled', 'retry_scheduled')
ORDER BY scheduled_for
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending scheduled calls: %w", err)
	}
	defer rows.Close()

	var out []ScheduledCall
	for rows.Next() {
		var sc ScheduledCall
		if err := rows.Scan(
			&sc.ID, &sc.UserID, &sc.Phone, &sc.ScheduledFor, &sc.Status,
			&sc.Attempts, &sc.MaxAttempts, &sc.ExternalCallID, &sc.LastError,
			&sc.CreatedAt, &sc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan scheduled call: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled calls: %w", err)
	}
	return out, nil
}

var _ Repository = (*PostgresRepo)(nil)
var _ Repository = (*MemoryRepo)(nil)
