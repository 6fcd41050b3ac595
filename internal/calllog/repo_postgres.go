package calllog

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends events to the call_events table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, call_control_id, event_type, payload, created_at)
VALUES ($1, $2, $3, NULLIF($4, '')::jsonb, $5)
`
	if _, err := r.db.ExecContext(ctx, q, e.ID, e.CallControlID, e.Type, e.Payload, e.CreatedAt); err != nil {
		return fmt.Errorf("append call event: %w", err)
	}
	return nil
}
