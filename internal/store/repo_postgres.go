package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Postgres implements Store on database/sql (pgx stdlib driver).
//
// Schema lives in db/migrations. String slices are stored as JSONB; the
// merge-on-upsert uses COALESCE/NULLIF so zero fields never clobber
// previously persisted values.
type Postgres struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, clock: time.Now}
}

func (p *Postgres) GetUser(ctx context.Context, userID string) (User, error) {
	const q = `
SELECT id, name, COALESCE(last_name, ''), phone, birth_date, COALESCE(relationship, ''),
       COALESCE(migrant_name, ''), COALESCE(companion, ''), first_call_done, registered_at
FROM users
WHERE id = $1
`
	var u User
	if err := p.db.QueryRowContext(ctx, q, userID).Scan(
		&u.ID,
		&u.Name,
		&u.LastName,
		&u.Phone,
		&u.BirthDate,
		&u.Relationship,
		&u.MigrantName,
		&u.Companion,
		&u.FirstCallDone,
		&u.RegisteredAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetCallHistory(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	const q = `
SELECT id, user_id, external_call_id, status, duration_seconds,
       COALESCE(end_reason, ''), COALESCE(error_message, ''), COALESCE(recording_url, ''),
       COALESCE(transcript, ''), COALESCE(sentiment, ''), topics, behavioral_codes,
       follow_up_needed, next_call_at, created_at, updated_at
FROM call_records
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("call history: %w", err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var r CallRecord
		var topics, codes []byte
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.ExternalCallID,
			&r.Status,
			&r.DurationSeconds,
			&r.EndReason,
			&r.ErrorMessage,
			&r.RecordingURL,
			&r.Transcript,
			&r.Sentiment,
			&topics,
			&codes,
			&r.FollowUpNeeded,
			&r.NextCallAt,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("call history scan: %w", err)
		}
		r.Topics = fromJSONList(topics)
		r.BehavioralCodes = fromJSONList(codes)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertCallRecord(ctx context.Context, rec CallRecord) error {
	if rec.ExternalCallID == "" {
		return errors.New("store: external_call_id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := p.clock().UTC()

	const q = `
INSERT INTO call_records (
    id, user_id, external_call_id, status, duration_seconds, end_reason,
    error_message, recording_url, transcript, sentiment, topics,
    behavioral_codes, follow_up_needed, next_call_at, created_at, updated_at
) VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''),
          NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13, $14, $15, $15)
ON CONFLICT (external_call_id) DO UPDATE SET
    user_id          = COALESCE(NULLIF(EXCLUDED.user_id, ''), call_records.user_id),
    status           = COALESCE(NULLIF(EXCLUDED.status, ''), call_records.status),
    duration_seconds = GREATEST(EXCLUDED.duration_seconds, call_records.duration_seconds),
    end_reason       = COALESCE(EXCLUDED.end_reason, call_records.end_reason),
    error_message    = COALESCE(EXCLUDED.error_message, call_records.error_message),
    recording_url    = COALESCE(EXCLUDED.recording_url, call_records.recording_url),
    transcript       = COALESCE(EXCLUDED.transcript, call_records.transcript),
    sentiment        = COALESCE(EXCLUDED.sentiment, call_records.sentiment),
    topics           = COALESCE(NULLIF(EXCLUDED.topics, 'null'::jsonb), call_records.topics),
    behavioral_codes = COALESCE(NULLIF(EXCLUDED.behavioral_codes, 'null'::jsonb), call_records.behavioral_codes),
    follow_up_needed = call_records.follow_up_needed OR EXCLUDED.follow_up_needed,
    next_call_at     = COALESCE(EXCLUDED.next_call_at, call_records.next_call_at),
    updated_at       = EXCLUDED.updated_at
`
	_, err := p.db.ExecContext(ctx, q,
		rec.ID,
		rec.UserID,
		rec.ExternalCallID,
		rec.Status,
		rec.DurationSeconds,
		rec.EndReason,
		rec.ErrorMessage,
		rec.RecordingURL,
		rec.Transcript,
		rec.Sentiment,
		toJSONList(rec.Topics),
		toJSONList(rec.BehavioralCodes),
		rec.FollowUpNeeded,
		rec.NextCallAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert call record: %w", err)
	}
	return nil
}

func (p *Postgres) InsertInsight(ctx context.Context, ins Insight) error {
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	const q = `
INSERT INTO insights (
    id, external_call_id, user_id, behavioral_codes, emotional_state,
    health_mentions, family_mentions, needs_identified, action_items,
    crisis_detected, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := p.db.ExecContext(ctx, q,
		ins.ID,
		ins.ExternalCallID,
		ins.UserID,
		toJSONList(ins.BehavioralCodes),
		ins.EmotionalState,
		toJSONList(ins.HealthMentions),
		toJSONList(ins.FamilyMentions),
		toJSONList(ins.NeedsIdentified),
		toJSONList(ins.ActionItems),
		ins.CrisisDetected,
		p.clock().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

func (p *Postgres) UserIDForExternalCall(ctx context.Context, externalCallID string) (string, error) {
	const q = `
SELECT user_id FROM call_records WHERE external_call_id = $1 AND user_id IS NOT NULL
`
	var userID string
	if err := p.db.QueryRowContext(ctx, q, externalCallID).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("resolve external call: %w", err)
	}
	return userID, nil
}

func (p *Postgres) MarkFirstCallDone(ctx context.Context, userID string) error {
	const q = `
UPDATE users SET first_call_done = TRUE WHERE id = $1
`
	res, err := p.db.ExecContext(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("mark first call: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func toJSONList(list []string) []byte {
	if len(list) == 0 {
		return []byte("null")
	}
	b, _ := json.Marshal(list)
	return b
}

func fromJSONList(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(b, &out)
	return out
}
