package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("store: not found")

// Store is the relational persistence contract for users, call records, and
// insights.
//
// Invariants:
// - Insights are insert-only.
// - UpsertCallRecord merges by external_call_id: fields left zero in the
//   incoming record do not overwrite previously persisted values. This is
//   what lets a later-arriving transcript augment a placeholder row created
//   at call-started time.
type Store interface {
	GetUser(ctx context.Context, userID string) (User, error)
	GetCallHistory(ctx context.Context, userID string, limit int) ([]CallRecord, error)

	UpsertCallRecord(ctx context.Context, rec CallRecord) error
	InsertInsight(ctx context.Context, ins Insight) error

	// UserIDForExternalCall resolves webhook correlation keys back to the
	// owning user. Returns ErrNotFound for unknown ids.
	UserIDForExternalCall(ctx context.Context, externalCallID string) (string, error)

	MarkFirstCallDone(ctx context.Context, userID string) error
}
