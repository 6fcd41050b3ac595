package scheduler

import "time"

// Status is the lifecycle state of a scheduled call.
type Status string

const (
	StatusScheduled      Status = "scheduled"
	StatusExecuting      Status = "executing"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further transition may leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ScheduledCall is one planned outbound call and its attempt history.
//
// Invariants:
// - Attempts never exceeds MaxAttempts.
// - ExternalCallID belongs to the latest attempt only; a new attempt clears
//   the previous correlation.
// - Terminal rows are never transitioned again.
type ScheduledCall struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Phone  string `json:"phone" db:"phone"`

	ScheduledFor time.Time `json:"scheduled_for" db:"scheduled_for"`
	Status       Status    `json:"status" db:"status"`
	Attempts     int       `json:"attempts" db:"attempts"`
	MaxAttempts  int       `json:"max_attempts" db:"max_attempts"`

	ExternalCallID string `json:"external_call_id,omitempty" db:"external_call_id"`
	LastError      string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Stats summarizes the working set for the operator API.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
