package store

import "time"

// User is one registered call recipient.
//
// Rows are written by the registration flow (outside this service); this
// service only reads them and flips the first-call milestone.
type User struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	LastName     string     `json:"last_name,omitempty" db:"last_name"`
	Phone        string     `json:"phone" db:"phone"`
	BirthDate    *time.Time `json:"birth_date,omitempty" db:"birth_date"`
	Relationship string     `json:"relationship,omitempty" db:"relationship"`

	// MigrantName is the relative abroad who signed the user up.
	MigrantName string `json:"migrant_name,omitempty" db:"migrant_name"`
	Companion   string `json:"companion,omitempty" db:"companion"`

	FirstCallDone bool      `json:"first_call_done" db:"first_call_done"`
	RegisteredAt  time.Time `json:"registered_at" db:"registered_at"`
}

// Age returns the user's age in whole years at now, or 0 when unknown.
func (u User) Age(now time.Time) int {
	if u.BirthDate == nil {
		return 0
	}
	b := *u.BirthDate
	age := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// CallRecord is the durable projection of one call's outcome, keyed by the
// voice platform's call id.
//
// Lifecycle: a placeholder row may be created at "call started" time; the
// post-call pipeline later merges transcript and analysis into it. After that
// single merge the row is never mutated.
type CallRecord struct {
	ID             string `json:"id" db:"id"`
	UserID         string `json:"user_id" db:"user_id"`
	ExternalCallID string `json:"external_call_id" db:"external_call_id"`

	Status          string `json:"status" db:"status"`
	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	EndReason       string `json:"end_reason,omitempty" db:"end_reason"`
	ErrorMessage    string `json:"error_message,omitempty" db:"error_message"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
	Transcript   string `json:"transcript,omitempty" db:"transcript"`

	Sentiment       string   `json:"sentiment,omitempty" db:"sentiment"`
	Topics          []string `json:"topics,omitempty" db:"topics"`
	BehavioralCodes []string `json:"behavioral_codes,omitempty" db:"behavioral_codes"`
	FollowUpNeeded  bool     `json:"follow_up_needed" db:"follow_up_needed"`

	NextCallAt *time.Time `json:"next_call_at,omitempty" db:"next_call_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Insight is the derived analysis record for one completed call.
// Insert-only; one per completed call.
type Insight struct {
	ID             string `json:"id" db:"id"`
	ExternalCallID string `json:"external_call_id" db:"external_call_id"`
	UserID         string `json:"user_id" db:"user_id"`

	BehavioralCodes []string `json:"behavioral_codes" db:"behavioral_codes"`
	EmotionalState  string   `json:"emotional_state" db:"emotional_state"`
	HealthMentions  []string `json:"health_mentions,omitempty" db:"health_mentions"`
	FamilyMentions  []string `json:"family_mentions,omitempty" db:"family_mentions"`
	NeedsIdentified []string `json:"needs_identified,omitempty" db:"needs_identified"`
	ActionItems     []string `json:"action_items,omitempty" db:"action_items"`
	CrisisDetected  bool     `json:"crisis_detected" db:"crisis_detected"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Call record statuses written by the correlator and pipeline.
const (
	CallStatusInProgress = "in_progress"
	CallStatusCompleted  = "completed"
	CallStatusFailed     = "failed"
)
