package calllog

import "time"

// Event is an immutable, append-only record of a carrier-level call event.
//
// Invariants:
// - Events are never updated or deleted.
// - call_control_id is the carrier's own identifier, not our correlation key;
//   this log is diagnostic, the voice platform remains authoritative for
//   call outcomes.
type Event struct {
	ID            string `json:"id" db:"id"`
	CallControlID string `json:"call_control_id" db:"call_control_id"`

	// Type indicates the carrier event category.
	Type EventType `json:"type" db:"type"`

	// Payload is optional JSON with the event details.
	Payload string `json:"payload,omitempty" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventInitiated         EventType = "initiated"
	EventAnswered          EventType = "answered"
	EventHangup            EventType = "hangup"
	EventVoicemailDetected EventType = "voicemail_detected"
	EventRecordingSaved    EventType = "recording_saved"
	EventDTMF              EventType = "dtmf"
)
