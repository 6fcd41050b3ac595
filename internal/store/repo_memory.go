package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used in tests and local development.
// Not intended for production use.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]User
	records  map[string]CallRecord // keyed by external call id
	insights []Insight

	clock func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]User),
		records: make(map[string]CallRecord),
		clock:   time.Now,
	}
}

// PutUser seeds a user row.
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *Memory) GetUser(ctx context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetCallHistory(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CallRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertCallRecord(ctx context.Context, rec CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock().UTC()
	existing, ok := m.records[rec.ExternalCallID]
	if !ok {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.CreatedAt = now
		rec.UpdatedAt = now
		m.records[rec.ExternalCallID] = rec
		return nil
	}

	m.records[rec.ExternalCallID] = mergeCallRecord(existing, rec, now)
	return nil
}

func (m *Memory) InsertInsight(ctx context.Context, ins Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = m.clock().UTC()
	}
	m.insights = append(m.insights, ins)
	return nil
}

func (m *Memory) UserIDForExternalCall(ctx context.Context, externalCallID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[externalCallID]
	if !ok || r.UserID == "" {
		return "", ErrNotFound
	}
	return r.UserID, nil
}

func (m *Memory) MarkFirstCallDone(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FirstCallDone = true
	m.users[userID] = u
	return nil
}

// Record returns the stored record for an external call id, for assertions.
func (m *Memory) Record(externalCallID string) (CallRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[externalCallID]
	return r, ok
}

// Insights returns a copy of all inserted insights.
func (m *Memory) Insights() []Insight {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Insight, len(m.insights))
	copy(out, m.insights)
	return out
}

// mergeCallRecord applies the single allowed merge update: zero fields in the
// incoming record keep the previously persisted value.
func mergeCallRecord(old, in CallRecord, now time.Time) CallRecord {
	out := old
	if in.UserID != "" {
		out.UserID = in.UserID
	}
	if in.Status != "" {
		out.Status = in.Status
	}
	if in.DurationSeconds != 0 {
		out.DurationSeconds = in.DurationSeconds
	}
	if in.EndReason != "" {
		out.EndReason = in.EndReason
	}
	if in.ErrorMessage != "" {
		out.ErrorMessage = in.ErrorMessage
	}
	if in.RecordingURL != "" {
		out.RecordingURL = in.RecordingURL
	}
	if in.Transcript != "" {
		out.Transcript = in.Transcript
	}
	if in.Sentiment != "" {
		out.Sentiment = in.Sentiment
	}
	if len(in.Topics) > 0 {
		out.Topics = in.Topics
	}
	if len(in.BehavioralCodes) > 0 {
		out.BehavioralCodes = in.BehavioralCodes
	}
	if in.FollowUpNeeded {
		out.FollowUpNeeded = true
	}
	if in.NextCallAt != nil {
		out.NextCallAt = in.NextCallAt
	}
	out.UpdatedAt = now
	return out
}
