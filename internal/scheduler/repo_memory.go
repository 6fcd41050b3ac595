package scheduler

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps scheduled calls in a map. Used in tests and local runs
// without Postgres; recovery across restarts obviously does not apply.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]ScheduledCall
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]ScheduledCall)}
}

func (r *MemoryRepo) Save(ctx context.Context, sc ScheduledCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[sc.ID] = sc
	return nil
}

func (r *MemoryRepo) ListPending(ctx context.Context) ([]ScheduledCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScheduledCall
	for _, sc := range r.rows {
		if sc.Status == StatusScheduled || sc.Status == StatusRetryScheduled {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

// Row returns the stored copy for assertions in tests.
func (r *MemoryRepo) Row(id string) (ScheduledCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.rows[id]
	return sc, ok
}
