package correlator

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"companion-calls/internal/pipeline"
	"companion-calls/internal/store"
	"companion-calls/internal/voice"
)

type fakeQueue struct {
	users     map[string]string
	completed []string
}

func (f *fakeQueue) UserForExternalCall(id string) (string, bool) {
	u, ok := f.users[id]
	return u, ok
}

func (f *fakeQueue) MarkCallCompleted(_ context.Context, id string) error {
	if _, ok := f.users[id]; !ok {
		return errors.New("not found")
	}
	f.completed = append(f.completed, id)
	return nil
}

type fakePipe struct {
	runs []string
	out  pipeline.Outcome
}

func (f *fakePipe) Process(_ context.Context, userID string, call voice.CallPayload) pipeline.Outcome {
	f.runs = append(f.runs, userID+":"+call.ID)
	return f.out
}

func newCorrelator() (*Correlator, *store.Memory, *fakeQueue, *fakePipe) {
	st := store.NewMemory()
	st.PutUser(store.User{ID: "u1", Name: "María", Phone: "+525512345678"})
	q := &fakeQueue{users: map[string]string{"ext-1": "u1"}}
	p := &fakePipe{}
	return New(st, q, p, slog.Default()), st, q, p
}

func TestCallStartedWritesPlaceholder(t *testing.T) {
	c, st, _, _ := newCorrelator()

	c.CallStarted(context.Background(), "ext-1", "+525512345678")

	rec, ok := st.Record("ext-1")
	if !ok {
		t.Fatal("placeholder not written")
	}
	if rec.UserID != "u1" || rec.Status != store.CallStatusInProgress {
		t.Errorf("record = %+v", rec)
	}
}

func TestCallStartedUnknownCallDropped(t *testing.T) {
	c, st, _, _ := newCorrelator()

	c.CallStarted(context.Background(), "ext-stray", "+525500000000")

	if _, ok := st.Record("ext-stray"); ok {
		t.Error("stray call must not create a record")
	}
}

func TestCallEndedRunsPipelineAndCompletes(t *testing.T) {
	c, _, q, p := newCorrelator()

	c.CallEnded(context.Background(), voice.CallPayload{ID: "ext-1", Transcript: "hola"})

	if len(p.runs) != 1 || p.runs[0] != "u1:ext-1" {
		t.Errorf("pipeline runs = %v", p.runs)
	}
	if len(q.completed) != 1 || q.completed[0] != "ext-1" {
		t.Errorf("completed = %v", q.completed)
	}
}

func TestCallEndedResolvesViaPlaceholder(t *testing.T) {
	c, st, q, p := newCorrelator()
	// Placeholder exists but the scheduler has already forgotten the call.
	st.UpsertCallRecord(context.Background(), store.CallRecord{
		UserID: "u1", ExternalCallID: "ext-old", Status: store.CallStatusInProgress,
	})
	delete(q.users, "ext-old")

	c.CallEnded(context.Background(), voice.CallPayload{ID: "ext-old"})

	if len(p.runs) != 1 || p.runs[0] != "u1:ext-old" {
		t.Errorf("pipeline runs = %v", p.runs)
	}
}

func TestCallEndedUnknownCallDropped(t *testing.T) {
	c, _, _, p := newCorrelator()

	c.CallEnded(context.Background(), voice.CallPayload{ID: "ext-ghost"})

	if len(p.runs) != 0 {
		t.Errorf("pipeline runs = %v, want none", p.runs)
	}
}

func TestCallFailedPersistsFailureRecord(t *testing.T) {
	c, st, _, p := newCorrelator()

	c.CallFailed(context.Background(), "ext-1", "no-answer")

	rec, ok := st.Record("ext-1")
	if !ok {
		t.Fatal("failure record not written")
	}
	if rec.Status != store.CallStatusFailed || rec.ErrorMessage != "no-answer" {
		t.Errorf("record = %+v", rec)
	}
	if len(p.runs) != 0 {
		t.Errorf("pipeline must not run on failure, got %v", p.runs)
	}
}
