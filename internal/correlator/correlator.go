// Package correlator ties voice platform events back to users and drives
// what happens next: placeholder records on call start, the post-call
// pipeline on call end, failure records on call failure.
package correlator

import (
	"context"
	"log/slog"
	"time"

	"companion-calls/internal/pipeline"
	"companion-calls/internal/store"
	"companion-calls/internal/voice"
)

// Queue is the slice of the scheduler the correlator needs.
type Queue interface {
	UserForExternalCall(externalCallID string) (string, bool)
	MarkCallCompleted(ctx context.Context, externalCallID string) error
}

// Processor runs the post-call pipeline.
type Processor interface {
	Process(ctx context.Context, userID string, call voice.CallPayload) pipeline.Outcome
}

// Correlator implements voice.EventSink.
type Correlator struct {
	store store.Store
	queue Queue
	pipe  Processor
	log   *slog.Logger
	clock func() time.Time
}

func New(st store.Store, queue Queue, pipe Processor, log *slog.Logger) *Correlator {
	return &Correlator{store: st, queue: queue, pipe: pipe, log: log, clock: time.Now}
}

var _ voice.EventSink = (*Correlator)(nil)

// CallStarted writes the placeholder record that later pipeline output
// merges into. Without a matching scheduled call the event is logged and
// dropped; there is no user to attribute the record to yet.
func (c *Correlator) CallStarted(ctx context.Context, callID, phone string) {
	userID, ok := c.queue.UserForExternalCall(callID)
	if !ok {
		c.log.Warn("call started for unknown scheduled call",
			"external_call_id", callID, "phone", phone)
		return
	}

	rec := store.CallRecord{
		UserID:         userID,
		ExternalCallID: callID,
		Status:         store.CallStatusInProgress,
	}
	if err := c.store.UpsertCallRecord(ctx, rec); err != nil {
		c.log.Error("placeholder record upsert failed",
			"external_call_id", callID, "error", err)
		return
	}
	c.log.Info("call started", "external_call_id", callID, "user_id", userID)
}

// CallEnded resolves the owner and runs the post-call pipeline. Unknown
// call ids are logged and dropped.
func (c *Correlator) CallEnded(ctx context.Context, call voice.CallPayload) {
	userID := c.resolveUser(ctx, call.ID)
	if userID == "" {
		c.log.Warn("call ended for unknown call", "external_call_id", call.ID)
		return
	}

	out := c.pipe.Process(ctx, userID, call)
	if len(out.Errors) > 0 {
		c.log.Warn("post-call pipeline finished with errors",
			"external_call_id", call.ID, "errors", out.Errors)
	}

	if err := c.queue.MarkCallCompleted(ctx, call.ID); err != nil {
		// Not fatal: webhook-only calls (test calls, manual dials) have no
		// scheduled counterpart.
		c.log.Debug("no scheduled call to complete",
			"external_call_id", call.ID, "error", err)
	}
}

// CallFailed persists the failure. Retries are not decided here; the
// scheduler owns the retry policy.
func (c *Correlator) CallFailed(ctx context.Context, callID, message string) {
	userID := c.resolveUser(ctx, callID)
	if userID == "" {
		c.log.Warn("call failed for unknown call",
			"external_call_id", callID, "message", message)
		return
	}

	rec := store.CallRecord{
		UserID:         userID,
		ExternalCallID: callID,
		Status:         store.CallStatusFailed,
		ErrorMessage:   message,
	}
	if err := c.store.UpsertCallRecord(ctx, rec); err != nil {
		c.log.Error("failed-call record upsert failed",
			"external_call_id", callID, "error", err)
		return
	}
	c.log.Error("call failed", "external_call_id", callID, "user_id", userID, "message", message)
}

// resolveUser finds the owning user: the placeholder record first, the
// scheduler's in-flight working set second.
func (c *Correlator) resolveUser(ctx context.Context, externalCallID string) string {
	if userID, err := c.store.UserIDForExternalCall(ctx, externalCallID); err == nil {
		return userID
	}
	if userID, ok := c.queue.UserForExternalCall(externalCallID); ok {
		return userID
	}
	return ""
}
