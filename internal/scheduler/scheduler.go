// Package scheduler owns the outbound call queue: delayed execution,
// bounded retries, durable recovery after restarts, and the follow-up
// signals fed back from carrier diagnostics.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"companion-calls/internal/dialog"
	"companion-calls/internal/phone"
	"companion-calls/internal/store"
	"companion-calls/internal/voice"
	"companion-calls/pkg/utils"
)

var (
	ErrInvalidPhone   = errors.New("scheduler: invalid phone number")
	ErrNotFound       = errors.New("scheduler: scheduled call not found")
	ErrNotCancellable = errors.New("scheduler: call is not in scheduled state")
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 30 * time.Minute
	historyLimit       = 10

	// dueKey is the redis sorted set holding due times for pending calls.
	dueKey = "scheduler:due"

	// claimBatchSize bounds how many past-due ids one sweep claims.
	claimBatchSize = 100
)

// Scheduler runs the outbound call queue. The in-memory working set is
// authoritative while the process lives; every transition is also written
// through to the repository and the redis due index so Recover can rebuild
// the queue after a restart.
type Scheduler struct {
	store    store.Store
	repo     Repository
	platform voice.Platform
	rdb      *redis.Client
	log      *slog.Logger

	clock       func() time.Time
	schedule    func(d time.Duration, f func()) *time.Timer
	claimDue    func(ctx context.Context, now time.Time, limit int) ([]string, error)
	retryDelay  time.Duration
	maxAttempts int

	mu     sync.Mutex
	calls  map[string]*ScheduledCall
	locks  map[string]*sync.Mutex
	timers map[string]*time.Timer
}

// New wires a scheduler. rdb may be nil; the due index is then skipped.
func New(st store.Store, repo Repository, platform voice.Platform, rdb *redis.Client, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		store:       st,
		repo:        repo,
		platform:    platform,
		rdb:         rdb,
		log:         log,
		clock:       time.Now,
		schedule:    time.AfterFunc,
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
		calls:       make(map[string]*ScheduledCall),
		locks:       make(map[string]*sync.Mutex),
		timers:      make(map[string]*time.Timer),
	}
	if rdb != nil {
		s.claimDue = func(ctx context.Context, now time.Time, limit int) ([]string, error) {
			return utils.ClaimDue(ctx, rdb, dueKey, now, limit)
		}
	}
	return s
}

// ScheduleCall enqueues a call to the user after delay. The phone number is
// normalized first; an invalid number is rejected before any side effect.
// The delay counts from the user's registration time when it is known, so a
// late-delivered registration webhook does not push the call out; a due time
// already in the past executes immediately.
func (s *Scheduler) ScheduleCall(ctx context.Context, user store.User, delay time.Duration) (ScheduledCall, error) {
	normalized := phone.Normalize(user.Phone)
	if !phone.IsValid(normalized) {
		return ScheduledCall{}, fmt.Errorf("%w: %q", ErrInvalidPhone, user.Phone)
	}

	now := s.clock()
	base := now
	if !user.RegisteredAt.IsZero() {
		base = user.RegisteredAt
	}
	sc := &ScheduledCall{
		UserID:       user.ID,
		Phone:        normalized,
		ScheduledFor: base.Add(delay),
		Status:       StatusScheduled,
		MaxAttempts:  s.maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	millis := now.UnixMilli()
	for {
		// Two schedules for one user in the same millisecond must not
		// collide; bump until the id is free.
		sc.ID = fmt.Sprintf("call_%s_%d", user.ID, millis)
		if _, taken := s.calls[sc.ID]; !taken {
			break
		}
		millis++
	}
	s.calls[sc.ID] = sc
	s.mu.Unlock()

	s.persist(ctx, sc)
	s.markDue(ctx, sc.ID, sc.ScheduledFor)
	s.arm(sc.ID, sc.ScheduledFor.Sub(now))

	s.log.Info("call scheduled",
		"call_id", sc.ID, "user_id", user.ID,
		"scheduled_for", sc.ScheduledFor, "delay", delay)
	return *sc, nil
}

// ExecuteScheduledCall runs one attempt. Executions of the same call are
// serialized by a per-call mutex; a call already past its pending state is a
// no-op so a late timer or duplicate signal cannot double-dial.
func (s *Scheduler) ExecuteScheduledCall(ctx context.Context, callID string) error {
	lock := s.callLock(callID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	sc, ok := s.calls[callID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, callID)
	}

	if sc.Status != StatusScheduled && sc.Status != StatusRetryScheduled {
		s.log.Debug("execute skipped", "call_id", callID, "status", sc.Status)
		return nil
	}

	s.transition(ctx, sc, func() {
		sc.Attempts++
		sc.Status = StatusExecuting
		sc.ExternalCallID = ""
	})
	s.unmarkDue(ctx, callID)

	log := s.log.With("call_id", callID, "user_id", sc.UserID, "attempt", sc.Attempts)

	user, err := s.store.GetUser(ctx, sc.UserID)
	if err != nil {
		log.Error("user lookup failed", "error", err)
		s.failAttempt(ctx, sc, fmt.Sprintf("user lookup: %v", err))
		return nil
	}

	history, err := s.store.GetCallHistory(ctx, sc.UserID, historyLimit)
	if err != nil {
		// Context degrades gracefully; the call still goes out.
		log.Warn("call history lookup failed", "error", err)
		history = nil
	}

	vars := dialog.BuildCallContext(user, history, s.clock())
	externalID, err := s.platform.PlaceCall(ctx, sc.Phone, vars)
	if err != nil {
		log.Error("place call failed", "error", err)
		s.failAttempt(ctx, sc, err.Error())
		return nil
	}

	s.transition(ctx, sc, func() {
		sc.Status = StatusInProgress
		sc.ExternalCallID = externalID
		sc.LastError = ""
	})
	log.Info("call placed", "external_call_id", externalID)
	return nil
}

// failAttempt applies the retry policy after a failed attempt: a fixed delay
// while attempts remain, permanent failure otherwise.
func (s *Scheduler) failAttempt(ctx context.Context, sc *ScheduledCall, reason string) {
	if sc.Attempts < sc.MaxAttempts {
		retryAt := s.clock().Add(s.retryDelay)
		s.transition(ctx, sc, func() {
			sc.Status = StatusRetryScheduled
			sc.LastError = reason
			sc.ScheduledFor = retryAt
		})
		s.markDue(ctx, sc.ID, retryAt)
		s.arm(sc.ID, s.retryDelay)
		s.log.Info("retry scheduled",
			"call_id", sc.ID, "attempt", sc.Attempts, "retry_at", retryAt)
		return
	}

	s.transition(ctx, sc, func() {
		sc.Status = StatusFailed
		sc.LastError = reason
	})
	s.unmarkDue(ctx, sc.ID)
	s.log.Error("call permanently failed",
		"call_id", sc.ID, "attempts", sc.Attempts, "last_error", reason)
}

// MarkCallCompleted closes the scheduled call matching the voice platform's
// call id and flips the user's first-call milestone.
func (s *Scheduler) MarkCallCompleted(ctx context.Context, externalCallID string) error {
	sc := s.findByExternalID(externalCallID)
	if sc == nil {
		return fmt.Errorf("%w: external call %s", ErrNotFound, externalCallID)
	}

	lock := s.callLock(sc.ID)
	lock.Lock()
	defer lock.Unlock()

	if sc.Status.Terminal() {
		return nil
	}
	s.transition(ctx, sc, func() {
		sc.Status = StatusCompleted
	})
	s.stopTimer(sc.ID)
	s.unmarkDue(ctx, sc.ID)

	if err := s.store.MarkFirstCallDone(ctx, sc.UserID); err != nil {
		s.log.Warn("first-call milestone update failed", "user_id", sc.UserID, "error", err)
	}
	s.log.Info("call completed", "call_id", sc.ID, "external_call_id", externalCallID)
	return nil
}

// CancelScheduledCall cancels a call that has not started executing yet.
func (s *Scheduler) CancelScheduledCall(ctx context.Context, callID string) error {
	lock := s.callLock(callID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	sc, ok := s.calls[callID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if sc.Status != StatusScheduled {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, callID, sc.Status)
	}

	s.transition(ctx, sc, func() {
		sc.Status = StatusCancelled
	})
	s.stopTimer(callID)
	s.unmarkDue(ctx, callID)
	s.log.Info("call cancelled", "call_id", callID)
	return nil
}

// RescheduleCall moves a pending call to a new time and re-arms its timer.
func (s *Scheduler) RescheduleCall(ctx context.Context, callID string, at time.Time) error {
	lock := s.callLock(callID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	sc, ok := s.calls[callID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if sc.Status != StatusScheduled {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, callID, sc.Status)
	}

	s.transition(ctx, sc, func() {
		sc.ScheduledFor = at
	})
	s.markDue(ctx, callID, at)
	s.arm(callID, at.Sub(s.clock()))
	s.log.Info("call rescheduled", "call_id", callID, "scheduled_for", at)
	return nil
}

// CancelPendingForUser cancels every scheduled or retry-pending call for the
// user. Used when a subscription ends. Returns how many were cancelled.
func (s *Scheduler) CancelPendingForUser(ctx context.Context, userID string) int {
	s.mu.Lock()
	var ids []string
	for id, sc := range s.calls {
		if sc.UserID == userID && (sc.Status == StatusScheduled || sc.Status == StatusRetryScheduled) {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	n := 0
	for _, id := range ids {
		lock := s.callLock(id)
		lock.Lock()
		s.mu.Lock()
		sc := s.calls[id]
		s.mu.Unlock()
		if sc != nil && (sc.Status == StatusScheduled || sc.Status == StatusRetryScheduled) {
			s.transition(ctx, sc, func() {
				sc.Status = StatusCancelled
			})
			s.stopTimer(id)
			s.unmarkDue(ctx, id)
			n++
		}
		lock.Unlock()
	}
	if n > 0 {
		s.log.Info("pending calls cancelled", "user_id", userID, "count", n)
	}
	return n
}

// Recover reloads pending calls from the repository after a restart and
// re-arms their timers. Calls already past due execute immediately.
func (s *Scheduler) Recover(ctx context.Context) error {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("recover scheduled calls: %w", err)
	}

	now := s.clock()
	for i := range pending {
		sc := pending[i]
		s.mu.Lock()
		if _, exists := s.calls[sc.ID]; exists {
			s.mu.Unlock()
			continue
		}
		s.calls[sc.ID] = &sc
		s.mu.Unlock()

		s.markDue(ctx, sc.ID, sc.ScheduledFor)
		s.arm(sc.ID, sc.ScheduledFor.Sub(now))
	}

	s.log.Info("scheduler recovered", "pending", len(pending))
	return nil
}

// SweepDue claims past-due entries from the redis index and executes them.
// The in-process timers are the fast path; the sweep catches calls whose
// timer never fired, such as entries the index kept across a crash. Claimed
// calls already past their pending state fall through the terminal-state
// check in ExecuteScheduledCall.
func (s *Scheduler) SweepDue(ctx context.Context) int {
	if s.claimDue == nil {
		return 0
	}
	ids, err := s.claimDue(ctx, s.clock(), claimBatchSize)
	if err != nil {
		s.log.Warn("due index claim failed", "error", err)
		return 0
	}

	n := 0
	for _, id := range ids {
		if err := s.ExecuteScheduledCall(ctx, id); err != nil {
			s.log.Warn("due sweep execution failed", "call_id", id, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("due sweep executed", "count", n)
	}
	return n
}

// RunDueSweeper polls the due index every interval until ctx is cancelled.
// Run it in its own goroutine.
func (s *Scheduler) RunDueSweeper(ctx context.Context, interval time.Duration) {
	if s.claimDue == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepDue(ctx)
		}
	}
}

// Stats summarizes the working set.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.calls), ByStatus: make(map[Status]int)}
	for _, sc := range s.calls {
		st.ByStatus[sc.Status]++
	}
	return st
}

// ListScheduled returns a snapshot of every known call, soonest first.
func (s *Scheduler) ListScheduled() []ScheduledCall {
	s.mu.Lock()
	out := make([]ScheduledCall, 0, len(s.calls))
	for _, sc := range s.calls {
		out = append(out, *sc)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out
}

// UserScheduledCalls returns the user's calls, soonest first.
func (s *Scheduler) UserScheduledCalls(userID string) []ScheduledCall {
	var out []ScheduledCall
	for _, sc := range s.ListScheduled() {
		if sc.UserID == userID {
			out = append(out, sc)
		}
	}
	return out
}

// UserForExternalCall resolves the owner of an in-flight platform call id.
// The correlator uses this before any call record exists.
func (s *Scheduler) UserForExternalCall(externalCallID string) (string, bool) {
	sc := s.findByExternalID(externalCallID)
	if sc == nil {
		return "", false
	}
	return sc.UserID, true
}

// StatusOf reports the current status of a call.
func (s *Scheduler) StatusOf(callID string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.calls[callID]
	if !ok {
		return "", false
	}
	return sc.Status, true
}

// RetryRequested is the carrier follow-up hook: the carrier saw the line
// busy, unanswered, or a machine pick up, so the in-flight attempt is folded
// back into the retry policy instead of waiting for the platform's verdict.
func (s *Scheduler) RetryRequested(ctx context.Context, callControlID, phoneNumber string, after time.Duration, cause string) {
	sc := s.matchSignal(callControlID, phoneNumber)
	if sc == nil {
		s.log.Info("retry signal unmatched",
			"call_control_id", callControlID, "phone", phoneNumber, "cause", cause)
		return
	}

	lock := s.callLock(sc.ID)
	lock.Lock()
	defer lock.Unlock()

	if sc.Status.Terminal() {
		return
	}
	if sc.Attempts >= sc.MaxAttempts {
		s.transition(ctx, sc, func() {
			sc.Status = StatusFailed
			sc.LastError = cause
		})
		s.unmarkDue(ctx, sc.ID)
		s.log.Error("carrier retry exhausted", "call_id", sc.ID, "cause", cause)
		return
	}

	retryAt := s.clock().Add(after)
	s.transition(ctx, sc, func() {
		sc.Status = StatusRetryScheduled
		sc.LastError = cause
		sc.ScheduledFor = retryAt
		sc.ExternalCallID = ""
	})
	s.markDue(ctx, sc.ID, retryAt)
	s.arm(sc.ID, after)
	s.log.Info("carrier retry scheduled",
		"call_id", sc.ID, "cause", cause, "retry_at", retryAt)
}

// HangupRequested ends the live platform call correlated to a carrier
// signal. Machine detection uses this so the assistant does not keep talking
// to a voicemail greeting; carrier control ids never match platform call
// ids, so the call is resolved by dialed number first.
func (s *Scheduler) HangupRequested(ctx context.Context, callControlID, phoneNumber, cause string) {
	sc := s.matchSignal(callControlID, phoneNumber)
	if sc == nil || sc.ExternalCallID == "" {
		s.log.Info("hangup signal unmatched",
			"call_control_id", callControlID, "phone", phoneNumber, "cause", cause)
		return
	}

	if err := s.platform.EndCall(ctx, sc.ExternalCallID); err != nil {
		s.log.Warn("platform hangup failed",
			"call_id", sc.ID, "external_call_id", sc.ExternalCallID, "error", err)
		return
	}
	s.log.Info("platform call ended",
		"call_id", sc.ID, "external_call_id", sc.ExternalCallID, "cause", cause)
}

// OutreachSuggested records that the user actively rejected the call, so an
// automated redial would do more harm than good. The note surfaces in logs
// for a human follow-up over another channel.
func (s *Scheduler) OutreachSuggested(ctx context.Context, callControlID, phoneNumber, cause string) {
	attrs := []any{"call_control_id", callControlID, "phone", phoneNumber, "cause", cause}
	if sc := s.matchSignal(callControlID, phoneNumber); sc != nil {
		attrs = append(attrs, "call_id", sc.ID, "user_id", sc.UserID)
	}
	s.log.Warn("alternate-channel outreach suggested", attrs...)
}

// matchSignal correlates a carrier signal to a call: by external call id
// when the ids line up, otherwise by dialed number against the most recent
// in-flight attempt.
func (s *Scheduler) matchSignal(callControlID, phoneNumber string) *ScheduledCall {
	normalized := phone.Normalize(phoneNumber)

	s.mu.Lock()
	defer s.mu.Unlock()

	var byPhone *ScheduledCall
	for _, sc := range s.calls {
		if sc.ExternalCallID != "" && sc.ExternalCallID == callControlID {
			return sc
		}
		if sc.Phone != normalized {
			continue
		}
		if sc.Status != StatusExecuting && sc.Status != StatusInProgress {
			continue
		}
		if byPhone == nil || sc.ScheduledFor.After(byPhone.ScheduledFor) {
			byPhone = sc
		}
	}
	return byPhone
}

func (s *Scheduler) findByExternalID(externalCallID string) *ScheduledCall {
	if externalCallID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.calls {
		if sc.ExternalCallID == externalCallID {
			return sc
		}
	}
	return nil
}

// transition mutates the record under the working-set lock and writes it
// through to the repository.
func (s *Scheduler) transition(ctx context.Context, sc *ScheduledCall, mutate func()) {
	s.mu.Lock()
	mutate()
	sc.UpdatedAt = s.clock()
	snapshot := *sc
	s.mu.Unlock()
	s.persistCopy(ctx, snapshot)
}

func (s *Scheduler) persist(ctx context.Context, sc *ScheduledCall) {
	s.mu.Lock()
	snapshot := *sc
	s.mu.Unlock()
	s.persistCopy(ctx, snapshot)
}

func (s *Scheduler) persistCopy(ctx context.Context, sc ScheduledCall) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, sc); err != nil {
		s.log.Warn("scheduled call persist failed", "call_id", sc.ID, "error", err)
	}
}

func (s *Scheduler) arm(callID string, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	t := s.schedule(delay, func() {
		if err := s.ExecuteScheduledCall(context.Background(), callID); err != nil {
			s.log.Error("scheduled execution failed", "call_id", callID, "error", err)
		}
	})

	s.mu.Lock()
	old := s.timers[callID]
	s.timers[callID] = t
	s.mu.Unlock()
	if old != nil {
		old.Stop()
	}
}

func (s *Scheduler) stopTimer(callID string) {
	s.mu.Lock()
	t := s.timers[callID]
	delete(s.timers, callID)
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (s *Scheduler) callLock(callID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[callID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[callID] = l
	}
	return l
}

func (s *Scheduler) markDue(ctx context.Context, callID string, at time.Time) {
	if s.rdb == nil {
		return
	}
	if err := utils.MarkDue(ctx, s.rdb, dueKey, callID, at); err != nil {
		s.log.Warn("due index update failed", "call_id", callID, "error", err)
	}
}

func (s *Scheduler) unmarkDue(ctx context.Context, callID string) {
	if s.rdb == nil {
		return
	}
	if err := utils.UnmarkDue(ctx, s.rdb, dueKey, callID); err != nil {
		s.log.Warn("due index removal failed", "call_id", callID, "error", err)
	}
}
