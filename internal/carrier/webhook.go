// Package carrier ingests telephony carrier webhooks. Carrier events are
// diagnostic: they never drive call-record state, which belongs to the voice
// platform. What they do carry is early failure detail (busy, no answer,
// answering machine) that arrives minutes before the platform reports the
// call ended, so the handler translates hangup causes into typed follow-up
// signals for the scheduler.
package carrier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"companion-calls/internal/calllog"
	"companion-calls/pkg/logger"
)

// Event is the carrier webhook envelope. The carrier wraps every event in a
// data object with a dotted event type and a type-specific payload.
type Event struct {
	Data struct {
		EventType string  `json:"event_type"`
		Payload   Payload `json:"payload"`
	} `json:"data"`
}

// Payload is the union of fields across the event types we consume. Absent
// fields decode to zero values.
type Payload struct {
	CallControlID string   `json:"call_control_id"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	Direction     string   `json:"direction"`
	HangupCause   string   `json:"hangup_cause"`
	HangupSource  string   `json:"hangup_source"`
	Result        string   `json:"result"`
	RecordingURLs []string `json:"recording_urls"`
	Digit         string   `json:"digit"`
}

// SignalSink receives follow-up signals derived from carrier diagnostics.
// Implemented by the scheduler. The phone is the dialed number; carrier call
// control ids do not match voice platform call ids, so receivers correlate
// by either.
type SignalSink interface {
	RetryRequested(ctx context.Context, callControlID, phone string, after time.Duration, cause string)
	OutreachSuggested(ctx context.Context, callControlID, phone, cause string)

	// HangupRequested asks the receiver to end the live platform call it
	// correlates to the signal.
	HangupRequested(ctx context.Context, callControlID, phone, cause string)
}

// Retry delays by hangup cause. Busy lines clear quickly; unanswered phones
// get a longer window before the next attempt.
const (
	busyRetryDelay     = 30 * time.Minute
	noAnswerRetryDelay = time.Hour
	machineRetryDelay  = 30 * time.Minute
)

// WebhookHandler processes carrier events. All requests are acknowledged
// with 200 so the carrier never retries delivery; a signature mismatch is
// the only rejection.
type WebhookHandler struct {
	Log    *calllog.Service
	Sink   SignalSink
	Secret string
}

func (h *WebhookHandler) Handle(c *gin.Context) {
	if h.Secret != "" && c.GetHeader("X-Carrier-Signature") != h.Secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	log := logger.FromGin(c)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn("carrier webhook body read failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("carrier webhook malformed", "error", err)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	ctx := c.Request.Context()
	p := ev.Data.Payload

	switch ev.Data.EventType {
	case "call.initiated":
		log.Info("carrier call initiated",
			"call_control_id", p.CallControlID, "direction", p.Direction)
		h.record(ctx, calllog.EventInitiated, p)

	case "call.answered":
		log.Info("carrier call answered", "call_control_id", p.CallControlID)
		h.record(ctx, calllog.EventAnswered, p)

	case "call.hangup":
		log.Info("carrier call hangup",
			"call_control_id", p.CallControlID,
			"cause", p.HangupCause, "source", p.HangupSource)
		h.record(ctx, calllog.EventHangup, p)
		h.handleHangup(ctx, p)

	case "call.machine.detection.ended":
		log.Info("carrier machine detection", "call_control_id", p.CallControlID, "result", p.Result)
		if p.Result == "machine" {
			h.record(ctx, calllog.EventVoicemailDetected, p)
			h.handleMachine(ctx, p)
		}

	case "call.recording.saved":
		log.Info("carrier recording saved",
			"call_control_id", p.CallControlID, "urls", len(p.RecordingURLs))
		h.record(ctx, calllog.EventRecordingSaved, p)

	case "call.dtmf.received":
		log.Info("carrier dtmf", "call_control_id", p.CallControlID, "digit", p.Digit)
		h.record(ctx, calllog.EventDTMF, p)

	default:
		log.Debug("carrier event ignored", "event_type", ev.Data.EventType)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// handleHangup maps terminal hangup causes to follow-up signals. A normal
// clearing means the conversation ran its course and needs nothing here.
func (h *WebhookHandler) handleHangup(ctx context.Context, p Payload) {
	if h.Sink == nil {
		return
	}
	switch p.HangupCause {
	case "normal_clearing", "":
	case "user_busy":
		h.Sink.RetryRequested(ctx, p.CallControlID, p.To, busyRetryDelay, p.HangupCause)
	case "no_answer", "originator_cancel", "timeout":
		h.Sink.RetryRequested(ctx, p.CallControlID, p.To, noAnswerRetryDelay, p.HangupCause)
	case "call_rejected":
		h.Sink.OutreachSuggested(ctx, p.CallControlID, p.To, p.HangupCause)
	default:
		h.Sink.RetryRequested(ctx, p.CallControlID, p.To, noAnswerRetryDelay, p.HangupCause)
	}
}

// handleMachine hangs up rather than leave the assistant talking to a
// voicemail greeting, then asks for a retry later in the day. The hangup
// goes through the sink: only the scheduler can map the dialed number back
// to the live platform call id.
func (h *WebhookHandler) handleMachine(ctx context.Context, p Payload) {
	if h.Sink == nil {
		return
	}
	h.Sink.HangupRequested(ctx, p.CallControlID, p.To, "machine_detected")
	h.Sink.RetryRequested(ctx, p.CallControlID, p.To, machineRetryDelay, "machine_detected")
}

func (h *WebhookHandler) record(ctx context.Context, t calllog.EventType, p Payload) {
	if h.Log == nil {
		return
	}
	raw, _ := json.Marshal(p)
	e := calllog.Event{CallControlID: p.CallControlID, Type: t, Payload: string(raw)}
	if err := h.Log.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("call event append failed",
			"call_control_id", p.CallControlID, "type", t, "error", err)
	}
}
