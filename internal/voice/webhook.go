package voice

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"companion-calls/pkg/logger"
)

// Event is the JSON body the voice platform posts to our webhook.
// Only the fields the correlator consumes are modeled; the platform sends
// more.
type Event struct {
	Type       string             `json:"type"`
	Call       *CallPayload       `json:"call,omitempty"`
	Transcript *TranscriptPayload `json:"transcript,omitempty"`
	Tool       *ToolPayload       `json:"tool,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`
}

type CallPayload struct {
	ID              string        `json:"id"`
	Status          string        `json:"status,omitempty"`
	DurationSeconds int           `json:"duration,omitempty"`
	EndedReason     string        `json:"endedReason,omitempty"`
	Transcript      string        `json:"transcript,omitempty"`
	RecordingURL    string        `json:"recordingUrl,omitempty"`
	Summary         string        `json:"summary,omitempty"`
	Customer        *CustomerInfo `json:"customer,omitempty"`
	Error           *ErrorPayload `json:"error,omitempty"`
}

type CustomerInfo struct {
	Number string `json:"number"`
}

type TranscriptPayload struct {
	Text string `json:"text"`
	Role string `json:"role"` // "user" or "assistant"
}

type ToolPayload struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// EventSink receives platform call-lifecycle events. Implemented by the
// correlator; the webhook layer holds no business logic.
type EventSink interface {
	CallStarted(ctx context.Context, callID, phone string)
	CallEnded(ctx context.Context, p CallPayload)
	CallFailed(ctx context.Context, callID, message string)
}

// WebhookHandler receives all platform events on a single endpoint.
//
// The platform redelivers on non-2xx, so every delivery is acknowledged with
// 200 even when internal processing fails; failures are logged only.
type WebhookHandler struct {
	Sink   EventSink
	Secret string
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Secret != "" && c.GetHeader("X-Voice-Signature") != h.Secret {
		log.Warn("voice webhook with invalid signature")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var ev Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		log.Warn("voice webhook parse failed", "err", err)
		// Malformed bodies are not worth a redelivery either.
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	log.Debug("voice event received", "type", ev.Type)

	switch ev.Type {
	case "call.started":
		if ev.Call == nil || ev.Call.ID == "" {
			break
		}
		phone := ""
		if ev.Call.Customer != nil {
			phone = ev.Call.Customer.Number
		}
		h.Sink.CallStarted(c.Request.Context(), ev.Call.ID, phone)

	case "call.ended":
		if ev.Call == nil || ev.Call.ID == "" {
			break
		}
		h.Sink.CallEnded(c.Request.Context(), *ev.Call)

	case "call.failed":
		if ev.Call == nil || ev.Call.ID == "" {
			break
		}
		msg := "unknown error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		} else if ev.Call.Error != nil && ev.Call.Error.Message != "" {
			msg = ev.Call.Error.Message
		}
		h.Sink.CallFailed(c.Request.Context(), ev.Call.ID, msg)

	case "transcript.partial":
		h.handlePartialTranscript(c, ev)

	case "transcript.final":
		// The final transcript is processed via call.ended.
		if ev.Call != nil {
			log.Debug("final transcript received", "call_id", ev.Call.ID)
		}

	case "speech.started", "speech.ended", "assistant.message":
		// Conversation progress; nothing to do.

	case "tool.called":
		if ev.Tool != nil {
			callID := ""
			if ev.Call != nil {
				callID = ev.Call.ID
			}
			log.Info("assistant tool called", "call_id", callID, "tool", ev.Tool.Name)
		}

	default:
		log.Debug("unhandled voice event", "type", ev.Type)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// emergencyKeywords trigger an immediate crisis log line while the call is
// still live, ahead of the post-call analysis.
var emergencyKeywords = []string{
	"emergencia",
	"ambulancia",
	"hospital",
	"me muero",
	"no puedo respirar",
	"me caí",
	"sangre",
	"desmayo",
	"infarto",
	"suicid",
}

func (h WebhookHandler) handlePartialTranscript(c *gin.Context, ev Event) {
	if ev.Transcript == nil || ev.Transcript.Role != "user" {
		return
	}
	callID := ""
	if ev.Call != nil {
		callID = ev.Call.ID
	}
	if ContainsEmergencyKeyword(ev.Transcript.Text) {
		logger.FromGin(c).Warn("emergency keywords detected in live call", "call_id", callID)
	}
}

// ContainsEmergencyKeyword reports whether live speech contains any phrase
// from the fixed emergency list.
func ContainsEmergencyKeyword(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range emergencyKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
