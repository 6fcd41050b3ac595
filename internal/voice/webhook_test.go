package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
)

type sinkCall struct {
	kind    string
	callID  string
	phone   string
	message string
	payload CallPayload
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) CallStarted(ctx context.Context, callID, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: "started", callID: callID, phone: phone})
}

func (s *fakeSink) CallEnded(ctx context.Context, p CallPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: "ended", callID: p.ID, payload: p})
}

func (s *fakeSink) CallFailed(ctx context.Context, callID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: "failed", callID: callID, message: message})
}

func postEvent(t *testing.T, h WebhookHandler, sig string, body any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/voice", h.Handle)

	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/voice", &buf)
	if sig != "" {
		req.Header.Set("X-Voice-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallStartedDispatch(t *testing.T) {
	sink := &fakeSink{}
	h := WebhookHandler{Sink: sink}

	w := postEvent(t, h, "", Event{
		Type: "call.started",
		Call: &CallPayload{ID: "call-1", Customer: &CustomerInfo{Number: "+525512345678"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(sink.calls) != 1 || sink.calls[0].kind != "started" {
		t.Fatalf("calls = %+v", sink.calls)
	}
	if sink.calls[0].callID != "call-1" || sink.calls[0].phone != "+525512345678" {
		t.Errorf("started = %+v", sink.calls[0])
	}
}

func TestCallEndedDispatch(t *testing.T) {
	sink := &fakeSink{}
	h := WebhookHandler{Sink: sink}

	postEvent(t, h, "", Event{
		Type: "call.ended",
		Call: &CallPayload{
			ID:              "call-2",
			DurationSeconds: 240,
			EndedReason:     "customer-ended-call",
			Transcript:      "Hola",
		},
	})
	if len(sink.calls) != 1 || sink.calls[0].kind != "ended" {
		t.Fatalf("calls = %+v", sink.calls)
	}
	if got := sink.calls[0].payload; got.DurationSeconds != 240 || got.Transcript != "Hola" {
		t.Errorf("payload = %+v", got)
	}
}

func TestCallFailedMessagePriority(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "top-level error wins",
			ev: Event{
				Type:  "call.failed",
				Call:  &CallPayload{ID: "c", Error: &ErrorPayload{Message: "inner"}},
				Error: &ErrorPayload{Message: "outer"},
			},
			want: "outer",
		},
		{
			name: "call error as fallback",
			ev: Event{
				Type: "call.failed",
				Call: &CallPayload{ID: "c", Error: &ErrorPayload{Message: "inner"}},
			},
			want: "inner",
		},
		{
			name: "default when neither present",
			ev:   Event{Type: "call.failed", Call: &CallPayload{ID: "c"}},
			want: "unknown error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			postEvent(t, WebhookHandler{Sink: sink}, "", tt.ev)
			if len(sink.calls) != 1 || sink.calls[0].message != tt.want {
				t.Errorf("calls = %+v, want message %q", sink.calls, tt.want)
			}
		})
	}
}

func TestEventWithoutCallIDIsIgnored(t *testing.T) {
	sink := &fakeSink{}
	h := WebhookHandler{Sink: sink}

	w := postEvent(t, h, "", Event{Type: "call.started", Call: &CallPayload{}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(sink.calls) != 0 {
		t.Errorf("calls = %+v, want none", sink.calls)
	}
}

func TestSignatureCheck(t *testing.T) {
	sink := &fakeSink{}
	h := WebhookHandler{Sink: sink, Secret: "s3cret"}

	w := postEvent(t, h, "wrong", Event{Type: "call.started", Call: &CallPayload{ID: "c"}})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(sink.calls) != 0 {
		t.Errorf("calls = %+v, want none", sink.calls)
	}

	w = postEvent(t, h, "s3cret", Event{Type: "call.started", Call: &CallPayload{ID: "c"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(sink.calls) != 1 {
		t.Errorf("calls = %+v, want one", sink.calls)
	}
}

func TestMalformedBodyStillAcked(t *testing.T) {
	sink := &fakeSink{}
	w := postEvent(t, WebhookHandler{Sink: sink}, "", "{not json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(sink.calls) != 0 {
		t.Errorf("calls = %+v, want none", sink.calls)
	}
}

func TestUnknownEventTypeAcked(t *testing.T) {
	sink := &fakeSink{}
	w := postEvent(t, WebhookHandler{Sink: sink}, "", Event{Type: "status.update"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestContainsEmergencyKeyword(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Necesito una AMBULANCIA por favor", true},
		{"me caí en la cocina", true},
		{"creo que es un infarto", true},
		{"hoy comí tamales con mi vecina", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ContainsEmergencyKeyword(tt.text); got != tt.want {
			t.Errorf("ContainsEmergencyKeyword(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
