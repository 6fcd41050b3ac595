package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"companion-calls/internal/analysis"
	"companion-calls/internal/auth"
	"companion-calls/internal/config"
	"companion-calls/internal/scheduler"
	"companion-calls/internal/store"
	"companion-calls/internal/vector"
)

type noopPlatform struct{ calls atomic.Int64 }

func (p *noopPlatform) PlaceCall(ctx context.Context, phone string, vars map[string]any) (string, error) {
	return fmt.Sprintf("ext-%d", p.calls.Add(1)), nil
}
func (p *noopPlatform) GetTranscript(ctx context.Context, externalCallID string) (string, error) {
	return "", nil
}
func (p *noopPlatform) EndCall(ctx context.Context, externalCallID string) error { return nil }

type apiEnv struct {
	router *gin.Engine
	h      Handlers
	store  *store.Memory
	sched  *scheduler.Scheduler
	token  string
}

func newAPIEnv(t *testing.T, env string) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mgr, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	tok, err := mgr.Issue(time.Now(), "op-1", "operator")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	st := store.NewMemory()
	st.PutUser(store.User{ID: "u1", Name: "María", Phone: "55 1234 5678"})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := scheduler.New(st, scheduler.NewMemoryRepo(), &noopPlatform{}, nil, log)

	idx := vector.NewMemory()
	idx.Index(context.Background(), analysis.ConversationDoc{
		Content: "Hablamos de salud", Topics: []string{"salud"}, EmotionalState: "neutral",
	})

	h := Handlers{Auth: mgr, Sched: sched, Store: st, Index: idx, Env: env}

	r := gin.New()
	r.POST("/auth/login", h.Login)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(mgr))
	{
		v1.GET("/stats", h.Stats)
		v1.GET("/calls", h.ListCalls)
		v1.POST("/calls/:id/cancel", h.CancelCall)
		v1.POST("/calls/:id/reschedule", h.RescheduleCall)
		v1.GET("/context/:userId", h.UserContext)
		v1.GET("/conversations/similar", h.SimilarConversations)
		v1.POST("/test-call", h.TestCall)
	}

	return &apiEnv{router: r, h: h, store: st, sched: sched, token: tok}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestLoginIssuesVerifiableToken(t *testing.T) {
	e := newAPIEnv(t, "development")

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"operator_id": "op-9", "role": "admin"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	tok, _ := decode(t, w)["access_token"].(string)
	claims, err := e.h.Auth.Verify(tok, time.Now())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.OperatorID != "op-9" || claims.Role != "admin" {
		t.Fatalf("claims = %q/%q", claims.OperatorID, claims.Role)
	}
}

func TestLoginRejectsMissingFields(t *testing.T) {
	e := newAPIEnv(t, "development")

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"operator_id": "op-9"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", &buf)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newAPIEnv(t, "development")

	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}
}

func TestStatsAndList(t *testing.T) {
	e := newAPIEnv(t, "development")

	user, _ := e.store.GetUser(context.Background(), "u1")
	if _, err := e.sched.ScheduleCall(context.Background(), user, 2*time.Hour); err != nil {
		t.Fatalf("ScheduleCall: %v", err)
	}

	w := e.do(t, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d", w.Code)
	}
	stats := decode(t, w)
	if stats["total"] != float64(1) {
		t.Fatalf("total = %v, want 1", stats["total"])
	}

	w = e.do(t, http.MethodGet, "/v1/calls", nil)
	calls, _ := decode(t, w)["calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}

	w = e.do(t, http.MethodGet, "/v1/calls?user_id=nobody", nil)
	if got, _ := decode(t, w)["calls"].([]any); len(got) != 0 {
		t.Fatalf("filtered calls = %d, want 0", len(got))
	}
}

func TestCancelCall(t *testing.T) {
	e := newAPIEnv(t, "development")

	user, _ := e.store.GetUser(context.Background(), "u1")
	sc, err := e.sched.ScheduleCall(context.Background(), user, 2*time.Hour)
	if err != nil {
		t.Fatalf("ScheduleCall: %v", err)
	}

	if w := e.do(t, http.MethodPost, "/v1/calls/"+sc.ID+"/cancel", nil); w.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", w.Code)
	}
	// Already cancelled.
	if w := e.do(t, http.MethodPost, "/v1/calls/"+sc.ID+"/cancel", nil); w.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/call_missing_1/cancel", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown cancel status = %d, want 404", w.Code)
	}
}

func TestRescheduleCall(t *testing.T) {
	e := newAPIEnv(t, "development")

	user, _ := e.store.GetUser(context.Background(), "u1")
	sc, err := e.sched.ScheduleCall(context.Background(), user, 2*time.Hour)
	if err != nil {
		t.Fatalf("ScheduleCall: %v", err)
	}

	at := time.Now().Add(5 * time.Hour).UTC().Truncate(time.Second)
	w := e.do(t, http.MethodPost, "/v1/calls/"+sc.ID+"/reschedule", map[string]any{"at": at})
	if w.Code != http.StatusOK {
		t.Fatalf("reschedule status = %d: %s", w.Code, w.Body.String())
	}
	if got, _ := e.sched.StatusOf(sc.ID); got != scheduler.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", got)
	}

	if w := e.do(t, http.MethodPost, "/v1/calls/"+sc.ID+"/reschedule", map[string]string{"at": "not-a-time"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body status = %d, want 400", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/v1/calls/call_missing_1/reschedule", map[string]any{"at": at}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown status = %d, want 404", w.Code)
	}
}

func TestUserContext(t *testing.T) {
	e := newAPIEnv(t, "development")

	w := e.do(t, http.MethodGet, "/v1/context/u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["is_first_call"] != true {
		t.Fatalf("is_first_call = %v, want true", body["is_first_call"])
	}
	vars, _ := body["variables"].(map[string]any)
	if vars["user_name"] != "María" {
		t.Fatalf("user_name = %v", vars["user_name"])
	}
	briefing, _ := body["briefing"].(string)
	if !strings.Contains(briefing, "BRIEFING PARA LLAMADA") {
		t.Fatalf("briefing missing header: %q", briefing)
	}

	if w := e.do(t, http.MethodGet, "/v1/context/nobody", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", w.Code)
	}
}

func TestSimilarConversations(t *testing.T) {
	e := newAPIEnv(t, "development")

	w := e.do(t, http.MethodGet, "/v1/conversations/similar?topics=salud", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	docs, _ := decode(t, w)["conversations"].([]any)
	if len(docs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(docs))
	}

	if w := e.do(t, http.MethodGet, "/v1/conversations/similar", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing topics status = %d, want 400", w.Code)
	}

	e.h.Index = nil
	e2 := e.h
	r := gin.New()
	r.GET("/similar", e2.SimilarConversations)
	req := httptest.NewRequest(http.MethodGet, "/similar?topics=salud", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil index status = %d, want 503", rec.Code)
	}
}

func TestTestCall(t *testing.T) {
	e := newAPIEnv(t, "development")

	w := e.do(t, http.MethodPost, "/v1/test-call", map[string]string{"user_id": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	callID, _ := decode(t, w)["callId"].(string)
	if !strings.HasPrefix(callID, "call_u1_") {
		t.Fatalf("callId = %q", callID)
	}

	if w := e.do(t, http.MethodPost, "/v1/test-call", map[string]string{"user_id": "nobody"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d, want 404", w.Code)
	}
}

func TestTestCallDisabledInProduction(t *testing.T) {
	e := newAPIEnv(t, "production")

	w := e.do(t, http.MethodPost, "/v1/test-call", map[string]string{"user_id": "u1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}
