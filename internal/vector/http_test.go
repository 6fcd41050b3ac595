package vector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"companion-calls/internal/analysis"
	"companion-calls/internal/config"
)

func testIndex(url string) *HTTPIndex {
	x := NewHTTPIndex(config.VectorConfig{URL: url, APIKey: "key"})
	x.maxElapsed = 2 * time.Second
	return x
}

func TestIndexPostsObject(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/objects" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing api key")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	doc := analysis.ConversationDoc{
		Content:        "contenido anonimizado",
		EmotionalState: "neutral",
		Topics:         []string{"familia"},
		AgeGroup:       "70-79",
		Region:         "mexico",
	}
	if err := testIndex(srv.URL).Index(context.Background(), doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if got["class"] != "Conversation" {
		t.Errorf("class = %v", got["class"])
	}
	props, _ := got["properties"].(map[string]any)
	if props["content"] != "contenido anonimizado" || props["region"] != "mexico" {
		t.Errorf("properties = %v", props)
	}
}

func TestQuerySimilar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/graphql" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		json.Unmarshal(body, &req)
		if !strings.Contains(req["query"], `concepts: ["salud", "familia"]`) {
			t.Errorf("query = %s", req["query"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"Get": map[string]any{
					"Conversation": []map[string]any{
						{"content": "doc", "emotionalState": "positivo", "topics": []string{"salud"}},
					},
				},
			},
		})
	}))
	defer srv.Close()

	docs, err := testIndex(srv.URL).QuerySimilar(context.Background(), []string{"salud", "familia"}, 3)
	if err != nil {
		t.Fatalf("QuerySimilar: %v", err)
	}
	if len(docs) != 1 || docs[0].EmotionalState != "positivo" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestQuerySimilarNoTopics(t *testing.T) {
	docs, err := testIndex("http://unused").QuerySimilar(context.Background(), nil, 3)
	if err != nil || docs != nil {
		t.Errorf("got %v, %v; want nil, nil", docs, err)
	}
}

func TestIndexRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := testIndex(srv.URL).Index(context.Background(), analysis.ConversationDoc{}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestMemoryQueryRanksByOverlap(t *testing.T) {
	m := NewMemory()
	m.Index(context.Background(), analysis.ConversationDoc{Content: "a", Topics: []string{"salud"}})
	m.Index(context.Background(), analysis.ConversationDoc{Content: "b", Topics: []string{"salud", "familia"}})
	m.Index(context.Background(), analysis.ConversationDoc{Content: "c", Topics: []string{"dinero"}})

	docs, err := m.QuerySimilar(context.Background(), []string{"salud", "familia"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Content != "b" {
		t.Errorf("docs = %+v, want b ranked first", docs)
	}
}
