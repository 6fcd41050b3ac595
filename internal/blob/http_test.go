package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"companion-calls/internal/config"
)

func testStore(url string) *HTTPStore {
	s := NewHTTPStore(config.BlobConfig{
		Endpoint:     url,
		AccessToken:  "token",
		LegalBucket:  "legal-bucket",
		ActiveBucket: "active-bucket",
	})
	s.maxElapsed = 2 * time.Second
	return s
}

func TestPutAndGet(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing bearer token")
		}
		switch r.Method {
		case http.MethodPost:
			if r.URL.Path != "/object/legal-bucket/recordings/u1/c1/audio.mp3" {
				t.Errorf("path = %s", r.URL.Path)
			}
			stored, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.Write(stored)
		}
	}))
	defer srv.Close()

	s := testStore(srv.URL)
	key := "recordings/u1/c1/audio.mp3"
	if err := s.Put(context.Background(), ClassLegal, key, []byte("mp3data"), "audio/mpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(context.Background(), ClassLegal, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "mp3data" {
		t.Errorf("Get = %q", got)
	}
}

func TestPutRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testStore(srv.URL)
	if err := s.Put(context.Background(), ClassActive, "k", []byte("v"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPutDoesNotRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := testStore(srv.URL)
	if err := s.Put(context.Background(), ClassActive, "k", []byte("v"), ""); err == nil {
		t.Fatal("want error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestUnknownClass(t *testing.T) {
	s := testStore("http://unused")
	if err := s.Put(context.Background(), Class("archive"), "k", nil, ""); !errors.Is(err, ErrUnknownClass) {
		t.Errorf("err = %v, want ErrUnknownClass", err)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := testStore(srv.URL)
	if _, err := s.Get(context.Background(), ClassActive, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
