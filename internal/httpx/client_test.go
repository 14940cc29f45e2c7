package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

func TestDoJSONRetriesServerErrorOnGet(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 1)
	var out map[string]any
	if err := GetJSON(context.Background(), client, srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
}

func TestPostIsNeverRetried(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	err := PostJSON(context.Background(), client, srv.URL, map[string]string{"a": "b"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected a single POST attempt, got %d", got)
	}
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable code, got %v", err)
	}
}

func TestClientErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"friend not found"}`))
	}))
	defer srv.Close()

	err := GetJSON(context.Background(), New(time.Second, 0), srv.URL, nil)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError cause, got %v", err)
	}
	if statusErr.Status != http.StatusNotFound || statusErr.Body != "friend not found" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
}

func TestJoinURL(t *testing.T) {
	if got := JoinURL("http://x/", "/api/friends", "0xabc", "resolve", "bob"); got != "http://x/api/friends/0xabc/resolve/bob" {
		t.Fatalf("unexpected url: %s", got)
	}
}
