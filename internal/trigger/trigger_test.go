package trigger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/httpx"
)

func TestRegisterPostsRegistration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/event-trigger" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["scheduleId"] != "7" || body["eventTrigger"] != "deposit" || body["userAddress"] != "0xowner" {
			t.Errorf("unexpected body: %v", body)
		}
		_, _ = w.Write([]byte(`{"success":true,"triggerId":"trg-1"}`))
	}))
	defer srv.Close()

	res, err := New(httpx.New(time.Second, 0), srv.URL).Register(context.Background(), Registration{
		ScheduleID:   "7",
		EventTrigger: "deposit",
		UserAddress:  "0xowner",
		Recipient:    "0xrecipient",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !res.Registered || res.TriggerID != "trg-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRegisterFailuresAreRegistrationErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error":"unknown trigger"}`))
	}))
	defer srv.Close()

	r := New(httpx.New(time.Second, 3), srv.URL)
	reg := Registration{ScheduleID: "7", EventTrigger: "deposit"}
	if _, err := r.Register(context.Background(), reg); !clierr.Is(err, clierr.CodeRegistration) {
		t.Fatalf("expected registration error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("registration must not be retried, got %d calls", calls)
	}
	if _, err := r.Register(context.Background(), reg); !clierr.Is(err, clierr.CodeRegistration) {
		t.Fatalf("expected rejected registration error, got %v", err)
	}
	if _, err := r.Register(context.Background(), Registration{}); !clierr.Is(err, clierr.CodeRegistration) {
		t.Fatalf("expected missing fields error, got %v", err)
	}
}
