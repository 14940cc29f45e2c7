package sequencer

import (
	"path/filepath"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

func TestSQLStoreSaveGetList(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSQLStore(filepath.Join(dir, "sequences.db"), filepath.Join(dir, "sequences.lock"))
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now()
	seq := Sequence{
		ID:        "seq-1",
		Kind:      "stream_money",
		State:     StateAwaitingConfirmation,
		Owner:     owner.Hex(),
		Steps:     []StepRecord{{Name: "grantPermissions", Status: StepSubmitted, TxHash: "0x01"}},
		Payload:   []byte(`{"kind":"stream_money"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Save(seq); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Get("seq-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != "stream_money" || got.Steps[0].TxHash != "0x01" || string(got.Payload) != `{"kind":"stream_money"}` {
		t.Fatalf("unexpected sequence: %+v", got)
	}

	unfinished, err := store.Unfinished()
	if err != nil || len(unfinished) != 1 {
		t.Fatalf("expected one unfinished sequence, got %d err=%v", len(unfinished), err)
	}

	got.State = StateCompleted
	got.UpdatedAt = now.Add(time.Second)
	if err := store.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	completed, err := store.List(StateCompleted, 10)
	if err != nil || len(completed) != 1 {
		t.Fatalf("expected one completed sequence, got %d err=%v", len(completed), err)
	}
	if unfinished, _ := store.Unfinished(); len(unfinished) != 0 {
		t.Fatalf("expected no unfinished sequences, got %d", len(unfinished))
	}
}

func TestSQLStoreGetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSQLStore(filepath.Join(dir, "sequences.db"), filepath.Join(dir, "sequences.lock"))
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.Get("missing"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRegistryBeginReleaseAndAdopt(t *testing.T) {
	reg := NewRegistry(nil)
	first := Sequence{ID: "one", State: StateIdle, UpdatedAt: time.Now()}
	if err := reg.Begin(first); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := reg.Begin(Sequence{ID: "two", State: StateIdle}); !clierr.Is(err, clierr.CodeSequenceInFlight) {
		t.Fatalf("expected SequenceInFlight, got %v", err)
	}
	reg.Release("one")
	// still unfinished in the store
	if err := reg.Begin(Sequence{ID: "two", State: StateIdle}); !clierr.Is(err, clierr.CodeSequenceInFlight) {
		t.Fatalf("expected unfinished record to block, got %v", err)
	}
	if err := reg.Adopt(first); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}
	first.State = StateCompleted
	if err := reg.Save(first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	reg.Release("one")
	if err := reg.Begin(Sequence{ID: "two", State: StateIdle}); err != nil {
		t.Fatalf("expected slot to be free, got %v", err)
	}
}
