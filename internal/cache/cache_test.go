package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutLookupIsCaseInsensitive(t *testing.T) {
	store := openStore(t)
	if err := store.Put("0xOwner", "Bob", "0x00000000000000000000000000000000000000b0", time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	entry, ok, err := store.Lookup("0xowner", "bob")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || entry.Address != "0x00000000000000000000000000000000000000b0" {
		t.Fatalf("expected hit, got ok=%v entry=%+v", ok, entry)
	}
}

func TestExpiredEntryIsMiss(t *testing.T) {
	store := openStore(t)
	base := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return base }
	if err := store.Put("o", "bob", "0xb0", 10*time.Second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	store.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, ok, err := store.Lookup("o", "bob"); err != nil || ok {
		t.Fatalf("expected expired miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
}

func TestForget(t *testing.T) {
	store := openStore(t)
	if err := store.Put("o", "bob", "0xb0", time.Minute); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Forget("o", "bob"); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, ok, _ := store.Lookup("o", "bob"); ok {
		t.Fatal("expected miss after Forget")
	}
}

func TestConcurrentPuts(t *testing.T) {
	store := openStore(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Put("o", fmt.Sprintf("friend-%d", i), "0xb0", time.Minute); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent put failed: %v", err)
	}
}
