package sequencer

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestHubMatchesByHashNotArrivalOrder(t *testing.T) {
	hub := NewHub()
	a := common.HexToHash("0x0a")
	b := common.HexToHash("0x0b")

	hub.Publish(Confirmation{TxHash: b, Status: Confirmed, BlockNumber: 2})
	hub.Publish(Confirmation{TxHash: a, Status: Failed, BlockNumber: 1})

	got, err := hub.Await(context.Background(), a)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if got.TxHash != a || got.Status != Failed {
		t.Fatalf("unexpected confirmation for a: %+v", got)
	}
	got, err = hub.Await(context.Background(), b)
	if err != nil || got.BlockNumber != 2 {
		t.Fatalf("unexpected confirmation for b: %+v err=%v", got, err)
	}
	if hub.Pending() != 0 {
		t.Fatalf("expected no leftovers, got %d", hub.Pending())
	}
}

func TestHubDeliversToWaiter(t *testing.T) {
	hub := NewHub()
	h := common.HexToHash("0x01")
	done := make(chan Confirmation, 1)
	go func() {
		c, _ := hub.Await(context.Background(), h)
		done <- c
	}()
	time.Sleep(10 * time.Millisecond)
	hub.Publish(Confirmation{TxHash: common.HexToHash("0x02"), Status: Confirmed})
	hub.Publish(Confirmation{TxHash: h, Status: Confirmed})
	select {
	case c := <-done:
		if c.TxHash != h {
			t.Fatalf("waiter received the wrong confirmation: %s", c.TxHash.Hex())
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never received its confirmation")
	}
	if hub.Pending() != 1 {
		t.Fatalf("expected the unrelated confirmation to stay buffered, got %d", hub.Pending())
	}
}

func TestHubAwaitHonoursContext(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := hub.Await(ctx, common.HexToHash("0x01")); err == nil {
		t.Fatal("expected context error")
	}
}
