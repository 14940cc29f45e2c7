package sequencer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Hub pairs pushed confirmations with the step waiting on the same hash.
// Confirmations may arrive in any order and before anyone waits for them.
type Hub struct {
	mu      sync.Mutex
	arrived map[common.Hash]Confirmation
	waiters map[common.Hash][]chan Confirmation
}

func NewHub() *Hub {
	return &Hub{
		arrived: map[common.Hash]Confirmation{},
		waiters: map[common.Hash][]chan Confirmation{},
	}
}

func (h *Hub) Publish(c Confirmation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	waiting := h.waiters[c.TxHash]
	if len(waiting) == 0 {
		h.arrived[c.TxHash] = c
		return
	}
	delete(h.waiters, c.TxHash)
	for _, ch := range waiting {
		ch <- c
	}
}

func (h *Hub) Await(ctx context.Context, hash common.Hash) (Confirmation, error) {
	h.mu.Lock()
	if c, ok := h.arrived[hash]; ok {
		delete(h.arrived, hash)
		h.mu.Unlock()
		return c, nil
	}
	ch := make(chan Confirmation, 1)
	h.waiters[hash] = append(h.waiters[hash], ch)
	h.mu.Unlock()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		h.drop(hash, ch)
		return Confirmation{}, ctx.Err()
	}
}

// Pending reports how many hashes have confirmations nobody collected.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.arrived)
}

func (h *Hub) drop(hash common.Hash, ch chan Confirmation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	waiting := h.waiters[hash]
	found := false
	for i, w := range waiting {
		if w == ch {
			waiting = append(waiting[:i], waiting[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		// Delivered while the waiter was giving up; keep it for the next one.
		select {
		case c := <-ch:
			h.arrived[hash] = c
		default:
		}
	}
	if len(waiting) == 0 {
		delete(h.waiters, hash)
	} else {
		h.waiters[hash] = waiting
	}
}
