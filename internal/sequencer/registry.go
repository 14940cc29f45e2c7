package sequencer

import (
	"fmt"
	"sync"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

// Registry admits at most one active sequence. The store is consulted too,
// so a sequence left unfinished by another process also blocks new ones.
type Registry struct {
	mu     sync.Mutex
	active string
	store  Store
}

func NewRegistry(store Store) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{store: store}
}

func (r *Registry) Store() Store {
	return r.store
}

// Begin registers seq as the active sequence and persists it.
func (r *Registry) Begin(seq Sequence) error {
	return r.admit(seq, false)
}

// Adopt re-registers an unfinished sequence being resumed.
func (r *Registry) Adopt(seq Sequence) error {
	return r.admit(seq, true)
}

func (r *Registry) admit(seq Sequence, resuming bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" && r.active != seq.ID {
		return inFlight(r.active)
	}
	unfinished, err := r.store.Unfinished()
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "read unfinished sequences", err)
	}
	for _, other := range unfinished {
		if other.ID != seq.ID {
			return inFlight(other.ID)
		}
	}
	if !resuming {
		for _, other := range unfinished {
			if other.ID == seq.ID {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("sequence %s already exists", seq.ID))
			}
		}
	}
	if err := r.store.Save(seq); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "persist sequence", err)
	}
	r.active = seq.ID
	return nil
}

func (r *Registry) Save(seq Sequence) error {
	if err := r.store.Save(seq); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "persist sequence", err)
	}
	return nil
}

// Release frees the slot held by id. A non-terminal sequence stays
// unfinished in the store and keeps blocking until resumed.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == id {
		r.active = ""
	}
}

// Active returns the sequence currently holding the slot in this process,
// or the newest unfinished one in the store.
func (r *Registry) Active() (Sequence, bool, error) {
	r.mu.Lock()
	id := r.active
	r.mu.Unlock()
	if id != "" {
		seq, err := r.store.Get(id)
		if err != nil {
			return Sequence{}, false, err
		}
		return seq, true, nil
	}
	unfinished, err := r.store.Unfinished()
	if err != nil {
		return Sequence{}, false, err
	}
	if len(unfinished) == 0 {
		return Sequence{}, false, nil
	}
	return unfinished[0], true, nil
}

func inFlight(id string) error {
	return clierr.New(clierr.CodeSequenceInFlight, fmt.Sprintf("sequence %s is still in flight; wait for it or resume it", id))
}
