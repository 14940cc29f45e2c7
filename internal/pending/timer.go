// Package pending gates chain-affecting actions behind a cancellable
// countdown. At most one action is armed at a time.
package pending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/metrics"
)

type State string

const (
	StateArmed     State = "armed"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

// Terminal states kept for Status lookups.
const historyLimit = 64

type Handle string

type Action struct {
	Handle           Handle                  `json:"handle"`
	Descriptor       intake.ActionDescriptor `json:"descriptor"`
	SecondsRemaining int                     `json:"seconds_remaining"`
	CreatedAt        time.Time               `json:"created_at"`
	State            State                   `json:"state"`
}

// Dispatcher receives a fired action. It is called exactly once per action,
// outside the timer lock.
type Dispatcher func(Action)

type Option func(*Timer)

func WithLogger(log logrus.FieldLogger) Option {
	return func(t *Timer) { t.log = log }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(t *Timer) { t.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Timer) { t.now = now }
}

type Timer struct {
	mu        sync.Mutex
	countdown int
	live      *Action
	history   map[Handle]Action
	order     []Handle
	dispatch  Dispatcher

	log     logrus.FieldLogger
	metrics *metrics.Recorder
	now     func() time.Time
}

func New(countdownSeconds int, dispatch Dispatcher, opts ...Option) *Timer {
	if countdownSeconds < 1 {
		countdownSeconds = 1
	}
	t := &Timer{
		countdown: countdownSeconds,
		history:   map[Handle]Action{},
		dispatch:  dispatch,
		log:       logrus.StandardLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Timer) Countdown() int {
	return t.countdown
}

// Arm starts the countdown for d. It fails with AlreadyArmed while another
// action is live and leaves that action untouched.
func (t *Timer) Arm(d intake.ActionDescriptor) (Handle, error) {
	if !d.Kind.AffectsChain() {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("action %q does not submit transactions and is not armed", d.Kind))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live != nil {
		t.metrics.PendingOutcome("rejected")
		return "", clierr.New(clierr.CodeAlreadyArmed, fmt.Sprintf("action %s is already pending with %ds remaining", t.live.Handle, t.live.SecondsRemaining))
	}
	action := &Action{
		Handle:           Handle(uuid.NewString()),
		Descriptor:       d,
		SecondsRemaining: t.countdown,
		CreatedAt:        t.now().UTC(),
		State:            StateArmed,
	}
	t.live = action
	t.metrics.PendingOutcome("armed")
	t.log.WithFields(logrus.Fields{"handle": action.Handle, "kind": d.Kind, "seconds": t.countdown}).Info("action armed")
	return action.Handle, nil
}

// Cancel frees the slot if h is still counting down. Fired actions cannot be
// cancelled from here.
func (t *Timer) Cancel(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live != nil && t.live.Handle == h {
		cancelled := *t.live
		cancelled.State = StateCancelled
		t.live = nil
		t.remember(cancelled)
		t.metrics.PendingOutcome("cancelled")
		t.log.WithFields(logrus.Fields{"handle": h, "kind": cancelled.Descriptor.Kind, "seconds_remaining": cancelled.SecondsRemaining}).Info("action cancelled")
		return nil
	}
	if prev, ok := t.history[h]; ok {
		if prev.State == StateFired {
			return clierr.New(clierr.CodeBlocked, "action already fired; submission can no longer be cancelled here")
		}
		return nil
	}
	return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown pending action %s", h))
}

// Tick advances the countdown by one second. When it reaches zero the action
// fires, the slot frees and the dispatcher is invoked.
func (t *Timer) Tick() {
	t.mu.Lock()
	if t.live == nil {
		t.mu.Unlock()
		return
	}
	t.live.SecondsRemaining--
	if t.live.SecondsRemaining > 0 {
		t.mu.Unlock()
		return
	}
	fired := *t.live
	fired.SecondsRemaining = 0
	fired.State = StateFired
	t.live = nil
	t.remember(fired)
	dispatch := t.dispatch
	t.mu.Unlock()

	t.metrics.PendingOutcome("fired")
	t.log.WithFields(logrus.Fields{"handle": fired.Handle, "kind": fired.Descriptor.Kind}).Info("action fired")
	if dispatch != nil {
		dispatch(fired)
	}
}

func (t *Timer) Status(h Handle) (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live != nil && t.live.Handle == h {
		return *t.live, true
	}
	a, ok := t.history[h]
	return a, ok
}

// Current returns the live action, if any.
func (t *Timer) Current() (Action, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live == nil {
		return Action{}, false
	}
	return *t.live, true
}

// Run drives Tick once per second until ctx is done.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick()
		}
	}
}

// remember must be called with mu held.
func (t *Timer) remember(a Action) {
	t.history[a.Handle] = a
	t.order = append(t.order, a.Handle)
	if len(t.order) > historyLimit {
		delete(t.history, t.order[0])
		t.order = t.order[1:]
	}
}
