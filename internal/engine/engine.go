// Package engine connects intake, the countdown, the sequencer and the
// completion side effects into one submit path.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/ledger"
	"github.com/ggonzalez94/rwa-orchestrator/internal/metrics"
	"github.com/ggonzalez94/rwa-orchestrator/internal/pending"
	"github.com/ggonzalez94/rwa-orchestrator/internal/planner"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
	"github.com/ggonzalez94/rwa-orchestrator/internal/trigger"
)

// Registrar is the event watcher registration capability.
type Registrar interface {
	Register(ctx context.Context, reg trigger.Registration) (trigger.Result, error)
}

type Config struct {
	Planner   *planner.Planner
	Sequencer *sequencer.Sequencer
	// Book and Registrar are optional. Without them the matching side
	// effects are reported as warnings.
	Book             *ledger.Book
	Registrar        Registrar
	CountdownSeconds int
	Logger           logrus.FieldLogger
	Metrics          *metrics.Recorder
}

type outcome struct {
	action    pending.Action
	cancelled bool
}

type Engine struct {
	planner   *planner.Planner
	seq       *sequencer.Sequencer
	book      *ledger.Book
	registrar Registrar
	timer     *pending.Timer
	log       logrus.FieldLogger

	mu      sync.Mutex
	waiters map[pending.Handle]chan outcome
}

func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := &Engine{
		planner:   cfg.Planner,
		seq:       cfg.Sequencer,
		book:      cfg.Book,
		registrar: cfg.Registrar,
		log:       log,
		waiters:   map[pending.Handle]chan outcome{},
	}
	e.timer = pending.New(cfg.CountdownSeconds, e.dispatch, pending.WithLogger(log), pending.WithMetrics(cfg.Metrics))
	return e
}

// Run drives the countdown until ctx ends. Submit needs it running.
func (e *Engine) Run(ctx context.Context) error {
	return e.timer.Run(ctx)
}

func (e *Engine) Timer() *pending.Timer {
	return e.timer
}

func (e *Engine) Sequencer() *sequencer.Sequencer {
	return e.seq
}

// Prepare normalizes d and selects its plan without touching the chain.
func (e *Engine) Prepare(d intake.ActionDescriptor) (intake.Intent, sequencer.Plan, error) {
	in, err := intake.Normalize(d)
	if err != nil {
		return intake.Intent{}, sequencer.Plan{}, err
	}
	plan, err := e.planner.Build(in)
	if err != nil {
		return in, sequencer.Plan{}, err
	}
	return in, e.withSideEffects(in, plan), nil
}

// Submit arms d behind the countdown and executes its plan when the
// countdown fires. Cancelling ctx, or Cancel with the handle passed to
// onArmed, before then ends with a cancellation and nothing submitted.
func (e *Engine) Submit(ctx context.Context, d intake.ActionDescriptor, onArmed func(pending.Handle)) (sequencer.Sequence, error) {
	in, plan, err := e.Prepare(d)
	if err != nil {
		return sequencer.Sequence{}, err
	}

	ch := make(chan outcome, 1)
	e.mu.Lock()
	h, err := e.timer.Arm(d)
	if err == nil {
		e.waiters[h] = ch
	}
	e.mu.Unlock()
	if err != nil {
		return sequencer.Sequence{}, err
	}
	if onArmed != nil {
		onArmed(h)
	}

	select {
	case <-ctx.Done():
		if cerr := e.Cancel(h); cerr != nil {
			return sequencer.Sequence{}, cerr
		}
		return sequencer.Sequence{}, clierr.New(clierr.CodeCancelled, fmt.Sprintf("%s cancelled before submission", in.Kind))
	case res := <-ch:
		if res.cancelled {
			return sequencer.Sequence{}, clierr.New(clierr.CodeCancelled, fmt.Sprintf("%s cancelled before submission", in.Kind))
		}
		e.log.WithFields(logrus.Fields{"handle": res.action.Handle, "kind": in.Kind}).Info("countdown elapsed; executing plan")
		return e.seq.Run(ctx, plan)
	}
}

// Cancel stops a pending action and releases whoever is waiting on it.
func (e *Engine) Cancel(h pending.Handle) error {
	if err := e.timer.Cancel(h); err != nil {
		return err
	}
	e.mu.Lock()
	ch := e.waiters[h]
	delete(e.waiters, h)
	e.mu.Unlock()
	if ch != nil {
		ch <- outcome{cancelled: true}
	}
	return nil
}

// Execute runs an already confirmed intent immediately, skipping the
// countdown.
func (e *Engine) Execute(ctx context.Context, in intake.Intent) (sequencer.Sequence, error) {
	plan, err := e.planner.Build(in)
	if err != nil {
		return sequencer.Sequence{}, err
	}
	return e.seq.Run(ctx, e.withSideEffects(in, plan))
}

// Resume continues the unfinished sequence id from its stored payload.
func (e *Engine) Resume(ctx context.Context, id string) (sequencer.Sequence, error) {
	seq, err := e.seq.Registry().Store().Get(id)
	if err != nil {
		return sequencer.Sequence{}, err
	}
	in, plan, err := e.planner.Rebuild(seq.Payload)
	if err != nil {
		return seq, err
	}
	return e.seq.Resume(ctx, seq, e.withSideEffects(in, plan))
}

func (e *Engine) dispatch(a pending.Action) {
	e.mu.Lock()
	ch := e.waiters[a.Handle]
	delete(e.waiters, a.Handle)
	e.mu.Unlock()
	if ch == nil {
		e.log.WithField("handle", a.Handle).Warn("fired action has no waiter")
		return
	}
	ch <- outcome{action: a}
}
