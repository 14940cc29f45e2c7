package rebalance

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

type Source interface {
	Load(ctx context.Context) (Portfolio, error)
}

// Watcher runs the drift check on a cron schedule and reports each
// decision. It never executes trades.
type Watcher struct {
	source   Source
	onResult func(Decision)
	log      logrus.FieldLogger

	mu   sync.Mutex
	last *Decision
}

func NewWatcher(source Source, onResult func(Decision), log logrus.FieldLogger) *Watcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{source: source, onResult: onResult, log: log}
}

// Check runs one drift check.
func (w *Watcher) Check(ctx context.Context) (Decision, error) {
	p, err := w.source.Load(ctx)
	if err != nil {
		return Decision{}, err
	}
	allocs, err := Allocate(p.Strategy, p.Holdings)
	if err != nil {
		return Decision{}, err
	}
	d, err := Evaluate(p.Strategy, allocs)
	if err != nil {
		return Decision{}, err
	}
	w.mu.Lock()
	w.last = &d
	w.mu.Unlock()
	w.log.WithFields(logrus.Fields{
		"needs_rebalance": d.NeedsRebalance,
		"max_deviation":   d.MaxDeviationPct.String(),
		"actions":         len(d.Actions),
	}).Info("drift check")
	if w.onResult != nil {
		w.onResult(d)
	}
	return d, nil
}

func (w *Watcher) Last() (Decision, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Decision{}, false
	}
	return *w.last, true
}

// Run schedules Check with spec (standard five-field or "@every 5m") until
// ctx ends.
func (w *Watcher) Run(ctx context.Context, spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse rebalance schedule", err)
	}
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := w.Check(ctx); err != nil {
			w.log.WithError(err).Warn("drift check failed")
		}
	}))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
