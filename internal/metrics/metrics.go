package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder counts orchestration outcomes on its own registry so several
// engines (tests, daemons) never collide on the default one.
type Recorder struct {
	registry  *prometheus.Registry
	pending   *prometheus.CounterVec
	sequences *prometheus.CounterVec
	steps     *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwa",
			Name:      "pending_actions_total",
			Help:      "Countdown-gated actions by outcome (armed, fired, cancelled, rejected).",
		}, []string{"outcome"}),
		sequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwa",
			Name:      "sequences_total",
			Help:      "Transaction sequences by action kind and terminal state.",
		}, []string{"kind", "state"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwa",
			Name:      "plan_steps_total",
			Help:      "Plan steps by step name and status.",
		}, []string{"step", "status"}),
	}
	r.registry.MustRegister(r.pending, r.sequences, r.steps)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) PendingOutcome(outcome string) {
	if r == nil {
		return
	}
	r.pending.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SequenceFinished(kind, state string) {
	if r == nil {
		return
	}
	r.sequences.WithLabelValues(kind, state).Inc()
}

func (r *Recorder) StepStatus(step, status string) {
	if r == nil {
		return
	}
	r.steps.WithLabelValues(step, status).Inc()
}
