// Package sequencer executes transaction plans one confirmed step at a
// time. It never retries and never rolls back.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/metrics"
)

const DefaultConfirmationTimeout = 2 * time.Minute

type Options struct {
	ConfirmationTimeout time.Duration
	Logger              logrus.FieldLogger
	Metrics             *metrics.Recorder
	Now                 func() time.Time
	NewID               func() string
}

type Sequencer struct {
	wallet   Wallet
	resolver Resolver
	registry *Registry
	opts     Options
}

func New(wallet Wallet, resolver Resolver, registry *Registry, opts Options) *Sequencer {
	if opts.ConfirmationTimeout <= 0 {
		opts.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Sequencer{wallet: wallet, resolver: resolver, registry: registry, opts: opts}
}

func (s *Sequencer) Registry() *Registry {
	return s.registry
}

// Run executes plan from the first step. The returned sequence is the final
// persisted record; the error is non-nil unless it completed.
func (s *Sequencer) Run(ctx context.Context, plan Plan) (Sequence, error) {
	if err := ValidatePlan(plan); err != nil {
		return Sequence{}, err
	}
	if s.wallet == nil {
		return Sequence{}, clierr.New(clierr.CodeSigner, "missing wallet")
	}
	now := s.opts.Now().UTC()
	seq := Sequence{
		ID:        s.opts.NewID(),
		Kind:      plan.Kind,
		State:     StateIdle,
		Owner:     s.wallet.Address().Hex(),
		Recipient: plan.Recipient,
		Steps:     make([]StepRecord, len(plan.Steps)),
		Payload:   plan.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, step := range plan.Steps {
		seq.Steps[i] = StepRecord{Name: step.Name, Status: StepPending}
	}
	if err := s.registry.Begin(seq); err != nil {
		return seq, err
	}
	defer s.registry.Release(seq.ID)
	return s.drive(ctx, plan, &seq, false)
}

// Resume continues an unfinished sequence with a plan rebuilt from its
// payload. A step whose transaction was already submitted is awaited, not
// sent again.
func (s *Sequencer) Resume(ctx context.Context, seq Sequence, plan Plan) (Sequence, error) {
	if seq.State.Terminal() {
		return seq, clierr.New(clierr.CodeUsage, fmt.Sprintf("sequence %s already finished as %s", seq.ID, seq.State))
	}
	if err := ValidatePlan(plan); err != nil {
		return seq, err
	}
	if got, want := strings.Join(plan.StepNames(), ","), strings.Join(recordNames(seq.Steps), ","); got != want {
		return seq, clierr.New(clierr.CodeInternal, fmt.Sprintf("rebuilt plan [%s] does not match recorded steps [%s]", got, want))
	}
	if s.wallet == nil {
		return seq, clierr.New(clierr.CodeSigner, "missing wallet")
	}
	if !strings.EqualFold(seq.Owner, s.wallet.Address().Hex()) {
		return seq, clierr.New(clierr.CodeSigner, fmt.Sprintf("sequence %s belongs to %s, wallet is %s", seq.ID, seq.Owner, s.wallet.Address().Hex()))
	}
	if err := s.registry.Adopt(seq); err != nil {
		return seq, err
	}
	defer s.registry.Release(seq.ID)
	return s.drive(ctx, plan, &seq, true)
}

func ValidatePlan(plan Plan) error {
	if len(plan.Steps) == 0 {
		return clierr.New(clierr.CodeUsage, "plan has no steps")
	}
	seen := map[string]bool{}
	for i, step := range plan.Steps {
		if strings.TrimSpace(step.Name) == "" || step.Build == nil {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("plan step %d is incomplete", i))
		}
		if seen[step.Name] {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("plan step %q appears twice", step.Name))
		}
		seen[step.Name] = true
	}
	if plan.Steps[0].DependsOnPriorConfirmation {
		return clierr.New(clierr.CodeInternal, "first plan step cannot depend on a prior confirmation")
	}
	return nil
}

func (s *Sequencer) drive(ctx context.Context, plan Plan, seq *Sequence, resumed bool) (Sequence, error) {
	log := s.opts.Logger.WithFields(logrus.Fields{"sequence_id": seq.ID, "kind": seq.Kind})

	if seq.State == StateIdle {
		if err := s.moveTo(seq, StateResolving); err != nil {
			return *seq, err
		}
	}
	if seq.State == StateResolving {
		if err := s.resolveRecipient(ctx, plan, seq); err != nil {
			log.WithError(err).Warn("recipient resolution failed; nothing was submitted")
			return s.abort(seq, -1, err)
		}
	}

	for i := range plan.Steps {
		if seq.Steps[i].Status == StepConfirmed {
			continue
		}
		if err := s.runStep(ctx, plan, seq, i, resumed, log); err != nil {
			return *seq, err
		}
	}

	if err := s.moveTo(seq, StateCompleted); err != nil {
		return *seq, err
	}
	if plan.OnComplete != nil {
		if warnings := plan.OnComplete(ctx, *seq); len(warnings) > 0 {
			seq.Degraded = true
			seq.Warnings = append(seq.Warnings, warnings...)
		}
	}
	if err := s.save(seq); err != nil {
		return *seq, err
	}
	s.opts.Metrics.SequenceFinished(seq.Kind, string(seq.State))
	log.WithField("degraded", seq.Degraded).Info("sequence completed")
	return *seq, nil
}

func (s *Sequencer) resolveRecipient(ctx context.Context, plan Plan, seq *Sequence) error {
	if strings.TrimSpace(plan.Recipient) != "" && seq.ResolvedRecipient == "" {
		if s.resolver == nil {
			return clierr.New(clierr.CodeResolution, fmt.Sprintf("no resolver configured for recipient %q", plan.Recipient))
		}
		addr, err := s.resolver.Resolve(ctx, seq.Owner, plan.Recipient)
		if err != nil {
			return classify(err, clierr.CodeResolution, fmt.Sprintf("resolve recipient %q", plan.Recipient))
		}
		seq.ResolvedRecipient = addr.Hex()
	}
	return s.save(seq)
}

func (s *Sequencer) runStep(ctx context.Context, plan Plan, seq *Sequence, i int, resumed bool, log logrus.FieldLogger) error {
	step := plan.Steps[i]
	rec := &seq.Steps[i]
	log = log.WithField("step", step.Name)

	var hash common.Hash
	switch {
	case rec.Status == StepSubmitted && rec.TxHash != "":
		hash = common.HexToHash(rec.TxHash)
		log.WithField("tx_hash", rec.TxHash).Info("re-awaiting submitted step")
	case resumed && seq.State == StateSubmitting && seq.StepIndex == i:
		_, err := s.abort(seq, i, clierr.New(clierr.CodeBlocked, fmt.Sprintf("step %s was interrupted during submission; check the wallet before starting over", step.Name)))
		return err
	default:
		if err := s.moveTo(seq, StateSubmitting); err != nil {
			return err
		}
		seq.StepIndex = i
		if err := s.save(seq); err != nil {
			return err
		}

		req, err := step.Build(s.stepContext(seq))
		if err != nil {
			_, err = s.abort(seq, i, classify(err, clierr.CodeInternal, fmt.Sprintf("build step %s", step.Name)))
			return err
		}
		rec.Request = &req
		hash, err = s.wallet.Submit(ctx, req)
		if err != nil {
			_, err = s.abort(seq, i, classify(err, clierr.CodePermission, fmt.Sprintf("wallet rejected step %s", step.Name)))
			return err
		}
		rec.Status = StepSubmitted
		rec.TxHash = hash.Hex()
		s.opts.Metrics.StepStatus(step.Name, string(StepSubmitted))
		if err := s.moveTo(seq, StateAwaitingConfirmation); err != nil {
			return err
		}
		if err := s.save(seq); err != nil {
			return err
		}
		log.WithField("tx_hash", rec.TxHash).Info("step submitted")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmationTimeout)
	defer cancel()
	conf, err := s.wallet.Await(waitCtx, hash)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Warn("interrupted while awaiting confirmation")
		return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("interrupted while awaiting step %s; run `sequences resume %s` to continue", step.Name, seq.ID), ctx.Err())
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return s.timeout(seq, i, hash)
	case err != nil:
		_, err = s.abort(seq, i, classify(err, clierr.CodeUnavailable, fmt.Sprintf("await step %s", step.Name)))
		return err
	}
	if conf.TxHash != hash {
		_, err = s.abort(seq, i, clierr.New(clierr.CodeInternal, fmt.Sprintf("confirmation for %s delivered to step %s awaiting %s", conf.TxHash.Hex(), step.Name, hash.Hex())))
		return err
	}
	if conf.Status != Confirmed {
		reason := conf.Reason
		if reason == "" {
			reason = "transaction reverted"
		}
		_, err = s.abort(seq, i, clierr.New(clierr.CodePermission, fmt.Sprintf("step %s failed: %s", step.Name, reason)))
		return err
	}

	rec.Status = StepConfirmed
	rec.BlockNumber = conf.BlockNumber
	if step.Decode != nil {
		for k, v := range step.Decode(conf) {
			if seq.Outputs == nil {
				seq.Outputs = map[string]string{}
			}
			seq.Outputs[k] = v
		}
	}
	s.opts.Metrics.StepStatus(step.Name, string(StepConfirmed))
	log.WithField("block", conf.BlockNumber).Info("step confirmed")
	return s.save(seq)
}

func (s *Sequencer) stepContext(seq *Sequence) StepContext {
	outputs := make(map[string]string, len(seq.Outputs))
	for k, v := range seq.Outputs {
		outputs[k] = v
	}
	sc := StepContext{Owner: common.HexToAddress(seq.Owner), Outputs: outputs}
	if seq.ResolvedRecipient != "" {
		sc.Recipient = common.HexToAddress(seq.ResolvedRecipient)
	}
	return sc
}

// abort ends the sequence at step i (-1 before any step). Confirmed steps
// stay as they are.
func (s *Sequencer) abort(seq *Sequence, i int, cause error) (Sequence, error) {
	if i >= 0 {
		seq.Steps[i].Status = StepFailed
		seq.Steps[i].Error = cause.Error()
		seq.FailedStep = seq.Steps[i].Name
		s.opts.Metrics.StepStatus(seq.Steps[i].Name, string(StepFailed))
	}
	seq.Error = cause.Error()
	if err := s.moveTo(seq, StateAborted); err != nil {
		return *seq, err
	}
	if err := s.save(seq); err != nil {
		return *seq, err
	}
	s.opts.Metrics.SequenceFinished(seq.Kind, string(seq.State))
	s.opts.Logger.WithFields(logrus.Fields{"sequence_id": seq.ID, "failed_step": seq.FailedStep}).WithError(cause).Warn("sequence aborted")
	return *seq, cause
}

func (s *Sequencer) timeout(seq *Sequence, i int, hash common.Hash) error {
	cause := clierr.New(clierr.CodeConfirmationTimeout, fmt.Sprintf(
		"no confirmation for step %s (tx %s) within %s; it may still be mined", seq.Steps[i].Name, hash.Hex(), s.opts.ConfirmationTimeout))
	seq.Steps[i].Status = StepTimedOut
	seq.Steps[i].Error = cause.Error()
	seq.FailedStep = seq.Steps[i].Name
	seq.Error = cause.Error()
	if err := s.moveTo(seq, StateTimedOut); err != nil {
		return err
	}
	if err := s.save(seq); err != nil {
		return err
	}
	s.opts.Metrics.StepStatus(seq.Steps[i].Name, string(StepTimedOut))
	s.opts.Metrics.SequenceFinished(seq.Kind, string(seq.State))
	s.opts.Logger.WithFields(logrus.Fields{"sequence_id": seq.ID, "step": seq.Steps[i].Name, "tx_hash": hash.Hex()}).Warn("confirmation timed out")
	return cause
}

func (s *Sequencer) moveTo(seq *Sequence, next State) error {
	if !canTransition(seq.State, next) {
		return clierr.New(clierr.CodeInternal, fmt.Sprintf("sequence %s cannot move from %s to %s", seq.ID, seq.State, next))
	}
	seq.State = next
	return nil
}

func (s *Sequencer) save(seq *Sequence) error {
	seq.UpdatedAt = s.opts.Now().UTC()
	return s.registry.Save(*seq)
}

func classify(err error, fallback clierr.Code, msg string) error {
	if _, ok := clierr.As(err); ok {
		return err
	}
	return clierr.Wrap(fallback, msg, err)
}

func recordNames(steps []StepRecord) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Name)
	}
	return out
}
