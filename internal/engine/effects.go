package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/planner"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
	"github.com/ggonzalez94/rwa-orchestrator/internal/trigger"
)

// withSideEffects attaches the completion work for in. Each effect reports
// failure as a warning; the confirmed transactions stand either way.
func (e *Engine) withSideEffects(in intake.Intent, plan sequencer.Plan) sequencer.Plan {
	switch in.Kind {
	case intake.KindInvestRealEstate:
		plan.OnComplete = func(ctx context.Context, seq sequencer.Sequence) []string {
			if e.book == nil {
				return []string{"investment confirmed but no ledger is configured"}
			}
			if _, err := e.book.RecordInvestment(ctx, seq.Owner, in.PropertyID, in.Amount, lastTxHash(seq), seq.ID); err != nil {
				e.log.WithError(err).WithField("sequence_id", seq.ID).Warn("ledger update failed")
				return []string{fmt.Sprintf("investment confirmed but ledger update failed: %v", err)}
			}
			return nil
		}
	case intake.KindRentToOwn:
		plan.OnComplete = func(ctx context.Context, seq sequencer.Sequence) []string {
			if e.book == nil || in.RentToOwn == nil {
				return []string{"rent-to-own schedule created but no ledger is configured"}
			}
			rto := *in.RentToOwn
			rto.Tenant = seq.Owner
			rto.Landlord = seq.ResolvedRecipient
			if _, err := e.book.RecordRentToOwn(ctx, seq.Owner, in.PropertyID, rto, lastTxHash(seq)); err != nil {
				e.log.WithError(err).WithField("sequence_id", seq.ID).Warn("ledger update failed")
				return []string{fmt.Sprintf("rent-to-own schedule created but ledger update failed: %v", err)}
			}
			return nil
		}
	case intake.KindEventPayment:
		plan.OnComplete = func(ctx context.Context, seq sequencer.Sequence) []string {
			return e.registerTrigger(ctx, in, seq)
		}
	}
	return plan
}

func (e *Engine) registerTrigger(ctx context.Context, in intake.Intent, seq sequencer.Sequence) []string {
	const degraded = "schedule exists but is not yet monitored"
	if in.Schedule == nil || in.Schedule.EventTrigger == nil {
		return []string{degraded + ": intent has no trigger"}
	}
	if e.registrar == nil {
		return []string{degraded + ": no event watcher configured"}
	}
	cond := in.Schedule.EventTrigger
	reg := trigger.Registration{
		ScheduleID:         seq.Outputs[planner.OutputScheduleID],
		EventTrigger:       cond.Trigger,
		TriggerFrom:        cond.From,
		TriggerDescription: cond.Description,
		UserAddress:        seq.Owner,
		Recipient:          seq.ResolvedRecipient,
	}
	res, err := e.registrar.Register(ctx, reg)
	if err != nil {
		e.log.WithError(err).WithField("sequence_id", seq.ID).Warn("event trigger registration failed")
		return []string{fmt.Sprintf("%s: %v", degraded, err)}
	}
	e.log.WithFields(logrus.Fields{"sequence_id": seq.ID, "trigger_id": res.TriggerID}).Info("event trigger registered")
	return nil
}

func lastTxHash(seq sequencer.Sequence) string {
	for i := len(seq.Steps) - 1; i >= 0; i-- {
		if seq.Steps[i].TxHash != "" {
			return seq.Steps[i].TxHash
		}
	}
	return ""
}
