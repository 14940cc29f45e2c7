package engine

import (
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/rebalance"
)

// RebalanceDescriptor turns the executable leg of d into an action that goes
// through the normal countdown and sequencer path. ok is false when nothing
// in d can be executed.
func RebalanceDescriptor(d rebalance.Decision) (intake.ActionDescriptor, bool) {
	if !d.NeedsRebalance {
		return intake.ActionDescriptor{}, false
	}
	amount, ok := rebalance.SwapLeg(d)
	if !ok {
		return intake.ActionDescriptor{}, false
	}
	return intake.NewDescriptor(intake.KindRebalancePortfolio, map[string]any{
		"amount": amount.String() + " USDC",
	}, "rebalance: swap "+amount.String()+" USDC to ETH"), true
}
