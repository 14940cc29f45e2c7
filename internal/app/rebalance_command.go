package app

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/rwa-orchestrator/internal/engine"
	"github.com/ggonzalez94/rwa-orchestrator/internal/policy"
	"github.com/ggonzalez94/rwa-orchestrator/internal/rebalance"
)

type evaluationView struct {
	Decision rebalance.Decision `json:"decision"`
	// Snapped is the non-authoritative "rebalance now" picture.
	Snapped []rebalance.Allocation `json:"snapped,omitempty"`
}

func evaluatePortfolio(ctx context.Context, path string) (rebalance.Portfolio, rebalance.Decision, error) {
	p, err := rebalance.FileSource{Path: path}.Load(ctx)
	if err != nil {
		return rebalance.Portfolio{}, rebalance.Decision{}, err
	}
	allocs, err := rebalance.Allocate(p.Strategy, p.Holdings)
	if err != nil {
		return rebalance.Portfolio{}, rebalance.Decision{}, err
	}
	d, err := rebalance.Evaluate(p.Strategy, allocs)
	if err != nil {
		return rebalance.Portfolio{}, rebalance.Decision{}, err
	}
	return p, d, nil
}

func (s *runtimeState) newRebalanceCommand() *cobra.Command {
	root := &cobra.Command{Use: "rebalance", Short: "Portfolio drift checks and the rebalance swap"}

	var evalPath string
	var snap bool
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compare a portfolio against its target allocation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, d, err := evaluatePortfolio(cmd.Context(), evalPath)
			if err != nil {
				return err
			}
			view := evaluationView{Decision: d}
			if snap {
				if view.Snapped, err = rebalance.SnapToTarget(p.Strategy, d.Allocations); err != nil {
					return err
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
		},
	}
	evaluateCmd.Flags().StringVar(&evalPath, "portfolio", "", "Portfolio file (targets, threshold, holdings)")
	evaluateCmd.Flags().BoolVar(&snap, "snap", false, "Also show allocations snapped to target")
	_ = evaluateCmd.MarkFlagRequired("portfolio")

	var watchPath, watchSpec string
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the drift check on a schedule until interrupted; never trades",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := strings.TrimSpace(watchSpec)
			if spec == "" {
				spec = s.settings.RebalanceSchedule
			}
			w := rebalance.NewWatcher(rebalance.FileSource{Path: watchPath}, func(d rebalance.Decision) {
				if d.NeedsRebalance {
					s.log.WithFields(logrus.Fields{
						"max_deviation": d.MaxDeviationPct.String(),
						"threshold":     d.Threshold.String(),
					}).Warn("portfolio drifted past threshold; run rebalance execute to trade")
				}
			}, s.log)
			if _, err := w.Check(cmd.Context()); err != nil {
				return err
			}
			if err := w.Run(cmd.Context(), spec); err != nil {
				return err
			}
			last, _ := w.Last()
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), evaluationView{Decision: last}, nil)
		},
	}
	watchCmd.Flags().StringVar(&watchPath, "portfolio", "", "Portfolio file, reloaded on every check")
	watchCmd.Flags().StringVar(&watchSpec, "schedule", "", `Cron spec or "@every 1h" (default from config)`)
	_ = watchCmd.MarkFlagRequired("portfolio")

	var execPath string
	executeCmd := &cobra.Command{
		Use:         "execute",
		Short:       "Count down, then swap USDC into ETH to close the ETH shortfall",
		Annotations: map[string]string{policy.AnnotationSubmits: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, d, err := evaluatePortfolio(cmd.Context(), execPath)
			if err != nil {
				return err
			}
			desc, ok := engine.RebalanceDescriptor(d)
			if !ok {
				msg := "portfolio is within threshold"
				if d.NeedsRebalance {
					msg = "drift has no USDC to ETH leg to execute"
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), evaluationView{Decision: d}, []string{msg})
			}
			seq, err := s.submitWithCountdown(cmd.Context(), desc)
			if err != nil {
				s.captureSequence(seq)
				return err
			}
			return s.emitSequence(trimRootPath(cmd.CommandPath()), seq)
		},
	}
	executeCmd.Flags().StringVar(&execPath, "portfolio", "", "Portfolio file (targets, threshold, holdings)")
	_ = executeCmd.MarkFlagRequired("portfolio")

	root.AddCommand(evaluateCmd)
	root.AddCommand(watchCmd)
	root.AddCommand(executeCmd)
	return root
}
