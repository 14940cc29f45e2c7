package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/pending"
	"github.com/ggonzalez94/rwa-orchestrator/internal/policy"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

// intentArgs describes a request either as free text for the parser or as
// an explicit --type with --param key=value pairs.
type intentArgs struct {
	kind        string
	params      []string
	description string
}

func (a *intentArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.kind, "type", "", "Action type, skipping the parser (e.g. stream_money, invest_real_estate)")
	cmd.Flags().StringArrayVar(&a.params, "param", nil, "Action parameter as key=value (repeatable, with --type)")
	cmd.Flags().StringVar(&a.description, "description", "", "Human description recorded with a --type action")
}

func (s *runtimeState) readDescriptor(ctx context.Context, args []string, in intentArgs) (intake.ActionDescriptor, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if strings.TrimSpace(in.kind) != "" {
		if text != "" {
			return intake.ActionDescriptor{}, clierr.New(clierr.CodeUsage, "pass either a request or --type, not both")
		}
		params, err := parseParams(in.params)
		if err != nil {
			return intake.ActionDescriptor{}, err
		}
		desc := in.description
		if desc == "" {
			desc = in.kind
		}
		return intake.NewDescriptor(intake.ActionKind(in.kind), params, desc), nil
	}
	if text == "" {
		return intake.ActionDescriptor{}, clierr.New(clierr.CodeUsage, "a request or --type is required")
	}
	client, err := s.parserClient()
	if err != nil {
		return intake.ActionDescriptor{}, err
	}
	reqCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	return client.Parse(reqCtx, text, strings.TrimSpace(s.settings.OwnerAddress))
}

func parseParams(items []string) (map[string]any, error) {
	out := make(map[string]any, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("--param %q must be key=value", item))
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func (s *runtimeState) newIntentCommand() *cobra.Command {
	root := &cobra.Command{Use: "intent", Short: "Submit parsed requests as transaction sequences"}

	var submit intentArgs
	submitCmd := &cobra.Command{
		Use:   "submit [request]",
		Short: "Parse a request, count down, then execute its transaction plan",
		Long: "Parses the request (or takes --type/--param), arms the countdown and " +
			"executes the plan when it elapses. Interrupt during the countdown to cancel; " +
			"nothing is submitted in that case.",
		Annotations: map[string]string{policy.AnnotationSubmits: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := s.readDescriptor(cmd.Context(), args, submit)
			if err != nil {
				return err
			}
			seq, err := s.submitWithCountdown(cmd.Context(), d)
			if err != nil {
				s.captureSequence(seq)
				return err
			}
			return s.emitSequence(trimRootPath(cmd.CommandPath()), seq)
		},
	}
	submit.bind(submitCmd)

	var execute intentArgs
	var yes bool
	executeCmd := &cobra.Command{
		Use:         "execute [request]",
		Short:       "Execute an already confirmed request immediately, without a countdown",
		Annotations: map[string]string{policy.AnnotationSubmits: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return clierr.New(clierr.CodeUsage, "intent execute submits immediately; pass --yes or use intent submit")
			}
			d, err := s.readDescriptor(cmd.Context(), args, execute)
			if err != nil {
				return err
			}
			in, err := intake.Normalize(d)
			if err != nil {
				return err
			}
			eng, err := s.ensureEngine(cmd.Context())
			if err != nil {
				return err
			}
			seq, err := eng.Execute(cmd.Context(), in)
			if err != nil {
				s.captureSequence(seq)
				return err
			}
			return s.emitSequence(trimRootPath(cmd.CommandPath()), seq)
		},
	}
	execute.bind(executeCmd)
	executeCmd.Flags().BoolVar(&yes, "yes", false, "Confirm immediate submission")

	root.AddCommand(submitCmd)
	root.AddCommand(executeCmd)
	return root
}

// submitWithCountdown drives the engine's countdown for the life of one
// command. Interrupting ctx before it elapses cancels the action.
func (s *runtimeState) submitWithCountdown(ctx context.Context, d intake.ActionDescriptor) (sequencer.Sequence, error) {
	eng, err := s.ensureEngine(ctx)
	if err != nil {
		return sequencer.Sequence{}, err
	}
	timerCtx, stopTimer := context.WithCancel(context.Background())
	defer stopTimer()
	go func() { _ = eng.Run(timerCtx) }()

	return eng.Submit(ctx, d, func(h pending.Handle) {
		s.log.WithFields(logrus.Fields{
			"handle":  h,
			"kind":    d.Kind,
			"seconds": eng.Timer().Countdown(),
		}).Warn("transaction pending; interrupt to cancel")
	})
}

type planStepView struct {
	Index                      int    `json:"index"`
	Name                       string `json:"name"`
	DependsOnPriorConfirmation bool   `json:"depends_on_prior_confirmation"`
}

type planView struct {
	Kind      string         `json:"kind"`
	Recipient string         `json:"recipient,omitempty"`
	Intent    intake.Intent  `json:"intent"`
	Steps     []planStepView `json:"steps"`
}

func (s *runtimeState) newPlanCommand() *cobra.Command {
	root := &cobra.Command{Use: "plan", Short: "Inspect transaction plans without submitting"}

	var show intentArgs
	showCmd := &cobra.Command{
		Use:   "show [request]",
		Short: "Show the ordered steps a request would execute",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := s.readDescriptor(cmd.Context(), args, show)
			if err != nil {
				return err
			}
			in, err := intake.Normalize(d)
			if err != nil {
				return err
			}
			p, err := s.planner()
			if err != nil {
				return err
			}
			plan, err := p.Build(in)
			if err != nil {
				return err
			}
			view := planView{Kind: plan.Kind, Recipient: plan.Recipient, Intent: in, Steps: make([]planStepView, 0, len(plan.Steps))}
			for i, step := range plan.Steps {
				view.Steps = append(view.Steps, planStepView{Index: i, Name: step.Name, DependsOnPriorConfirmation: step.DependsOnPriorConfirmation})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
		},
	}
	show.bind(showCmd)
	root.AddCommand(showCmd)
	return root
}
