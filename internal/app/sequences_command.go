package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/policy"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

func parseSequenceState(raw string) (sequencer.State, error) {
	state := sequencer.State(strings.ToLower(strings.TrimSpace(raw)))
	switch state {
	case "",
		sequencer.StateIdle,
		sequencer.StateResolving,
		sequencer.StateSubmitting,
		sequencer.StateAwaitingConfirmation,
		sequencer.StateCompleted,
		sequencer.StateAborted,
		sequencer.StateTimedOut:
		return state, nil
	default:
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown sequence state %q", raw))
	}
}

func (s *runtimeState) newSequencesCommand() *cobra.Command {
	root := &cobra.Command{Use: "sequences", Short: "Inspect and resume recorded transaction sequences"}

	var stateArg string
	var limit int
	var unfinished bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sequences, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := parseSequenceState(stateArg)
			if err != nil {
				return err
			}
			store, err := s.sequenceStore()
			if err != nil {
				return err
			}
			var items []sequencer.Sequence
			if unfinished {
				items, err = store.Unfinished()
			} else {
				items, err = store.List(state, limit)
			}
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list sequences", err)
			}
			if items == nil {
				items = []sequencer.Sequence{}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	listCmd.Flags().StringVar(&stateArg, "state", "", "Filter by state (completed, aborted, timed_out, ...)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum sequences to return")
	listCmd.Flags().BoolVar(&unfinished, "unfinished", false, "Only sequences that can be resumed")

	statusCmd := &cobra.Command{
		Use:   "status <sequence-id>",
		Short: "Show one sequence and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.sequenceStore()
			if err != nil {
				return err
			}
			seq, err := store.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSequence(trimRootPath(cmd.CommandPath()), seq)
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <sequence-id>",
		Short: "Continue an interrupted sequence from its current step",
		Long: "Re-awaits a step whose transaction was already sent and continues with " +
			"the remaining steps. A step that may have been sent without a recorded " +
			"hash is refused rather than sent twice.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{policy.AnnotationSubmits: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := s.ensureEngine(cmd.Context())
			if err != nil {
				return err
			}
			seq, err := eng.Resume(cmd.Context(), args[0])
			if err != nil {
				s.captureSequence(seq)
				return err
			}
			return s.emitSequence(trimRootPath(cmd.CommandPath()), seq)
		},
	}

	root.AddCommand(listCmd)
	root.AddCommand(statusCmd)
	root.AddCommand(resumeCmd)
	return root
}
