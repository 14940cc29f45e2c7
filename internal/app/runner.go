package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/rwa-orchestrator/internal/cache"
	"github.com/ggonzalez94/rwa-orchestrator/internal/config"
	"github.com/ggonzalez94/rwa-orchestrator/internal/engine"
	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/httpx"
	"github.com/ggonzalez94/rwa-orchestrator/internal/ledger"
	"github.com/ggonzalez94/rwa-orchestrator/internal/logging"
	"github.com/ggonzalez94/rwa-orchestrator/internal/metrics"
	"github.com/ggonzalez94/rwa-orchestrator/internal/model"
	"github.com/ggonzalez94/rwa-orchestrator/internal/out"
	"github.com/ggonzalez94/rwa-orchestrator/internal/policy"
	"github.com/ggonzalez94/rwa-orchestrator/internal/schema"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
	"github.com/ggonzalez94/rwa-orchestrator/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	// signalContext returns the context commands run under; interrupting
	// it cancels a pending countdown.
	signalContext func() (context.Context, context.CancelFunc)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		signalContext: func() (context.Context, context.CancelFunc) {
			return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		},
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	root         *cobra.Command
	log          *logrus.Logger
	metrics      *metrics.Recorder
	lastCommand  string
	lastSequence *sequencer.Sequence

	httpClient *httpx.Client
	cache      *cache.Store
	seqStore   sequencer.Store
	book       *ledger.Book
	engine     *engine.Engine
	closers    []func() error
}

func (r *Runner) Run(args []string) int {
	ctx, stop := r.signalContext()
	defer stop()

	state := &runtimeState{runner: r, log: logging.Discard()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Intent orchestration for property investment payments",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			if err := policy.CheckReadOnly(settings.ReadOnly, cmd); err != nil {
				return err
			}

			logger, err := logging.New(s.runner.stderr, settings.LogLevel, settings.LogFormat)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = logger
			s.metrics = metrics.NewRecorder()
			s.httpClient = httpx.New(settings.Timeout, settings.Retries)
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	flags.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	flags.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	flags.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	flags.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	flags.BoolVar(&s.flags.ReadOnly, "read-only", false, "Block every command that submits transactions")
	flags.StringVar(&s.flags.Timeout, "timeout", "", "API request timeout")
	flags.IntVar(&s.flags.Retries, "retries", -1, "Retries per idempotent API request")
	flags.StringVar(&s.flags.APIBaseURL, "api-url", "", "Dashboard API base URL (parser, friends, event watcher)")
	flags.StringVar(&s.flags.OwnerAddress, "owner", "", "Owner wallet address")
	flags.StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC URL override for the configured chain")
	flags.IntVar(&s.flags.Countdown, "countdown", 0, "Seconds to wait before submitting a pending action")
	flags.StringVar(&s.flags.ConfirmationTimeout, "confirmation-timeout", "", "Per-step confirmation timeout")
	flags.BoolVar(&s.flags.DryRun, "dry-run", false, "Confirm transactions with a simulated wallet; nothing is sent or persisted")
	flags.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the friend resolution cache")
	flags.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	flags.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newIntentCommand())
	cmd.AddCommand(s.newPlanCommand())
	cmd.AddCommand(s.newScheduleCommand())
	cmd.AddCommand(s.newRebalanceCommand())
	cmd.AddCommand(s.newSequencesCommand())
	cmd.AddCommand(s.newFriendsCommand())
	cmd.AddCommand(s.newLedgerCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	var submitting bool
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if submitting {
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), schema.SubmittingPaths(s.root), nil)
			}
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
	cmd.Flags().BoolVar(&submitting, "submitting", false, "List only the commands that send transactions")
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	return s.emit(commandPath, data, warnings, model.EnvelopeMeta{})
}

// emitSequence renders a finished sequence. Completion warnings (a failed
// ledger write, an unregistered trigger) surface as envelope warnings.
func (s *runtimeState) emitSequence(commandPath string, seq sequencer.Sequence) error {
	return s.emit(commandPath, seq, seq.Warnings, model.EnvelopeMeta{SequenceID: seq.ID, Degraded: seq.Degraded})
}

func (s *runtimeState) emit(commandPath string, data any, warnings []string, meta model.EnvelopeMeta) error {
	meta.RequestID = newRequestID()
	meta.Timestamp = s.runner.now().UTC()
	meta.Command = commandPath
	meta.DryRun = s.settings.DryRun
	meta.Cache = model.CacheBypass()
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     meta,
	}
	return out.Render(s.runner.stdout, env, out.Options{
		Mode:         s.settings.OutputMode,
		SelectFields: s.settings.SelectFields,
		ResultsOnly:  s.settings.ResultsOnly,
	})
}

// captureSequence keeps a sequence that ended in error so the error envelope
// can report the failed step and what was already confirmed.
func (s *runtimeState) captureSequence(seq sequencer.Sequence) {
	if seq.ID == "" {
		return
	}
	s.lastSequence = &seq
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = clierr.TypeName(cErr.Code)
	}

	mode := s.settings.OutputMode
	if mode == "" {
		mode = out.ModeJSON
	}
	body := &model.ErrorBody{Code: code, Type: typ, Message: message}
	meta := model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		DryRun:    s.settings.DryRun,
		Cache:     model.CacheBypass(),
	}
	var data any = []any{}
	var warnings []string
	if seq := s.lastSequence; seq != nil {
		body.Step = seq.FailedStep
		meta.SequenceID = seq.ID
		meta.Degraded = seq.Degraded
		warnings = seq.Warnings
		data = seq
	}
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  false,
		Data:     data,
		Error:    body,
		Warnings: warnings,
		Meta:     meta,
	}
	_ = out.Render(s.runner.stderr, env, out.Options{Mode: mode})
}

func (s *runtimeState) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.WithError(err).Debug("close resource")
		}
	}
	s.closers = nil
}

// withTimeout bounds a single API round trip.
func (s *runtimeState) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.settings.Timeout)
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
