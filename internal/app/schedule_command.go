package app

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
	"github.com/ggonzalez94/rwa-orchestrator/internal/planner"
	"github.com/ggonzalez94/rwa-orchestrator/internal/schedule"
)

// permissionView is the grant a payment schedule needs before it can be
// created.
type permissionView struct {
	MaxPerPayment id.Amount `json:"max_per_payment"`
	MaxTotal      id.Amount `json:"max_total"`
	ValidDays     int64     `json:"valid_days"`
}

type scheduleView struct {
	Schedule   schedule.RecurringSchedule `json:"schedule"`
	Permission permissionView             `json:"permission"`
}

func newScheduleView(sched schedule.RecurringSchedule) scheduleView {
	runs := sched.MaxExecutions
	if runs <= 0 {
		runs = schedule.EventDrivenMaxRuns
	}
	return scheduleView{
		Schedule: sched,
		Permission: permissionView{
			MaxPerPayment: sched.AmountPerPeriod,
			MaxTotal:      sched.AmountPerPeriod.Mul(runs),
			ValidDays:     planner.ValidDays(sched.IntervalSeconds, runs),
		},
	}
}

type rentToOwnView struct {
	Schedule         schedule.RentToOwnSchedule `json:"schedule"`
	ImpliedTotalRent id.Amount                  `json:"implied_total_rent"`
}

func (s *runtimeState) newScheduleCommand() *cobra.Command {
	root := &cobra.Command{Use: "schedule", Short: "Compute recurring and rent-to-own schedule arguments"}

	var allowDefault bool
	var maxExecutions int64
	rateCmd := &cobra.Command{
		Use:   "rate <rate>",
		Short: `Parse a rate such as "10 USDC/30 sec" or "$5 USDC/daily"`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			var warnings []string
			sched, err := schedule.ParseRate(text)
			if err != nil {
				if !allowDefault || !clierr.Is(err, clierr.CodeParse) {
					return err
				}
				sched = schedule.DefaultRate()
				warnings = append(warnings, "rate not understood; showing the default 10 USDC every 10 seconds, which must be confirmed before use")
			}
			if maxExecutions > 0 {
				sched.MaxExecutions = maxExecutions
			}
			if err := sched.Validate(); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), newScheduleView(sched), warnings)
		},
	}
	rateCmd.Flags().BoolVar(&allowDefault, "allow-default", false, "Fall back to the default rate, flagged as defaulted, when the text is not understood")
	rateCmd.Flags().Int64Var(&maxExecutions, "max-executions", 0, "Override the number of payments")

	var percent, rent string
	var months int64
	rtoCmd := &cobra.Command{
		Use:   "rent-to-own",
		Short: "Convert an ownership target and monthly rent into contract arguments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pct, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(percent), "%"))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "parse --percent", err)
			}
			amount, _, err := id.ParseMoney(rent)
			if err != nil {
				return err
			}
			rto, err := schedule.ForRentToOwn(pct, months, amount)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rentToOwnView{Schedule: rto, ImpliedTotalRent: rto.ImpliedTotalRent()}, nil)
		},
	}
	rtoCmd.Flags().StringVar(&percent, "percent", "", "Target ownership percent (0-100)")
	rtoCmd.Flags().Int64Var(&months, "months", 0, "Months to reach the target")
	rtoCmd.Flags().StringVar(&rent, "rent", "", `Monthly rent (e.g. "1500 USDC")`)
	_ = rtoCmd.MarkFlagRequired("percent")
	_ = rtoCmd.MarkFlagRequired("months")
	_ = rtoCmd.MarkFlagRequired("rent")

	var trigger, from, description, amountArg string
	var eventMax int64
	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Build an event-driven payment schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, token, err := id.ParseMoney(amountArg)
			if err != nil {
				return err
			}
			sched := schedule.ForEventDriven(schedule.Condition{Trigger: trigger, From: from, Description: description})
			sched.Token = token
			sched.AmountPerPeriod = amount
			if cmd.Flags().Changed("max-executions") {
				sched.MaxExecutions = eventMax
			}
			if err := sched.Validate(); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), newScheduleView(sched), nil)
		},
	}
	eventCmd.Flags().StringVar(&trigger, "trigger", "", "Event that fires each payment")
	eventCmd.Flags().StringVar(&from, "from", "", "Address the event must come from")
	eventCmd.Flags().StringVar(&description, "description", "", "Human description of the trigger")
	eventCmd.Flags().StringVar(&amountArg, "amount", "", `Amount per payment (e.g. "25 USDC")`)
	eventCmd.Flags().Int64Var(&eventMax, "max-executions", 0, "Cap on payments (0 leaves it uncapped)")
	_ = eventCmd.MarkFlagRequired("trigger")
	_ = eventCmd.MarkFlagRequired("amount")

	root.AddCommand(rateCmd)
	root.AddCommand(rtoCmd)
	root.AddCommand(eventCmd)
	return root
}
