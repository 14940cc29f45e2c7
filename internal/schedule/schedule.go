// Package schedule turns rate expressions and rent-to-own targets into the
// argument shapes the payment and rent-to-own contracts expect. Everything
// here is pure computation.
package schedule

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
)

const (
	DefaultMaxExecutions = 10
	EventDrivenInterval  = 365 * 24 * 60 * 60
	EventDrivenMaxRuns   = 10
)

var (
	ratePattern     = regexp.MustCompile(`^\s*\$?\s*([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z]+)\s*/\s*([0-9]+)?\s*([A-Za-z]+)\s*$`)
	intervalPattern = regexp.MustCompile(`^\s*(?:every\s+)?([0-9]+)?\s*([A-Za-z]+)?\s*$`)
)

var unitSeconds = map[string]int64{
	"s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
	"min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"h": 3600, "hr": 3600, "hrs": 3600, "hour": 3600, "hours": 3600, "hourly": 3600,
	"d": 86400, "day": 86400, "days": 86400, "daily": 86400,
	"week": 604800, "weeks": 604800, "weekly": 604800,
}

// Condition describes the on-chain event that fires an event-driven schedule.
type Condition struct {
	Trigger     string `json:"trigger"`
	From        string `json:"from,omitempty"`
	Description string `json:"description,omitempty"`
}

type RecurringSchedule struct {
	Recipient       string     `json:"recipient,omitempty"`
	Token           string     `json:"token"`
	AmountPerPeriod id.Amount  `json:"amount_per_period"`
	IntervalSeconds int64      `json:"interval_seconds"`
	MaxExecutions   int64      `json:"max_executions"`
	IsEventDriven   bool       `json:"is_event_driven"`
	EventTrigger    *Condition `json:"event_trigger,omitempty"`
	// Defaulted marks values that were not read from user input and must be
	// confirmed explicitly before use.
	Defaulted bool `json:"defaulted,omitempty"`
}

type RentToOwnSchedule struct {
	Tenant                     string    `json:"tenant,omitempty"`
	Landlord                   string    `json:"landlord,omitempty"`
	PropertyShareToken         string    `json:"property_share_token,omitempty"`
	MonthlyRent                id.Amount `json:"monthly_rent"`
	TargetOwnershipBasisPoints int64     `json:"target_ownership_bps"`
	TargetMonths               int64     `json:"target_months"`
}

// ParseRate reads "<amount> <TOKEN>/<N> <UNIT>" or "<amount> <TOKEN>/<UNIT>".
// Input that does not match fails; callers wanting the legacy fallback must
// ask for DefaultRate and have the user confirm it.
func ParseRate(text string) (RecurringSchedule, error) {
	m := ratePattern.FindStringSubmatch(text)
	if m == nil {
		return RecurringSchedule{}, clierr.New(clierr.CodeParse, fmt.Sprintf("cannot read rate from %q; expected e.g. \"10 USDC/30sec\"", text))
	}
	token := strings.ToUpper(m[2])
	decimals, ok := id.DecimalsFor("", token)
	if !ok {
		return RecurringSchedule{}, clierr.New(clierr.CodeParse, fmt.Sprintf("unknown token %q in rate %q", m[2], text))
	}
	amount, err := id.ParseDecimalAmount(m[1], decimals)
	if err != nil {
		return RecurringSchedule{}, err
	}
	unit, ok := unitSeconds[strings.ToLower(m[4])]
	if !ok {
		return RecurringSchedule{}, clierr.New(clierr.CodeParse, fmt.Sprintf("unknown interval unit %q in rate %q", m[4], text))
	}
	count := int64(1)
	if m[3] != "" {
		count, err = strconv.ParseInt(m[3], 10, 64)
		if err != nil || count <= 0 {
			return RecurringSchedule{}, clierr.New(clierr.CodeParse, fmt.Sprintf("invalid interval count %q in rate %q", m[3], text))
		}
	}

	out := RecurringSchedule{
		Token:           token,
		AmountPerPeriod: amount,
		IntervalSeconds: count * unit,
		MaxExecutions:   DefaultMaxExecutions,
	}
	return out, out.Validate()
}

// DefaultRate is the 10 USDC every 10 seconds fallback, always flagged as
// defaulted.
func DefaultRate() RecurringSchedule {
	return RecurringSchedule{
		Token:           "USDC",
		AmountPerPeriod: id.NewAmount(big.NewInt(10_000_000), 6),
		IntervalSeconds: 10,
		MaxExecutions:   DefaultMaxExecutions,
		Defaulted:       true,
	}
}

// ParseInterval converts "30sec", "daily", "2 hours", "every 5 min" or a bare
// number of seconds into seconds.
func ParseInterval(text string) (int64, error) {
	m := intervalPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, clierr.New(clierr.CodeParse, fmt.Sprintf("cannot read interval from %q", text))
	}
	count := int64(1)
	if m[1] != "" {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, clierr.New(clierr.CodeParse, fmt.Sprintf("invalid interval %q", text))
		}
		count = n
	}
	if m[2] == "" {
		return count, nil
	}
	unit, ok := unitSeconds[m[2]]
	if !ok {
		return 0, clierr.New(clierr.CodeParse, fmt.Sprintf("unknown interval unit %q", m[2]))
	}
	return count * unit, nil
}

// ForRentToOwn converts a human percent (0-100) into basis points.
func ForRentToOwn(targetPct decimal.Decimal, months int64, monthlyRent id.Amount) (RentToOwnSchedule, error) {
	if targetPct.IsNegative() || targetPct.GreaterThan(decimal.NewFromInt(100)) {
		return RentToOwnSchedule{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("target ownership %s%% must be between 0 and 100", targetPct))
	}
	if months <= 0 {
		return RentToOwnSchedule{}, clierr.New(clierr.CodeUsage, "rent-to-own months must be > 0")
	}
	bps := targetPct.Mul(decimal.NewFromInt(100))
	if !bps.Equal(bps.Truncate(0)) {
		return RentToOwnSchedule{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("target ownership %s%% is finer than one basis point", targetPct))
	}
	if monthlyRent.Base == nil || monthlyRent.Base.Sign() <= 0 {
		return RentToOwnSchedule{}, clierr.New(clierr.CodeUsage, "monthly rent must be > 0")
	}
	return RentToOwnSchedule{
		MonthlyRent:                id.NewAmount(monthlyRent.Base, monthlyRent.Decimals),
		TargetOwnershipBasisPoints: bps.IntPart(),
		TargetMonths:               months,
	}, nil
}

// ImpliedTotalRent is informational only; ownership accrual lives in the
// rent-to-own contract.
func (r RentToOwnSchedule) ImpliedTotalRent() id.Amount {
	return r.MonthlyRent.Mul(r.TargetMonths)
}

// ForEventDriven builds a schedule whose firing comes from the event
// watcher. The one-year interval is a placeholder cadence.
func ForEventDriven(trigger Condition) RecurringSchedule {
	cond := trigger
	return RecurringSchedule{
		Token:           "USDC",
		IntervalSeconds: EventDrivenInterval,
		MaxExecutions:   EventDrivenMaxRuns,
		IsEventDriven:   true,
		EventTrigger:    &cond,
	}
}

// Validate checks the cadence. Event-driven schedules treat MaxExecutions as
// a cap and accept zero.
func (s RecurringSchedule) Validate() error {
	if s.IntervalSeconds <= 0 {
		return clierr.New(clierr.CodeUsage, "interval must be > 0 seconds")
	}
	if s.MaxExecutions < 0 || (!s.IsEventDriven && s.MaxExecutions == 0) {
		return clierr.New(clierr.CodeUsage, "max executions must be > 0")
	}
	if s.IsEventDriven && s.EventTrigger == nil {
		return clierr.New(clierr.CodeUsage, "event-driven schedule requires a trigger")
	}
	return nil
}
