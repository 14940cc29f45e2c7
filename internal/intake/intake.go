package intake

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
	"github.com/ggonzalez94/rwa-orchestrator/internal/schedule"
)

type ActionKind string

const (
	KindStreamMoney        ActionKind = "stream_money"
	KindSendMoney          ActionKind = "send_money"
	KindInvestRealEstate   ActionKind = "invest_real_estate"
	KindScheduleSwap       ActionKind = "schedule_swap"
	KindRentToOwn          ActionKind = "rent_to_own"
	KindRebalancePortfolio ActionKind = "rebalance_portfolio"
	KindEventPayment       ActionKind = "event_payment"

	KindAddFriend ActionKind = "add_friend"
	KindQuery     ActionKind = "query"
	KindUnknown   ActionKind = "unknown"
)

var chainKinds = map[ActionKind]bool{
	KindStreamMoney:        true,
	KindSendMoney:          true,
	KindInvestRealEstate:   true,
	KindScheduleSwap:       true,
	KindRentToOwn:          true,
	KindRebalancePortfolio: true,
	KindEventPayment:       true,
}

// AffectsChain reports whether the kind ends in a submitted transaction and
// therefore has to pass through the countdown.
func (k ActionKind) AffectsChain() bool {
	return chainKinds[k]
}

// ChainKinds lists the kinds that produce a transaction plan, sorted.
func ChainKinds() []ActionKind {
	out := make([]ActionKind, 0, len(chainKinds))
	for k := range chainKinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActionDescriptor is the parser's typed view of one user request. It is
// consumed once; NewDescriptor copies params so callers cannot mutate it.
type ActionDescriptor struct {
	Kind           ActionKind     `json:"type"`
	Params         map[string]any `json:"params,omitempty"`
	RawDescription string         `json:"description"`
}

func NewDescriptor(kind ActionKind, params map[string]any, raw string) ActionDescriptor {
	cp := make(map[string]any, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return ActionDescriptor{Kind: kind, Params: cp, RawDescription: raw}
}

// Intent is a descriptor with every quantity in contract units.
type Intent struct {
	Kind        ActionKind `json:"kind"`
	Description string     `json:"description,omitempty"`
	// Recipient is either a hex address or a friend name still to be
	// resolved.
	Recipient  string                      `json:"recipient,omitempty"`
	Token      string                      `json:"token,omitempty"`
	Amount     id.Amount                   `json:"amount"`
	PropertyID string                      `json:"property_id,omitempty"`
	Schedule   *schedule.RecurringSchedule `json:"schedule,omitempty"`
	RentToOwn  *schedule.RentToOwnSchedule `json:"rent_to_own,omitempty"`
}

// Normalize validates a descriptor and converts currency strings to
// fixed-point base units and human intervals to seconds.
func Normalize(d ActionDescriptor) (Intent, error) {
	kind := ActionKind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
	if kind == "" || kind == KindUnknown {
		msg := "parser returned no actionable type"
		if strings.TrimSpace(d.RawDescription) != "" {
			msg = d.RawDescription
		}
		return Intent{}, clierr.New(clierr.CodeParse, msg)
	}
	in := Intent{Kind: kind, Description: d.RawDescription}
	p := params(d.Params)

	var err error
	switch kind {
	case KindAddFriend, KindQuery:
		return in, nil
	case KindSendMoney:
		if in.Recipient, err = p.required("recipient"); err != nil {
			return Intent{}, err
		}
		err = in.readAmount(p)
	case KindStreamMoney:
		err = in.readStream(p)
	case KindEventPayment:
		err = in.readEventPayment(p)
	case KindInvestRealEstate:
		if in.PropertyID, err = p.required("propertyId", "property_id", "property"); err != nil {
			return Intent{}, err
		}
		err = in.readAmount(p)
	case KindScheduleSwap, KindRebalancePortfolio:
		err = in.readAmount(p)
		if err == nil && in.Token != "USDC" {
			err = clierr.New(clierr.CodeUnsupported, fmt.Sprintf("only USDC to ETH swaps are supported, got %s", in.Token))
		}
	case KindRentToOwn:
		err = in.readRentToOwn(p)
	default:
		return Intent{}, clierr.New(clierr.CodeParse, fmt.Sprintf("unsupported action type %q", d.Kind))
	}
	if err != nil {
		return Intent{}, err
	}
	return in, nil
}

func (in *Intent) readAmount(p params) error {
	raw, err := p.required("amount")
	if err != nil {
		return err
	}
	if token, ok := p.text("token", "currency"); ok && !strings.ContainsAny(raw, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		raw = raw + " " + token
	}
	amount, token, err := id.ParseMoney(raw)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return clierr.New(clierr.CodeUsage, "amount must be > 0")
	}
	in.Amount, in.Token = amount, token
	return nil
}

func (in *Intent) readStream(p params) error {
	recipient, err := p.required("recipient")
	if err != nil {
		return err
	}
	in.Recipient = recipient

	var sched schedule.RecurringSchedule
	if rate, ok := p.text("rate"); ok {
		if sched, err = schedule.ParseRate(rate); err != nil {
			return err
		}
	} else {
		if err := in.readAmount(p); err != nil {
			return err
		}
		raw, err := p.required("interval", "frequency")
		if err != nil {
			return err
		}
		secs, err := schedule.ParseInterval(raw)
		if err != nil {
			return err
		}
		sched = schedule.RecurringSchedule{Token: in.Token, AmountPerPeriod: in.Amount, IntervalSeconds: secs, MaxExecutions: schedule.DefaultMaxExecutions}
	}
	if n, ok, err := p.count("maxExecutions", "max_executions", "times"); err != nil {
		return err
	} else if ok {
		sched.MaxExecutions = n
	}
	if err := usdcOnly("payment schedules", sched.Token); err != nil {
		return err
	}
	sched.Recipient = recipient
	if err := sched.Validate(); err != nil {
		return err
	}
	in.Amount, in.Token = sched.AmountPerPeriod, sched.Token
	in.Schedule = &sched
	return nil
}

func (in *Intent) readEventPayment(p params) error {
	recipient, err := p.required("recipient")
	if err != nil {
		return err
	}
	in.Recipient = recipient
	if err := in.readAmount(p); err != nil {
		return err
	}
	if err := usdcOnly("payment schedules", in.Token); err != nil {
		return err
	}
	trigger, err := p.required("eventTrigger", "event_trigger", "trigger")
	if err != nil {
		return err
	}
	from, _ := p.text("triggerFrom", "trigger_from", "from")
	desc, ok := p.text("triggerDescription", "trigger_description")
	if !ok {
		desc = in.Description
	}
	sched := schedule.ForEventDriven(schedule.Condition{Trigger: trigger, From: from, Description: desc})
	if n, ok, err := p.count("maxExecutions", "max_executions", "times"); err != nil {
		return err
	} else if ok {
		sched.MaxExecutions = n
	}
	sched.Recipient = recipient
	sched.Token = in.Token
	sched.AmountPerPeriod = in.Amount
	if err := sched.Validate(); err != nil {
		return err
	}
	in.Schedule = &sched
	return nil
}

func (in *Intent) readRentToOwn(p params) error {
	var err error
	if in.PropertyID, err = p.required("propertyId", "property_id", "property"); err != nil {
		return err
	}
	landlord, err := p.required("landlord", "recipient")
	if err != nil {
		return err
	}
	pctRaw, err := p.required("targetPercent", "target_percent", "ownershipPercent", "percent")
	if err != nil {
		return err
	}
	pct, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(pctRaw), "%"))
	if err != nil {
		return clierr.Wrap(clierr.CodeParse, fmt.Sprintf("cannot read ownership percent %q", pctRaw), err)
	}
	months, ok, err := p.count("months", "targetMonths", "target_months")
	if err != nil {
		return err
	}
	if !ok {
		return clierr.New(clierr.CodeParse, "missing parameter: months")
	}
	rentRaw, err := p.required("monthlyRent", "monthly_rent", "amount")
	if err != nil {
		return err
	}
	rent, token, err := id.ParseMoney(rentRaw)
	if err != nil {
		return err
	}
	if err := usdcOnly("rent-to-own payments", token); err != nil {
		return err
	}
	rto, err := schedule.ForRentToOwn(pct, months, rent)
	if err != nil {
		return err
	}
	rto.Landlord = landlord
	in.Recipient = landlord
	in.Amount, in.Token = rent, token
	in.RentToOwn = &rto
	return nil
}

// usdcOnly rejects tokens the payment and rent-to-own contracts cannot
// carry. Both take raw USDC units with no token argument.
func usdcOnly(what, token string) error {
	if token != "USDC" {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("%s are paid in USDC, got %s", what, token))
	}
	return nil
}

type params map[string]any

func (p params) text(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			s = strconv.Itoa(t)
		case int64:
			s = strconv.FormatInt(t, 10)
		default:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, true
		}
	}
	return "", false
}

func (p params) required(keys ...string) (string, error) {
	if s, ok := p.text(keys...); ok {
		return s, nil
	}
	return "", clierr.New(clierr.CodeParse, fmt.Sprintf("missing parameter: %s", keys[0]))
}

func (p params) count(keys ...string) (int64, bool, error) {
	s, ok := p.text(keys...)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, clierr.New(clierr.CodeParse, fmt.Sprintf("parameter %s must be a whole number, got %q", keys[0], s))
	}
	return n, true, nil
}
