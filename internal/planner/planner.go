// Package planner selects the transaction plan for a normalized intent.
// Plans are chosen from the intent kind alone; amounts and addresses only
// change calldata, never the step list.
package planner

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/rwa-orchestrator/internal/config"
	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
	"github.com/ggonzalez94/rwa-orchestrator/internal/schedule"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

const (
	StepGrantPermissions      = "grantPermissions"
	StepCreatePaymentSchedule = "createPaymentSchedule"
	StepTransferUSDC          = "transferUSDC"
	StepApproveUSDC           = "approveUSDC"
	StepRecordInvestment      = "recordInvestment"
	StepSwap                  = "swap"
	StepCreateRentToOwn       = "createRentToOwnSchedule"

	// OutputScheduleID is the sequence output holding the payment schedule
	// id decoded from createPaymentSchedule.
	OutputScheduleID       = "schedule_id"
	OutputScheduleIDSource = "schedule_id_source"
)

var (
	plannerERC20ABI     = mustPlannerABI(registry.ERC20MinimalABI)
	plannerPaymentABI   = mustPlannerABI(registry.PaymentContractABI)
	plannerRentToOwnABI = mustPlannerABI(registry.RentToOwnABI)
	plannerSwapPoolABI  = mustPlannerABI(registry.SwapPoolABI)
	plannerTreasuryABI  = mustPlannerABI(registry.PropertyTreasuryABI)
)

// Contracts are the resolved addresses plans call into. Zero means not
// configured; a plan needing it fails to build.
type Contracts struct {
	Payment            common.Address
	USDC               common.Address
	SwapPool           common.Address
	RentToOwn          common.Address
	PropertyTreasury   common.Address
	PropertyShareToken common.Address
}

// ContractsFromConfig parses configured addresses. USDC falls back to the
// canonical token for the chain.
func ContractsFromConfig(chain id.Chain, cfg config.Contracts) (Contracts, error) {
	var out Contracts
	fields := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"contracts.payment", cfg.Payment, &out.Payment},
		{"contracts.usdc", cfg.USDC, &out.USDC},
		{"contracts.swap_pool", cfg.SwapPool, &out.SwapPool},
		{"contracts.rent_to_own", cfg.RentToOwn, &out.RentToOwn},
		{"contracts.property_treasury", cfg.PropertyTreasury, &out.PropertyTreasury},
		{"contracts.property_share_token", cfg.PropertyShareToken, &out.PropertyShareToken},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		if !common.IsHexAddress(raw) {
			return Contracts{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a valid EVM address", f.name))
		}
		*f.dst = common.HexToAddress(raw)
	}
	if out.USDC == (common.Address{}) {
		if token, ok := id.KnownToken(chain.CAIP2, "USDC"); ok {
			out.USDC = common.HexToAddress(token.Address)
		}
	}
	return out, nil
}

type Planner struct {
	chain     id.Chain
	contracts Contracts
}

func New(chain id.Chain, contracts Contracts) *Planner {
	return &Planner{chain: chain, contracts: contracts}
}

func (p *Planner) Contracts() Contracts {
	return p.contracts
}

// Build returns the plan for in. The intent is stored as the plan payload so
// an interrupted sequence can be rebuilt with Rebuild.
func (p *Planner) Build(in intake.Intent) (sequencer.Plan, error) {
	if !in.Kind.AffectsChain() {
		return sequencer.Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s does not produce a transaction plan", in.Kind))
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return sequencer.Plan{}, clierr.Wrap(clierr.CodeInternal, "encode plan payload", err)
	}

	var plan sequencer.Plan
	switch in.Kind {
	case intake.KindStreamMoney, intake.KindEventPayment:
		plan, err = p.paymentSchedulePlan(in)
	case intake.KindSendMoney:
		plan, err = p.transferPlan(in)
	case intake.KindInvestRealEstate:
		plan, err = p.investPlan(in)
	case intake.KindScheduleSwap, intake.KindRebalancePortfolio:
		plan, err = p.swapPlan(in)
	case intake.KindRentToOwn:
		plan, err = p.rentToOwnPlan(in)
	default:
		return sequencer.Plan{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no plan for %s", in.Kind))
	}
	if err != nil {
		return sequencer.Plan{}, err
	}
	plan.Kind = string(in.Kind)
	plan.Payload = payload
	if err := sequencer.ValidatePlan(plan); err != nil {
		return sequencer.Plan{}, err
	}
	return plan, nil
}

// Rebuild decodes a persisted payload and plans it again.
func (p *Planner) Rebuild(payload json.RawMessage) (intake.Intent, sequencer.Plan, error) {
	in, err := DecodePayload(payload)
	if err != nil {
		return intake.Intent{}, sequencer.Plan{}, err
	}
	plan, err := p.Build(in)
	return in, plan, err
}

func DecodePayload(payload json.RawMessage) (intake.Intent, error) {
	if len(payload) == 0 {
		return intake.Intent{}, clierr.New(clierr.CodeUsage, "sequence has no stored plan payload")
	}
	var in intake.Intent
	if err := json.Unmarshal(payload, &in); err != nil {
		return intake.Intent{}, clierr.Wrap(clierr.CodeInternal, "decode plan payload", err)
	}
	return in, nil
}

func (p *Planner) paymentSchedulePlan(in intake.Intent) (sequencer.Plan, error) {
	if in.Schedule == nil {
		return sequencer.Plan{}, clierr.New(clierr.CodeUsage, "payment schedule intent has no schedule")
	}
	if err := in.Schedule.Validate(); err != nil {
		return sequencer.Plan{}, err
	}
	payment, err := require("contracts.payment", p.contracts.Payment)
	if err != nil {
		return sequencer.Plan{}, err
	}
	sched := *in.Schedule
	if sched.Token != "USDC" {
		return sequencer.Plan{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("payment schedules are paid in USDC, got %s", sched.Token))
	}
	perPayment := sched.AmountPerPeriod.Base
	if perPayment == nil || perPayment.Sign() <= 0 {
		return sequencer.Plan{}, clierr.New(clierr.CodeUsage, "amount per period must be > 0")
	}
	runs := permissionRuns(sched)
	maxTotal := sched.AmountPerPeriod.Mul(runs).Base
	validDays := ValidDays(sched.IntervalSeconds, runs)

	grant := sequencer.PlanStep{
		Name: StepGrantPermissions,
		Build: func(sequencer.StepContext) (sequencer.TxRequest, error) {
			return pack(plannerPaymentABI, payment, "grantPermissions", map[string]string{
				"max_amount_per_payment": perPayment.String(),
				"max_total_amount":       maxTotal.String(),
				"valid_days":             fmt.Sprint(validDays),
			}, perPayment, maxTotal, big.NewInt(validDays))
		},
	}
	create := sequencer.PlanStep{
		Name:                       StepCreatePaymentSchedule,
		DependsOnPriorConfirmation: true,
		Build: func(sc sequencer.StepContext) (sequencer.TxRequest, error) {
			if sc.Recipient == (common.Address{}) {
				return sequencer.TxRequest{}, clierr.New(clierr.CodeResolution, "payment schedule has no resolved recipient")
			}
			return pack(plannerPaymentABI, payment, "createPaymentSchedule", map[string]string{
				"recipient":          sc.Recipient.Hex(),
				"amount_per_payment": perPayment.String(),
				"interval":           fmt.Sprint(sched.IntervalSeconds),
				"max_executions":     fmt.Sprint(sched.MaxExecutions),
			}, sc.Recipient, perPayment, big.NewInt(sched.IntervalSeconds), big.NewInt(sched.MaxExecutions))
		},
		Decode: DecodeScheduleID,
	}
	return sequencer.Plan{Recipient: in.Recipient, Steps: []sequencer.PlanStep{grant, create}}, nil
}

func (p *Planner) transferPlan(in intake.Intent) (sequencer.Plan, error) {
	token, err := p.tokenAddress(in.Token)
	if err != nil {
		return sequencer.Plan{}, err
	}
	amount, err := positive(in.Amount)
	if err != nil {
		return sequencer.Plan{}, err
	}
	name := StepTransferUSDC
	if in.Token != "USDC" {
		name = "transfer" + in.Token
	}
	step := sequencer.PlanStep{
		Name: name,
		Build: func(sc sequencer.StepContext) (sequencer.TxRequest, error) {
			if sc.Recipient == (common.Address{}) {
				return sequencer.TxRequest{}, clierr.New(clierr.CodeResolution, "transfer has no resolved recipient")
			}
			return pack(plannerERC20ABI, token, "transfer", map[string]string{
				"to":     sc.Recipient.Hex(),
				"amount": amount.String(),
			}, sc.Recipient, amount)
		},
	}
	return sequencer.Plan{Recipient: in.Recipient, Steps: []sequencer.PlanStep{step}}, nil
}

func (p *Planner) investPlan(in intake.Intent) (sequencer.Plan, error) {
	usdc, err := require("contracts.usdc", p.contracts.USDC)
	if err != nil {
		return sequencer.Plan{}, err
	}
	treasury, err := require("contracts.property_treasury", p.contracts.PropertyTreasury)
	if err != nil {
		return sequencer.Plan{}, err
	}
	if in.Token != "USDC" {
		return sequencer.Plan{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("investments are made in USDC, got %s", in.Token))
	}
	if strings.TrimSpace(in.PropertyID) == "" {
		return sequencer.Plan{}, clierr.New(clierr.CodeUsage, "investment has no property id")
	}
	amount, err := positive(in.Amount)
	if err != nil {
		return sequencer.Plan{}, err
	}
	// The treasury pulls the approved USDC with transferFrom.
	record := sequencer.PlanStep{
		Name:                       StepRecordInvestment,
		DependsOnPriorConfirmation: true,
		Build: func(sequencer.StepContext) (sequencer.TxRequest, error) {
			return pack(plannerTreasuryABI, treasury, "invest", map[string]string{
				"property_id": in.PropertyID,
				"amount":      amount.String(),
			}, in.PropertyID, amount)
		},
	}
	return sequencer.Plan{Steps: []sequencer.PlanStep{p.approveStep(usdc, treasury, amount), record}}, nil
}

func (p *Planner) swapPlan(in intake.Intent) (sequencer.Plan, error) {
	usdc, err := require("contracts.usdc", p.contracts.USDC)
	if err != nil {
		return sequencer.Plan{}, err
	}
	pool, err := require("contracts.swap_pool", p.contracts.SwapPool)
	if err != nil {
		return sequencer.Plan{}, err
	}
	if in.Token != "USDC" {
		return sequencer.Plan{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("only USDC to ETH swaps are supported, got %s", in.Token))
	}
	amount, err := positive(in.Amount)
	if err != nil {
		return sequencer.Plan{}, err
	}
	swap := sequencer.PlanStep{
		Name:                       StepSwap,
		DependsOnPriorConfirmation: true,
		Build: func(sequencer.StepContext) (sequencer.TxRequest, error) {
			return pack(plannerSwapPoolABI, pool, "swapUSDCToETH", map[string]string{
				"usdc_amount": amount.String(),
			}, amount)
		},
	}
	return sequencer.Plan{Steps: []sequencer.PlanStep{p.approveStep(usdc, pool, amount), swap}}, nil
}

func (p *Planner) rentToOwnPlan(in intake.Intent) (sequencer.Plan, error) {
	if in.RentToOwn == nil {
		return sequencer.Plan{}, clierr.New(clierr.CodeUsage, "rent-to-own intent has no schedule")
	}
	target, err := require("contracts.rent_to_own", p.contracts.RentToOwn)
	if err != nil {
		return sequencer.Plan{}, err
	}
	if in.Token != "USDC" {
		return sequencer.Plan{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("rent-to-own payments are paid in USDC, got %s", in.Token))
	}
	rto := *in.RentToOwn
	share := p.contracts.PropertyShareToken
	if common.IsHexAddress(rto.PropertyShareToken) {
		share = common.HexToAddress(rto.PropertyShareToken)
	}
	if _, err := require("contracts.property_share_token", share); err != nil {
		return sequencer.Plan{}, err
	}
	rent, err := positive(rto.MonthlyRent)
	if err != nil {
		return sequencer.Plan{}, err
	}
	step := sequencer.PlanStep{
		Name: StepCreateRentToOwn,
		Build: func(sc sequencer.StepContext) (sequencer.TxRequest, error) {
			if sc.Recipient == (common.Address{}) {
				return sequencer.TxRequest{}, clierr.New(clierr.CodeResolution, "rent-to-own has no resolved landlord")
			}
			return pack(plannerRentToOwnABI, target, "createRentToOwnSchedule", map[string]string{
				"tenant":               sc.Owner.Hex(),
				"landlord":             sc.Recipient.Hex(),
				"property_share_token": share.Hex(),
				"monthly_rent":         rent.String(),
				"target_ownership_bps": fmt.Sprint(rto.TargetOwnershipBasisPoints),
				"target_months":        fmt.Sprint(rto.TargetMonths),
			}, sc.Owner, sc.Recipient, share, rent, big.NewInt(rto.TargetOwnershipBasisPoints), big.NewInt(rto.TargetMonths))
		},
	}
	return sequencer.Plan{Recipient: in.Recipient, Steps: []sequencer.PlanStep{step}}, nil
}

// approveStep grants spender exactly amount; the calldata is checked
// against the approval guard before it reaches the wallet.
func (p *Planner) approveStep(token, spender common.Address, amount *big.Int) sequencer.PlanStep {
	return sequencer.PlanStep{
		Name: StepApproveUSDC,
		Build: func(sequencer.StepContext) (sequencer.TxRequest, error) {
			req, err := pack(plannerERC20ABI, token, "approve", map[string]string{
				"spender": spender.Hex(),
				"amount":  amount.String(),
			}, spender, amount)
			if err != nil {
				return sequencer.TxRequest{}, err
			}
			if err := CheckApproval(req.Data, amount, spender); err != nil {
				return sequencer.TxRequest{}, err
			}
			return req, nil
		},
	}
}

func (p *Planner) tokenAddress(symbol string) (common.Address, error) {
	if strings.EqualFold(symbol, "USDC") {
		return require("contracts.usdc", p.contracts.USDC)
	}
	token, ok := id.KnownToken(p.chain.CAIP2, symbol)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("token %s is not known on %s", symbol, p.chain.Name))
	}
	return common.HexToAddress(token.Address), nil
}

// permissionRuns is how many payments the permission grant must cover.
// Event-driven schedules with no cap get the default allowance.
func permissionRuns(s schedule.RecurringSchedule) int64 {
	if s.MaxExecutions > 0 {
		return s.MaxExecutions
	}
	return schedule.EventDrivenMaxRuns
}

// ValidDays is the permission lifetime covering every run, at least a day.
func ValidDays(intervalSeconds, runs int64) int64 {
	const day = 24 * 60 * 60
	total := intervalSeconds * runs
	days := (total + day - 1) / day
	if days < 1 {
		return 1
	}
	return days
}

// DecodeScheduleID reads the schedule id from the PaymentScheduleCreated
// log. Without one the transaction hash stands in as the reference.
func DecodeScheduleID(conf sequencer.Confirmation) map[string]string {
	event := plannerPaymentABI.Events[registry.PaymentScheduleCreatedEvent]
	for _, l := range conf.Logs {
		if l == nil || len(l.Topics) < 2 || l.Topics[0] != event.ID {
			continue
		}
		return map[string]string{
			OutputScheduleID:       new(big.Int).SetBytes(l.Topics[1].Bytes()).String(),
			OutputScheduleIDSource: "log",
		}
	}
	return map[string]string{
		OutputScheduleID:       conf.TxHash.Hex(),
		OutputScheduleIDSource: "tx_hash",
	}
}

func pack(parsed abi.ABI, to common.Address, method string, args map[string]string, values ...any) (sequencer.TxRequest, error) {
	data, err := parsed.Pack(method, values...)
	if err != nil {
		return sequencer.TxRequest{}, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("pack %s calldata", method), err)
	}
	return sequencer.TxRequest{To: to, Function: method, Data: data, Value: new(big.Int), Args: args}, nil
}

func require(name string, addr common.Address) (common.Address, error) {
	if addr == (common.Address{}) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s is not configured", name))
	}
	return addr, nil
}

func positive(a id.Amount) (*big.Int, error) {
	if a.Base == nil || a.Base.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "amount must be > 0")
	}
	return new(big.Int).Set(a.Base), nil
}

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
