package planner

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ggonzalez94/rwa-orchestrator/internal/config"
	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
	"github.com/ggonzalez94/rwa-orchestrator/internal/intake"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

var (
	testOwner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testRecipient = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func testPlanner(t *testing.T) *Planner {
	t.Helper()
	chain, err := id.ParseChain("base-sepolia")
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	contracts, err := ContractsFromConfig(chain, config.Contracts{
		Payment:            "0x00000000000000000000000000000000000000c1",
		SwapPool:           "0x00000000000000000000000000000000000000c2",
		RentToOwn:          "0x00000000000000000000000000000000000000c3",
		PropertyTreasury:   "0x00000000000000000000000000000000000000c4",
		PropertyShareToken: "0x00000000000000000000000000000000000000c5",
	})
	if err != nil {
		t.Fatalf("ContractsFromConfig failed: %v", err)
	}
	return New(chain, contracts)
}

func normalize(t *testing.T, kind intake.ActionKind, params map[string]any) intake.Intent {
	t.Helper()
	in, err := intake.Normalize(intake.NewDescriptor(kind, params, "test"))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return in
}

func stepContext() sequencer.StepContext {
	return sequencer.StepContext{Owner: testOwner, Recipient: testRecipient, Outputs: map[string]string{}}
}

func TestPlanStepListsPerKind(t *testing.T) {
	p := testPlanner(t)
	cases := []struct {
		kind   intake.ActionKind
		params map[string]any
		want   []string
	}{
		{intake.KindStreamMoney, map[string]any{"recipient": "alice", "rate": "10 USDC/30 sec"}, []string{StepGrantPermissions, StepCreatePaymentSchedule}},
		{intake.KindEventPayment, map[string]any{"recipient": "alice", "amount": "5", "eventTrigger": "deposit"}, []string{StepGrantPermissions, StepCreatePaymentSchedule}},
		{intake.KindSendMoney, map[string]any{"recipient": "alice", "amount": "$12"}, []string{StepTransferUSDC}},
		{intake.KindInvestRealEstate, map[string]any{"propertyId": "prop-1", "amount": "$500"}, []string{StepApproveUSDC, StepRecordInvestment}},
		{intake.KindScheduleSwap, map[string]any{"amount": "100 USDC"}, []string{StepApproveUSDC, StepSwap}},
		{intake.KindRebalancePortfolio, map[string]any{"amount": "25"}, []string{StepApproveUSDC, StepSwap}},
		{intake.KindRentToOwn, map[string]any{"propertyId": "prop-1", "landlord": "bob", "targetPercent": "20", "months": 24, "monthlyRent": "$1500"}, []string{StepCreateRentToOwn}},
	}
	for _, tc := range cases {
		plan, err := p.Build(normalize(t, tc.kind, tc.params))
		if err != nil {
			t.Fatalf("%s: Build failed: %v", tc.kind, err)
		}
		if !reflect.DeepEqual(plan.StepNames(), tc.want) {
			t.Fatalf("%s: unexpected steps %v", tc.kind, plan.StepNames())
		}
		if plan.Kind != string(tc.kind) || len(plan.Payload) == 0 {
			t.Fatalf("%s: missing kind or payload", tc.kind)
		}
	}
}

func TestInvestStepsIndependentOfInputs(t *testing.T) {
	p := testPlanner(t)
	for _, params := range []map[string]any{
		{"propertyId": "a", "amount": "$1"},
		{"propertyId": "tower-42", "amount": "1,000,000 USDC"},
		{"property_id": "x", "amount": 0.5},
	} {
		plan, err := p.Build(normalize(t, intake.KindInvestRealEstate, params))
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if !reflect.DeepEqual(plan.StepNames(), []string{StepApproveUSDC, StepRecordInvestment}) {
			t.Fatalf("unexpected steps %v", plan.StepNames())
		}
	}
}

func TestStreamCalldata(t *testing.T) {
	p := testPlanner(t)
	plan, err := p.Build(normalize(t, intake.KindStreamMoney, map[string]any{"recipient": "alice", "rate": "10 USDC/30 sec", "maxExecutions": 4}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	grant, err := plan.Steps[0].Build(stepContext())
	if err != nil {
		t.Fatalf("grant build failed: %v", err)
	}
	if grant.To != p.Contracts().Payment || grant.Function != "grantPermissions" {
		t.Fatalf("unexpected grant request: %+v", grant)
	}
	args, err := plannerPaymentABI.Methods["grantPermissions"].Inputs.Unpack(grant.Data[4:])
	if err != nil {
		t.Fatalf("unpack grant: %v", err)
	}
	if args[0].(*big.Int).Int64() != 10_000_000 || args[1].(*big.Int).Int64() != 40_000_000 || args[2].(*big.Int).Int64() != 1 {
		t.Fatalf("unexpected grant args: %v", args)
	}
	if !plan.Steps[1].DependsOnPriorConfirmation {
		t.Fatal("schedule creation must depend on the grant")
	}
	create, err := plan.Steps[1].Build(stepContext())
	if err != nil {
		t.Fatalf("create build failed: %v", err)
	}
	cargs, err := plannerPaymentABI.Methods["createPaymentSchedule"].Inputs.Unpack(create.Data[4:])
	if err != nil {
		t.Fatalf("unpack create: %v", err)
	}
	if cargs[0].(common.Address) != testRecipient || cargs[2].(*big.Int).Int64() != 30 || cargs[3].(*big.Int).Int64() != 4 {
		t.Fatalf("unexpected create args: %v", cargs)
	}
}

func TestCreateScheduleNeedsResolvedRecipient(t *testing.T) {
	p := testPlanner(t)
	plan, err := p.Build(normalize(t, intake.KindStreamMoney, map[string]any{"recipient": "alice", "rate": "1 USDC/day"}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	_, err = plan.Steps[1].Build(sequencer.StepContext{Owner: testOwner})
	if !clierr.Is(err, clierr.CodeResolution) {
		t.Fatalf("expected resolution error, got %v", err)
	}
}

func TestApprovalTargetsConsumer(t *testing.T) {
	p := testPlanner(t)
	cases := []struct {
		kind     intake.ActionKind
		params   map[string]any
		consumer common.Address
	}{
		{intake.KindScheduleSwap, map[string]any{"amount": "100 USDC"}, p.Contracts().SwapPool},
		{intake.KindInvestRealEstate, map[string]any{"propertyId": "prop-1", "amount": "100 USDC"}, p.Contracts().PropertyTreasury},
	}
	for _, tc := range cases {
		plan, err := p.Build(normalize(t, tc.kind, tc.params))
		if err != nil {
			t.Fatalf("%s: Build failed: %v", tc.kind, err)
		}
		approve, err := plan.Steps[0].Build(stepContext())
		if err != nil {
			t.Fatalf("%s: approve build failed: %v", tc.kind, err)
		}
		if approve.To != p.Contracts().USDC {
			t.Fatalf("%s: approve must call the USDC token, got %s", tc.kind, approve.To.Hex())
		}
		consume, err := plan.Steps[1].Build(stepContext())
		if err != nil {
			t.Fatalf("%s: second step build failed: %v", tc.kind, err)
		}
		if consume.To != tc.consumer {
			t.Fatalf("%s: second step calls %s, want %s", tc.kind, consume.To.Hex(), tc.consumer.Hex())
		}
		if err := CheckApproval(approve.Data, big.NewInt(100_000_000), consume.To); err != nil {
			t.Fatalf("%s: approval should target the contract that spends it: %v", tc.kind, err)
		}
	}
}

func TestInvestCalldataCarriesProperty(t *testing.T) {
	p := testPlanner(t)
	plan, err := p.Build(normalize(t, intake.KindInvestRealEstate, map[string]any{"propertyId": "tower-42", "amount": "$250"}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	req, err := plan.Steps[1].Build(stepContext())
	if err != nil {
		t.Fatalf("record build failed: %v", err)
	}
	if req.Function != "invest" {
		t.Fatalf("unexpected function %q", req.Function)
	}
	args, err := plannerTreasuryABI.Methods["invest"].Inputs.Unpack(req.Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(string) != "tower-42" || args[1].(*big.Int).Int64() != 250_000_000 {
		t.Fatalf("unexpected invest args: %v", args)
	}

	noProperty := normalize(t, intake.KindInvestRealEstate, map[string]any{"propertyId": "tower-42", "amount": "$250"})
	noProperty.PropertyID = ""
	if _, err := p.Build(noProperty); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for missing property id, got %v", err)
	}
}

func TestNonUSDCSchedulesRejected(t *testing.T) {
	p := testPlanner(t)

	stream := normalize(t, intake.KindStreamMoney, map[string]any{"recipient": "alice", "rate": "5 USDC/day"})
	sched := *stream.Schedule
	sched.Token = "DAI"
	stream.Schedule, stream.Token = &sched, "DAI"
	if _, err := p.Build(stream); !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error for DAI stream, got %v", err)
	}

	rto := normalize(t, intake.KindRentToOwn, map[string]any{"propertyId": "prop-1", "landlord": "bob", "targetPercent": "10", "months": 12, "monthlyRent": "$2000"})
	rto.Token = "DAI"
	if _, err := p.Build(rto); !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error for DAI rent, got %v", err)
	}
}

func TestCheckApprovalRejectsOverApprovalAndWrongSpender(t *testing.T) {
	pool := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	data, err := plannerERC20ABI.Pack("approve", pool, big.NewInt(200))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := CheckApproval(data, big.NewInt(100), pool); !clierr.Is(err, clierr.CodeBlocked) {
		t.Fatalf("expected over-approval to be blocked, got %v", err)
	}
	if err := CheckApproval(data, big.NewInt(500), testRecipient); !clierr.Is(err, clierr.CodeBlocked) {
		t.Fatalf("expected wrong spender to be blocked, got %v", err)
	}
	transfer, _ := plannerERC20ABI.Pack("transfer", pool, big.NewInt(1))
	if err := CheckApproval(transfer, big.NewInt(500), pool); err == nil {
		t.Fatal("expected non-approve calldata to fail")
	}
}

func TestRentToOwnCalldata(t *testing.T) {
	p := testPlanner(t)
	plan, err := p.Build(normalize(t, intake.KindRentToOwn, map[string]any{"propertyId": "prop-1", "landlord": "bob", "targetPercent": "12.5", "months": 36, "monthlyRent": "$1500"}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	req, err := plan.Steps[0].Build(stepContext())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	args, err := plannerRentToOwnABI.Methods["createRentToOwnSchedule"].Inputs.Unpack(req.Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != testOwner || args[1].(common.Address) != testRecipient {
		t.Fatalf("unexpected parties: %v", args)
	}
	if args[3].(*big.Int).Int64() != 1_500_000_000 || args[4].(*big.Int).Int64() != 1250 || args[5].(*big.Int).Int64() != 36 {
		t.Fatalf("unexpected terms: %v", args)
	}
}

func TestMissingContractIsUsageError(t *testing.T) {
	chain, _ := id.ParseChain("anvil")
	p := New(chain, Contracts{})
	_, err := p.Build(normalize(t, intake.KindScheduleSwap, map[string]any{"amount": "1"}))
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := ContractsFromConfig(chain, config.Contracts{Payment: "nope"}); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected invalid address error, got %v", err)
	}
}

func TestNonChainKindHasNoPlan(t *testing.T) {
	p := testPlanner(t)
	if _, err := p.Build(intake.Intent{Kind: intake.KindQuery}); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRebuildFromPayload(t *testing.T) {
	p := testPlanner(t)
	plan, err := p.Build(normalize(t, intake.KindEventPayment, map[string]any{"recipient": "alice", "amount": "5", "eventTrigger": "deposit", "triggerFrom": "0xabc"}))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	in, rebuilt, err := p.Rebuild(plan.Payload)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if !reflect.DeepEqual(rebuilt.StepNames(), plan.StepNames()) || rebuilt.Recipient != "alice" {
		t.Fatalf("unexpected rebuilt plan: %v %s", rebuilt.StepNames(), rebuilt.Recipient)
	}
	if in.Schedule == nil || in.Schedule.EventTrigger == nil || in.Schedule.EventTrigger.From != "0xabc" {
		t.Fatalf("unexpected rebuilt intent: %+v", in)
	}
	if _, err := DecodePayload(nil); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for empty payload, got %v", err)
	}
}

func TestDecodeScheduleID(t *testing.T) {
	event := plannerPaymentABI.Events["PaymentScheduleCreated"]
	conf := sequencer.Confirmation{
		TxHash: common.HexToHash("0xfeed"),
		Logs: []*types.Log{
			{Topics: []common.Hash{common.HexToHash("0x01")}},
			{Topics: []common.Hash{event.ID, common.BigToHash(big.NewInt(77)), {}, {}}},
		},
	}
	out := DecodeScheduleID(conf)
	if out[OutputScheduleID] != "77" || out[OutputScheduleIDSource] != "log" {
		t.Fatalf("unexpected outputs: %v", out)
	}
	out = DecodeScheduleID(sequencer.Confirmation{TxHash: common.HexToHash("0xfeed")})
	if out[OutputScheduleID] != common.HexToHash("0xfeed").Hex() || out[OutputScheduleIDSource] != "tx_hash" {
		t.Fatalf("unexpected fallback outputs: %v", out)
	}
}

func TestValidDays(t *testing.T) {
	if ValidDays(30, 10) != 1 {
		t.Fatal("short schedules need at least one day")
	}
	if ValidDays(86400, 10) != 10 || ValidDays(86401, 1) != 2 {
		t.Fatal("unexpected day rounding")
	}
}
