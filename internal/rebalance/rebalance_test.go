package rebalance

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/logging"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func evaluate(t *testing.T, s Strategy, allocs []Allocation) Decision {
	t.Helper()
	decision, err := Evaluate(s, allocs)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return decision
}

func threeAssetStrategy(t *testing.T) Strategy {
	t.Helper()
	s, err := NewStrategy([]Target{{Asset: "RWA", Pct: d("60")}, {Asset: "ETH", Pct: d("25")}, {Asset: "USDC", Pct: d("15")}}, d("5"))
	if err != nil {
		t.Fatalf("NewStrategy failed: %v", err)
	}
	return s
}

func TestEvaluateSellsOnlyOverThreshold(t *testing.T) {
	s := threeAssetStrategy(t)
	decision := evaluate(t, s, []Allocation{
		{Asset: "RWA", CurrentPct: d("65"), TargetPct: d("60")},
		{Asset: "ETH", CurrentPct: d("22"), TargetPct: d("25")},
		{Asset: "USDC", CurrentPct: d("13"), TargetPct: d("15")},
	})
	if !decision.NeedsRebalance {
		t.Fatal("expected rebalance")
	}
	if len(decision.Actions) != 1 {
		t.Fatalf("expected one action, got %+v", decision.Actions)
	}
	a := decision.Actions[0]
	if a.Asset != "RWA" || a.Side != Sell || !a.DeviationPct.Equal(d("5")) {
		t.Fatalf("unexpected action %+v", a)
	}
}

func TestEvaluateBelowThreshold(t *testing.T) {
	s := threeAssetStrategy(t)
	decision := evaluate(t, s, []Allocation{
		{Asset: "RWA", CurrentPct: d("61")},
		{Asset: "ETH", CurrentPct: d("24")},
		{Asset: "USDC", CurrentPct: d("15")},
	})
	if decision.NeedsRebalance || len(decision.Actions) != 0 {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestEvaluateUsesDeclarationOrder(t *testing.T) {
	s := threeAssetStrategy(t)
	decision := evaluate(t, s, []Allocation{
		{Asset: "usdc", CurrentPct: d("0")},
		{Asset: "ETH", CurrentPct: d("40")},
		{Asset: "RWA", CurrentPct: d("60")},
	})
	if len(decision.Actions) != 2 || decision.Actions[0].Asset != "ETH" || decision.Actions[1].Asset != "USDC" {
		t.Fatalf("unexpected order %+v", decision.Actions)
	}
	if decision.Actions[0].Side != Sell || decision.Actions[1].Side != Buy {
		t.Fatalf("unexpected sides %+v", decision.Actions)
	}
}

func TestEvaluateIsByteIdentical(t *testing.T) {
	s := threeAssetStrategy(t)
	allocs, err := Allocate(s, []Holding{{Asset: "RWA", Value: d("6500")}, {Asset: "ETH", Value: d("2200")}, {Asset: "USDC", Value: d("1300")}})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	first, _ := json.Marshal(evaluate(t, s, allocs))
	second, _ := json.Marshal(evaluate(t, s, allocs))
	if !bytes.Equal(first, second) {
		t.Fatalf("decisions differ:\n%s\n%s", first, second)
	}
}

func TestNewStrategyValidatesTargets(t *testing.T) {
	cases := [][]Target{
		{{Asset: "RWA", Pct: d("60")}, {Asset: "ETH", Pct: d("30")}},
		{{Asset: "RWA", Pct: d("50")}, {Asset: "rwa", Pct: d("50")}},
		{{Asset: "RWA", Pct: d("110")}, {Asset: "ETH", Pct: d("-10")}},
		{},
	}
	for _, targets := range cases {
		if _, err := NewStrategy(targets, d("5")); !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("expected usage error for %+v, got %v", targets, err)
		}
	}
	if _, err := NewStrategy([]Target{{Asset: "RWA", Pct: d("100")}}, decimal.Zero); err == nil {
		t.Fatal("expected zero threshold to fail")
	}
}

func TestAllocateComputesPercentages(t *testing.T) {
	s := threeAssetStrategy(t)
	allocs, err := Allocate(s, []Holding{{Asset: "RWA", Value: d("650")}, {Asset: "ETH", Value: d("220")}, {Asset: "USDC", Value: d("130")}, {Asset: "DOGE", Value: d("0")}})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(allocs) != 4 || allocs[3].Asset != "DOGE" || !allocs[3].TargetPct.IsZero() {
		t.Fatalf("unexpected allocations %+v", allocs)
	}
	if !allocs[0].CurrentPct.Equal(d("65")) || !allocs[1].CurrentPct.Equal(d("22")) {
		t.Fatalf("unexpected percentages %+v", allocs)
	}
	if _, err := Allocate(s, nil); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected empty portfolio error, got %v", err)
	}
}

func TestSnapToTarget(t *testing.T) {
	s := threeAssetStrategy(t)
	allocs, _ := Allocate(s, []Holding{{Asset: "RWA", Value: d("700")}, {Asset: "ETH", Value: d("200")}, {Asset: "USDC", Value: d("100")}})
	snapped, err := SnapToTarget(s, allocs)
	if err != nil {
		t.Fatalf("SnapToTarget failed: %v", err)
	}
	if evaluate(t, s, snapped).NeedsRebalance {
		t.Fatal("snapped portfolio should not need rebalancing")
	}
	if !snapped[1].CurrentValue.Equal(d("250")) {
		t.Fatalf("unexpected snapped value %s", snapped[1].CurrentValue)
	}
}

func TestSwapLegCapsAtUSDCHeld(t *testing.T) {
	s := threeAssetStrategy(t)
	allocs, _ := Allocate(s, []Holding{{Asset: "RWA", Value: d("700")}, {Asset: "ETH", Value: d("150")}, {Asset: "USDC", Value: d("150")}})
	amount, ok := SwapLeg(evaluate(t, s, allocs))
	if !ok || !amount.Equal(d("100")) {
		t.Fatalf("expected 100 USDC swap leg, got %s ok=%v", amount, ok)
	}

	allocs, _ = Allocate(s, []Holding{{Asset: "RWA", Value: d("900")}, {Asset: "ETH", Value: d("100")}})
	if _, ok := SwapLeg(evaluate(t, s, allocs)); ok {
		t.Fatal("no USDC held means no executable leg")
	}
}

func TestSwapLegUsesFirstETHBuy(t *testing.T) {
	decision := Decision{
		Actions: []Action{
			{Asset: "ETH", Side: Buy, TradeValue: d("40")},
			{Asset: "ETH", Side: Buy, TradeValue: d("90")},
		},
		Allocations: []Allocation{{Asset: "USDC", CurrentValue: d("500")}},
	}
	amount, ok := SwapLeg(decision)
	if !ok || !amount.Equal(d("40")) {
		t.Fatalf("expected the first ETH buy of 40, got %s ok=%v", amount, ok)
	}
}

func TestEvaluateRejectsDuplicateAllocations(t *testing.T) {
	s := threeAssetStrategy(t)
	allocs := []Allocation{
		{Asset: "RWA", CurrentPct: d("60")},
		{Asset: "ETH", CurrentPct: d("10")},
		{Asset: "eth", CurrentPct: d("25")},
		{Asset: "USDC", CurrentPct: d("5")},
	}
	if _, err := Evaluate(s, allocs); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for duplicate asset, got %v", err)
	}
	if _, err := SnapToTarget(s, allocs); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for duplicate asset, got %v", err)
	}
}

func TestEvaluateCountsMissingTargetAsZero(t *testing.T) {
	s := threeAssetStrategy(t)
	decision := evaluate(t, s, []Allocation{
		{Asset: "RWA", CurrentValue: d("700"), CurrentPct: d("70")},
		{Asset: "USDC", CurrentValue: d("300"), CurrentPct: d("30")},
	})
	if len(decision.Allocations) != 3 || decision.Allocations[1].Asset != "ETH" || !decision.Allocations[1].CurrentPct.IsZero() {
		t.Fatalf("expected ETH at 0%%, got %+v", decision.Allocations)
	}
	var eth *Action
	for i := range decision.Actions {
		if decision.Actions[i].Asset == "ETH" {
			eth = &decision.Actions[i]
		}
	}
	if eth == nil || eth.Side != Buy || !eth.DeviationPct.Equal(d("-25")) || !eth.TradeValue.Equal(d("250")) {
		t.Fatalf("expected a 25%% ETH buy worth 250, got %+v", decision.Actions)
	}
	if !decision.MaxDeviationPct.Equal(d("25")) {
		t.Fatalf("unexpected max deviation %s", decision.MaxDeviationPct)
	}
}

func TestParsePortfolioAndWatcherCheck(t *testing.T) {
	doc := []byte(`
threshold: 5
targets:
  - {asset: RWA, percent: 60}
  - {asset: ETH, percent: 25}
  - {asset: USDC, percent: "15"}
holdings:
  - {asset: RWA, value: 6500}
  - {asset: ETH, value: 2200}
  - {asset: USDC, value: 1300}
`)
	p, err := ParsePortfolio(doc)
	if err != nil {
		t.Fatalf("ParsePortfolio failed: %v", err)
	}
	var seen []Decision
	w := NewWatcher(staticSource{p}, func(d Decision) { seen = append(seen, d) }, logging.Discard())
	decision, err := w.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !decision.NeedsRebalance || len(seen) != 1 || decision.Actions[0].Asset != "RWA" {
		t.Fatalf("unexpected decision %+v", decision)
	}
	if last, ok := w.Last(); !ok || !last.MaxDeviationPct.Equal(d("5")) {
		t.Fatalf("unexpected last decision %+v", last)
	}

	if _, err := ParsePortfolio([]byte("threshold: five\n")); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestWatcherRejectsBadSchedule(t *testing.T) {
	w := NewWatcher(staticSource{}, nil, logging.Discard())
	if err := w.Run(context.Background(), "not a cron"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

type staticSource struct{ p Portfolio }

func (s staticSource) Load(context.Context) (Portfolio, error) { return s.p, nil }
