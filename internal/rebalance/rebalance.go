// Package rebalance computes how far a portfolio has drifted from its
// target allocation and which trades would bring it back. Evaluation is
// pure; nothing here submits transactions.
package rebalance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

var hundred = decimal.NewFromInt(100)

type Side string

const (
	Sell Side = "sell"
	Buy  Side = "buy"
)

type Target struct {
	Asset string          `json:"asset"`
	Pct   decimal.Decimal `json:"target_pct"`
}

// Strategy owns the target percentages. The sum is checked once at
// creation; drift at runtime is expected.
type Strategy struct {
	Targets   []Target        `json:"targets"`
	Threshold decimal.Decimal `json:"threshold_pct"`
}

func NewStrategy(targets []Target, threshold decimal.Decimal) (Strategy, error) {
	if len(targets) == 0 {
		return Strategy{}, clierr.New(clierr.CodeUsage, "strategy needs at least one target")
	}
	if threshold.Sign() <= 0 {
		return Strategy{}, clierr.New(clierr.CodeUsage, "threshold must be > 0")
	}
	seen := map[string]bool{}
	sum := decimal.Zero
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		asset := strings.ToUpper(strings.TrimSpace(t.Asset))
		if asset == "" {
			return Strategy{}, clierr.New(clierr.CodeUsage, "target asset is required")
		}
		if seen[asset] {
			return Strategy{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("duplicate target asset %s", asset))
		}
		if t.Pct.IsNegative() {
			return Strategy{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("target for %s must be >= 0", asset))
		}
		seen[asset] = true
		sum = sum.Add(t.Pct)
		out = append(out, Target{Asset: asset, Pct: t.Pct})
	}
	if !sum.Equal(hundred) {
		return Strategy{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("targets must sum to 100, got %s", sum.String()))
	}
	return Strategy{Targets: out, Threshold: threshold}, nil
}

func (s Strategy) target(asset string) (decimal.Decimal, bool) {
	for _, t := range s.Targets {
		if t.Asset == asset {
			return t.Pct, true
		}
	}
	return decimal.Zero, false
}

// Holding is one position, valued in USD.
type Holding struct {
	Asset string          `json:"asset"`
	Value decimal.Decimal `json:"value"`
}

type Allocation struct {
	Asset        string          `json:"asset"`
	CurrentValue decimal.Decimal `json:"current_value"`
	CurrentPct   decimal.Decimal `json:"current_pct"`
	TargetPct    decimal.Decimal `json:"target_pct"`
}

func (a Allocation) DeviationPct() decimal.Decimal {
	return a.CurrentPct.Sub(a.TargetPct)
}

type Action struct {
	Asset        string          `json:"asset"`
	Side         Side            `json:"side"`
	DeviationPct decimal.Decimal `json:"deviation_pct"`
	// TradeValue is the value moved to return the asset to target, in the
	// same unit as holdings (USD).
	TradeValue decimal.Decimal `json:"trade_value"`
}

type Decision struct {
	NeedsRebalance  bool            `json:"needs_rebalance"`
	MaxDeviationPct decimal.Decimal `json:"max_deviation_pct"`
	Threshold       decimal.Decimal `json:"threshold_pct"`
	Actions         []Action        `json:"actions"`
	Allocations     []Allocation    `json:"allocations"`
}

// Allocate turns holdings into allocations in strategy declaration order.
// Declared assets without holdings count as zero.
func Allocate(s Strategy, holdings []Holding) ([]Allocation, error) {
	values := map[string]decimal.Decimal{}
	extra := make([]string, 0)
	total := decimal.Zero
	for _, h := range holdings {
		asset := strings.ToUpper(strings.TrimSpace(h.Asset))
		if h.Value.IsNegative() {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("holding %s must be >= 0", asset))
		}
		if _, ok := values[asset]; !ok {
			if _, declared := s.target(asset); !declared {
				extra = append(extra, asset)
			}
		}
		values[asset] = values[asset].Add(h.Value)
		total = total.Add(h.Value)
	}
	if total.Sign() == 0 {
		return nil, clierr.New(clierr.CodeUsage, "portfolio has no value")
	}
	assets := make([]string, 0, len(s.Targets)+len(extra))
	for _, t := range s.Targets {
		assets = append(assets, t.Asset)
	}
	assets = append(assets, extra...)

	out := make([]Allocation, 0, len(assets))
	for _, asset := range assets {
		target, _ := s.target(asset)
		v := values[asset]
		out = append(out, Allocation{
			Asset:        asset,
			CurrentValue: v,
			CurrentPct:   v.Div(total).Mul(hundred).Round(4),
			TargetPct:    target,
		})
	}
	return out, nil
}

// Evaluate decides which assets to trade. An asset gets an action when
// |deviation| >= threshold. Declared assets come first in declaration order,
// then undeclared ones in input order, so equal input gives equal output.
// A declared asset missing from allocations counts as 0% held; an asset
// listed twice is a usage error.
func Evaluate(s Strategy, allocations []Allocation) (Decision, error) {
	ordered, err := order(s, allocations)
	if err != nil {
		return Decision{}, err
	}
	total := decimal.Zero
	for _, a := range ordered {
		total = total.Add(a.CurrentValue)
	}

	d := Decision{Threshold: s.Threshold, MaxDeviationPct: decimal.Zero, Actions: []Action{}, Allocations: ordered}
	for _, a := range ordered {
		dev := a.DeviationPct()
		if dev.Abs().GreaterThan(d.MaxDeviationPct) {
			d.MaxDeviationPct = dev.Abs()
		}
		if dev.Abs().LessThan(s.Threshold) {
			continue
		}
		side := Sell
		if dev.IsNegative() {
			side = Buy
		}
		d.Actions = append(d.Actions, Action{
			Asset:        a.Asset,
			Side:         side,
			DeviationPct: dev,
			TradeValue:   dev.Abs().Div(hundred).Mul(total).Round(6),
		})
	}
	d.NeedsRebalance = d.MaxDeviationPct.GreaterThanOrEqual(s.Threshold)
	return d, nil
}

// SnapToTarget models a manual "rebalance now" as an instant fill at
// target. The result ignores prices and slippage and must not be treated as
// the post-trade state.
func SnapToTarget(s Strategy, allocations []Allocation) ([]Allocation, error) {
	ordered, err := order(s, allocations)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, a := range ordered {
		total = total.Add(a.CurrentValue)
	}
	out := make([]Allocation, 0, len(ordered))
	for _, a := range ordered {
		out = append(out, Allocation{
			Asset:        a.Asset,
			CurrentValue: total.Mul(a.TargetPct).Div(hundred).Round(6),
			CurrentPct:   a.TargetPct,
			TargetPct:    a.TargetPct,
		})
	}
	return out, nil
}

// SwapLeg is the USDC amount to swap into ETH for d: the ETH shortfall,
// capped by the USDC held. Holding values are read as USD, so a USD trade
// value is spent as the same number of USDC. Other legs are not executable
// here.
func SwapLeg(d Decision) (decimal.Decimal, bool) {
	var ethBuy *Action
	for i := range d.Actions {
		if d.Actions[i].Asset == "ETH" && d.Actions[i].Side == Buy {
			ethBuy = &d.Actions[i]
			break
		}
	}
	if ethBuy == nil {
		return decimal.Zero, false
	}
	available := decimal.Zero
	for _, a := range d.Allocations {
		if a.Asset == "USDC" {
			available = a.CurrentValue
			break
		}
	}
	amount := decimal.Min(ethBuy.TradeValue, available).Truncate(6)
	if amount.Sign() <= 0 {
		return decimal.Zero, false
	}
	return amount, true
}

func order(s Strategy, allocations []Allocation) ([]Allocation, error) {
	byAsset := make(map[string]Allocation, len(allocations))
	inputOrder := make([]string, 0, len(allocations))
	for _, a := range allocations {
		a.Asset = strings.ToUpper(strings.TrimSpace(a.Asset))
		if _, dup := byAsset[a.Asset]; dup {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("duplicate allocation for %s", a.Asset))
		}
		if target, ok := s.target(a.Asset); ok {
			a.TargetPct = target
		}
		inputOrder = append(inputOrder, a.Asset)
		byAsset[a.Asset] = a
	}
	out := make([]Allocation, 0, len(byAsset)+len(s.Targets))
	for _, t := range s.Targets {
		a, ok := byAsset[t.Asset]
		if !ok {
			a = Allocation{Asset: t.Asset, TargetPct: t.Pct}
		}
		out = append(out, a)
		delete(byAsset, t.Asset)
	}
	for _, asset := range inputOrder {
		if a, ok := byAsset[asset]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}
