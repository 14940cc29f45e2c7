package schedule

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
)

func TestParseRate(t *testing.T) {
	cases := []struct {
		in       string
		amount   string
		token    string
		interval int64
	}{
		{"10 USDC/30sec", "10", "USDC", 30},
		{"5 DAI/day", "5", "DAI", 86400},
		{"2.5 usdc / 2 hours", "2.5", "USDC", 7200},
		{"1 USDC/daily", "1", "USDC", 86400},
		{"$3 USDC/15 min", "3", "USDC", 900},
	}
	for _, tc := range cases {
		got, err := ParseRate(tc.in)
		if err != nil {
			t.Fatalf("ParseRate(%q) failed: %v", tc.in, err)
		}
		if got.AmountPerPeriod.String() != tc.amount || got.Token != tc.token || got.IntervalSeconds != tc.interval {
			t.Fatalf("ParseRate(%q) = %s %s/%ds", tc.in, got.AmountPerPeriod, got.Token, got.IntervalSeconds)
		}
		if got.Defaulted {
			t.Fatalf("ParseRate(%q) must not be flagged defaulted", tc.in)
		}
		if got.MaxExecutions != DefaultMaxExecutions {
			t.Fatalf("unexpected max executions: %d", got.MaxExecutions)
		}
	}
}

func TestParseRateFailsInsteadOfDefaulting(t *testing.T) {
	for _, in := range []string{"", "send some money", "10 USDC every now and then", "10 USDC/fortnight", "10 DOGE/day", "10 USDC/0 sec"} {
		_, err := ParseRate(in)
		if err == nil {
			t.Fatalf("expected ParseRate(%q) to fail", in)
		}
		if !clierr.Is(err, clierr.CodeParse) && !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("unexpected error type for %q: %v", in, err)
		}
	}
	def := DefaultRate()
	if !def.Defaulted || def.AmountPerPeriod.String() != "10" || def.IntervalSeconds != 10 {
		t.Fatalf("unexpected default rate: %+v", def)
	}
}

func TestParseInterval(t *testing.T) {
	cases := map[string]int64{
		"30sec":       30,
		"daily":       86400,
		"2 hours":     7200,
		"every 5 min": 300,
		"45":          45,
		"weekly":      604800,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		if err != nil {
			t.Fatalf("ParseInterval(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseInterval(%q) = %d, want %d", in, got, want)
		}
	}
	if _, err := ParseInterval("soonish"); err == nil {
		t.Fatal("expected unknown unit to fail")
	}
}

func TestForRentToOwn(t *testing.T) {
	rent := id.NewAmount(big.NewInt(2_000_000_000), 6)
	got, err := ForRentToOwn(decimal.NewFromInt(5), 12, rent)
	if err != nil {
		t.Fatalf("ForRentToOwn failed: %v", err)
	}
	if got.TargetOwnershipBasisPoints != 500 || got.TargetMonths != 12 || got.MonthlyRent.String() != "2000" {
		t.Fatalf("unexpected schedule: %+v", got)
	}
	if got.ImpliedTotalRent().String() != "24000" {
		t.Fatalf("unexpected implied total: %s", got.ImpliedTotalRent())
	}

	if _, err := ForRentToOwn(decimal.NewFromInt(150), 12, rent); err == nil {
		t.Fatal("expected 150% to fail validation")
	}
	if _, err := ForRentToOwn(decimal.NewFromInt(-1), 12, rent); err == nil {
		t.Fatal("expected negative percent to fail validation")
	}
	if _, err := ForRentToOwn(decimal.NewFromInt(5), 0, rent); err == nil {
		t.Fatal("expected zero months to fail validation")
	}
	if got, err := ForRentToOwn(decimal.RequireFromString("2.5"), 24, rent); err != nil || got.TargetOwnershipBasisPoints != 250 {
		t.Fatalf("expected 250 bps, got %+v err=%v", got, err)
	}
	if _, err := ForRentToOwn(decimal.RequireFromString("2.505"), 24, rent); err == nil {
		t.Fatal("expected sub-basis-point precision to fail")
	}
}

func TestForEventDriven(t *testing.T) {
	s := ForEventDriven(Condition{Trigger: "incoming_transfer", From: "0xabc"})
	if !s.IsEventDriven || s.IntervalSeconds != 31536000 || s.MaxExecutions != 10 {
		t.Fatalf("unexpected event-driven schedule: %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := (RecurringSchedule{IntervalSeconds: 0, MaxExecutions: 1}).Validate(); err == nil {
		t.Fatal("expected zero interval to fail")
	}
	if err := (RecurringSchedule{IntervalSeconds: 10, MaxExecutions: 0}).Validate(); err == nil {
		t.Fatal("expected zero max executions to fail for time-driven schedule")
	}
	cond := Condition{Trigger: "incoming_transfer"}
	if err := (RecurringSchedule{IntervalSeconds: 10, MaxExecutions: 0, IsEventDriven: true, EventTrigger: &cond}).Validate(); err != nil {
		t.Fatalf("expected event-driven cap of zero to be accepted: %v", err)
	}
}
