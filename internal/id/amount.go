package id

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

var (
	decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	// "$500", "10 USDC", "1,000.50 usdc", "1.5"
	moneyPattern = regexp.MustCompile(`^\s*\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*([A-Za-z]+)?\s*$`)
)

// Amount is a non-negative fixed-point token quantity held in base units.
type Amount struct {
	Base     *big.Int
	Decimals int
}

type amountJSON struct {
	BaseUnits string `json:"base_units"`
	Decimal   string `json:"decimal"`
	Decimals  int    `json:"decimals"`
}

func NewAmount(base *big.Int, decimals int) Amount {
	if base == nil {
		base = new(big.Int)
	}
	return Amount{Base: new(big.Int).Set(base), Decimals: decimals}
}

// ParseDecimalAmount converts a plain decimal string such as "1.25" into base
// units. Precision beyond the token decimals is rejected.
func ParseDecimalAmount(decimal string, decimals int) (Amount, error) {
	if decimals < 0 {
		return Amount{}, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	decimal = strings.TrimSpace(decimal)
	if !decimalPattern.MatchString(decimal) {
		return Amount{}, clierr.New(clierr.CodeParse, fmt.Sprintf("amount %q must be in decimal form like 1.23", decimal))
	}
	base, err := decimalToBaseUnits(decimal, decimals)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Base: base, Decimals: decimals}, nil
}

// ParseMoney reads a currency string and returns the amount and the token
// symbol it names. A leading "$" or a missing symbol means USDC.
func ParseMoney(text string) (Amount, string, error) {
	m := moneyPattern.FindStringSubmatch(text)
	if m == nil {
		return Amount{}, "", clierr.New(clierr.CodeParse, fmt.Sprintf("cannot read amount from %q", text))
	}
	symbol := strings.ToUpper(m[2])
	if symbol == "" || symbol == "USD" || symbol == "DOLLARS" || symbol == "DOLLAR" {
		symbol = "USDC"
	}
	decimals, ok := defaultDecimalsBySymbol[symbol]
	if !ok {
		return Amount{}, "", clierr.New(clierr.CodeParse, fmt.Sprintf("unknown token %q in amount %q", m[2], text))
	}
	amt, err := ParseDecimalAmount(strings.ReplaceAll(m[1], ",", ""), decimals)
	if err != nil {
		return Amount{}, "", err
	}
	return amt, symbol, nil
}

func (a Amount) IsZero() bool {
	return a.Base == nil || a.Base.Sign() == 0
}

func (a Amount) BaseUnits() string {
	if a.Base == nil {
		return "0"
	}
	return a.Base.String()
}

func (a Amount) String() string {
	return formatDecimal(a.BaseUnits(), a.Decimals)
}

// Mul returns a scaled by n.
func (a Amount) Mul(n int64) Amount {
	out := new(big.Int)
	if a.Base != nil {
		out.Mul(a.Base, big.NewInt(n))
	}
	return Amount{Base: out, Decimals: a.Decimals}
}

func (a Amount) Cmp(b Amount) int {
	x, y := a.Base, b.Base
	if x == nil {
		x = new(big.Int)
	}
	if y == nil {
		y = new(big.Int)
	}
	return x.Cmp(y)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{BaseUnits: a.BaseUnits(), Decimal: a.String(), Decimals: a.Decimals})
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n, ok := new(big.Int).SetString(raw.BaseUnits, 10)
	if !ok {
		return fmt.Errorf("invalid base units %q", raw.BaseUnits)
	}
	a.Base = n
	a.Decimals = raw.Decimals
	return nil
}

func formatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	n.SetString(baseUnits, 10)
	if decimals == 0 {
		return n.String()
	}

	s := n.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (*big.Int, error) {
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return nil, clierr.New(clierr.CodeParse, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	combined := strings.TrimLeft(intPart+fracPart+strings.Repeat("0", decimals-len(fracPart)), "0")
	if combined == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, clierr.New(clierr.CodeParse, "invalid decimal amount")
	}
	return n, nil
}

// FormatBaseUnits converts base-unit integer strings into decimal strings.
func FormatBaseUnits(baseUnits string, decimals int) string {
	return formatDecimal(baseUnits, decimals)
}
