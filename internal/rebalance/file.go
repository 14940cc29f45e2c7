package rebalance

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

// portfolioFile is the YAML (or JSON) document read by the rebalance
// commands. Numbers are read as text and parsed as decimals.
type portfolioFile struct {
	Threshold string `yaml:"threshold"`
	Targets   []struct {
		Asset   string `yaml:"asset"`
		Percent string `yaml:"percent"`
	} `yaml:"targets"`
	Holdings []struct {
		Asset string `yaml:"asset"`
		Value string `yaml:"value"`
	} `yaml:"holdings"`
}

// Portfolio is a strategy plus current holdings.
type Portfolio struct {
	Strategy Strategy
	Holdings []Holding
}

// FileSource reloads the portfolio from Path on every read so edits are
// picked up by a running watch.
type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) (Portfolio, error) {
	return LoadPortfolio(f.Path)
}

func LoadPortfolio(path string) (Portfolio, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Portfolio{}, clierr.Wrap(clierr.CodeUsage, "read portfolio file", err)
	}
	return ParsePortfolio(buf)
}

func ParsePortfolio(buf []byte) (Portfolio, error) {
	var doc portfolioFile
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return Portfolio{}, clierr.Wrap(clierr.CodeUsage, "parse portfolio file", err)
	}
	threshold, err := parseDecimal("threshold", doc.Threshold)
	if err != nil {
		return Portfolio{}, err
	}
	targets := make([]Target, 0, len(doc.Targets))
	for _, t := range doc.Targets {
		pct, err := parseDecimal("target "+t.Asset, t.Percent)
		if err != nil {
			return Portfolio{}, err
		}
		targets = append(targets, Target{Asset: t.Asset, Pct: pct})
	}
	strategy, err := NewStrategy(targets, threshold)
	if err != nil {
		return Portfolio{}, err
	}
	holdings := make([]Holding, 0, len(doc.Holdings))
	for _, h := range doc.Holdings {
		v, err := parseDecimal("holding "+h.Asset, h.Value)
		if err != nil {
			return Portfolio{}, err
		}
		holdings = append(holdings, Holding{Asset: h.Asset, Value: v})
	}
	return Portfolio{Strategy: strategy, Holdings: holdings}, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a number, got %q", field, raw))
	}
	return d, nil
}
