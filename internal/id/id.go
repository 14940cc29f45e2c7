package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

var chainBySlug = map[string]Chain{
	"ethereum":     {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"mainnet":      {Name: "Ethereum", Slug: "ethereum", CAIP2: "eip155:1", EVMChainID: 1},
	"sepolia":      {Name: "Sepolia", Slug: "sepolia", CAIP2: "eip155:11155111", EVMChainID: 11155111},
	"base":         {Name: "Base", Slug: "base", CAIP2: "eip155:8453", EVMChainID: 8453},
	"base-sepolia": {Name: "Base Sepolia", Slug: "base-sepolia", CAIP2: "eip155:84532", EVMChainID: 84532},
	"arbitrum":     {Name: "Arbitrum", Slug: "arbitrum", CAIP2: "eip155:42161", EVMChainID: 42161},
	"optimism":     {Name: "Optimism", Slug: "optimism", CAIP2: "eip155:10", EVMChainID: 10},
	"anvil":        {Name: "Anvil", Slug: "anvil", CAIP2: "eip155:31337", EVMChainID: 31337},
}

var chainByID = func() map[int64]Chain {
	out := make(map[int64]Chain, len(chainBySlug))
	for _, chain := range chainBySlug {
		out[chain.EVMChainID] = chain
	}
	return out
}()

// Tokens the orchestrator can move. Contract addresses for the payment,
// swap and property contracts come from configuration, not from here.
var tokenRegistry = map[string][]Token{
	"eip155:1": {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	},
	"eip155:8453": {
		{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	"eip155:84532": {
		{Symbol: "USDC", Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6},
	},
	"eip155:42161": {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: 18},
	},
	"eip155:10": {
		{Symbol: "USDC", Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", Decimals: 6},
		{Symbol: "DAI", Address: "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
}

// Decimals used for symbols that are not in the chain registry (for
// example when amounts are only displayed).
var defaultDecimalsBySymbol = map[string]int{
	"USDC": 6,
	"USDT": 6,
	"DAI":  18,
	"ETH":  18,
	"WETH": 18,
}

func ParseChain(input string) (Chain, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	norm := strings.ToLower(raw)

	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	if n, err := strconv.ParseInt(norm, 10, 64); err == nil && n > 0 {
		if chain, ok := chainByID[n]; ok {
			return chain, nil
		}
		return Chain{Name: fmt.Sprintf("EVM-%d", n), Slug: fmt.Sprintf("evm-%d", n), CAIP2: fmt.Sprintf("eip155:%d", n), EVMChainID: n}, nil
	}
	return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain input: %s", input))
}

func IsAddress(v string) bool {
	return evmAddressPattern.MatchString(strings.TrimSpace(v))
}

func KnownToken(chainID, symbol string) (Token, bool) {
	for _, t := range tokenRegistry[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			return Token{Symbol: strings.ToUpper(t.Symbol), Address: strings.ToLower(t.Address), Decimals: t.Decimals}, true
		}
	}
	return Token{}, false
}

// DecimalsFor returns token decimals for a symbol, preferring the chain
// registry and falling back to well-known defaults.
func DecimalsFor(chainID, symbol string) (int, bool) {
	if t, ok := KnownToken(chainID, symbol); ok {
		return t.Decimals, true
	}
	d, ok := defaultDecimalsBySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return d, ok
}
