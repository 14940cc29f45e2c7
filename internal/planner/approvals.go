package planner

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
)

var approveSelector = plannerERC20ABI.Methods["approve"].ID

// CheckApproval enforces that approval calldata grants no more than limit
// and only to consumer, the contract that pulls the funds next.
func CheckApproval(data []byte, limit *big.Int, consumer common.Address) error {
	if len(data) < 4 || !bytes.Equal(data[:4], approveSelector) {
		return clierr.New(clierr.CodeBlocked, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := plannerERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeBlocked, "approval step calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeBlocked, "approval step has invalid spender")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeBlocked, "approval step has invalid approval amount")
	}
	if spender != consumer {
		return clierr.New(clierr.CodeBlocked, fmt.Sprintf("approval spender %s is not the consuming contract %s", spender.Hex(), consumer.Hex()))
	}
	if limit == nil || amount.Cmp(limit) > 0 {
		return clierr.New(clierr.CodeBlocked, fmt.Sprintf("approval amount %s exceeds requested amount %v", amount, limit))
	}
	return nil
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}
