// Package wallet adapts a signing key and an EVM node to the sequencer's
// submit/await contract, plus a simulated wallet for dry runs.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

// chainClient is the slice of ethclient.Client the wallet needs.
type chainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type RPCOptions struct {
	PollInterval       time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	Logger             logrus.FieldLogger
}

type RPCWallet struct {
	client  chainClient
	closer  func()
	signer  Signer
	chainID *big.Int
	opts    RPCOptions
}

// DialRPC connects to rpcURL and checks that the node serves the expected
// chain before anything is signed.
func DialRPC(ctx context.Context, rpcURL string, expectedChainID int64, s Signer, opts RPCOptions) (*RPCWallet, error) {
	if s == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	if strings.TrimSpace(rpcURL) == "" {
		return nil, clierr.New(clierr.CodeUsage, "missing rpc url")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	w, err := newRPCWallet(ctx, client, expectedChainID, s, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	w.closer = client.Close
	return w, nil
}

func newRPCWallet(ctx context.Context, client chainClient, expectedChainID int64, s Signer, opts RPCOptions) (*RPCWallet, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if expectedChainID > 0 && chainID.Int64() != expectedChainID {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("rpc serves chain %d, expected %d", chainID.Int64(), expectedChainID))
	}
	return &RPCWallet{client: client, signer: s, chainID: chainID, opts: opts}, nil
}

func (w *RPCWallet) Close() {
	if w != nil && w.closer != nil {
		w.closer()
	}
}

func (w *RPCWallet) Address() common.Address {
	return w.signer.Address()
}

// Submit estimates, signs and broadcasts req. A failed gas estimate means
// the call would revert, which is reported as a permission failure with the
// decoded reason.
func (w *RPCWallet) Submit(ctx context.Context, req sequencer.TxRequest) (common.Hash, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	msg := ethereum.CallMsg{From: w.signer.Address(), To: &to, Value: value, Data: req.Data}

	gasLimit, err := w.client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodePermission, fmt.Sprintf("%s would revert", req.Function), err)
	}
	gasLimit = uint64(float64(gasLimit) * w.opts.GasMultiplier)

	tipCap, err := w.resolveTipCap(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, w.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := w.client.PendingNonceAt(ctx, w.signer.Address())
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := w.signer.SignTx(w.chainID, tx)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, wrapEVMExecutionError(clierr.CodePermission, "broadcast transaction", err)
	}
	w.opts.Logger.WithFields(logrus.Fields{"function": req.Function, "tx_hash": signed.Hash().Hex(), "nonce": nonce}).Debug("transaction broadcast")
	return signed.Hash(), nil
}

// Await polls for the receipt of hash until ctx ends. Transient RPC errors
// are ignored; the caller's deadline bounds the wait.
func (w *RPCWallet) Await(ctx context.Context, hash common.Hash) (sequencer.Confirmation, error) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			conf := sequencer.Confirmation{TxHash: hash, Logs: receipt.Logs}
			if receipt.BlockNumber != nil {
				conf.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status == types.ReceiptStatusSuccessful {
				conf.Status = sequencer.Confirmed
			} else {
				conf.Status = sequencer.Failed
				conf.Reason = "transaction reverted on-chain"
			}
			return conf, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			w.opts.Logger.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt poll failed")
		}
		select {
		case <-ctx.Done():
			return sequencer.Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *RPCWallet) resolveTipCap(ctx context.Context) (*big.Int, error) {
	if strings.TrimSpace(w.opts.MaxPriorityFeeGwei) != "" {
		v, err := parseGwei(w.opts.MaxPriorityFeeGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse max priority fee", err)
		}
		return v, nil
	}
	tipCap, err := w.client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse max fee", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "max fee must be >= max priority fee")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	return feeCap.Add(feeCap, tipCap), nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

// wrapEVMExecutionError attaches the decoded revert reason, when the node
// returned one, to the message.
func wrapEVMExecutionError(code clierr.Code, msg string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return clierr.Wrap(code, fmt.Sprintf("%s: %s", msg, reason), err)
	}
	return clierr.Wrap(code, msg, err)
}

func decodeRevertFromError(err error) string {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}
	return decodeRevertData(common.FromHex(raw))
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return fmt.Sprintf("custom error 0x%x", data[:4])
}
