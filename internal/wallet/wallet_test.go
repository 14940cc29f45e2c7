package wallet

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/rwa-orchestrator/internal/errors"
	"github.com/ggonzalez94/rwa-orchestrator/internal/logging"
	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

type fakeChain struct {
	chainID     int64
	estimateErr error
	sent        []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	polls       int
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 50_000, nil
}

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(2_000_000_000)}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.polls++
	if r, ok := f.receipts[hash]; ok && f.polls > 1 {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func testSigner(t *testing.T) *LocalSigner {
	t.Helper()
	s, err := NewLocalSignerFromHex(testPrivateKey)
	if err != nil {
		t.Fatalf("NewLocalSignerFromHex failed: %v", err)
	}
	return s
}

func testOptions() RPCOptions {
	return RPCOptions{PollInterval: 5 * time.Millisecond, GasMultiplier: 1.5, Logger: logging.Discard()}
}

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("new abi type: %v", err)
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), packed...)
}

func TestSubmitSignsAndAwaitMatchesReceipt(t *testing.T) {
	chain := &fakeChain{chainID: 8453, receipts: map[common.Hash]*types.Receipt{}}
	w, err := newRPCWallet(context.Background(), chain, 8453, testSigner(t), testOptions())
	if err != nil {
		t.Fatalf("newRPCWallet failed: %v", err)
	}
	req := sequencer.TxRequest{To: common.HexToAddress("0x00000000000000000000000000000000000000c1"), Function: "approve", Data: []byte{1, 2, 3, 4}}
	hash, err := w.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(chain.sent) != 1 || chain.sent[0].Hash() != hash {
		t.Fatalf("unexpected broadcast: %+v", chain.sent)
	}
	if chain.sent[0].Gas() != 75_000 {
		t.Fatalf("expected gas multiplier applied, got %d", chain.sent[0].Gas())
	}
	if chain.sent[0].GasFeeCap().Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("unexpected fee cap: %s", chain.sent[0].GasFeeCap())
	}

	chain.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(42)}
	conf, err := w.Await(context.Background(), hash)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if conf.TxHash != hash || conf.Status != sequencer.Confirmed || conf.BlockNumber != 42 {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}
}

func TestAwaitReportsRevertAndTimeout(t *testing.T) {
	chain := &fakeChain{chainID: 1, receipts: map[common.Hash]*types.Receipt{}}
	w, err := newRPCWallet(context.Background(), chain, 0, testSigner(t), testOptions())
	if err != nil {
		t.Fatalf("newRPCWallet failed: %v", err)
	}
	reverted := common.HexToHash("0x01")
	chain.receipts[reverted] = &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}
	conf, err := w.Await(context.Background(), reverted)
	if err != nil || conf.Status != sequencer.Failed {
		t.Fatalf("expected failed confirmation, got %+v err=%v", conf, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := w.Await(ctx, common.HexToHash("0x02")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSubmitSurfacesRevertReason(t *testing.T) {
	chain := &fakeChain{chainID: 1, estimateErr: testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(encodeErrorString(t, "permission not granted")),
	}}
	w, err := newRPCWallet(context.Background(), chain, 1, testSigner(t), testOptions())
	if err != nil {
		t.Fatalf("newRPCWallet failed: %v", err)
	}
	_, err = w.Submit(context.Background(), sequencer.TxRequest{Function: "createPaymentSchedule"})
	if !clierr.Is(err, clierr.CodePermission) {
		t.Fatalf("expected permission failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "permission not granted") {
		t.Fatalf("expected decoded reason in %q", err.Error())
	}
	if len(chain.sent) != 0 {
		t.Fatal("reverting call must not be broadcast")
	}
}

func TestChainMismatchIsRejected(t *testing.T) {
	_, err := newRPCWallet(context.Background(), &fakeChain{chainID: 1}, 8453, testSigner(t), testOptions())
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected chain mismatch usage error, got %v", err)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	if reason := decodeRevertData(common.FromHex("0x12345678")); !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
	if decodeRevertData(nil) != "" {
		t.Fatal("expected empty reason for empty data")
	}
}

func TestParseGwei(t *testing.T) {
	v, err := parseGwei("1.5")
	if err != nil || v.Cmp(big.NewInt(1_500_000_000)) != 0 {
		t.Fatalf("unexpected gwei parse: %v err=%v", v, err)
	}
	if _, err := parseGwei("-1"); err == nil {
		t.Fatal("expected negative gwei to fail")
	}
	if _, err := resolveFeeCap(big.NewInt(1), big.NewInt(2_000_000_000), "1"); err == nil {
		t.Fatal("expected fee cap below tip to fail")
	}
}

func TestSimulatedWalletEmitsScheduleLog(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	parsed, err := abi.JSON(strings.NewReader(registry.PaymentContractABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	data, err := parsed.Pack("createPaymentSchedule", recipient, big.NewInt(10), big.NewInt(30), big.NewInt(10))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	sim := NewSimulated(owner, 0)
	hash, err := sim.Submit(context.Background(), sequencer.TxRequest{Function: "createPaymentSchedule", Data: data})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	conf, err := sim.Await(context.Background(), hash)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if conf.Status != sequencer.Confirmed || len(conf.Logs) != 1 {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}
	if conf.Logs[0].Topics[1] != common.BigToHash(big.NewInt(1)) || conf.Logs[0].Topics[3] != common.BytesToHash(recipient.Bytes()) {
		t.Fatalf("unexpected topics: %v", conf.Logs[0].Topics)
	}

	again := NewSimulated(owner, 0)
	hash2, _ := again.Submit(context.Background(), sequencer.TxRequest{Function: "createPaymentSchedule", Data: data})
	if hash2 != hash {
		t.Fatal("simulated hashes must be deterministic")
	}
}

func TestSimulatedWalletRevertOn(t *testing.T) {
	sim := NewSimulated(common.Address{}, 5*time.Millisecond)
	sim.RevertOn("swap", "pool paused")
	hash, _ := sim.Submit(context.Background(), sequencer.TxRequest{Function: "swap"})
	conf, err := sim.Await(context.Background(), hash)
	if err != nil || conf.Status != sequencer.Failed || conf.Reason != "pool paused" {
		t.Fatalf("unexpected confirmation: %+v err=%v", conf, err)
	}
	if len(sim.Sent()) != 1 {
		t.Fatalf("unexpected sent log: %d", len(sim.Sent()))
	}
}
