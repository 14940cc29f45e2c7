package wallet

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/rwa-orchestrator/internal/registry"
	"github.com/ggonzalez94/rwa-orchestrator/internal/sequencer"
)

var paymentABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.PaymentContractABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Simulated confirms every submission without a node. Hashes are
// deterministic per (address, nonce, call), and createPaymentSchedule calls
// emit a PaymentScheduleCreated log so schedule ids can be decoded.
type Simulated struct {
	address common.Address
	hub     *sequencer.Hub
	delay   time.Duration

	mu     sync.Mutex
	nonce  uint64
	block  uint64
	revert map[string]string
	sent   []sequencer.TxRequest
}

func NewSimulated(address common.Address, delay time.Duration) *Simulated {
	return &Simulated{
		address: address,
		hub:     sequencer.NewHub(),
		delay:   delay,
		block:   1,
		revert:  map[string]string{},
	}
}

// RevertOn makes every later call to function fail with reason.
func (s *Simulated) RevertOn(function, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revert[function] = reason
}

func (s *Simulated) Address() common.Address {
	return s.address
}

func (s *Simulated) Submit(_ context.Context, req sequencer.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	nonce := s.nonce
	s.nonce++
	s.block++
	block := s.block
	reason, reverts := s.revert[req.Function]
	s.sent = append(s.sent, req)
	s.mu.Unlock()

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)
	hash := crypto.Keccak256Hash(s.address.Bytes(), nonceBytes[:], req.To.Bytes(), req.Data)

	conf := sequencer.Confirmation{TxHash: hash, Status: sequencer.Confirmed, BlockNumber: block}
	if reverts {
		conf.Status = sequencer.Failed
		conf.Reason = reason
	} else {
		conf.Logs = s.logsFor(req, nonce, hash, block)
	}
	if s.delay > 0 {
		go func() {
			time.Sleep(s.delay)
			s.hub.Publish(conf)
		}()
	} else {
		s.hub.Publish(conf)
	}
	return hash, nil
}

func (s *Simulated) Await(ctx context.Context, hash common.Hash) (sequencer.Confirmation, error) {
	return s.hub.Await(ctx, hash)
}

func (s *Simulated) Sent() []sequencer.TxRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sequencer.TxRequest(nil), s.sent...)
}

func (s *Simulated) logsFor(req sequencer.TxRequest, nonce uint64, hash common.Hash, block uint64) []*types.Log {
	method, ok := paymentABI.Methods["createPaymentSchedule"]
	if !ok || len(req.Data) < 4 || !bytes.Equal(req.Data[:4], method.ID) {
		return nil
	}
	args, err := method.Inputs.Unpack(req.Data[4:])
	if err != nil || len(args) == 0 {
		return nil
	}
	recipient, _ := args[0].(common.Address)
	event := paymentABI.Events[registry.PaymentScheduleCreatedEvent]
	return []*types.Log{{
		Address: req.To,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(new(big.Int).SetUint64(nonce + 1)),
			common.BytesToHash(s.address.Bytes()),
			common.BytesToHash(recipient.Bytes()),
		},
		BlockNumber: block,
		TxHash:      hash,
	}}
}
