package sequencer

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

type State string

const (
	StateIdle                 State = "idle"
	StateResolving            State = "resolving"
	StateSubmitting           State = "submitting"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateCompleted            State = "completed"
	StateAborted              State = "aborted"
	StateTimedOut             State = "timed_out"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateTimedOut
}

var transitions = map[State][]State{
	StateIdle:                 {StateResolving},
	StateResolving:            {StateSubmitting, StateAborted},
	StateSubmitting:           {StateAwaitingConfirmation, StateAborted},
	StateAwaitingConfirmation: {StateSubmitting, StateCompleted, StateAborted, StateTimedOut},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSubmitted StepStatus = "submitted"
	StepConfirmed StepStatus = "confirmed"
	StepFailed    StepStatus = "failed"
	StepTimedOut  StepStatus = "timed_out"
)

// TxRequest is one contract call ready for the wallet layer.
type TxRequest struct {
	To       common.Address    `json:"to"`
	Function string            `json:"function"`
	Data     hexutil.Bytes     `json:"data"`
	Value    *big.Int          `json:"value,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
}

// StepContext is what a step builder may read. Outputs holds values decoded
// from earlier confirmations (for example a schedule id).
type StepContext struct {
	Owner     common.Address
	Recipient common.Address
	Outputs   map[string]string
}

// PlanStep builds its transaction lazily so nothing about step i+1 exists
// until step i is confirmed. DependsOnPriorConfirmation marks steps whose
// on-chain call would fail without the previous one mined.
type PlanStep struct {
	Name                       string
	Build                      func(StepContext) (TxRequest, error)
	DependsOnPriorConfirmation bool
	// Decode extracts named outputs from the step's confirmation.
	Decode func(Confirmation) map[string]string
}

// Plan is an ordered list of steps realizing one intent. Recipient, when
// set, is a friend name or address resolved before the first submission.
type Plan struct {
	Kind      string
	Recipient string
	Steps     []PlanStep
	// Payload is persisted with the sequence so the plan can be rebuilt on
	// resume.
	Payload json.RawMessage
	// OnComplete runs once after the final step confirms. Any warning it
	// returns marks the sequence degraded; it never undoes it.
	OnComplete func(ctx context.Context, seq Sequence) []string
}

func (p Plan) StepNames() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Name)
	}
	return out
}

type ConfirmationStatus string

const (
	Confirmed ConfirmationStatus = "confirmed"
	Failed    ConfirmationStatus = "failed"
)

type Confirmation struct {
	TxHash      common.Hash
	Status      ConfirmationStatus
	BlockNumber uint64
	Reason      string
	Logs        []*types.Log
}

// Wallet submits signed transactions and reports their confirmation. Await
// must match confirmations by hash.
type Wallet interface {
	Address() common.Address
	Submit(ctx context.Context, req TxRequest) (common.Hash, error)
	Await(ctx context.Context, hash common.Hash) (Confirmation, error)
}

type Resolver interface {
	Resolve(ctx context.Context, owner, nameOrAddress string) (common.Address, error)
}

type StepRecord struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Request     *TxRequest `json:"request,omitempty"`
	TxHash      string     `json:"tx_hash,omitempty"`
	BlockNumber uint64     `json:"block_number,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Sequence is the durable record of one plan execution.
type Sequence struct {
	ID                string            `json:"sequence_id"`
	Kind              string            `json:"kind"`
	State             State             `json:"state"`
	StepIndex         int               `json:"step_index"`
	Owner             string            `json:"owner"`
	Recipient         string            `json:"recipient,omitempty"`
	ResolvedRecipient string            `json:"resolved_recipient,omitempty"`
	Steps             []StepRecord      `json:"steps"`
	Outputs           map[string]string `json:"outputs,omitempty"`
	FailedStep        string            `json:"failed_step,omitempty"`
	Error             string            `json:"error,omitempty"`
	Degraded          bool              `json:"degraded,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
	Payload           json.RawMessage   `json:"payload,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
