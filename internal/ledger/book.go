package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ggonzalez94/rwa-orchestrator/internal/id"
	"github.com/ggonzalez94/rwa-orchestrator/internal/schedule"
)

const (
	investPrefix = "invest:"
	rtoPrefix    = "rto:"
)

type Investment struct {
	Address     string    `json:"address"`
	PropertyID  string    `json:"property_id"`
	Total       id.Amount `json:"total"`
	Count       int       `json:"count"`
	LastTxHash  string    `json:"last_tx_hash,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	SequenceIDs []string  `json:"sequence_ids,omitempty"`
}

type RentToOwnProgress struct {
	Address                    string    `json:"address"`
	PropertyID                 string    `json:"property_id"`
	Landlord                   string    `json:"landlord"`
	MonthlyRent                id.Amount `json:"monthly_rent"`
	TargetOwnershipBasisPoints int64     `json:"target_ownership_bps"`
	TargetMonths               int64     `json:"target_months"`
	MonthsPaid                 int64     `json:"months_paid"`
	ScheduleTxHash             string    `json:"schedule_tx_hash,omitempty"`
	CreatedAt                  time.Time `json:"created_at"`
}

// Book records completed sequences in a Ledger under
// invest:<address>:<property> and rto:<address>:<property>.
type Book struct {
	store Ledger
	now   func() time.Time
}

func NewBook(store Ledger) *Book {
	return &Book{store: store, now: time.Now}
}

func InvestmentKey(address, propertyID string) string {
	return investPrefix + normalize(address) + ":" + strings.TrimSpace(propertyID)
}

func RentToOwnKey(address, propertyID string) string {
	return rtoPrefix + normalize(address) + ":" + strings.TrimSpace(propertyID)
}

// RecordInvestment adds amount to the running total for (address, property).
func (b *Book) RecordInvestment(ctx context.Context, address, propertyID string, amount id.Amount, txHash, sequenceID string) (Investment, error) {
	key := InvestmentKey(address, propertyID)
	var inv Investment
	found, err := b.read(ctx, key, &inv)
	if err != nil {
		return Investment{}, err
	}
	if !found {
		inv = Investment{Address: normalize(address), PropertyID: strings.TrimSpace(propertyID), Total: id.NewAmount(nil, amount.Decimals)}
	}
	if inv.Total.Decimals != amount.Decimals {
		return Investment{}, fmt.Errorf("ledger entry %s uses %d decimals, got %d", key, inv.Total.Decimals, amount.Decimals)
	}
	sum := new(big.Int)
	if inv.Total.Base != nil {
		sum.Set(inv.Total.Base)
	}
	if amount.Base != nil {
		sum.Add(sum, amount.Base)
	}
	inv.Total = id.NewAmount(sum, amount.Decimals)
	inv.Count++
	inv.LastTxHash = txHash
	inv.UpdatedAt = b.now().UTC()
	if sequenceID != "" {
		inv.SequenceIDs = append(inv.SequenceIDs, sequenceID)
	}
	return inv, b.write(ctx, key, inv)
}

// RecordRentToOwn starts tracking an agreement. Re-recording the same
// (address, property) replaces the terms and resets progress.
func (b *Book) RecordRentToOwn(ctx context.Context, address, propertyID string, rto schedule.RentToOwnSchedule, txHash string) (RentToOwnProgress, error) {
	p := RentToOwnProgress{
		Address:                    normalize(address),
		PropertyID:                 strings.TrimSpace(propertyID),
		Landlord:                   rto.Landlord,
		MonthlyRent:                rto.MonthlyRent,
		TargetOwnershipBasisPoints: rto.TargetOwnershipBasisPoints,
		TargetMonths:               rto.TargetMonths,
		ScheduleTxHash:             txHash,
		CreatedAt:                  b.now().UTC(),
	}
	return p, b.write(ctx, RentToOwnKey(address, propertyID), p)
}

func (b *Book) Investments(ctx context.Context, address string) ([]Investment, error) {
	keys, err := b.store.Keys(ctx, investPrefix+normalize(address)+":")
	if err != nil {
		return nil, err
	}
	out := make([]Investment, 0, len(keys))
	for _, k := range keys {
		var inv Investment
		if ok, err := b.read(ctx, k, &inv); err != nil {
			return nil, err
		} else if ok {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (b *Book) RentToOwn(ctx context.Context, address string) ([]RentToOwnProgress, error) {
	keys, err := b.store.Keys(ctx, rtoPrefix+normalize(address)+":")
	if err != nil {
		return nil, err
	}
	out := make([]RentToOwnProgress, 0, len(keys))
	for _, k := range keys {
		var p RentToOwnProgress
		if ok, err := b.read(ctx, k, &p); err != nil {
			return nil, err
		} else if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *Book) read(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := b.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode ledger entry %s: %w", key, err)
	}
	return true, nil
}

func (b *Book) write(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode ledger entry %s: %w", key, err)
	}
	return b.store.Set(ctx, key, raw)
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
