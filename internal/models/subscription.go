package models

import (
	"math"
	"time"
)

// MethodKindType discriminator of a subscription's method kind
type MethodKindType string

const (
	MethodKindPrice  MethodKindType = "price"
	MethodKindRandom MethodKindType = "random"
)

// MethodKind tagged variant: Price(pairID) or Random
type MethodKind struct {
	Type   MethodKindType `json:"type"`
	PairID string         `json:"pair_id,omitempty"` // set only for price
}

// PriceKind builds the Price(pairID) variant
func PriceKind(pairID string) MethodKind {
	return MethodKind{Type: MethodKindPrice, PairID: pairID}
}

// RandomKind builds the Random variant
func RandomKind() MethodKind {
	return MethodKind{Type: MethodKindRandom}
}

// Pair returns the pair id and whether the kind is Price
func (k MethodKind) Pair() (string, bool) {
	if k.Type != MethodKindPrice {
		return "", false
	}
	return k.PairID, true
}

func (k MethodKind) IsRandom() bool {
	return k.Type == MethodKindRandom
}

// SubscriptionStatus execution state tracked by the ledger
type SubscriptionStatus struct {
	IsActive          bool      `json:"is_active"`
	LastUpdate        time.Time `json:"last_update"`
	ExecutionsCounter uint64    `json:"executions_counter"`
}

// SubscriptionMethod callee method on the target chain
type SubscriptionMethod struct {
	Name     string     `json:"name"`
	GasLimit uint64     `json:"gas_limit"`
	Kind     MethodKind `json:"kind"`
}

// Subscription read-only mirror of a recurring on-chain job owned by the ledger
type Subscription struct {
	ID              string             `json:"id"`
	Owner           string             `json:"owner"`
	ContractAddress string             `json:"contract_address"`
	ChainID         int64              `json:"chain_id"`
	Status          SubscriptionStatus `json:"status"`
	Method          SubscriptionMethod `json:"method"`
	Frequency       uint64             `json:"frequency"` // seconds
}

// MaxDurationSeconds longest frequency a time.Duration can represent
const MaxDurationSeconds = uint64(math.MaxInt64 / int64(time.Second))

// FrequencyDuration frequency as a time.Duration; false when zero or too
// large to represent
func (s Subscription) FrequencyDuration() (time.Duration, bool) {
	if s.Frequency == 0 || s.Frequency > MaxDurationSeconds {
		return 0, false
	}
	return time.Duration(s.Frequency) * time.Second, true
}

// SubscriptionRequest new recurring job to register with the ledger
type SubscriptionRequest struct {
	ChainID         int64      `json:"chain_id"`
	ContractAddress string     `json:"contract_address"`
	Method          string     `json:"method"`
	Frequency       uint64     `json:"frequency"` // seconds
	GasLimit        uint64     `json:"gas_limit"`
	Kind            MethodKind `json:"kind"`
}
