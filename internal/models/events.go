package models

import (
	"time"

	"github.com/google/uuid"
)

// DepositPhaseEvent emitted on every deposit phase transition
type DepositPhaseEvent struct {
	EventID     string       `json:"event_id"`
	DepositID   string       `json:"deposit_id"`
	Account     string       `json:"account"`
	ChainID     int64        `json:"chain_id"`
	Phase       DepositPhase `json:"phase"`
	LastPhase   DepositPhase `json:"last_phase,omitempty"`
	TxHash      string       `json:"tx_hash,omitempty"`
	Amount      string       `json:"amount"`
	TokenSymbol string       `json:"token_symbol"`
	FailureKind string       `json:"failure_kind,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// NewDepositPhaseEvent snapshots d
func NewDepositPhaseEvent(d *Deposit, now time.Time) DepositPhaseEvent {
	return DepositPhaseEvent{
		EventID:     uuid.New().String(),
		DepositID:   d.ID,
		Account:     d.Account,
		ChainID:     d.ChainID,
		Phase:       d.Phase,
		LastPhase:   d.LastPhase,
		TxHash:      d.TxHash,
		Amount:      d.Amount.String(),
		TokenSymbol: d.TokenSymbol,
		FailureKind: d.FailureKind,
		Timestamp:   now,
	}
}
