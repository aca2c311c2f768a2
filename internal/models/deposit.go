package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositPhase lifecycle phase of a top-up
type DepositPhase string

const (
	DepositPhasePending   DepositPhase = "pending"   // created, nothing broadcast yet
	DepositPhaseSubmitted DepositPhase = "submitted" // tx broadcast, TxHash known
	DepositPhaseConfirmed DepositPhase = "confirmed" // chain finality reached
	DepositPhaseRecorded  DepositPhase = "recorded"  // ledger accepted the deposit (terminal)
	DepositPhaseFailed    DepositPhase = "failed"    // see LastPhase for where it stopped
)

// Deposit one top-up attempt
type Deposit struct {
	ID            string          `json:"id" gorm:"primaryKey;type:varchar(36)"` // UUID
	Account       string          `json:"account" gorm:"type:varchar(42);not null;index:idx_deposit_account"`
	ChainID       int64           `json:"chain_id" gorm:"not null;index:idx_deposit_chain_tx"`
	Amount        decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	TokenSymbol   string          `json:"token_symbol" gorm:"type:varchar(16)"`
	TokenContract string          `json:"token_contract,omitempty" gorm:"type:varchar(42)"` // empty = native
	ToAddress     string          `json:"to_address" gorm:"type:varchar(42)"`
	Grantee       string          `json:"grantee,omitempty" gorm:"type:varchar(42)"`
	TxHash        string          `json:"tx_hash,omitempty" gorm:"type:varchar(66);index:idx_deposit_chain_tx"`

	Phase       DepositPhase `json:"phase" gorm:"type:varchar(16);not null;default:pending;index"`
	LastPhase   DepositPhase `json:"last_phase,omitempty" gorm:"type:varchar(16)"`
	FailureKind string       `json:"failure_kind,omitempty" gorm:"type:varchar(32)"`
	LastError   string       `json:"last_error,omitempty" gorm:"type:text"`
	Reverted    bool         `json:"reverted" gorm:"default:false"`

	RecordAttempts int `json:"record_attempts" gorm:"default:0"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	RecordedAt  *time.Time `json:"recorded_at,omitempty"`
}

func (Deposit) TableName() string {
	return "deposits"
}

// Advance moves the deposit to the next phase and clears failure state
func (d *Deposit) Advance(phase DepositPhase, now time.Time) {
	d.Phase = phase
	d.LastPhase = ""
	d.FailureKind = ""
	d.LastError = ""
	switch phase {
	case DepositPhaseSubmitted:
		d.SubmittedAt = &now
	case DepositPhaseRecorded:
		d.RecordedAt = &now
	}
}

// Fail marks the deposit failed, retaining the phase it had reached
func (d *Deposit) Fail(kind string, err error) {
	if d.Phase != DepositPhaseFailed {
		d.LastPhase = d.Phase
	}
	d.Phase = DepositPhaseFailed
	d.FailureKind = kind
	if err != nil {
		d.LastError = err.Error()
	}
}

// Resume puts a failed deposit back into the phase it had reached
func (d *Deposit) Resume() {
	if d.Phase != DepositPhaseFailed {
		return
	}
	d.Phase = d.LastPhase
	d.LastPhase = ""
	d.FailureKind = ""
	d.LastError = ""
}

// ReachedPhase phase the deposit got to, looking through a failure
func (d *Deposit) ReachedPhase() DepositPhase {
	if d.Phase == DepositPhaseFailed {
		return d.LastPhase
	}
	return d.Phase
}

// IsNative true when the transfer moved the chain's native currency
func (d *Deposit) IsNative() bool {
	return d.TokenContract == ""
}

// Resumable funds may have moved on-chain but the ledger has not credited them
func (d *Deposit) Resumable() bool {
	if d.TxHash == "" || d.Reverted {
		return false
	}
	switch d.ReachedPhase() {
	case DepositPhaseSubmitted, DepositPhaseConfirmed:
		return true
	}
	return false
}
