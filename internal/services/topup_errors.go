package services

import (
	"errors"
	"fmt"
)

// TopUpErrorKind failure class of a top-up
type TopUpErrorKind string

const (
	ErrKindInvalidRequest    TopUpErrorKind = "invalid_request"
	ErrKindChainSubmission   TopUpErrorKind = "chain_submission"
	ErrKindChainConfirmation TopUpErrorKind = "chain_confirmation"
	ErrKindLedgerRecord      TopUpErrorKind = "ledger_record"
)

// TopUpError the only error type returned by DepositReconciler
type TopUpError struct {
	Kind      TopUpErrorKind
	TxHash    string // set once the transfer was broadcast
	DepositID string
	Err       error
}

func (e *TopUpError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("top-up %s (tx %s): %v", e.Kind, e.TxHash, e.Err)
	}
	return fmt.Sprintf("top-up %s: %v", e.Kind, e.Err)
}

func (e *TopUpError) Unwrap() error {
	return e.Err
}

// UserMessage stable, user-facing message for the failure kind
func (e *TopUpError) UserMessage() string {
	switch e.Kind {
	case ErrKindInvalidRequest:
		return "The top-up request is invalid: " + e.Err.Error()
	case ErrKindChainSubmission:
		return "The transfer could not be submitted to the chain. No funds were moved."
	case ErrKindChainConfirmation:
		return fmt.Sprintf("The transfer %s was not confirmed on-chain. Check the transaction in a block explorer.", e.TxHash)
	case ErrKindLedgerRecord:
		return fmt.Sprintf("Your funds moved on-chain (tx %s) but were not yet credited. Retry recording the deposit.", e.TxHash)
	}
	return "The top-up failed."
}

// Retryable true when re-issuing only the ledger step can complete the top-up
func (e *TopUpError) Retryable() bool {
	return e.Kind == ErrKindLedgerRecord
}

// IsTopUpErrorKind reports whether err is a *TopUpError of kind
func IsTopUpErrorKind(err error, kind TopUpErrorKind) bool {
	var te *TopUpError
	return errors.As(err, &te) && te.Kind == kind
}

func invalidRequest(format string, args ...interface{}) *TopUpError {
	return &TopUpError{Kind: ErrKindInvalidRequest, Err: fmt.Errorf(format, args...)}
}
