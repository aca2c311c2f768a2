package dto

import (
	"topup-backend/internal/models"
)

// ==================== Top-up DTOs ====================

// TopUpRequest POST /api/topups
type TopUpRequest struct {
	ChainID int64  `json:"chain_id" binding:"required"`
	Amount  string `json:"amount"`            // decimal string; empty = topup.defaultAmount
	Token   string `json:"token,omitempty"`   // symbol; empty = native currency
	Grantee string `json:"grantee,omitempty"` // credit a third party instead of the signer
}

// RecordExternalRequest POST /api/topups/record-external
type RecordExternalRequest struct {
	ChainID int64  `json:"chain_id" binding:"required"`
	TxHash  string `json:"tx_hash" binding:"required"`
}

// DepositResponse single deposit
type DepositResponse struct {
	Success bool            `json:"success"`
	Deposit *models.Deposit `json:"deposit"`
	Message string          `json:"message,omitempty"`
}

// DepositListResponse paged deposits of the caller
type DepositListResponse struct {
	Success  bool              `json:"success"`
	Deposits []*models.Deposit `json:"deposits"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// TopUpErrorResponse body of a failed top-up
type TopUpErrorResponse struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error"` // failure kind
	Message   string          `json:"message"`
	TxHash    string          `json:"tx_hash,omitempty"`
	DepositID string          `json:"deposit_id,omitempty"`
	Retryable bool            `json:"retryable"`
	Deposit   *models.Deposit `json:"deposit,omitempty"`
}

// BalanceResponse ledger balance of an account on a chain
type BalanceResponse struct {
	Success    bool           `json:"success"`
	Balance    models.Balance `json:"balance"`
	Low        bool           `json:"low"`
	MinBalance string         `json:"min_balance"`
	Cached     bool           `json:"cached"`
}

// LedgerEndpointRequest PUT /api/ledger/endpoint
type LedgerEndpointRequest struct {
	URL string `json:"url" binding:"required"`
}

// LedgerEndpointResponse selected ledger endpoint and the alternatives
type LedgerEndpointResponse struct {
	Success   bool     `json:"success"`
	Selected  string   `json:"selected"`
	Endpoints []string `json:"endpoints"`
}
