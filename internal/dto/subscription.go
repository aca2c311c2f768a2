package dto

import "topup-backend/internal/models"

// WithdrawRequest POST /api/withdraw
type WithdrawRequest struct {
	ChainID  int64  `json:"chain_id" binding:"required"`
	Receiver string `json:"receiver" binding:"required"`
}

// WhitelistResponse GET /api/whitelist/:address
type WhitelistResponse struct {
	Success     bool   `json:"success"`
	Address     string `json:"address"`
	Whitelisted bool   `json:"whitelisted"`
}

// SubscribeRequest POST /api/subscriptions
type SubscribeRequest struct {
	ChainID         int64  `json:"chain_id" binding:"required"`
	ContractAddress string `json:"contract_address" binding:"required"`
	Method          string `json:"method" binding:"required"`
	Frequency       uint64 `json:"frequency" binding:"required"` // seconds
	GasLimit        uint64 `json:"gas_limit" binding:"required"`
	IsRandom        bool   `json:"is_random"`
	PairID          string `json:"pair_id,omitempty"` // required unless is_random
}

// SubscribeResponse created subscription id
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// ==================== API key DTOs ====================

// APIKeyListResponse GET /api/api-keys
type APIKeyListResponse struct {
	Success bool            `json:"success"`
	Keys    []models.APIKey `json:"keys"`
	Count   int             `json:"count"`
}

// BaseFeeResponse GET /api/base-fee
type BaseFeeResponse struct {
	Success bool   `json:"success"`
	BaseFee string `json:"base_fee"` // base units
}
