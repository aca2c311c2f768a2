package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChainToken token accepted by the ledger on a chain
type ChainToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// AllowedChain chain the ledger accepts deposits on
type AllowedChain struct {
	ChainID int64        `json:"chain_id"`
	Symbol  string       `json:"symbol"`
	Tokens  []ChainToken `json:"tokens"`
}

// Balance cached ledger balance for a (chain, account) pair
type Balance struct {
	ChainID   int64           `json:"chain_id"`
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Loading   bool            `json:"loading"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Low true when the balance is under the given threshold
func (b Balance) Low(threshold decimal.Decimal) bool {
	return b.Amount.LessThan(threshold)
}
