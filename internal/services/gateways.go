package services

import (
	"context"

	"topup-backend/internal/models"

	"github.com/shopspring/decimal"
)

// LedgerGateway the off-chain ledger's operations. Every call may suspend.
type LedgerGateway interface {
	RecordDeposit(ctx context.Context, chainID int64, txHash, grantee string, cred models.Credential) error
	GetBalance(ctx context.Context, chainID int64, account string) (decimal.Decimal, error)
	ListSubscriptions(ctx context.Context) ([]models.Subscription, error)
	StartSubscription(ctx context.Context, chainID int64, subID string, cred models.Credential) error
	StopSubscription(ctx context.Context, chainID int64, subID string, cred models.Credential) error
	Withdraw(ctx context.Context, chainID int64, receiver string, cred models.Credential) error
	AllowedChains(ctx context.Context) ([]models.AllowedChain, error)
	ExecutionAddress(ctx context.Context, chainID int64) (string, error)
	IsWhitelisted(ctx context.Context, address string) (bool, error)
	Subscribe(ctx context.Context, sub models.SubscriptionRequest, cred models.Credential) (string, error)
	APIKeys(ctx context.Context, cred models.Credential) ([]models.APIKey, error)
	GenerateAPIKey(ctx context.Context, cred models.Credential) (string, error)
	RevokeAPIKey(ctx context.Context, apiKey string, cred models.Credential) error
	BaseFee(ctx context.Context) (decimal.Decimal, error)
}

// CredentialSource yields the current credential
type CredentialSource interface {
	Current() (models.Credential, error)
}

// DepositEventSink receives deposit phase transitions
type DepositEventSink interface {
	PublishDepositPhase(ctx context.Context, event models.DepositPhaseEvent) error
}
