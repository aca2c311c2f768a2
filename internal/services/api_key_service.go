package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"topup-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrAPIKeyNotFound = errors.New("api key not found")

// APIKeyService manages the current identity's ledger API keys
type APIKeyService struct {
	ledger   LedgerGateway
	identity CredentialSource
	logger   *logrus.Logger
}

func NewAPIKeyService(ledger LedgerGateway, identity CredentialSource, logger *logrus.Logger) *APIKeyService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &APIKeyService{ledger: ledger, identity: identity, logger: logger}
}

// List keys issued to the current identity
func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	cred, err := s.identity.Current()
	if err != nil {
		return nil, err
	}
	keys, err := s.ledger.APIKeys(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// Generate issues a new key. The ledger does not always echo the key back,
// so an empty string is a valid result; List shows it either way.
func (s *APIKeyService) Generate(ctx context.Context) (string, error) {
	cred, err := s.identity.Current()
	if err != nil {
		return "", err
	}
	key, err := s.ledger.GenerateAPIKey(ctx, cred)
	if err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	s.logger.WithField("address", cred.Address).Info("🔑 API key generated")
	return key, nil
}

// Revoke revokes one of the current identity's keys
func (s *APIKeyService) Revoke(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("%w: empty key", ErrAPIKeyNotFound)
	}
	cred, err := s.identity.Current()
	if err != nil {
		return err
	}
	keys, err := s.ledger.APIKeys(ctx, cred)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	owned := false
	for _, k := range keys {
		if k.Key == apiKey {
			owned = true
			break
		}
	}
	if !owned {
		return fmt.Errorf("%w: %s", ErrAPIKeyNotFound, apiKey)
	}
	if err := s.ledger.RevokeAPIKey(ctx, apiKey, cred); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	s.logger.WithField("address", cred.Address).Info("🗑️ API key revoked")
	return nil
}

// BaseFee per-request fee the ledger charges, in base units
func (s *APIKeyService) BaseFee(ctx context.Context) (decimal.Decimal, error) {
	fee, err := s.ledger.BaseFee(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("base fee: %w", err)
	}
	return fee, nil
}
