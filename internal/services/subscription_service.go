package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	"github.com/sirupsen/logrus"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNotSubscriptionOwner = errors.New("only the owner may change a subscription")
	ErrInvalidSubscription  = errors.New("invalid subscription request")
	ErrNotWhitelisted       = errors.New("address is not whitelisted for subscriptions")
)

// SubscriptionService reads and mutates ledger subscriptions on behalf of the current identity
type SubscriptionService struct {
	ledger   LedgerGateway
	identity CredentialSource
	logger   *logrus.Logger
	now      func() time.Time
}

func NewSubscriptionService(ledger LedgerGateway, identity CredentialSource, logger *logrus.Logger) *SubscriptionService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SubscriptionService{ledger: ledger, identity: identity, logger: logger, now: time.Now}
}

// List fetches every subscription, filters by criteria and derives schedule state
func (s *SubscriptionService) List(ctx context.Context, criteria FilterCriteria) ([]SubscriptionView, error) {
	subs, err := s.ledger.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if criteria.Viewer == "" {
		if cred, err := s.identity.Current(); err == nil {
			criteria.Viewer = cred.Address
		}
	}
	filtered := FilterSubscriptions(subs, criteria)
	views := BuildSubscriptionViews(filtered, criteria.Viewer, s.now())
	for _, v := range views {
		if !v.ScheduleValid {
			s.logger.WithFields(logrus.Fields{"subscription_id": v.ID, "frequency": v.Frequency}).Warn("⚠️ Subscription has an invalid frequency")
		}
	}
	return views, nil
}

// Get single subscription view by id
func (s *SubscriptionService) Get(ctx context.Context, id string) (SubscriptionView, error) {
	subs, err := s.ledger.ListSubscriptions(ctx)
	if err != nil {
		return SubscriptionView{}, fmt.Errorf("list subscriptions: %w", err)
	}
	viewer := ""
	if cred, err := s.identity.Current(); err == nil {
		viewer = cred.Address
	}
	for _, sub := range subs {
		if sub.ID == id {
			return BuildSubscriptionViews([]models.Subscription{sub}, viewer, s.now())[0], nil
		}
	}
	return SubscriptionView{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
}

// Subscribe registers a new recurring job owned by the current identity and
// returns its ledger id
func (s *SubscriptionService) Subscribe(ctx context.Context, req models.SubscriptionRequest) (string, error) {
	if err := validateSubscriptionRequest(&req); err != nil {
		return "", err
	}
	cred, err := s.identity.Current()
	if err != nil {
		return "", err
	}
	ok, err := s.ledger.IsWhitelisted(ctx, cred.Address)
	if err != nil {
		return "", fmt.Errorf("check whitelist: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotWhitelisted, cred.Address)
	}
	id, err := s.ledger.Subscribe(ctx, req, cred)
	if err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"subscription_id": id,
		"chain_id":        req.ChainID,
		"contract":        req.ContractAddress,
		"frequency":       req.Frequency,
	}).Info("✅ Subscription created")
	return id, nil
}

// validateSubscriptionRequest normalizes req in place
func validateSubscriptionRequest(req *models.SubscriptionRequest) error {
	if req.ChainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidSubscription)
	}
	if !utils.IsEvmAddress(req.ContractAddress) {
		return fmt.Errorf("%w: invalid contract address %q", ErrInvalidSubscription, req.ContractAddress)
	}
	req.ContractAddress = utils.NormalizeAddress(req.ContractAddress)
	req.Method = strings.TrimSpace(req.Method)
	if req.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidSubscription)
	}
	if req.Frequency < MinFrequency || req.Frequency > MaxFrequency {
		return fmt.Errorf("%w: frequency %d outside [%d, %d]", ErrInvalidFrequency, req.Frequency, MinFrequency, MaxFrequency)
	}
	if req.GasLimit == 0 {
		return fmt.Errorf("%w: gas limit must be positive", ErrInvalidSubscription)
	}
	switch req.Kind.Type {
	case models.MethodKindPrice:
		if strings.TrimSpace(req.Kind.PairID) == "" {
			return fmt.Errorf("%w: price subscriptions need a pair id", ErrInvalidSubscription)
		}
		req.Kind = models.PriceKind(strings.TrimSpace(req.Kind.PairID))
	case models.MethodKindRandom:
		req.Kind = models.RandomKind()
	default:
		return fmt.Errorf("%w: unknown method kind %q", ErrInvalidSubscription, req.Kind.Type)
	}
	return nil
}

// Start resumes a subscription owned by the current identity
func (s *SubscriptionService) Start(ctx context.Context, subID string) error {
	return s.mutate(ctx, subID, "start", s.ledger.StartSubscription)
}

// Stop pauses a subscription owned by the current identity
func (s *SubscriptionService) Stop(ctx context.Context, subID string) error {
	return s.mutate(ctx, subID, "stop", s.ledger.StopSubscription)
}

func (s *SubscriptionService) mutate(ctx context.Context, subID, action string,
	call func(context.Context, int64, string, models.Credential) error) error {
	cred, err := s.identity.Current()
	if err != nil {
		return err
	}
	view, err := s.Get(ctx, subID)
	if err != nil {
		return err
	}
	if !utils.SameAddress(view.Owner, cred.Address) {
		return ErrNotSubscriptionOwner
	}
	if err := call(ctx, view.ChainID, subID, cred); err != nil {
		return fmt.Errorf("%s subscription %s: %w", action, subID, err)
	}
	s.logger.WithFields(logrus.Fields{
		"subscription_id": subID,
		"chain_id":        view.ChainID,
		"action":          action,
	}).Info("✅ Subscription updated")
	return nil
}

// Withdraw sends the current identity's ledger balance on chainID to receiver
func (s *SubscriptionService) Withdraw(ctx context.Context, chainID int64, receiver string) error {
	if !utils.IsEvmAddress(receiver) {
		return fmt.Errorf("invalid receiver address %q", receiver)
	}
	cred, err := s.identity.Current()
	if err != nil {
		return err
	}
	if err := s.ledger.Withdraw(ctx, chainID, utils.NormalizeAddress(receiver), cred); err != nil {
		return fmt.Errorf("withdraw: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"chain_id": chainID, "receiver": receiver}).Info("✅ Withdrawal requested")
	return nil
}

// IsWhitelisted whether address may create subscriptions
func (s *SubscriptionService) IsWhitelisted(ctx context.Context, address string) (bool, error) {
	if !utils.IsEvmAddress(address) {
		return false, fmt.Errorf("invalid address %q", address)
	}
	return s.ledger.IsWhitelisted(ctx, utils.NormalizeAddress(address))
}
