package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/metrics"
	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LedgerClient HTTP client for the off-chain ledger service
type LedgerClient struct {
	mu         sync.RWMutex
	endpoints  []string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewLedgerClient creates a ledger client bound to the configured endpoint
func NewLedgerClient(cfg config.LedgerConfig, logger *logrus.Logger) (*LedgerClient, error) {
	baseURL := cfg.SelectedEndpoint()
	if baseURL == "" {
		return nil, fmt.Errorf("no ledger endpoint configured")
	}
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{baseURL}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LedgerClient{
		endpoints:  append([]string(nil), endpoints...),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Endpoint currently selected base URL
func (c *LedgerClient) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Endpoints selectable base URLs
func (c *LedgerClient) Endpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.endpoints...)
}

// SelectEndpoint switches subsequent calls to another configured endpoint
func (c *LedgerClient) SelectEndpoint(endpoint string) error {
	endpoint = strings.TrimRight(endpoint, "/")
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.endpoints {
		if strings.TrimRight(e, "/") == endpoint {
			c.logger.WithFields(logrus.Fields{"from": c.baseURL, "to": endpoint}).Info("🔀 Ledger endpoint switched")
			c.baseURL = endpoint
			return nil
		}
	}
	return fmt.Errorf("ledger endpoint %q is not configured", endpoint)
}

// RecordDeposit asks the ledger to credit the deposit identified by txHash
func (c *LedgerClient) RecordDeposit(ctx context.Context, chainID int64, txHash, grantee string, cred models.Credential) error {
	req := depositRequest{
		ChainID: chainID,
		TxHash:  txHash,
		Grantee: []string{},
		Msg:     cred.Message,
		Sig:     utils.Strip0x(cred.Signature),
	}
	if grantee != "" {
		req.Grantee = []string{grantee}
	}
	var res Result[Unit]
	if err := c.do(ctx, "deposit", http.MethodPost, "/deposit", req, &res); err != nil {
		return err
	}
	_, err := res.Unwrap("deposit")
	return err
}

// GetBalance balance of account on chainID
func (c *LedgerClient) GetBalance(ctx context.Context, chainID int64, account string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/balance/%s?chain_id=%d", url.PathEscape(account), chainID)
	var res Result[decimal.Decimal]
	if err := c.do(ctx, "balance", http.MethodGet, path, nil, &res); err != nil {
		return decimal.Zero, err
	}
	return res.Unwrap("balance")
}

// ListSubscriptions every subscription known to the ledger
func (c *LedgerClient) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var res Result[[]subscriptionWire]
	if err := c.do(ctx, "subscriptions", http.MethodGet, "/subscriptions", nil, &res); err != nil {
		return nil, err
	}
	wires, err := res.Unwrap("subscriptions")
	if err != nil {
		return nil, err
	}
	subs := make([]models.Subscription, 0, len(wires))
	for _, w := range wires {
		subs = append(subs, w.toModel())
	}
	return subs, nil
}

// StartSubscription resumes a stopped subscription
func (c *LedgerClient) StartSubscription(ctx context.Context, chainID int64, subID string, cred models.Credential) error {
	return c.subscriptionAction(ctx, "start", chainID, subID, cred)
}

// StopSubscription pauses a subscription
func (c *LedgerClient) StopSubscription(ctx context.Context, chainID int64, subID string, cred models.Credential) error {
	return c.subscriptionAction(ctx, "stop", chainID, subID, cred)
}

func (c *LedgerClient) subscriptionAction(ctx context.Context, action string, chainID int64, subID string, cred models.Credential) error {
	req := subscriptionActionRequest{
		ChainID: chainID,
		SubID:   subID,
		Msg:     cred.Message,
		Sig:     utils.Strip0x(cred.Signature),
	}
	op := "subscriptions/" + action
	var res Result[Unit]
	if err := c.do(ctx, op, http.MethodPost, "/"+op, req, &res); err != nil {
		return err
	}
	_, err := res.Unwrap(op)
	return err
}

// Withdraw moves the account's ledger balance on chainID to receiver
func (c *LedgerClient) Withdraw(ctx context.Context, chainID int64, receiver string, cred models.Credential) error {
	req := withdrawRequest{
		ChainID:  chainID,
		Receiver: receiver,
		Msg:      cred.Message,
		Sig:      utils.Strip0x(cred.Signature),
	}
	var res Result[Unit]
	if err := c.do(ctx, "withdraw", http.MethodPost, "/withdraw", req, &res); err != nil {
		return err
	}
	_, err := res.Unwrap("withdraw")
	return err
}

// Subscribe registers a recurring job and returns the ledger's subscription id
func (c *LedgerClient) Subscribe(ctx context.Context, sub models.SubscriptionRequest, cred models.Credential) (string, error) {
	req := subscribeRequest{
		ChainID:                sub.ChainID,
		PairID:                 []string{},
		ContractAddr:           utils.Strip0x(sub.ContractAddress),
		MethodABI:              sub.Method,
		FrequencyCondition:     []uint64{sub.Frequency},
		IsRandom:               sub.Kind.IsRandom(),
		GasLimit:               sub.GasLimit,
		Msg:                    cred.Message,
		Sig:                    utils.Strip0x(cred.Signature),
		PriceMutationCondition: []json.RawMessage{},
	}
	if pair, ok := sub.Kind.Pair(); ok {
		req.PairID = []string{pair}
	}
	var res Result[flexString]
	if err := c.do(ctx, "subscribe", http.MethodPost, "/subscribe", req, &res); err != nil {
		return "", err
	}
	id, err := res.Unwrap("subscribe")
	return string(id), err
}

// APIKeys keys issued to the credential's address
func (c *LedgerClient) APIKeys(ctx context.Context, cred models.Credential) ([]models.APIKey, error) {
	req := credentialRequest{Msg: cred.Message, Sig: utils.Strip0x(cred.Signature)}
	var res Result[[]apiKeyEntry]
	if err := c.do(ctx, "api_keys", http.MethodPost, "/api_keys", req, &res); err != nil {
		return nil, err
	}
	entries, err := res.Unwrap("api_keys")
	if err != nil {
		return nil, err
	}
	keys := make([]models.APIKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.toModel())
	}
	return keys, nil
}

// GenerateAPIKey issues a new key; the ledger may answer without echoing it
func (c *LedgerClient) GenerateAPIKey(ctx context.Context, cred models.Credential) (string, error) {
	req := credentialRequest{Msg: cred.Message, Sig: utils.Strip0x(cred.Signature)}
	var res Result[flexString]
	if err := c.do(ctx, "api_keys/generate", http.MethodPost, "/api_keys/generate", req, &res); err != nil {
		return "", err
	}
	key, err := res.Unwrap("api_keys/generate")
	return string(key), err
}

// RevokeAPIKey revokes one of the credential's keys
func (c *LedgerClient) RevokeAPIKey(ctx context.Context, apiKey string, cred models.Credential) error {
	req := revokeKeyRequest{APIKey: apiKey, Msg: cred.Message, Sig: utils.Strip0x(cred.Signature)}
	var res Result[Unit]
	if err := c.do(ctx, "api_keys/revoke", http.MethodPost, "/api_keys/revoke", req, &res); err != nil {
		return err
	}
	_, err := res.Unwrap("api_keys/revoke")
	return err
}

// BaseFee per-request fee charged against ledger balances, in base units
func (c *LedgerClient) BaseFee(ctx context.Context) (decimal.Decimal, error) {
	var res Result[decimal.Decimal]
	if err := c.do(ctx, "base_fee", http.MethodGet, "/base_fee", nil, &res); err != nil {
		return decimal.Zero, err
	}
	return res.Unwrap("base_fee")
}

// AllowedChains chains and tokens the ledger accepts deposits for
func (c *LedgerClient) AllowedChains(ctx context.Context) ([]models.AllowedChain, error) {
	var res Result[[]models.AllowedChain]
	if err := c.do(ctx, "allowed_chains", http.MethodGet, "/allowed_chains", nil, &res); err != nil {
		return nil, err
	}
	return res.Unwrap("allowed_chains")
}

// ExecutionAddress collection address deposits must be sent to on chainID
func (c *LedgerClient) ExecutionAddress(ctx context.Context, chainID int64) (string, error) {
	var res Result[string]
	path := "/execution_address?chain_id=" + strconv.FormatInt(chainID, 10)
	if err := c.do(ctx, "execution_address", http.MethodGet, path, nil, &res); err != nil {
		return "", err
	}
	addr, err := res.Unwrap("execution_address")
	if err != nil {
		return "", err
	}
	return utils.NormalizeAddress(addr), nil
}

// IsWhitelisted whether address may create subscriptions
func (c *LedgerClient) IsWhitelisted(ctx context.Context, address string) (bool, error) {
	var res Result[bool]
	if err := c.do(ctx, "whitelist", http.MethodGet, "/whitelist/"+url.PathEscape(address), nil, &res); err != nil {
		return false, err
	}
	return res.Unwrap("whitelist")
}

func (c *LedgerClient) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.Endpoint()
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.LedgerRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		c.logger.WithFields(logrus.Fields{"op": op, "endpoint": endpoint, "error": err}).Warn("❌ Ledger request failed")
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues(op, "transport_error").Inc()
		return fmt.Errorf("ledger %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.LedgerRequestsTotal.WithLabelValues(op, "http_error").Inc()
		return fmt.Errorf("ledger %s: status %d: %s", op, resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues(op, "malformed").Inc()
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	if r, ok := out.(interface{ IsErr() bool }); ok && r.IsErr() {
		metrics.LedgerRequestsTotal.WithLabelValues(op, "rejected").Inc()
	} else {
		metrics.LedgerRequestsTotal.WithLabelValues(op, "ok").Inc()
	}

	c.logger.WithFields(logrus.Fields{
		"op":       op,
		"endpoint": endpoint,
		"status":   resp.StatusCode,
		"elapsed":  time.Since(start).String(),
	}).Debug("🔍 Ledger request completed")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
