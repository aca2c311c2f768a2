package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"sync"
	"time"

	"topup-backend/internal/models"
	"topup-backend/internal/repository"
	"topup-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeChain settles transfers instantly unless block is set; the ledger fake
// reads them back
type fakeChain struct {
	mu        sync.Mutex
	sender    string
	submitErr error
	waitErr   error
	status    ConfirmationStatus
	decimals  uint8
	nextNonce int

	// when block is non-nil, confirmation waits signal waiting and hold until block closes
	block   chan struct{}
	waiting chan string

	submitted []TransferRequest
	transfers map[string]*big.Int
	waits     []string
	calls     []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{status: ConfirmationConfirmed, decimals: 6, transfers: make(map[string]*big.Int)}
}

func (c *fakeChain) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, req)
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.nextNonce++
	hash := fmt.Sprintf("0x%064x", c.nextNonce)
	c.transfers[hash] = new(big.Int).Set(req.Amount)
	return hash, nil
}

func (c *fakeChain) WaitForConfirmation(ctx context.Context, chainID int64, txHash string) (ConfirmationStatus, error) {
	c.mu.Lock()
	c.waits = append(c.waits, txHash)
	waitErr, status, block, waiting := c.waitErr, c.status, c.block, c.waiting
	c.mu.Unlock()
	if block != nil {
		if waiting != nil {
			waiting <- txHash
		}
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if waitErr != nil {
		return "", waitErr
	}
	return status, nil
}

func (c *fakeChain) CallContract(ctx context.Context, chainID int64, contract, abiJSON, method string, args ...interface{}) ([]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method)
	if method == "decimals" {
		return []interface{}{c.decimals}, nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (c *fakeChain) SenderAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender
}

func (c *fakeChain) waitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waits)
}

func (c *fakeChain) transferAmount(txHash string) (*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.transfers[txHash]
	return v, ok
}

type recordCall struct {
	ChainID int64
	TxHash  string
	Grantee string
	Cred    models.Credential
}

// fakeLedger credits balances from the transfers the chain fake has seen
type fakeLedger struct {
	mu           sync.Mutex
	chain        *fakeChain
	decimals     uint8
	recordErr    error
	balanceErr   error
	balances     map[string]decimal.Decimal
	records      []recordCall
	balanceReads int
	subs         []models.Subscription
	started      []string
	stopped      []string
	withdrawals  []string
	execAddress  string
	whitelisted  map[string]bool
	credited     map[string]bool

	subscribed []models.SubscriptionRequest
	apiKeys    map[string][]models.APIKey // owner key -> keys
	revoked    []string
	baseFee    decimal.Decimal
	nextKey    int
}

func newFakeLedger(chain *fakeChain) *fakeLedger {
	return &fakeLedger{
		chain:       chain,
		decimals:    6,
		balances:    make(map[string]decimal.Decimal),
		whitelisted: make(map[string]bool),
		credited:    make(map[string]bool),
		apiKeys:     make(map[string][]models.APIKey),
	}
}

func ledgerKey(chainID int64, account string) string {
	return fmt.Sprintf("%d:%s", chainID, utils.AddressKey(account))
}

func (l *fakeLedger) RecordDeposit(ctx context.Context, chainID int64, txHash, grantee string, cred models.Credential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recordCall{ChainID: chainID, TxHash: txHash, Grantee: grantee, Cred: cred})
	if l.recordErr != nil {
		return l.recordErr
	}
	if l.credited[txHash] {
		return nil
	}
	account := cred.Address
	if grantee != "" {
		account = grantee
	}
	if l.chain != nil {
		if units, ok := l.chain.transferAmount(txHash); ok {
			key := ledgerKey(chainID, account)
			l.balances[key] = l.balances[key].Add(utils.FromBaseUnits(units, l.decimals))
		}
	}
	l.credited[txHash] = true
	return nil
}

func (l *fakeLedger) GetBalance(ctx context.Context, chainID int64, account string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceReads++
	if l.balanceErr != nil {
		return decimal.Zero, l.balanceErr
	}
	return l.balances[ledgerKey(chainID, account)], nil
}

func (l *fakeLedger) ListSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Subscription(nil), l.subs...), nil
}

func (l *fakeLedger) StartSubscription(ctx context.Context, chainID int64, subID string, cred models.Credential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, subID)
	return nil
}

func (l *fakeLedger) StopSubscription(ctx context.Context, chainID int64, subID string, cred models.Credential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = append(l.stopped, subID)
	return nil
}

func (l *fakeLedger) Withdraw(ctx context.Context, chainID int64, receiver string, cred models.Credential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withdrawals = append(l.withdrawals, receiver)
	return nil
}

func (l *fakeLedger) AllowedChains(ctx context.Context) ([]models.AllowedChain, error) {
	return []models.AllowedChain{{ChainID: 42161, Symbol: "ETH"}}, nil
}

func (l *fakeLedger) ExecutionAddress(ctx context.Context, chainID int64) (string, error) {
	if l.execAddress == "" {
		return "", errors.New("no execution address")
	}
	return l.execAddress, nil
}

func (l *fakeLedger) IsWhitelisted(ctx context.Context, address string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.whitelisted[address], nil
}

func (l *fakeLedger) Subscribe(ctx context.Context, sub models.SubscriptionRequest, cred models.Credential) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribed = append(l.subscribed, sub)
	return fmt.Sprintf("%d", len(l.subscribed)), nil
}

func (l *fakeLedger) APIKeys(ctx context.Context, cred models.Credential) ([]models.APIKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.APIKey(nil), l.apiKeys[utils.AddressKey(cred.Address)]...), nil
}

func (l *fakeLedger) GenerateAPIKey(ctx context.Context, cred models.Credential) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextKey++
	key := fmt.Sprintf("key-%d", l.nextKey)
	owner := utils.AddressKey(cred.Address)
	l.apiKeys[owner] = append(l.apiKeys[owner], models.APIKey{Key: key, Owner: cred.Address})
	return key, nil
}

func (l *fakeLedger) RevokeAPIKey(ctx context.Context, apiKey string, cred models.Credential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner := utils.AddressKey(cred.Address)
	kept := l.apiKeys[owner][:0]
	for _, k := range l.apiKeys[owner] {
		if k.Key != apiKey {
			kept = append(kept, k)
		}
	}
	l.apiKeys[owner] = kept
	l.revoked = append(l.revoked, apiKey)
	return nil
}

func (l *fakeLedger) BaseFee(ctx context.Context) (decimal.Decimal, error) {
	return l.baseFee, nil
}

func (l *fakeLedger) recordCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *fakeLedger) balanceReadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceReads
}

// memDepositRepo in-memory DepositRepository
type memDepositRepo struct {
	mu       sync.Mutex
	deposits map[string]models.Deposit
	saveErr  error
}

func newMemDepositRepo() *memDepositRepo {
	return &memDepositRepo{deposits: make(map[string]models.Deposit)}
}

func (m *memDepositRepo) Create(ctx context.Context, d *models.Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.deposits[d.ID] = *d
	return nil
}

func (m *memDepositRepo) Save(ctx context.Context, d *models.Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.deposits[d.ID] = *d
	return nil
}

func (m *memDepositRepo) GetByID(ctx context.Context, id string) (*models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deposits[id]
	if !ok {
		return nil, repository.ErrDepositNotFound
	}
	return &d, nil
}

func (m *memDepositRepo) FindByTxHash(ctx context.Context, chainID int64, txHash string) (*models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deposits {
		if d.ChainID == chainID && d.TxHash == txHash {
			d := d
			return &d, nil
		}
	}
	return nil, repository.ErrDepositNotFound
}

func (m *memDepositRepo) FindByAccount(ctx context.Context, account string, page, limit int) ([]*models.Deposit, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Deposit
	for _, d := range m.deposits {
		if d.Account == account {
			d := d
			out = append(out, &d)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memDepositRepo) FindResumable(ctx context.Context, account string, since time.Time) ([]*models.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Deposit
	for _, d := range m.deposits {
		if !d.Resumable() {
			continue
		}
		if account != "" && d.Account != account {
			continue
		}
		if !since.IsZero() && d.CreatedAt.Before(since) {
			continue
		}
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memDepositRepo) get(id string) models.Deposit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deposits[id]
}

// recordingSink collects published events
type recordingSink struct {
	mu     sync.Mutex
	events []models.DepositPhaseEvent
	err    error
}

func (s *recordingSink) PublishDepositPhase(ctx context.Context, event models.DepositPhaseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) phases() []models.DepositPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DepositPhase, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Phase)
	}
	return out
}
