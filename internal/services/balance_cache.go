package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/wunderlist/ttlcache"
)

// BalanceSource where balances come from
type BalanceSource interface {
	GetBalance(ctx context.Context, chainID int64, account string) (decimal.Decimal, error)
}

// BalanceCache advisory per-(chain, account) balance. Last writer wins.
type BalanceCache struct {
	source BalanceSource
	cache  *ttlcache.Cache

	mu       sync.Mutex
	inFlight map[string]int

	now func() time.Time
}

func NewBalanceCache(source BalanceSource, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &BalanceCache{
		source:   source,
		cache:    ttlcache.NewCache(ttl),
		inFlight: make(map[string]int),
		now:      time.Now,
	}
}

func balanceKey(chainID int64, account string) string {
	return fmt.Sprintf("%d:%s", chainID, utils.AddressKey(account))
}

// Get cached balance; Loading is set while a refresh is running
func (c *BalanceCache) Get(chainID int64, account string) (models.Balance, bool) {
	key := balanceKey(chainID, account)
	c.mu.Lock()
	loading := c.inFlight[key] > 0
	c.mu.Unlock()

	bal := models.Balance{ChainID: chainID, Account: utils.NormalizeAddress(account), Loading: loading}
	raw, found := c.cache.Get(key)
	if !found {
		return bal, false
	}
	if err := json.Unmarshal([]byte(raw), &bal); err != nil {
		return models.Balance{ChainID: chainID, Account: utils.NormalizeAddress(account), Loading: loading}, false
	}
	bal.Loading = loading
	return bal, true
}

// Refresh reads through to the source and stores the result
func (c *BalanceCache) Refresh(ctx context.Context, chainID int64, account string) (models.Balance, error) {
	key := balanceKey(chainID, account)
	c.mu.Lock()
	c.inFlight[key]++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.inFlight[key]--; c.inFlight[key] <= 0 {
			delete(c.inFlight, key)
		}
		c.mu.Unlock()
	}()

	amount, err := c.source.GetBalance(ctx, chainID, account)
	if err != nil {
		return models.Balance{}, err
	}
	bal := models.Balance{
		ChainID:   chainID,
		Account:   utils.NormalizeAddress(account),
		Amount:    amount,
		UpdatedAt: c.now(),
	}
	c.Set(bal)
	return bal, nil
}

// Fetch cached value, or a refresh on miss
func (c *BalanceCache) Fetch(ctx context.Context, chainID int64, account string) (models.Balance, error) {
	if bal, ok := c.Get(chainID, account); ok {
		return bal, nil
	}
	return c.Refresh(ctx, chainID, account)
}

// Set overwrites the cached value
func (c *BalanceCache) Set(bal models.Balance) {
	bal.Loading = false
	payload, err := json.Marshal(bal)
	if err != nil {
		return
	}
	c.cache.Set(balanceKey(bal.ChainID, bal.Account), string(payload))
}
