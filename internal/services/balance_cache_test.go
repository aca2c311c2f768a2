package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceCacheFetchReadsThroughOnce(t *testing.T) {
	ledger := newFakeLedger(nil)
	ledger.balances[ledgerKey(testChainID, testOtherAddr)] = decimal.RequireFromString("3.5")
	cache := NewBalanceCache(ledger, time.Minute)
	ctx := context.Background()

	_, cached := cache.Get(testChainID, testOtherAddr)
	assert.False(t, cached)

	bal, err := cache.Fetch(ctx, testChainID, testOtherAddr)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("3.5").Equal(bal.Amount))
	assert.False(t, bal.Loading)

	_, err = cache.Fetch(ctx, testChainID, "0x00000000000000000000000000000000000000BB")
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.balanceReadCount())
}

func TestBalanceCacheRefreshOverwrites(t *testing.T) {
	ledger := newFakeLedger(nil)
	cache := NewBalanceCache(ledger, time.Minute)
	ctx := context.Background()

	_, err := cache.Refresh(ctx, testChainID, testOtherAddr)
	require.NoError(t, err)

	ledger.balances[ledgerKey(testChainID, testOtherAddr)] = decimal.NewFromInt(9)
	_, err = cache.Refresh(ctx, testChainID, testOtherAddr)
	require.NoError(t, err)

	bal, ok := cache.Get(testChainID, testOtherAddr)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(9).Equal(bal.Amount))
}

func TestBalanceCacheRefreshErrorKeepsPreviousValue(t *testing.T) {
	ledger := newFakeLedger(nil)
	ledger.balances[ledgerKey(testChainID, testOtherAddr)] = decimal.NewFromInt(2)
	cache := NewBalanceCache(ledger, time.Minute)
	ctx := context.Background()

	_, err := cache.Refresh(ctx, testChainID, testOtherAddr)
	require.NoError(t, err)

	ledger.balanceErr = errors.New("ledger down")
	_, err = cache.Refresh(ctx, testChainID, testOtherAddr)
	require.Error(t, err)

	bal, ok := cache.Get(testChainID, testOtherAddr)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(2).Equal(bal.Amount))
	assert.False(t, bal.Loading)
}
