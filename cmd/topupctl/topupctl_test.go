package main

import (
	"testing"

	"topup-backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flagKeys = []string{
	"chain", "amount", "token", "grantee", "type", "mine", "inactive", "chains", "search",
	"contract", "method", "frequency", "gas-limit", "pair", "random",
}

func resetFlags(t *testing.T) {
	t.Helper()
	for _, key := range flagKeys {
		v.Set(key, nil)
	}
	t.Cleanup(func() {
		for _, key := range flagKeys {
			v.Set(key, nil)
		}
	})
}

func TestTopUpRequestFromFlags(t *testing.T) {
	resetFlags(t)

	_, err := topUpRequestFromFlags()
	assert.Error(t, err, "chain is required")

	v.Set("chain", 42161)
	v.Set("amount", "2.5")
	v.Set("token", "USDC")
	req, err := topUpRequestFromFlags()
	require.NoError(t, err)
	assert.Equal(t, int64(42161), req.ChainID)
	assert.Equal(t, "2.5", req.Amount.String())
	assert.Equal(t, "USDC", req.TokenSymbol)

	v.Set("amount", "lots")
	_, err = topUpRequestFromFlags()
	assert.Error(t, err)
}

func TestFilterQueryFromFlags(t *testing.T) {
	resetFlags(t)

	v.Set("type", "random")
	v.Set("mine", true)
	v.Set("chains", []int{1, 42161})
	v.Set("search", "eth")

	q := filterQueryFromFlags()
	assert.Equal(t, "random", q.Get("type"))
	assert.Equal(t, "true", q.Get("showMine"))
	assert.Empty(t, q.Get("showInactive"))
	assert.Equal(t, "1,42161", q.Get("chainIds"))

	criteria, err := services.ParseFilterCriteria(q, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, services.KindRandom, criteria.Kind)
	assert.True(t, criteria.ShowMine)
	assert.Equal(t, []int64{1, 42161}, criteria.ChainIDs)
	assert.Equal(t, "eth", criteria.Search)
}

func TestSubscriptionRequestFromFlags(t *testing.T) {
	resetFlags(t)

	_, err := subscriptionRequestFromFlags()
	assert.Error(t, err)

	v.Set("chain", 42161)
	v.Set("contract", "0x00000000000000000000000000000000000000aa")
	v.Set("method", "update")
	v.Set("frequency", 3600)
	v.Set("gas-limit", 150000)
	_, err = subscriptionRequestFromFlags()
	assert.Error(t, err, "kind is required")

	v.Set("pair", "ETH/USD")
	req, err := subscriptionRequestFromFlags()
	require.NoError(t, err)
	assert.Equal(t, uint64(3600), req.Frequency)
	assert.Equal(t, uint64(150000), req.GasLimit)
	pair, ok := req.Kind.Pair()
	assert.True(t, ok)
	assert.Equal(t, "ETH/USD", pair)

	v.Set("random", true)
	req, err = subscriptionRequestFromFlags()
	require.NoError(t, err)
	assert.True(t, req.Kind.IsRandom())
}
