package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"topup-backend/internal/config"
	"topup-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T, handler http.HandlerFunc) (*LedgerClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := NewLedgerClient(config.LedgerConfig{Endpoints: []string{srv.URL}, Timeout: 5}, logger)
	require.NoError(t, err)
	return c, srv
}

func TestResultEnvelope(t *testing.T) {
	var ok Result[string]
	require.NoError(t, json.Unmarshal([]byte(`{"Ok":"0xabc"}`), &ok))
	v, err := ok.Unwrap("x")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", v)

	var unit Result[Unit]
	require.NoError(t, json.Unmarshal([]byte(`{"Ok":null}`), &unit))
	assert.False(t, unit.IsErr())

	var failed Result[string]
	require.NoError(t, json.Unmarshal([]byte(`{"Err":"insufficient balance"}`), &failed))
	_, err = failed.Unwrap("withdraw")
	var lerr *LedgerError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "insufficient balance", lerr.Message)
	assert.Equal(t, "withdraw", lerr.Op)

	var neither Result[string]
	err = json.Unmarshal([]byte(`{"foo":1}`), &neither)
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestResultEnvelopeNullErrIsAbsent(t *testing.T) {
	var ok Result[string]
	require.NoError(t, json.Unmarshal([]byte(`{"Ok":"5","Err":null}`), &ok))
	assert.False(t, ok.IsErr())
	v, err := ok.Unwrap("balance")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	var onlyNull Result[string]
	err = json.Unmarshal([]byte(`{"Err":null}`), &onlyNull)
	assert.True(t, errors.Is(err, ErrMalformedEnvelope))
}

func TestRecordDepositSendsSignatureWithout0x(t *testing.T) {
	var got depositRequest
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/deposit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"Ok":null}`))
	})

	cred := models.Credential{Address: "0x01", Message: "hello", Signature: "0xdeadbeef"}
	err := c.RecordDeposit(context.Background(), 42161, "0xhash", "", cred)
	require.NoError(t, err)
	assert.Equal(t, int64(42161), got.ChainID)
	assert.Equal(t, "0xhash", got.TxHash)
	assert.Equal(t, "deadbeef", got.Sig)
	assert.Equal(t, "hello", got.Msg)
	assert.Empty(t, got.Grantee)
	assert.NotNil(t, got.Grantee)
}

func TestRecordDepositLedgerErr(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Err":"tx not found"}`))
	})
	err := c.RecordDeposit(context.Background(), 1, "0xhash", "0xgrantee", models.Credential{})
	var lerr *LedgerError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "tx not found", lerr.Message)
}

func TestNon2xxIsError(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	})
	_, err := c.GetBalance(context.Background(), 1, "0xabc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGetBalance(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance/0xabc", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("chain_id"))
		_, _ = w.Write([]byte(`{"Ok":"12.5"}`))
	})
	bal, err := c.GetBalance(context.Background(), 10, "0xabc")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(bal))
}

func TestListSubscriptionsDecodesWireShape(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Ok":[
			{"id":"1","owner":"0xAbCdEf0000000000000000000000000000000001","contract_addr":"0x00000000000000000000000000000000000000aa",
			 "frequency":"3600","status":{"is_active":true,"last_update":"1700000000","executions_counter":3},
			 "method":{"chain_id":"42161","name":"update","gas_limit":200000,"method_type":{"Pair":"ETH/USD"}}},
			{"id":2,"owner":"0x0000000000000000000000000000000000000002","contract_addr":"0x00000000000000000000000000000000000000bb",
			 "frequency":1800,"status":{"is_active":false,"last_update":1700000100,"executions_counter":"0"},
			 "method":{"chain_id":1,"name":"roll","gas_limit":"100000","method_type":{"Random":true}}}
		]}`))
	})
	subs, err := c.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "1", subs[0].ID)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", subs[0].Owner)
	assert.Equal(t, int64(42161), subs[0].ChainID)
	assert.Equal(t, uint64(3600), subs[0].Frequency)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), subs[0].Status.LastUpdate)
	pair, isPrice := subs[0].Method.Kind.Pair()
	assert.True(t, isPrice)
	assert.Equal(t, "ETH/USD", pair)

	assert.Equal(t, "2", subs[1].ID)
	assert.True(t, subs[1].Method.Kind.IsRandom())
	assert.Equal(t, uint64(100000), subs[1].Method.GasLimit)
}

func TestSelectEndpoint(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := NewLedgerClient(config.LedgerConfig{Endpoints: []string{"http://a", "http://b/"}}, logger)
	require.NoError(t, err)
	assert.Equal(t, "http://a", c.Endpoint())

	require.NoError(t, c.SelectEndpoint("http://b"))
	assert.Equal(t, "http://b", c.Endpoint())
	assert.Error(t, c.SelectEndpoint("http://c"))
	assert.Equal(t, "http://b", c.Endpoint())
}

func TestExecutionAddressAndWhitelist(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/execution_address":
			_, _ = w.Write([]byte(`{"Ok":"0x00000000000000000000000000000000000000AA"}`))
		case "/whitelist/0x01":
			_, _ = w.Write([]byte(`{"Ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	addr, err := c.ExecutionAddress(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", addr)

	ok, err := c.IsWhitelisted(context.Background(), "0x01")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSubscribeWireShape(t *testing.T) {
	var got map[string]interface{}
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscribe", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"Ok":17}`))
	})
	id, err := c.Subscribe(context.Background(), models.SubscriptionRequest{
		ChainID:         42161,
		ContractAddress: "0x00000000000000000000000000000000000000aa",
		Method:          "update(uint256)",
		Frequency:       3600,
		GasLimit:        200000,
		Kind:            models.PriceKind("ETH/USD"),
	}, models.Credential{Message: "m", Signature: "0xdead"})
	require.NoError(t, err)
	assert.Equal(t, "17", id)

	assert.Equal(t, "00000000000000000000000000000000000000aa", got["contract_addr"])
	assert.Equal(t, []interface{}{"ETH/USD"}, got["pair_id"])
	assert.Equal(t, []interface{}{float64(3600)}, got["frequency_condition"])
	assert.Equal(t, false, got["is_random"])
	assert.Equal(t, "dead", got["sig"])
	assert.Equal(t, []interface{}{}, got["price_mutation_condition"])
}

func TestSubscribeRandomSendsNoPair(t *testing.T) {
	var got subscribeRequest
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"Err":"not whitelisted"}`))
	})
	_, err := c.Subscribe(context.Background(), models.SubscriptionRequest{
		ChainID: 1, ContractAddress: "0x00000000000000000000000000000000000000aa", Method: "roll", Frequency: 1800, Kind: models.RandomKind(),
	}, models.Credential{})
	var lerr *LedgerError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, "not whitelisted", lerr.Message)
	assert.True(t, got.IsRandom)
	assert.Empty(t, got.PairID)
}

func TestAPIKeysDecodesTuples(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req credentialRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "beef", req.Sig)
		_, _ = w.Write([]byte(`{"Ok":[
			["k1",{"address":"0x00000000000000000000000000000000000000AA","banned_domains":["bad.example"],
			 "last_request":"1700000000","request_count":"12","request_count_today":2,"request_limit":1000,
			 "request_count_per_domain":{"app.example":"10"},"request_count_per_method":[["get_price",12]],
			 "request_limit_by_domain":null}]
		]}`))
	})
	keys, err := c.APIKeys(context.Background(), models.Credential{Message: "m", Signature: "0xbeef"})
	require.NoError(t, err)
	require.Len(t, keys, 1)
	k := keys[0]
	assert.Equal(t, "k1", k.Key)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", k.Owner)
	assert.Equal(t, []string{"bad.example"}, k.BannedDomains)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), k.LastRequest)
	assert.Equal(t, uint64(12), k.RequestCount)
	assert.Equal(t, uint64(2), k.RequestCountToday)
	assert.Equal(t, uint64(1000), k.RequestLimit)
	assert.Equal(t, map[string]uint64{"app.example": 10}, k.RequestCountPerDomain)
	assert.Equal(t, map[string]uint64{"get_price": 12}, k.RequestCountPerMethod)
	assert.Nil(t, k.RequestLimitByDomain)
}

func TestGenerateAndRevokeAPIKey(t *testing.T) {
	var revoked revokeKeyRequest
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api_keys/generate":
			_, _ = w.Write([]byte(`{"Ok":null}`))
		case "/api_keys/revoke":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&revoked))
			_, _ = w.Write([]byte(`{"Ok":null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	key, err := c.GenerateAPIKey(context.Background(), models.Credential{})
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, c.RevokeAPIKey(context.Background(), "k1", models.Credential{Message: "m", Signature: "0x01"}))
	assert.Equal(t, "k1", revoked.APIKey)
	assert.Equal(t, "01", revoked.Sig)
}

func TestBaseFee(t *testing.T) {
	c, _ := newTestLedger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/base_fee", r.URL.Path)
		_, _ = w.Write([]byte(`{"Ok":"1000000000000"}`))
	})
	fee, err := c.BaseFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000000", fee.String())
}
