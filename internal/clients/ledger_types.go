package clients

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"topup-backend/internal/models"
	"topup-backend/internal/utils"
)

// ErrMalformedEnvelope response carried neither Ok nor Err
var ErrMalformedEnvelope = errors.New("malformed ledger envelope")

// LedgerError the ledger answered with a populated Err
type LedgerError struct {
	Op      string
	Message string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s rejected: %s", e.Op, e.Message)
}

// Unit payload of calls whose Ok carries nothing
type Unit struct{}

// Result typed {Ok: T} | {Err: string} envelope.
// The Ok payload is only decoded when Err is absent.
type Result[T any] struct {
	value T
	err   string
	isErr bool
}

// Ok builds a success envelope
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err builds a failure envelope
func Err[T any](msg string) Result[T] {
	return Result[T]{err: msg, isErr: true}
}

func (r Result[T]) IsErr() bool {
	return r.isErr
}

// Unwrap returns the Ok payload or a *LedgerError tagged with op
func (r Result[T]) Unwrap(op string) (T, error) {
	if r.isErr {
		var zero T
		return zero, &LedgerError{Op: op, Message: r.err}
	}
	return r.value, nil
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.isErr {
		return json.Marshal(map[string]string{"Err": r.err})
	}
	return json.Marshal(map[string]T{"Ok": r.value})
}

func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if errRaw, has := raw["Err"]; has && !isNull(errRaw) {
		var msg string
		if err := json.Unmarshal(errRaw, &msg); err != nil {
			// Err may be a structured value
			msg = string(errRaw)
		}
		*r = Result[T]{err: msg, isErr: true}
		return nil
	}
	okRaw, has := raw["Ok"]
	if !has {
		return ErrMalformedEnvelope
	}
	*r = Result[T]{}
	if isNull(okRaw) {
		return nil
	}
	if err := json.Unmarshal(okRaw, &r.value); err != nil {
		return fmt.Errorf("%w: Ok payload: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// isNull empty or JSON null; both mean the field is absent
func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// flexUint accepts both JSON numbers and decimal strings (bigints arrive quoted)
type flexUint uint64

func (f *flexUint) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s: %w", data, err)
	}
	*f = flexUint(v)
	return nil
}

// flexString accepts both JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}

type subscriptionWire struct {
	ID           flexString `json:"id"`
	Owner        string     `json:"owner"`
	ContractAddr string     `json:"contract_addr"`
	Frequency    flexUint   `json:"frequency"`
	Status       struct {
		IsActive          bool     `json:"is_active"`
		LastUpdate        flexUint `json:"last_update"` // unix seconds
		ExecutionsCounter flexUint `json:"executions_counter"`
	} `json:"status"`
	Method struct {
		ChainID    flexUint `json:"chain_id"`
		Name       string   `json:"name"`
		GasLimit   flexUint `json:"gas_limit"`
		MethodType struct {
			Pair   *string         `json:"Pair"`
			Random json.RawMessage `json:"Random"`
		} `json:"method_type"`
	} `json:"method"`
}

func (w subscriptionWire) toModel() models.Subscription {
	sub := models.Subscription{
		ID:              string(w.ID),
		Owner:           utils.NormalizeAddress(w.Owner),
		ContractAddress: utils.NormalizeAddress(w.ContractAddr),
		ChainID:         int64(w.Method.ChainID),
		Frequency:       uint64(w.Frequency),
		Status: models.SubscriptionStatus{
			IsActive:          w.Status.IsActive,
			LastUpdate:        time.Unix(int64(w.Status.LastUpdate), 0).UTC(),
			ExecutionsCounter: uint64(w.Status.ExecutionsCounter),
		},
		Method: models.SubscriptionMethod{
			Name:     w.Method.Name,
			GasLimit: uint64(w.Method.GasLimit),
		},
	}
	switch {
	case w.Method.MethodType.Pair != nil:
		sub.Method.Kind = models.PriceKind(*w.Method.MethodType.Pair)
	case !isNull(w.Method.MethodType.Random):
		sub.Method.Kind = models.RandomKind()
	}
	return sub
}

type depositRequest struct {
	ChainID int64    `json:"chain_id"`
	TxHash  string   `json:"tx_hash"`
	Grantee []string `json:"grantee"` // [addr] or []
	Msg     string   `json:"msg"`
	Sig     string   `json:"sig"` // hex without 0x
}

type subscriptionActionRequest struct {
	ChainID int64  `json:"chain_id"`
	SubID   string `json:"sub_id"`
	Msg     string `json:"msg"`
	Sig     string `json:"sig"`
}

type withdrawRequest struct {
	ChainID  int64  `json:"chain_id"`
	Receiver string `json:"receiver"`
	Msg      string `json:"msg"`
	Sig      string `json:"sig"`
}

type subscribeRequest struct {
	ChainID                int64             `json:"chain_id"`
	PairID                 []string          `json:"pair_id"` // [pair] or []
	ContractAddr           string            `json:"contract_addr"`
	MethodABI              string            `json:"method_abi"`
	FrequencyCondition     []uint64          `json:"frequency_condition"`
	IsRandom               bool              `json:"is_random"`
	GasLimit               uint64            `json:"gas_limit"`
	Msg                    string            `json:"msg"`
	Sig                    string            `json:"sig"`
	PriceMutationCondition []json.RawMessage `json:"price_mutation_condition"` // always []
}

type credentialRequest struct {
	Msg string `json:"msg"`
	Sig string `json:"sig"`
}

type revokeKeyRequest struct {
	APIKey string `json:"api_key"`
	Msg    string `json:"msg"`
	Sig    string `json:"sig"`
}

// countMap accepts both {"k": n} objects and [["k", n]] pair lists
type countMap map[string]uint64

func (m *countMap) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*m = nil
		return nil
	}
	out := make(countMap)
	var obj map[string]flexUint
	if err := json.Unmarshal(data, &obj); err == nil {
		for k, v := range obj {
			out[k] = uint64(v)
		}
		*m = out
		return nil
	}
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("invalid counter map %s: %w", data, err)
	}
	for _, p := range pairs {
		var key string
		var n flexUint
		if err := json.Unmarshal(p[0], &key); err != nil {
			return fmt.Errorf("invalid counter key %s: %w", p[0], err)
		}
		if err := json.Unmarshal(p[1], &n); err != nil {
			return err
		}
		out[key] = uint64(n)
	}
	*m = out
	return nil
}

type apiKeyData struct {
	Address               string   `json:"address"`
	BannedDomains         []string `json:"banned_domains"`
	LastRequest           flexUint `json:"last_request"` // unix seconds
	RequestCount          flexUint `json:"request_count"`
	RequestCountToday     flexUint `json:"request_count_today"`
	RequestLimit          flexUint `json:"request_limit"`
	RequestCountPerDomain countMap `json:"request_count_per_domain"`
	RequestCountPerMethod countMap `json:"request_count_per_method"`
	RequestLimitByDomain  countMap `json:"request_limit_by_domain"`
}

// apiKeyEntry one [key, data] tuple
type apiKeyEntry struct {
	Key  string
	Data apiKeyData
}

func (e *apiKeyEntry) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("invalid api key entry: %w", err)
	}
	if err := json.Unmarshal(tuple[0], &e.Key); err != nil {
		return fmt.Errorf("invalid api key: %w", err)
	}
	return json.Unmarshal(tuple[1], &e.Data)
}

func (e apiKeyEntry) toModel() models.APIKey {
	key := models.APIKey{
		Key:                   e.Key,
		Owner:                 utils.NormalizeAddress(e.Data.Address),
		BannedDomains:         e.Data.BannedDomains,
		RequestCount:          uint64(e.Data.RequestCount),
		RequestCountToday:     uint64(e.Data.RequestCountToday),
		RequestLimit:          uint64(e.Data.RequestLimit),
		RequestCountPerDomain: e.Data.RequestCountPerDomain,
		RequestCountPerMethod: e.Data.RequestCountPerMethod,
		RequestLimitByDomain:  e.Data.RequestLimitByDomain,
	}
	if e.Data.LastRequest > 0 {
		key.LastRequest = time.Unix(int64(e.Data.LastRequest), 0).UTC()
	}
	return key
}
