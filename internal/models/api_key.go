package models

import "time"

// APIKey ledger-issued key and its usage counters
type APIKey struct {
	Key                   string            `json:"key"`
	Owner                 string            `json:"owner"`
	BannedDomains         []string          `json:"banned_domains"`
	LastRequest           time.Time         `json:"last_request"`
	RequestCount          uint64            `json:"request_count"`
	RequestCountToday     uint64            `json:"request_count_today"`
	RequestLimit          uint64            `json:"request_limit"`
	RequestCountPerDomain map[string]uint64 `json:"request_count_per_domain"`
	RequestCountPerMethod map[string]uint64 `json:"request_count_per_method"`
	RequestLimitByDomain  map[string]uint64 `json:"request_limit_by_domain"`
}
