package models

import "time"

// Credential address-bound signed message authorizing ledger mutations.
// Immutable once signed; replaced wholesale on re-sign.
type Credential struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	Signature string    `json:"signature"` // 0x-prefixed hex, 65 bytes
	SignedAt  time.Time `json:"signed_at"`
}

// IsZero true when no credential has been signed
func (c Credential) IsZero() bool {
	return c.Address == "" && c.Signature == ""
}
