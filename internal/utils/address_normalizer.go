package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var evmHexPattern = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// IsEvmAddress checks whether address is a 20-byte hex address, with or without 0x
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	return evmHexPattern.MatchString(Strip0x(address))
}

// Strip0x removes a leading 0x / 0X
func Strip0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// NormalizeAddress lowercases and ensures the 0x prefix.
// Invalid input is returned trimmed but otherwise untouched.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if !IsEvmAddress(address) {
		return address
	}
	return "0x" + strings.ToLower(Strip0x(address))
}

// AddressKey comparison key used for owner matching: lowercase hex without 0x
func AddressKey(address string) string {
	return strings.ToLower(Strip0x(strings.TrimSpace(address)))
}

// SameAddress case- and prefix-insensitive address equality
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return AddressKey(a) == AddressKey(b)
}

// ParseEvmAddress validates and converts to common.Address
func ParseEvmAddress(address string) (common.Address, error) {
	if !IsEvmAddress(address) {
		return common.Address{}, fmt.Errorf("invalid EVM address: %q", address)
	}
	return common.HexToAddress(NormalizeAddress(address)), nil
}

// IsTxHash checks a 32-byte 0x-prefixed transaction hash
func IsTxHash(hash string) bool {
	h := Strip0x(hash)
	if len(h) != 64 {
		return false
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// NormalizeTxHash lowercases and ensures the 0x prefix
func NormalizeTxHash(hash string) string {
	return "0x" + strings.ToLower(Strip0x(strings.TrimSpace(hash)))
}
