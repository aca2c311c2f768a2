package services

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

var (
	ErrNoCredential       = errors.New("no credential installed")
	ErrCredentialExpired  = errors.New("credential expired")
	ErrInvalidSignature   = errors.New("signature does not match address")
	ErrMalformedChallenge = errors.New("malformed authentication message")
)

const authMessageHeader = "Ledger Authentication"

// BuildAuthMessage canonical message a wallet signs to authorize ledger calls
func BuildAuthMessage(address, nonce string, ts time.Time) string {
	return fmt.Sprintf("%s\nAddress: %s\nNonce: %s\nTimestamp: %d",
		authMessageHeader, utils.NormalizeAddress(address), nonce, ts.Unix())
}

// parseAuthMessage extracts the address and timestamp lines
func parseAuthMessage(msg string) (address string, ts time.Time, err error) {
	lines := strings.Split(msg, "\n")
	if len(lines) == 0 || lines[0] != authMessageHeader {
		return "", time.Time{}, ErrMalformedChallenge
	}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "Address":
			address = value
		case "Timestamp":
			secs, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return "", time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformedChallenge, value)
			}
			ts = time.Unix(secs, 0)
		}
	}
	if address == "" || ts.IsZero() {
		return "", time.Time{}, ErrMalformedChallenge
	}
	return address, ts, nil
}

// RecoverSigner returns the address that produced an EIP-191 personal signature over msg
func RecoverSigner(msg, signature string) (string, error) {
	sig, err := hexutil.Decode("0x" + utils.Strip0x(signature))
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// SignAuthMessage personal-signs msg with key, returning a 0x signature with v in {27,28}
func SignAuthMessage(key *ecdsa.PrivateKey, msg string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// IdentityContext holds the current credential. The credential is replaced
// wholesale; readers always see a complete value.
type IdentityContext struct {
	mu     sync.RWMutex
	cred   *models.Credential
	maxAge time.Duration
	now    func() time.Time
}

// NewIdentityContext maxAge 0 means credentials never expire
func NewIdentityContext(maxAge time.Duration) *IdentityContext {
	return &IdentityContext{maxAge: maxAge, now: time.Now}
}

// Install verifies cred and makes it current
func (ic *IdentityContext) Install(cred models.Credential) (models.Credential, error) {
	address, signedAt, err := parseAuthMessage(cred.Message)
	if err != nil {
		return models.Credential{}, err
	}
	if cred.Address == "" {
		cred.Address = address
	}
	if !utils.SameAddress(address, cred.Address) {
		return models.Credential{}, fmt.Errorf("%w: message names %s", ErrInvalidSignature, address)
	}
	signer, err := RecoverSigner(cred.Message, cred.Signature)
	if err != nil {
		return models.Credential{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !utils.SameAddress(signer, cred.Address) {
		return models.Credential{}, ErrInvalidSignature
	}

	installed := models.Credential{
		Address:   utils.NormalizeAddress(cred.Address),
		Message:   cred.Message,
		Signature: "0x" + utils.Strip0x(cred.Signature),
		SignedAt:  signedAt,
	}
	if ic.expired(installed) {
		return models.Credential{}, ErrCredentialExpired
	}

	ic.mu.Lock()
	ic.cred = &installed
	ic.mu.Unlock()
	return installed, nil
}

// SignWithKey signs a fresh challenge with key and installs the result
func (ic *IdentityContext) SignWithKey(key *ecdsa.PrivateKey) (models.Credential, error) {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	msg := ic.NewChallenge(address)
	sig, err := SignAuthMessage(key, msg)
	if err != nil {
		return models.Credential{}, fmt.Errorf("sign credential: %w", err)
	}
	return ic.Install(models.Credential{Address: address, Message: msg, Signature: sig})
}

// NewChallenge message for an external wallet to sign
func (ic *IdentityContext) NewChallenge(address string) string {
	return BuildAuthMessage(address, uuid.New().String(), ic.now())
}

// Current returns the installed, unexpired credential
func (ic *IdentityContext) Current() (models.Credential, error) {
	ic.mu.RLock()
	cred := ic.cred
	ic.mu.RUnlock()
	if cred == nil {
		return models.Credential{}, ErrNoCredential
	}
	if ic.expired(*cred) {
		return models.Credential{}, ErrCredentialExpired
	}
	return *cred, nil
}

// Clear drops the current credential
func (ic *IdentityContext) Clear() {
	ic.mu.Lock()
	ic.cred = nil
	ic.mu.Unlock()
}

func (ic *IdentityContext) expired(cred models.Credential) bool {
	if ic.maxAge <= 0 {
		return false
	}
	return ic.now().Sub(cred.SignedAt) > ic.maxAge
}
