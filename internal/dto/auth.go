package dto

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ==================== Auth DTOs ====================

// ChallengeResponse message the wallet must sign
type ChallengeResponse struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
	Message string `json:"message"`
}

// AuthRequest signed challenge submitted by the wallet
type AuthRequest struct {
	Address   string `json:"address"`                       // optional, defaults to the address in the message
	Message   string `json:"message" binding:"required"`   // challenge returned by /api/auth/challenge
	Signature string `json:"signature" binding:"required"` // personal_sign over message, with or without 0x
}

// AuthResponse Authentication response structure
type AuthResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	Address   string    `json:"address,omitempty"`
	SignedAt  time.Time `json:"signed_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Message   string    `json:"message"`
}

// CredentialResponse currently installed credential, without the signature
type CredentialResponse struct {
	Address  string    `json:"address"`
	Message  string    `json:"message"`
	SignedAt time.Time `json:"signed_at"`
}

// JWTClaims JWT Claims structure
type JWTClaims struct {
	UserAddress string `json:"user_address"` // lowercase 0x address
	jwt.RegisteredClaims
}
