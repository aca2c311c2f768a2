package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"
	"topup-backend/internal/services"
	"topup-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const jwtIssuer = "topup-backend"

// JWTManager issues and validates API tokens
type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTManager ttl 0 defaults to 24h
func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl}
}

// Generate signs a token for address
func (m *JWTManager) Generate(address string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)
	address = utils.NormalizeAddress(address)
	claims := dto.JWTClaims{
		UserAddress: address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   address,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Validate parses tokenString and checks signature and expiry
func (m *JWTManager) Validate(tokenString string) (*dto.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &dto.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*dto.JWTClaims)
	if !ok || !token.Valid || !utils.IsEvmAddress(claims.UserAddress) {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// AuthHandler installs ledger credentials and issues API tokens
type AuthHandler struct {
	identity *services.IdentityContext
	jwt      *JWTManager
	logger   *logrus.Logger
}

func NewAuthHandler(identity *services.IdentityContext, jwtManager *JWTManager, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, jwt: jwtManager, logger: logger}
}

// ChallengeHandler GET /api/auth/challenge?address=0x...
func (h *AuthHandler) ChallengeHandler(c *gin.Context) {
	address := c.Query("address")
	if !utils.IsEvmAddress(address) {
		respondWithError(c, http.StatusBadRequest, "invalid_address", "address must be a 0x-prefixed EVM address", nil)
		return
	}
	c.JSON(http.StatusOK, dto.ChallengeResponse{
		Success: true,
		Address: utils.NormalizeAddress(address),
		Message: h.identity.NewChallenge(address),
	})
}

// AuthenticateHandler POST /api/auth
func (h *AuthHandler) AuthenticateHandler(c *gin.Context) {
	var req dto.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.AuthResponse{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	cred, err := h.identity.Install(models.Credential{
		Address:   req.Address,
		Message:   req.Message,
		Signature: req.Signature,
	})
	if err != nil {
		h.logger.WithFields(logrus.Fields{"address": req.Address, "error": err}).Warn("🔐 Credential rejected")
		status := http.StatusUnauthorized
		if errors.Is(err, services.ErrMalformedChallenge) {
			status = http.StatusBadRequest
		}
		c.JSON(status, dto.AuthResponse{Message: err.Error()})
		return
	}

	token, expiresAt, err := h.jwt.Generate(cred.Address)
	if err != nil {
		h.logger.WithError(err).Error("❌ JWT generation failed")
		c.JSON(http.StatusInternalServerError, dto.AuthResponse{Message: "token generation failed"})
		return
	}

	h.logger.WithField("address", cred.Address).Info("✅ Credential installed")
	c.JSON(http.StatusOK, dto.AuthResponse{
		Success:   true,
		Token:     token,
		Address:   cred.Address,
		SignedAt:  cred.SignedAt,
		ExpiresAt: expiresAt,
		Message:   "authenticated",
	})
}

// CredentialHandler GET /api/auth/credential
func (h *AuthHandler) CredentialHandler(c *gin.Context) {
	cred, err := h.identity.Current()
	if err != nil {
		respondWithError(c, http.StatusUnauthorized, "no_credential", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, dto.CredentialResponse{Address: cred.Address, Message: cred.Message, SignedAt: cred.SignedAt})
}

// LogoutHandler DELETE /api/auth/credential
func (h *AuthHandler) LogoutHandler(c *gin.Context) {
	h.identity.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true})
}
