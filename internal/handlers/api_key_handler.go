package handlers

import (
	"context"
	"errors"
	"net/http"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"
	"topup-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// APIKeyAPI API key operations exposed over HTTP
type APIKeyAPI interface {
	List(ctx context.Context) ([]models.APIKey, error)
	Generate(ctx context.Context) (string, error)
	Revoke(ctx context.Context, apiKey string) error
	BaseFee(ctx context.Context) (decimal.Decimal, error)
}

type APIKeyHandler struct {
	keys   APIKeyAPI
	logger *logrus.Logger
}

func NewAPIKeyHandler(keys APIKeyAPI, logger *logrus.Logger) *APIKeyHandler {
	return &APIKeyHandler{keys: keys, logger: logger}
}

// ListAPIKeysHandler GET /api/api-keys
func (h *APIKeyHandler) ListAPIKeysHandler(c *gin.Context) {
	keys, err := h.keys.List(c.Request.Context())
	if err != nil {
		h.respondAPIKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.APIKeyListResponse{Success: true, Keys: keys, Count: len(keys)})
}

// GenerateAPIKeyHandler POST /api/api-keys
func (h *APIKeyHandler) GenerateAPIKeyHandler(c *gin.Context) {
	key, err := h.keys.Generate(c.Request.Context())
	if err != nil {
		h.respondAPIKeyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "key": key})
}

// RevokeAPIKeyHandler DELETE /api/api-keys/:key
func (h *APIKeyHandler) RevokeAPIKeyHandler(c *gin.Context) {
	if err := h.keys.Revoke(c.Request.Context(), c.Param("key")); err != nil {
		h.respondAPIKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "api key revoked"})
}

// BaseFeeHandler GET /api/base-fee
func (h *APIKeyHandler) BaseFeeHandler(c *gin.Context) {
	fee, err := h.keys.BaseFee(c.Request.Context())
	if err != nil {
		h.respondAPIKeyError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BaseFeeResponse{Success: true, BaseFee: fee.String()})
}

func (h *APIKeyHandler) respondAPIKeyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrAPIKeyNotFound):
		respondWithError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrNoCredential), errors.Is(err, services.ErrCredentialExpired):
		respondWithError(c, http.StatusUnauthorized, "no_credential", err.Error(), nil)
	default:
		h.logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "error": err}).Warn("❌ Ledger call failed")
		respondWithError(c, http.StatusBadGateway, "ledger_error", err.Error(), nil)
	}
}
