package handlers

import (
	"context"
	"errors"
	"net/http"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"
	"topup-backend/internal/services"
	"topup-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SubscriptionAPI subscription operations exposed over HTTP
type SubscriptionAPI interface {
	List(ctx context.Context, criteria services.FilterCriteria) ([]services.SubscriptionView, error)
	Get(ctx context.Context, id string) (services.SubscriptionView, error)
	Subscribe(ctx context.Context, req models.SubscriptionRequest) (string, error)
	Start(ctx context.Context, subID string) error
	Stop(ctx context.Context, subID string) error
	Withdraw(ctx context.Context, chainID int64, receiver string) error
	IsWhitelisted(ctx context.Context, address string) (bool, error)
}

type SubscriptionHandler struct {
	subs   SubscriptionAPI
	logger *logrus.Logger
}

func NewSubscriptionHandler(subs SubscriptionAPI, logger *logrus.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs, logger: logger}
}

// ListSubscriptionsHandler GET /api/subscriptions?type=&showMine=&showInactive=&chainIds=&search=
func (h *SubscriptionHandler) ListSubscriptionsHandler(c *gin.Context) {
	criteria, err := services.ParseFilterCriteria(c.Request.URL.Query(), callerAddress(c))
	if err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_filter", err.Error(), nil)
		return
	}
	views, err := h.subs.List(c.Request.Context(), criteria)
	if err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"subscriptions": views,
		"count":         len(views),
	})
}

// GetSubscriptionHandler GET /api/subscriptions/:id
func (h *SubscriptionHandler) GetSubscriptionHandler(c *gin.Context) {
	view, err := h.subs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "subscription": view})
}

// CreateSubscriptionHandler POST /api/subscriptions
func (h *SubscriptionHandler) CreateSubscriptionHandler(c *gin.Context) {
	var req dto.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	kind := models.PriceKind(req.PairID)
	if req.IsRandom {
		kind = models.RandomKind()
	}
	id, err := h.subs.Subscribe(c.Request.Context(), models.SubscriptionRequest{
		ChainID:         req.ChainID,
		ContractAddress: req.ContractAddress,
		Method:          req.Method,
		Frequency:       req.Frequency,
		GasLimit:        req.GasLimit,
		Kind:            kind,
	})
	if err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.SubscribeResponse{Success: true, SubscriptionID: id})
}

// StartSubscriptionHandler POST /api/subscriptions/:id/start
func (h *SubscriptionHandler) StartSubscriptionHandler(c *gin.Context) {
	if err := h.subs.Start(c.Request.Context(), c.Param("id")); err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "subscription started"})
}

// StopSubscriptionHandler POST /api/subscriptions/:id/stop
func (h *SubscriptionHandler) StopSubscriptionHandler(c *gin.Context) {
	if err := h.subs.Stop(c.Request.Context(), c.Param("id")); err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "subscription stopped"})
}

// WithdrawHandler POST /api/withdraw
func (h *SubscriptionHandler) WithdrawHandler(c *gin.Context) {
	var req dto.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if !utils.IsEvmAddress(req.Receiver) {
		respondWithError(c, http.StatusBadRequest, "invalid_address", "receiver must be an EVM address", nil)
		return
	}
	if err := h.subs.Withdraw(c.Request.Context(), req.ChainID, req.Receiver); err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "withdrawal requested"})
}

// WhitelistHandler GET /api/whitelist/:address
func (h *SubscriptionHandler) WhitelistHandler(c *gin.Context) {
	address := c.Param("address")
	if !utils.IsEvmAddress(address) {
		respondWithError(c, http.StatusBadRequest, "invalid_address", "address must be an EVM address", nil)
		return
	}
	ok, err := h.subs.IsWhitelisted(c.Request.Context(), address)
	if err != nil {
		h.respondSubscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.WhitelistResponse{Success: true, Address: utils.NormalizeAddress(address), Whitelisted: ok})
}

func (h *SubscriptionHandler) respondSubscriptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSubscriptionNotFound):
		respondWithError(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrNotSubscriptionOwner):
		respondWithError(c, http.StatusForbidden, "not_owner", err.Error(), nil)
	case errors.Is(err, services.ErrNotWhitelisted):
		respondWithError(c, http.StatusForbidden, "not_whitelisted", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidSubscription):
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidFrequency):
		respondWithError(c, http.StatusBadRequest, "invalid_frequency", err.Error(), nil)
	case errors.Is(err, services.ErrNoCredential), errors.Is(err, services.ErrCredentialExpired):
		respondWithError(c, http.StatusUnauthorized, "no_credential", err.Error(), nil)
	default:
		h.logger.WithFields(logrus.Fields{"path": c.Request.URL.Path, "error": err}).Warn("❌ Ledger call failed")
		respondWithError(c, http.StatusBadGateway, "ledger_error", err.Error(), nil)
	}
}
