package handlers

import (
	"context"
	"errors"
	"net/http"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"
	"topup-backend/internal/repository"
	"topup-backend/internal/services"
	"topup-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TopUpService reconciler operations exposed over HTTP
type TopUpService interface {
	TopUp(ctx context.Context, req services.TopUpRequest) (*models.Deposit, error)
	RecordDeposit(ctx context.Context, depositID string) (*models.Deposit, error)
	RecordExternal(ctx context.Context, chainID int64, txHash string) (*models.Deposit, error)
	ResumableDeposits(ctx context.Context, account string) ([]*models.Deposit, error)
}

// TopUpHandler top-up endpoints
type TopUpHandler struct {
	topups        TopUpService
	deposits      repository.DepositRepository
	identity      services.CredentialSource
	defaultAmount decimal.Decimal
	logger        *logrus.Logger
}

func NewTopUpHandler(topups TopUpService, deposits repository.DepositRepository, identity services.CredentialSource, defaultAmount decimal.Decimal, logger *logrus.Logger) *TopUpHandler {
	return &TopUpHandler{
		topups:        topups,
		deposits:      deposits,
		identity:      identity,
		defaultAmount: defaultAmount,
		logger:        logger,
	}
}

// requireSigner the API token and the installed credential must name the same account
func (h *TopUpHandler) requireSigner(c *gin.Context) bool {
	cred, err := h.identity.Current()
	if err != nil {
		respondWithError(c, http.StatusUnauthorized, "no_credential", err.Error(), nil)
		return false
	}
	if !utils.SameAddress(cred.Address, callerAddress(c)) {
		respondWithError(c, http.StatusForbidden, "credential_mismatch",
			"the installed ledger credential belongs to a different account", nil)
		return false
	}
	return true
}

// CreateTopUpHandler POST /api/topups
func (h *TopUpHandler) CreateTopUpHandler(c *gin.Context) {
	var req dto.TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	amount := h.defaultAmount
	if req.Amount != "" {
		parsed, err := utils.ParseAmount(req.Amount)
		if err != nil {
			respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
			return
		}
		amount = parsed
	}
	if !h.requireSigner(c) {
		return
	}

	deposit, err := h.topups.TopUp(c.Request.Context(), services.TopUpRequest{
		ChainID:     req.ChainID,
		Amount:      amount,
		TokenSymbol: req.Token,
		Grantee:     req.Grantee,
	})
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"chain_id": req.ChainID,
			"amount":   amount.String(),
			"error":    err,
		}).Warn("❌ Top-up failed")
		respondWithTopUpError(c, deposit, err)
		return
	}

	c.JSON(http.StatusCreated, dto.DepositResponse{Success: true, Deposit: deposit, Message: "deposit recorded"})
}

// ListTopUpsHandler GET /api/topups
func (h *TopUpHandler) ListTopUpsHandler(c *gin.Context) {
	page, limit := parsePaging(c)
	deposits, total, err := h.deposits.FindByAccount(c.Request.Context(), callerAddress(c), page, limit)
	if err != nil {
		h.logger.WithError(err).Error("❌ Failed to list deposits")
		respondWithError(c, http.StatusInternalServerError, "database_error", "failed to list deposits", nil)
		return
	}
	if deposits == nil {
		deposits = []*models.Deposit{}
	}
	c.JSON(http.StatusOK, dto.DepositListResponse{Success: true, Deposits: deposits, Total: total, Page: page, Limit: limit})
}

// GetTopUpHandler GET /api/topups/:id
func (h *TopUpHandler) GetTopUpHandler(c *gin.Context) {
	deposit, ok := h.ownedDeposit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.DepositResponse{Success: true, Deposit: deposit})
}

// ResumableHandler GET /api/topups/resumable
func (h *TopUpHandler) ResumableHandler(c *gin.Context) {
	deposits, err := h.topups.ResumableDeposits(c.Request.Context(), callerAddress(c))
	if err != nil {
		h.logger.WithError(err).Error("❌ Failed to list resumable deposits")
		respondWithError(c, http.StatusInternalServerError, "database_error", "failed to list resumable deposits", nil)
		return
	}
	if deposits == nil {
		deposits = []*models.Deposit{}
	}
	c.JSON(http.StatusOK, dto.DepositListResponse{Success: true, Deposits: deposits, Total: int64(len(deposits)), Page: 1, Limit: len(deposits)})
}

// RecordHandler POST /api/topups/:id/record re-issues the ledger step
func (h *TopUpHandler) RecordHandler(c *gin.Context) {
	if _, ok := h.ownedDeposit(c); !ok {
		return
	}
	if !h.requireSigner(c) {
		return
	}
	deposit, err := h.topups.RecordDeposit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithTopUpError(c, deposit, err)
		return
	}
	c.JSON(http.StatusOK, dto.DepositResponse{Success: true, Deposit: deposit, Message: "deposit recorded"})
}

// RecordExternalHandler POST /api/topups/record-external
func (h *TopUpHandler) RecordExternalHandler(c *gin.Context) {
	var req dto.RecordExternalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if !h.requireSigner(c) {
		return
	}
	deposit, err := h.topups.RecordExternal(c.Request.Context(), req.ChainID, req.TxHash)
	if err != nil {
		respondWithTopUpError(c, deposit, err)
		return
	}
	c.JSON(http.StatusOK, dto.DepositResponse{Success: true, Deposit: deposit, Message: "deposit recorded"})
}

func (h *TopUpHandler) ownedDeposit(c *gin.Context) (*models.Deposit, bool) {
	deposit, err := h.deposits.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrDepositNotFound) {
			respondWithError(c, http.StatusNotFound, "not_found", "deposit not found", nil)
			return nil, false
		}
		respondWithError(c, http.StatusInternalServerError, "database_error", "failed to load deposit", nil)
		return nil, false
	}
	if !utils.SameAddress(deposit.Account, callerAddress(c)) {
		respondWithError(c, http.StatusNotFound, "not_found", "deposit not found", nil)
		return nil, false
	}
	return deposit, true
}
