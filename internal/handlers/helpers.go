// Package handlers implements the gin HTTP surface of the top-up backend
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"
	"topup-backend/internal/services"
	"topup-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// respondWithError unified error response function
func respondWithError(c *gin.Context, statusCode int, errorType, message string, details interface{}) {
	response := gin.H{
		"success": false,
		"error":   errorType,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.JSON(statusCode, response)
}

// respondWithTopUpError maps a reconciler failure to its HTTP status
func respondWithTopUpError(c *gin.Context, deposit *models.Deposit, err error) {
	var topUpErr *services.TopUpError
	if !errors.As(err, &topUpErr) {
		respondWithError(c, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}

	status := http.StatusInternalServerError
	switch topUpErr.Kind {
	case services.ErrKindInvalidRequest:
		status = http.StatusBadRequest
		if errors.Is(err, services.ErrNoCredential) || errors.Is(err, services.ErrCredentialExpired) {
			status = http.StatusUnauthorized
		}
	case services.ErrKindChainSubmission, services.ErrKindChainConfirmation:
		status = http.StatusBadGateway
	case services.ErrKindLedgerRecord:
		status = http.StatusConflict
	}

	c.JSON(status, dto.TopUpErrorResponse{
		Error:     string(topUpErr.Kind),
		Message:   topUpErr.UserMessage(),
		TxHash:    topUpErr.TxHash,
		DepositID: topUpErr.DepositID,
		Retryable: topUpErr.Retryable(),
		Deposit:   deposit,
	})
}

// callerAddress address placed in the context by the auth middleware
func callerAddress(c *gin.Context) string {
	return utils.NormalizeAddress(c.GetString("user_address"))
}

func parseChainID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func parsePaging(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
