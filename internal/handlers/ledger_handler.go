package handlers

import (
	"context"
	"net/http"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LedgerDirectory ledger endpoint selection and chain listing
type LedgerDirectory interface {
	Endpoint() string
	Endpoints() []string
	SelectEndpoint(endpoint string) error
	AllowedChains(ctx context.Context) ([]models.AllowedChain, error)
}

type LedgerHandler struct {
	ledger LedgerDirectory
	logger *logrus.Logger
}

func NewLedgerHandler(ledger LedgerDirectory, logger *logrus.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// GetEndpointHandler GET /api/ledger/endpoint
func (h *LedgerHandler) GetEndpointHandler(c *gin.Context) {
	c.JSON(http.StatusOK, dto.LedgerEndpointResponse{
		Success:   true,
		Selected:  h.ledger.Endpoint(),
		Endpoints: h.ledger.Endpoints(),
	})
}

// SelectEndpointHandler PUT /api/ledger/endpoint
func (h *LedgerHandler) SelectEndpointHandler(c *gin.Context) {
	var req dto.LedgerEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}
	if err := h.ledger.SelectEndpoint(req.URL); err != nil {
		respondWithError(c, http.StatusBadRequest, "unknown_endpoint", err.Error(), nil)
		return
	}
	h.logger.WithField("endpoint", req.URL).Info("🔀 Ledger endpoint switched")
	h.GetEndpointHandler(c)
}

// AllowedChainsHandler GET /api/chains
func (h *LedgerHandler) AllowedChainsHandler(c *gin.Context) {
	chains, err := h.ledger.AllowedChains(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("❌ Failed to fetch allowed chains")
		respondWithError(c, http.StatusBadGateway, "ledger_error", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chains": chains})
}
