package handlers

import (
	"context"
	"net/http"

	"topup-backend/internal/dto"
	"topup-backend/internal/models"
	"topup-backend/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BalanceReader cached ledger balances
type BalanceReader interface {
	Get(chainID int64, account string) (models.Balance, bool)
	Refresh(ctx context.Context, chainID int64, account string) (models.Balance, error)
}

// BalancePusher receives fresh balances for live clients
type BalancePusher interface {
	PushBalance(bal models.Balance)
}

type BalanceHandler struct {
	balances   BalanceReader
	pusher     BalancePusher // optional
	minBalance decimal.Decimal
	logger     *logrus.Logger
}

func NewBalanceHandler(balances BalanceReader, pusher BalancePusher, minBalance decimal.Decimal, logger *logrus.Logger) *BalanceHandler {
	return &BalanceHandler{balances: balances, pusher: pusher, minBalance: minBalance, logger: logger}
}

// GetBalanceHandler GET /api/balance/:chainId?account=0x..&refresh=true
// account defaults to the caller; a cached value is served unless refresh is set
func (h *BalanceHandler) GetBalanceHandler(c *gin.Context) {
	chainID, ok := parseChainID(c.Param("chainId"))
	if !ok {
		respondWithError(c, http.StatusBadRequest, "invalid_chain_id", "chainId must be a positive integer", nil)
		return
	}
	account := c.DefaultQuery("account", callerAddress(c))
	if !utils.IsEvmAddress(account) {
		respondWithError(c, http.StatusBadRequest, "invalid_address", "account must be an EVM address", nil)
		return
	}

	if c.Query("refresh") != "true" {
		if bal, found := h.balances.Get(chainID, account); found {
			c.JSON(http.StatusOK, h.response(bal, true))
			return
		}
	}

	bal, err := h.balances.Refresh(c.Request.Context(), chainID, account)
	if err != nil {
		h.logger.WithFields(logrus.Fields{"chain_id": chainID, "account": account, "error": err}).Warn("⚠️ Balance refresh failed")
		if cached, found := h.balances.Get(chainID, account); found {
			c.JSON(http.StatusOK, h.response(cached, true))
			return
		}
		respondWithError(c, http.StatusBadGateway, "ledger_unavailable", err.Error(), nil)
		return
	}
	if h.pusher != nil {
		h.pusher.PushBalance(bal)
	}
	c.JSON(http.StatusOK, h.response(bal, false))
}

func (h *BalanceHandler) response(bal models.Balance, cached bool) dto.BalanceResponse {
	return dto.BalanceResponse{
		Success:    true,
		Balance:    bal,
		Low:        bal.Low(h.minBalance),
		MinBalance: h.minBalance.String(),
		Cached:     cached,
	}
}
