package handlers

import (
	"net/http"

	"topup-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler attaches authenticated clients to the push hub
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
}

func NewWebSocketHandler(pushService *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{pushService: pushService}
}

// HandleWebSocket GET /api/ws; the auth middleware accepts ?token= for browsers
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	address := callerAddress(c)
	if address == "" {
		http.Error(c.Writer, "Unauthorized", http.StatusUnauthorized)
		return
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, address)
}

// StatsHandler GET /api/ws/stats
func (h *WebSocketHandler) StatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_connections": h.pushService.GetActiveConnections(),
		"user_connections":   h.pushService.GetUserConnections(callerAddress(c)),
	})
}
