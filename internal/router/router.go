package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"topup-backend/internal/handlers"
	"topup-backend/internal/metrics"
	"topup-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers every HTTP handler the router mounts
type Handlers struct {
	Auth          *handlers.AuthHandler
	TopUp         *handlers.TopUpHandler
	Balance       *handlers.BalanceHandler
	Subscriptions *handlers.SubscriptionHandler
	APIKeys       *handlers.APIKeyHandler
	Ledger        *handlers.LedgerHandler
	WebSocket     *handlers.WebSocketHandler // optional
}

// Options router-level settings
type Options struct {
	AllowedOrigins  []string // empty = allow all
	AdminAllowedIPs []string
	Logger          *logrus.Logger
}

// corsMiddleware CORS middleware; an empty list or "*" allows every origin
func corsMiddleware(allowedOrigins []string, logger *logrus.Logger) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, o := range allowedOrigins {
				if strings.TrimSpace(o) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
			} else {
				logger.WithFields(logrus.Fields{
					"request_origin":  origin,
					"allowed_origins": allowedOrigins,
					"path":            c.Request.URL.Path,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		c.Header("Access-Control-Max-Age", "3600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestMetrics counts requests per route template and logs slow ones
func requestMetrics(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		elapsed := time.Since(start)
		fields := logrus.Fields{
			"method":   c.Request.Method,
			"route":    route,
			"status":   status,
			"duration": elapsed.String(),
		}
		if elapsed > 5*time.Second {
			logger.WithFields(fields).Warn("🐢 Slow request")
		} else {
			logger.WithFields(fields).Debug("HTTP request")
		}
	}
}

func SetupRouter(h Handlers, auth *middleware.AuthMiddleware, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestMetrics(logger))
	r.Use(corsMiddleware(opts.AllowedOrigins, logger))

	localhostOnly := middleware.NewLocalhostOnly(logger, opts.AdminAllowedIPs)

	// ============ Check ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "topup-backend",
		})
	})

	// ============ Prometheus Metrics ============
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============ API Routes ============
	api := r.Group("/api")
	{
		api.GET("/auth/challenge", h.Auth.ChallengeHandler)
		api.POST("/auth", h.Auth.AuthenticateHandler)

		api.GET("/chains", h.Ledger.AllowedChainsHandler)
		api.GET("/ledger/endpoint", h.Ledger.GetEndpointHandler)
		api.PUT("/ledger/endpoint", localhostOnly.Restrict(), h.Ledger.SelectEndpointHandler)

		api.GET("/whitelist/:address", h.Subscriptions.WhitelistHandler)
		api.GET("/base-fee", h.APIKeys.BaseFeeHandler)
	}

	viewer := api.Group("", auth.OptionalAuth())
	{
		viewer.GET("/subscriptions", h.Subscriptions.ListSubscriptionsHandler)
		viewer.GET("/subscriptions/:id", h.Subscriptions.GetSubscriptionHandler)
	}

	authed := api.Group("", auth.RequireAuth())
	{
		authed.GET("/auth/credential", h.Auth.CredentialHandler)
		authed.DELETE("/auth/credential", h.Auth.LogoutHandler)

		authed.POST("/topups", h.TopUp.CreateTopUpHandler)
		authed.GET("/topups", h.TopUp.ListTopUpsHandler)
		authed.GET("/topups/resumable", h.TopUp.ResumableHandler)
		authed.POST("/topups/record-external", h.TopUp.RecordExternalHandler)
		authed.GET("/topups/:id", h.TopUp.GetTopUpHandler)
		authed.POST("/topups/:id/record", h.TopUp.RecordHandler)

		authed.GET("/balance/:chainId", h.Balance.GetBalanceHandler)

		authed.POST("/subscriptions", h.Subscriptions.CreateSubscriptionHandler)
		authed.POST("/subscriptions/:id/start", h.Subscriptions.StartSubscriptionHandler)
		authed.POST("/subscriptions/:id/stop", h.Subscriptions.StopSubscriptionHandler)
		authed.POST("/withdraw", h.Subscriptions.WithdrawHandler)

		authed.GET("/api-keys", h.APIKeys.ListAPIKeysHandler)
		authed.POST("/api-keys", h.APIKeys.GenerateAPIKeyHandler)
		authed.DELETE("/api-keys/:key", h.APIKeys.RevokeAPIKeyHandler)

		if h.WebSocket != nil {
			authed.GET("/ws", h.WebSocket.HandleWebSocket)
			authed.GET("/ws/stats", h.WebSocket.StatsHandler)
		}
	}

	// ============ NoRoute handler for 404 ============
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if !strings.HasPrefix(path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"message":    "Endpoint not found",
				"path":       path,
				"suggestion": "Check /api endpoints for available APIs",
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"message": "API endpoint not found",
			"path":    path,
		})
	})

	return r
}
