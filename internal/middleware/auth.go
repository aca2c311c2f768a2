package middleware

import (
	"net/http"
	"strings"

	"topup-backend/internal/dto"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TokenValidator validates API tokens
type TokenValidator interface {
	Validate(tokenString string) (*dto.JWTClaims, error)
}

// AuthMiddleware JWT
type AuthMiddleware struct {
	validator TokenValidator
	logger    *logrus.Logger
}

// NewAuthMiddleware create JWT middleware
func NewAuthMiddleware(validator TokenValidator, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// bearerToken from the Authorization header, or the token query parameter
// for websocket upgrades where browsers cannot set headers
func bearerToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "MISSING_AUTH_HEADER"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "INVALID_AUTH_FORMAT"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "EMPTY_TOKEN"
	}
	return token, ""
}

// RequireAuth JWT
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code := bearerToken(c)
		if code != "" {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"code":   code,
			}).Warn("🔒 JWT missing")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Authentication required",
				"message": "Provide a token as 'Authorization: Bearer <token>'",
				"code":    code,
			})
			return
		}

		claims, err := a.validator.Validate(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("🔒 JWT rejected")

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"message": err.Error(),
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Set("user_address", claims.UserAddress)

		a.logger.WithFields(logrus.Fields{
			"path":         c.Request.URL.Path,
			"method":       c.Request.Method,
			"user_address": claims.UserAddress,
		}).Debug("JWT accepted")

		c.Next()
	}
}

// OptionalAuth sets user_address when a valid token is present, never rejects
func (a *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, code := bearerToken(c)
		if code != "" {
			c.Next()
			return
		}
		claims, err := a.validator.Validate(tokenString)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Debug("JWT ignored")
			c.Next()
			return
		}
		c.Set("user_address", claims.UserAddress)
		c.Next()
	}
}
