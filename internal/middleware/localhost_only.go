package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly restricts operator endpoints to loopback or whitelisted IPs
type LocalhostOnly struct {
	logger     *logrus.Logger
	allowedIPs []string // IPs or CIDR ranges
}

// NewLocalhostOnly create localhost access restrict middleware
func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	return &LocalhostOnly{logger: logger, allowedIPs: allowedIPs}
}

// Restrict rejects callers outside the whitelist with 403
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		remoteIP, _, _ := net.SplitHostPort(c.Request.RemoteAddr)

		if !l.isAllowedIP(clientIP) && !(remoteIP == clientIP && isLocalhost(remoteIP)) {
			l.logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"remote_ip": remoteIP,
				"path":      c.Request.URL.Path,
				"method":    c.Request.Method,
			}).Warn("🚫 Reject non-whitelisted access to operator API")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "This API is only accessible from allowed IP addresses",
				"code":    "IP_NOT_ALLOWED",
			})
			return
		}
		c.Next()
	}
}

// isLocalhost Check if IP is localhost
func isLocalhost(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return ip == "localhost"
	}
	return parsedIP.IsLoopback()
}

// isAllowedIP Check if IP is in the whitelist (supports CIDR)
func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	parsedIP := net.ParseIP(ip)
	for _, allowed := range l.allowedIPs {
		allowed = strings.TrimSpace(allowed)
		if strings.Contains(allowed, "/") {
			_, ipNet, err := net.ParseCIDR(allowed)
			if err != nil {
				l.logger.WithFields(logrus.Fields{"allowed": allowed, "error": err}).Warn("Invalid CIDR in allowedIPs")
				continue
			}
			if parsedIP != nil && ipNet.Contains(parsedIP) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && parsedIP != nil && allowedIP.Equal(parsedIP) {
			return true
		}
		if ip == allowed {
			return true
		}
	}
	return false
}
