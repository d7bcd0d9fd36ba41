package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"go.uber.org/zap"

	"farmgate/internal/metrics"
	"farmgate/internal/ratelimit"
	"farmgate/pkg/response"
)

// ClientIP is the first X-Forwarded-For entry, then CF-Connecting-IP, then
// the socket peer address. Clients control those headers; use it for
// logging, not for budgets.
func ClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return PeerIP(c)
}

// PeerIP is the host of the connection's remote address.
func PeerIP(c *gin.Context) string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// RateLimit rejects requests over the per-peer budget with 429. A failing
// counter store lets the request through.
func RateLimit(window *ratelimit.Window, m *metrics.Metrics, logger *zap.Logger) gin.HandlerFunc {
	engine := window.Engine()
	if engine == nil {
		return func(c *gin.Context) { c.Next() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return mgin.NewMiddleware(engine,
		mgin.WithKeyGetter(PeerIP),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			m.RateLimited("http")
			response.TooManyRequests(c)
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			logger.Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
		}),
	)
}
