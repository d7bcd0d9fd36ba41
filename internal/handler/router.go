package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"farmgate/internal/config"
	"farmgate/internal/handler/middleware"
	"farmgate/internal/metrics"
	"farmgate/internal/ratelimit"
)

func SetupRouter(
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
	httpLimiter *ratelimit.Window,
	authHandler *AuthHandler,
	wsHandler *WSHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if cfg.Metrics.Enabled && m != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	limited := r.Group("/")
	limited.Use(middleware.RateLimit(httpLimiter, m, logger))
	{
		limited.POST("/api/auth", authHandler.Auth)

		// Realtime endpoint; the root path is kept for clients that upgrade on "/".
		limited.GET("/ws", wsHandler.Serve)
		limited.GET("/", wsHandler.Serve)
	}

	return r
}
