package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"attendance-gateway/internal/mw"
)

// RouterConfig holds the middleware settings.
type RouterConfig struct {
	RateLimitPerSec float64
	RateLimitBurst  int
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, mw.DeviceOrIP)

	var caching gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if h.opts.Cache != nil {
		caching = h.opts.Cache.Handler()
	}

	api := r.Group("/api")
	{
		// POST /api/webhooks/terminal
		api.POST("/webhooks/terminal", rateLimiter, h.PostTerminalEvent)

		api.GET("/devices", h.GetDevices)
		api.GET("/devices/:id/info", h.GetDeviceInfo)

		// GET /api/devices/{id}/users reads the terminal, so it is cached.
		api.GET("/devices/:id/users", caching, h.GetDeviceUsers)
		api.POST("/devices/:id/users", h.PostDeviceUser)
		api.DELETE("/devices/:id/users/:uid", h.DeleteDeviceUser)

		if h.opts.Syncer != nil {
			api.POST("/devices/:id/sync", h.PostDeviceSync)
		}
	}

	return r
}
