package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xpadev-net/clipwatch/internal/httpapi"
	"github.com/xpadev-net/clipwatch/internal/log"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// APIKey protects /api/v1. The admin API is not mounted when empty.
	APIKey string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the HTTP surface: probes, metrics and the admin API.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger())

	router.GET("/healthz", h.Healthz)
	router.GET("/readyz", h.Readyz)
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	if opts.APIKey == "" {
		log.Warn("ADMIN_API_KEY not set, admin API disabled")
		return router
	}

	v1 := router.Group("/api/v1")
	v1.Use(httpapi.APIKeyAuth(opts.APIKey))
	{
		v1.GET("/tenants", httpapi.RateLimit(60, time.Minute), h.ListTenants)
		v1.GET("/tenants/:tenant_id", httpapi.RateLimit(60, time.Minute), h.GetTenant)
		v1.PUT("/tenants/:tenant_id", httpapi.RateLimit(10, time.Minute), h.PutTenant)
	}
	return router
}
