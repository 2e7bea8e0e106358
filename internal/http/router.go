// Package httpapi mounts the read-only status API on a Gin engine together
// with its middleware chain.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-statusphere/internal/config"
	"github.com/tbourn/go-statusphere/internal/http/handlers"
	"github.com/tbourn/go-statusphere/internal/http/middleware"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
	// maxBodyBytes caps request bodies; the API accepts none.
	maxBodyBytes = 64 << 10
)

// RegisterRoutes installs the middleware chain and mounts the status API
// under cfg.APIBasePath, with /health and /metrics at the root. consumer may
// be nil.
//
// Tracing runs first so access logs and panics carry the trace id. Metrics
// see rate-limited requests; /health and /metrics are never limited.
func RegisterRoutes(r *gin.Engine, feed handlers.FeedService, consumer handlers.ConsumerStatus, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP(), healthPath, metricsPath)
	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		middleware.Metrics(),
		limiter.Handler(),
	)
	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)
	// Feed responses carry ETags, so clients may cache and revalidate.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		Revalidate:   true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(feed, consumer)
	r.GET(healthPath, h.Health)
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.GET("/statuses", h.ListStatuses)
	api.GET("/statuses/:did", h.GetStatus)
	api.GET("/statuses/:did/history", h.GetHistory)
}

// corsHandlers allows any origin when origins is empty; the API is public
// and read-only. Credentials are never allowed.
func corsHandlers(origins []string) []gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "If-None-Match"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) > 0 {
		cc.AllowOrigins = origins
		return []gin.HandlerFunc{cors.New(cc)}
	}
	cc.AllowAllOrigins = true
	return []gin.HandlerFunc{
		// gin-contrib/cors only answers requests that send Origin.
		func(c *gin.Context) {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Next()
		},
		cors.New(cc),
	}
}

// limitBody wraps the request body in http.MaxBytesReader.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
