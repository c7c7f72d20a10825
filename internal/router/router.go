package router

import (
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/middleware"
)

type ProtectedHandler interface {
	RegisterRoutes(r *gin.RouterGroup, gate handler.RoleGate)
}

type MixedHandler interface {
	RegisterRoutes(public, protected *gin.RouterGroup, gate handler.RoleGate)
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	h             *handler.Handler
	psychologistH MixedHandler
	appointmentH  ProtectedHandler
	metrics       *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RateIdleExpiry   time.Duration
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	MetricsPrefix    string
	Registerer       prometheus.Registerer
	Logger           zerolog.Logger
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	h *handler.Handler,
	psychologistH MixedHandler,
	appointmentH ProtectedHandler,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:        engine,
		auth:          auth,
		h:             h,
		psychologistH: psychologistH,
		appointmentH:  appointmentH,
		metrics:       initRouterMetrics(config.MetricsPrefix, config.Registerer),
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(config.Logger),
		middleware.Recovery(config.Logger),
		r.metricsMiddleware(),
		middleware.SecurityHeaders(),
		cors.New(corsConfig(config)),
		middleware.Timeout(config.RequestTimeout),
		middleware.SizeLimit(config.MaxBodyBytes),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:       config.RateLimit,
			Burst:      config.RateBurst,
			IdleExpiry: config.RateIdleExpiry,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func corsConfig(config RouterConfig) cors.Config {
	c := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = config.AllowedOrigins
		c.AllowCredentials = true
	}
	if len(config.AllowedMethods) > 0 {
		c.AllowMethods = config.AllowedMethods
	}
	if len(config.AllowedHeaders) > 0 {
		c.AllowHeaders = config.AllowedHeaders
	} else {
		c.AddAllowHeaders("Authorization", middleware.HeaderXRequestID)
	}
	c.ExposeHeaders = []string{middleware.HeaderXRequestID}
	c.MaxAge = 12 * time.Hour
	return c
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.setupHealthCheck(api)

	protected := api.Group("")
	protected.Use(r.auth.Authenticate())

	r.psychologistH.RegisterRoutes(api, protected, r.auth.RequireRole)
	r.appointmentH.RegisterRoutes(protected, r.auth.RequireRole)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
	}
	rg.GET("/metrics", r.h.MetricsHandler)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string, reg prometheus.Registerer) *routerMetrics {
	if prefix == "" {
		prefix = "http"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &routerMetrics{
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		code := c.Writer.Status()
		status := strconv.Itoa(code)
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		switch {
		case code >= 500:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "server").Inc()
		case code >= 400:
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "client").Inc()
		}
	}
}
