package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crm-res/outreach-api/internal/handler"
	promhandler "github.com/crm-res/outreach-api/internal/handler/prometheus"
	"github.com/crm-res/outreach-api/internal/middleware"
)

// Handler is anything that hangs routes off the versioned API group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine   *gin.Engine
	health   *handler.Handler
	prom     *promhandler.Handler
	handlers []Handler
}

type Config struct {
	RateLimit  int
	RateWindow time.Duration
	Timeout    time.Duration
	CORSConfig middleware.CORSConfig
}

func NewRouter(health *handler.Handler, prom *promhandler.Handler, config Config, handlers ...Handler) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 100
	}
	if config.RateWindow == 0 {
		config.RateWindow = time.Minute
	}

	engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		prom.Middleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.Timeout}),
		middleware.RequestID(),
	)
	engine.Use(middleware.CORS(config.CORSConfig))
	engine.Use(middleware.NewRateLimiter(config.RateLimit, config.RateWindow).RateLimit())

	return &Router{
		engine:   engine,
		health:   health,
		prom:     prom,
		handlers: handlers,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.setupHealthCheck(api)

	for _, h := range r.handlers {
		h.RegisterRoutes(api)
	}
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.health.LivenessCheck)
		health.GET("/ready", r.health.ReadinessCheck)
		health.GET("/metrics", r.health.MetricsHandler)
	}
	rg.GET("/metrics/http", r.prom.Handler())
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
