package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/storelane/fulfillment-api/internal/middleware"
)

// Handler registers a route group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	webhookH Handler
	adminH   Handler
	healthH  Handler
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	webhookH Handler,
	adminH Handler,
	healthH Handler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
	)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(rateLimiter.RateLimit())

	return &Router{
		engine:   engine,
		auth:     auth,
		webhookH: webhookH,
		adminH:   adminH,
		healthH:  healthH,
	}
}

func (r *Router) Setup() {
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	root := r.engine.Group("/")
	r.healthH.RegisterRoutes(root)
	r.webhookH.RegisterRoutes(root)

	admin := r.engine.Group("/admin")
	admin.Use(r.auth.Authenticate())
	r.adminH.RegisterRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
