package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jamiihost/hosting-platform/orchestrator-service/internal/config"
)

type Server struct {
	router      *gin.Engine
	handler     *Handler
	cfg         *config.Config
	userLimiter *RateLimiter
}

func NewServer(cfg *config.Config, handler *Handler) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
		// 每用户每分钟最多 30 次请求
		userLimiter: NewRateLimiter(30, time.Minute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "orchestrator-service",
		})
	})

	// Internal API - called by the billing/payments app and by cron
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		// Lifecycle transitions
		internal.POST("/services/:id/activate", s.handler.ActivateService)
		internal.POST("/services/:id/suspend", s.handler.SuspendService)
		internal.POST("/services/:id/terminate", s.handler.TerminateService)

		// Status and audit queries (admin dashboard)
		internal.GET("/services/:id", s.handler.GetServiceStatus)
		internal.GET("/services/:id/events", s.handler.GetServiceEvents)

		// Payment confirmation from the gateway callbacks
		internal.POST("/invoices/:id/paid", s.handler.InvoicePaid)

		// Scheduler triggers (cron: daily and 6-hourly)
		internal.POST("/sweeps/renewal", s.handler.RunRenewalSweep)
		internal.POST("/sweeps/termination", s.handler.RunTerminationSweep)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(s.userLimiter))
	{
		user.GET("/my/services", s.handler.GetMyServices)
		user.GET("/my/services/:id", s.handler.GetMyService)
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
