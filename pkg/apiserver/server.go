package apiserver

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/apiserver/handlers"
	"github.com/servicehub/orchestrator/pkg/apiserver/middleware"
	"github.com/servicehub/orchestrator/pkg/auth"
	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/orchestrator"
)

type Server struct {
	router       *gin.Engine
	orchestrator *orchestrator.Orchestrator
	monitor      handlers.HealthChecker
	tokens       *auth.TokenManager
	cfg          *config.Config
	logger       *zap.Logger
}

func NewServer(orch *orchestrator.Orchestrator, monitor handlers.HealthChecker, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		orchestrator: orch,
		monitor:      monitor,
		cfg:          cfg,
		logger:       logger,
	}
	if cfg.Auth.JWTSecret != "" {
		s.tokens = auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	} else {
		logger.Warn("auth.jwt_secret is empty, operator routes are unauthenticated")
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(s.monitor)
	r.GET("/health", healthHandler.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	eventHandler := handlers.NewEventHandler(s.orchestrator, s.logger)
	r.POST("/events", eventHandler.Publish)
	r.GET("/events/:id", eventHandler.Get)
	r.POST("/events/:id/retry", s.operator(auth.ScopeRetryEvents), eventHandler.Retry)

	deadLetterHandler := handlers.NewDeadLetterHandler(s.orchestrator, s.logger)
	r.GET("/dead-letter-queue", deadLetterHandler.List)
	r.POST("/dead-letter-queue/:id/retry", s.operator(auth.ScopeRetryDeadLetters), deadLetterHandler.Retry)

	statsHandler := handlers.NewStatsHandler(s.orchestrator, s.logger)
	r.GET("/stats", statsHandler.Get)

	workflowHandler := handlers.NewWorkflowHandler(s.orchestrator, s.logger)
	r.GET("/workflows/:id", workflowHandler.Get)

	s.router = r
}

// operator guards recovery routes once a signing key is configured.
func (s *Server) operator(scope string) gin.HandlerFunc {
	if s.tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.Auth(s.tokens, scope)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
