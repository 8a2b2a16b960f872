package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/middleware"
)

type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handlers   *handlers.Handlers
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

func New(h *handlers.Handlers, cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(logger), m.Middleware())

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		metrics:  m,
		logger:   logger,
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handlers.Health)
	s.router.GET("/ready", s.handlers.Ready)
	s.router.GET("/live", s.handlers.Live)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v2 := s.router.Group("/api/v2")
	{
		v2.POST("/orders/draft", s.handlers.StageDraft)
		v2.GET("/orders/draft", s.handlers.GetDraft)
		v2.GET("/orders/history", s.handlers.ListOrderHistory)

		v2.POST("/payments/initiate", s.handlers.InitiatePayment)
		v2.POST("/payments/verify", s.handlers.VerifyPayment)

		v2.POST("/webhooks/payment", s.handlers.PaymentWebhook)
	}
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
