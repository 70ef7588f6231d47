package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/handlers"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/middleware"
)

type Server struct {
	config     *config.Config
	router     *gin.Engine
	handlers   *handlers.Handlers
	httpServer *http.Server
	logger     *logging.Logger
}

func New(h *handlers.Handlers, cfg *config.Config, logger *logging.Logger) *Server {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Identify(),
		middleware.AccessLog(logger),
	)

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		logger:   logger.Named("server"),
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
	s.router.GET("/live", s.handlers.Live)
	s.router.GET("/ready", s.handlers.Ready)
	s.router.GET("/metrics", s.handlers.Metrics)

	v1 := s.router.Group("/api/v1")

	orders := v1.Group("/orders")
	{
		orders.POST("", middleware.RequireUser(), s.handlers.PlaceOrder)
		orders.GET("/me", middleware.RequireUser(), s.handlers.GetMyOrders)
		orders.GET("/:id", middleware.RequireUser(), s.handlers.GetOrder)
		orders.GET("", middleware.RequireAdmin(), s.handlers.ListOrders)
		orders.PATCH("/:id/status", middleware.RequireAdmin(), s.handlers.UpdateOrderStatus)
		orders.POST("/:id/approve", middleware.RequireAdmin(), s.handlers.ApproveOrder)
	}

	paystack := v1.Group("/payments/paystack")
	{
		paystack.GET("/verify/:reference", middleware.RequireUser(), s.handlers.VerifyPayment)
		paystack.POST("/webhook", s.handlers.PaystackWebhook)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Server listening", logging.Fields{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
