package handlers

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/service"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers for the orders service.
type Handlers struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	checks         map[string]ReadinessCheck
	metricsHandler http.Handler
	config         *config.Config
	logger         *logging.Logger
}

// NewHandlers creates a new handlers instance. checks are run by /ready;
// gatherer backs /metrics.
func NewHandlers(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	checks map[string]ReadinessCheck,
	gatherer prometheus.Gatherer,
	cfg *config.Config,
	logger *logging.Logger,
) *Handlers {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		orderService:   orderService,
		paymentService: paymentService,
		checks:         checks,
		metricsHandler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		config:         cfg,
		logger:         logger.Named("handlers"),
	}
}
