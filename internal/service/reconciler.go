package service

import (
	"context"
	"time"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/metrics"
)

const defaultReconcileBatchSize = 50

// Reconciler periodically re-verifies gateway orders that are still pending,
// covering webhooks that were delayed or never delivered.
type Reconciler struct {
	payments  *PaymentService
	orderRepo interfaces.OrderRepository
	config    config.ReconciliationConfig
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewReconciler creates a reconciler.
func NewReconciler(
	payments *PaymentService,
	orderRepo interfaces.OrderRepository,
	cfg config.ReconciliationConfig,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Reconciler {
	if cfg.BatchSize <= 0 {
		logger.Warn("Invalid reconciliation batch size, using default", logging.Fields{
			"batch_size": cfg.BatchSize,
			"default":    defaultReconcileBatchSize,
		})
		cfg.BatchSize = defaultReconcileBatchSize
	}

	return &Reconciler{
		payments:  payments,
		orderRepo: orderRepo,
		config:    cfg,
		metrics:   m,
		logger:    logger.Named("reconciler"),
		now:       time.Now,
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Reconciler started", logging.Fields{
		"interval":   r.config.Interval.String(),
		"min_age":    r.config.MinAge.String(),
		"batch_size": r.config.BatchSize,
	})

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reconciliation sweep failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

// Sweep verifies one batch of stale pending orders and returns how many were
// checked. A failure on one order does not stop the batch. Every attempt is
// stamped on the order so orders that keep failing rotate to the back.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.config.MinAge)

	orders, err := r.orderRepo.ListAwaitingPayment(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		r.metrics.Reconciliation("error")
		return 0, err
	}

	checked := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}

		result, err := r.payments.verify(ctx, order.PaymentReference, SourceReconciliation)
		checked++
		r.markReconciled(ctx, order.ID)
		if err != nil {
			r.metrics.Reconciliation("error")
			r.logger.Warn("Could not reconcile order", logging.Fields{
				"order_id":  order.ID,
				"reference": order.PaymentReference,
				"error":     err.Error(),
			})
			continue
		}

		if result.Status != order.Status {
			r.metrics.Reconciliation("resolved")
		} else {
			r.metrics.Reconciliation("unresolved")
		}
	}

	if checked > 0 {
		r.logger.Info("Reconciliation sweep finished", logging.Fields{
			"checked": checked,
			"cutoff":  cutoff.Format(time.RFC3339),
		})
	}

	return checked, nil
}

func (r *Reconciler) markReconciled(ctx context.Context, id string) {
	if err := r.orderRepo.MarkReconciled(ctx, id, r.now()); err != nil {
		r.logger.Warn("Failed to record reconciliation attempt", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
	}
}
