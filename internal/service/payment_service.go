package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/metrics"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// Webhook event types delivered by the gateway.
const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventChargeAbandoned = "charge.abandoned"
	EventChargeReversed  = "charge.reversed"
)

// Webhook outcomes recorded in metrics.
const (
	webhookRejected = "rejected"
	webhookIgnored  = "ignored"
	webhookApplied  = "applied"
	webhookNoop     = "noop"
	webhookFailed   = "error"
)

// PaymentService reconciles gateway outcomes with order state. It never
// changes a status itself; every transition goes through OrderService.
type PaymentService struct {
	orders    *OrderService
	orderRepo interfaces.OrderRepository
	gateway   interfaces.PaymentGateway
	metrics   *metrics.Metrics
	config    *config.Config
	logger    *logging.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	orders *OrderService,
	orderRepo interfaces.OrderRepository,
	gateway interfaces.PaymentGateway,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *logging.Logger,
) *PaymentService {
	return &PaymentService{
		orders:    orders,
		orderRepo: orderRepo,
		gateway:   gateway,
		metrics:   m,
		config:    cfg,
		logger:    logger.Named("payment-service"),
	}
}

// VerifyPayment asks the gateway for the outcome of reference and applies
// the implied transition. Gateway failures leave the order untouched.
func (s *PaymentService) VerifyPayment(ctx context.Context, reference string) (*models.PaymentVerificationResult, error) {
	return s.verify(ctx, reference, SourceVerify)
}

func (s *PaymentService) verify(ctx context.Context, reference, source string) (*models.PaymentVerificationResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.NewValidationError("reference", "reference is required")
	}

	s.logger.Info("Verifying payment", logging.Fields{
		"reference": reference,
		"source":    source,
	})

	order, err := s.orderRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	verification, err := s.gateway.VerifyCharge(ctx, reference)
	if err != nil {
		s.logger.Error("Payment verification failed", logging.Fields{
			"reference": reference,
			"order_id":  order.ID,
			"error":     err.Error(),
		})
		return nil, err
	}

	if err := s.checkOwnership(order, verification); err != nil {
		return nil, err
	}

	result := &models.PaymentVerificationResult{
		Success:       verification.GatewayStatus == models.GatewayStatusSuccess,
		OrderID:       order.ID,
		Status:        order.Status,
		GatewayStatus: verification.GatewayStatus,
	}

	if verification.Target == models.OrderStatusPending {
		s.logger.Info("Payment not resolved yet", logging.Fields{
			"reference":      reference,
			"gateway_status": verification.GatewayStatus,
		})
		return result, nil
	}

	updated, _, err := s.applyOutcome(ctx, order.ID, verification.Target, source)
	if err != nil {
		return nil, err
	}
	result.Status = updated.Status

	return result, nil
}

type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference string          `json:"reference"`
		Status    string          `json:"status"`
		Metadata  json.RawMessage `json:"metadata"`
	} `json:"data"`
}

// HandleWebhook authenticates a gateway notification against the raw body
// and applies the transition its event implies. Replays are absorbed by the
// state machine and return nil.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(payload, signature) {
		s.metrics.Webhook(webhookRejected)
		s.logger.Warn("Webhook signature rejected", logging.Fields{
			"payload_size": len(payload),
		})
		return errors.ErrInvalidSignature
	}

	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		s.metrics.Webhook(webhookFailed)
		return errors.NewValidationError("payload", "malformed webhook body")
	}

	target, ok := webhookTarget(event.Event)
	if !ok {
		s.metrics.Webhook(webhookIgnored)
		s.logger.Info("Ignoring webhook event", logging.Fields{"event": event.Event})
		return nil
	}

	orderID := models.MetadataOrderID(event.Data.Metadata)
	if orderID == "" {
		s.metrics.Webhook(webhookFailed)
		s.logger.Warn("Webhook missing order metadata", logging.Fields{
			"event":     event.Event,
			"reference": event.Data.Reference,
		})
		return errors.NewValidationError("data.metadata.orderId", "order id is required")
	}

	logFields := logging.Fields{
		"event":     event.Event,
		"order_id":  orderID,
		"reference": event.Data.Reference,
	}

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if errors.Is(err, errors.ErrNotFound) {
		s.metrics.Webhook(webhookIgnored)
		s.logger.Warn("Webhook for unknown order", logFields)
		return nil
	}
	if err != nil {
		s.metrics.Webhook(webhookFailed)
		return err
	}

	if event.Data.Reference != "" && order.PaymentReference != event.Data.Reference {
		s.metrics.Webhook(webhookFailed)
		s.logger.Warn("Webhook reference does not match order", logFields)
		return errors.NewValidationError("data.reference", "reference does not match order")
	}

	if target == models.OrderStatusProcessing && s.config.Paystack.ConfirmWebhooks && order.PaymentReference != "" {
		verification, err := s.gateway.VerifyCharge(ctx, order.PaymentReference)
		if err != nil {
			s.metrics.Webhook(webhookFailed)
			s.logger.Error("Webhook confirmation failed", logFields)
			return err
		}
		if err := s.checkOwnership(order, verification); err != nil {
			s.metrics.Webhook(webhookFailed)
			return err
		}
		if verification.Target == models.OrderStatusPending {
			s.metrics.Webhook(webhookIgnored)
			s.logger.Info("Webhook success not confirmed by gateway", logFields)
			return nil
		}
		target = verification.Target
	}

	_, changed, err := s.applyOutcome(ctx, order.ID, target, SourceWebhook)
	if err != nil {
		s.metrics.Webhook(webhookFailed)
		return err
	}

	if changed {
		s.metrics.Webhook(webhookApplied)
	} else {
		s.metrics.Webhook(webhookNoop)
	}
	s.logger.Info("Webhook processed", logFields)

	return nil
}

// checkOwnership rejects a verification whose gateway metadata names another order.
func (s *PaymentService) checkOwnership(order *models.Order, verification *models.ChargeVerification) error {
	if verification.OrderID == "" || verification.OrderID == order.ID {
		return nil
	}
	s.logger.Warn("Gateway metadata does not match order", logging.Fields{
		"reference":         order.PaymentReference,
		"order_id":          order.ID,
		"metadata_order_id": verification.OrderID,
	})
	return errors.NewValidationError("reference", "payment does not belong to this order")
}

// applyOutcome routes a gateway outcome through the state machine. A
// rejected transition is not an error for reconciliation: the order has
// already moved on, so the current order is returned unchanged.
func (s *PaymentService) applyOutcome(ctx context.Context, orderID string, target models.OrderStatus, source string) (*models.Order, bool, error) {
	updated, changed, err := s.orders.TransitionStatus(ctx, orderID, target, source)
	if errors.KindOf(err) == errors.KindPrecondition {
		s.logger.Info("Gateway outcome not applicable to current status", logging.Fields{
			"order_id": orderID,
			"target":   target,
			"source":   source,
		})
		current, getErr := s.orderRepo.GetByID(ctx, orderID)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return updated, changed, nil
}

func webhookTarget(event string) (models.OrderStatus, bool) {
	switch event {
	case EventChargeSuccess:
		return models.OrderStatusProcessing, true
	case EventChargeFailed, EventChargeAbandoned, EventChargeReversed:
		return models.OrderStatusCancelled, true
	default:
		return "", false
	}
}
