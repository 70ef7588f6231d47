package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/metrics"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
	"github.com/fosten-shop/fosten-orders-service/internal/statemachine"
)

// Transition sources, recorded in logs, events and metrics.
const (
	SourceAdmin          = "admin"
	SourceVerify         = "verify"
	SourceWebhook        = "webhook"
	SourceReconciliation = "reconciliation"
)

// maxTransitionAttempts bounds compare-and-set retries when another writer
// changes the status between the read and the conditional update.
const maxTransitionAttempts = 3

const referencePrefix = "ORD-"

// OrderService places orders and owns every status transition.
type OrderService struct {
	orderRepo      interfaces.OrderRepository
	orderCache     interfaces.OrderCache
	gateway        interfaces.PaymentGateway
	eventPublisher interfaces.OrderEventPublisher
	metrics        *metrics.Metrics
	config         *config.Config
	logger         *logging.Logger
}

// NewOrderService creates a new order service. orderCache and eventPublisher
// may be nil when the matching feature flag is off.
func NewOrderService(
	orderRepo interfaces.OrderRepository,
	orderCache interfaces.OrderCache,
	gateway interfaces.PaymentGateway,
	eventPublisher interfaces.OrderEventPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *logging.Logger,
) *OrderService {
	return &OrderService{
		orderRepo:      orderRepo,
		orderCache:     orderCache,
		gateway:        gateway,
		eventPublisher: eventPublisher,
		metrics:        m,
		config:         cfg,
		logger:         logger.Named("order-service"),
	}
}

// PlaceOrder validates and persists an order with its items, then starts a
// gateway charge for paid methods. Every order starts pending. If the charge
// cannot be initialized the committed order is kept and returned together
// with a gateway error.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, req *models.PlaceOrderRequest) (*models.PlaceOrderResult, error) {
	s.logger.Info("Placing order", logging.Fields{
		"user_id":    userID,
		"item_count": len(req.Items),
		"method":     req.PaymentMethod,
		"channel":    req.PaymentChannel,
	})

	if strings.TrimSpace(userID) == "" {
		return nil, errors.NewValidationError("user_id", "user ID is required")
	}

	if err := ValidatePlaceOrderRequest(req); err != nil {
		s.logger.Warn("Order rejected", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		UserID:         userID,
		Total:          req.Total.Round(2),
		PaymentMethod:  req.PaymentMethod,
		PaymentChannel: req.PaymentChannel,
		Status:         models.OrderStatusPending,
		Address:        strings.TrimSpace(req.Address),
		Email:          req.Email,
		Phone:          req.Phone,
		Items:          make([]models.OrderItem, 0, len(req.Items)),
	}
	if req.PaymentMethod.RequiresGateway() {
		order.PaymentReference = referencePrefix + uuid.NewString()
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	created, err := s.orderRepo.CreateWithItems(ctx, order)
	if err != nil {
		s.logger.Error("Failed to create order", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return nil, err
	}

	s.metrics.OrderPlaced(string(created.PaymentMethod))
	s.cacheOrder(ctx, created)
	if s.eventsEnabled() {
		if err := s.eventPublisher.PublishOrderCreated(ctx, created); err != nil {
			s.logger.Error("Failed to publish order created event", logging.Fields{
				"order_id": created.ID,
				"error":    err.Error(),
			})
		}
	}

	result := &models.PlaceOrderResult{
		Order: created,
		Payment: &models.PaymentInitiation{
			Method:    created.PaymentMethod,
			Channel:   created.PaymentChannel,
			Reference: created.PaymentReference,
		},
	}

	if !created.PaymentMethod.RequiresGateway() {
		result.Message = "Order placed with Cash on Delivery. Pending confirmation."
		s.logger.Info("Order placed", logging.Fields{
			"order_id": created.ID,
			"total":    created.Total.StringFixed(2),
		})
		return result, nil
	}

	charge, err := s.gateway.InitializeCharge(ctx, &models.ChargeRequest{
		AmountMinor: ChargeAmount(created.Total),
		Currency:    s.config.Paystack.Currency,
		Reference:   created.PaymentReference,
		Email:       created.Email,
		Phone:       created.Phone,
		Method:      created.PaymentMethod,
		Channel:     created.PaymentChannel,
		Metadata:    map[string]string{"orderId": created.ID, "userId": created.UserID},
		CallbackURL: s.config.Paystack.CallbackURL,
	})
	if err != nil {
		s.logger.Error("Payment initialization failed; order kept pending", logging.Fields{
			"order_id":  created.ID,
			"reference": created.PaymentReference,
			"error":     err.Error(),
		})
		result.Message = "Order created but payment could not be initialized. Retry verification or contact support."
		if errors.KindOf(err) != errors.KindGateway {
			err = errors.NewGatewayError("payment initialization failed", err)
		}
		return result, err
	}

	result.Payment.AuthorizationURL = charge.AuthorizationURL
	result.Message = fmt.Sprintf("Proceed to %s payment via %s.",
		strings.ToUpper(string(created.PaymentMethod)), strings.ToUpper(string(created.PaymentChannel)))

	s.logger.Info("Order placed", logging.Fields{
		"order_id":  created.ID,
		"reference": created.PaymentReference,
		"total":     created.Total.StringFixed(2),
	})

	return result, nil
}

// GetOrder retrieves an order. Non-admin callers only see their own orders.
func (s *OrderService) GetOrder(ctx context.Context, id, requesterID string, isAdmin bool) (*models.Order, error) {
	s.logger.Debug("Getting order", logging.Fields{"order_id": id})

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if !isAdmin && order.UserID != requesterID {
		s.logger.Warn("Order access denied", logging.Fields{
			"order_id":     id,
			"requester_id": requesterID,
		})
		return nil, errors.ErrForbidden
	}

	return order, nil
}

// GetUserOrders lists a user's orders, newest first.
func (s *OrderService) GetUserOrders(ctx context.Context, userID string) ([]*models.Order, error) {
	if s.cachingEnabled() {
		if orders, err := s.orderCache.GetByUserID(ctx, userID); err == nil && orders != nil {
			return orders, nil
		}
	}

	orders, err := s.orderRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cachingEnabled() {
		if err := s.orderCache.SetByUserID(ctx, userID, orders); err != nil {
			s.logger.Warn("Failed to cache user orders", logging.Fields{
				"user_id": userID,
				"error":   err.Error(),
			})
		}
	}

	return orders, nil
}

// ListOrders lists all orders for admins.
func (s *OrderService) ListOrders(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, 0, err
	}
	return s.orderRepo.List(ctx, filter)
}

// UpdateOrderStatus is the administrative status change.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id string, req *models.UpdateOrderStatusRequest, actor string) (*models.Order, error) {
	target, err := ParseStatusUpdate(req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Updating order status", logging.Fields{
		"order_id":   id,
		"new_status": target,
		"actor":      actor,
	})

	order, _, err := s.TransitionStatus(ctx, id, target, SourceAdmin)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ApproveOrder records admin approval, which gates completion.
func (s *OrderService) ApproveOrder(ctx context.Context, id, actor string) (*models.Order, error) {
	s.logger.Info("Approving order", logging.Fields{
		"order_id": id,
		"actor":    actor,
	})

	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := statemachine.CanApprove(order); err != nil {
		return nil, err
	}
	if order.ApprovedByAdmin {
		return order, nil
	}

	approved, err := s.orderRepo.SetApproval(ctx, id, true)
	if err != nil {
		s.logger.Error("Failed to approve order", logging.Fields{
			"order_id": id,
			"error":    err.Error(),
		})
		return nil, err
	}

	s.invalidate(ctx, approved)
	if s.eventsEnabled() {
		if err := s.eventPublisher.PublishOrderApproved(ctx, approved); err != nil {
			s.logger.Error("Failed to publish order approved event", logging.Fields{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}

	return approved, nil
}

// TransitionStatus moves an order to target if the state machine allows it.
// It reads the current status, evaluates the transition and writes with a
// conditional update, retrying when a concurrent writer wins the race. The
// returned bool is false when the order was already in the target status.
func (s *OrderService) TransitionStatus(ctx context.Context, id string, target models.OrderStatus, source string) (*models.Order, bool, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		current, err := s.orderRepo.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}

		decision, err := statemachine.Evaluate(current, target)
		if err != nil {
			s.logger.Info("Status transition rejected", logging.Fields{
				"order_id": id,
				"from":     current.Status,
				"to":       target,
				"source":   source,
				"reason":   err.Error(),
			})
			return nil, false, err
		}
		if decision == statemachine.NoOp {
			s.logger.Debug("Status transition is a no-op", logging.Fields{
				"order_id": id,
				"status":   current.Status,
				"source":   source,
			})
			return current, false, nil
		}

		updated, err := s.orderRepo.UpdateStatus(ctx, id, current.Status, target)
		if errors.Is(err, errors.ErrConflict) {
			s.logger.Warn("Concurrent status change; re-evaluating", logging.Fields{
				"order_id": id,
				"attempt":  attempt,
				"source":   source,
			})
			continue
		}
		if err != nil {
			return nil, false, err
		}

		s.afterStatusChange(ctx, updated, current.Status, source)
		return updated, true, nil
	}

	return nil, false, errors.ErrConflict
}

func (s *OrderService) afterStatusChange(ctx context.Context, order *models.Order, from models.OrderStatus, source string) {
	s.metrics.StatusTransition(string(from), string(order.Status), source)
	s.invalidate(ctx, order)

	if s.eventsEnabled() {
		if err := s.eventPublisher.PublishOrderStatusChanged(ctx, order, from, source); err != nil {
			s.logger.Error("Failed to publish status change event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}

	s.logger.Info("Order status changed", logging.Fields{
		"order_id":   order.ID,
		"old_status": from,
		"new_status": order.Status,
		"source":     source,
	})
}

func (s *OrderService) loadOrder(ctx context.Context, id string) (*models.Order, error) {
	if s.cachingEnabled() {
		if order, err := s.orderCache.Get(ctx, id); err == nil && order != nil {
			return order, nil
		}
	}

	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cachingEnabled() {
		if err := s.orderCache.Set(ctx, order); err != nil {
			s.logger.Warn("Failed to cache order", logging.Fields{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}
	return order, nil
}

func (s *OrderService) cacheOrder(ctx context.Context, order *models.Order) {
	if !s.cachingEnabled() {
		return
	}
	if err := s.orderCache.Set(ctx, order); err != nil {
		s.logger.Warn("Failed to cache order", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}
	_ = s.orderCache.InvalidateByUserID(ctx, order.UserID)
}

// invalidate writes the updated order through to the cache and drops the
// owner's list. The cache rejects older versions, so a concurrent read that
// loaded the previous status cannot put it back.
func (s *OrderService) invalidate(ctx context.Context, order *models.Order) {
	if !s.cachingEnabled() {
		return
	}
	if err := s.orderCache.Set(ctx, order); err != nil {
		s.logger.Warn("Failed to refresh cached order", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		if err := s.orderCache.Delete(ctx, order.ID); err != nil {
			s.logger.Warn("Failed to invalidate cached order", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
	_ = s.orderCache.InvalidateByUserID(ctx, order.UserID)
}

func (s *OrderService) cachingEnabled() bool {
	return s.orderCache != nil && s.config.Features.EnableOrderCaching
}

func (s *OrderService) eventsEnabled() bool {
	return s.eventPublisher != nil && s.config.Features.EnableOrderEvents
}
