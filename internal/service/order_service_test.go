package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/metrics"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
	"github.com/fosten-shop/fosten-orders-service/internal/testutil"
)

const webhookSecret = "sk_test_secret"

type fixture struct {
	repo      *testutil.OrderRepository
	cache     *testutil.OrderCache
	gateway   *testutil.Gateway
	publisher *testutil.Publisher
	metrics   *metrics.Metrics
	config    *config.Config
	orders    *OrderService
	payments  *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Paystack: config.PaystackConfig{
			Currency:    "GHS",
			CallbackURL: "https://shop.example/order-success",
		},
		Reconciliation: config.ReconciliationConfig{
			Interval:  time.Minute,
			MinAge:    10 * time.Minute,
			BatchSize: 10,
		},
		Features: config.FeatureFlags{
			EnableOrderCaching: true,
			EnableOrderEvents:  true,
		},
	}

	f := &fixture{
		repo:      testutil.NewOrderRepository(),
		cache:     testutil.NewOrderCache(),
		gateway:   testutil.NewGateway(webhookSecret),
		publisher: &testutil.Publisher{},
		metrics:   metrics.New(prometheus.NewRegistry()),
		config:    cfg,
	}
	logger := logging.NewNop()
	f.orders = NewOrderService(f.repo, f.cache, f.gateway, f.publisher, f.metrics, cfg, logger)
	f.payments = NewPaymentService(f.orders, f.repo, f.gateway, f.metrics, cfg, logger)
	return f
}

func momoRequest() *models.PlaceOrderRequest {
	return &models.PlaceOrderRequest{
		Items: []models.PlaceOrderItem{
			{ProductID: "prod-1", Quantity: 2, Price: decimal.RequireFromString("25.00")},
			{ProductID: "prod-2", Quantity: 1, Price: decimal.RequireFromString("50.00")},
		},
		Address:        "12 Ring Road, Accra",
		PaymentMethod:  models.PaymentMethodMomo,
		PaymentChannel: models.ChannelMTN,
		Total:          decimal.RequireFromString("100.00"),
		Email:          "ama@example.com",
		Phone:          "0241234567",
	}
}

func codRequest() *models.PlaceOrderRequest {
	req := momoRequest()
	req.PaymentMethod = models.PaymentMethodCOD
	req.PaymentChannel = models.ChannelCODPickup
	req.Phone = ""
	return req
}

// placeOrder places a momo order and returns it.
func (f *fixture) placeOrder(t *testing.T) *models.Order {
	t.Helper()
	result, err := f.orders.PlaceOrder(context.Background(), "user-1", momoRequest())
	require.NoError(t, err)
	return result.Order
}

func TestPlaceOrder_MomoInitializesCharge(t *testing.T) {
	f := newFixture(t)

	result, err := f.orders.PlaceOrder(context.Background(), "user-1", momoRequest())
	require.NoError(t, err)

	order := result.Order
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.NotEmpty(t, order.PaymentReference)
	assert.Contains(t, order.PaymentReference, "ORD-")
	assert.Len(t, order.Items, 2)
	assert.False(t, order.ApprovedByAdmin)

	require.Len(t, f.gateway.InitRequests, 1)
	charge := f.gateway.InitRequests[0]
	assert.Equal(t, int64(10000), charge.AmountMinor)
	assert.Equal(t, "GHS", charge.Currency)
	assert.Equal(t, order.PaymentReference, charge.Reference)
	assert.Equal(t, models.ChannelMTN, charge.Channel)
	assert.Equal(t, "0241234567", charge.Phone)
	assert.Equal(t, order.ID, charge.Metadata["orderId"])
	assert.Equal(t, "user-1", charge.Metadata["userId"])
	assert.Equal(t, "https://shop.example/order-success", charge.CallbackURL)

	require.NotNil(t, result.Payment)
	assert.Equal(t, f.gateway.AuthorizationURL, result.Payment.AuthorizationURL)
	assert.Equal(t, "Proceed to MOMO payment via MTN.", result.Message)

	assert.Len(t, f.publisher.OfType("order.created"), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.OrdersPlaced.WithLabelValues("momo")))
}

func TestPlaceOrder_CODSkipsGateway(t *testing.T) {
	f := newFixture(t)

	result, err := f.orders.PlaceOrder(context.Background(), "user-1", codRequest())
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, result.Order.Status)
	assert.Empty(t, result.Order.PaymentReference)
	assert.Empty(t, f.gateway.InitRequests)
	assert.Equal(t, "Order placed with Cash on Delivery. Pending confirmation.", result.Message)
}

func TestPlaceOrder_ValidationFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.PlaceOrderRequest)
		field  string
	}{
		{"no items", func(r *models.PlaceOrderRequest) { r.Items = nil }, "items"},
		{"zero quantity", func(r *models.PlaceOrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"negative price", func(r *models.PlaceOrderRequest) { r.Items[1].Price = decimal.NewFromInt(-1) }, "items[1].price"},
		{"channel not allowed for method", func(r *models.PlaceOrderRequest) { r.PaymentChannel = models.ChannelVisa }, "payment_channel"},
		{"unknown method", func(r *models.PlaceOrderRequest) { r.PaymentMethod = "paypal" }, "payment_method"},
		{"total mismatch", func(r *models.PlaceOrderRequest) { r.Total = decimal.RequireFromString("99.99") }, "total"},
		{"momo without phone", func(r *models.PlaceOrderRequest) { r.Phone = "" }, "phone"},
		{"bad email", func(r *models.PlaceOrderRequest) { r.Email = "not-an-email" }, "email"},
		{"missing address", func(r *models.PlaceOrderRequest) { r.Address = "" }, "address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := momoRequest()
			tt.mutate(req)

			_, err := f.orders.PlaceOrder(context.Background(), "user-1", req)
			require.Error(t, err)

			typed, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.KindValidation, typed.Kind)
			assert.Equal(t, tt.field, typed.Field)
			assert.Equal(t, 0, f.repo.Count())
			assert.Empty(t, f.gateway.InitRequests)
		})
	}
}

func TestPlaceOrder_PersistenceFailureSkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.repo.CreateErr = errors.NewPersistenceError(stderrors.New("connection reset"))

	_, err := f.orders.PlaceOrder(context.Background(), "user-1", momoRequest())

	assert.Equal(t, errors.KindPersistence, errors.KindOf(err))
	assert.Equal(t, 0, f.repo.Count())
	assert.Empty(t, f.gateway.InitRequests)
}

func TestPlaceOrder_GatewayFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.InitErr = errors.NewGatewayError("payment initialization failed", stderrors.New("timeout"))

	result, err := f.orders.PlaceOrder(context.Background(), "user-1", momoRequest())

	assert.Equal(t, errors.KindGateway, errors.KindOf(err))
	require.NotNil(t, result)
	require.NotNil(t, result.Order)
	assert.Equal(t, models.OrderStatusPending, result.Order.Status)
	assert.Equal(t, 1, f.repo.Count())

	stored, getErr := f.repo.GetByID(context.Background(), result.Order.ID)
	require.NoError(t, getErr)
	assert.Equal(t, result.Order.PaymentReference, stored.PaymentReference)
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)
	ctx := context.Background()

	got, err := f.orders.GetOrder(ctx, order.ID, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orders.GetOrder(ctx, order.ID, "user-2", false)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	got, err = f.orders.GetOrder(ctx, order.ID, "admin-1", true)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orders.GetOrder(ctx, "missing", "user-1", false)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestGetUserOrders_CachesAndInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.placeOrder(t)

	orders, err := f.orders.GetUserOrders(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	f.placeOrder(t)

	orders, err = f.orders.GetUserOrders(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestListOrders_FilterAndPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.placeOrder(t)
	f.placeOrder(t)
	f.repo.SetStatus(first.ID, models.OrderStatusProcessing)

	processing := models.OrderStatusProcessing
	orders, total, err := f.orders.ListOrders(ctx, &models.OrderListFilter{Status: &processing})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, first.ID, orders[0].ID)

	_, _, err = f.orders.ListOrders(ctx, &models.OrderListFilter{Limit: -1})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestUpdateOrderStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)

	_, err := f.orders.UpdateOrderStatus(ctx, order.ID, &models.UpdateOrderStatusRequest{Status: "shipped"}, "admin-1")
	assert.Equal(t, errors.KindPrecondition, errors.KindOf(err), "pending cannot skip to shipped")

	updated, err := f.orders.UpdateOrderStatus(ctx, order.ID, &models.UpdateOrderStatusRequest{Status: "processing"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)

	updated, err = f.orders.UpdateOrderStatus(ctx, order.ID, &models.UpdateOrderStatusRequest{Status: "shipped"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, updated.Status)

	_, err = f.orders.UpdateOrderStatus(ctx, order.ID, &models.UpdateOrderStatusRequest{Status: "completed"}, "admin-1")
	assert.Equal(t, errors.KindPrecondition, errors.KindOf(err), "completion requires approval")

	_, err = f.orders.ApproveOrder(ctx, order.ID, "admin-1")
	require.NoError(t, err)

	updated, err = f.orders.UpdateOrderStatus(ctx, order.ID, &models.UpdateOrderStatusRequest{Status: "delivered"}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, updated.Status)

	changes := f.publisher.OfType("order.status_changed")
	require.Len(t, changes, 3)
	assert.Equal(t, SourceAdmin, changes[0].Source)
	assert.Len(t, f.publisher.OfType("order.approved"), 1)
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.StatusTransitions.WithLabelValues("shipped", "completed", SourceAdmin)))
}

func TestUpdateOrderStatus_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	_, err := f.orders.UpdateOrderStatus(context.Background(), order.ID, &models.UpdateOrderStatusRequest{Status: "teleported"}, "admin-1")

	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestUpdateOrderStatus_RefreshesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)
	require.True(t, f.cache.Cached(order.ID))

	_, err := f.orders.UpdateOrderStatus(ctx, order.ID, &models.UpdateOrderStatusRequest{Status: "processing"}, "admin-1")
	require.NoError(t, err)

	cached, err := f.cache.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, models.OrderStatusProcessing, cached.Status)

	got, err := f.orders.GetOrder(ctx, order.ID, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
}

func TestGetOrder_SlowCacheFillDoesNotOverwriteTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Now()
	f.repo.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	order := f.placeOrder(t)
	require.NoError(t, f.cache.Delete(ctx, order.ID))

	// The transition commits after GetOrder read the pending row but before
	// it filled the cache.
	fired := false
	f.cache.BeforeSet = func(o *models.Order) {
		if fired || o.Status != models.OrderStatusPending {
			return
		}
		fired = true
		_, _, err := f.orders.TransitionStatus(ctx, order.ID, models.OrderStatusProcessing, SourceWebhook)
		require.NoError(t, err)
	}

	got, err := f.orders.GetOrder(ctx, order.ID, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	require.True(t, fired)

	got, err = f.orders.GetOrder(ctx, order.ID, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
}

func TestApproveOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t)

	approved, err := f.orders.ApproveOrder(ctx, order.ID, "admin-1")
	require.NoError(t, err)
	assert.True(t, approved.ApprovedByAdmin)

	again, err := f.orders.ApproveOrder(ctx, order.ID, "admin-1")
	require.NoError(t, err)
	assert.True(t, again.ApprovedByAdmin)
	assert.Len(t, f.publisher.OfType("order.approved"), 1, "repeat approval publishes nothing")

	cancelled := f.placeOrder(t)
	f.repo.SetStatus(cancelled.ID, models.OrderStatusCancelled)
	_, err = f.orders.ApproveOrder(ctx, cancelled.ID, "admin-1")
	assert.Equal(t, errors.KindPrecondition, errors.KindOf(err))

	_, err = f.orders.ApproveOrder(ctx, "missing", "admin-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestTransitionStatus_CompletedWithoutApprovalFromAnyStatus(t *testing.T) {
	for _, status := range models.AllOrderStatuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			order := f.placeOrder(t)
			f.repo.SetStatus(order.ID, status)

			_, _, err := f.orders.TransitionStatus(context.Background(), order.ID, models.OrderStatusCompleted, SourceAdmin)

			assert.Equal(t, errors.KindPrecondition, errors.KindOf(err))
		})
	}
}

func TestTransitionStatus_ReevaluatesAfterConcurrentWrite(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	raced := false
	f.repo.BeforeUpdate = func(id string) {
		if !raced {
			raced = true
			f.repo.SetStatus(id, models.OrderStatusProcessing)
		}
	}

	updated, changed, err := f.orders.TransitionStatus(context.Background(), order.ID, models.OrderStatusProcessing, SourceVerify)

	require.NoError(t, err)
	assert.False(t, changed, "the concurrent writer already applied the transition")
	assert.Equal(t, models.OrderStatusProcessing, updated.Status)
	assert.Empty(t, f.publisher.OfType("order.status_changed"))
}

func TestTransitionStatus_ConcurrentCancelWins(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	raced := false
	f.repo.BeforeUpdate = func(id string) {
		if !raced {
			raced = true
			f.repo.SetStatus(id, models.OrderStatusCancelled)
		}
	}

	_, _, err := f.orders.TransitionStatus(context.Background(), order.ID, models.OrderStatusProcessing, SourceWebhook)

	assert.Equal(t, errors.KindPrecondition, errors.KindOf(err))
	stored, _ := f.repo.GetByID(context.Background(), order.ID)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
}

func TestTransitionStatus_GivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t)

	// Each attempt reads a non-terminal status and loses the race to another writer.
	interleaved := []models.OrderStatus{
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusProcessing,
	}
	calls := 0
	f.repo.BeforeUpdate = func(id string) {
		f.repo.SetStatus(id, interleaved[calls%len(interleaved)])
		calls++
	}

	_, _, err := f.orders.TransitionStatus(context.Background(), order.ID, models.OrderStatusCancelled, SourceAdmin)

	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Equal(t, maxTransitionAttempts, calls)
}

func TestNewOrderService_FeatureFlagsOff(t *testing.T) {
	f := newFixture(t)
	f.config.Features = config.FeatureFlags{}

	order := f.placeOrder(t)

	assert.False(t, f.cache.Cached(order.ID))
	assert.Empty(t, f.publisher.Events)
}
