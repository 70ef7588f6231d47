// Package interfaces declares the collaborator contracts the order services depend on.
package interfaces

import (
	"context"
	"time"

	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// OrderRepository persists orders and their items.
type OrderRepository interface {
	// CreateWithItems stores the order and every item in one transaction.
	// Nothing is persisted if any item is invalid.
	CreateWithItems(ctx context.Context, order *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByReference(ctx context.Context, reference string) (*models.Order, error)
	GetByUserID(ctx context.Context, userID string) ([]*models.Order, error)
	List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error)
	// UpdateStatus writes target only if the stored status still equals expected.
	// It returns errors.ErrNotFound for an unknown id and errors.ErrConflict when
	// the status changed underneath the caller.
	UpdateStatus(ctx context.Context, id string, expected, target models.OrderStatus) (*models.Order, error)
	SetApproval(ctx context.Context, id string, approved bool) (*models.Order, error)
	// ListAwaitingPayment returns pending gateway orders created before olderThan,
	// least recently reconciled first.
	ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error)
	// MarkReconciled stamps the time of the latest reconciliation attempt.
	MarkReconciled(ctx context.Context, id string, at time.Time) error
}

// OrderCache caches order reads. A miss returns (nil, nil).
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	// Set ignores an order whose UpdatedAt is older than the cached version.
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
	GetByUserID(ctx context.Context, userID string) ([]*models.Order, error)
	SetByUserID(ctx context.Context, userID string, orders []*models.Order) error
	InvalidateByUserID(ctx context.Context, userID string) error
}

// PaymentGateway initializes and verifies charges with a payment provider.
type PaymentGateway interface {
	InitializeCharge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeInitialization, error)
	VerifyCharge(ctx context.Context, reference string) (*models.ChargeVerification, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// OrderEventPublisher notifies downstream collaborators about order changes.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *models.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus, source string) error
	PublishOrderApproved(ctx context.Context, order *models.Order) error
}
