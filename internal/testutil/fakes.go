// Package testutil provides in-memory collaborators for service and handler tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fosten-shop/fosten-orders-service/internal/clients"
	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

var (
	_ interfaces.OrderRepository     = (*OrderRepository)(nil)
	_ interfaces.OrderCache          = (*OrderCache)(nil)
	_ interfaces.PaymentGateway      = (*Gateway)(nil)
	_ interfaces.OrderEventPublisher = (*Publisher)(nil)
)

// OrderRepository is an in-memory store with the same atomicity and
// compare-and-set semantics as the Postgres repository.
type OrderRepository struct {
	mu         sync.Mutex
	orders     map[string]*models.Order
	reconciled map[string]time.Time

	// BeforeUpdate runs before the conditional update compares statuses.
	// Tests use it to simulate a concurrent writer.
	BeforeUpdate func(id string)
	// CreateErr, when set, fails CreateWithItems before anything is stored.
	CreateErr error
	Now       func() time.Time
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:     make(map[string]*models.Order),
		reconciled: make(map[string]time.Time),
		Now:        time.Now,
	}
}

func (r *OrderRepository) CreateWithItems(ctx context.Context, order *models.Order) (*models.Order, error) {
	if r.CreateErr != nil {
		return nil, r.CreateErr
	}
	if len(order.Items) == 0 {
		return nil, errors.NewValidationError("items", "at least one item is required")
	}
	for _, item := range order.Items {
		if item.ProductID == "" || item.Quantity <= 0 || !item.Price.IsPositive() {
			return nil, errors.NewValidationError("items", "invalid item")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if order.PaymentReference != "" {
		for _, existing := range r.orders {
			if existing.PaymentReference == order.PaymentReference {
				return nil, errors.ErrConflict
			}
		}
	}

	stored := clone(order)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := r.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	for i := range stored.Items {
		stored.Items[i].ID = uuid.NewString()
		stored.Items[i].OrderID = stored.ID
	}
	r.orders[stored.ID] = stored

	return clone(stored), nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return clone(order), nil
}

func (r *OrderRepository) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, order := range r.orders {
		if order.PaymentReference != "" && order.PaymentReference == reference {
			return clone(order), nil
		}
	}
	return nil, errors.ErrNotFound
}

func (r *OrderRepository) GetByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Order
	for _, order := range r.orders {
		if order.UserID == userID {
			out = append(out, clone(order))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *OrderRepository) List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*models.Order
	for _, order := range r.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		matched = append(matched, clone(order))
	}
	sortNewestFirst(matched)

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Order{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, expected, target models.OrderStatus) (*models.Order, error) {
	if r.BeforeUpdate != nil {
		r.BeforeUpdate(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if order.Status != expected {
		return nil, errors.ErrConflict
	}
	order.Status = target
	order.UpdatedAt = r.Now()
	return clone(order), nil
}

func (r *OrderRepository) SetApproval(ctx context.Context, id string, approved bool) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	order.ApprovedByAdmin = approved
	order.UpdatedAt = r.Now()
	return clone(order), nil
}

func (r *OrderRepository) ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Order
	for _, order := range r.orders {
		if order.Status == models.OrderStatusPending && order.PaymentReference != "" && order.CreatedAt.Before(olderThan) {
			out = append(out, clone(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iSwept := r.reconciled[out[i].ID]
		rj, jSwept := r.reconciled[out[j].ID]
		switch {
		case iSwept != jSwept:
			return !iSwept
		case iSwept && !ri.Equal(rj):
			return ri.Before(rj)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[id]; !ok {
		return errors.ErrNotFound
	}
	r.reconciled[id] = at
	return nil
}

// ReconciledAt returns when id was last marked reconciled.
func (r *OrderRepository) ReconciledAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.reconciled[id]
	return at, ok
}

// Put stores order as-is, bypassing validation.
func (r *OrderRepository) Put(order *models.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = clone(order)
}

// SetStatus overwrites a stored status without any checks.
func (r *OrderRepository) SetStatus(id string, status models.OrderStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order, ok := r.orders[id]; ok {
		order.Status = status
	}
}

// Count returns the number of stored orders.
func (r *OrderRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func clone(order *models.Order) *models.Order {
	c := *order
	c.Items = append([]models.OrderItem(nil), order.Items...)
	return &c
}

func sortNewestFirst(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
}

// Gateway is a scripted payment gateway. Signatures are checked with the
// real HMAC scheme against Secret.
type Gateway struct {
	mu sync.Mutex

	Secret           string
	AuthorizationURL string
	InitErr          error
	VerifyErr        error
	// VerifyErrs fails VerifyCharge for specific references.
	VerifyErrs map[string]error
	// Verifications maps a reference to the outcome VerifyCharge returns.
	Verifications map[string]*models.ChargeVerification

	InitRequests []*models.ChargeRequest
	VerifyCalls  []string
}

func NewGateway(secret string) *Gateway {
	return &Gateway{
		Secret:           secret,
		AuthorizationURL: "https://checkout.paystack.test/abc",
		Verifications:    make(map[string]*models.ChargeVerification),
		VerifyErrs:       make(map[string]error),
	}
}

func (g *Gateway) InitializeCharge(ctx context.Context, req *models.ChargeRequest) (*models.ChargeInitialization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.InitRequests = append(g.InitRequests, req)
	if g.InitErr != nil {
		return nil, g.InitErr
	}
	return &models.ChargeInitialization{
		AuthorizationURL: g.AuthorizationURL,
		AccessCode:       "access_" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *Gateway) VerifyCharge(ctx context.Context, reference string) (*models.ChargeVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.VerifyCalls = append(g.VerifyCalls, reference)
	if g.VerifyErr != nil {
		return nil, g.VerifyErr
	}
	if err, ok := g.VerifyErrs[reference]; ok {
		return nil, err
	}
	v, ok := g.Verifications[reference]
	if !ok {
		return &models.ChargeVerification{
			Reference:     reference,
			GatewayStatus: models.GatewayStatusPending,
			Target:        models.OrderStatusPending,
		}, nil
	}
	out := *v
	return &out, nil
}

func (g *Gateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	return clients.VerifyPaystackSignature(payload, signature, g.Secret)
}

// SetOutcome scripts the verification outcome for reference.
func (g *Gateway) SetOutcome(reference, orderID string, status models.GatewayStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Verifications[reference] = &models.ChargeVerification{
		Reference:     reference,
		GatewayStatus: status,
		OrderID:       orderID,
		Target:        clients.MapGatewayStatus(status),
	}
}

// Sign returns the signature header value for payload.
func (g *Gateway) Sign(payload []byte) string {
	return clients.SignPayload(payload, g.Secret)
}

// PublishedEvent is one call recorded by Publisher.
type PublishedEvent struct {
	Type    string
	OrderID string
	From    models.OrderStatus
	To      models.OrderStatus
	Source  string
}

// Publisher records published events.
type Publisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
	Err    error
}

func (p *Publisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.record(PublishedEvent{Type: "order.created", OrderID: order.ID, To: order.Status})
}

func (p *Publisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus, source string) error {
	return p.record(PublishedEvent{Type: "order.status_changed", OrderID: order.ID, From: from, To: order.Status, Source: source})
}

func (p *Publisher) PublishOrderApproved(ctx context.Context, order *models.Order) error {
	return p.record(PublishedEvent{Type: "order.approved", OrderID: order.ID, To: order.Status})
}

func (p *Publisher) record(e PublishedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, e)
	return p.Err
}

// OfType returns the recorded events of the given type.
func (p *Publisher) OfType(eventType string) []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedEvent
	for _, e := range p.Events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// OrderCache is a map-backed cache with the same version check as Redis.
type OrderCache struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	versions map[string]time.Time
	byUser   map[string][]*models.Order

	// BeforeSet runs before Set compares versions.
	BeforeSet func(order *models.Order)
}

func NewOrderCache() *OrderCache {
	return &OrderCache{
		orders:   make(map[string]*models.Order),
		versions: make(map[string]time.Time),
		byUser:   make(map[string][]*models.Order),
	}
}

func (c *OrderCache) Get(ctx context.Context, id string) (*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if order, ok := c.orders[id]; ok {
		return clone(order), nil
	}
	return nil, nil
}

func (c *OrderCache) Set(ctx context.Context, order *models.Order) error {
	if c.BeforeSet != nil {
		c.BeforeSet(order)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.versions[order.ID]; ok && current.After(order.UpdatedAt) {
		return nil
	}
	c.orders[order.ID] = clone(order)
	c.versions[order.ID] = order.UpdatedAt
	return nil
}

func (c *OrderCache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.orders, id)
	return nil
}

func (c *OrderCache) GetByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders, ok := c.byUser[userID]
	if !ok {
		return nil, nil
	}
	return orders, nil
}

func (c *OrderCache) SetByUserID(ctx context.Context, userID string, orders []*models.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[userID] = orders
	return nil
}

func (c *OrderCache) InvalidateByUserID(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byUser, userID)
	return nil
}

// Cached reports whether id is currently cached.
func (c *OrderCache) Cached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.orders[id]
	return ok
}
