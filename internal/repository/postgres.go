package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// Ensure PostgresOrderRepository implements interfaces.OrderRepository
var _ interfaces.OrderRepository = (*PostgresOrderRepository)(nil)

const uniqueViolation = "23505"

// orderSelect reads an order with its items aggregated into a JSON array.
const orderSelect = `
	SELECT o.id, o.user_id, o.total, o.payment_method, o.payment_channel,
	       o.payment_reference, o.status, o.approved_by_admin, o.address,
	       o.email, o.phone, o.created_at, o.updated_at,
	       COALESCE(
	           json_agg(json_build_object(
	               'id', i.id, 'order_id', i.order_id, 'product_id', i.product_id,
	               'quantity', i.quantity, 'price', i.price
	           ) ORDER BY i.position) FILTER (WHERE i.id IS NOT NULL),
	           '[]'
	       ) AS items
	FROM orders o
	LEFT JOIN order_items i ON i.order_id = o.id
`

// PostgresOrderRepository implements interfaces.OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository.
func NewPostgresOrderRepository(db *sql.DB, logger *logging.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		logger: logger.Named("order-repository"),
	}
}

// CreateWithItems inserts the order row and then each item row inside one
// transaction. An empty item list or any invalid item rolls everything back.
func (r *PostgresOrderRepository) CreateWithItems(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.logger.Debug("Creating order with items", logging.Fields{
		"user_id":    order.UserID,
		"item_count": len(order.Items),
	})

	if len(order.Items) == 0 {
		return nil, errors.NewValidationError("items", "order must have at least one item")
	}
	if !order.Status.Valid() {
		return nil, errors.NewValidationError("status", fmt.Sprintf("unknown status %q", order.Status))
	}

	created := *order
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now
	created.Items = make([]models.OrderItem, 0, len(order.Items))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.persistenceError("begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, total, payment_method, payment_channel, payment_reference,
			status, approved_by_admin, address, email, phone, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		created.ID,
		created.UserID,
		created.Total,
		created.PaymentMethod,
		created.PaymentChannel,
		nullString(created.PaymentReference),
		created.Status,
		created.ApprovedByAdmin,
		created.Address,
		created.Email,
		created.Phone,
		created.CreatedAt,
		created.UpdatedAt,
	)
	if err != nil {
		return nil, r.persistenceError("insert order", err)
	}

	for idx, item := range order.Items {
		if err := validateItem(idx, item); err != nil {
			r.logger.Warn("Rejecting order with invalid item", logging.Fields{
				"order_id": created.ID,
				"index":    idx,
				"error":    err.Error(),
			})
			return nil, err
		}

		item.ID = uuid.NewString()
		item.OrderID = created.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, price, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, item.OrderID, item.ProductID, item.Quantity, item.Price, idx)
		if err != nil {
			return nil, r.persistenceError("insert order item", err)
		}
		created.Items = append(created.Items, item)
	}

	if err := tx.Commit(); err != nil {
		return nil, r.persistenceError("commit order", err)
	}
	committed = true

	r.logger.Info("Order created successfully", logging.Fields{
		"order_id": created.ID,
		"user_id":  created.UserID,
		"total":    created.Total.StringFixed(2),
	})

	return &created, nil
}

// GetByID retrieves an order and its items.
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.logger.Debug("Fetching order by ID", logging.Fields{"order_id": id})

	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, orderSelect+" WHERE o.id = $1 GROUP BY o.id", id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, r.persistenceError("fetch order", err)
	}

	return order, nil
}

// GetByReference retrieves the order correlated with a gateway reference.
func (r *PostgresOrderRepository) GetByReference(ctx context.Context, reference string) (*models.Order, error) {
	r.logger.Debug("Fetching order by reference", logging.Fields{"reference": reference})

	row := r.db.QueryRowContext(ctx, orderSelect+" WHERE o.payment_reference = $1 GROUP BY o.id", reference)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, r.persistenceError("fetch order by reference", err)
	}

	return order, nil
}

// GetByUserID returns a user's orders, newest first.
func (r *PostgresOrderRepository) GetByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	r.logger.Debug("Fetching orders for user", logging.Fields{"user_id": userID})

	rows, err := r.db.QueryContext(ctx, orderSelect+" WHERE o.user_id = $1 GROUP BY o.id ORDER BY o.created_at DESC", userID)
	if err != nil {
		return nil, r.persistenceError("list user orders", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, r.persistenceError("scan user orders", err)
	}
	return orders, nil
}

// List retrieves orders based on filter criteria.
func (r *PostgresOrderRepository) List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	r.logger.Debug("Listing orders", logging.Fields{
		"status": filter.Status,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})

	where := ""
	args := make([]interface{}, 0, 3)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = fmt.Sprintf(" WHERE o.status = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders o"+where, args...).Scan(&total); err != nil {
		return nil, 0, r.persistenceError("count orders", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := orderSelect + where + fmt.Sprintf(
		" GROUP BY o.id ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, r.persistenceError("list orders", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, 0, r.persistenceError("scan orders", err)
	}

	r.logger.Info("Orders listed", logging.Fields{
		"count": len(orders),
		"total": total,
	})

	return orders, total, nil
}

// UpdateStatus is a compare-and-set on the status column.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, expected, target models.OrderStatus) (*models.Order, error) {
	r.logger.Debug("Updating order status", logging.Fields{
		"order_id": id,
		"expected": expected,
		"target":   target,
	})

	if !target.Valid() {
		return nil, errors.NewValidationError("status", fmt.Sprintf("unknown status %q", target))
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, expected, target, time.Now().UTC())
	if err != nil {
		return nil, r.persistenceError("update order status", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, r.persistenceError("update order status", err)
	}
	if affected == 0 {
		return nil, r.missOrConflict(ctx, id)
	}

	r.logger.Info("Order status updated", logging.Fields{
		"order_id":   id,
		"old_status": expected,
		"new_status": target,
	})

	return r.GetByID(ctx, id)
}

// SetApproval records the admin approval flag.
func (r *PostgresOrderRepository) SetApproval(ctx context.Context, id string, approved bool) (*models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET approved_by_admin = $2, updated_at = $3
		WHERE id = $1
	`, id, approved, time.Now().UTC())
	if err != nil {
		return nil, r.persistenceError("update order approval", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, r.persistenceError("update order approval", err)
	}
	if affected == 0 {
		return nil, errors.ErrNotFound
	}

	r.logger.Info("Order approval updated", logging.Fields{
		"order_id": id,
		"approved": approved,
	})

	return r.GetByID(ctx, id)
}

// ListAwaitingPayment returns pending orders with a gateway reference created
// before olderThan. Orders never swept come first, then the least recently swept.
func (r *PostgresOrderRepository) ListAwaitingPayment(ctx context.Context, olderThan time.Time, limit int) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, orderSelect+`
		WHERE o.status = $1 AND o.payment_reference IS NOT NULL AND o.created_at < $2
		GROUP BY o.id
		ORDER BY o.last_reconciled_at ASC NULLS FIRST, o.created_at ASC
		LIMIT $3
	`, models.OrderStatusPending, olderThan, limit)
	if err != nil {
		return nil, r.persistenceError("list orders awaiting payment", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, r.persistenceError("scan orders awaiting payment", err)
	}
	return orders, nil
}

// MarkReconciled records a reconciliation attempt so the next sweep moves on
// to other orders.
func (r *PostgresOrderRepository) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET last_reconciled_at = $2
		WHERE id = $1
	`, id, at.UTC())
	if err != nil {
		return r.persistenceError("mark order reconciled", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return r.persistenceError("mark order reconciled", err)
	}
	if affected == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (r *PostgresOrderRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return r.persistenceError("check order existence", err)
	}
	if !exists {
		return errors.ErrNotFound
	}
	return errors.ErrConflict
}

func (r *PostgresOrderRepository) persistenceError(op string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		r.logger.Warn("Unique constraint violated", logging.Fields{
			"operation":  op,
			"constraint": pqErr.Constraint,
		})
		return errors.ErrConflict
	}

	r.logger.Error("Database operation failed", logging.Fields{
		"operation": op,
		"error":     err.Error(),
	})
	return errors.NewPersistenceError(err)
}

func validateItem(idx int, item models.OrderItem) error {
	field := fmt.Sprintf("items[%d]", idx)
	switch {
	case strings.TrimSpace(item.ProductID) == "":
		return errors.NewValidationError(field+".product_id", "product reference is required")
	case item.Quantity <= 0:
		return errors.NewValidationError(field+".quantity", "quantity must be positive")
	case !item.Price.IsPositive():
		return errors.NewValidationError(field+".price", "price must be positive")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var reference sql.NullString
	var itemsJSON []byte

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Total,
		&order.PaymentMethod,
		&order.PaymentChannel,
		&reference,
		&order.Status,
		&order.ApprovedByAdmin,
		&order.Address,
		&order.Email,
		&order.Phone,
		&order.CreatedAt,
		&order.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		return nil, err
	}

	if reference.Valid {
		order.PaymentReference = reference.String
	}

	order.Items = make([]models.OrderItem, 0)
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, err
	}

	return &order, nil
}

func scanOrders(rows *sql.Rows) ([]*models.Order, error) {
	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
