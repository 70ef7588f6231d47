package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

const testOrderID = "5f0c6f64-3f1e-4a8e-9d8a-2b7f6b1c9a11"

var orderColumns = []string{
	"id", "user_id", "total", "payment_method", "payment_channel",
	"payment_reference", "status", "approved_by_admin", "address",
	"email", "phone", "created_at", "updated_at", "items",
}

func newMockRepo(t *testing.T) (*PostgresOrderRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresOrderRepository(db, logging.NewNop()), mock
}

func newOrder(items ...models.OrderItem) *models.Order {
	return &models.Order{
		UserID:           "user-1",
		Total:            decimal.RequireFromString("25.00"),
		PaymentMethod:    models.PaymentMethodMomo,
		PaymentChannel:   models.ChannelMTN,
		PaymentReference: "ORD-1",
		Status:           models.OrderStatusPending,
		Address:          "12 Ring Road, Accra",
		Email:            "ama@example.com",
		Items:            items,
	}
}

func item(productID string, qty int, price string) models.OrderItem {
	return models.OrderItem{ProductID: productID, Quantity: qty, Price: decimal.RequireFromString(price)}
}

func orderRow(status string, approved bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderColumns).AddRow(
		testOrderID, "user-1", "25.00", "momo", "mtn",
		"ORD-1", status, approved, "12 Ring Road, Accra",
		"ama@example.com", "", now, now,
		[]byte(`[{"id":"i-1","order_id":"`+testOrderID+`","product_id":"A","quantity":2,"price":10.00},{"id":"i-2","order_id":"`+testOrderID+`","product_id":"B","quantity":1,"price":5}]`),
	)
}

func TestCreateWithItems_CommitsOrderAndItems(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "A", 2, sqlmock.AnyArg(), 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "B", 1, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.CreateWithItems(context.Background(), newOrder(item("A", 2, "10"), item("B", 1, "5")))
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	require.Len(t, created.Items, 2)
	for _, it := range created.Items {
		assert.Equal(t, created.ID, it.OrderID)
		assert.NotEmpty(t, it.ID)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithItems_InvalidItemRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_items")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := repo.CreateWithItems(context.Background(), newOrder(item("A", 2, "10"), item("B", -1, "5")))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithItems_EmptyItemsTouchesNothing(t *testing.T) {
	repo, mock := newMockRepo(t)

	_, err := repo.CreateWithItems(context.Background(), newOrder())
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithItems_DuplicateReference(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_payment_reference_key"})
	mock.ExpectRollback()

	_, err := repo.CreateWithItems(context.Background(), newOrder(item("A", 1, "25")))
	assert.ErrorIs(t, err, errors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWithItems_DriverErrorIsGeneric(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.CreateWithItems(context.Background(), newOrder(item("A", 1, "25")))
	require.Error(t, err)
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindPersistence, e.Kind)
	assert.Equal(t, "operation failed", e.Message)
}

func TestGetByID_AggregatesItems(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE o.id = $1 GROUP BY o.id")).
		WithArgs(testOrderID).
		WillReturnRows(orderRow("pending", false))

	order, err := repo.GetByID(context.Background(), testOrderID)
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, "ORD-1", order.PaymentReference)
	assert.True(t, decimal.RequireFromString("25").Equal(order.Total))
	require.Len(t, order.Items, 2)
	assert.True(t, decimal.RequireFromString("10").Equal(order.Items[0].Price))
	assert.Equal(t, 2, order.Items[0].Quantity)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE o.id = $1")).WillReturnRows(sqlmock.NewRows(orderColumns))

	_, err := repo.GetByID(context.Background(), testOrderID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateStatus_ConditionalWrite(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs(testOrderID, models.OrderStatusPending, models.OrderStatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE o.id = $1")).WillReturnRows(orderRow("processing", false))

	order, err := repo.UpdateStatus(context.Background(), testOrderID, models.OrderStatusPending, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_LostRace(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := repo.UpdateStatus(context.Background(), testOrderID, models.OrderStatusPending, models.OrderStatusProcessing)
	assert.ErrorIs(t, err, errors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_UnknownOrder(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := repo.UpdateStatus(context.Background(), testOrderID, models.OrderStatusPending, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	repo, mock := newMockRepo(t)

	_, err := repo.UpdateStatus(context.Background(), testOrderID, models.OrderStatusPending, models.OrderStatus("refunded"))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_FiltersByStatus(t *testing.T) {
	repo, mock := newMockRepo(t)
	status := models.OrderStatusShipped

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM orders o WHERE o.status = $1")).
		WithArgs(status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT $2 OFFSET $3")).
		WithArgs(status, 20, 40).
		WillReturnRows(orderRow("shipped", false))

	orders, total, err := repo.List(context.Background(), &models.OrderListFilter{Status: &status, Limit: 20, Offset: 40})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	assert.Len(t, orders, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAwaitingPayment(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("o.payment_reference IS NOT NULL")).
		WithArgs(models.OrderStatusPending, cutoff, 50).
		WillReturnRows(orderRow("pending", false))

	orders, err := repo.ListAwaitingPayment(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestListAwaitingPayment_LeastRecentlyReconciledFirst(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := time.Now().Add(-10 * time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY o.last_reconciled_at ASC NULLS FIRST, o.created_at ASC")).
		WithArgs(models.OrderStatusPending, cutoff, 2).
		WillReturnRows(sqlmock.NewRows(orderColumns))

	orders, err := repo.ListAwaitingPayment(context.Background(), cutoff, 2)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReconciled(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("SET last_reconciled_at = $2")).
		WithArgs(testOrderID, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkReconciled(context.Background(), testOrderID, at))

	mock.ExpectExec(regexp.QuoteMeta("SET last_reconciled_at = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.MarkReconciled(context.Background(), testOrderID, at), errors.ErrNotFound)

	assert.ErrorIs(t, repo.MarkReconciled(context.Background(), "not-a-uuid", at), errors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_ItemsKeepSubmissionOrder(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY i.position")).
		WithArgs(testOrderID).
		WillReturnRows(orderRow("pending", false))

	order, err := repo.GetByID(context.Background(), testOrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "A", order.Items[0].ProductID)
	assert.Equal(t, "B", order.Items[1].ProductID)
}

func TestSetApproval(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("SET approved_by_admin = $2")).
		WithArgs(testOrderID, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE o.id = $1")).WillReturnRows(orderRow("shipped", true))

	order, err := repo.SetApproval(context.Background(), testOrderID, true)
	require.NoError(t, err)
	assert.True(t, order.ApprovedByAdmin)
}
