package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/middleware"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// PlaceOrder handles POST /api/v1/orders
func (h *Handlers) PlaceOrder(c *gin.Context) {
	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	identity := middleware.IdentityFrom(c)
	result, err := h.orderService.PlaceOrder(c.Request.Context(), identity.UserID, &req)
	if err != nil {
		// The order is committed even when payment initialization fails.
		if result != nil && result.Order != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "payment initialization failed",
				"order":   result.Order,
				"payment": result.Payment,
				"message": result.Message,
			})
			return
		}
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetMyOrders handles GET /api/v1/orders/me
func (h *Handlers) GetMyOrders(c *gin.Context) {
	identity := middleware.IdentityFrom(c)

	orders, err := h.orderService.GetUserOrders(c.Request.Context(), identity.UserID)
	if err != nil {
		handleError(c, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  len(orders),
	})
}

// GetOrder handles GET /api/v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	id := c.Param("id")
	identity := middleware.IdentityFrom(c)

	order, err := h.orderService.GetOrder(c.Request.Context(), id, identity.UserID, identity.IsAdmin())
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	filter := &models.OrderListFilter{}

	if raw := c.Query("status"); raw != "" {
		status, ok := models.ParseOrderStatus(raw)
		if !ok {
			handleError(c, errors.NewValidationError("status", "invalid order status"))
			return
		}
		filter.Status = &status
	}

	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		handleError(c, err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		handleError(c, err)
		return
	}

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// UpdateOrderStatus handles PATCH /api/v1/orders/:id/status
func (h *Handlers) UpdateOrderStatus(c *gin.Context) {
	id := c.Param("id")

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.UpdateOrderStatus(c.Request.Context(), id, &req, middleware.IdentityFrom(c).UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ApproveOrder handles POST /api/v1/orders/:id/approve
func (h *Handlers) ApproveOrder(c *gin.Context) {
	id := c.Param("id")

	order, err := h.orderService.ApproveOrder(c.Request.Context(), id, middleware.IdentityFrom(c).UserID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	typed, ok := errors.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	switch typed.Kind {
	case errors.KindValidation, errors.KindPrecondition:
		body := gin.H{"error": typed.Message}
		if typed.Field != "" {
			body["field"] = typed.Field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.KindUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"error": typed.Message})
	case errors.KindForbidden:
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "order was modified concurrently, retry the request"})
	case errors.KindGateway:
		c.JSON(http.StatusBadGateway, gin.H{"error": typed.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
