package service

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/fosten-shop/fosten-orders-service/internal/errors"
	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePlaceOrderRequest checks the shape of an order placement and the
// consistency between its method, channel, contact details and total.
func ValidatePlaceOrderRequest(req *models.PlaceOrderRequest) error {
	if err := validate.Struct(req); err != nil {
		return fromValidatorError(err)
	}

	for i, item := range req.Items {
		field := fmt.Sprintf("items[%d].price", i)
		if !item.Price.IsPositive() {
			return errors.NewValidationError(field, "price must be positive")
		}
		if !WholeCents(item.Price) {
			return errors.NewValidationError(field, "price cannot have more than two decimal places")
		}
	}

	if !req.Total.IsPositive() {
		return errors.NewValidationError("total", "total must be positive")
	}
	if !WholeCents(req.Total) {
		return errors.NewValidationError("total", "total cannot have more than two decimal places")
	}

	if !req.PaymentMethod.Allows(req.PaymentChannel) {
		return errors.NewValidationError("payment_channel", fmt.Sprintf(
			"channel %q is not valid for payment method %q", req.PaymentChannel, req.PaymentMethod,
		))
	}

	if req.PaymentMethod == models.PaymentMethodMomo && strings.TrimSpace(req.Phone) == "" {
		return errors.NewValidationError("phone", "phone is required for mobile money payments")
	}

	if !TotalsMatch(req.Total, req.Items) {
		return errors.NewValidationError("total", fmt.Sprintf(
			"total %s does not match the sum of items %s",
			req.Total.StringFixed(2), PlacedItemsTotal(req.Items).StringFixed(2),
		))
	}

	return nil
}

// ParseStatusUpdate validates an admin status update request.
func ParseStatusUpdate(req *models.UpdateOrderStatusRequest) (models.OrderStatus, error) {
	if strings.TrimSpace(req.Status) == "" {
		return "", errors.NewValidationError("status", "status is required")
	}

	status, ok := models.ParseOrderStatus(req.Status)
	if !ok {
		allowed := make([]string, 0, len(models.AllOrderStatuses))
		for _, s := range models.AllOrderStatuses {
			allowed = append(allowed, string(s))
		}
		return "", errors.NewValidationError("status", "invalid status; allowed: "+strings.Join(allowed, ", "))
	}

	return status, nil
}

// ValidateOrderListFilter validates a list filter and applies paging defaults.
func ValidateOrderListFilter(filter *models.OrderListFilter) error {
	if filter.Limit < 0 {
		return errors.NewValidationError("limit", "limit cannot be negative")
	}

	if filter.Offset < 0 {
		return errors.NewValidationError("offset", "offset cannot be negative")
	}

	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	if filter.Status != nil && !filter.Status.Valid() {
		return errors.NewValidationError("status", "invalid order status")
	}

	return nil
}

func fromValidatorError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.NewValidationError("request", err.Error())
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			msg = fmt.Sprintf("must contain at least %s item(s)", fe.Param())
		} else {
			msg = fmt.Sprintf("must be at least %s characters", fe.Param())
		}
	case "max":
		msg = fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		msg = fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		msg = "must be one of: " + fe.Param()
	case "email":
		msg = "must be a valid email address"
	default:
		msg = "is invalid"
	}

	return errors.NewValidationError(field, msg)
}
