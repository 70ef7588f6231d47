package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
)

// AllOrderStatuses lists every persisted status.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusFailed,
}

// ParseOrderStatus normalizes user input. "delivered" is accepted as an alias of completed.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if status == "delivered" {
		return OrderStatusCompleted, true
	}
	return status, status.Valid()
}

func (s OrderStatus) Valid() bool {
	for _, known := range AllOrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave this status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusFailed
}

// PaymentMethod selects how an order is paid.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "cod"
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodMomo PaymentMethod = "momo"
)

// PaymentChannel is the sub-selector within a payment method.
type PaymentChannel string

const (
	ChannelVisa       PaymentChannel = "visa"
	ChannelMastercard PaymentChannel = "mastercard"
	ChannelVerve      PaymentChannel = "verve"
	ChannelMTN        PaymentChannel = "mtn"
	ChannelVodafone   PaymentChannel = "vodafone"
	ChannelAirtelTigo PaymentChannel = "airteltigo"
	ChannelTelecel    PaymentChannel = "telecel"
	ChannelCODPickup  PaymentChannel = "cod_pickup"
)

// MethodChannels is the table of channels each payment method allows.
var MethodChannels = map[PaymentMethod][]PaymentChannel{
	PaymentMethodCard: {ChannelVisa, ChannelMastercard, ChannelVerve},
	PaymentMethodMomo: {ChannelMTN, ChannelVodafone, ChannelAirtelTigo, ChannelTelecel},
	PaymentMethodCOD:  {ChannelCODPickup},
}

func (m PaymentMethod) Valid() bool {
	_, ok := MethodChannels[m]
	return ok
}

// RequiresGateway reports whether the method is settled through the payment gateway.
func (m PaymentMethod) RequiresGateway() bool {
	return m == PaymentMethodCard || m == PaymentMethodMomo
}

// Allows reports whether ch is a legal channel for the method.
func (m PaymentMethod) Allows(ch PaymentChannel) bool {
	for _, allowed := range MethodChannels[m] {
		if allowed == ch {
			return true
		}
	}
	return false
}

// Order is a placed order with its line items.
type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Total            decimal.Decimal `json:"total"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentChannel   PaymentChannel  `json:"payment_channel"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Status           OrderStatus     `json:"status"`
	ApprovedByAdmin  bool            `json:"approved_by_admin"`
	Address          string          `json:"address"`
	Email            string          `json:"email,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	Items            []OrderItem     `json:"items"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderItem is a line item. Price is the unit price captured at order time.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Subtotal is price times quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsTotal sums the subtotals of items.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// PlaceOrderItem is a line item as submitted by the client.
type PlaceOrderItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
}

// PlaceOrderRequest is the order placement payload.
type PlaceOrderRequest struct {
	Items          []PlaceOrderItem `json:"items" validate:"required,min=1,dive"`
	Address        string           `json:"address" validate:"required,max=255"`
	PaymentMethod  PaymentMethod    `json:"payment_method" validate:"required,oneof=cod card momo"`
	PaymentChannel PaymentChannel   `json:"payment_channel" validate:"required"`
	Total          decimal.Decimal  `json:"total"`
	Email          string           `json:"email" validate:"required,email"`
	Phone          string           `json:"phone,omitempty" validate:"omitempty,min=9,max=20"`
}

// PaymentInitiation is what the client needs to complete a gateway payment.
type PaymentInitiation struct {
	Method           PaymentMethod  `json:"method"`
	Channel          PaymentChannel `json:"channel"`
	Reference        string         `json:"reference,omitempty"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
}

// PlaceOrderResult is returned by order placement.
type PlaceOrderResult struct {
	Order   *Order             `json:"order"`
	Payment *PaymentInitiation `json:"payment,omitempty"`
	Message string             `json:"message"`
}

// ChargeRequest is sent to the gateway to initialize a charge.
type ChargeRequest struct {
	AmountMinor int64
	Currency    string
	Reference   string
	Email       string
	Phone       string
	Method      PaymentMethod
	Channel     PaymentChannel
	Metadata    map[string]string
	CallbackURL string
}

// ChargeInitialization is the gateway's answer to a charge request.
type ChargeInitialization struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// GatewayStatus is the gateway's vocabulary for a charge outcome.
type GatewayStatus string

const (
	GatewayStatusSuccess   GatewayStatus = "success"
	GatewayStatusFailed    GatewayStatus = "failed"
	GatewayStatusAbandoned GatewayStatus = "abandoned"
	GatewayStatusReversed  GatewayStatus = "reversed"
	GatewayStatusPending   GatewayStatus = "pending"
)

// ChargeVerification is the outcome of verifying a charge by reference.
// Target is the order status the outcome maps to; pending means no transition.
type ChargeVerification struct {
	Reference     string
	GatewayStatus GatewayStatus
	OrderID       string
	AmountMinor   int64
	Target        OrderStatus
}

// PaymentVerificationResult is returned by verify-by-reference.
type PaymentVerificationResult struct {
	Success       bool          `json:"success"`
	OrderID       string        `json:"order_id"`
	Status        OrderStatus   `json:"status"`
	GatewayStatus GatewayStatus `json:"gateway_status"`
}

// UpdateOrderStatusRequest is the admin status update payload.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// OrderListFilter narrows admin listings.
type OrderListFilter struct {
	Status *OrderStatus
	Limit  int
	Offset int
}

// ToMinorUnits converts a major-unit amount to the smallest currency unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// MetadataOrderID extracts orderId from gateway metadata, which arrives
// either as an object or as a JSON-encoded string.
func MetadataOrderID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var meta struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(raw, &meta); err == nil {
		return meta.OrderID
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil || encoded == "" {
		return ""
	}
	if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
		return ""
	}
	return meta.OrderID
}
