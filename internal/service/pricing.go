package service

import (
	"github.com/shopspring/decimal"

	"github.com/fosten-shop/fosten-orders-service/internal/models"
)

// PlacedItemsTotal sums price times quantity over the submitted items.
func PlacedItemsTotal(items []models.PlaceOrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// WholeCents reports whether amount is stored without loss in a two-decimal column.
func WholeCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Round(2))
}

// TotalsMatch reports whether the declared total equals the item sum exactly.
// Callers reject sub-cent amounts first, so no rounding is applied here.
func TotalsMatch(declared decimal.Decimal, items []models.PlaceOrderItem) bool {
	return declared.Equal(PlacedItemsTotal(items))
}

// ChargeAmount converts an order total to the gateway's minor units.
func ChargeAmount(total decimal.Decimal) int64 {
	return models.ToMinorUnits(total)
}
