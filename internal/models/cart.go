package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one product line of a cart.
type CartLine struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	CategoryID string          `json:"category_id"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

// Subtotal returns unit price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartContext is everything the engine knows about a checkout.
type CartContext struct {
	Lines           []CartLine `json:"lines"`
	CouponCodes     []string   `json:"coupon_codes"`
	IsFirstPurchase bool       `json:"is_first_purchase"`
	LoyaltyPoints   int        `json:"loyalty_points"`
	EvaluationTime  time.Time  `json:"evaluation_time"`
}

// Subtotal returns the sum of all line subtotals.
func (c CartContext) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// HasCoupon reports whether code was presented. Matching is case-sensitive.
func (c CartContext) HasCoupon(code string) bool {
	for _, cc := range c.CouponCodes {
		if cc == code {
			return true
		}
	}
	return false
}
