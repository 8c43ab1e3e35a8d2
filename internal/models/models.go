package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLineRequest is one line of a cart submitted for pricing.
type CartLineRequest struct {
	ID         string          `json:"id" validate:"required,max=64"`
	ProductID  string          `json:"product_id" validate:"required,max=64"`
	CategoryID string          `json:"category_id" validate:"max=64"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity" validate:"min=1,max=100000"`
}

// CartRequest is the request body for previews and checkouts.
type CartRequest struct {
	Lines           []CartLineRequest `json:"lines" validate:"max=500,dive"`
	CouponCodes     []string          `json:"coupon_codes" validate:"max=20,dive,required,max=64"`
	IsFirstPurchase bool              `json:"is_first_purchase"`
	LoyaltyPoints   int               `json:"loyalty_points" validate:"min=0"`
}

// ToCartContext converts the request into the engine's cart at instant now.
func (r CartRequest) ToCartContext(now time.Time) CartContext {
	lines := make([]CartLine, 0, len(r.Lines))
	for _, l := range r.Lines {
		lines = append(lines, CartLine{
			ID:         l.ID,
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			UnitPrice:  l.UnitPrice,
			Quantity:   l.Quantity,
		})
	}
	return CartContext{
		Lines:           lines,
		CouponCodes:     append([]string(nil), r.CouponCodes...),
		IsFirstPurchase: r.IsFirstPurchase,
		LoyaltyPoints:   r.LoyaltyPoints,
		EvaluationTime:  now,
	}
}

// ListPromotionsResponse is the response payload when listing a tenant's catalog.
type ListPromotionsResponse struct {
	TenantID   string            `json:"tenant_id"`
	Promotions []PromotionRecord `json:"promotions"`
}

// EvaluationResponse wraps an evaluation result for a tenant.
type EvaluationResponse struct {
	TenantID string           `json:"tenant_id"`
	Result   EvaluationResult `json:"result"`
}

// FeatureFlag is the wire form of a runtime flag.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// ListFeaturesResponse lists the runtime flags.
type ListFeaturesResponse struct {
	Features []FeatureFlag `json:"features"`
}

// SetFeatureRequest switches one runtime flag.
type SetFeatureRequest struct {
	Enabled *bool `json:"enabled"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
