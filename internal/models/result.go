package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvaluationStatus is the terminal state of an evaluation.
type EvaluationStatus string

const (
	StatusPreview             EvaluationStatus = "preview"
	StatusCommitted           EvaluationStatus = "committed"
	StatusPartiallyRolledBack EvaluationStatus = "partially_rolled_back"
)

// SkipReason explains why a catalog promotion was not applied.
type SkipReason string

const (
	SkipInactive             SkipReason = "inactive"
	SkipOutOfSchedule        SkipReason = "out_of_schedule"
	SkipCouponNotPresented   SkipReason = "coupon_not_presented"
	SkipMinPurchaseNotMet    SkipReason = "min_purchase_not_met"
	SkipUsageLimitReached    SkipReason = "usage_limit_reached"
	SkipNoMatchingLines      SkipReason = "no_matching_lines"
	SkipNotFirstPurchase     SkipReason = "not_first_purchase"
	SkipInsufficientLoyalty  SkipReason = "insufficient_loyalty_points"
	SkipInvalidConfiguration SkipReason = "invalid_configuration"
	SkipSuperseded           SkipReason = "superseded"
	SkipNoDiscount           SkipReason = "no_discount"
	SkipUsageExhausted       SkipReason = "usage_exhausted"
)

// LineDiscount is the part of a promotion's discount taken from one line.
type LineDiscount struct {
	LineID string          `json:"line_id"`
	Amount decimal.Decimal `json:"amount"`
}

// AppliedPromotion is one promotion in the final allocation.
type AppliedPromotion struct {
	PromotionID     string          `json:"promotion_id"`
	Type            PromotionType   `json:"type"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	AffectedLineIDs []string        `json:"affected_line_ids"`
	Allocations     []LineDiscount  `json:"allocations"`
	UsageLimit      int             `json:"usage_limit"`
}

// SkippedPromotion records a promotion left out of the allocation.
type SkippedPromotion struct {
	PromotionID string     `json:"promotion_id"`
	Reason      SkipReason `json:"reason"`
	Detail      string     `json:"detail,omitempty"`
}

// EvaluationResult is the priced outcome of one evaluation.
type EvaluationResult struct {
	EvaluatedAt       time.Time          `json:"evaluated_at"`
	Status            EvaluationStatus   `json:"status"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	AppliedPromotions []AppliedPromotion `json:"applied_promotions"`
	SkippedPromotions []SkippedPromotion `json:"skipped_promotions"`
	TotalDiscount     decimal.Decimal    `json:"total_discount"`
	FinalTotal        decimal.Decimal    `json:"final_total"`
}

// Recompute derives TotalDiscount and FinalTotal from the applied promotions.
func (r *EvaluationResult) Recompute() {
	total := decimal.Zero
	for _, a := range r.AppliedPromotions {
		total = total.Add(a.DiscountAmount)
	}
	r.TotalDiscount = total
	r.FinalTotal = decimal.Max(decimal.Zero, r.Subtotal.Sub(total))
}
