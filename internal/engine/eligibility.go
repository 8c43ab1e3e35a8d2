package engine

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"promotion-engine-api/internal/models"
)

// match is an eligible promotion together with the indexes of the cart lines
// it targets, in cart order.
type match struct {
	promotion models.Promotion
	lines     []int
}

// filterEligible narrows the catalog to the promotions that apply to the cart
// at its evaluation time. Every excluded promotion is reported with its reason.
func filterEligible(log zerolog.Logger, promotions []models.Promotion, cart models.CartContext) ([]match, []models.SkippedPromotion) {
	var (
		eligible []match
		skipped  []models.SkippedPromotion
	)
	for _, p := range promotions {
		lines, reason, detail := checkEligibility(p, cart)
		if reason == models.SkipInvalidConfiguration {
			log.Warn().
				Str("promotion_id", p.ID).
				Str("detail", detail).
				Msg("promotion excluded: invalid configuration")
		}
		if reason != "" {
			skipped = append(skipped, models.SkippedPromotion{PromotionID: p.ID, Reason: reason, Detail: detail})
			continue
		}
		eligible = append(eligible, match{promotion: p, lines: lines})
	}
	return eligible, skipped
}

func checkEligibility(p models.Promotion, cart models.CartContext) ([]int, models.SkipReason, string) {
	if err := p.Validate(); err != nil {
		return nil, models.SkipInvalidConfiguration, err.Error()
	}
	if !p.IsActive {
		return nil, models.SkipInactive, ""
	}
	if p.Schedule != nil && !p.Schedule.Contains(cart.EvaluationTime) {
		return nil, models.SkipOutOfSchedule, ""
	}
	if p.CouponCode != "" && !cart.HasCoupon(p.CouponCode) {
		return nil, models.SkipCouponNotPresented, ""
	}
	if !p.Constraints.UsageAvailable() {
		return nil, models.SkipUsageLimitReached, ""
	}
	switch params := p.Params.(type) {
	case models.FirstPurchase:
		if !cart.IsFirstPurchase {
			return nil, models.SkipNotFirstPurchase, ""
		}
	case models.Loyalty:
		if cart.LoyaltyPoints < params.MinPoints {
			return nil, models.SkipInsufficientLoyalty, ""
		}
	}

	lines := matchLines(p.Targeting, cart.Lines)
	if len(lines) == 0 {
		return nil, models.SkipNoMatchingLines, ""
	}
	matched := decimal.Zero
	for _, i := range lines {
		matched = matched.Add(cart.Lines[i].Subtotal())
	}
	if matched.LessThan(p.Constraints.MinPurchaseValue) {
		return nil, models.SkipMinPurchaseNotMet, "matched subtotal " + matched.StringFixed(moneyPlaces)
	}
	return lines, "", ""
}

func matchLines(t models.Targeting, lines []models.CartLine) []int {
	var ids map[string]struct{}
	if t.Type != models.TargetAll {
		ids = make(map[string]struct{}, len(t.IDs))
		for _, id := range t.IDs {
			ids[id] = struct{}{}
		}
	}
	var matched []int
	for i, l := range lines {
		switch t.Type {
		case models.TargetAll:
			matched = append(matched, i)
		case models.TargetProducts:
			if _, ok := ids[l.ProductID]; ok {
				matched = append(matched, i)
			}
		case models.TargetCategories:
			if _, ok := ids[l.CategoryID]; ok {
				matched = append(matched, i)
			}
		}
	}
	return matched
}
