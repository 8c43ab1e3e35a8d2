package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"promotion-engine-api/internal/models"
)

// candidate is an eligible promotion with its capped discount against the
// original line subtotals.
type candidate struct {
	match
	amount decimal.Decimal
}

// sortCandidates orders by priority descending, then id ascending.
func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].promotion, cands[j].promotion
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
}

// resolve picks at most one non-stackable promotion, then applies it and
// every stackable promotion in priority order against the value still left on
// each line. A line's remaining value never goes below zero.
func resolve(cands []candidate, cart []models.CartLine) ([]models.AppliedPromotion, []models.SkippedPromotion) {
	sortCandidates(cands)

	var (
		primary   *candidate
		losers    []*candidate
		stackable []*candidate
	)
	for i := range cands {
		c := &cands[i]
		switch {
		case c.promotion.Stackable:
			stackable = append(stackable, c)
		case primary == nil:
			primary = c
		case c.promotion.Priority == primary.promotion.Priority && c.amount.GreaterThan(primary.amount):
			losers = append(losers, primary)
			primary = c
		default:
			losers = append(losers, c)
		}
	}

	var skipped []models.SkippedPromotion
	for _, c := range losers {
		skipped = append(skipped, models.SkippedPromotion{
			PromotionID: c.promotion.ID,
			Reason:      models.SkipSuperseded,
			Detail:      "superseded by " + primary.promotion.ID,
		})
	}

	order := stackable
	if primary != nil {
		order = append([]*candidate{primary}, stackable...)
	}

	remaining := make([]decimal.Decimal, len(cart))
	for i, l := range cart {
		remaining[i] = l.Subtotal()
	}

	var applied []models.AppliedPromotion
	for _, c := range order {
		lines := pricedLines(cart, c.lines, remaining)
		d := calculate(c.promotion.Params, lines)
		amount := capAmount(d.amount, c.promotion.Constraints.MaxDiscountValue, lines)
		if !amount.IsPositive() {
			skipped = append(skipped, models.SkippedPromotion{
				PromotionID: c.promotion.ID,
				Reason:      models.SkipNoDiscount,
				Detail:      "nothing left to discount on matched lines",
			})
			continue
		}

		allocations := allocate(amount, d.shares, lines)
		affected := make([]string, 0, len(allocations))
		for _, a := range allocations {
			affected = append(affected, a.LineID)
			for _, i := range c.lines {
				if cart[i].ID == a.LineID {
					remaining[i] = decimal.Max(decimal.Zero, remaining[i].Sub(a.Amount))
				}
			}
		}
		applied = append(applied, models.AppliedPromotion{
			PromotionID:     c.promotion.ID,
			Type:            c.promotion.Type(),
			DiscountAmount:  amount,
			AffectedLineIDs: affected,
			Allocations:     allocations,
			UsageLimit:      c.promotion.Constraints.UsageLimit,
		})
	}
	return applied, skipped
}

func pricedLines(cart []models.CartLine, idx []int, remaining []decimal.Decimal) []pricedLine {
	lines := make([]pricedLine, 0, len(idx))
	for _, i := range idx {
		lines = append(lines, pricedLine{
			ID:        cart[i].ID,
			ProductID: cart[i].ProductID,
			Quantity:  cart[i].Quantity,
			Value:     remaining[i],
		})
	}
	return lines
}
