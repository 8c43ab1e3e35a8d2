// Package engine prices a cart against a promotion catalog. Evaluation is a
// pure function of its inputs; only CommitEvaluation talks to the usage ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"promotion-engine-api/internal/ledger"
	"promotion-engine-api/internal/models"
)

// Engine evaluates carts and commits the resulting usage.
type Engine struct {
	log           zerolog.Logger
	location      *time.Location
	ledgerOptions []ledger.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommitAttempts bounds the compare-and-increment retries per promotion.
func WithCommitAttempts(n int) Option {
	return func(e *Engine) {
		e.ledgerOptions = append(e.ledgerOptions, ledger.WithMaxAttempts(n))
	}
}

// WithCommitTimeout bounds the time spent committing one promotion.
func WithCommitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.ledgerOptions = append(e.ledgerOptions, ledger.WithTimeout(d))
	}
}

// WithLocation sets the store location in which schedules are read.
// The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// New creates an engine that logs through log.
func New(log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		log:      log.With().Str("component", "engine").Logger(),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate prices cart against promotions at now without any side effects.
// A zero now falls back to the cart's evaluation time. Only the instant
// matters: now is moved to the engine's location before schedules are read.
func (e *Engine) Evaluate(promotions []models.Promotion, cart models.CartContext, now time.Time) (models.EvaluationResult, error) {
	if promotions == nil {
		return models.EvaluationResult{}, &InvalidInputError{Field: "promotions", Message: "catalog is required"}
	}
	if now.IsZero() {
		now = cart.EvaluationTime
	}
	if now.IsZero() {
		return models.EvaluationResult{}, &InvalidInputError{Field: "now", Message: "evaluation time is required"}
	}
	if err := validateCatalog(promotions); err != nil {
		return models.EvaluationResult{}, err
	}
	if err := validateCart(cart); err != nil {
		return models.EvaluationResult{}, err
	}
	now = now.In(e.location)
	cart.EvaluationTime = now

	eligible, skipped := filterEligible(e.log, promotions, cart)

	base := subtotals(cart.Lines)
	cands := make([]candidate, 0, len(eligible))
	for _, m := range eligible {
		lines := pricedLines(cart.Lines, m.lines, base)
		d := calculate(m.promotion.Params, lines)
		amount := capAmount(d.amount, m.promotion.Constraints.MaxDiscountValue, lines)
		if !amount.IsPositive() {
			skipped = append(skipped, models.SkippedPromotion{
				PromotionID: m.promotion.ID,
				Reason:      models.SkipNoDiscount,
				Detail:      "discount is zero for this cart",
			})
			continue
		}
		cands = append(cands, candidate{match: m, amount: amount})
	}

	applied, lost := resolve(cands, cart.Lines)
	skipped = append(skipped, lost...)
	sort.SliceStable(skipped, func(i, j int) bool {
		return skipped[i].PromotionID < skipped[j].PromotionID
	})

	result := models.EvaluationResult{
		EvaluatedAt:       now,
		Status:            models.StatusPreview,
		Subtotal:          cart.Subtotal(),
		AppliedPromotions: applied,
		SkippedPromotions: skipped,
	}
	if result.AppliedPromotions == nil {
		result.AppliedPromotions = []models.AppliedPromotion{}
	}
	if result.SkippedPromotions == nil {
		result.SkippedPromotions = []models.SkippedPromotion{}
	}
	result.Recompute()
	return result, nil
}

// CommitEvaluation records one use of every applied promotion that has a
// usage limit. A promotion whose commit is rejected, times out or fails is
// removed from the result and the totals are recomputed. The remaining
// promotions keep their amounts.
func (e *Engine) CommitEvaluation(ctx context.Context, result models.EvaluationResult, port ledger.Port) (models.EvaluationResult, error) {
	if result.Status != models.StatusPreview {
		return result, &InvalidInputError{Field: "status", Message: fmt.Sprintf("cannot commit a %s evaluation", result.Status)}
	}
	if port == nil {
		return result, &InvalidInputError{Field: "ledger", Message: "usage ledger is required"}
	}

	l := ledger.New(port, e.ledgerOptions...)
	kept := make([]models.AppliedPromotion, 0, len(result.AppliedPromotions))
	skipped := append([]models.SkippedPromotion(nil), result.SkippedPromotions...)
	rolledBack := false

	for _, a := range result.AppliedPromotions {
		if a.UsageLimit <= 0 {
			kept = append(kept, a)
			continue
		}
		if err := l.Commit(ctx, a.PromotionID); err != nil {
			rolledBack = true
			e.log.Warn().
				Err(err).
				Str("promotion_id", a.PromotionID).
				Str("discount", a.DiscountAmount.StringFixed(2)).
				Msg("usage commit rejected, discount removed")
			skipped = append(skipped, models.SkippedPromotion{
				PromotionID: a.PromotionID,
				Reason:      models.SkipUsageExhausted,
				Detail:      rejectionDetail(err),
			})
			continue
		}
		kept = append(kept, a)
	}

	out := result
	out.AppliedPromotions = kept
	out.SkippedPromotions = skipped
	out.Status = models.StatusCommitted
	if rolledBack {
		out.Status = models.StatusPartiallyRolledBack
		sort.SliceStable(out.SkippedPromotions, func(i, j int) bool {
			return out.SkippedPromotions[i].PromotionID < out.SkippedPromotions[j].PromotionID
		})
	}
	out.Recompute()
	return out, nil
}

func rejectionDetail(err error) string {
	switch {
	case errors.Is(err, ledger.ErrUsageExhausted):
		return "usage limit reached"
	case errors.Is(err, ledger.ErrCommitConflict):
		return "too many concurrent checkouts"
	case errors.Is(err, ledger.ErrCommitTimeout):
		return "usage ledger timed out"
	default:
		return "promotion unavailable"
	}
}

func subtotals(lines []models.CartLine) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		out[i] = l.Subtotal()
	}
	return out
}

func validateCatalog(promotions []models.Promotion) error {
	seen := make(map[string]struct{}, len(promotions))
	for _, p := range promotions {
		if p.ID == "" {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			return &InvalidInputError{Field: "promotions", Message: "duplicate promotion id " + p.ID}
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func validateCart(cart models.CartContext) error {
	if cart.LoyaltyPoints < 0 {
		return &InvalidInputError{Field: "loyalty_points", Message: "must not be negative"}
	}
	seen := make(map[string]struct{}, len(cart.Lines))
	for i, l := range cart.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.ID == "" {
			return &InvalidInputError{Field: field + ".id", Message: "is required"}
		}
		if _, ok := seen[l.ID]; ok {
			return &InvalidInputError{Field: field + ".id", Message: "duplicate line id " + l.ID}
		}
		seen[l.ID] = struct{}{}
		if l.Quantity < 1 {
			return &InvalidInputError{Field: field + ".quantity", Message: "must be at least 1"}
		}
		if l.UnitPrice.IsNegative() {
			return &InvalidInputError{Field: field + ".unit_price", Message: "must not be negative"}
		}
	}
	return nil
}
