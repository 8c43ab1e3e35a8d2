package engine

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promotion-engine-api/internal/models"
)

// Wednesday afternoon.
var evalTime = time.Date(2025, 3, 12, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func line(id, product, category, price string, qty int) models.CartLine {
	return models.CartLine{ID: id, ProductID: product, CategoryID: category, UnitPrice: d(price), Quantity: qty}
}

func cartOf(lines ...models.CartLine) models.CartContext {
	return models.CartContext{Lines: lines}
}

type promoOption func(*models.Promotion)

func promo(id string, params models.Params, opts ...promoOption) models.Promotion {
	p := models.Promotion{
		ID:        id,
		Name:      id,
		IsActive:  true,
		Targeting: models.Targeting{Type: models.TargetAll},
		Params:    params,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func withPriority(n int) promoOption { return func(p *models.Promotion) { p.Priority = n } }

func stackable() promoOption { return func(p *models.Promotion) { p.Stackable = true } }

func withCoupon(code string) promoOption { return func(p *models.Promotion) { p.CouponCode = code } }

func withUsage(count, limit int) promoOption {
	return func(p *models.Promotion) {
		p.Constraints.UsageCount = count
		p.Constraints.UsageLimit = limit
	}
}

func targeting(tt models.TargetType, ids ...string) promoOption {
	return func(p *models.Promotion) { p.Targeting = models.Targeting{Type: tt, IDs: ids} }
}

func newEngine(opts ...Option) *Engine {
	return New(zerolog.Nop(), opts...)
}

func evaluate(t *testing.T, promotions []models.Promotion, cart models.CartContext) models.EvaluationResult {
	t.Helper()
	res, err := newEngine().Evaluate(promotions, cart, evalTime)
	require.NoError(t, err)
	return res
}

func skipReason(res models.EvaluationResult, id string) models.SkipReason {
	for _, s := range res.SkippedPromotions {
		if s.PromotionID == id {
			return s.Reason
		}
	}
	return ""
}

func appliedIDs(res models.EvaluationResult) []string {
	ids := make([]string, 0, len(res.AppliedPromotions))
	for _, a := range res.AppliedPromotions {
		ids = append(ids, a.PromotionID)
	}
	return ids
}

func TestEvaluate_ProgressiveUsesLargestReachedTier(t *testing.T) {
	p := promo("PROG", models.Progressive{Tiers: []models.Tier{
		{MinQuantity: 2, Percent: d("5")},
		{MinQuantity: 5, Percent: d("10")},
		{MinQuantity: 10, Percent: d("15")},
	}})

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "sku-1", "cat", "10", 7)))

	require.Len(t, res.AppliedPromotions, 1)
	assertMoney(t, "7", res.AppliedPromotions[0].DiscountAmount)
	assertMoney(t, "70", res.Subtotal)
	assertMoney(t, "63", res.FinalTotal)
	assert.Equal(t, models.StatusPreview, res.Status)
}

func TestEvaluate_ProgressiveBelowFirstTierGivesNothing(t *testing.T) {
	p := promo("PROG", models.Progressive{Tiers: []models.Tier{{MinQuantity: 3, Percent: d("5")}}})

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "sku-1", "cat", "10", 2)))

	assert.Empty(t, res.AppliedPromotions)
	assert.Equal(t, models.SkipNoDiscount, skipReason(res, "PROG"))
	assertMoney(t, "20", res.FinalTotal)
}

func TestEvaluate_BuyXGetYFreesCheapestUnit(t *testing.T) {
	p := promo("B2G1", models.BuyXGetY{Buy: 2, Get: 1})

	res := evaluate(t, []models.Promotion{p}, cartOf(
		line("l1", "shirt", "apparel", "10", 2),
		line("l2", "socks", "apparel", "5", 1),
	))

	require.Len(t, res.AppliedPromotions, 1)
	applied := res.AppliedPromotions[0]
	assertMoney(t, "5", applied.DiscountAmount)
	assert.Equal(t, []string{"l2"}, applied.AffectedLineIDs)
	require.Len(t, applied.Allocations, 1)
	assertMoney(t, "5", applied.Allocations[0].Amount)
}

func TestEvaluate_BuyXGetYIgnoresPartialBundle(t *testing.T) {
	p := promo("B2G1", models.BuyXGetY{Buy: 2, Get: 1})

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "shirt", "apparel", "10", 5)))

	require.Len(t, res.AppliedPromotions, 1)
	assertMoney(t, "10", res.AppliedPromotions[0].DiscountAmount)
}

func TestEvaluate_Combo(t *testing.T) {
	combo := promo("COMBO", models.Combo{
		Items: []models.ComboItem{{ProductID: "A", Quantity: 1}, {ProductID: "B", Quantity: 1}},
		Price: d("25"),
	})

	t.Run("all components present", func(t *testing.T) {
		res := evaluate(t, []models.Promotion{combo}, cartOf(
			line("la", "A", "food", "20", 1),
			line("lb", "B", "food", "15", 1),
		))
		require.Len(t, res.AppliedPromotions, 1)
		assertMoney(t, "10", res.AppliedPromotions[0].DiscountAmount)
		assert.ElementsMatch(t, []string{"la", "lb"}, res.AppliedPromotions[0].AffectedLineIDs)
	})

	t.Run("component missing", func(t *testing.T) {
		res := evaluate(t, []models.Promotion{combo}, cartOf(line("la", "A", "food", "20", 1)))
		assert.Empty(t, res.AppliedPromotions)
		assert.Equal(t, models.SkipNoDiscount, skipReason(res, "COMBO"))
		assertMoney(t, "0", res.TotalDiscount)
	})

	t.Run("combo price above components", func(t *testing.T) {
		res := evaluate(t, []models.Promotion{combo}, cartOf(
			line("la", "A", "food", "10", 1),
			line("lb", "B", "food", "10", 1),
		))
		assert.Empty(t, res.AppliedPromotions)
	})
}

func TestEvaluate_StackableFlatUsesRemainingValue(t *testing.T) {
	percent := promo("PCT20", models.PercentOff{Percent: d("20")}, withPriority(10))
	flat := promo("FLAT5", models.ValueOff{Value: d("5")}, withPriority(5), stackable())

	res := evaluate(t, []models.Promotion{flat, percent}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	assert.Equal(t, []string{"PCT20", "FLAT5"}, appliedIDs(res))
	assertMoney(t, "20", res.AppliedPromotions[0].DiscountAmount)
	assertMoney(t, "5", res.AppliedPromotions[1].DiscountAmount)
	assertMoney(t, "25", res.TotalDiscount)
	assertMoney(t, "75", res.FinalTotal)
}

func TestEvaluate_StackableFlatIsBoundedByRemainingValue(t *testing.T) {
	percent := promo("PCT20", models.PercentOff{Percent: d("20")}, withPriority(10))
	flat := promo("FLAT90", models.ValueOff{Value: d("90")}, withPriority(5), stackable())

	res := evaluate(t, []models.Promotion{percent, flat}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	require.Len(t, res.AppliedPromotions, 2)
	assertMoney(t, "80", res.AppliedPromotions[1].DiscountAmount)
	assertMoney(t, "100", res.TotalDiscount)
	assertMoney(t, "0", res.FinalTotal)
}

func TestEvaluate_StackablePercentCompoundsOnRemaining(t *testing.T) {
	first := promo("PCT50", models.PercentOff{Percent: d("50")}, withPriority(10))
	second := promo("PCT10", models.PercentOff{Percent: d("10")}, withPriority(1), stackable())

	res := evaluate(t, []models.Promotion{first, second}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	require.Len(t, res.AppliedPromotions, 2)
	assertMoney(t, "5", res.AppliedPromotions[1].DiscountAmount)
	assertMoney(t, "55", res.TotalDiscount)
}

func TestEvaluate_CouponMustMatchExactly(t *testing.T) {
	p := promo("COUPON", models.PercentOff{Percent: d("10")}, withCoupon("SAVE10"))
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))
	cart.CouponCodes = []string{"save10"}

	res := evaluate(t, []models.Promotion{p}, cart)

	assert.Empty(t, res.AppliedPromotions)
	assert.Equal(t, models.SkipCouponNotPresented, skipReason(res, "COUPON"))

	cart.CouponCodes = []string{"SAVE10"}
	res = evaluate(t, []models.Promotion{p}, cart)
	assert.Equal(t, []string{"COUPON"}, appliedIDs(res))
}

func TestEvaluate_NonStackableConflict(t *testing.T) {
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))

	t.Run("higher priority wins", func(t *testing.T) {
		high := promo("HIGH", models.PercentOff{Percent: d("5")}, withPriority(10))
		low := promo("LOW", models.PercentOff{Percent: d("50")}, withPriority(1))

		res := evaluate(t, []models.Promotion{low, high}, cart)

		assert.Equal(t, []string{"HIGH"}, appliedIDs(res))
		assert.Equal(t, models.SkipSuperseded, skipReason(res, "LOW"))
	})

	t.Run("equal priority takes larger discount", func(t *testing.T) {
		small := promo("A", models.PercentOff{Percent: d("5")}, withPriority(3))
		large := promo("B", models.PercentOff{Percent: d("15")}, withPriority(3))

		res := evaluate(t, []models.Promotion{small, large}, cart)

		assert.Equal(t, []string{"B"}, appliedIDs(res))
		assert.Equal(t, models.SkipSuperseded, skipReason(res, "A"))
	})

	t.Run("full tie goes to lower id", func(t *testing.T) {
		z := promo("Z", models.PercentOff{Percent: d("10")}, withPriority(3))
		a := promo("A", models.PercentOff{Percent: d("10")}, withPriority(3))

		res := evaluate(t, []models.Promotion{z, a}, cart)

		assert.Equal(t, []string{"A"}, appliedIDs(res))
	})
}

func TestEvaluate_MaxDiscountCapsAmount(t *testing.T) {
	p := promo("PCT50", models.PercentOff{Percent: d("50")})
	p.Constraints.MaxDiscountValue = d("12.5")

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	require.Len(t, res.AppliedPromotions, 1)
	assertMoney(t, "12.5", res.AppliedPromotions[0].DiscountAmount)
}

func TestEvaluate_RoundsToCents(t *testing.T) {
	p := promo("PCT", models.PercentOff{Percent: d("33.333")})

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "pen", "office", "9.99", 1)))

	require.Len(t, res.AppliedPromotions, 1)
	assertMoney(t, "3.33", res.AppliedPromotions[0].DiscountAmount)
}

func TestEvaluate_MinPurchaseUsesMatchedLines(t *testing.T) {
	p := promo("SHOES", models.PercentOff{Percent: d("10")}, targeting(models.TargetCategories, "shoes"))
	p.Constraints.MinPurchaseValue = d("100")

	cart := cartOf(
		line("l1", "boot", "shoes", "60", 1),
		line("l2", "tv", "electronics", "500", 1),
	)
	res := evaluate(t, []models.Promotion{p}, cart)

	assert.Empty(t, res.AppliedPromotions)
	assert.Equal(t, models.SkipMinPurchaseNotMet, skipReason(res, "SHOES"))

	cart.Lines[0].Quantity = 2
	res = evaluate(t, []models.Promotion{p}, cart)
	require.Len(t, res.AppliedPromotions, 1)
	assertMoney(t, "12", res.AppliedPromotions[0].DiscountAmount)
	assert.Equal(t, []string{"l1"}, res.AppliedPromotions[0].AffectedLineIDs)
}

func TestEvaluate_QuantityDiscountGate(t *testing.T) {
	p := promo("BULK", models.QuantityDiscount{MinQuantity: 3, Percent: d("10")}, targeting(models.TargetCategories, "shoes"))

	tests := []struct {
		name  string
		boots int
		want  string
	}{
		{"below minimum", 2, "0"},
		{"at minimum", 3, "6"},
		{"above minimum", 4, "8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Hats are not targeted and never count toward the minimum.
			cart := cartOf(
				line("l1", "boot", "shoes", "20", tt.boots),
				line("l2", "hat", "accessories", "50", 5),
			)

			res := evaluate(t, []models.Promotion{p}, cart)

			assertMoney(t, tt.want, res.TotalDiscount)
			if tt.want == "0" {
				assert.Empty(t, res.AppliedPromotions)
				assert.Equal(t, models.SkipNoDiscount, skipReason(res, "BULK"))
				return
			}
			require.Len(t, res.AppliedPromotions, 1)
			assert.Equal(t, []string{"l1"}, res.AppliedPromotions[0].AffectedLineIDs)
		})
	}
}

func TestEvaluate_DiscountValue(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		target      promoOption
		want        string
		allocations map[string]string
	}{
		{"below matched subtotal", "30", targeting(models.TargetProducts, "tv"), "30", map[string]string{"l1": "30"}},
		{"exceeds targeted subtotal", "150", targeting(models.TargetProducts, "tv"), "100", map[string]string{"l1": "100"}},
		{"exceeds whole cart", "150", targeting(models.TargetAll), "130", map[string]string{"l1": "100", "l2": "30"}},
		{"split in proportion", "13", targeting(models.TargetAll), "13", map[string]string{"l1": "10", "l2": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := promo("FLAT", models.ValueOff{Value: d(tt.value)}, tt.target)
			cart := cartOf(
				line("l1", "tv", "electronics", "100", 1),
				line("l2", "cable", "electronics", "15", 2),
			)

			res := evaluate(t, []models.Promotion{p}, cart)

			require.Len(t, res.AppliedPromotions, 1)
			applied := res.AppliedPromotions[0]
			assertMoney(t, tt.want, applied.DiscountAmount)
			require.Len(t, applied.Allocations, len(tt.allocations))
			for _, a := range applied.Allocations {
				assertMoney(t, tt.allocations[a.LineID], a.Amount, "line %s", a.LineID)
			}
			assertMoney(t, d("130").Sub(d(tt.want)).String(), res.FinalTotal)
		})
	}
}

func TestEvaluate_TargetingWithoutMatchIsIneligible(t *testing.T) {
	p := promo("SKU", models.PercentOff{Percent: d("10")}, targeting(models.TargetProducts, "other"))

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	assert.Equal(t, models.SkipNoMatchingLines, skipReason(res, "SKU"))
}

func TestEvaluate_CustomerGates(t *testing.T) {
	first := promo("FIRST", models.FirstPurchase{Percent: d("10")})
	loyal := promo("LOYAL", models.Loyalty{MinPoints: 500, Percent: d("5")}, stackable())
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))
	cart.LoyaltyPoints = 499

	res := evaluate(t, []models.Promotion{first, loyal}, cart)
	assert.Equal(t, models.SkipNotFirstPurchase, skipReason(res, "FIRST"))
	assert.Equal(t, models.SkipInsufficientLoyalty, skipReason(res, "LOYAL"))

	cart.IsFirstPurchase = true
	cart.LoyaltyPoints = 500
	res = evaluate(t, []models.Promotion{first, loyal}, cart)
	assert.Equal(t, []string{"FIRST", "LOYAL"}, appliedIDs(res))
	assertMoney(t, "14.5", res.TotalDiscount)
}

func TestEvaluate_Schedule(t *testing.T) {
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))

	weekend := promo("WEEKEND", models.PercentOff{Percent: d("10")})
	weekend.Schedule = &models.Schedule{Weekdays: []time.Weekday{time.Saturday, time.Sunday}}

	start, err := models.ParseClockTime("22:00")
	require.NoError(t, err)
	end, err := models.ParseClockTime("02:00")
	require.NoError(t, err)
	night := promo("NIGHT", models.PercentOff{Percent: d("10")}, stackable())
	night.Schedule = &models.Schedule{TimeWindow: &models.TimeWindow{Start: start, End: end}}

	res := evaluate(t, []models.Promotion{weekend, night}, cart)
	assert.Equal(t, models.SkipOutOfSchedule, skipReason(res, "WEEKEND"))
	assert.Equal(t, models.SkipOutOfSchedule, skipReason(res, "NIGHT"))

	late := time.Date(2025, 3, 15, 23, 15, 0, 0, time.UTC) // Saturday
	res, err = newEngine().Evaluate([]models.Promotion{weekend, night}, cart, late)
	require.NoError(t, err)
	assert.Equal(t, []string{"WEEKEND", "NIGHT"}, appliedIDs(res))
}

func happyHour(t *testing.T) models.Promotion {
	t.Helper()
	start, err := models.ParseClockTime("18:00")
	require.NoError(t, err)
	end, err := models.ParseClockTime("20:00")
	require.NoError(t, err)
	p := promo("HAPPY", models.PercentOff{Percent: d("10")})
	p.Schedule = &models.Schedule{TimeWindow: &models.TimeWindow{Start: start, End: end}}
	return p
}

func TestEvaluate_ScheduleDependsOnInstantOnly(t *testing.T) {
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))
	catalog := []models.Promotion{happyHour(t)}

	utc := time.Date(2025, 3, 12, 22, 0, 0, 0, time.UTC)
	saoPaulo := utc.In(time.FixedZone("BRT", -3*60*60)) // 19:00 local

	eng := newEngine()
	fromUTC, err := eng.Evaluate(catalog, cart, utc)
	require.NoError(t, err)
	fromLocal, err := eng.Evaluate(catalog, cart, saoPaulo)
	require.NoError(t, err)

	assert.Empty(t, fromUTC.AppliedPromotions)
	assert.Equal(t, appliedIDs(fromUTC), appliedIDs(fromLocal))
	assertMoney(t, fromUTC.FinalTotal.String(), fromLocal.FinalTotal)
	assert.True(t, fromLocal.EvaluatedAt.Equal(utc))
}

func TestEvaluate_ScheduleReadInStoreLocation(t *testing.T) {
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))
	catalog := []models.Promotion{happyHour(t)}
	store := time.FixedZone("BRT", -3*60*60)
	eng := newEngine(WithLocation(store))

	for _, now := range []time.Time{
		time.Date(2025, 3, 12, 22, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 12, 19, 0, 0, 0, store),
		time.Date(2025, 3, 13, 7, 0, 0, 0, time.FixedZone("JST", 9*60*60)),
	} {
		res, err := eng.Evaluate(catalog, cart, now)
		require.NoError(t, err)
		assert.Equal(t, []string{"HAPPY"}, appliedIDs(res), "at %s", now)
		assertMoney(t, "90", res.FinalTotal, "at %s", now)
	}
}

func TestEvaluate_UsageLimitReached(t *testing.T) {
	p := promo("LIMITED", models.PercentOff{Percent: d("10")}, withUsage(3, 3))

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	assert.Equal(t, models.SkipUsageLimitReached, skipReason(res, "LIMITED"))
}

func TestEvaluate_InvalidConfigurationIsSkipped(t *testing.T) {
	bad := promo("BAD", models.PercentOff{Percent: d("150")}, withPriority(100))
	good := promo("GOOD", models.PercentOff{Percent: d("10")})

	res := evaluate(t, []models.Promotion{bad, good}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	assert.Equal(t, []string{"GOOD"}, appliedIDs(res))
	assert.Equal(t, models.SkipInvalidConfiguration, skipReason(res, "BAD"))
}

func TestEvaluate_InactiveIsSkipped(t *testing.T) {
	p := promo("OFF", models.PercentOff{Percent: d("10")})
	p.IsActive = false

	res := evaluate(t, []models.Promotion{p}, cartOf(line("l1", "tv", "electronics", "100", 1)))

	assert.Equal(t, models.SkipInactive, skipReason(res, "OFF"))
}

func TestEvaluate_InvalidInput(t *testing.T) {
	good := cartOf(line("l1", "tv", "electronics", "100", 1))

	tests := []struct {
		name       string
		promotions []models.Promotion
		cart       models.CartContext
		now        time.Time
		field      string
	}{
		{"nil catalog", nil, good, evalTime, "promotions"},
		{"no evaluation time", []models.Promotion{}, good, time.Time{}, "now"},
		{"zero quantity", []models.Promotion{}, cartOf(line("l1", "tv", "e", "10", 0)), evalTime, "lines[0].quantity"},
		{"negative price", []models.Promotion{}, cartOf(line("l1", "tv", "e", "-1", 1)), evalTime, "lines[0].unit_price"},
		{"duplicate line", []models.Promotion{}, cartOf(line("l1", "tv", "e", "1", 1), line("l1", "tv", "e", "1", 1)), evalTime, "lines[1].id"},
		{
			"duplicate promotion",
			[]models.Promotion{promo("P", models.PercentOff{Percent: d("1")}), promo("P", models.PercentOff{Percent: d("2")})},
			good, evalTime, "promotions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine().Evaluate(tt.promotions, tt.cart, tt.now)
			var invalid *InvalidInputError
			require.True(t, errors.As(err, &invalid), "expected InvalidInputError, got %v", err)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}

func TestEvaluate_EmptyCartAndCatalog(t *testing.T) {
	res := evaluate(t, []models.Promotion{}, models.CartContext{})

	assert.Empty(t, res.AppliedPromotions)
	assertMoney(t, "0", res.FinalTotal)
}

func TestEvaluate_FallsBackToCartTime(t *testing.T) {
	cart := cartOf(line("l1", "tv", "electronics", "100", 1))
	cart.EvaluationTime = evalTime

	res, err := newEngine().Evaluate([]models.Promotion{}, cart, time.Time{})

	require.NoError(t, err)
	assert.True(t, res.EvaluatedAt.Equal(evalTime))
}

func TestEvaluate_IsIdempotent(t *testing.T) {
	promotions := []models.Promotion{
		promo("PCT", models.PercentOff{Percent: d("15")}, withPriority(2)),
		promo("FLAT", models.ValueOff{Value: d("7.5")}, stackable()),
		promo("B1G1", models.BuyXGetY{Buy: 1, Get: 1}, withPriority(2)),
		promo("COUPON", models.PercentOff{Percent: d("10")}, withCoupon("X")),
	}
	cart := cartOf(
		line("l1", "a", "c1", "19.99", 3),
		line("l2", "b", "c2", "5.25", 2),
	)

	first, err := newEngine().Evaluate(promotions, cart, evalTime)
	require.NoError(t, err)
	second, err := newEngine().Evaluate(promotions, cart, evalTime)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	promotions := []models.Promotion{promo("PCT", models.PercentOff{Percent: d("15")})}
	cart := cartOf(line("l1", "a", "c1", "10", 1))

	_, err := newEngine().Evaluate(promotions, cart, evalTime)
	require.NoError(t, err)

	assert.True(t, cart.EvaluationTime.IsZero())
	assert.Equal(t, "PCT", promotions[0].ID)
}

func TestEvaluate_DiscountBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	products := []string{"a", "b", "c", "d"}

	for i := 0; i < 200; i++ {
		var lines []models.CartLine
		for j := 0; j < 1+rng.Intn(4); j++ {
			price := decimal.New(int64(rng.Intn(5000)), -2)
			lines = append(lines, models.CartLine{
				ID:         string(rune('p' + j)),
				ProductID:  products[rng.Intn(len(products))],
				CategoryID: products[rng.Intn(len(products))],
				UnitPrice:  price,
				Quantity:   1 + rng.Intn(5),
			})
		}
		promotions := []models.Promotion{
			promo("PCT", models.PercentOff{Percent: decimal.NewFromInt(int64(rng.Intn(101)))}, withPriority(rng.Intn(3))),
			promo("FLAT", models.ValueOff{Value: decimal.NewFromInt(int64(rng.Intn(100)))}, withPriority(rng.Intn(3)), stackable()),
			promo("BXGY", models.BuyXGetY{Buy: 1 + rng.Intn(2), Get: 1}, withPriority(rng.Intn(3)), stackable()),
			promo("QTY", models.QuantityDiscount{MinQuantity: 3, Percent: d("30")}, targeting(models.TargetProducts, "a", "b"), stackable()),
			promo("COMBO", models.Combo{Items: []models.ComboItem{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 1}}, Price: d("1")}, stackable()),
		}

		cart := models.CartContext{Lines: lines}
		res, err := newEngine().Evaluate(promotions, cart, evalTime)
		require.NoError(t, err)

		subtotals := map[string]decimal.Decimal{}
		for _, l := range lines {
			subtotals[l.ID] = l.Subtotal()
		}
		allocated := map[string]decimal.Decimal{}
		for _, a := range res.AppliedPromotions {
			assert.True(t, a.DiscountAmount.IsPositive())
			sum := decimal.Zero
			for _, al := range a.Allocations {
				sum = sum.Add(al.Amount)
				allocated[al.LineID] = allocated[al.LineID].Add(al.Amount)
			}
			assert.True(t, sum.Equal(a.DiscountAmount), "allocations of %s sum to %s, want %s", a.PromotionID, sum, a.DiscountAmount)
		}
		for id, amount := range allocated {
			assert.False(t, amount.GreaterThan(subtotals[id]), "line %s discounted %s above %s", id, amount, subtotals[id])
		}
		assert.False(t, res.TotalDiscount.GreaterThan(cart.Subtotal()))
		assert.False(t, res.FinalTotal.IsNegative())
	}
}
