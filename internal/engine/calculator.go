package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"promotion-engine-api/internal/models"
)

const moneyPlaces = 2

// pricedLine is a matched cart line valued at what is still left of it.
type pricedLine struct {
	ID        string
	ProductID string
	Quantity  int
	Value     decimal.Decimal
}

func (l pricedLine) unitPrice() decimal.Decimal {
	return l.Value.Div(decimal.NewFromInt(int64(l.Quantity)))
}

// share is the part of a discount attributed to one line before capping.
type share struct {
	lineID string
	amount decimal.Decimal
}

// discount is a raw, uncapped discount.
type discount struct {
	amount decimal.Decimal
	shares []share
}

var noDiscount = discount{amount: decimal.Zero}

// calculate computes the raw discount of params over lines. Only the fields
// of the concrete params type are read.
func calculate(params models.Params, lines []pricedLine) discount {
	switch p := params.(type) {
	case models.PercentOff:
		return percentOf(p.Percent, lines)
	case models.ValueOff:
		return valueOff(p.Value, lines)
	case models.QuantityDiscount:
		if totalQuantity(lines) < p.MinQuantity {
			return noDiscount
		}
		return percentOf(p.Percent, lines)
	case models.Progressive:
		pct, ok := progressiveTier(p.Tiers, totalQuantity(lines))
		if !ok {
			return noDiscount
		}
		return percentOf(pct, lines)
	case models.BuyXGetY:
		return buyXGetY(p, lines)
	case models.Combo:
		return combo(p, lines)
	case models.FirstPurchase:
		return percentOf(p.Percent, lines)
	case models.Loyalty:
		return percentOf(p.Percent, lines)
	default:
		return noDiscount
	}
}

func percentOf(pct decimal.Decimal, lines []pricedLine) discount {
	rate := pct.Div(decimal.NewFromInt(100))
	d := discount{amount: decimal.Zero}
	for _, l := range lines {
		part := l.Value.Mul(rate)
		d.amount = d.amount.Add(part)
		d.shares = append(d.shares, share{lineID: l.ID, amount: part})
	}
	return d
}

// valueOff spreads the flat value over lines in proportion to their value.
func valueOff(value decimal.Decimal, lines []pricedLine) discount {
	total := totalValue(lines)
	if !total.IsPositive() {
		return noDiscount
	}
	d := discount{amount: decimal.Min(value, total)}
	for _, l := range lines {
		d.shares = append(d.shares, share{lineID: l.ID, amount: d.amount.Mul(l.Value).Div(total)})
	}
	return d
}

// progressiveTier returns the percentage of the tier with the largest
// minimum quantity not above qty.
func progressiveTier(tiers []models.Tier, qty int) (decimal.Decimal, bool) {
	best := -1
	for i, t := range tiers {
		if t.MinQuantity <= qty && (best < 0 || t.MinQuantity > tiers[best].MinQuantity) {
			best = i
		}
	}
	if best < 0 {
		return decimal.Zero, false
	}
	return tiers[best].Percent, true
}

// run is a matched line seen as Quantity units of one price.
type run struct {
	line     int
	quantity int
	price    decimal.Decimal
}

// buyXGetY orders the matched units by ascending price and groups them into
// bundles of Buy+Get. The Get cheapest units of each complete bundle are free.
// Lines are walked as runs of equally priced units, so the work is linear in
// the number of lines whatever the quantities.
func buyXGetY(p models.BuyXGetY, lines []pricedLine) discount {
	size := p.Buy + p.Get
	if size <= 0 || p.Get <= 0 {
		return noDiscount
	}

	runs := make([]run, 0, len(lines))
	for i, l := range lines {
		runs = append(runs, run{line: i, quantity: l.Quantity, price: l.unitPrice()})
	}
	sort.SliceStable(runs, func(a, b int) bool {
		return runs[a].price.LessThan(runs[b].price)
	})

	// freeBefore counts the free positions among the first n sorted units.
	freeBefore := func(n int) int {
		return (n/size)*p.Get + min(n%size, p.Get)
	}
	bundled := (totalQuantity(lines) / size) * size

	free := make([]decimal.Decimal, len(lines))
	for i := range free {
		free[i] = decimal.Zero
	}
	amount := decimal.Zero
	pos := 0
	for _, r := range runs {
		if pos >= bundled {
			break
		}
		end := min(pos+r.quantity, bundled)
		if n := freeBefore(end) - freeBefore(pos); n > 0 {
			part := r.price.Mul(decimal.NewFromInt(int64(n)))
			amount = amount.Add(part)
			free[r.line] = free[r.line].Add(part)
		}
		pos += r.quantity
	}

	d := discount{amount: amount}
	for i, l := range lines {
		if free[i].IsPositive() {
			d.shares = append(d.shares, share{lineID: l.ID, amount: free[i]})
		}
	}
	return d
}

// combo consumes the required quantity of every component from the matched
// lines in cart order. The discount is the consumed value above the combo price.
func combo(p models.Combo, lines []pricedLine) discount {
	consumed := make([]decimal.Decimal, len(lines))
	for i := range consumed {
		consumed[i] = decimal.Zero
	}
	for _, item := range p.Items {
		need := item.Quantity
		for i, l := range lines {
			if need == 0 {
				break
			}
			if l.ProductID != item.ProductID {
				continue
			}
			take := min(need, l.Quantity)
			consumed[i] = consumed[i].Add(l.unitPrice().Mul(decimal.NewFromInt(int64(take))))
			need -= take
		}
		if need > 0 {
			return noDiscount
		}
	}

	value := decimal.Zero
	d := discount{}
	for i, l := range lines {
		if consumed[i].IsPositive() {
			value = value.Add(consumed[i])
			d.shares = append(d.shares, share{lineID: l.ID, amount: consumed[i]})
		}
	}
	d.amount = decimal.Max(decimal.Zero, value.Sub(p.Price))
	return d
}

// capAmount rounds a raw amount to money precision and bounds it by the
// promotion's maximum discount and by the value of the lines it discounts.
func capAmount(amount, maxDiscount decimal.Decimal, lines []pricedLine) decimal.Decimal {
	amount = amount.Round(moneyPlaces)
	if maxDiscount.IsPositive() {
		amount = decimal.Min(amount, maxDiscount)
	}
	amount = decimal.Min(amount, totalValue(lines))
	return decimal.Max(amount, decimal.Zero)
}

// allocate spreads amount over lines, first along the shares and then over
// whatever value is left on each line in cart order. No line receives more
// than its value.
func allocate(amount decimal.Decimal, shares []share, lines []pricedLine) []models.LineDiscount {
	index := make(map[string]int, len(lines))
	given := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		index[l.ID] = i
		given[i] = decimal.Zero
	}

	left := amount
	take := func(i int, upTo decimal.Decimal) {
		t := decimal.Min(left, upTo, lines[i].Value.Sub(given[i]))
		if t.IsPositive() {
			given[i] = given[i].Add(t)
			left = left.Sub(t)
		}
	}
	for _, s := range shares {
		if !left.IsPositive() {
			break
		}
		take(index[s.lineID], s.amount.RoundFloor(moneyPlaces))
	}
	for i := range lines {
		if !left.IsPositive() {
			break
		}
		take(i, lines[i].Value)
	}

	var out []models.LineDiscount
	for i, l := range lines {
		if given[i].IsPositive() {
			out = append(out, models.LineDiscount{LineID: l.ID, Amount: given[i]})
		}
	}
	return out
}

func totalQuantity(lines []pricedLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

func totalValue(lines []pricedLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Value)
	}
	return total
}
