package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PromotionType identifies which discount rule a promotion carries.
type PromotionType string

const (
	TypeDiscountPercent  PromotionType = "discount_percent"
	TypeDiscountValue    PromotionType = "discount_value"
	TypeBuyXGetY         PromotionType = "buy_x_get_y"
	TypeQuantityDiscount PromotionType = "quantity_discount"
	TypeProgressive      PromotionType = "progressive"
	TypeCombo            PromotionType = "combo"
	TypeFirstPurchase    PromotionType = "first_purchase"
	TypeLoyalty          PromotionType = "loyalty"
)

// TargetType selects how a promotion matches cart lines.
type TargetType string

const (
	TargetAll        TargetType = "all"
	TargetProducts   TargetType = "products"
	TargetCategories TargetType = "categories"
)

var hundred = decimal.NewFromInt(100)

// Promotion is an immutable discount rule. Params holds exactly the
// parameters of the promotion's type.
type Promotion struct {
	ID          string
	Name        string
	IsActive    bool
	Priority    int
	Stackable   bool
	Schedule    *Schedule
	Targeting   Targeting
	CouponCode  string
	Constraints Constraints
	Params      Params
}

// Type returns the promotion type, or "" when no parameters are set.
func (p Promotion) Type() PromotionType {
	if p.Params == nil {
		return ""
	}
	return p.Params.Type()
}

// Validate reports the first configuration problem of the promotion.
func (p Promotion) Validate() error {
	if p.ID == "" {
		return &ConfigurationError{Field: "id", Message: "is required"}
	}
	if p.Params == nil {
		return &ConfigurationError{PromotionID: p.ID, Field: "type", Message: "has no parameters"}
	}
	switch p.Targeting.Type {
	case TargetAll:
	case TargetProducts, TargetCategories:
		if len(p.Targeting.IDs) == 0 {
			return &ConfigurationError{PromotionID: p.ID, Field: "target_ids", Message: "must not be empty for targeted promotions"}
		}
	default:
		return &ConfigurationError{PromotionID: p.ID, Field: "target_type", Message: fmt.Sprintf("unknown target type %q", p.Targeting.Type)}
	}
	if err := p.Constraints.validate(); err != nil {
		return withPromotion(err, p.ID)
	}
	if p.Schedule != nil {
		if err := p.Schedule.validate(); err != nil {
			return withPromotion(err, p.ID)
		}
	}
	if err := p.Params.validate(); err != nil {
		return withPromotion(err, p.ID)
	}
	return nil
}

// Targeting restricts a promotion to a subset of cart lines.
type Targeting struct {
	Type TargetType
	IDs  []string
}

// Constraints are the limits shared by every promotion type.
type Constraints struct {
	MinPurchaseValue decimal.Decimal
	MaxDiscountValue decimal.Decimal // zero means unbounded
	UsageLimit       int             // zero means unlimited
	UsageCount       int
}

// UsageAvailable reports whether the usage limit still allows one more use.
func (c Constraints) UsageAvailable() bool {
	return c.UsageLimit == 0 || c.UsageCount < c.UsageLimit
}

func (c Constraints) validate() error {
	if c.MinPurchaseValue.IsNegative() {
		return &ConfigurationError{Field: "min_purchase_value", Message: "must be non-negative"}
	}
	if c.MaxDiscountValue.IsNegative() {
		return &ConfigurationError{Field: "max_discount_value", Message: "must be non-negative"}
	}
	if c.UsageLimit < 0 {
		return &ConfigurationError{Field: "usage_limit", Message: "must be non-negative"}
	}
	if c.UsageCount < 0 {
		return &ConfigurationError{Field: "usage_count", Message: "must be non-negative"}
	}
	return nil
}

// Schedule gates a promotion by date, weekday and time of day. Every part is
// optional and checked independently.
type Schedule struct {
	StartDate  *time.Time // inclusive, date part only
	EndDate    *time.Time // inclusive, date part only
	Weekdays   []time.Weekday
	TimeWindow *TimeWindow
}

func (s Schedule) validate() error {
	if s.StartDate != nil && s.EndDate != nil && dateKey(*s.EndDate) < dateKey(*s.StartDate) {
		return &ConfigurationError{Field: "end_date", Message: "must not be before start_date"}
	}
	for _, d := range s.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return &ConfigurationError{Field: "weekdays", Message: fmt.Sprintf("invalid weekday %d", d)}
		}
	}
	if s.TimeWindow != nil {
		if !s.TimeWindow.Start.valid() || !s.TimeWindow.End.valid() {
			return &ConfigurationError{Field: "time_window", Message: "times must be within 00:00-23:59"}
		}
	}
	return nil
}

// Contains reports whether t falls inside the schedule. Dates and times are
// read in t's location, so callers move t to the store location first.
func (s Schedule) Contains(t time.Time) bool {
	day := dateKey(t)
	if s.StartDate != nil && day < dateKey(*s.StartDate) {
		return false
	}
	if s.EndDate != nil && day > dateKey(*s.EndDate) {
		return false
	}
	if len(s.Weekdays) > 0 {
		found := false
		for _, d := range s.Weekdays {
			if d == t.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.TimeWindow != nil && !s.TimeWindow.Contains(t) {
		return false
	}
	return true
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// ClockTime is a minute of the day, 0 to 1439.
type ClockTime int

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return ClockTime(t.Hour()*60 + t.Minute()), nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) valid() bool {
	return c >= 0 && c < 24*60
}

// TimeWindow is an inclusive range of minutes. A window whose start is after
// its end wraps past midnight.
type TimeWindow struct {
	Start ClockTime
	End   ClockTime
}

// Contains reports whether the time of day of t lies in the window.
func (w TimeWindow) Contains(t time.Time) bool {
	m := ClockTime(t.Hour()*60 + t.Minute())
	if w.Start <= w.End {
		return m >= w.Start && m <= w.End
	}
	return m >= w.Start || m <= w.End
}

// Params is the type-specific part of a promotion. The set of
// implementations is closed.
type Params interface {
	Type() PromotionType
	validate() error
}

// PercentOff takes a percentage off the matched lines.
type PercentOff struct {
	Percent decimal.Decimal
}

// ValueOff takes a fixed amount off the matched lines.
type ValueOff struct {
	Value decimal.Decimal
}

// BuyXGetY gives Get units free for every Buy+Get units bought.
type BuyXGetY struct {
	Buy int
	Get int
}

// QuantityDiscount takes a percentage off once the matched quantity reaches MinQuantity.
type QuantityDiscount struct {
	MinQuantity int
	Percent     decimal.Decimal
}

// Tier is one step of a progressive discount.
type Tier struct {
	MinQuantity int
	Percent     decimal.Decimal
}

// Progressive applies the percentage of the highest tier reached.
type Progressive struct {
	Tiers []Tier // ascending by MinQuantity
}

// ComboItem is one required component of a combo.
type ComboItem struct {
	ProductID string
	Quantity  int
}

// Combo sells a fixed set of products for Price.
type Combo struct {
	Items []ComboItem
	Price decimal.Decimal
}

// FirstPurchase takes a percentage off a customer's first purchase.
type FirstPurchase struct {
	Percent decimal.Decimal
}

// Loyalty takes a percentage off for customers holding at least MinPoints.
type Loyalty struct {
	MinPoints int
	Percent   decimal.Decimal
}

func (PercentOff) Type() PromotionType       { return TypeDiscountPercent }
func (ValueOff) Type() PromotionType         { return TypeDiscountValue }
func (BuyXGetY) Type() PromotionType         { return TypeBuyXGetY }
func (QuantityDiscount) Type() PromotionType { return TypeQuantityDiscount }
func (Progressive) Type() PromotionType      { return TypeProgressive }
func (Combo) Type() PromotionType            { return TypeCombo }
func (FirstPurchase) Type() PromotionType    { return TypeFirstPurchase }
func (Loyalty) Type() PromotionType          { return TypeLoyalty }

func (p PercentOff) validate() error { return validatePercent(p.Percent) }

func (p ValueOff) validate() error {
	if p.Value.IsNegative() {
		return &ConfigurationError{Field: "discount_value", Message: "must be non-negative"}
	}
	return nil
}

func (p BuyXGetY) validate() error {
	if p.Buy < 1 {
		return &ConfigurationError{Field: "buy_quantity", Message: "must be at least 1"}
	}
	if p.Get < 1 {
		return &ConfigurationError{Field: "get_quantity", Message: "must be at least 1"}
	}
	return nil
}

func (p QuantityDiscount) validate() error {
	if p.MinQuantity < 1 {
		return &ConfigurationError{Field: "min_quantity", Message: "must be at least 1"}
	}
	return validatePercent(p.Percent)
}

func (p Progressive) validate() error {
	if len(p.Tiers) == 0 {
		return &ConfigurationError{Field: "progressive_tiers", Message: "must not be empty"}
	}
	for i, t := range p.Tiers {
		if t.MinQuantity < 1 {
			return &ConfigurationError{Field: fmt.Sprintf("progressive_tiers[%d].min_quantity", i), Message: "must be at least 1"}
		}
		if i > 0 && t.MinQuantity <= p.Tiers[i-1].MinQuantity {
			return &ConfigurationError{Field: "progressive_tiers", Message: "must be sorted by ascending min_quantity"}
		}
		if err := validatePercent(t.Percent); err != nil {
			return &ConfigurationError{Field: fmt.Sprintf("progressive_tiers[%d].discount_percent", i), Message: err.(*ConfigurationError).Message}
		}
	}
	return nil
}

func (p Combo) validate() error {
	if len(p.Items) == 0 {
		return &ConfigurationError{Field: "combo_items", Message: "must not be empty"}
	}
	seen := make(map[string]bool, len(p.Items))
	for i, it := range p.Items {
		if it.ProductID == "" {
			return &ConfigurationError{Field: fmt.Sprintf("combo_items[%d].product_id", i), Message: "is required"}
		}
		if it.Quantity < 1 {
			return &ConfigurationError{Field: fmt.Sprintf("combo_items[%d].quantity", i), Message: "must be at least 1"}
		}
		if seen[it.ProductID] {
			return &ConfigurationError{Field: "combo_items", Message: fmt.Sprintf("duplicate product %s", it.ProductID)}
		}
		seen[it.ProductID] = true
	}
	if p.Price.IsNegative() {
		return &ConfigurationError{Field: "combo_price", Message: "must be non-negative"}
	}
	return nil
}

func (p FirstPurchase) validate() error { return validatePercent(p.Percent) }

func (p Loyalty) validate() error {
	if p.MinPoints < 0 {
		return &ConfigurationError{Field: "loyalty_min_points", Message: "must be non-negative"}
	}
	return validatePercent(p.Percent)
}

func validatePercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return &ConfigurationError{Field: "discount_percent", Message: "must be between 0 and 100"}
	}
	return nil
}
