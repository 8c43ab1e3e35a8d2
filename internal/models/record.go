package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// PromotionRecord is the flat storage and transport form of a promotion: one
// record carries the columns of every type, and only those matching Type are
// read by Decode.
type PromotionRecord struct {
	ID         string        `json:"id" yaml:"id" validate:"required,max=64"`
	Name       string        `json:"name" yaml:"name" validate:"max=200"`
	IsActive   bool          `json:"is_active" yaml:"is_active"`
	Priority   int           `json:"priority" yaml:"priority"`
	Stackable  bool          `json:"stackable" yaml:"stackable"`
	Type       PromotionType `json:"type" yaml:"type" validate:"required,oneof=discount_percent discount_value buy_x_get_y quantity_discount progressive combo first_purchase loyalty"`
	CouponCode string        `json:"coupon_code,omitempty" yaml:"coupon_code,omitempty" validate:"max=64"`

	StartDate string `json:"start_date,omitempty" yaml:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `json:"end_date,omitempty" yaml:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Weekdays  []int  `json:"weekdays,omitempty" yaml:"weekdays,omitempty" validate:"dive,min=0,max=6"`
	StartTime string `json:"start_time,omitempty" yaml:"start_time,omitempty" validate:"omitempty,datetime=15:04"`
	EndTime   string `json:"end_time,omitempty" yaml:"end_time,omitempty" validate:"omitempty,datetime=15:04"`

	TargetType TargetType `json:"target_type" yaml:"target_type" validate:"required,oneof=all products categories"`
	TargetIDs  []string   `json:"target_ids,omitempty" yaml:"target_ids,omitempty"`

	MinPurchaseValue decimal.Decimal `json:"min_purchase_value" yaml:"min_purchase_value"`
	MaxDiscountValue decimal.Decimal `json:"max_discount_value" yaml:"max_discount_value"`
	UsageLimit       int             `json:"usage_limit" yaml:"usage_limit" validate:"min=0"`
	UsageCount       int             `json:"usage_count" yaml:"usage_count" validate:"min=0"`

	DiscountPercent  *decimal.Decimal  `json:"discount_percent,omitempty" yaml:"discount_percent,omitempty"`
	DiscountValue    *decimal.Decimal  `json:"discount_value,omitempty" yaml:"discount_value,omitempty"`
	BuyQuantity      *int              `json:"buy_quantity,omitempty" yaml:"buy_quantity,omitempty"`
	GetQuantity      *int              `json:"get_quantity,omitempty" yaml:"get_quantity,omitempty"`
	MinQuantity      *int              `json:"min_quantity,omitempty" yaml:"min_quantity,omitempty"`
	ProgressiveTiers []TierRecord      `json:"progressive_tiers,omitempty" yaml:"progressive_tiers,omitempty"`
	ComboItems       []ComboItemRecord `json:"combo_items,omitempty" yaml:"combo_items,omitempty"`
	ComboPrice       *decimal.Decimal  `json:"combo_price,omitempty" yaml:"combo_price,omitempty"`
	LoyaltyMinPoints *int              `json:"loyalty_min_points,omitempty" yaml:"loyalty_min_points,omitempty"`
}

// TierRecord is the flat form of a progressive tier.
type TierRecord struct {
	MinQuantity     int             `json:"min_quantity" yaml:"min_quantity"`
	DiscountPercent decimal.Decimal `json:"discount_percent" yaml:"discount_percent"`
}

// ComboItemRecord is the flat form of a combo component.
type ComboItemRecord struct {
	ProductID string `json:"product_id" yaml:"product_id"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
}

// Decode builds the typed promotion and validates it. The returned error is a
// *ConfigurationError.
func (r PromotionRecord) Decode() (Promotion, error) {
	p := Promotion{
		ID:         r.ID,
		Name:       r.Name,
		IsActive:   r.IsActive,
		Priority:   r.Priority,
		Stackable:  r.Stackable,
		CouponCode: r.CouponCode,
		Targeting: Targeting{
			Type: r.TargetType,
			IDs:  append([]string(nil), r.TargetIDs...),
		},
		Constraints: Constraints{
			MinPurchaseValue: r.MinPurchaseValue,
			MaxDiscountValue: r.MaxDiscountValue,
			UsageLimit:       r.UsageLimit,
			UsageCount:       r.UsageCount,
		},
	}

	schedule, err := r.decodeSchedule()
	if err != nil {
		return Promotion{}, withPromotion(err, r.ID)
	}
	p.Schedule = schedule

	params, err := r.decodeParams()
	if err != nil {
		return Promotion{}, withPromotion(err, r.ID)
	}
	p.Params = params

	if err := p.Validate(); err != nil {
		return Promotion{}, err
	}
	return p, nil
}

func (r PromotionRecord) decodeSchedule() (*Schedule, error) {
	if r.StartDate == "" && r.EndDate == "" && len(r.Weekdays) == 0 && r.StartTime == "" && r.EndTime == "" {
		return nil, nil
	}
	s := &Schedule{}
	if r.StartDate != "" {
		t, err := time.Parse(dateLayout, r.StartDate)
		if err != nil {
			return nil, &ConfigurationError{Field: "start_date", Message: "must be YYYY-MM-DD"}
		}
		s.StartDate = &t
	}
	if r.EndDate != "" {
		t, err := time.Parse(dateLayout, r.EndDate)
		if err != nil {
			return nil, &ConfigurationError{Field: "end_date", Message: "must be YYYY-MM-DD"}
		}
		s.EndDate = &t
	}
	for _, d := range r.Weekdays {
		s.Weekdays = append(s.Weekdays, time.Weekday(d))
	}
	if r.StartTime != "" || r.EndTime != "" {
		if r.StartTime == "" || r.EndTime == "" {
			return nil, &ConfigurationError{Field: "time_window", Message: "start_time and end_time must be set together"}
		}
		start, err := ParseClockTime(r.StartTime)
		if err != nil {
			return nil, &ConfigurationError{Field: "start_time", Message: "must be HH:MM"}
		}
		end, err := ParseClockTime(r.EndTime)
		if err != nil {
			return nil, &ConfigurationError{Field: "end_time", Message: "must be HH:MM"}
		}
		s.TimeWindow = &TimeWindow{Start: start, End: end}
	}
	return s, nil
}

func (r PromotionRecord) decodeParams() (Params, error) {
	switch r.Type {
	case TypeDiscountPercent:
		pct, err := requireDecimal(r.DiscountPercent, "discount_percent")
		if err != nil {
			return nil, err
		}
		return PercentOff{Percent: pct}, nil
	case TypeDiscountValue:
		v, err := requireDecimal(r.DiscountValue, "discount_value")
		if err != nil {
			return nil, err
		}
		return ValueOff{Value: v}, nil
	case TypeBuyXGetY:
		buy, err := requireInt(r.BuyQuantity, "buy_quantity")
		if err != nil {
			return nil, err
		}
		get, err := requireInt(r.GetQuantity, "get_quantity")
		if err != nil {
			return nil, err
		}
		return BuyXGetY{Buy: buy, Get: get}, nil
	case TypeQuantityDiscount:
		minQty, err := requireInt(r.MinQuantity, "min_quantity")
		if err != nil {
			return nil, err
		}
		pct, err := requireDecimal(r.DiscountPercent, "discount_percent")
		if err != nil {
			return nil, err
		}
		return QuantityDiscount{MinQuantity: minQty, Percent: pct}, nil
	case TypeProgressive:
		if len(r.ProgressiveTiers) == 0 {
			return nil, &ConfigurationError{Field: "progressive_tiers", Message: "is required"}
		}
		tiers := make([]Tier, 0, len(r.ProgressiveTiers))
		for _, t := range r.ProgressiveTiers {
			tiers = append(tiers, Tier{MinQuantity: t.MinQuantity, Percent: t.DiscountPercent})
		}
		return Progressive{Tiers: tiers}, nil
	case TypeCombo:
		if len(r.ComboItems) == 0 {
			return nil, &ConfigurationError{Field: "combo_items", Message: "is required"}
		}
		price, err := requireDecimal(r.ComboPrice, "combo_price")
		if err != nil {
			return nil, err
		}
		items := make([]ComboItem, 0, len(r.ComboItems))
		for _, it := range r.ComboItems {
			items = append(items, ComboItem{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		return Combo{Items: items, Price: price}, nil
	case TypeFirstPurchase:
		pct, err := requireDecimal(r.DiscountPercent, "discount_percent")
		if err != nil {
			return nil, err
		}
		return FirstPurchase{Percent: pct}, nil
	case TypeLoyalty:
		pct, err := requireDecimal(r.DiscountPercent, "discount_percent")
		if err != nil {
			return nil, err
		}
		minPoints := 0
		if r.LoyaltyMinPoints != nil {
			minPoints = *r.LoyaltyMinPoints
		}
		return Loyalty{MinPoints: minPoints, Percent: pct}, nil
	default:
		return nil, &ConfigurationError{Field: "type", Message: fmt.Sprintf("unknown promotion type %q", r.Type)}
	}
}

func requireDecimal(v *decimal.Decimal, field string) (decimal.Decimal, error) {
	if v == nil {
		return decimal.Zero, &ConfigurationError{Field: field, Message: "is required"}
	}
	return *v, nil
}

func requireInt(v *int, field string) (int, error) {
	if v == nil {
		return 0, &ConfigurationError{Field: field, Message: "is required"}
	}
	return *v, nil
}

// DecodeOrInvalid decodes the record. A record that fails to decode still
// yields a promotion carrying the same id, activity and priority, which
// reports the decode error from Validate and is therefore never eligible.
func (r PromotionRecord) DecodeOrInvalid() (Promotion, error) {
	p, err := r.Decode()
	if err == nil {
		return p, nil
	}
	return Promotion{
		ID:        r.ID,
		Name:      r.Name,
		IsActive:  r.IsActive,
		Priority:  r.Priority,
		Stackable: r.Stackable,
		Targeting: Targeting{Type: TargetAll},
		Params:    invalidParams{err: err},
	}, err
}

// invalidParams stands in for parameters that could not be decoded.
type invalidParams struct {
	err error
}

func (invalidParams) Type() PromotionType { return "" }

func (p invalidParams) validate() error { return p.err }
