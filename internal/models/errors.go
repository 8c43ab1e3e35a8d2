package models

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a promotion record with missing or out-of-range
// fields. Such a promotion is never eligible.
type ConfigurationError struct {
	PromotionID string
	Field       string
	Message     string
}

func (e *ConfigurationError) Error() string {
	if e.PromotionID == "" {
		return fmt.Sprintf("promotion configuration error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("promotion %s configuration error on field '%s': %s", e.PromotionID, e.Field, e.Message)
}

func withPromotion(err error, id string) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.PromotionID == "" {
		cfgErr.PromotionID = id
	}
	return err
}
