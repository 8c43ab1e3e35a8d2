package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"promotion-engine-api/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidatePromotionRecord checks the record's shape and then decodes it, so
// a record that passes is known to be usable by the engine.
func ValidatePromotionRecord(record models.PromotionRecord) error {
	if err := validateStruct(record); err != nil {
		return err
	}

	if _, err := record.Decode(); err != nil {
		var cfgErr *models.ConfigurationError
		if errors.As(err, &cfgErr) {
			return &ValidationError{Field: cfgErr.Field, Message: cfgErr.Message}
		}
		return &ValidationError{Field: "promotion", Message: err.Error()}
	}

	return nil
}

// ValidateCartRequest checks a cart submitted for pricing.
func ValidateCartRequest(req models.CartRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}

	seen := make(map[string]bool, len(req.Lines))
	for i, l := range req.Lines {
		if l.UnitPrice.IsNegative() {
			return &ValidationError{
				Field:   fmt.Sprintf("lines[%d].unit_price", i),
				Message: "must be non-negative",
			}
		}
		if seen[l.ID] {
			return &ValidationError{
				Field:   fmt.Sprintf("lines[%d].id", i),
				Message: fmt.Sprintf("duplicate line id: %s", l.ID),
			}
		}
		seen[l.ID] = true
	}

	return nil
}

// ValidateTenantID checks a tenant id taken from the URL.
func ValidateTenantID(tenantID string) error {
	tenantID = SanitizeString(tenantID)
	if tenantID == "" {
		return &ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if err := validate.Var(tenantID, "max=64,printascii,excludesall=/ "); err != nil {
		return &ValidationError{Field: "tenant_id", Message: "must be at most 64 printable characters without spaces or slashes"}
	}
	return nil
}

func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "body", Message: err.Error()}
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return &ValidationError{Field: field, Message: describe(fe)}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "datetime":
		return "must match layout " + fe.Param()
	default:
		return fmt.Sprintf("failed '%s' check", fe.Tag())
	}
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}
