package engine

import "fmt"

// InvalidInputError is returned when the catalog or cart cannot be priced.
// The engine refuses to guess a price for malformed input.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input on field '%s': %s", e.Field, e.Message)
}
