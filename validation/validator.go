package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/bulwark/errors"
)

// Validator collects validation errors.
type Validator struct {
	errors []FieldError
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{}
}

// AddError adds a field error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Validate returns an INVALID_CONFIGURATION error naming every violated
// field, or nil. The first field is reported as the error's "field" detail.
func (v *Validator) Validate() error {
	if !v.HasErrors() {
		return nil
	}

	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = fmt.Sprintf("%s %s", e.Field, e.Message)
	}

	return errors.InvalidConfiguration(v.errors[0].Field, strings.Join(messages, "; ")).
		WithDetail("fields", v.errors)
}

// Positive checks value > 0.
func (v *Validator) Positive(field string, value int) *Validator {
	if value <= 0 {
		v.AddError(field, fmt.Sprintf("must be greater than 0 (got: %d)", value))
	}
	return v
}

// NonNegative checks value >= 0.
func (v *Validator) NonNegative(field string, value int) *Validator {
	if value < 0 {
		v.AddError(field, fmt.Sprintf("must not be negative (got: %d)", value))
	}
	return v
}

// AtLeast checks value >= minVal.
func (v *Validator) AtLeast(field string, value, minVal int) *Validator {
	if value < minVal {
		v.AddError(field, fmt.Sprintf("must be at least %d (got: %d)", minVal, value))
	}
	return v
}

// NonNegativeDuration checks d >= 0.
func (v *Validator) NonNegativeDuration(field string, d time.Duration) *Validator {
	if d < 0 {
		v.AddError(field, fmt.Sprintf("must not be negative (got: %s)", d))
	}
	return v
}

// AtLeastFloat checks value >= minVal.
func (v *Validator) AtLeastFloat(field string, value, minVal float64) *Validator {
	if value < minVal {
		v.AddError(field, fmt.Sprintf("must be at least %g (got: %g)", minVal, value))
	}
	return v
}

// Required checks if a string is non-blank.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Custom applies a custom validation condition.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		v.AddError(field, message)
	}
	return v
}
