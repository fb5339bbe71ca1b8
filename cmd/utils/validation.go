package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Validator collects field errors; the first message per field wins.
type Validator struct {
	fields map[string]string
}

func NewValidator() *Validator {
	return &Validator{fields: map[string]string{}}
}

func (v *Validator) Check(ok bool, field, message string) {
	if ok {
		return
	}
	if _, exists := v.fields[field]; !exists {
		v.fields[field] = message
	}
}

func (v *Validator) Add(field, message string) { v.Check(false, field, message) }

func (v *Validator) Required(value, field string) {
	v.Check(strings.TrimSpace(value) != "", field, "is required")
}

func (v *Validator) Positive(d decimal.Decimal, field string) {
	v.Check(d.IsPositive(), field, "must be greater than zero")
}

func (v *Validator) NonNegative(d decimal.Decimal, field string) {
	v.Check(!d.IsNegative(), field, "must not be negative")
}

func (v *Validator) MaxLen(value string, n int, field string) {
	v.Check(len(value) <= n, field, "must be at most "+strconv.Itoa(n)+" characters")
}

func (v *Validator) OneOf(value, field string, allowed ...string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "must be one of: "+strings.Join(allowed, ", "))
}

func (v *Validator) Between(n, min, max int, field string) {
	v.Check(n >= min && n <= max, field, "must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
}

// Date parses value into dst, recording a field error on failure.
func (v *Validator) Date(value, field string, dst *time.Time) {
	t, err := ParseDate(value)
	if err != nil {
		v.Add(field, "must be a date (YYYY-MM-DD)")
		return
	}
	*dst = t
}

func (v *Validator) Valid() bool { return len(v.fields) == 0 }

// Err returns a *ValidationError or nil.
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}
