package domain

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeTotal is returned when a budget total below zero reaches the engine.
	ErrNegativeTotal = errors.New("total must not be negative")
	// ErrNonFiniteValue is returned when a NaN or infinite number is supplied.
	ErrNonFiniteValue = errors.New("value must be a finite number")
	// ErrInvalidLayer is returned for layer ids outside 1..5.
	ErrInvalidLayer = errors.New("layer must be between 1 and 5")
)

// DecimalFromFloat converts a float64 to decimal, rejecting NaN and infinities.
// The field name is included in the error so callers at the edge can report it.
func DecimalFromFloat(field string, value float64) (decimal.Decimal, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return decimal.Zero, fmt.Errorf("%s: %w", field, ErrNonFiniteValue)
	}
	return decimal.NewFromFloat(value), nil
}
