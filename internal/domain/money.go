package domain

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

const microsPerUnit = 1_000_000

// ErrAmountOutOfRange is returned when a decimal amount does not fit in int64 micros.
var ErrAmountOutOfRange = errors.New("amount exceeds the supported range")

var (
	microsPerUnitDecimal = decimal.NewFromInt(microsPerUnit)
	maxMicros            = decimal.NewFromInt(math.MaxInt64)
	minMicros            = decimal.NewFromInt(math.MinInt64)
)

// zeroDecimalCurrencies have no minor unit; every other currency settles in hundredths.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"RWF": true,
	"UGX": true,
	"XAF": true,
	"XOF": true,
}

// MicrosToDecimal converts micros into major units.
func MicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.NewFromInt(micros).Div(microsPerUnitDecimal)
}

// FromDecimal converts major units to int64 micros, truncating sub-micro precision.
func FromDecimal(d decimal.Decimal) (int64, error) {
	m := d.Mul(microsPerUnitDecimal).Truncate(0)
	if m.GreaterThan(maxMicros) || m.LessThan(minMicros) {
		return 0, ErrAmountOutOfRange
	}
	return m.IntPart(), nil
}

// ParseAmount converts a decimal string in major units to micros.
// Only strictly positive amounts with at most six fractional digits are accepted.
func ParseAmount(field, raw string) (int64, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, NewValidationError(field, ReasonInvalidFormat, "amount must be a decimal number")
	}
	if !d.IsPositive() {
		return 0, NewValidationError(field, ReasonNotPositive, "amount must be greater than zero")
	}
	if d.Exponent() < -6 && !d.Equal(d.Truncate(6)) {
		return 0, NewValidationError(field, ReasonInvalidFormat, "amount has more than six decimal places")
	}
	micros, err := FromDecimal(d)
	if err != nil {
		return 0, NewValidationError(field, ReasonTooLarge, "amount is too large")
	}
	return micros, nil
}

// PlatformFee returns base * bps / 10000 rounded down to the micro.
func PlatformFee(base int64, bps int) int64 {
	if base <= 0 || bps <= 0 {
		return 0
	}
	return decimal.NewFromInt(base).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(10_000)).
		Floor().
		IntPart()
}

// MinorUnitMicros is the size of one minor unit of currency, in micros.
func MinorUnitMicros(currency string) int64 {
	if zeroDecimalCurrencies[currency] {
		return microsPerUnit
	}
	return microsPerUnit / 100
}

// RoundToMinorUnit rounds micros half-up to a whole minor unit of currency.
func RoundToMinorUnit(micros int64, currency string) int64 {
	unit := MinorUnitMicros(currency)
	return decimal.NewFromInt(micros).
		Div(decimal.NewFromInt(unit)).
		Round(0).
		IntPart() * unit
}

// CeilToMinorUnit rounds micros up to a whole minor unit of currency.
func CeilToMinorUnit(micros int64, currency string) int64 {
	unit := MinorUnitMicros(currency)
	return decimal.NewFromInt(micros).
		Div(decimal.NewFromInt(unit)).
		Ceil().
		IntPart() * unit
}

// IsWholeMinorUnit reports whether micros can be collected or paid out
// without losing precision in currency.
func IsWholeMinorUnit(micros int64, currency string) bool {
	return micros%MinorUnitMicros(currency) == 0
}

// SameMinorAmount compares two amounts at the precision a provider settles in.
func SameMinorAmount(a, b int64, currency string) bool {
	return RoundToMinorUnit(a, currency) == RoundToMinorUnit(b, currency)
}

// ToMinorUnits converts micros to the provider's minor units (kobo, cents), rounding down.
func ToMinorUnits(micros int64) int64 {
	return micros / (microsPerUnit / 100)
}

// FromMinorUnits converts provider minor units to micros.
func FromMinorUnits(minor int64) int64 {
	return minor * (microsPerUnit / 100)
}
