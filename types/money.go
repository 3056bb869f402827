// Package types provides the value types shared by every paywall package.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrCurrencyMismatch is returned when two amounts in different currencies are combined.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money is an amount in the smallest currency unit. Arithmetic is
// integer-only: USD(999) is $9.99.
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (cents, pence, etc)
	Currency string `json:"currency"` // ISO 4217 lowercase: "usd", "eur", "gbp"
}

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in Euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP creates a Money value in British Pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// New returns amount minor units of currency.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// ParseMajor parses a decimal major-unit string such as "9.99" into Money.
// More fractional digits than the currency allows is an error.
func ParseMajor(s, currency string) (Money, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, errors.New("money: currency is required")
	}
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, hasFrac := strings.Cut(s, ".")
	decimals := currencyDecimals(currency)
	if hasFrac && len(frac) > decimals {
		return Money{}, fmt.Errorf("money: %q has more than %d decimal places", s, decimals)
	}
	if whole == "" && frac == "" {
		return Money{}, fmt.Errorf("money: invalid amount %q", s)
	}
	frac += strings.Repeat("0", decimals-len(frac))

	amount, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	if neg {
		amount = -amount
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// SameCurrency reports whether other is in the same currency as m.
func (m Money) SameCurrency(other Money) bool {
	return strings.EqualFold(m.Currency, other.Currency)
}

// CheckCurrency returns ErrCurrencyMismatch unless m is in currency.
func (m Money) CheckCurrency(currency string) error {
	if !strings.EqualFold(m.Currency, currency) {
		return fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, m.Currency, currency)
	}
	return nil
}

// FormatMajor returns the major unit string without currency symbol,
// "9.99" for USD(999) and "100" for a zero-decimal currency.
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return strconv.FormatInt(m.Amount, 10)
	}

	divisor := int64(1)
	for range decimals {
		divisor *= 10
	}

	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}

	return fmt.Sprintf("%s%d.%0*d", sign, abs/divisor, decimals, abs%divisor)
}

// String returns the amount with its currency symbol, e.g. "$9.99".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.String(),
	})
}

func (m Money) assertSameCurrency(other Money) {
	if !m.SameCurrency(other) {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencySymbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	case "jpy":
		return "¥"
	default:
		return strings.ToUpper(currency) + " "
	}
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case "jpy", "krw", "vnd", "clp":
		return 0
	default:
		return 2
	}
}

// Sum adds values in currency. An empty list sums to zero.
func Sum(currency string, values ...Money) Money {
	result := Zero(currency)
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
