// Package money implements the fixed-point decimal type used for every
// monetary and quantity value in the execution core. No binary float
// ever enters the equity identity path; every comparison against a
// configured limit is exact.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuantityScale and QuoteScale are the fractional digit counts from the
// spec's data model: 8 for instrument quantities, 2 for quote-currency
// totals (cash, position value, P&L).
const (
	QuantityScale = 8
	QuoteScale    = 2
)

// Amount wraps decimal.Decimal so the rest of the core never imports
// shopspring/decimal directly and never accidentally mixes in a
// float64.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a string, the only safe way to construct a
// literal monetary value.
func New(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d: d}, nil
}

// MustNew panics on a malformed literal; reserved for compile-time
// constants in tests and defaults, never for external input.
func MustNew(s string) Amount {
	a, err := New(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt builds an exact integer amount.
func FromInt(i int64) Amount {
	return Amount{d: decimal.NewFromInt(i)}
}

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d)} }
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }
func (a Amount) Abs() Amount         { return Amount{d: a.d.Abs()} }

// Div performs decimal division rounded to QuantityScale+2 (10)
// fractional digits, with no float involved. Division by zero returns Zero;
// callers in the risk/sizing path must check IsZero on the divisor
// themselves since "zero means reject" and "zero means skip" differ by
// call site.
func (a Amount) Div(b Amount) Amount {
	if b.d.IsZero() {
		return Zero
	}
	return Amount{d: a.d.DivRound(b.d, QuantityScale+2)}
}

func (a Amount) IsZero() bool     { return a.d.IsZero() }
func (a Amount) IsNegative() bool { return a.d.IsNegative() }
func (a Amount) IsPositive() bool { return a.d.IsPositive() }

func (a Amount) GreaterThan(b Amount) bool        { return a.d.GreaterThan(b.d) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessThan(b Amount) bool           { return a.d.LessThan(b.d) }
func (a Amount) LessThanOrEqual(b Amount) bool    { return a.d.LessThanOrEqual(b.d) }
func (a Amount) Equal(b Amount) bool              { return a.d.Equal(b.d) }
func (a Amount) Cmp(b Amount) int                 { return a.d.Cmp(b.d) }

// Min and Max return exact extrema without any float round-trip.
func Min(a, b Amount) Amount {
	if a.d.LessThanOrEqual(b.d) {
		return a
	}
	return b
}

func Max(a, b Amount) Amount {
	if a.d.GreaterThanOrEqual(b.d) {
		return a
	}
	return b
}

// Clamp bounds a into [lo, hi].
func Clamp(a, lo, hi Amount) Amount {
	return Max(lo, Min(a, hi))
}

// RoundLot floors a quantity to the nearest multiple of lotSize. A zero
// or negative lotSize is treated as "no rounding".
func (a Amount) RoundLot(lotSize Amount) Amount {
	if lotSize.IsZero() || lotSize.IsNegative() {
		return a
	}
	units := a.d.Div(lotSize.d).Floor()
	return Amount{d: units.Mul(lotSize.d)}
}

// QuantityString renders the 8-decimal instrument-quantity form.
func (a Amount) QuantityString() string { return a.d.StringFixed(QuantityScale) }

// QuoteString renders the 2-decimal quote-currency form.
func (a Amount) QuoteString() string { return a.d.StringFixed(QuoteScale) }

func (a Amount) String() string { return a.d.String() }

// Float64 is reserved for non-monetary contexts: logging ratios,
// feeding a risk-score heuristic, etc. It must never appear on the
// equity-identity path.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("money: invalid amount in json %q: %w", s, err)
	}
	a.d = d
	return nil
}

// Value implements driver.Valuer so gorm persists Amount as a NUMERIC
// column, never as a float.
func (a Amount) Value() (driver.Value, error) {
	return a.d.Value()
}

// Scan implements sql.Scanner for the inverse direction.
func (a *Amount) Scan(v any) error {
	var d decimal.Decimal
	if err := d.Scan(v); err != nil {
		return err
	}
	a.d = d
	return nil
}

// GormDataType pins the column type across postgres and sqlite drivers.
func (Amount) GormDataType() string {
	return "numeric"
}
