// Package amount implements the safe integer arithmetic used for every pool
// and stake value in the ledger.
//
// Amounts are non-negative integers bounded by the signed 128-bit range
// (2^127 - 1). Operations never wrap: a result outside the range is an error.
// All monetary values use shopspring/decimal; never float64 for money.
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalid is returned for negative, fractional or malformed amounts.
	ErrInvalid = errors.New("invalid amount")

	// ErrOverflow is returned when a result exceeds Max.
	ErrOverflow = errors.New("amount overflow")

	// ErrDivisionByZero is returned by MulDivFloor when the divisor is zero.
	ErrDivisionByZero = errors.New("amount division by zero")
)

var maxInt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// maxDigits is the number of decimal digits in Max.
const maxDigits = 39

// Max is the largest representable amount.
var Max = Amount{d: decimal.NewFromBigInt(maxInt, 0)}

// Zero is the zero amount. The zero value of Amount is also zero.
var Zero = Amount{}

// Amount is a non-negative integer quantity of the settlement currency.
type Amount struct {
	d decimal.Decimal
}

// New validates d and returns it as an Amount.
// The exponent is bounds-checked before the value is expanded, so inputs
// like "1e20000000" are rejected without materializing them.
func New(d decimal.Decimal) (Amount, error) {
	switch d.Sign() {
	case -1:
		return Zero, fmt.Errorf("%w: negative", ErrInvalid)
	case 0:
		return Zero, nil
	}
	digits := int64(len(d.Coefficient().String()))
	exp := int64(d.Exponent())
	if exp < 0 && -exp >= digits {
		// 0 < |d| < 1
		return Zero, fmt.Errorf("%w: not an integer", ErrInvalid)
	}
	if digits+exp > maxDigits {
		return Zero, fmt.Errorf("%w: %d digits", ErrOverflow, digits+exp)
	}
	if !d.IsInteger() {
		return Zero, fmt.Errorf("%w: %s is not an integer", ErrInvalid, d)
	}
	return fromBig(d.BigInt())
}

// FromInt64 converts n to an Amount.
func FromInt64(n int64) (Amount, error) {
	return New(decimal.NewFromInt(n))
}

// MustFromInt64 is like FromInt64 but panics on a negative n.
// Intended for constants and tests.
func MustFromInt64(n int64) Amount {
	a, err := FromInt64(n)
	if err != nil {
		panic(err)
	}
	return a
}

// Parse reads a base-10 amount such as "1500".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return New(d)
}

func fromBig(b *big.Int) (Amount, error) {
	if b.Sign() < 0 {
		return Zero, fmt.Errorf("%w: %s is negative", ErrInvalid, b)
	}
	if b.Cmp(maxInt) > 0 {
		return Zero, ErrOverflow
	}
	return Amount{d: decimal.NewFromBigInt(b, 0)}, nil
}

// Add returns a + b.
func Add(a, b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.d.BigInt(), b.d.BigInt())
	if sum.Cmp(maxInt) > 0 {
		return Zero, fmt.Errorf("%w: %s + %s", ErrOverflow, a, b)
	}
	return Amount{d: decimal.NewFromBigInt(sum, 0)}, nil
}

// Sub returns a - b. A negative result is ErrInvalid.
func Sub(a, b Amount) (Amount, error) {
	diff := new(big.Int).Sub(a.d.BigInt(), b.d.BigInt())
	if diff.Sign() < 0 {
		return Zero, fmt.Errorf("%w: %s - %s is negative", ErrInvalid, a, b)
	}
	return Amount{d: decimal.NewFromBigInt(diff, 0)}, nil
}

// Sum adds all xs.
func Sum(xs ...Amount) (Amount, error) {
	total := Zero
	for _, x := range xs {
		var err error
		if total, err = Add(total, x); err != nil {
			return Zero, err
		}
	}
	return total, nil
}

// MulDivFloor returns floor(a * b / c), computed exactly. The intermediate
// product may exceed Max; only the quotient must fit.
func MulDivFloor(a, b, c Amount) (Amount, error) {
	if c.IsZero() {
		return Zero, ErrDivisionByZero
	}
	prod := new(big.Int).Mul(a.d.BigInt(), b.d.BigInt())
	// Operands are non-negative, so truncation is floor.
	q := prod.Quo(prod, c.d.BigInt())
	if q.Cmp(maxInt) > 0 {
		return Zero, fmt.Errorf("%w: %s * %s / %s", ErrOverflow, a, b, c)
	}
	return Amount{d: decimal.NewFromBigInt(q, 0)}, nil
}

// Decimal returns the value as a decimal.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// BigInt returns a copy of the value as a big integer.
func (a Amount) BigInt() *big.Int { return a.d.BigInt() }

func (a Amount) IsZero() bool     { return a.d.Sign() == 0 }
func (a Amount) IsPositive() bool { return a.d.Sign() > 0 }

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.d.Cmp(b.d) }

func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }

func (a Amount) String() string { return a.d.String() }

// MarshalJSON encodes the amount as a decimal string so that values beyond
// 2^53 survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

// UnmarshalJSON accepts a JSON string or number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, data)
	}
	v, err := New(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
