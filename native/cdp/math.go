package cdp

import (
	"errors"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// decimals is the fixed-point scale shared by amounts, prices and ratios.
	decimals = 18
	// maxDecPowMinutes caps the decay exponent at roughly 1000 years.
	maxDecPowMinutes = 525_600_000
)

var (
	// DecimalPrecision is 1e18, the unit of every 18-decimal quantity.
	DecimalPrecision = uint256.NewInt(1_000_000_000_000_000_000)
	halfPrecision    = uint256.NewInt(500_000_000_000_000_000)
	// nicrPrecision scales the nominal ratio so it keeps resolution without a price.
	nicrPrecision = uint256.MustFromDecimal("100000000000000000000")
	maxUint256    = new(uint256.Int).SetAllOne()

	errInvalidDecimal = errors.New("cdp: invalid decimal value")
)

// MaxUint256 returns the largest representable value, used as the ratio of a
// position without debt.
func MaxUint256() *uint256.Int { return maxUint256.Clone() }

// DecMul multiplies two 18-decimal values rounding half up.
func DecMul(x, y *uint256.Int) *uint256.Int {
	prod := new(uint256.Int).Mul(x, y)
	prod.Add(prod, halfPrecision)
	return prod.Div(prod, DecimalPrecision)
}

// DecPow raises an 18-decimal base to an integer exponent using binary
// exponentiation. The exponent is capped at maxDecPowMinutes.
func DecPow(base *uint256.Int, minutes uint64) *uint256.Int {
	if minutes > maxDecPowMinutes {
		minutes = maxDecPowMinutes
	}
	if minutes == 0 {
		return DecimalPrecision.Clone()
	}
	y := DecimalPrecision.Clone()
	x := base.Clone()
	n := minutes
	for n > 1 {
		if n%2 == 0 {
			x = DecMul(x, x)
			n /= 2
		} else {
			y = DecMul(x, y)
			x = DecMul(x, x)
			n = (n - 1) / 2
		}
	}
	return DecMul(x, y)
}

// mulDiv computes x*y/d with a 512-bit intermediate, truncating like integer
// division. A zero divisor yields zero.
func mulDiv(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	return z
}

// ComputeCR returns coll*price/debt, or MaxUint256 when debt is zero.
func ComputeCR(coll, debt, price *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return MaxUint256()
	}
	return mulDiv(coll, price, debt)
}

// ComputeNominalCR returns coll*1e20/debt, or MaxUint256 when debt is zero.
func ComputeNominalCR(coll, debt *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return MaxUint256()
	}
	return mulDiv(coll, nicrPrecision, debt)
}

func minU256(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

func maxU256(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// subFloor returns a-b, or zero when b exceeds a.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// ParseDecimal converts a human readable decimal such as "1.1" into its
// 18-decimal fixed-point representation.
func ParseDecimal(value string) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "-") {
		return nil, errInvalidDecimal
	}
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals || strings.ContainsAny(frac, ".-+") {
		return nil, errInvalidDecimal
	}
	frac += strings.Repeat("0", decimals-len(frac))
	digits := strings.TrimLeft(whole+frac, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	out, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, errInvalidDecimal
	}
	return out, nil
}

// FormatDecimal renders an 18-decimal value as a decimal string, trimming
// trailing zeros from the fractional part.
func FormatDecimal(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	digits := x.Dec()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ToFloat approximates an 18-decimal value as a float64 for metrics.
func ToFloat(x *uint256.Int) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x.ToBig())
	f.Quo(f, new(big.Float).SetInt(DecimalPrecision.ToBig()))
	out, _ := f.Float64()
	return out
}
