// Package fixedpoint implements the 18-decimal (WAD) and 36-decimal (RAY) integer
// arithmetic used by every pool model. Functions never mutate their arguments and
// always return a freshly allocated value.
package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	// WAD is 1e18, the unit of 18-decimal fixed point numbers.
	WAD = pow10(18)
	// RAY is 1e36, the unit used by the FX curve.
	RAY = pow10(36)
	// MaxUint256 is 2^256 - 1.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// ErrDivisionByZero is returned by the checked division helpers.
var ErrDivisionByZero = errors.New("fixedpoint: division by zero")

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

func pow10(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

// Pow10 returns 10^n.
func Pow10(n int) *big.Int {
	return pow10(int64(n))
}

// Int returns x as a big integer.
func Int(x int64) *big.Int {
	return big.NewInt(x)
}

// FromWAD returns x * 1e18.
func FromWAD(x int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(x), WAD)
}

// Copy returns a copy of x, treating nil as zero.
func Copy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

func Add(a, b *big.Int) *big.Int { return new(big.Int).Add(a, b) }
func Sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(a, b) }
func Mul(a, b *big.Int) *big.Int { return new(big.Int).Mul(a, b) }

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Abs returns |x|.
func Abs(x *big.Int) *big.Int {
	return new(big.Int).Abs(x)
}

// MulDown returns a*b/1e18 truncated towards zero.
func MulDown(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, WAD)
}

// MulUp returns a*b/1e18 rounded up. Operands are expected to be non-negative.
func MulUp(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return divUpRaw(p, WAD)
}

// DivDown returns a*1e18/b truncated towards zero. Panics on b == 0 like integer division.
func DivDown(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, WAD)
	return p.Quo(p, b)
}

// DivUp returns a*1e18/b rounded up. Operands are expected to be non-negative.
func DivUp(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, WAD)
	return divUpRaw(p, b)
}

// DivUpRaw returns ceil(a/b) for non-negative operands.
func DivUpRaw(a, b *big.Int) *big.Int {
	return divUpRaw(new(big.Int).Set(a), b)
}

func divUpRaw(a, b *big.Int) *big.Int {
	if a.Sign() == 0 {
		return new(big.Int)
	}
	a.Sub(a, one)
	a.Quo(a, b)
	return a.Add(a, one)
}

// MulDivDown returns a*b/c truncated towards zero.
func MulDivDown(a, b, c *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, c)
}

// MulDivUp returns ceil(a*b/c) for non-negative operands.
func MulDivUp(a, b, c *big.Int) *big.Int {
	return divUpRaw(new(big.Int).Mul(a, b), c)
}

// CheckedDivDown is DivDown returning an error instead of panicking on zero.
func CheckedDivDown(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return DivDown(a, b), nil
}

// CheckedDivUp is DivUp returning an error instead of panicking on zero.
func CheckedDivUp(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	return DivUp(a, b), nil
}

// Complement returns 1e18 - x, or 0 when x >= 1e18.
func Complement(x *big.Int) *big.Int {
	if x.Cmp(WAD) >= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(WAD, x)
}

// Sqrt returns the square root of an 18-decimal number, rounded down.
func Sqrt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(x, WAD)
	return p.Sqrt(p)
}

// SqrtUp returns the square root of an 18-decimal number, rounded up.
func SqrtUp(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(x, WAD)
	r := new(big.Int).Sqrt(p)
	if new(big.Int).Mul(r, r).Cmp(p) < 0 {
		r.Add(r, one)
	}
	return r
}

// Cbrt returns the cube root of an 18-decimal number, rounded down.
func Cbrt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(x, WAD)
	p.Mul(p, WAD)
	return icbrt(p)
}

// CbrtUp returns the cube root of an 18-decimal number, rounded up.
func CbrtUp(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	p := new(big.Int).Mul(x, WAD)
	p.Mul(p, WAD)
	r := icbrt(p)
	cube := new(big.Int).Mul(r, r)
	cube.Mul(cube, r)
	if cube.Cmp(p) < 0 {
		r.Add(r, one)
	}
	return r
}

// icbrt is the integer cube root of n > 0 (floor), by Newton iteration from above.
func icbrt(n *big.Int) *big.Int {
	three := big.NewInt(3)
	y := new(big.Int).Lsh(one, uint(n.BitLen()/3+1))
	for {
		// next = (2y + n/y^2) / 3
		y2 := new(big.Int).Mul(y, y)
		next := new(big.Int).Quo(n, y2)
		next.Add(next, new(big.Int).Lsh(y, 1))
		next.Quo(next, three)
		if next.Cmp(y) >= 0 {
			return y
		}
		y = next
	}
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

// Zero returns a new zero value.
func Zero() *big.Int { return new(big.Int).Set(zero) }
