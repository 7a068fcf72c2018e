package fixedpoint

import (
	"errors"
	"math/big"
)

// MaxPowRelativeError bounds the relative error of Pow; PowUp and PowDown widen
// the raw result by this margin so the rounding direction is always respected.
var MaxPowRelativeError = big.NewInt(10000) // 1e-14

// ErrPowDomain is returned when the base of Pow is not strictly positive.
var ErrPowDomain = errors.New("fixedpoint: pow base must be positive")

var (
	// internal precision of ln/exp, 38 decimals
	precision     = pow10(38)
	toPrecision   = pow10(20) // WAD -> precision
	ln2Precision  = atanhSeries(new(big.Int).Quo(precision, big.NewInt(3)), 2)
	twoPrecision  = new(big.Int).Lsh(precision, 1)
	maxExpShift   = 600
	two           = big.NewInt(2)
	twoWAD        = FromWAD(2)
	fourWAD       = FromWAD(4)
	errExpOverrun = errors.New("fixedpoint: exp result out of range")
)

// atanhSeries returns factor*atanh(z) at internal precision for 0 <= z < 1.
func atanhSeries(z *big.Int, factor int64) *big.Int {
	z2 := new(big.Int).Mul(z, z)
	z2.Quo(z2, precision)
	sum := new(big.Int).Set(z)
	term := new(big.Int).Set(z)
	for i := int64(3); ; i += 2 {
		term.Mul(term, z2)
		term.Quo(term, precision)
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, new(big.Int).Quo(term, big.NewInt(i)))
	}
	return sum.Mul(sum, big.NewInt(factor))
}

// lnPrecision returns ln(x) where x and the result carry 38 decimals.
func lnPrecision(x *big.Int) *big.Int {
	v := new(big.Int).Set(x)
	k := int64(0)
	for v.Cmp(twoPrecision) >= 0 {
		v.Rsh(v, 1)
		k++
	}
	for v.Cmp(precision) < 0 {
		v.Lsh(v, 1)
		k--
	}
	// v in [1, 2): ln(v) = 2*atanh((v-1)/(v+1))
	num := new(big.Int).Sub(v, precision)
	num.Mul(num, precision)
	den := new(big.Int).Add(v, precision)
	z := num.Quo(num, den)
	ln := atanhSeries(z, 2)
	return ln.Add(ln, new(big.Int).Mul(big.NewInt(k), ln2Precision))
}

// expPrecision returns e^w where w and the result carry 38 decimals.
func expPrecision(w *big.Int) (*big.Int, error) {
	// w = k*ln2 + r with |r| <= ln2/2
	half := new(big.Int).Quo(ln2Precision, two)
	k := new(big.Int).Add(w, half)
	if w.Sign() < 0 {
		k.Sub(w, half)
	}
	k.Quo(k, ln2Precision)
	if !k.IsInt64() || k.Int64() > int64(maxExpShift) || k.Int64() < -int64(maxExpShift) {
		return nil, errExpOverrun
	}
	r := new(big.Int).Sub(w, new(big.Int).Mul(k, ln2Precision))

	sum := new(big.Int).Set(precision)
	term := new(big.Int).Set(precision)
	for i := int64(1); ; i++ {
		term.Mul(term, r)
		term.Quo(term, precision)
		term.Quo(term, big.NewInt(i))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}
	if shift := k.Int64(); shift >= 0 {
		sum.Lsh(sum, uint(shift))
	} else {
		sum.Rsh(sum, uint(-shift))
	}
	return sum, nil
}

// Pow returns x^y for 18-decimal x > 0 and y >= 0. The result is accurate well
// within MaxPowRelativeError.
func Pow(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return new(big.Int).Set(WAD), nil
	}
	if x.Sign() <= 0 {
		if x.Sign() == 0 {
			return new(big.Int), nil
		}
		return nil, ErrPowDomain
	}
	xp := new(big.Int).Mul(x, toPrecision)
	w := lnPrecision(xp)
	w.Mul(w, y)
	w.Quo(w, WAD)
	e, err := expPrecision(w)
	if err != nil {
		return nil, err
	}
	return e.Quo(e, toPrecision), nil
}

// PowUp returns x^y rounded up, including the maximum relative error.
func PowUp(x, y *big.Int) (*big.Int, error) {
	switch {
	case y.Cmp(WAD) == 0:
		return new(big.Int).Set(x), nil
	case y.Cmp(twoWAD) == 0:
		return MulUp(x, x), nil
	case y.Cmp(fourWAD) == 0:
		sq := MulUp(x, x)
		return MulUp(sq, sq), nil
	}
	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxErr := MulUp(raw, MaxPowRelativeError)
	maxErr.Add(maxErr, one)
	return raw.Add(raw, maxErr), nil
}

// PowDown returns x^y rounded down, including the maximum relative error.
func PowDown(x, y *big.Int) (*big.Int, error) {
	switch {
	case y.Cmp(WAD) == 0:
		return new(big.Int).Set(x), nil
	case y.Cmp(twoWAD) == 0:
		return MulDown(x, x), nil
	case y.Cmp(fourWAD) == 0:
		sq := MulDown(x, x)
		return MulDown(sq, sq), nil
	}
	raw, err := Pow(x, y)
	if err != nil {
		return nil, err
	}
	maxErr := MulUp(raw, MaxPowRelativeError)
	maxErr.Add(maxErr, one)
	if raw.Cmp(maxErr) < 0 {
		return new(big.Int), nil
	}
	return raw.Sub(raw, maxErr), nil
}
