package pools

import (
	"errors"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
)

// FX curve math. All values are signed 36-decimal numbers.

var (
	errFxNoConverge        = errors.New("fx swap did not converge")
	errFxUpperHalt         = errors.New("fx upper halt")
	errFxLowerHalt         = errors.New("fx lower halt")
	errFxInvariantViolated = errors.New("fx swap invariant violation")

	fxMaxMicroFee   = new(big.Int).Quo(fixedpoint.RAY, big.NewInt(4))
	fxMaxDiff       = new(big.Int).Neg(new(big.Int).Mul(big.NewInt(1_000_000_000_000_000_024), fixedpoint.Pow10(12)))
	fxConvergeScale = fixedpoint.Pow10(13)
	fxHalfWeight    = new(big.Int).Quo(fixedpoint.RAY, big.NewInt(2))
)

const fxMaxIterations = 32

func rayMul(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return p.Quo(p, fixedpoint.RAY)
}

func rayDiv(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, fixedpoint.RAY)
	return p.Quo(p, b)
}

type fxCurve struct {
	alpha, beta, delta, lambda *big.Int
}

// microFee is the fee charged on a balance outside the beta band around its ideal.
func (c fxCurve) microFee(bal, ideal *big.Int) *big.Int {
	var margin *big.Int
	if bal.Cmp(ideal) < 0 {
		threshold := rayMul(ideal, new(big.Int).Sub(fixedpoint.RAY, c.beta))
		if bal.Cmp(threshold) >= 0 {
			return new(big.Int)
		}
		margin = new(big.Int).Sub(threshold, bal)
	} else {
		threshold := rayMul(ideal, new(big.Int).Add(fixedpoint.RAY, c.beta))
		if bal.Cmp(threshold) <= 0 {
			return new(big.Int)
		}
		margin = new(big.Int).Sub(bal, threshold)
	}
	if ideal.Sign() == 0 {
		return new(big.Int)
	}
	fee := rayMul(rayDiv(margin, ideal), c.delta)
	if fee.Cmp(fxMaxMicroFee) > 0 {
		fee.Set(fxMaxMicroFee)
	}
	return rayMul(fee, margin)
}

func (c fxCurve) fee(gLiq *big.Int, bals []*big.Int) *big.Int {
	psi := new(big.Int)
	for _, b := range bals {
		psi.Add(psi, c.microFee(b, rayMul(gLiq, fxHalfWeight)))
	}
	return psi
}

func (c fxCurve) enforceHalts(oGLiq, nGLiq *big.Int, oBals, nBals []*big.Int) error {
	for i := range nBals {
		nIdeal := rayMul(nGLiq, fxHalfWeight)
		if nBals[i].Cmp(nIdeal) > 0 {
			upper := new(big.Int).Add(fixedpoint.RAY, c.alpha)
			nHalt := rayMul(nIdeal, upper)
			if nBals[i].Cmp(nHalt) > 0 {
				oHalt := rayMul(rayMul(oGLiq, fxHalfWeight), upper)
				if oBals[i].Cmp(oHalt) < 0 {
					return errFxUpperHalt
				}
				if new(big.Int).Sub(nBals[i], nHalt).Cmp(new(big.Int).Sub(oBals[i], oHalt)) > 0 {
					return errFxUpperHalt
				}
			}
			continue
		}
		lower := new(big.Int).Sub(fixedpoint.RAY, c.alpha)
		nHalt := rayMul(nIdeal, lower)
		if nBals[i].Cmp(nHalt) < 0 {
			oHalt := rayMul(rayMul(oGLiq, fxHalfWeight), lower)
			if oBals[i].Cmp(oHalt) > 0 {
				return errFxLowerHalt
			}
			if new(big.Int).Sub(nHalt, nBals[i]).Cmp(new(big.Int).Sub(oHalt, oBals[i])) > 0 {
				return errFxLowerHalt
			}
		}
	}
	return nil
}

// trade solves for the signed amount of outputIndex given a signed input
// applied at givenIndex. Positive input means tokens entering the pool.
func (c fxCurve) trade(oBals []*big.Int, givenIndex, outputIndex int, input *big.Int) (*big.Int, error) {
	oGLiq := new(big.Int)
	for _, b := range oBals {
		oGLiq.Add(oGLiq, b)
	}
	nBals := copyBalances(oBals)
	nBals[givenIndex].Add(nBals[givenIndex], input)
	nGLiq := fixedpoint.Add(oGLiq, input)

	omega := c.fee(oGLiq, oBals)
	output := new(big.Int)
	for range fxMaxIterations {
		psi := c.fee(nGLiq, nBals)
		prev := output
		if omega.Cmp(psi) < 0 {
			output = new(big.Int).Add(input, new(big.Int).Sub(omega, psi))
		} else {
			output = new(big.Int).Add(input, rayMul(c.lambda, new(big.Int).Sub(omega, psi)))
		}
		output.Neg(output)

		nGLiq = new(big.Int).Add(oGLiq, input)
		nGLiq.Add(nGLiq, output)
		nBals[outputIndex] = new(big.Int).Add(oBals[outputIndex], output)

		if new(big.Int).Quo(output, fxConvergeScale).Cmp(new(big.Int).Quo(prev, fxConvergeScale)) == 0 {
			if err := c.enforceHalts(oGLiq, nGLiq, oBals, nBals); err != nil {
				return nil, err
			}
			diff := new(big.Int).Sub(nGLiq, psi)
			diff.Sub(diff, new(big.Int).Sub(oGLiq, omega))
			if diff.Sign() <= 0 && diff.Cmp(fxMaxDiff) < 0 {
				return nil, errFxInvariantViolated
			}
			return output, nil
		}
	}
	return nil, errFxNoConverge
}
