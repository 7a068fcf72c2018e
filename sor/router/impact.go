package router

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/paths"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/shopspring/decimal"
)

// ErrPriceImpactUnavailable means the round trip trade could not be run.
var ErrPriceImpactUnavailable = errors.New("price impact unavailable")

// PriceImpact trades the result of the chosen paths back to the starting token
// (A to B, then B to A) on a fresh fork of the pristine arena. Half the relative
// loss of the round trip is the impact of one leg.
func PriceImpact(chosen []*paths.PathWithAmount, kind tokens.SwapKind, pristine *pools.Arena) (decimal.Decimal, error) {
	if len(chosen) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no paths", ErrPriceImpactUnavailable)
	}
	fork := pristine.Fork()

	initial, final := new(big.Int), new(big.Int)
	for _, pwa := range chosen {
		reversed, err := pwa.Reversed().Rebind(fork)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceImpactUnavailable, err)
		}
		if kind == tokens.GivenIn {
			back, err := paths.NewWithAmount(reversed, pwa.OutputAmount(), false)
			if err != nil {
				return decimal.Zero, fmt.Errorf("%w: reverse of %s: %v", ErrPriceImpactUnavailable, pwa.Key(), err)
			}
			initial.Add(initial, pwa.InputAmount().Amount)
			final.Add(final, back.OutputAmount().Amount)
			continue
		}
		back, err := paths.NewWithAmount(reversed, pwa.InputAmount(), false)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: reverse of %s: %v", ErrPriceImpactUnavailable, pwa.Key(), err)
		}
		initial.Add(initial, pwa.OutputAmount().Amount)
		final.Add(final, back.InputAmount().Amount)
	}

	if initial.Sign() == 0 || final.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%w: zero amount in round trip", ErrPriceImpactUnavailable)
	}
	diff := new(big.Int).Sub(initial, final)
	diff.Abs(diff)
	return decimal.NewFromBigInt(diff, 0).DivRound(decimal.NewFromBigInt(initial, 0).Mul(decimal.NewFromInt(2)), 18), nil
}
