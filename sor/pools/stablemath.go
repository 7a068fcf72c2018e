package pools

import (
	"errors"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
)

// AmpPrecision is the precision of the amplification parameter.
var AmpPrecision = big.NewInt(1000)

var (
	errInvariantNoConverge = errors.New("stable invariant did not converge")
	errBalanceNoConverge   = errors.New("stable balance did not converge")
	errZeroInvariant       = errors.New("stable invariant is zero")
	errZeroBalance         = errors.New("stable pool holds a zero balance")
)

const stableMaxIterations = 255

// stableInvariant computes D for live balances with the Newton iteration,
// rounding down. amp already includes AmpPrecision.
func stableInvariant(amp *big.Int, balances []*big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(balances)))
	sum := new(big.Int)
	for _, b := range balances {
		if b.Sign() <= 0 {
			return nil, errZeroBalance
		}
		sum.Add(sum, b)
	}

	invariant := new(big.Int).Set(sum)
	ampTimesTotal := new(big.Int).Mul(amp, n)
	nPlusOne := new(big.Int).Add(n, big.NewInt(1))

	for range stableMaxIterations {
		dp := new(big.Int).Set(invariant)
		for _, b := range balances {
			dp.Mul(dp, invariant)
			dp.Quo(dp, new(big.Int).Mul(b, n))
		}
		prev := invariant

		num := new(big.Int).Mul(ampTimesTotal, sum)
		num.Quo(num, AmpPrecision)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, prev)

		den := new(big.Int).Sub(ampTimesTotal, AmpPrecision)
		den.Mul(den, prev)
		den.Quo(den, AmpPrecision)
		den.Add(den, new(big.Int).Mul(nPlusOne, dp))

		invariant = num.Quo(num, den)
		if new(big.Int).Sub(invariant, prev).CmpAbs(big.NewInt(1)) <= 0 {
			return invariant, nil
		}
	}
	return nil, errInvariantNoConverge
}

// stableBalance solves for the balance of token index i that keeps the
// invariant, given all other balances. The result is rounded up.
func stableBalance(amp *big.Int, balances []*big.Int, invariant *big.Int, i int) (*big.Int, error) {
	if invariant.Sign() <= 0 {
		return nil, errZeroInvariant
	}
	n := big.NewInt(int64(len(balances)))
	ampTimesTotal := new(big.Int).Mul(amp, n)

	sum := new(big.Int).Set(balances[0])
	pd := new(big.Int).Mul(balances[0], n)
	for j := 1; j < len(balances); j++ {
		pd.Mul(pd, balances[j])
		pd.Mul(pd, n)
		pd.Quo(pd, invariant)
		sum.Add(sum, balances[j])
	}
	if pd.Sign() == 0 {
		return nil, errZeroBalance
	}
	sum.Sub(sum, balances[i])

	inv2 := new(big.Int).Mul(invariant, invariant)
	c := fixedpoint.DivUpRaw(new(big.Int).Mul(inv2, AmpPrecision), new(big.Int).Mul(ampTimesTotal, pd))
	c.Mul(c, balances[i])

	b := new(big.Int).Mul(invariant, AmpPrecision)
	b.Quo(b, ampTimesTotal)
	b.Add(b, sum)

	balance := fixedpoint.DivUpRaw(fixedpoint.Add(inv2, c), fixedpoint.Add(invariant, b))
	for range stableMaxIterations {
		prev := balance
		num := new(big.Int).Mul(balance, balance)
		num.Add(num, c)
		den := new(big.Int).Lsh(balance, 1)
		den.Add(den, b)
		den.Sub(den, invariant)
		if den.Sign() <= 0 {
			return nil, errBalanceNoConverge
		}
		balance = fixedpoint.DivUpRaw(num, den)
		if new(big.Int).Sub(balance, prev).CmpAbs(big.NewInt(1)) <= 0 {
			return balance, nil
		}
	}
	return nil, errBalanceNoConverge
}

func copyBalances(balances []*big.Int) []*big.Int {
	out := make([]*big.Int, len(balances))
	for i, b := range balances {
		out[i] = fixedpoint.Copy(b)
	}
	return out
}

// stableOutGivenIn returns the live amount of token out for amountIn of token in.
func stableOutGivenIn(amp *big.Int, balances []*big.Int, in, out int, amountIn, invariant *big.Int) (*big.Int, error) {
	next := copyBalances(balances)
	next[in].Add(next[in], amountIn)
	final, err := stableBalance(amp, next, invariant, out)
	if err != nil {
		return nil, err
	}
	amountOut := new(big.Int).Sub(balances[out], final)
	amountOut.Sub(amountOut, big.NewInt(1))
	if amountOut.Sign() < 0 {
		amountOut.SetInt64(0)
	}
	return amountOut, nil
}

// stableInGivenOut returns the live amount of token in needed for amountOut of token out.
func stableInGivenOut(amp *big.Int, balances []*big.Int, in, out int, amountOut, invariant *big.Int) (*big.Int, error) {
	next := copyBalances(balances)
	next[out].Sub(next[out], amountOut)
	if next[out].Sign() <= 0 {
		return nil, errZeroBalance
	}
	final, err := stableBalance(amp, next, invariant, in)
	if err != nil {
		return nil, err
	}
	amountIn := new(big.Int).Sub(final, balances[in])
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}

var (
	// invariant ratio bounds for liquidity operations on stable pools
	stableMinInvariantRatio = big.NewInt(600_000_000_000_000_000)
	stableMaxInvariantRatio = fixedpoint.FromWAD(5)

	errInvariantRatioBounds = errors.New("invariant ratio out of bounds")
)

// stableInvariantUp is the invariant rounded up for liquidity math.
func stableInvariantUp(amp *big.Int, balances []*big.Int) (*big.Int, error) {
	inv, err := stableInvariant(amp, balances)
	if err != nil {
		return nil, err
	}
	if inv.Sign() > 0 {
		inv.Add(inv, big.NewInt(1))
	}
	return inv, nil
}

// stableBalanceForRatio returns the new balance of token i after the invariant grows by ratio.
func stableBalanceForRatio(amp *big.Int, balances []*big.Int, i int, ratio *big.Int) (*big.Int, error) {
	inv, err := stableInvariantUp(amp, balances)
	if err != nil {
		return nil, err
	}
	return stableBalance(amp, balances, fixedpoint.MulUp(inv, ratio), i)
}

// addSingleExactIn adds amountIn of token i and returns the BPT minted, with
// the swap fee charged on the non-proportional part.
func addSingleExactIn(amp *big.Int, balances []*big.Int, i int, amountIn, totalSupply, fee *big.Int) (*big.Int, error) {
	next := copyBalances(balances)
	next[i].Add(next[i], amountIn)
	next[i].Sub(next[i], big.NewInt(1))

	current, err := stableInvariantUp(amp, balances)
	if err != nil {
		return nil, err
	}
	updated, err := stableInvariant(amp, next)
	if err != nil {
		return nil, err
	}
	ratio := fixedpoint.DivDown(updated, current)
	if ratio.Cmp(stableMaxInvariantRatio) > 0 {
		return nil, errInvariantRatioBounds
	}

	for j := range next {
		proportional := fixedpoint.MulUp(ratio, balances[j])
		if next[j].Cmp(proportional) > 0 {
			taxable := new(big.Int).Sub(next[j], proportional)
			next[j].Sub(next[j], fixedpoint.MulUp(taxable, fee))
		}
	}
	withFees, err := stableInvariant(amp, next)
	if err != nil {
		return nil, err
	}
	if withFees.Cmp(current) <= 0 {
		return new(big.Int), nil
	}
	return fixedpoint.MulDivDown(totalSupply, new(big.Int).Sub(withFees, current), current), nil
}

// addSingleExactOut returns the live amount of token i needed to mint bptOut.
func addSingleExactOut(amp *big.Int, balances []*big.Int, i int, bptOut, totalSupply, fee *big.Int) (*big.Int, error) {
	newSupply := fixedpoint.Add(totalSupply, bptOut)
	ratio := fixedpoint.DivUp(newSupply, totalSupply)
	if ratio.Cmp(stableMaxInvariantRatio) > 0 {
		return nil, errInvariantRatioBounds
	}
	newBalance, err := stableBalanceForRatio(amp, balances, i, ratio)
	if err != nil {
		return nil, err
	}
	amountIn := new(big.Int).Sub(newBalance, balances[i])

	nonTaxable := fixedpoint.MulDivUp(newSupply, balances[i], totalSupply)
	if newBalance.Cmp(nonTaxable) > 0 {
		taxable := new(big.Int).Sub(newBalance, nonTaxable)
		feeAmount := new(big.Int).Sub(fixedpoint.DivUp(taxable, fixedpoint.Complement(fee)), taxable)
		amountIn.Add(amountIn, feeAmount)
	}
	return amountIn, nil
}

// removeSingleExactIn burns bptIn for token i and returns the live amount out.
func removeSingleExactIn(amp *big.Int, balances []*big.Int, i int, bptIn, totalSupply, fee *big.Int) (*big.Int, error) {
	newSupply := fixedpoint.Sub(totalSupply, bptIn)
	if newSupply.Sign() <= 0 {
		return nil, errInvariantRatioBounds
	}
	ratio := fixedpoint.DivUp(newSupply, totalSupply)
	if ratio.Cmp(stableMinInvariantRatio) < 0 {
		return nil, errInvariantRatioBounds
	}
	newBalance, err := stableBalanceForRatio(amp, balances, i, ratio)
	if err != nil {
		return nil, err
	}
	amountOut := new(big.Int).Sub(balances[i], newBalance)

	beforeTax := fixedpoint.MulDivUp(newSupply, balances[i], totalSupply)
	if beforeTax.Cmp(newBalance) > 0 {
		taxable := new(big.Int).Sub(beforeTax, newBalance)
		amountOut.Sub(amountOut, fixedpoint.MulUp(taxable, fee))
	}
	if amountOut.Sign() < 0 {
		amountOut.SetInt64(0)
	}
	return amountOut, nil
}

// removeSingleExactOut returns the BPT to burn for exactly amountOut of token i.
func removeSingleExactOut(amp *big.Int, balances []*big.Int, i int, amountOut, totalSupply, fee *big.Int) (*big.Int, error) {
	next := copyBalances(balances)
	for j := range next {
		next[j].Sub(next[j], big.NewInt(1))
	}
	next[i].Sub(next[i], amountOut)
	if next[i].Sign() <= 0 {
		return nil, errZeroBalance
	}

	current, err := stableInvariant(amp, balances)
	if err != nil {
		return nil, err
	}
	updatedUp, err := stableInvariantUp(amp, next)
	if err != nil {
		return nil, err
	}
	ratio := fixedpoint.DivUp(updatedUp, current)
	if ratio.Cmp(stableMinInvariantRatio) < 0 {
		return nil, errInvariantRatioBounds
	}

	taxable := new(big.Int).Sub(fixedpoint.MulUp(ratio, balances[i]), next[i])
	if taxable.Sign() > 0 {
		feeAmount := new(big.Int).Sub(fixedpoint.DivUp(taxable, fixedpoint.Complement(fee)), taxable)
		next[i].Sub(next[i], feeAmount)
		if next[i].Sign() <= 0 {
			return nil, errZeroBalance
		}
	}
	withFees, err := stableInvariant(amp, next)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDivUp(totalSupply, new(big.Int).Sub(current, withFees), current), nil
}
