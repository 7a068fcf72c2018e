package pools

import (
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

var (
	// MaxInRatio caps a GivenIn amount at 30% of the input balance.
	MaxInRatio = big.NewInt(300_000_000_000_000_000)
	// MaxOutRatio caps a GivenOut amount at 30% of the output balance.
	MaxOutRatio = big.NewInt(300_000_000_000_000_000)
)

// WeightedPool is a constant weighted product pool. Also used for liquidity
// bootstrapping pools, which are weighted pools with moving weights.
type WeightedPool struct {
	poolBase
}

// NewWeightedPool builds a weighted pool. Every token must carry a positive weight.
func NewWeightedPool(meta Meta, poolTokens []PoolToken) (*WeightedPool, error) {
	if meta.Type == "" {
		meta.Type = TypeWeighted
	}
	base, err := newPoolBase(meta, poolTokens)
	if err != nil {
		return nil, err
	}
	for _, pt := range base.tokens {
		if pt.Weight == nil || pt.Weight.Sign() <= 0 {
			return nil, fmt.Errorf("weighted pool %s: token %s has no weight", meta.ID, pt.Token.Hex())
		}
	}
	return &WeightedPool{poolBase: base}, nil
}

func (p *WeightedPool) SwapGivenIn(tokenIn, tokenOut tokens.Token, amountIn tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountIn.Amount, fixedpoint.MulDown(in.Balance, MaxInRatio)); err != nil {
		return tokens.TokenAmount{}, err
	}

	amount := subFeeGivenIn(in.toLive(amountIn.Amount), p.meta.SwapFee)
	amountOut, err := weightedOutGivenIn(in.LiveBalance(), in.Weight, out.LiveBalance(), out.Weight, amount)
	if err != nil {
		return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
	}
	raw := out.fromLiveDown(amountOut)

	if mutate {
		in.increase(amountIn.Amount)
		out.decrease(raw)
	}
	return tokens.FromRawAmount(out.Token, raw), nil
}

func (p *WeightedPool) SwapGivenOut(tokenIn, tokenOut tokens.Token, amountOut tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountOut.Amount, fixedpoint.MulDown(out.Balance, MaxOutRatio)); err != nil {
		return tokens.TokenAmount{}, err
	}

	amountIn, err := weightedInGivenOut(in.LiveBalance(), in.Weight, out.LiveBalance(), out.Weight, out.toLiveUp(amountOut.Amount))
	if err != nil {
		return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
	}
	raw := in.fromLiveUp(addFeeGivenOut(amountIn, p.meta.SwapFee))

	if mutate {
		in.increase(raw)
		out.decrease(amountOut.Amount)
	}
	return tokens.FromRawAmount(in.Token, raw), nil
}

func (p *WeightedPool) LimitAmountSwap(tokenIn, tokenOut tokens.Token, kind tokens.SwapKind) (*big.Int, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if kind == tokens.GivenIn {
		return fixedpoint.MulDown(in.Balance, MaxInRatio), nil
	}
	return fixedpoint.MulDown(out.Balance, MaxOutRatio), nil
}

// NormalizedLiquidity is balanceOut * weightIn / (weightIn + weightOut).
func (p *WeightedPool) NormalizedLiquidity(tokenIn, tokenOut tokens.Token) (*big.Int, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDivDown(out.LiveBalance(), in.Weight, fixedpoint.Add(in.Weight, out.Weight)), nil
}

func (p *WeightedPool) Clone() BasePool {
	return &WeightedPool{poolBase: p.cloneBase()}
}

// weightedOutGivenIn returns
// balanceOut * (1 - (balanceIn / (balanceIn + amountIn))^(weightIn / weightOut)).
func weightedOutGivenIn(balanceIn, weightIn, balanceOut, weightOut, amountIn *big.Int) (*big.Int, error) {
	denominator := fixedpoint.Add(balanceIn, amountIn)
	if denominator.Sign() == 0 {
		return nil, fixedpoint.ErrDivisionByZero
	}
	base := fixedpoint.DivUp(balanceIn, denominator)
	exponent := fixedpoint.DivDown(weightIn, weightOut)
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDown(balanceOut, fixedpoint.Complement(power)), nil
}

// weightedInGivenOut returns
// balanceIn * ((balanceOut / (balanceOut - amountOut))^(weightOut / weightIn) - 1).
func weightedInGivenOut(balanceIn, weightIn, balanceOut, weightOut, amountOut *big.Int) (*big.Int, error) {
	remaining := fixedpoint.Sub(balanceOut, amountOut)
	if remaining.Sign() <= 0 {
		return nil, fmt.Errorf("amount out %s drains balance %s", amountOut, balanceOut)
	}
	base := fixedpoint.DivUp(balanceOut, remaining)
	exponent := fixedpoint.DivUp(weightOut, weightIn)
	power, err := fixedpoint.PowUp(base, exponent)
	if err != nil {
		return nil, err
	}
	ratio := fixedpoint.Sub(power, fixedpoint.WAD)
	if ratio.Sign() < 0 {
		ratio.SetInt64(0)
	}
	return fixedpoint.MulUp(balanceIn, ratio), nil
}
