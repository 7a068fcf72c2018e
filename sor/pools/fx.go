package pools

import (
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

// FxParams are the curve parameters of an FX pool at 36 decimals.
type FxParams struct {
	Alpha   *big.Int
	Beta    *big.Int
	Lambda  *big.Int
	Delta   *big.Int
	Epsilon *big.Int
}

// FxPool is a two token oracle curve pool. Each token's Rate is its latest FX
// price in 18 decimals; balances are converted to a 36-decimal numeraire.
type FxPool struct {
	poolBase
	params FxParams
}

func NewFxPool(meta Meta, params FxParams, poolTokens []PoolToken) (*FxPool, error) {
	if meta.Type == "" {
		meta.Type = TypeFX
	}
	if len(poolTokens) != 2 {
		return nil, fmt.Errorf("fx pool %s: needs exactly two tokens, got %d", meta.ID, len(poolTokens))
	}
	for _, v := range []*big.Int{params.Alpha, params.Beta, params.Lambda, params.Delta, params.Epsilon} {
		if v == nil || v.Sign() < 0 {
			return nil, fmt.Errorf("fx pool %s: curve parameters must be non-negative", meta.ID)
		}
	}
	base, err := newPoolBase(meta, poolTokens)
	if err != nil {
		return nil, err
	}
	for _, pt := range base.tokens {
		if pt.Rate == nil || pt.Rate.Sign() <= 0 {
			return nil, fmt.Errorf("fx pool %s: token %s has no fx rate", meta.ID, pt.Token.Hex())
		}
	}
	return &FxPool{poolBase: base, params: params}, nil
}

func (p *FxPool) curve() fxCurve {
	return fxCurve{alpha: p.params.Alpha, beta: p.params.Beta, delta: p.params.Delta, lambda: p.params.Lambda}
}

func numeraireScale(pt *PoolToken) *big.Int {
	if pt.Token.Decimals >= 36 {
		return big.NewInt(1)
	}
	return fixedpoint.Pow10(36 - pt.Token.Decimals)
}

// toNumeraire converts a raw amount to the 36-decimal numeraire.
func toNumeraire(pt *PoolToken, raw *big.Int) *big.Int {
	n := new(big.Int).Mul(raw, numeraireScale(pt))
	n.Mul(n, pt.Rate)
	return n.Quo(n, fixedpoint.WAD)
}

// fromNumeraire converts back to raw units, rounding down.
func fromNumeraire(pt *PoolToken, num *big.Int) *big.Int {
	return fixedpoint.MulDivDown(num, fixedpoint.WAD, new(big.Int).Mul(pt.Rate, numeraireScale(pt)))
}

func fromNumeraireUp(pt *PoolToken, num *big.Int) *big.Int {
	return fixedpoint.MulDivUp(num, fixedpoint.WAD, new(big.Int).Mul(pt.Rate, numeraireScale(pt)))
}

func (p *FxPool) numeraireBalances() []*big.Int {
	return []*big.Int{toNumeraire(&p.tokens[0], p.tokens[0].Balance), toNumeraire(&p.tokens[1], p.tokens[1].Balance)}
}

func (p *FxPool) SwapGivenIn(tokenIn, tokenOut tokens.Token, amountIn tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountIn.Amount, p.limit(in, out, tokens.GivenIn)); err != nil {
		return tokens.TokenAmount{}, err
	}

	output, err := p.curve().trade(p.numeraireBalances(), in.Index, out.Index, toNumeraire(in, amountIn.Amount))
	if err != nil {
		return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
	}
	amountOut := rayMul(output.Neg(output), new(big.Int).Sub(fixedpoint.RAY, p.params.Epsilon))
	raw := fromNumeraire(out, amountOut)
	if raw.Sign() < 0 {
		raw.SetInt64(0)
	}

	if mutate {
		in.increase(amountIn.Amount)
		out.decrease(raw)
	}
	return tokens.FromRawAmount(out.Token, raw), nil
}

func (p *FxPool) SwapGivenOut(tokenIn, tokenOut tokens.Token, amountOut tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountOut.Amount, p.limit(in, out, tokens.GivenOut)); err != nil {
		return tokens.TokenAmount{}, err
	}

	given := new(big.Int).Neg(toNumeraire(out, amountOut.Amount))
	input, err := p.curve().trade(p.numeraireBalances(), out.Index, in.Index, given)
	if err != nil {
		return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
	}
	amountIn := rayMul(input, new(big.Int).Add(fixedpoint.RAY, p.params.Epsilon))
	raw := fromNumeraireUp(in, amountIn)

	if mutate {
		in.increase(raw)
		out.decrease(amountOut.Amount)
	}
	return tokens.FromRawAmount(in.Token, raw), nil
}

func (p *FxPool) LimitAmountSwap(tokenIn, tokenOut tokens.Token, kind tokens.SwapKind) (*big.Int, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return p.limit(in, out, kind), nil
}

// limit is the distance to the halting band: a token may grow to
// (1+alpha)/2 of the pool liquidity and shrink to (1-alpha)/2 of it.
func (p *FxPool) limit(in, out *PoolToken, kind tokens.SwapKind) *big.Int {
	bals := p.numeraireBalances()
	oGLiq := fixedpoint.Add(bals[0], bals[1])

	var headroom *big.Int
	if kind == tokens.GivenIn {
		upper := rayMul(new(big.Int).Add(p.params.Alpha, fixedpoint.RAY), oGLiq)
		upper.Quo(upper, big.NewInt(2))
		headroom = upper.Sub(upper, bals[in.Index])
	} else {
		lower := rayMul(new(big.Int).Sub(fixedpoint.RAY, p.params.Alpha), oGLiq)
		lower.Quo(lower, big.NewInt(2))
		headroom = new(big.Int).Sub(bals[out.Index], lower)
	}
	if headroom.Sign() <= 0 {
		return new(big.Int)
	}
	if kind == tokens.GivenIn {
		return fromNumeraire(in, headroom)
	}
	return fromNumeraire(out, headroom)
}

// NormalizedLiquidity uses the snapshot's pair data when present, otherwise
// half the pool liquidity in numeraire scaled to 18 decimals.
func (p *FxPool) NormalizedLiquidity(tokenIn, tokenOut tokens.Token) (*big.Int, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if liq, ok := p.pairLiquidity(in, out); ok {
		return liq, nil
	}
	bals := p.numeraireBalances()
	total := fixedpoint.Add(bals[0], bals[1])
	return total.Quo(total, new(big.Int).Mul(big.NewInt(2), fixedpoint.Pow10(18))), nil
}

func (p *FxPool) Clone() BasePool {
	return &FxPool{
		poolBase: p.cloneBase(),
		params: FxParams{
			Alpha:   fixedpoint.Copy(p.params.Alpha),
			Beta:    fixedpoint.Copy(p.params.Beta),
			Lambda:  fixedpoint.Copy(p.params.Lambda),
			Delta:   fixedpoint.Copy(p.params.Delta),
			Epsilon: fixedpoint.Copy(p.params.Epsilon),
		},
	}
}
