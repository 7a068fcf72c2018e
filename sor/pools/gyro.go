package pools

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

var (
	gyroLimitRatio = big.NewInt(999_000_000_000_000_000)

	errGyroOutExceedsBalance = errors.New("amount out exceeds balance")
	errGyroNoConverge        = errors.New("gyro invariant did not converge")
)

// gyroCurve is the per-variant math of a gyro pool, in live 18-decimal amounts.
type gyroCurve interface {
	outGivenIn(balances []*big.Int, in, out int, amountIn *big.Int) (*big.Int, error)
	inGivenOut(balances []*big.Int, in, out int, amountOut *big.Int) (*big.Int, error)
	// virtualBalance is the balance plus its virtual offset.
	virtualBalance(balances []*big.Int, i int) (*big.Int, error)
}

// gyroPool implements the swap contract shared by the gyro family on top of a gyroCurve.
type gyroPool struct {
	poolBase
	curve gyroCurve
}

func (p *gyroPool) liveBalances() []*big.Int {
	out := make([]*big.Int, len(p.tokens))
	for i := range p.tokens {
		out[i] = p.tokens[i].LiveBalance()
	}
	return out
}

func (p *gyroPool) SwapGivenIn(tokenIn, tokenOut tokens.Token, amountIn tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	limit, err := p.limit(in, out, tokens.GivenIn)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountIn.Amount, limit); err != nil {
		return tokens.TokenAmount{}, err
	}

	amount := subFeeGivenIn(in.toLive(amountIn.Amount), p.meta.SwapFee)
	amountOut, err := p.curve.outGivenIn(p.liveBalances(), in.Index, out.Index, amount)
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

func (p *gyroPool) SwapGivenOut(tokenIn, tokenOut tokens.Token, amountOut tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountOut.Amount, fixedpoint.MulDown(out.Balance, gyroLimitRatio)); err != nil {
		return tokens.TokenAmount{}, err
	}

	amountIn, err := p.curve.inGivenOut(p.liveBalances(), in.Index, out.Index, out.toLiveUp(amountOut.Amount))
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

func (p *gyroPool) LimitAmountSwap(tokenIn, tokenOut tokens.Token, kind tokens.SwapKind) (*big.Int, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return p.limit(in, out, kind)
}

// limit caps GivenOut at 99.9% of the out balance; GivenIn is the input that buys that amount.
func (p *gyroPool) limit(in, out *PoolToken, kind tokens.SwapKind) (*big.Int, error) {
	maxOut := fixedpoint.MulDown(out.Balance, gyroLimitRatio)
	if kind == tokens.GivenOut {
		return maxOut, nil
	}
	amountIn, err := p.curve.inGivenOut(p.liveBalances(), in.Index, out.Index, out.toLive(maxOut))
	if err != nil {
		return nil, mathErr(p.meta.ID, err)
	}
	return in.fromLiveDown(addFeeGivenOut(amountIn, p.meta.SwapFee)), nil
}

func (p *gyroPool) NormalizedLiquidity(tokenIn, tokenOut tokens.Token) (*big.Int, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if liq, ok := p.pairLiquidity(in, out); ok {
		return liq, nil
	}
	virtual, err := p.curve.virtualBalance(p.liveBalances(), out.Index)
	if err != nil {
		return nil, mathErr(p.meta.ID, err)
	}
	// every gyro token carries the same implicit weight
	weight := p.implicitWeight()
	return fixedpoint.MulDivDown(virtual, weight, fixedpoint.Add(weight, weight)), nil
}

// implicitWeight is 1/n for an n token pool.
func (p *gyroPool) implicitWeight() *big.Int {
	return new(big.Int).Quo(fixedpoint.WAD, big.NewInt(int64(len(p.tokens))))
}

func (p *gyroPool) cloneGyro() gyroPool {
	return gyroPool{poolBase: p.cloneBase(), curve: p.curve}
}

// constantProductOut trades on virtual balances: virtOut * in / (virtIn + in).
func constantProductOut(balOut, virtIn, virtOut, amountIn *big.Int) (*big.Int, error) {
	amountOut := fixedpoint.DivDown(fixedpoint.MulDown(virtOut, amountIn), fixedpoint.Add(virtIn, amountIn))
	if amountOut.Cmp(balOut) > 0 {
		return nil, errGyroOutExceedsBalance
	}
	return amountOut, nil
}

// constantProductIn is the inverse: virtIn * out / (virtOut - out), rounded up.
func constantProductIn(balOut, virtIn, virtOut, amountOut *big.Int) (*big.Int, error) {
	if amountOut.Cmp(balOut) > 0 {
		return nil, errGyroOutExceedsBalance
	}
	den := fixedpoint.Sub(virtOut, amountOut)
	if den.Sign() <= 0 {
		return nil, errGyroOutExceedsBalance
	}
	return fixedpoint.DivUp(fixedpoint.MulUp(virtIn, amountOut), den), nil
}

// Gyro2Pool is a two token concentrated liquidity pool with price range [alpha, beta].
type Gyro2Pool struct {
	gyroPool
}

type gyro2Curve struct {
	sqrtAlpha, sqrtBeta *big.Int
}

func NewGyro2Pool(meta Meta, sqrtAlpha, sqrtBeta *big.Int, poolTokens []PoolToken) (*Gyro2Pool, error) {
	if meta.Type == "" {
		meta.Type = TypeGyro2
	}
	if len(poolTokens) != 2 {
		return nil, fmt.Errorf("gyro2 pool %s: needs exactly two tokens, got %d", meta.ID, len(poolTokens))
	}
	if sqrtAlpha == nil || sqrtBeta == nil || sqrtAlpha.Sign() <= 0 || sqrtAlpha.Cmp(sqrtBeta) >= 0 {
		return nil, fmt.Errorf("gyro2 pool %s: need 0 < sqrtAlpha < sqrtBeta", meta.ID)
	}
	base, err := newPoolBase(meta, poolTokens)
	if err != nil {
		return nil, err
	}
	curve := gyro2Curve{sqrtAlpha: fixedpoint.Copy(sqrtAlpha), sqrtBeta: fixedpoint.Copy(sqrtBeta)}
	return &Gyro2Pool{gyroPool{poolBase: base, curve: curve}}, nil
}

// invariant is the positive root of
// (1 - sqrtAlpha/sqrtBeta) L^2 - (x sqrtAlpha + y / sqrtBeta) L - x y = 0.
func (c gyro2Curve) invariant(balances []*big.Int) *big.Int {
	x, y := balances[0], balances[1]
	a := fixedpoint.Complement(fixedpoint.DivUp(c.sqrtAlpha, c.sqrtBeta))
	mb := fixedpoint.Add(fixedpoint.DivDown(y, c.sqrtBeta), fixedpoint.MulDown(x, c.sqrtAlpha))
	mc := fixedpoint.MulDown(x, y)

	radicand := fixedpoint.MulDown(mb, mb)
	radicand.Add(radicand, fixedpoint.MulDown(fixedpoint.MulDown(mc, fixedpoint.FromWAD(4)), a))
	numerator := fixedpoint.Add(mb, fixedpoint.Sqrt(radicand))
	return fixedpoint.DivDown(numerator, fixedpoint.MulUp(a, fixedpoint.FromWAD(2)))
}

// offsets returns the virtual offsets of token 0 and token 1.
func (c gyro2Curve) offsets(balances []*big.Int) [2]*big.Int {
	l := c.invariant(balances)
	return [2]*big.Int{fixedpoint.DivDown(l, c.sqrtBeta), fixedpoint.MulDown(l, c.sqrtAlpha)}
}

func (c gyro2Curve) outGivenIn(balances []*big.Int, in, out int, amountIn *big.Int) (*big.Int, error) {
	off := c.offsets(balances)
	return constantProductOut(balances[out], fixedpoint.Add(balances[in], off[in]), fixedpoint.Add(balances[out], off[out]), amountIn)
}

func (c gyro2Curve) inGivenOut(balances []*big.Int, in, out int, amountOut *big.Int) (*big.Int, error) {
	off := c.offsets(balances)
	return constantProductIn(balances[out], fixedpoint.Add(balances[in], off[in]), fixedpoint.Add(balances[out], off[out]), amountOut)
}

func (c gyro2Curve) virtualBalance(balances []*big.Int, i int) (*big.Int, error) {
	return fixedpoint.Add(balances[i], c.offsets(balances)[i]), nil
}

func (p *Gyro2Pool) Clone() BasePool {
	return &Gyro2Pool{p.cloneGyro()}
}

// Gyro3Pool is a three token concentrated liquidity pool. All prices share the
// range [alpha, 1/alpha] with alpha = root3Alpha^3.
type Gyro3Pool struct {
	gyroPool
}

type gyro3Curve struct {
	root3Alpha *big.Int
}

const gyro3MaxIterations = 255

func NewGyro3Pool(meta Meta, root3Alpha *big.Int, poolTokens []PoolToken) (*Gyro3Pool, error) {
	if meta.Type == "" {
		meta.Type = TypeGyro3
	}
	if len(poolTokens) != 3 {
		return nil, fmt.Errorf("gyro3 pool %s: needs exactly three tokens, got %d", meta.ID, len(poolTokens))
	}
	if root3Alpha == nil || root3Alpha.Sign() <= 0 || root3Alpha.Cmp(fixedpoint.WAD) >= 0 {
		return nil, fmt.Errorf("gyro3 pool %s: root3Alpha must be in (0, 1)", meta.ID)
	}
	base, err := newPoolBase(meta, poolTokens)
	if err != nil {
		return nil, err
	}
	return &Gyro3Pool{gyroPool{poolBase: base, curve: gyro3Curve{root3Alpha: fixedpoint.Copy(root3Alpha)}}}, nil
}

// invariant is the largest root of a L^3 - mb L^2 - mc L - md = 0 where
// a = 1 - r^3, mb = r^2 (x+y+z), mc = r (xy+yz+zx), md = xyz and r = root3Alpha.
// Newton's method from the upper bound mb/a + sqrt(mc/a) + cbrt(md/a) descends
// monotonically because the cubic is convex there.
func (c gyro3Curve) invariant(balances []*big.Int) (*big.Int, error) {
	x, y, z := balances[0], balances[1], balances[2]
	r := c.root3Alpha
	r2 := fixedpoint.MulDown(r, r)
	a := fixedpoint.Complement(fixedpoint.MulDown(r2, r))
	if a.Sign() == 0 {
		return nil, errGyroNoConverge
	}
	mb := fixedpoint.MulDown(fixedpoint.Add(fixedpoint.Add(x, y), z), r2)
	mc := fixedpoint.Add(fixedpoint.Add(fixedpoint.MulDown(x, y), fixedpoint.MulDown(y, z)), fixedpoint.MulDown(z, x))
	mc = fixedpoint.MulDown(mc, r)
	md := fixedpoint.MulDown(fixedpoint.MulDown(x, y), z)

	l := fixedpoint.DivUp(mb, a)
	l.Add(l, fixedpoint.SqrtUp(fixedpoint.DivUp(mc, a)))
	l.Add(l, fixedpoint.CbrtUp(fixedpoint.DivUp(md, a)))
	l.Add(l, big.NewInt(1))

	three := fixedpoint.FromWAD(3)
	two := fixedpoint.FromWAD(2)
	for range gyro3MaxIterations {
		l2 := fixedpoint.MulDown(l, l)
		f := fixedpoint.MulDown(fixedpoint.MulDown(a, l2), l)
		f.Sub(f, fixedpoint.MulDown(mb, l2))
		f.Sub(f, fixedpoint.MulDown(mc, l))
		f.Sub(f, md)
		if f.Sign() <= 0 {
			return l, nil
		}
		df := fixedpoint.MulDown(fixedpoint.MulDown(three, a), l2)
		df.Sub(df, fixedpoint.MulDown(fixedpoint.MulDown(two, mb), l))
		df.Sub(df, mc)
		if df.Sign() <= 0 {
			return nil, errGyroNoConverge
		}
		step := fixedpoint.DivDown(f, df)
		if step.Sign() == 0 {
			return l, nil
		}
		l = new(big.Int).Sub(l, step)
	}
	return nil, errGyroNoConverge
}

func (c gyro3Curve) offset(balances []*big.Int) (*big.Int, error) {
	l, err := c.invariant(balances)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDown(l, c.root3Alpha), nil
}

func (c gyro3Curve) outGivenIn(balances []*big.Int, in, out int, amountIn *big.Int) (*big.Int, error) {
	off, err := c.offset(balances)
	if err != nil {
		return nil, err
	}
	return constantProductOut(balances[out], fixedpoint.Add(balances[in], off), fixedpoint.Add(balances[out], off), amountIn)
}

func (c gyro3Curve) inGivenOut(balances []*big.Int, in, out int, amountOut *big.Int) (*big.Int, error) {
	off, err := c.offset(balances)
	if err != nil {
		return nil, err
	}
	return constantProductIn(balances[out], fixedpoint.Add(balances[in], off), fixedpoint.Add(balances[out], off), amountOut)
}

func (c gyro3Curve) virtualBalance(balances []*big.Int, i int) (*big.Int, error) {
	off, err := c.offset(balances)
	if err != nil {
		return nil, err
	}
	return off.Add(off, balances[i]), nil
}

func (p *Gyro3Pool) Clone() BasePool {
	return &Gyro3Pool{p.cloneGyro()}
}
