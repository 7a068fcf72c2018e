package pools

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
)

// GyroEParams describe the elliptic concentrated liquidity curve, 18 decimals.
// (c, s) is the rotation (cos, sin) of the ellipse and lambda its stretch.
type GyroEParams struct {
	Alpha  *big.Int
	Beta   *big.Int
	C      *big.Int
	S      *big.Int
	Lambda *big.Int
}

// GyroEPool is a two token elliptic concentrated liquidity pool.
type GyroEPool struct {
	gyroPool
	params GyroEParams
}

var (
	errGyroEDegenerate = errors.New("gyroe ellipse is degenerate")
	errGyroEDomain     = errors.New("gyroe balance outside curve")

	// internal precision
	e38      = fixedpoint.Pow10(38)
	wadTo38  = fixedpoint.Pow10(20)
	normSlop = fixedpoint.Pow10(14) // |c^2 + s^2 - 1| tolerance at 18 decimals
)

func NewGyroEPool(meta Meta, params GyroEParams, poolTokens []PoolToken) (*GyroEPool, error) {
	if meta.Type == "" {
		meta.Type = TypeGyroE
	}
	if len(poolTokens) != 2 {
		return nil, fmt.Errorf("gyroe pool %s: needs exactly two tokens, got %d", meta.ID, len(poolTokens))
	}
	for _, v := range []*big.Int{params.Alpha, params.Beta, params.C, params.S, params.Lambda} {
		if v == nil || v.Sign() < 0 {
			return nil, fmt.Errorf("gyroe pool %s: parameters must be set and non-negative", meta.ID)
		}
	}
	if params.Alpha.Sign() == 0 || params.Alpha.Cmp(params.Beta) >= 0 {
		return nil, fmt.Errorf("gyroe pool %s: need 0 < alpha < beta", meta.ID)
	}
	if params.Lambda.Cmp(fixedpoint.WAD) < 0 {
		return nil, fmt.Errorf("gyroe pool %s: lambda must be >= 1", meta.ID)
	}
	norm := fixedpoint.Add(fixedpoint.MulDown(params.C, params.C), fixedpoint.MulDown(params.S, params.S))
	if fixedpoint.Abs(fixedpoint.Sub(norm, fixedpoint.WAD)).Cmp(normSlop) > 0 {
		return nil, fmt.Errorf("gyroe pool %s: (c, s) is not a unit vector", meta.ID)
	}
	base, err := newPoolBase(meta, poolTokens)
	if err != nil {
		return nil, err
	}
	curve, err := newEclpCurve(params)
	if err != nil {
		return nil, fmt.Errorf("gyroe pool %s: %w", meta.ID, err)
	}
	return &GyroEPool{gyroPool: gyroPool{poolBase: base, curve: curve}, params: params}, nil
}

func (p *GyroEPool) Clone() BasePool {
	return &GyroEPool{gyroPool: p.cloneGyro(), params: p.params}
}

func m38(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Quo(r, e38)
}

func d38(a, b *big.Int) *big.Int {
	r := new(big.Int).Mul(a, e38)
	return r.Quo(r, b)
}

func sqrt38(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		return new(big.Int)
	}
	r := new(big.Int).Mul(x, e38)
	return r.Sqrt(r)
}

func to38(wad *big.Int) *big.Int { return new(big.Int).Mul(wad, wadTo38) }

type vec2 struct{ x, y *big.Int }

func (v vec2) dot(o vec2) *big.Int { return fixedpoint.Add(m38(v.x, o.x), m38(v.y, o.y)) }

// eclpCurve holds the derived ellipse parameters at 38 decimals.
type eclpCurve struct {
	c, s, lambda *big.Int
	// chi is A^-1 tau(beta) in x and A^-1 tau(alpha) in y; the offsets are r * chi
	chi vec2
}

func newEclpCurve(params GyroEParams) (eclpCurve, error) {
	e := eclpCurve{c: to38(params.C), s: to38(params.S), lambda: to38(params.Lambda)}
	tauAlpha, err := e.tau(to38(params.Alpha))
	if err != nil {
		return eclpCurve{}, err
	}
	tauBeta, err := e.tau(to38(params.Beta))
	if err != nil {
		return eclpCurve{}, err
	}
	// A^-1 = [[c lambda, s], [-s lambda, c]]
	e.chi = vec2{
		x: fixedpoint.Add(m38(m38(e.c, e.lambda), tauBeta.x), m38(e.s, tauBeta.y)),
		y: fixedpoint.Add(new(big.Int).Neg(m38(m38(e.s, e.lambda), tauAlpha.x)), m38(e.c, tauAlpha.y)),
	}
	return e, nil
}

// mulA applies A = [[c/lambda, -s/lambda], [s, c]], which maps the ellipse to the unit circle.
func (e eclpCurve) mulA(v vec2) vec2 {
	return vec2{
		x: d38(fixedpoint.Sub(m38(e.c, v.x), m38(e.s, v.y)), e.lambda),
		y: fixedpoint.Add(m38(e.s, v.x), m38(e.c, v.y)),
	}
}

// tau is the point on the unit circle where the price is p.
func (e eclpCurve) tau(p *big.Int) (vec2, error) {
	den := fixedpoint.Add(e.c, m38(e.s, p))
	if den.Sign() == 0 {
		return vec2{}, errGyroEDegenerate
	}
	q := m38(e.lambda, d38(fixedpoint.Sub(m38(e.c, p), e.s), den))
	z := sqrt38(fixedpoint.Add(e38, m38(q, q)))
	return vec2{x: d38(q, z), y: d38(e38, z)}, nil
}

// invariant solves |A(t - r chi)| = r for the radius r of the ellipse through t.
func (e eclpCurve) invariant(balances []*big.Int) (*big.Int, error) {
	at := e.mulA(vec2{x: to38(balances[0]), y: to38(balances[1])})
	achi := e.mulA(e.chi)
	atChi := at.dot(achi)
	den := fixedpoint.Sub(achi.dot(achi), e38)
	if den.Sign() <= 0 {
		return nil, errGyroEDegenerate
	}
	disc := fixedpoint.Sub(m38(atChi, atChi), m38(den, at.dot(at)))
	if disc.Sign() < 0 {
		disc.SetInt64(0)
	}
	return d38(fixedpoint.Add(atChi, sqrt38(disc)), den), nil
}

// solve returns the balance of the other token given the balance of token
// `given` (38 decimals), on the lower arc of the ellipse with radius r.
func (e eclpCurve) solve(given int, balance, r *big.Int) (*big.Int, error) {
	lambdaInv2 := d38(e38, m38(e.lambda, e.lambda))
	c2, s2, sc := m38(e.c, e.c), m38(e.s, e.s), m38(e.s, e.c)

	var shifted, centreOther, qa, qc *big.Int
	if given == 0 {
		shifted = fixedpoint.Sub(balance, m38(r, e.chi.x))
		centreOther = m38(r, e.chi.y)
		qa = fixedpoint.Add(m38(s2, lambdaInv2), c2)
		qc = fixedpoint.Add(m38(c2, lambdaInv2), s2)
	} else {
		shifted = fixedpoint.Sub(balance, m38(r, e.chi.y))
		centreOther = m38(r, e.chi.x)
		qa = fixedpoint.Add(m38(c2, lambdaInv2), s2)
		qc = fixedpoint.Add(m38(s2, lambdaInv2), c2)
	}
	qb := m38(m38(shifted, sc), fixedpoint.Sub(e38, lambdaInv2))
	qb.Lsh(qb, 1)
	qc = fixedpoint.Sub(m38(m38(qc, shifted), shifted), m38(r, r))

	disc := fixedpoint.Sub(m38(qb, qb), new(big.Int).Lsh(m38(qa, qc), 2))
	if disc.Sign() < 0 {
		return nil, errGyroEDomain
	}
	root := d38(fixedpoint.Sub(new(big.Int).Neg(qb), sqrt38(disc)), new(big.Int).Lsh(qa, 1))
	return root.Add(root, centreOther), nil
}

func (e eclpCurve) outGivenIn(balances []*big.Int, in, out int, amountIn *big.Int) (*big.Int, error) {
	r, err := e.invariant(balances)
	if err != nil {
		return nil, err
	}
	other, err := e.solve(in, to38(fixedpoint.Add(balances[in], amountIn)), r)
	if err != nil {
		return nil, err
	}
	// round the new out balance up, then take one more wei
	newOut := fixedpoint.DivUpRaw(fixedpoint.Max(other, big.NewInt(0)), wadTo38)
	amountOut := fixedpoint.Sub(balances[out], newOut)
	amountOut.Sub(amountOut, big.NewInt(1))
	if amountOut.Sign() < 0 {
		return new(big.Int), nil
	}
	return amountOut, nil
}

func (e eclpCurve) inGivenOut(balances []*big.Int, in, out int, amountOut *big.Int) (*big.Int, error) {
	if amountOut.Cmp(balances[out]) >= 0 {
		return nil, errGyroOutExceedsBalance
	}
	r, err := e.invariant(balances)
	if err != nil {
		return nil, err
	}
	other, err := e.solve(out, to38(fixedpoint.Sub(balances[out], amountOut)), r)
	if err != nil {
		return nil, err
	}
	newIn := fixedpoint.DivUpRaw(fixedpoint.Max(other, big.NewInt(0)), wadTo38)
	amountIn := fixedpoint.Sub(newIn, balances[in])
	amountIn.Add(amountIn, big.NewInt(1))
	if amountIn.Sign() < 0 {
		return new(big.Int), nil
	}
	return amountIn, nil
}

func (e eclpCurve) virtualBalance(balances []*big.Int, i int) (*big.Int, error) {
	r, err := e.invariant(balances)
	if err != nil {
		return nil, err
	}
	offset := e.chi.x
	if i == 1 {
		offset = e.chi.y
	}
	v := m38(r, offset)
	v.Quo(v, wadTo38)
	return v.Add(v, balances[i]), nil
}
