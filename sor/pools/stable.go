package pools

import (
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

var stableSwapLimitRatio = big.NewInt(990_000_000_000_000_000)

// StablePool is a StableSwap pool. It serves STABLE, META_STABLE,
// COMPOSABLE_STABLE and PHANTOM_STABLE records as well as boosted pools whose
// tokens are ERC4626 wrappers; token rates are applied before the invariant.
//
// The pool's own share token can be swapped: token -> BPT is a single token
// join and BPT -> token a single token exit.
type StablePool struct {
	poolBase
	amp *big.Int
	bpt PoolToken
}

// NewStablePool builds a stable pool. amp must include AmpPrecision (amp 200 is 200000).
// totalShares is the BPT supply in 18 decimals.
func NewStablePool(meta Meta, amp *big.Int, totalShares *big.Int, poolTokens []PoolToken) (*StablePool, error) {
	if meta.Type == "" {
		meta.Type = TypeStable
	}
	if amp == nil || amp.Sign() <= 0 {
		return nil, fmt.Errorf("stable pool %s: amplification parameter must be positive", meta.ID)
	}
	base, err := newPoolBase(meta, poolTokens)
	if err != nil {
		return nil, err
	}
	shareToken := tokens.NewToken(meta.ChainID, meta.Address, 18, "BPT", meta.ID)
	return &StablePool{
		poolBase: base,
		amp:      fixedpoint.Copy(amp),
		bpt: PoolToken{
			Token:   shareToken,
			Balance: fixedpoint.Copy(totalShares),
			Index:   -1,
			Rate:    fixedpoint.Copy(fixedpoint.WAD),
		},
	}, nil
}

// ShareToken returns the pool's BPT.
func (p *StablePool) ShareToken() tokens.Token { return p.bpt.Token }

// TotalShares returns the BPT supply.
func (p *StablePool) TotalShares() *big.Int { return fixedpoint.Copy(p.bpt.Balance) }

// Amp returns the amplification parameter including AmpPrecision.
func (p *StablePool) Amp() *big.Int { return fixedpoint.Copy(p.amp) }

func (p *StablePool) isBPT(t tokens.Token) bool {
	return t.Wrapped() == p.bpt.Token.Address
}

// resolve extends pair with the share token.
func (p *StablePool) resolve(tokenIn, tokenOut tokens.Token) (*PoolToken, *PoolToken, error) {
	inBPT, outBPT := p.isBPT(tokenIn), p.isBPT(tokenOut)
	switch {
	case inBPT && outBPT:
		return nil, nil, fmt.Errorf("%w: cannot swap BPT for itself in pool %s", ErrTokenNotInPool, p.meta.ID)
	case inBPT:
		out, ok := p.token(tokenOut)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s in pool %s", ErrTokenNotInPool, tokenOut.Hex(), p.meta.ID)
		}
		return &p.bpt, out, nil
	case outBPT:
		in, ok := p.token(tokenIn)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s in pool %s", ErrTokenNotInPool, tokenIn.Hex(), p.meta.ID)
		}
		return in, &p.bpt, nil
	}
	return p.pair(tokenIn, tokenOut)
}

func (p *StablePool) liveBalances() []*big.Int {
	out := make([]*big.Int, len(p.tokens))
	for i := range p.tokens {
		out[i] = p.tokens[i].LiveBalance()
	}
	return out
}

func (p *StablePool) SwapGivenIn(tokenIn, tokenOut tokens.Token, amountIn tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.resolve(tokenIn, tokenOut)
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

	balances := p.liveBalances()
	var raw *big.Int
	switch {
	case out == &p.bpt:
		minted, err := addSingleExactIn(p.amp, balances, in.Index, in.toLive(amountIn.Amount), p.bpt.Balance, p.meta.SwapFee)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		raw = minted
	case in == &p.bpt:
		amountOut, err := removeSingleExactIn(p.amp, balances, out.Index, amountIn.Amount, p.bpt.Balance, p.meta.SwapFee)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		raw = out.fromLiveDown(amountOut)
	default:
		invariant, err := stableInvariant(p.amp, balances)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		amount := subFeeGivenIn(in.toLive(amountIn.Amount), p.meta.SwapFee)
		amountOut, err := stableOutGivenIn(p.amp, balances, in.Index, out.Index, amount, invariant)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		raw = out.fromLiveDown(amountOut)
	}

	if mutate {
		p.apply(in, out, amountIn.Amount, raw)
	}
	return tokens.FromRawAmount(out.Token, raw), nil
}

func (p *StablePool) SwapGivenOut(tokenIn, tokenOut tokens.Token, amountOut tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error) {
	in, out, err := p.resolve(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	limit, err := p.limit(in, out, tokens.GivenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	if err := checkLimit(p.meta.ID, amountOut.Amount, limit); err != nil {
		return tokens.TokenAmount{}, err
	}

	balances := p.liveBalances()
	var raw *big.Int
	switch {
	case out == &p.bpt:
		amountIn, err := addSingleExactOut(p.amp, balances, in.Index, amountOut.Amount, p.bpt.Balance, p.meta.SwapFee)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		raw = in.fromLiveUp(amountIn)
	case in == &p.bpt:
		bptIn, err := removeSingleExactOut(p.amp, balances, out.Index, out.toLiveUp(amountOut.Amount), p.bpt.Balance, p.meta.SwapFee)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		raw = bptIn
	default:
		invariant, err := stableInvariant(p.amp, balances)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		amountIn, err := stableInGivenOut(p.amp, balances, in.Index, out.Index, out.toLiveUp(amountOut.Amount), invariant)
		if err != nil {
			return tokens.TokenAmount{}, mathErr(p.meta.ID, err)
		}
		raw = in.fromLiveUp(addFeeGivenOut(amountIn, p.meta.SwapFee))
	}

	if mutate {
		p.apply(in, out, raw, amountOut.Amount)
	}
	return tokens.FromRawAmount(in.Token, raw), nil
}

// apply moves balances after a swap. Joins mint BPT and exits burn it.
func (p *StablePool) apply(in, out *PoolToken, rawIn, rawOut *big.Int) {
	switch {
	case out == &p.bpt:
		in.increase(rawIn)
		p.bpt.increase(rawOut)
	case in == &p.bpt:
		p.bpt.decrease(rawIn)
		out.decrease(rawOut)
	default:
		in.increase(rawIn)
		out.decrease(rawOut)
	}
}

func (p *StablePool) LimitAmountSwap(tokenIn, tokenOut tokens.Token, kind tokens.SwapKind) (*big.Int, error) {
	in, out, err := p.resolve(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return p.limit(in, out, kind)
}

func (p *StablePool) limit(in, out *PoolToken, kind tokens.SwapKind) (*big.Int, error) {
	switch {
	case out == &p.bpt:
		return fixedpoint.Copy(fixedpoint.MaxUint256), nil
	case in == &p.bpt:
		if kind == tokens.GivenIn {
			sum := new(big.Int)
			for _, b := range p.liveBalances() {
				sum.Add(sum, b)
			}
			if sum.Sign() == 0 {
				return new(big.Int), nil
			}
			return fixedpoint.MulDivDown(p.bpt.Balance, out.LiveBalance(), sum), nil
		}
		return fixedpoint.MulDown(out.Balance, stableSwapLimitRatio), nil
	}
	if kind == tokens.GivenIn {
		// out live balance priced at rate parity in units of token in
		return fixedpoint.MulDown(in.fromLiveDown(out.LiveBalance()), stableSwapLimitRatio), nil
	}
	return fixedpoint.MulDown(out.Balance, stableSwapLimitRatio), nil
}

func (p *StablePool) NormalizedLiquidity(tokenIn, tokenOut tokens.Token) (*big.Int, error) {
	in, out, err := p.resolve(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	if liq, ok := p.pairLiquidity(in, out); ok {
		return liq, nil
	}
	return fixedpoint.MulDivDown(out.LiveBalance(), p.amp, AmpPrecision), nil
}

func (p *StablePool) Clone() BasePool {
	return &StablePool{
		poolBase: p.cloneBase(),
		amp:      fixedpoint.Copy(p.amp),
		bpt:      p.bpt.clone(),
	}
}
