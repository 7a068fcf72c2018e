package pools

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

// BufferPool wraps and unwraps between an ERC4626 wrapper and its underlying
// asset at a fixed unwrap rate. It is synthetic: it never comes from the
// snapshot and holds no balances.
type BufferPool struct {
	poolBase
	unwrapRate *big.Int
}

// NewBufferPool builds the buffer for wrapper. Its id is the wrapper address.
func NewBufferPool(chainID, version int, wrapper, underlying tokens.Token, unwrapRate *big.Int) (*BufferPool, error) {
	if unwrapRate == nil || unwrapRate.Sign() <= 0 {
		return nil, fmt.Errorf("buffer %s: unwrap rate must be positive", wrapper.Hex())
	}
	meta := Meta{
		ID:      strings.ToLower(wrapper.Address.Hex()),
		Address: wrapper.Address,
		ChainID: chainID,
		Version: version,
		Type:    TypeBuffer,
	}
	base, err := newPoolBase(meta, []PoolToken{
		{Token: wrapper, Balance: new(big.Int), Rate: fixedpoint.WAD},
		{Token: underlying, Balance: new(big.Int), Rate: fixedpoint.WAD},
	})
	if err != nil {
		return nil, err
	}
	return &BufferPool{poolBase: base, unwrapRate: fixedpoint.Copy(unwrapRate)}, nil
}

func (p *BufferPool) UnwrapRate() *big.Int { return fixedpoint.Copy(p.unwrapRate) }

// wrapping reports whether the trade goes underlying -> wrapper.
func (p *BufferPool) wrapping(in *PoolToken) bool {
	return in.Index == 1
}

func (p *BufferPool) SwapGivenIn(tokenIn, tokenOut tokens.Token, amountIn tokens.TokenAmount, _ bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	scaled := new(big.Int).Mul(amountIn.Amount, tokens.Scalar(in.Token))
	var result *big.Int
	if p.wrapping(in) {
		result = fixedpoint.DivDown(scaled, p.unwrapRate)
	} else {
		result = fixedpoint.MulDown(scaled, p.unwrapRate)
	}
	return tokens.FromScale18Amount(out.Token, result), nil
}

func (p *BufferPool) SwapGivenOut(tokenIn, tokenOut tokens.Token, amountOut tokens.TokenAmount, _ bool) (tokens.TokenAmount, error) {
	in, out, err := p.pair(tokenIn, tokenOut)
	if err != nil {
		return tokens.TokenAmount{}, err
	}
	scaled := new(big.Int).Mul(amountOut.Amount, tokens.Scalar(out.Token))
	var result *big.Int
	if p.wrapping(in) {
		result = fixedpoint.MulUp(scaled, p.unwrapRate)
	} else {
		result = fixedpoint.DivUp(scaled, p.unwrapRate)
	}
	return tokens.FromScale18AmountRoundUp(in.Token, result), nil
}

func (p *BufferPool) LimitAmountSwap(tokenIn, tokenOut tokens.Token, _ tokens.SwapKind) (*big.Int, error) {
	if _, _, err := p.pair(tokenIn, tokenOut); err != nil {
		return nil, err
	}
	return fixedpoint.Copy(fixedpoint.MaxUint256), nil
}

func (p *BufferPool) NormalizedLiquidity(tokenIn, tokenOut tokens.Token) (*big.Int, error) {
	if _, _, err := p.pair(tokenIn, tokenOut); err != nil {
		return nil, err
	}
	return fixedpoint.Copy(fixedpoint.MaxUint256), nil
}

func (p *BufferPool) Clone() BasePool {
	return &BufferPool{poolBase: p.cloneBase(), unwrapRate: fixedpoint.Copy(p.unwrapRate)}
}
