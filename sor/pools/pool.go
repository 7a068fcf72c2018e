// Package pools holds the AMM pricing models the router swaps through. Every
// variant implements BasePool; the graph and the selector never look at the
// concrete type.
package pools

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTokenNotInPool means a pool was asked to trade a token it does not hold.
	ErrTokenNotInPool = errors.New("token not in pool")
	// ErrSwapLimitExceeded means the amount is above LimitAmountSwap.
	ErrSwapLimitExceeded = errors.New("swap amount exceeds pool limit")
	// ErrMathFailure wraps numeric failures of the invariant math (no convergence, halts, domain).
	ErrMathFailure = errors.New("pool math failure")
)

type PoolType string

const (
	TypeWeighted               PoolType = "WEIGHTED"
	TypeLiquidityBootstrapping PoolType = "LIQUIDITY_BOOTSTRAPPING"
	TypeStable                 PoolType = "STABLE"
	TypeMetaStable             PoolType = "META_STABLE"
	TypePhantomStable          PoolType = "PHANTOM_STABLE"
	TypeComposableStable       PoolType = "COMPOSABLE_STABLE"
	TypeFX                     PoolType = "FX"
	TypeGyro2                  PoolType = "GYRO"
	TypeGyro3                  PoolType = "GYRO3"
	TypeGyroE                  PoolType = "GYROE"
	TypeBuffer                 PoolType = "BUFFER"
)

// SupportedTypes lists the snapshot pool types that can be turned into pools.
var SupportedTypes = []PoolType{
	TypeWeighted,
	TypeLiquidityBootstrapping,
	TypeStable,
	TypeMetaStable,
	TypePhantomStable,
	TypeComposableStable,
	TypeFX,
	TypeGyro2,
	TypeGyro3,
	TypeGyroE,
}

// IsSupported reports whether t is in SupportedTypes. Comparison is case-insensitive.
func IsSupported(t string) bool {
	for _, s := range SupportedTypes {
		if strings.EqualFold(string(s), t) {
			return true
		}
	}
	return false
}

// IsStableFamily reports the types that share the StableSwap invariant.
func IsStableFamily(t PoolType) bool {
	switch t {
	case TypeStable, TypeMetaStable, TypePhantomStable, TypeComposableStable:
		return true
	}
	return false
}

// BasePool is the contract every pool variant implements. Amounts passed in and
// returned are in the native decimals of their token; the math is done at 18 decimals.
type BasePool interface {
	ID() string
	Address() common.Address
	Chain() int
	ProtocolVersion() int
	PoolType() PoolType
	SwapFee() *big.Int
	// Tokens returns the swappable tokens in pool index order.
	Tokens() []tokens.Token
	// PoolTokens returns copies of the pool tokens with balances and rates.
	PoolTokens() []PoolToken

	SwapGivenIn(tokenIn, tokenOut tokens.Token, amountIn tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error)
	SwapGivenOut(tokenIn, tokenOut tokens.Token, amountOut tokens.TokenAmount, mutate bool) (tokens.TokenAmount, error)
	// LimitAmountSwap returns the largest amount, in raw units of the given
	// token (tokenIn for GivenIn, tokenOut for GivenOut), the pool accepts.
	LimitAmountSwap(tokenIn, tokenOut tokens.Token, kind tokens.SwapKind) (*big.Int, error)
	NormalizedLiquidity(tokenIn, tokenOut tokens.Token) (*big.Int, error)

	Clone() BasePool
}

// SharePool is implemented by pools whose own share token (BPT) can be swapped
// against, modelling single sided joins and exits.
type SharePool interface {
	BasePool
	ShareToken() tokens.Token
}

// ERC4626Info links a yield-bearing wrapper token to its underlying asset.
type ERC4626Info struct {
	Underlying tokens.Token
	// UnwrapRate is the amount of underlying per wrapper share, 18 decimals.
	UnwrapRate *big.Int
}

// PoolToken is a token held by a pool.
type PoolToken struct {
	Token tokens.Token
	// Balance in native decimals.
	Balance *big.Int
	Index   int
	// Rate is the token rate applied before the invariant, 18 decimals.
	Rate *big.Int
	// Weight is only set for weighted pools.
	Weight  *big.Int
	ERC4626 *ERC4626Info
}

// Scale18 returns the balance at 18 decimals without the rate.
func (pt *PoolToken) Scale18() *big.Int {
	return new(big.Int).Mul(pt.Balance, tokens.Scalar(pt.Token))
}

// LiveBalance returns the balance at 18 decimals with the rate applied, rounded down.
func (pt *PoolToken) LiveBalance() *big.Int {
	return fixedpoint.MulDown(pt.Scale18(), pt.rate())
}

// IsBoosted reports whether the token is an ERC4626 wrapper.
func (pt *PoolToken) IsBoosted() bool {
	return pt.ERC4626 != nil
}

func (pt *PoolToken) rate() *big.Int {
	if pt.Rate == nil || pt.Rate.Sign() == 0 {
		return fixedpoint.WAD
	}
	return pt.Rate
}

// toLive converts a raw amount of this token to 18 decimals with the rate, rounding down.
func (pt *PoolToken) toLive(raw *big.Int) *big.Int {
	return fixedpoint.MulDown(new(big.Int).Mul(raw, tokens.Scalar(pt.Token)), pt.rate())
}

// toLiveUp is toLive rounding up.
func (pt *PoolToken) toLiveUp(raw *big.Int) *big.Int {
	return fixedpoint.MulUp(new(big.Int).Mul(raw, tokens.Scalar(pt.Token)), pt.rate())
}

// fromLiveDown undoes scaling and rate, rounding down.
func (pt *PoolToken) fromLiveDown(live *big.Int) *big.Int {
	if live.Sign() <= 0 {
		return new(big.Int)
	}
	den := new(big.Int).Mul(tokens.Scalar(pt.Token), pt.rate())
	return fixedpoint.MulDivDown(live, fixedpoint.WAD, den)
}

// fromLiveUp undoes scaling and rate, rounding up.
func (pt *PoolToken) fromLiveUp(live *big.Int) *big.Int {
	if live.Sign() <= 0 {
		return new(big.Int)
	}
	den := new(big.Int).Mul(tokens.Scalar(pt.Token), pt.rate())
	return fixedpoint.MulDivUp(live, fixedpoint.WAD, den)
}

func (pt *PoolToken) increase(raw *big.Int) { pt.Balance = new(big.Int).Add(pt.Balance, raw) }
func (pt *PoolToken) decrease(raw *big.Int) { pt.Balance = new(big.Int).Sub(pt.Balance, raw) }

func (pt PoolToken) clone() PoolToken {
	c := pt
	c.Balance = fixedpoint.Copy(pt.Balance)
	if pt.Rate != nil {
		c.Rate = fixedpoint.Copy(pt.Rate)
	}
	if pt.Weight != nil {
		c.Weight = fixedpoint.Copy(pt.Weight)
	}
	if pt.ERC4626 != nil {
		info := *pt.ERC4626
		info.UnwrapRate = fixedpoint.Copy(pt.ERC4626.UnwrapRate)
		c.ERC4626 = &info
	}
	return c
}

// TokenPair carries a precomputed normalized liquidity for a directed token pair.
type TokenPair struct {
	TokenA              common.Address
	TokenB              common.Address
	NormalizedLiquidity *big.Int
}

// Meta holds the attributes every pool shares.
type Meta struct {
	ID         string
	Address    common.Address
	ChainID    int
	Version    int
	Type       PoolType
	SwapFee    *big.Int
	TokenPairs []TokenPair
}

// poolBase implements the bookkeeping shared by all variants.
type poolBase struct {
	meta   Meta
	tokens []PoolToken
	index  map[common.Address]int
}

func newPoolBase(meta Meta, poolTokens []PoolToken) (poolBase, error) {
	if len(poolTokens) < 2 {
		return poolBase{}, fmt.Errorf("pool %s: needs at least two tokens, got %d", meta.ID, len(poolTokens))
	}
	meta.ID = strings.ToLower(meta.ID)
	if meta.SwapFee == nil {
		meta.SwapFee = new(big.Int)
	}
	b := poolBase{
		meta:   meta,
		tokens: make([]PoolToken, len(poolTokens)),
		index:  make(map[common.Address]int, len(poolTokens)),
	}
	for i, pt := range poolTokens {
		if pt.Balance == nil {
			return poolBase{}, fmt.Errorf("pool %s: token %s has no balance", meta.ID, pt.Token.Hex())
		}
		if _, dup := b.index[pt.Token.Wrapped()]; dup {
			return poolBase{}, fmt.Errorf("pool %s: duplicate token %s", meta.ID, pt.Token.Hex())
		}
		c := pt.clone()
		c.Index = i
		b.tokens[i] = c
		b.index[pt.Token.Wrapped()] = i
	}
	return b, nil
}

func (b *poolBase) ID() string              { return b.meta.ID }
func (b *poolBase) Address() common.Address { return b.meta.Address }
func (b *poolBase) Chain() int              { return b.meta.ChainID }
func (b *poolBase) ProtocolVersion() int    { return b.meta.Version }
func (b *poolBase) PoolType() PoolType      { return b.meta.Type }
func (b *poolBase) SwapFee() *big.Int       { return fixedpoint.Copy(b.meta.SwapFee) }

func (b *poolBase) Tokens() []tokens.Token {
	out := make([]tokens.Token, len(b.tokens))
	for i := range b.tokens {
		out[i] = b.tokens[i].Token
	}
	return out
}

func (b *poolBase) PoolTokens() []PoolToken {
	out := make([]PoolToken, len(b.tokens))
	for i := range b.tokens {
		out[i] = b.tokens[i].clone()
	}
	return out
}

func (b *poolBase) token(t tokens.Token) (*PoolToken, bool) {
	i, ok := b.index[t.Wrapped()]
	if !ok {
		return nil, false
	}
	return &b.tokens[i], true
}

// pair resolves the pool tokens of a trade.
func (b *poolBase) pair(tokenIn, tokenOut tokens.Token) (*PoolToken, *PoolToken, error) {
	in, ok := b.token(tokenIn)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s in pool %s", ErrTokenNotInPool, tokenIn.Hex(), b.meta.ID)
	}
	out, ok := b.token(tokenOut)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s in pool %s", ErrTokenNotInPool, tokenOut.Hex(), b.meta.ID)
	}
	if in.Index == out.Index {
		return nil, nil, fmt.Errorf("%w: cannot swap %s for itself in pool %s", ErrTokenNotInPool, tokenIn.Hex(), b.meta.ID)
	}
	return in, out, nil
}

// pairLiquidity looks up a precomputed normalized liquidity for the directed pair.
func (b *poolBase) pairLiquidity(in, out *PoolToken) (*big.Int, bool) {
	for _, tp := range b.meta.TokenPairs {
		if tp.TokenA == in.Token.Wrapped() && tp.TokenB == out.Token.Wrapped() && tp.NormalizedLiquidity != nil {
			return fixedpoint.Copy(tp.NormalizedLiquidity), true
		}
	}
	return nil, false
}

func (b *poolBase) cloneBase() poolBase {
	c := poolBase{
		meta:   b.meta,
		tokens: make([]PoolToken, len(b.tokens)),
		index:  make(map[common.Address]int, len(b.index)),
	}
	c.meta.SwapFee = fixedpoint.Copy(b.meta.SwapFee)
	c.meta.TokenPairs = append([]TokenPair(nil), b.meta.TokenPairs...)
	for i := range b.tokens {
		c.tokens[i] = b.tokens[i].clone()
	}
	for k, v := range b.index {
		c.index[k] = v
	}
	return c
}

// checkLimit fails with ErrSwapLimitExceeded when amount > limit.
func checkLimit(pool string, amount, limit *big.Int) error {
	if amount.Cmp(limit) > 0 {
		return fmt.Errorf("%w: pool %s amount %s limit %s", ErrSwapLimitExceeded, pool, amount, limit)
	}
	return nil
}

// mathErr wraps an invariant math failure.
func mathErr(pool string, err error) error {
	return fmt.Errorf("%w: pool %s: %v", ErrMathFailure, pool, err)
}

// addFeeGivenOut grosses up an amount in for the swap fee, amount / (1 - fee) rounded up.
func addFeeGivenOut(amount, fee *big.Int) *big.Int {
	if fee.Sign() == 0 {
		return fixedpoint.Copy(amount)
	}
	return fixedpoint.DivUp(amount, fixedpoint.Complement(fee))
}

// subFeeGivenIn removes the swap fee from an amount in, rounding the fee up.
func subFeeGivenIn(amount, fee *big.Int) *big.Int {
	return new(big.Int).Sub(amount, fixedpoint.MulUp(amount, fee))
}
