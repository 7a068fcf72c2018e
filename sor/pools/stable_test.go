package pools_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/zeebo/assert"
)

const stablePoolID = "0x00000000000000000000000000000000000005ab"

func newStable(t testing.TB, fee *big.Int) *pools.StablePool {
	t.Helper()
	pool, err := pools.NewStablePool(meta(stablePoolID, fee), big.NewInt(200_000), units(tokenA, 2000), []pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1000)})
	assert.NoError(t, err)
	return pool
}

func TestStableSwapRoundTrip(t *testing.T) {
	pool := newStable(t, nil)
	x := amount(tokenA, 10)

	out, err := pool.SwapGivenIn(tokenA, tokenB, x, false)
	assert.NoError(t, err)
	// a balanced pool at amp 200 trades close to parity
	assert.True(t, out.Amount.Cmp(x.Amount) < 0)
	assert.True(t, closeTo(out.Amount, x.Amount, 1e4))

	back, err := pool.SwapGivenOut(tokenA, tokenB, out, false)
	assert.NoError(t, err)
	assert.True(t, closeTo(back.Amount, x.Amount, 1e12))
}

func TestStableMixedDecimals(t *testing.T) {
	pool, err := pools.NewStablePool(meta(stablePoolID, nil), big.NewInt(1_000_000), units(tokenA, 2_000_000), []pools.PoolToken{poolToken(usdc, 1_000_000), poolToken(tokenA, 1_000_000)})
	assert.NoError(t, err)

	out, err := pool.SwapGivenIn(usdc, tokenA, amount(usdc, 100), false)
	assert.NoError(t, err)
	assert.Equal(t, out.Token.Decimals, 18)
	assert.True(t, closeTo(out.Amount, units(tokenA, 100), 1e4))

	in, err := pool.SwapGivenOut(usdc, tokenA, out, false)
	assert.NoError(t, err)
	// rounding up to 6 decimals can only add
	assert.True(t, in.Amount.Cmp(units(usdc, 100)) >= 0)
	assert.True(t, closeTo(in.Amount, units(usdc, 100), 1e6))
}

func TestStableShareTokenJoinExit(t *testing.T) {
	pool := newStable(t, nil)
	bpt := pool.ShareToken()
	x := amount(tokenA, 10)

	minted, err := pool.SwapGivenIn(tokenA, bpt, x, true)
	assert.NoError(t, err)
	assert.True(t, minted.Token.Equal(bpt))
	assert.True(t, minted.Amount.Sign() > 0)
	assert.Equal(t, pool.TotalShares().String(), new(big.Int).Add(units(tokenA, 2000), minted.Amount).String())
	assert.Equal(t, balanceOf(pool, tokenA).String(), units(tokenA, 1010).String())

	exit, err := pool.SwapGivenIn(bpt, tokenA, minted, false)
	assert.NoError(t, err)
	assert.True(t, exit.Amount.Cmp(x.Amount) <= 0)
	assert.True(t, closeTo(exit.Amount, x.Amount, 1e12))

	burn, err := pool.SwapGivenOut(bpt, tokenA, exit, false)
	assert.NoError(t, err)
	assert.True(t, closeTo(burn.Amount, minted.Amount, 1e12))
}

func TestStableShareTokenExactOutJoin(t *testing.T) {
	pool := newStable(t, nil)
	bpt := pool.ShareToken()

	minted, err := pool.SwapGivenIn(tokenA, bpt, amount(tokenA, 10), false)
	assert.NoError(t, err)
	in, err := pool.SwapGivenOut(tokenA, bpt, minted, false)
	assert.NoError(t, err)
	assert.True(t, closeTo(in.Amount, units(tokenA, 10), 1e12))
}

func TestStableJoinFee(t *testing.T) {
	free := newStable(t, nil)
	charged := newStable(t, big18("10000000000000000"))

	a, err := free.SwapGivenIn(tokenA, free.ShareToken(), amount(tokenA, 10), false)
	assert.NoError(t, err)
	b, err := charged.SwapGivenIn(tokenA, charged.ShareToken(), amount(tokenA, 10), false)
	assert.NoError(t, err)
	assert.True(t, b.Amount.Cmp(a.Amount) < 0)
}

func TestStableLimits(t *testing.T) {
	pool := newStable(t, nil)

	limit, err := pool.LimitAmountSwap(tokenA, tokenB, tokens.GivenOut)
	assert.NoError(t, err)
	assert.Equal(t, limit.String(), units(tokenB, 990).String())

	join, err := pool.LimitAmountSwap(tokenA, pool.ShareToken(), tokens.GivenIn)
	assert.NoError(t, err)
	assert.Equal(t, join.String(), fixedpoint.MaxUint256.String())

	// supply * balance / total balances
	exit, err := pool.LimitAmountSwap(pool.ShareToken(), tokenA, tokens.GivenIn)
	assert.NoError(t, err)
	assert.Equal(t, exit.String(), units(tokenA, 1000).String())

	_, err = pool.SwapGivenOut(tokenA, tokenB, tokens.FromRawAmount(tokenB, new(big.Int).Add(limit, big.NewInt(1))), false)
	assert.True(t, errors.Is(err, pools.ErrSwapLimitExceeded))
}

func TestStableNormalizedLiquidity(t *testing.T) {
	pool := newStable(t, nil)
	liquidity, err := pool.NormalizedLiquidity(tokenA, tokenB)
	assert.NoError(t, err)
	assert.Equal(t, liquidity.String(), units(tokenB, 200_000).String())

	withPairs := meta(stablePoolID, nil)
	withPairs.TokenPairs = []pools.TokenPair{{TokenA: tokenA.Address, TokenB: tokenB.Address, NormalizedLiquidity: big.NewInt(42)}}
	pool, err = pools.NewStablePool(withPairs, big.NewInt(200_000), units(tokenA, 2000), []pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1000)})
	assert.NoError(t, err)
	liquidity, err = pool.NormalizedLiquidity(tokenA, tokenB)
	assert.NoError(t, err)
	assert.Equal(t, liquidity.Int64(), int64(42))
}

func TestStableCloneKeepsShares(t *testing.T) {
	pool := newStable(t, nil)
	clone := pool.Clone().(*pools.StablePool)
	_, err := clone.SwapGivenIn(tokenA, clone.ShareToken(), amount(tokenA, 1), true)
	assert.NoError(t, err)
	assert.Equal(t, pool.TotalShares().String(), units(tokenA, 2000).String())
	assert.True(t, clone.TotalShares().Cmp(pool.TotalShares()) > 0)
}

func TestStableRejectsZeroAmp(t *testing.T) {
	_, err := pools.NewStablePool(meta(stablePoolID, nil), big.NewInt(0), units(tokenA, 1), []pools.PoolToken{poolToken(tokenA, 1), poolToken(tokenB, 1)})
	assert.Error(t, err)
}
