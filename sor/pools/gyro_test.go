package pools_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/zeebo/assert"
)

const (
	sqrtPoint9       = "948683298050513799"
	sqrtOnePoint1    = "1048808848170151546"
	cubeRootPoint9   = "965489384605629757"
	cosPiOverFour    = "707106781186547524"
	gyroPoolAddress  = "0x0000000000000000000000000000000000006720"
	gyro3PoolAddress = "0x0000000000000000000000000000000000006730"
	gyroEPoolAddress = "0x00000000000000000000000000000000000067e0"
)

func gyroPools(t *testing.T) map[string]pools.BasePool {
	t.Helper()
	g2, err := pools.NewGyro2Pool(meta(gyroPoolAddress, nil), big18(sqrtPoint9), big18(sqrtOnePoint1),
		[]pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1000)})
	assert.NoError(t, err)

	g3, err := pools.NewGyro3Pool(meta(gyro3PoolAddress, nil), big18(cubeRootPoint9),
		[]pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1000), poolToken(tokenC, 1000)})
	assert.NoError(t, err)

	ge, err := pools.NewGyroEPool(meta(gyroEPoolAddress, nil), pools.GyroEParams{
		Alpha:  big18("970000000000000000"),
		Beta:   big18("1030000000000000000"),
		C:      big18(cosPiOverFour),
		S:      big18(cosPiOverFour),
		Lambda: big18("500000000000000000000"),
	}, []pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1000)})
	assert.NoError(t, err)

	return map[string]pools.BasePool{"gyro2": g2, "gyro3": g3, "gyroe": ge}
}

func TestGyroRoundTrip(t *testing.T) {
	for name, pool := range gyroPools(t) {
		t.Run(name, func(t *testing.T) {
			for _, dir := range [][2]tokens.Token{{tokenA, tokenB}, {tokenB, tokenA}} {
				x := amount(dir[0], 10)
				out, err := pool.SwapGivenIn(dir[0], dir[1], x, false)
				assert.NoError(t, err)
				assert.True(t, out.Amount.Sign() > 0)
				// concentrated around parity: less than 1% from the input
				assert.True(t, closeTo(out.Amount, x.Amount, 100))

				back, err := pool.SwapGivenOut(dir[0], dir[1], out, false)
				assert.NoError(t, err)
				assert.True(t, closeTo(back.Amount, x.Amount, 1e12))
			}
		})
	}
}

func TestGyroLimits(t *testing.T) {
	for name, pool := range gyroPools(t) {
		t.Run(name, func(t *testing.T) {
			outLimit, err := pool.LimitAmountSwap(tokenA, tokenB, tokens.GivenOut)
			assert.NoError(t, err)
			assert.Equal(t, outLimit.String(), units(tokenB, 999).String())

			inLimit, err := pool.LimitAmountSwap(tokenA, tokenB, tokens.GivenIn)
			assert.NoError(t, err)
			assert.True(t, inLimit.Sign() > 0)

			_, err = pool.SwapGivenOut(tokenA, tokenB, tokens.FromRawAmount(tokenB, new(big.Int).Add(outLimit, big.NewInt(1))), false)
			assert.True(t, errors.Is(err, pools.ErrSwapLimitExceeded))

			liquidity, err := pool.NormalizedLiquidity(tokenA, tokenB)
			assert.NoError(t, err)
			assert.True(t, liquidity.Cmp(units(tokenB, 500)) >= 0)
		})
	}
}

func TestGyroLiquidityMatchesSpotPrice(t *testing.T) {
	g2, err := pools.NewGyro2Pool(meta(gyroPoolAddress, nil), big18(sqrtPoint9), big18(sqrtOnePoint1),
		[]pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1500)})
	assert.NoError(t, err)
	g3, err := pools.NewGyro3Pool(meta(gyro3PoolAddress, nil), big18(cubeRootPoint9),
		[]pools.PoolToken{poolToken(tokenA, 1000), poolToken(tokenB, 1500), poolToken(tokenC, 1000)})
	assert.NoError(t, err)

	for name, pool := range map[string]pools.BasePool{"gyro2": g2, "gyro3": g3} {
		t.Run(name, func(t *testing.T) {
			// equal implicit weights: liquidity(in, out) is half the virtual out balance,
			// so the ratio of both directions is the spot price
			toB, err := pool.NormalizedLiquidity(tokenA, tokenB)
			assert.NoError(t, err)
			toA, err := pool.NormalizedLiquidity(tokenB, tokenA)
			assert.NoError(t, err)
			assert.True(t, toB.Cmp(toA) > 0)

			out, err := pool.SwapGivenIn(tokenA, tokenB, amount(tokenA, 1), false)
			assert.NoError(t, err)
			spot := new(big.Int).Quo(new(big.Int).Mul(units(tokenB, 1), toB), toA)
			assert.True(t, closeTo(out.Amount, spot, 100))
		})
	}
}

func TestGyroMutateMovesBalances(t *testing.T) {
	pool := gyroPools(t)["gyroe"]
	fork := pool.Clone()

	first, err := fork.SwapGivenIn(tokenA, tokenB, amount(tokenA, 100), true)
	assert.NoError(t, err)
	second, err := fork.SwapGivenIn(tokenA, tokenB, amount(tokenA, 100), false)
	assert.NoError(t, err)
	assert.True(t, second.Amount.Cmp(first.Amount) < 0)

	assert.Equal(t, balanceOf(pool, tokenA).String(), units(tokenA, 1000).String())
}

func TestGyroParameterValidation(t *testing.T) {
	_, err := pools.NewGyro2Pool(meta(gyroPoolAddress, nil), big18(sqrtOnePoint1), big18(sqrtPoint9),
		[]pools.PoolToken{poolToken(tokenA, 1), poolToken(tokenB, 1)})
	assert.Error(t, err)

	_, err = pools.NewGyroEPool(meta(gyroEPoolAddress, nil), pools.GyroEParams{
		Alpha:  big18("970000000000000000"),
		Beta:   big18("1030000000000000000"),
		C:      big18("900000000000000000"),
		S:      big18("900000000000000000"),
		Lambda: big18("500000000000000000000"),
	}, []pools.PoolToken{poolToken(tokenA, 1), poolToken(tokenB, 1)})
	assert.Error(t, err)
}
