package pools_test

import (
	"math/big"
	"testing"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/assert"
)

var (
	tokenA = tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000aa"), 18, "AAA", "Token A")
	tokenB = tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000bb"), 18, "BBB", "Token B")
	tokenC = tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000cc"), 18, "CCC", "Token C")
	usdc   = tokens.NewToken(1, common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), 6, "USDC", "USD Coin")
	eurc   = tokens.NewToken(1, common.HexToAddress("0x1abaea1f7c830bd89acc67ec4af516284b1bc33c"), 6, "EURC", "Euro Coin")
)

func big18(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

// units returns n whole tokens in raw units.
func units(t tokens.Token, n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Pow10(t.Decimals))
}

func amount(t tokens.Token, n int64) tokens.TokenAmount {
	return tokens.FromRawAmount(t, units(t, n))
}

func poolToken(t tokens.Token, n int64) pools.PoolToken {
	return pools.PoolToken{Token: t, Balance: units(t, n), Rate: fixedpoint.WAD}
}

// closeTo reports |a-b| <= b/denominator.
func closeTo(a, b *big.Int, denominator int64) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(denominator))
	return diff.Cmp(new(big.Int).Abs(b)) <= 0
}

func meta(id string, fee *big.Int) pools.Meta {
	return pools.Meta{
		ID:      id,
		Address: common.HexToAddress(id),
		ChainID: 1,
		Version: 2,
		SwapFee: fee,
	}
}

func balanceOf(p pools.BasePool, t tokens.Token) *big.Int {
	for _, pt := range p.PoolTokens() {
		if pt.Token.Equal(t) {
			return pt.Balance
		}
	}
	return nil
}

func TestArenaForkIsIndependent(t *testing.T) {
	pool := newWeighted(t, "0x0000000000000000000000000000000000000001", "500000000000000000", "500000000000000000", 100, 100, nil)
	arena := pools.NewArena()
	arena.Add(pool)

	fork := arena.Fork()
	forked, ok := fork.Get(pool.ID())
	assert.True(t, ok)
	_, err := forked.SwapGivenIn(tokenA, tokenB, amount(tokenA, 1), true)
	assert.NoError(t, err)

	assert.Equal(t, balanceOf(pool, tokenA).String(), units(tokenA, 100).String())
	assert.Equal(t, balanceOf(forked, tokenA).String(), units(tokenA, 101).String())

	known, ok := arena.Token(tokenB.Address)
	assert.True(t, ok)
	assert.Equal(t, known.Symbol, "BBB")
	assert.Equal(t, len(arena.TokenList()), 2)
}

func TestArenaAddBuffers(t *testing.T) {
	wrapper := tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000dd"), 18, "waUSDC", "Wrapped aUSDC")
	boosted := poolToken(wrapper, 1000)
	boosted.ERC4626 = &pools.ERC4626Info{Underlying: usdc, UnwrapRate: big18("1100000000000000000")}
	pool, err := pools.NewStablePool(meta("0x0000000000000000000000000000000000000002", nil), big.NewInt(200_000), units(tokenA, 2000), []pools.PoolToken{boosted, poolToken(tokenA, 1000)})
	assert.NoError(t, err)

	arena := pools.NewArena()
	arena.Add(pool)
	added := arena.AddBuffers()
	assert.Equal(t, len(added), 1)
	assert.Equal(t, arena.Len(), 2)

	buffer, ok := arena.Get(wrapper.Address.Hex())
	assert.True(t, ok)
	assert.Equal(t, buffer.PoolType(), pools.TypeBuffer)

	// the underlying is registered even though no pool holds it directly
	_, ok = arena.Token(usdc.Address)
	assert.True(t, ok)

	assert.Equal(t, len(arena.AddBuffers()), 0)
}

func TestIsSupported(t *testing.T) {
	assert.True(t, pools.IsSupported("weighted"))
	assert.True(t, pools.IsSupported("GYROE"))
	assert.False(t, pools.IsSupported("ELEMENT"))
	assert.False(t, pools.IsSupported("BUFFER"))
}
