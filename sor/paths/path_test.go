package paths_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/paths"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/assert"
)

var (
	tokenA = tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000aa"), 18, "AAA", "Token A")
	tokenB = tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000bb"), 18, "BBB", "Token B")
	tokenC = tokens.NewToken(1, common.HexToAddress("0x00000000000000000000000000000000000000cc"), 6, "CCC", "Token C")
	half   = new(big.Int).Div(fixedpoint.WAD, big.NewInt(2))
)

func units(t tokens.Token, n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedpoint.Pow10(t.Decimals))
}

func amount(t tokens.Token, n int64) tokens.TokenAmount {
	return tokens.FromRawAmount(t, units(t, n))
}

func weighted(t *testing.T, id string, x, y tokens.Token, balX, balY int64) pools.BasePool {
	t.Helper()
	pool, err := pools.NewWeightedPool(pools.Meta{ID: id, Address: common.HexToAddress(id), ChainID: 1, Version: 2, Type: pools.TypeWeighted},
		[]pools.PoolToken{
			{Token: x, Balance: units(x, balX), Rate: fixedpoint.WAD, Weight: half},
			{Token: y, Balance: units(y, balY), Rate: fixedpoint.WAD, Weight: half},
		})
	assert.NoError(t, err)
	return pool
}

func balanceOf(p pools.BasePool, tok tokens.Token) *big.Int {
	for _, pt := range p.PoolTokens() {
		if pt.Token.Equal(tok) {
			return pt.Balance
		}
	}
	return nil
}

func twoHop(t *testing.T, balBC int64) (*paths.Path, pools.BasePool, pools.BasePool) {
	t.Helper()
	ab := weighted(t, "0x0000000000000000000000000000000000000a0b", tokenA, tokenB, 100, 100)
	bc := weighted(t, "0x0000000000000000000000000000000000000b0c", tokenB, tokenC, balBC, balBC)
	path, err := paths.New([]tokens.Token{tokenA, tokenB, tokenC}, []pools.BasePool{ab, bc}, []bool{false, false})
	assert.NoError(t, err)
	return path, ab, bc
}

func TestNewValidatesShape(t *testing.T) {
	pool := weighted(t, "0x0000000000000000000000000000000000000a0b", tokenA, tokenB, 100, 100)

	tests := []struct {
		name     string
		toks     []tokens.Token
		ps       []pools.BasePool
		isBuffer []bool
		valid    bool
	}{
		{"single hop", []tokens.Token{tokenA, tokenB}, []pools.BasePool{pool}, []bool{false}, true},
		{"no pools", []tokens.Token{tokenA, tokenB}, nil, nil, false},
		{"one token", []tokens.Token{tokenA}, []pools.BasePool{pool}, []bool{false}, false},
		{"token count mismatch", []tokens.Token{tokenA, tokenB, tokenC}, []pools.BasePool{pool}, []bool{false}, false},
		{"buffer flags mismatch", []tokens.Token{tokenA, tokenB}, []pools.BasePool{pool}, []bool{false, true}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := paths.New(tc.toks, tc.ps, tc.isBuffer)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, paths.ErrInvalidPath))
		})
	}
}

func TestSwapKindFollowsAmountToken(t *testing.T) {
	path, _, _ := twoHop(t, 1000)

	in, err := paths.NewWithAmount(path, amount(tokenA, 1), false)
	assert.NoError(t, err)
	assert.Equal(t, in.SwapKind(), tokens.GivenIn)
	assert.Equal(t, in.InputAmount().Amount.String(), units(tokenA, 1).String())
	assert.True(t, in.OutputAmount().Token.Equal(tokenC))
	assert.Equal(t, len(in.Amounts()), 3)

	out, err := paths.NewWithAmount(path, amount(tokenC, 1), false)
	assert.NoError(t, err)
	assert.Equal(t, out.SwapKind(), tokens.GivenOut)
	assert.Equal(t, out.OutputAmount().Amount.String(), units(tokenC, 1).String())
	assert.True(t, out.InputAmount().Token.Equal(tokenA))
	assert.True(t, out.InputAmount().Amount.Cmp(units(tokenA, 1)) > 0)

	// intermediate amounts line up hop by hop
	amounts := in.Amounts()
	assert.True(t, amounts[1].Token.Equal(tokenB))
	assert.True(t, amounts[1].Amount.Cmp(amounts[0].Amount) < 0)
}

func TestSimulateLeavesPoolsUntouched(t *testing.T) {
	path, ab, bc := twoHop(t, 1000)

	first, err := paths.NewWithAmount(path, amount(tokenA, 5), false)
	assert.NoError(t, err)
	second, err := paths.NewWithAmount(path, amount(tokenA, 5), false)
	assert.NoError(t, err)

	assert.Equal(t, first.OutputAmount().Amount.String(), second.OutputAmount().Amount.String())
	assert.Equal(t, balanceOf(ab, tokenA).String(), units(tokenA, 100).String())
	assert.Equal(t, balanceOf(bc, tokenB).String(), units(tokenB, 1000).String())
}

func TestMutateMovesBalances(t *testing.T) {
	path, ab, bc := twoHop(t, 1000)

	first, err := paths.NewWithAmount(path, amount(tokenA, 5), true)
	assert.NoError(t, err)
	assert.Equal(t, balanceOf(ab, tokenA).String(), units(tokenA, 105).String())
	mid := first.Amounts()[1].Amount
	assert.Equal(t, balanceOf(bc, tokenB).String(), new(big.Int).Add(units(tokenB, 1000), mid).String())

	second, err := paths.NewWithAmount(path, amount(tokenA, 5), false)
	assert.NoError(t, err)
	assert.True(t, second.OutputAmount().Amount.Cmp(first.OutputAmount().Amount) < 0)
}

func TestFailedHopDoesNotMutate(t *testing.T) {
	// the first hop can take 20 A but the second pool only accepts 3 B
	path, ab, bc := twoHop(t, 10)

	_, err := paths.NewWithAmount(path, amount(tokenA, 20), true)
	assert.True(t, errors.Is(err, paths.ErrInvalidPath))
	assert.True(t, errors.Is(err, pools.ErrSwapLimitExceeded))

	assert.Equal(t, balanceOf(ab, tokenA).String(), units(tokenA, 100).String())
	assert.Equal(t, balanceOf(ab, tokenB).String(), units(tokenB, 100).String())
	assert.Equal(t, balanceOf(bc, tokenB).String(), units(tokenB, 10).String())
}

func TestReversedAndRebind(t *testing.T) {
	path, ab, _ := twoHop(t, 1000)

	rev := path.Reversed()
	assert.True(t, rev.TokenIn().Equal(tokenC))
	assert.True(t, rev.TokenOut().Equal(tokenA))
	assert.Equal(t, rev.Pool(0).ID(), "0x0000000000000000000000000000000000000b0c")
	assert.Equal(t, path.Key(), "0x0000000000000000000000000000000000000a0b,0x0000000000000000000000000000000000000b0c")

	arena := pools.NewArena()
	for _, p := range path.Pools() {
		arena.Add(p)
	}
	fork := arena.Fork()
	bound, err := path.Rebind(fork)
	assert.NoError(t, err)

	_, err = paths.NewWithAmount(bound, amount(tokenA, 5), true)
	assert.NoError(t, err)
	assert.Equal(t, balanceOf(ab, tokenA).String(), units(tokenA, 100).String())
	assert.Equal(t, balanceOf(bound.Pool(0), tokenA).String(), units(tokenA, 105).String())

	_, err = path.Rebind(pools.NewArena())
	assert.True(t, errors.Is(err, paths.ErrInvalidPath))
}
