package fixedpoint_test

import (
	"math/big"
	"testing"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/zeebo/assert"
)

func wad(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}

// withinRel reports whether |a-b| <= b / denominator.
func withinRel(a, b *big.Int, denominator int64) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(denominator))
	return diff.Cmp(new(big.Int).Abs(b)) <= 0
}

func TestMulDivRounding(t *testing.T) {
	third := fixedpoint.DivDown(fixedpoint.WAD, fixedpoint.FromWAD(3))
	assert.Equal(t, third.String(), "333333333333333333")
	assert.Equal(t, fixedpoint.DivUp(fixedpoint.WAD, fixedpoint.FromWAD(3)).String(), "333333333333333334")

	a := wad("1500000000000000001")
	b := wad("2000000000000000000")
	assert.Equal(t, fixedpoint.MulDown(a, b).String(), "3000000000000000002")
	assert.Equal(t, fixedpoint.MulUp(wad("1"), wad("1")).String(), "1")
	assert.Equal(t, fixedpoint.MulDown(wad("1"), wad("1")).String(), "0")

	assert.Equal(t, fixedpoint.DivUpRaw(big.NewInt(7), big.NewInt(2)).String(), "4")
	assert.Equal(t, fixedpoint.DivUpRaw(big.NewInt(0), big.NewInt(2)).String(), "0")
}

func TestComplement(t *testing.T) {
	assert.Equal(t, fixedpoint.Complement(wad("300000000000000000")).String(), "700000000000000000")
	assert.Equal(t, fixedpoint.Complement(fixedpoint.FromWAD(2)).Sign(), 0)
}

func TestSqrtAndCbrt(t *testing.T) {
	assert.Equal(t, fixedpoint.Sqrt(fixedpoint.FromWAD(4)).String(), fixedpoint.FromWAD(2).String())
	assert.Equal(t, fixedpoint.Cbrt(fixedpoint.FromWAD(27)).String(), fixedpoint.FromWAD(3).String())
	assert.Equal(t, fixedpoint.CbrtUp(fixedpoint.FromWAD(27)).String(), fixedpoint.FromWAD(3).String())

	// sqrt(2) = 1.414213562373095048...
	assert.Equal(t, fixedpoint.Sqrt(fixedpoint.FromWAD(2)).String(), "1414213562373095048")
	assert.Equal(t, fixedpoint.SqrtUp(fixedpoint.FromWAD(2)).String(), "1414213562373095049")
}

func TestPow(t *testing.T) {
	tests := []struct {
		name     string
		x, y     *big.Int
		expected *big.Int
	}{
		{"square root of two", fixedpoint.FromWAD(2), wad("500000000000000000"), wad("1414213562373095048")},
		{"two cubed", fixedpoint.FromWAD(2), fixedpoint.FromWAD(3), fixedpoint.FromWAD(8)},
		{"fraction power", wad("500000000000000000"), fixedpoint.FromWAD(3), wad("125000000000000000")},
		{"zero exponent", fixedpoint.FromWAD(7), big.NewInt(0), fixedpoint.WAD},
		// 0.9^(1/3) = 0.965489384605629...
		{"cube root of 0.9", wad("900000000000000000"), wad("333333333333333333"), wad("965489384605629757")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fixedpoint.Pow(tc.x, tc.y)
			assert.NoError(t, err)
			assert.True(t, withinRel(got, tc.expected, 1e15))

			up, err := fixedpoint.PowUp(tc.x, tc.y)
			assert.NoError(t, err)
			down, err := fixedpoint.PowDown(tc.x, tc.y)
			assert.NoError(t, err)
			assert.True(t, up.Cmp(got) >= 0)
			assert.True(t, down.Cmp(got) <= 0)
		})
	}
}

func TestPowNegativeBase(t *testing.T) {
	_, err := fixedpoint.Pow(big.NewInt(-1), fixedpoint.WAD)
	assert.Error(t, err)
}

func BenchmarkPow(b *testing.B) {
	x := wad("833333333333333333")
	y := wad("1500000000000000000")
	for b.Loop() {
		_, _ = fixedpoint.Pow(x, y)
	}
}
