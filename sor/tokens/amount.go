package tokens

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a human readable amount cannot be parsed.
var ErrInvalidAmount = errors.New("invalid token amount")

// TokenAmount is an amount of a token in both its native decimals (Amount) and
// the 18-decimal scale the pool math works in (Scale18).
type TokenAmount struct {
	Token   Token
	Amount  *big.Int
	Scale18 *big.Int
}

// Scalar returns 10^(18-decimals) for a token. Tokens with more than 18 decimals are not routable.
func Scalar(t Token) *big.Int {
	if t.Decimals >= 18 {
		return big.NewInt(1)
	}
	return fixedpoint.Pow10(18 - t.Decimals)
}

// FromRawAmount builds an amount from native units.
func FromRawAmount(t Token, raw *big.Int) TokenAmount {
	amount := fixedpoint.Copy(raw)
	return TokenAmount{
		Token:   t,
		Amount:  amount,
		Scale18: new(big.Int).Mul(amount, Scalar(t)),
	}
}

// FromScale18Amount builds an amount from an 18-decimal value, rounding the native amount down.
func FromScale18Amount(t Token, scale18 *big.Int) TokenAmount {
	raw := new(big.Int).Quo(scale18, Scalar(t))
	return FromRawAmount(t, raw)
}

// FromScale18AmountRoundUp builds an amount from an 18-decimal value, rounding the native amount up.
func FromScale18AmountRoundUp(t Token, scale18 *big.Int) TokenAmount {
	raw := fixedpoint.DivUpRaw(scale18, Scalar(t))
	return FromRawAmount(t, raw)
}

// FromHumanAmount parses a decimal string such as "1.25" into native units.
// Digits beyond the token's precision are truncated.
func FromHumanAmount(t Token, human string) (TokenAmount, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, human, err)
	}
	raw := d.Shift(int32(t.Decimals)).Truncate(0).BigInt()
	return FromRawAmount(t, raw), nil
}

// Human formats the native amount with the token's decimals, like formatUnits.
func (a TokenAmount) Human() string {
	if a.Amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(a.Amount, -int32(a.Token.Decimals)).String()
}

// Decimal returns the amount as a decimal in token units.
func (a TokenAmount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(fixedpoint.Copy(a.Amount), -int32(a.Token.Decimals))
}

// IsZero reports a zero amount.
func (a TokenAmount) IsZero() bool {
	return a.Amount == nil || a.Amount.Sign() == 0
}

// IsPositive reports a strictly positive amount.
func (a TokenAmount) IsPositive() bool {
	return a.Amount != nil && a.Amount.Sign() > 0
}

// FitsUint256 reports whether the amount can exist on chain.
func (a TokenAmount) FitsUint256() bool {
	if a.Amount == nil || a.Amount.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(a.Amount)
	return !overflow
}

// Add returns a + b. Both amounts must be of the same token.
func (a TokenAmount) Add(b TokenAmount) TokenAmount {
	return FromRawAmount(a.Token, new(big.Int).Add(a.Amount, b.Amount))
}

// Sub returns a - b. Both amounts must be of the same token.
func (a TokenAmount) Sub(b TokenAmount) TokenAmount {
	return FromRawAmount(a.Token, new(big.Int).Sub(a.Amount, b.Amount))
}

// DivDownFixed divides the 18-decimal value by other (18 decimals) and returns
// the result as an amount of the same token.
func (a TokenAmount) DivDownFixed(other *big.Int) TokenAmount {
	return FromScale18Amount(a.Token, fixedpoint.DivDown(a.Scale18, other))
}

// MulDownFixed multiplies the 18-decimal value by other (18 decimals).
func (a TokenAmount) MulDownFixed(other *big.Int) TokenAmount {
	return FromScale18Amount(a.Token, fixedpoint.MulDown(a.Scale18, other))
}

func (a TokenAmount) String() string {
	return a.Human() + " " + a.Token.String()
}
