package tokens

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAddress is the placeholder used by wallets and the API for a chain's native asset.
var NativeAddress = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// IsNativeAddress reports whether addr marks the native asset (zero address or 0xEeee...).
func IsNativeAddress(addr common.Address) bool {
	return addr == (common.Address{}) || addr == NativeAddress
}

// ParseAddress parses a hex address, rejecting anything that is not 20 bytes of hex.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Token is an immutable ERC-20 description. Two tokens are the same token when
// their addresses match; hex case is irrelevant because addresses are parsed bytes.
type Token struct {
	ChainID  int
	Address  common.Address
	Decimals int
	Symbol   string
	Name     string

	// wrapped is set for native assets and points at the wrapped ERC-20 used for routing
	wrapped common.Address
}

// NewToken returns an ERC-20 token.
func NewToken(chainID int, address common.Address, decimals int, symbol, name string) Token {
	return Token{
		ChainID:  chainID,
		Address:  address,
		Decimals: decimals,
		Symbol:   symbol,
		Name:     name,
	}
}

// NewNativeToken returns the native asset of a chain, routed through its wrapped form.
func NewNativeToken(chainID int, native, wrapped common.Address, decimals int, symbol, name string) Token {
	t := NewToken(chainID, native, decimals, symbol, name)
	t.wrapped = wrapped
	return t
}

// Wrapped returns the address used for pool lookups.
func (t Token) Wrapped() common.Address {
	if t.wrapped != (common.Address{}) {
		return t.wrapped
	}
	return t.Address
}

// IsNative reports whether the token is a native asset routed through a wrapper.
func (t Token) IsNative() bool {
	return t.wrapped != (common.Address{})
}

// Equal compares by address.
func (t Token) Equal(o Token) bool {
	return t.Address == o.Address
}

// SameAs compares the wrapped forms, so a native asset and its wrapper are the same for routing.
func (t Token) SameAs(o Token) bool {
	return t.Wrapped() == o.Wrapped()
}

// IsSameAddress compares the wrapped form with addr.
func (t Token) IsSameAddress(addr common.Address) bool {
	return t.Wrapped() == addr
}

// Hex returns the lower case hex address.
func (t Token) Hex() string {
	return strings.ToLower(t.Address.Hex())
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Hex()
}
