package tokens

import (
	"fmt"
	"strings"
)

// SwapKind tells which leg of a trade the bound amount describes.
type SwapKind int

const (
	GivenIn SwapKind = iota
	GivenOut
)

func (k SwapKind) String() string {
	if k == GivenOut {
		return "GivenOut"
	}
	return "GivenIn"
}

// SwapType returns the API spelling, EXACT_IN or EXACT_OUT.
func (k SwapKind) SwapType() string {
	if k == GivenOut {
		return "EXACT_OUT"
	}
	return "EXACT_IN"
}

// ParseSwapKind accepts EXACT_IN/EXACT_OUT as well as GivenIn/GivenOut.
func ParseSwapKind(s string) (SwapKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EXACT_IN", "GIVENIN", "GIVEN_IN":
		return GivenIn, nil
	case "EXACT_OUT", "GIVENOUT", "GIVEN_OUT":
		return GivenOut, nil
	}
	return GivenIn, fmt.Errorf("unknown swap type %q", s)
}
