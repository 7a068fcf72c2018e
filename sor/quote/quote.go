// Package quote renders selected paths into the API response.
package quote

import (
	"github.com/Cogwheel-Validator/spectra-sor/sor/models"
	"github.com/Cogwheel-Validator/spectra-sor/sor/paths"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/shopspring/decimal"
)

// PriceImpactUnavailable is reported in place of the price impact when the round trip trade fails.
const PriceImpactUnavailable = "Price impact could not be calculated for this path. The swap path is still valid and can be executed."

// DefaultUserData is the empty userData of a vault swap step.
const DefaultUserData = "0x"

// Input is everything Assemble needs besides the paths themselves.
type Input struct {
	Chain           string
	ProtocolVersion int
	SwapKind        tokens.SwapKind
	// TokenIn and TokenOut are the tokens as requested, so a native asset is
	// reported as such even though the paths trade its wrapped form.
	TokenIn  tokens.Token
	TokenOut tokens.Token
	Paths    []*paths.PathWithAmount

	PriceImpact    decimal.Decimal
	PriceImpactErr error
}

// Assemble builds the quote for a non empty set of paths.
func Assemble(in Input) models.Quote {
	inputAmount := in.Paths[0].InputAmount()
	outputAmount := in.Paths[0].OutputAmount()
	for _, p := range in.Paths[1:] {
		inputAmount = inputAmount.Add(p.InputAmount())
		outputAmount = outputAmount.Add(p.OutputAmount())
	}
	swapAmount, returnAmount := inputAmount, outputAmount
	if in.SwapKind == tokens.GivenOut {
		swapAmount, returnAmount = outputAmount, inputAmount
	}

	q := models.Quote{
		Chain:                  in.Chain,
		ProtocolVersion:        in.ProtocolVersion,
		VaultVersion:           in.ProtocolVersion,
		SwapType:               in.SwapKind.SwapType(),
		TokenIn:                reported(in.TokenIn, inputAmount.Token),
		TokenOut:               reported(in.TokenOut, outputAmount.Token),
		TokenInAmount:          inputAmount.Amount.String(),
		TokenOutAmount:         outputAmount.Amount.String(),
		SwapAmount:             swapAmount.Human(),
		SwapAmountRaw:          swapAmount.Amount.String(),
		ReturnAmount:           returnAmount.Human(),
		ReturnAmountRaw:        returnAmount.Amount.String(),
		EffectivePrice:         price(inputAmount, outputAmount),
		EffectivePriceReversed: price(outputAmount, inputAmount),
		TokenAddresses:         tokenAddresses(in.Paths),
	}

	for _, p := range in.Paths {
		q.Paths = append(q.Paths, sorPath(p, in.ProtocolVersion))
		q.Routes = append(q.Routes, route(p, swapAmount))
	}
	q.Swaps = swaps(in.Paths, in.SwapKind, q.TokenAddresses)

	if in.PriceImpactErr != nil {
		q.PriceImpact.Error = PriceImpactUnavailable
	} else {
		q.PriceImpact.PriceImpact = in.PriceImpact.StringFixed(4)
	}
	return q
}

// Zero is the well formed empty quote returned when no route exists.
func Zero(chain string, protocolVersion int, kind tokens.SwapKind, tokenIn, tokenOut tokens.Token) models.Quote {
	return models.Quote{
		Chain:                  chain,
		ProtocolVersion:        protocolVersion,
		VaultVersion:           protocolVersion,
		SwapType:               kind.SwapType(),
		TokenIn:                tokenIn.Hex(),
		TokenOut:               tokenOut.Hex(),
		TokenInAmount:          "0",
		TokenOutAmount:         "0",
		SwapAmount:             "0",
		SwapAmountRaw:          "0",
		ReturnAmount:           "0",
		ReturnAmountRaw:        "0",
		EffectivePrice:         "0",
		EffectivePriceReversed: "0",
		Paths:                  []models.SorPath{},
		Routes:                 []models.SwapRoute{},
		Swaps:                  []models.BatchSwapStep{},
		TokenAddresses:         []string{},
		PriceImpact:            models.PriceImpact{PriceImpact: "0"},
	}
}

func reported(requested, traded tokens.Token) string {
	if requested.IsNative() {
		return requested.Hex()
	}
	return traded.Hex()
}

// price formats num / den at 18 decimals in the numerator token.
func price(num, den tokens.TokenAmount) string {
	if den.IsZero() {
		return "Infinity"
	}
	return num.DivDownFixed(den.Scale18).Human()
}

func tokenAddresses(ps []*paths.PathWithAmount) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range ps {
		for _, t := range p.Tokens() {
			if !seen[t.Hex()] {
				seen[t.Hex()] = true
				out = append(out, t.Hex())
			}
		}
	}
	return out
}

func sorPath(p *paths.PathWithAmount, version int) models.SorPath {
	sp := models.SorPath{
		ProtocolVersion: version,
		VaultVersion:    version,
		InputAmountRaw:  p.InputAmount().Amount.String(),
		OutputAmountRaw: p.OutputAmount().Amount.String(),
		IsBuffer:        p.IsBuffer(),
	}
	for _, t := range p.Tokens() {
		sp.Tokens = append(sp.Tokens, models.PathToken{Address: t.Hex(), Decimals: t.Decimals})
	}
	for _, pool := range p.Pools() {
		sp.Pools = append(sp.Pools, pool.ID())
	}
	return sp
}

func route(p *paths.PathWithAmount, total tokens.TokenAmount) models.SwapRoute {
	amounts := p.Amounts()
	r := models.SwapRoute{
		TokenIn:        p.TokenIn().Hex(),
		TokenOut:       p.TokenOut().Hex(),
		TokenInAmount:  p.InputAmount().Human(),
		TokenOutAmount: p.OutputAmount().Human(),
		Share:          "1",
	}
	if !total.IsZero() {
		r.Share = p.SwapAmount().Decimal().DivRound(total.Decimal(), 18).String()
	}
	for i := range p.Hops() {
		r.Hops = append(r.Hops, models.RouteHop{
			PoolID:         p.Pool(i).ID(),
			TokenIn:        p.Token(i).Hex(),
			TokenOut:       p.Token(i + 1).Hex(),
			TokenInAmount:  amounts[i].Human(),
			TokenOutAmount: amounts[i+1].Human(),
			IsBuffer:       p.BufferHop(i),
		})
	}
	return r
}

// swaps lays the paths out as vault batch swap steps. Only the first step of a
// path carries an amount; GivenOut steps run from the last hop backwards.
func swaps(ps []*paths.PathWithAmount, kind tokens.SwapKind, assets []string) []models.BatchSwapStep {
	index := make(map[string]int, len(assets))
	for i, a := range assets {
		index[a] = i
	}

	var out []models.BatchSwapStep
	for _, p := range ps {
		n := p.Hops()
		for step := range n {
			hop, amount := step, p.InputAmount().Amount.String()
			if kind == tokens.GivenOut {
				hop, amount = n-1-step, p.OutputAmount().Amount.String()
			}
			if step > 0 {
				amount = "0"
			}
			out = append(out, models.BatchSwapStep{
				PoolID:        p.Pool(hop).ID(),
				AssetInIndex:  index[p.Token(hop).Hex()],
				AssetOutIndex: index[p.Token(hop+1).Hex()],
				Amount:        amount,
				UserData:      DefaultUserData,
			})
		}
	}
	return out
}
