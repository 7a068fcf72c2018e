package router

import (
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/Cogwheel-Validator/spectra-sor/sor/paths"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

// Selector binds the swap amount to candidate paths. The candidates reference
// the pools of arena; every mutating trial runs on a fork of it.
type Selector struct {
	arena *pools.Arena
}

func NewSelector(arena *pools.Arena) *Selector {
	return &Selector{arena: arena}
}

// BestPaths picks one path, an even split over two, or a greedy fill over
// several, whichever can take swapAmount with the best result.
func (s *Selector) BestPaths(candidates []*paths.Path, kind tokens.SwapKind, swapAmount tokens.TokenAmount) ([]*paths.PathWithAmount, error) {
	if len(candidates) == 0 {
		return nil, ErrNoRouteFound
	}

	var viable []*paths.PathWithAmount
	for _, c := range candidates {
		pwa, err := paths.NewWithAmount(c, swapAmount, false)
		if err != nil {
			logCandidateErr(c, err)
			continue
		}
		if pwa.SwapKind() != kind {
			return nil, fmt.Errorf("%w: swap amount token %s does not match %s", ErrNoRouteFound, swapAmount.Token.Hex(), kind)
		}
		viable = append(viable, pwa)
	}

	if len(viable) == 0 {
		routerLog.Debug().Int("candidates", len(candidates)).Msg("No single path takes the full amount, filling greedily")
		return s.greedy(candidates, kind, swapAmount)
	}

	slices.SortStableFunc(viable, func(a, b *paths.PathWithAmount) int {
		return compareResult(kind, a, b)
	})
	best := viable[0]
	if len(viable) == 1 {
		return []*paths.PathWithAmount{best}, nil
	}

	split, err := s.split(viable[0].Path, viable[1].Path, swapAmount)
	if err != nil {
		routerLog.Debug().Err(err).Msg("Split rejected")
		return []*paths.PathWithAmount{best}, nil
	}
	if better(kind, aggregate(kind, split), result(kind, best)) {
		routerLog.Debug().Str("single", result(kind, best).String()).Str("split", aggregate(kind, split).String()).Msg("Split wins")
		return split, nil
	}
	return []*paths.PathWithAmount{best}, nil
}

// split routes half of the amount through each path on a fork, so the second
// half sees pools the first half already moved.
func (s *Selector) split(first, second *paths.Path, swapAmount tokens.TokenAmount) ([]*paths.PathWithAmount, error) {
	half := new(big.Int).Rsh(swapAmount.Amount, 1)
	if half.Sign() == 0 {
		return nil, fmt.Errorf("amount %s too small to split", swapAmount.Amount)
	}
	rest := new(big.Int).Sub(swapAmount.Amount, half)

	fork := s.arena.Fork()
	out := make([]*paths.PathWithAmount, 0, 2)
	for i, p := range []*paths.Path{first, second} {
		bound, err := p.Rebind(fork)
		if err != nil {
			return nil, err
		}
		amount := half
		if i == 1 {
			amount = rest
		}
		pwa, err := paths.NewWithAmount(bound, tokens.FromRawAmount(swapAmount.Token, amount), true)
		if err != nil {
			return nil, err
		}
		out = append(out, pwa)
	}
	return out, nil
}

// greedy fills the amount over the candidates in liquidity order, each taking
// as much as it can on the balances left by the previous ones.
func (s *Selector) greedy(candidates []*paths.Path, kind tokens.SwapKind, swapAmount tokens.TokenAmount) ([]*paths.PathWithAmount, error) {
	fork := s.arena.Fork()
	remaining := new(big.Int).Set(swapAmount.Amount)
	var out []*paths.PathWithAmount

	for _, c := range candidates {
		if remaining.Sign() == 0 {
			break
		}
		bound, err := c.Rebind(fork)
		if err != nil {
			return nil, err
		}
		limit := PathLimit(bound, kind)
		if limit.Sign() <= 0 {
			continue
		}
		take := new(big.Int).Set(remaining)
		if limit.Cmp(take) < 0 {
			take.Set(limit)
		}

		pwa, err := paths.NewWithAmount(bound, tokens.FromRawAmount(swapAmount.Token, take), true)
		if err != nil {
			// limits are computed on rounded values, back off slightly
			take = take.Mul(take, big.NewInt(999)).Quo(take, big.NewInt(1000))
			if take.Sign() == 0 {
				continue
			}
			pwa, err = paths.NewWithAmount(bound, tokens.FromRawAmount(swapAmount.Token, take), true)
			if err != nil {
				logCandidateErr(c, err)
				continue
			}
		}
		routerLog.Debug().Str("path", c.Key()).Str("take", take.String()).Str("limit", limit.String()).Msg("Greedy fill")
		out = append(out, pwa)
		remaining.Sub(remaining, take)
	}

	if remaining.Sign() > 0 {
		return nil, fmt.Errorf("%w: %s of %s %s left unfilled", ErrInsufficientLiquidity, remaining, swapAmount.Amount, swapAmount.Token.Hex())
	}
	return out, nil
}

// PathLimit returns the largest swap amount the path accepts, in raw units of
// the given token: the first hop's limit and every later hop's limit translated
// back through the hops before it. GivenOut works from the last hop forward.
// Hops whose translated limit cannot be reached do not bind.
func PathLimit(p *paths.Path, kind tokens.SwapKind) *big.Int {
	n := p.Hops()
	if kind == tokens.GivenIn {
		limit, err := p.Pool(0).LimitAmountSwap(p.Token(0), p.Token(1), tokens.GivenIn)
		if err != nil {
			return new(big.Int)
		}
		for i := 1; i < n; i++ {
			hop, err := p.Pool(i).LimitAmountSwap(p.Token(i), p.Token(i+1), tokens.GivenIn)
			if err != nil {
				return new(big.Int)
			}
			amount := tokens.FromRawAmount(p.Token(i), hop)
			reachable := true
			for j := i - 1; j >= 0; j-- {
				amount, err = p.Pool(j).SwapGivenOut(p.Token(j), p.Token(j+1), amount, false)
				if err != nil {
					reachable = false
					break
				}
			}
			if reachable && amount.Amount.Cmp(limit) < 0 {
				limit = amount.Amount
			}
		}
		return limit
	}

	limit, err := p.Pool(n-1).LimitAmountSwap(p.Token(n-1), p.Token(n), tokens.GivenOut)
	if err != nil {
		return new(big.Int)
	}
	for i := n - 2; i >= 0; i-- {
		hop, err := p.Pool(i).LimitAmountSwap(p.Token(i), p.Token(i+1), tokens.GivenOut)
		if err != nil {
			return new(big.Int)
		}
		amount := tokens.FromRawAmount(p.Token(i+1), hop)
		reachable := true
		for j := i + 1; j < n; j++ {
			amount, err = p.Pool(j).SwapGivenIn(p.Token(j), p.Token(j+1), amount, false)
			if err != nil {
				reachable = false
				break
			}
		}
		if reachable && amount.Amount.Cmp(limit) < 0 {
			limit = amount.Amount
		}
	}
	return limit
}

func logCandidateErr(p *paths.Path, err error) {
	if errors.Is(err, pools.ErrTokenNotInPool) {
		routerLog.Error().Err(err).Str("path", p.Key()).Msg("Graph edge references a token its pool does not hold")
		return
	}
	routerLog.Debug().Err(err).Str("path", p.Key()).Msg("Candidate rejected")
}

// result is what the trader cares about: the output for GivenIn, the input for GivenOut.
func result(kind tokens.SwapKind, pwa *paths.PathWithAmount) *big.Int {
	if kind == tokens.GivenIn {
		return pwa.OutputAmount().Amount
	}
	return pwa.InputAmount().Amount
}

func aggregate(kind tokens.SwapKind, pwas []*paths.PathWithAmount) *big.Int {
	total := new(big.Int)
	for _, p := range pwas {
		total.Add(total, result(kind, p))
	}
	return total
}

// better reports whether a is a strictly better result than b.
func better(kind tokens.SwapKind, a, b *big.Int) bool {
	if kind == tokens.GivenIn {
		return a.Cmp(b) > 0
	}
	return a.Cmp(b) < 0
}

func compareResult(kind tokens.SwapKind, a, b *paths.PathWithAmount) int {
	c := result(kind, a).Cmp(result(kind, b))
	if kind == tokens.GivenIn {
		return -c
	}
	return c
}
