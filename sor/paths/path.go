// Package paths binds a sequence of pools to a swap amount.
package paths

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
)

// ErrInvalidPath is returned for malformed paths and for amounts a hop cannot take.
var ErrInvalidPath = errors.New("invalid path")

// Path is an ordered route tokens[0] -pools[0]-> tokens[1] ... -> tokens[n].
// isBuffer[i] marks hop i as an ERC4626 wrap or unwrap.
type Path struct {
	tokens   []tokens.Token
	pools    []pools.BasePool
	isBuffer []bool
}

// New validates the shape of a path.
func New(toks []tokens.Token, ps []pools.BasePool, isBuffer []bool) (*Path, error) {
	switch {
	case len(ps) == 0 || len(toks) < 2:
		return nil, fmt.Errorf("%w: must contain at least 1 pool and 2 tokens", ErrInvalidPath)
	case len(toks) != len(ps)+1:
		return nil, fmt.Errorf("%w: tokens length must equal pools length + 1", ErrInvalidPath)
	case len(isBuffer) != len(ps):
		return nil, fmt.Errorf("%w: isBuffer length must equal pools length", ErrInvalidPath)
	}
	return &Path{
		tokens:   append([]tokens.Token(nil), toks...),
		pools:    append([]pools.BasePool(nil), ps...),
		isBuffer: append([]bool(nil), isBuffer...),
	}, nil
}

func (p *Path) Tokens() []tokens.Token { return append([]tokens.Token(nil), p.tokens...) }
func (p *Path) Pools() []pools.BasePool { return append([]pools.BasePool(nil), p.pools...) }
func (p *Path) IsBuffer() []bool { return append([]bool(nil), p.isBuffer...) }
func (p *Path) Hops() int { return len(p.pools) }
func (p *Path) TokenIn() tokens.Token { return p.tokens[0] }
func (p *Path) TokenOut() tokens.Token { return p.tokens[len(p.tokens)-1] }
func (p *Path) Pool(i int) pools.BasePool { return p.pools[i] }
func (p *Path) Token(i int) tokens.Token { return p.tokens[i] }
func (p *Path) BufferHop(i int) bool { return p.isBuffer[i] }

// Key is the pool id sequence, used for tie breaking and deduplication.
func (p *Path) Key() string {
	ids := make([]string, len(p.pools))
	for i, pool := range p.pools {
		ids[i] = pool.ID()
	}
	return strings.Join(ids, ",")
}

// Reversed returns the same hops walked from tokenOut back to tokenIn.
func (p *Path) Reversed() *Path {
	r := &Path{
		tokens:   make([]tokens.Token, len(p.tokens)),
		pools:    make([]pools.BasePool, len(p.pools)),
		isBuffer: make([]bool, len(p.isBuffer)),
	}
	for i, t := range p.tokens {
		r.tokens[len(p.tokens)-1-i] = t
	}
	for i := range p.pools {
		r.pools[len(p.pools)-1-i] = p.pools[i]
		r.isBuffer[len(p.pools)-1-i] = p.isBuffer[i]
	}
	return r
}

// Rebind returns a copy of the path whose pools are the arena's copies.
func (p *Path) Rebind(arena *pools.Arena) (*Path, error) {
	r := &Path{
		tokens:   p.tokens,
		pools:    make([]pools.BasePool, len(p.pools)),
		isBuffer: p.isBuffer,
	}
	for i, pool := range p.pools {
		bound, ok := arena.Get(pool.ID())
		if !ok {
			return nil, fmt.Errorf("%w: pool %s is not in the arena", ErrInvalidPath, pool.ID())
		}
		r.pools[i] = bound
	}
	return r, nil
}

func (p *Path) String() string {
	var sb strings.Builder
	sb.WriteString(p.tokens[0].String())
	for i, pool := range p.pools {
		fmt.Fprintf(&sb, " -[%s]-> %s", pool.ID(), p.tokens[i+1].String())
	}
	return sb.String()
}

// PathWithAmount is a path with the amount at every token position resolved.
type PathWithAmount struct {
	*Path
	swapAmount tokens.TokenAmount
	kind       tokens.SwapKind
	amounts    []tokens.TokenAmount
}

// NewWithAmount propagates swapAmount through the path. An amount of the first
// token is a GivenIn swap and is pushed forward; anything else is GivenOut and
// is pulled backward from the last token.
//
// With mutate set the pools keep the balance changes. The whole path is first
// run on clones so a hop failure never leaves earlier hops mutated.
func NewWithAmount(path *Path, swapAmount tokens.TokenAmount, mutate bool) (*PathWithAmount, error) {
	pwa := &PathWithAmount{
		Path:       path,
		swapAmount: swapAmount,
		kind:       tokens.GivenOut,
	}
	if path.tokens[0].SameAs(swapAmount.Token) {
		pwa.kind = tokens.GivenIn
	}

	if mutate {
		if _, err := pwa.propagate(clonePools(path.pools), true); err != nil {
			return nil, err
		}
	}
	amounts, err := pwa.propagate(path.pools, mutate)
	if err != nil {
		return nil, err
	}
	pwa.amounts = amounts
	return pwa, nil
}

// clonePools copies the pools of a path, keeping one copy per pool id so a pool
// visited twice sees its own earlier trade.
func clonePools(ps []pools.BasePool) []pools.BasePool {
	seen := make(map[string]pools.BasePool, len(ps))
	out := make([]pools.BasePool, len(ps))
	for i, p := range ps {
		c, ok := seen[p.ID()]
		if !ok {
			c = p.Clone()
			seen[p.ID()] = c
		}
		out[i] = c
	}
	return out
}

func (pwa *PathWithAmount) propagate(ps []pools.BasePool, mutate bool) ([]tokens.TokenAmount, error) {
	toks := pwa.tokens
	amounts := make([]tokens.TokenAmount, len(toks))
	if pwa.kind == tokens.GivenIn {
		amounts[0] = pwa.swapAmount
		for i, pool := range ps {
			out, err := pool.SwapGivenIn(toks[i], toks[i+1], amounts[i], mutate)
			if err != nil {
				return nil, hopErr(pool, err)
			}
			amounts[i+1] = out
		}
		return amounts, nil
	}

	amounts[len(amounts)-1] = pwa.swapAmount
	for i := len(ps); i >= 1; i-- {
		pool := ps[i-1]
		in, err := pool.SwapGivenOut(toks[i-1], toks[i], amounts[i], mutate)
		if err != nil {
			return nil, hopErr(pool, err)
		}
		amounts[i-1] = in
	}
	return amounts, nil
}

func hopErr(pool pools.BasePool, err error) error {
	return fmt.Errorf("%w: swap amount exceeds maximum for pool %s: %w", ErrInvalidPath, pool.ID(), err)
}

func (pwa *PathWithAmount) SwapKind() tokens.SwapKind { return pwa.kind }
func (pwa *PathWithAmount) SwapAmount() tokens.TokenAmount { return pwa.swapAmount }
func (pwa *PathWithAmount) InputAmount() tokens.TokenAmount { return pwa.amounts[0] }
func (pwa *PathWithAmount) OutputAmount() tokens.TokenAmount { return pwa.amounts[len(pwa.amounts)-1] }

// Amounts returns the amount at every token position.
func (pwa *PathWithAmount) Amounts() []tokens.TokenAmount {
	return append([]tokens.TokenAmount(nil), pwa.amounts...)
}
