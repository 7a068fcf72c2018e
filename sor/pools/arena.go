package pools

import (
	"slices"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
)

// Arena is the per-request working copy of the pool snapshot. Pools in an
// arena may be mutated by swaps; use Fork to get an independent copy.
// An Arena is not safe for concurrent use.
type Arena struct {
	pools  map[string]BasePool
	order  []string
	tokens map[common.Address]tokens.Token
}

func NewArena() *Arena {
	return &Arena{
		pools:  make(map[string]BasePool),
		tokens: make(map[common.Address]tokens.Token),
	}
}

// Add inserts a pool and registers its tokens. A pool with an existing id replaces the old one.
func (a *Arena) Add(p BasePool) {
	id := strings.ToLower(p.ID())
	if _, ok := a.pools[id]; !ok {
		a.order = append(a.order, id)
	}
	a.pools[id] = p
	for _, pt := range p.PoolTokens() {
		a.RegisterToken(pt.Token)
		if pt.ERC4626 != nil {
			a.RegisterToken(pt.ERC4626.Underlying)
		}
	}
	if sp, ok := p.(SharePool); ok {
		a.RegisterToken(sp.ShareToken())
	}
}

// RegisterToken records token metadata for lookups by address. The first registration wins.
func (a *Arena) RegisterToken(t tokens.Token) {
	if _, ok := a.tokens[t.Wrapped()]; !ok {
		a.tokens[t.Wrapped()] = t
	}
}

// Get returns the pool with the given id.
func (a *Arena) Get(id string) (BasePool, bool) {
	p, ok := a.pools[strings.ToLower(id)]
	return p, ok
}

// Token returns a known token by address.
func (a *Arena) Token(addr common.Address) (tokens.Token, bool) {
	t, ok := a.tokens[addr]
	return t, ok
}

// TokenList returns every known token sorted by address.
func (a *Arena) TokenList() []tokens.Token {
	out := make([]tokens.Token, 0, len(a.tokens))
	for _, t := range a.tokens {
		out = append(out, t)
	}
	slices.SortFunc(out, func(x, y tokens.Token) int { return strings.Compare(x.Hex(), y.Hex()) })
	return out
}

// Pools returns the pools in insertion order.
func (a *Arena) Pools() []BasePool {
	out := make([]BasePool, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.pools[id])
	}
	return out
}

func (a *Arena) Len() int { return len(a.order) }

// Fork returns a deep copy; swaps on the fork never affect a.
func (a *Arena) Fork() *Arena {
	f := &Arena{
		pools:  make(map[string]BasePool, len(a.pools)),
		order:  append([]string(nil), a.order...),
		tokens: make(map[common.Address]tokens.Token, len(a.tokens)),
	}
	for id, p := range a.pools {
		f.pools[id] = p.Clone()
	}
	for k, v := range a.tokens {
		f.tokens[k] = v
	}
	return f
}

// AddBuffers adds one Buffer pool per ERC4626 wrapper held by any pool, keyed
// by the wrapper address. It returns the buffers that were added.
func (a *Arena) AddBuffers() []*BufferPool {
	var added []*BufferPool
	for _, p := range a.Pools() {
		for _, pt := range p.PoolTokens() {
			if pt.ERC4626 == nil {
				continue
			}
			id := strings.ToLower(pt.Token.Address.Hex())
			if _, ok := a.pools[id]; ok {
				continue
			}
			buf, err := NewBufferPool(p.Chain(), p.ProtocolVersion(), pt.Token, pt.ERC4626.Underlying, pt.ERC4626.UnwrapRate)
			if err != nil {
				continue
			}
			a.Add(buf)
			added = append(added, buf)
		}
	}
	return added
}
