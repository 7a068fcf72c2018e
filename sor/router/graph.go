package router

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/paths"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var routerLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	routerLog = zerolog.New(out).With().Timestamp().Str("component", "router").Logger()
}

var (
	// ErrNoRouteFound means no candidate path connects the tokens or none can take the amount.
	ErrNoRouteFound = errors.New("no route found")
	// ErrInsufficientLiquidity means the candidates together cannot fill the amount.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

// maxExploredPaths caps the number of complete paths the traversal enumerates.
const maxExploredPaths = 2000

// GraphTraversalConfig bounds the candidate search.
type GraphTraversalConfig struct {
	MaxDepth                            int      `mapstructure:"max_depth" toml:"max_depth"`
	MaxNonBoostedPathDepth              int      `mapstructure:"max_non_boosted_path_depth" toml:"max_non_boosted_path_depth"`
	MaxNonBoostedHopTokensInBoostedPath int      `mapstructure:"max_non_boosted_hop_tokens_in_boosted_path" toml:"max_non_boosted_hop_tokens_in_boosted_path"`
	ApproxPathsToReturn                 int      `mapstructure:"approx_paths_to_return" toml:"approx_paths_to_return"`
	PoolIDsToInclude                    []string `mapstructure:"-" toml:"-"`
}

// DefaultGraphTraversalConfig returns the stock traversal bounds.
func DefaultGraphTraversalConfig() GraphTraversalConfig {
	return GraphTraversalConfig{
		MaxDepth:                            6,
		MaxNonBoostedPathDepth:              4,
		MaxNonBoostedHopTokensInBoostedPath: 2,
		ApproxPathsToReturn:                 5,
	}
}

// WithDefaults fills every unset bound from DefaultGraphTraversalConfig.
func (c GraphTraversalConfig) WithDefaults() GraphTraversalConfig {
	d := DefaultGraphTraversalConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxNonBoostedPathDepth <= 0 {
		c.MaxNonBoostedPathDepth = d.MaxNonBoostedPathDepth
	}
	if c.MaxNonBoostedHopTokensInBoostedPath <= 0 {
		c.MaxNonBoostedHopTokensInBoostedPath = d.MaxNonBoostedHopTokensInBoostedPath
	}
	if c.ApproxPathsToReturn <= 0 {
		c.ApproxPathsToReturn = d.ApproxPathsToReturn
	}
	return c
}

// GraphOptions controls graph construction.
type GraphOptions struct {
	// BoostedEnabled adds ERC4626 buffer edges, protocol v3 only.
	BoostedEnabled bool
	// MaxPoolsPerPair keeps only the most liquid pools between two tokens.
	MaxPoolsPerPair int
}

// DefaultMaxPoolsPerPair is used when GraphOptions.MaxPoolsPerPair is unset.
const DefaultMaxPoolsPerPair = 3

type edge struct {
	pool      pools.BasePool
	tokenIn   tokens.Token
	tokenOut  tokens.Token
	liquidity *big.Int
	isBuffer  bool
	boosted   bool
}

// Graph is a token multigraph whose edges are pools. It references the pools
// of the arena it was built from.
type Graph struct {
	edges     map[common.Address]map[common.Address][]edge
	neighbors map[common.Address][]common.Address
}

// NewGraph builds the token graph over every pool in the arena.
func NewGraph(arena *pools.Arena, opts GraphOptions) *Graph {
	if opts.MaxPoolsPerPair <= 0 {
		opts.MaxPoolsPerPair = DefaultMaxPoolsPerPair
	}
	if opts.BoostedEnabled {
		buffers := arena.AddBuffers()
		routerLog.Debug().Int("buffers", len(buffers)).Msg("Added buffer pools")
	}

	g := &Graph{
		edges:     make(map[common.Address]map[common.Address][]edge),
		neighbors: make(map[common.Address][]common.Address),
	}
	for _, pool := range arena.Pools() {
		isBuffer := pool.PoolType() == pools.TypeBuffer
		if isBuffer && !opts.BoostedEnabled {
			continue
		}
		boosted := isBuffer
		for _, pt := range pool.PoolTokens() {
			if pt.IsBoosted() {
				boosted = true
			}
		}

		toks := pool.Tokens()
		if sp, ok := pool.(pools.SharePool); ok {
			toks = append(toks, sp.ShareToken())
		}
		for i := range toks {
			for j := range toks {
				if i == j {
					continue
				}
				liquidity, err := pool.NormalizedLiquidity(toks[i], toks[j])
				if err != nil {
					routerLog.Debug().Err(err).Str("pool", pool.ID()).Msg("Skipping edge")
					continue
				}
				if liquidity.Sign() <= 0 {
					continue
				}
				g.addEdge(edge{
					pool:      pool,
					tokenIn:   toks[i],
					tokenOut:  toks[j],
					liquidity: liquidity,
					isBuffer:  isBuffer,
					boosted:   boosted,
				})
			}
		}
	}

	for from, byTo := range g.edges {
		for to, es := range byTo {
			slices.SortStableFunc(es, func(a, b edge) int {
				if c := b.liquidity.Cmp(a.liquidity); c != 0 {
					return c
				}
				return strings.Compare(a.pool.ID(), b.pool.ID())
			})
			if len(es) > opts.MaxPoolsPerPair {
				es = es[:opts.MaxPoolsPerPair]
			}
			byTo[to] = es
			g.neighbors[from] = append(g.neighbors[from], to)
		}
		slices.SortFunc(g.neighbors[from], func(a, b common.Address) int {
			return strings.Compare(a.Hex(), b.Hex())
		})
	}
	return g
}

func (g *Graph) addEdge(e edge) {
	from, to := e.tokenIn.Wrapped(), e.tokenOut.Wrapped()
	if g.edges[from] == nil {
		g.edges[from] = make(map[common.Address][]edge)
	}
	g.edges[from][to] = append(g.edges[from][to], e)
}

// HasToken reports whether any pool trades the token.
func (g *Graph) HasToken(t tokens.Token) bool {
	if _, ok := g.edges[t.Wrapped()]; ok {
		return true
	}
	for _, byTo := range g.edges {
		if _, ok := byTo[t.Wrapped()]; ok {
			return true
		}
	}
	return false
}

type candidate struct {
	edges     []edge
	liquidity *big.Int
	key       string
}

// CandidatePaths enumerates simple paths from tokenIn to tokenOut within the
// traversal bounds and returns the most liquid ones.
func (g *Graph) CandidatePaths(tokenIn, tokenOut tokens.Token, cfg GraphTraversalConfig) ([]*paths.Path, error) {
	cfg = cfg.WithDefaults()
	if tokenIn.SameAs(tokenOut) {
		return nil, fmt.Errorf("%w: tokenIn and tokenOut are the same token", ErrNoRouteFound)
	}
	if !g.HasToken(tokenIn) || !g.HasToken(tokenOut) {
		return nil, fmt.Errorf("%w: %s -> %s not in graph", ErrNoRouteFound, tokenIn.Hex(), tokenOut.Hex())
	}

	var include map[string]bool
	if len(cfg.PoolIDsToInclude) > 0 {
		include = make(map[string]bool, len(cfg.PoolIDsToInclude))
		for _, id := range cfg.PoolIDsToInclude {
			include[strings.ToLower(id)] = true
		}
	}

	t := &traversal{
		g:       g,
		cfg:     cfg,
		target:  tokenOut.Wrapped(),
		include: include,
		visited: map[common.Address]bool{tokenIn.Wrapped(): true},
		used:    make(map[string]bool),
	}
	t.walk(tokenIn.Wrapped(), 0)

	found := t.found
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRouteFound, tokenIn.Hex(), tokenOut.Hex())
	}
	slices.SortStableFunc(found, func(a, b candidate) int {
		if c := b.liquidity.Cmp(a.liquidity); c != 0 {
			return c
		}
		if len(a.edges) != len(b.edges) {
			return len(a.edges) - len(b.edges)
		}
		return strings.Compare(a.key, b.key)
	})
	if len(found) > cfg.ApproxPathsToReturn {
		found = found[:cfg.ApproxPathsToReturn]
	}

	out := make([]*paths.Path, 0, len(found))
	for _, c := range found {
		p, err := c.path()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	routerLog.Debug().
		Int("explored", t.explored).
		Int("candidates", len(out)).
		Str("tokenIn", tokenIn.Hex()).
		Str("tokenOut", tokenOut.Hex()).
		Msg("Candidate paths")
	return out, nil
}

func (c candidate) path() (*paths.Path, error) {
	toks := make([]tokens.Token, 0, len(c.edges)+1)
	ps := make([]pools.BasePool, len(c.edges))
	isBuffer := make([]bool, len(c.edges))
	toks = append(toks, c.edges[0].tokenIn)
	for i, e := range c.edges {
		toks = append(toks, e.tokenOut)
		ps[i] = e.pool
		isBuffer[i] = e.isBuffer
	}
	return paths.New(toks, ps, isBuffer)
}

// traversal is the state of one depth first enumeration.
type traversal struct {
	g        *Graph
	cfg      GraphTraversalConfig
	target   common.Address
	include  map[string]bool
	visited  map[common.Address]bool
	used     map[string]bool
	stack    []edge
	plain    int // hops through pools without ERC4626 tokens
	boosted  bool
	found    []candidate
	explored int
}

func (t *traversal) allowed(e edge) bool {
	if t.used[e.pool.ID()] {
		return false
	}
	return t.include == nil || e.isBuffer || t.include[e.pool.ID()]
}

// withinBounds reports whether a path of depth hops with plain non-boosted hops
// can still become valid.
func (t *traversal) withinBounds(depth, plain int, boosted bool) bool {
	nonBoostedOK := !boosted && depth <= t.cfg.MaxNonBoostedPathDepth
	boostedOK := depth <= t.cfg.MaxDepth && plain <= t.cfg.MaxNonBoostedHopTokensInBoostedPath
	return nonBoostedOK || boostedOK
}

func (t *traversal) walk(at common.Address, depth int) {
	for _, next := range t.g.neighbors[at] {
		if t.explored >= maxExploredPaths {
			return
		}
		if t.visited[next] {
			continue
		}
		for _, e := range t.g.edges[at][next] {
			if !t.allowed(e) {
				continue
			}
			plain := t.plain
			if !e.boosted {
				plain++
			}
			boosted := t.boosted || e.boosted
			if !t.withinBounds(depth+1, plain, boosted) {
				continue
			}

			t.stack = append(t.stack, e)
			t.used[e.pool.ID()] = true
			prevPlain, prevBoosted := t.plain, t.boosted
			t.plain, t.boosted = plain, boosted

			if next == t.target {
				t.record(depth+1, plain, boosted)
			} else {
				t.visited[next] = true
				t.walk(next, depth+1)
				delete(t.visited, next)
			}

			t.plain, t.boosted = prevPlain, prevBoosted
			delete(t.used, e.pool.ID())
			t.stack = t.stack[:len(t.stack)-1]
		}
	}
}

func (t *traversal) record(depth, plain int, boosted bool) {
	// a path ending here must satisfy the bound of its own kind
	if boosted {
		if depth > t.cfg.MaxDepth || plain > t.cfg.MaxNonBoostedHopTokensInBoostedPath {
			return
		}
	} else if depth > t.cfg.MaxNonBoostedPathDepth {
		return
	}
	t.explored++

	es := append([]edge(nil), t.stack...)
	liquidity := es[0].liquidity
	ids := make([]string, len(es))
	for i, e := range es {
		if e.liquidity.Cmp(liquidity) < 0 {
			liquidity = e.liquidity
		}
		ids[i] = e.pool.ID()
	}
	t.found = append(t.found, candidate{edges: es, liquidity: liquidity, key: strings.Join(ids, ",")})
}
