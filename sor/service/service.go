// Package service is the route entry point: it validates a request, loads the
// snapshot, searches and selects paths and assembles the quote.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/models"
	"github.com/Cogwheel-Validator/spectra-sor/sor/paths"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/quote"
	"github.com/Cogwheel-Validator/spectra-sor/sor/router"
	"github.com/Cogwheel-Validator/spectra-sor/sor/snapshot"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "service").Logger()
}

// ErrInvalidInput is returned for malformed route requests.
var ErrInvalidInput = errors.New("invalid input")

// DepthCeiling is the deepest non boosted path bound the search widens to
// before giving up.
const DepthCeiling = 5

// Network describes a chain the router serves.
type Network struct {
	Name           string // e.g. "MAINNET", matched case-insensitively
	ChainID        int
	WrappedNative  common.Address // WETH or equivalent, used when the native asset is traded
	NativeSymbol   string
	NativeDecimals int
	// ExcludedPoolIDs are never routed through on this chain
	ExcludedPoolIDs []string
}

// Config holds the routing defaults.
type Config struct {
	Traversal       router.GraphTraversalConfig
	MaxPoolsPerPair int
	MinLiquidity    decimal.Decimal
	// MeterProvider receives the sor.route instruments, the global provider when nil
	MeterProvider metric.MeterProvider
}

func DefaultConfig() Config {
	return Config{
		Traversal:       router.DefaultGraphTraversalConfig(),
		MaxPoolsPerPair: router.DefaultMaxPoolsPerPair,
		MinLiquidity:    snapshot.DefaultMinLiquidity,
	}
}

// Router answers route requests over snapshots from a provider. It is safe
// for concurrent use; every request works on its own arena.
type Router struct {
	provider    snapshot.Provider
	networks    map[string]Network
	config      Config
	tracer      trace.Tracer
	instruments otelInstruments
}

func NewRouter(provider snapshot.Provider, networks []Network, config Config) *Router {
	byName := make(map[string]Network, len(networks))
	for _, n := range networks {
		byName[strings.ToLower(n.Name)] = n
	}
	config.Traversal = config.Traversal.WithDefaults()
	if config.MaxPoolsPerPair <= 0 {
		config.MaxPoolsPerPair = router.DefaultMaxPoolsPerPair
	}
	return &Router{
		provider:    provider,
		networks:    byName,
		config:      config,
		tracer:      otel.Tracer(instrumentationName),
		instruments: newOtelInstruments(config.MeterProvider),
	}
}

// chainLabel keeps metric labels to the configured chains.
func (r *Router) chainLabel(chain string) string {
	if n, ok := r.networks[strings.ToLower(chain)]; ok {
		return n.Name
	}
	return "unknown"
}

// request is a validated RouteRequest.
type request struct {
	network Network
	version int
	kind    tokens.SwapKind
	in      common.Address
	out     common.Address
	amount  string
	cfg     router.GraphTraversalConfig
	query   snapshot.Query
}

// Route returns the best quote for req. A request that cannot be routed gets
// the zero quote and a nil error; errors are reserved for invalid input
// (ErrInvalidInput) and snapshot failures (snapshot.ErrSnapshotProvider).
func (r *Router) Route(ctx context.Context, req models.RouteRequest) (*models.Quote, error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "sor.route", trace.WithAttributes(
		attribute.String("sor.chain", req.Chain),
		attribute.Int("sor.protocol_version", req.ProtocolVersion),
		attribute.String("sor.swap_type", req.SwapType),
		attribute.String("sor.token_in", req.TokenIn),
		attribute.String("sor.token_out", req.TokenOut),
		attribute.String("sor.swap_amount", req.SwapAmount),
	))
	defer span.End()

	q, outcome, err := r.route(ctx, req)
	r.observe(ctx, r.chainLabel(req.Chain), req.ProtocolVersion, outcome, started)
	span.SetAttributes(attribute.String("sor.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("sor.paths", len(q.Paths)), attribute.String("sor.return_amount", q.ReturnAmountRaw))
	return q, nil
}

func (r *Router) route(ctx context.Context, req models.RouteRequest) (*models.Quote, string, error) {
	in, err := r.validate(req)
	if err != nil {
		return nil, outcomeInvalidInput, err
	}

	records, err := r.provider.GetPools(ctx, in.query)
	if err != nil {
		log.Error().Err(err).Str("chain", in.network.Name).Msg("Failed to load pools")
		if !errors.Is(err, snapshot.ErrSnapshotProvider) {
			err = fmt.Errorf("%w: %w", snapshot.ErrSnapshotProvider, err)
		}
		return nil, outcomeProviderErr, err
	}
	if err := ctx.Err(); err != nil {
		return nil, outcomeCanceled, err
	}

	arena := snapshot.BuildArena(records, in.network.ChainID)
	tokenIn, tradeIn, err := r.resolveToken(arena, in.network, in.in)
	if err != nil {
		return nil, outcomeInvalidInput, err
	}
	tokenOut, tradeOut, err := r.resolveToken(arena, in.network, in.out)
	if err != nil {
		return nil, outcomeInvalidInput, err
	}
	if tradeIn.SameAs(tradeOut) {
		return nil, outcomeInvalidInput, fmt.Errorf("%w: tokenIn and tokenOut resolve to the same token %s", ErrInvalidInput, tradeIn.Hex())
	}

	given := tradeIn
	if in.kind == tokens.GivenOut {
		given = tradeOut
	}
	swapAmount, err := tokens.FromHumanAmount(given, in.amount)
	if err != nil {
		return nil, outcomeInvalidInput, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !swapAmount.IsPositive() {
		return nil, outcomeInvalidInput, fmt.Errorf("%w: swap amount %q must be positive in %d decimals", ErrInvalidInput, in.amount, given.Decimals)
	}
	if !swapAmount.FitsUint256() {
		return nil, outcomeInvalidInput, fmt.Errorf("%w: swap amount %q does not fit uint256", ErrInvalidInput, in.amount)
	}

	graph := router.NewGraph(arena, router.GraphOptions{
		BoostedEnabled:  in.version == 3,
		MaxPoolsPerPair: r.config.MaxPoolsPerPair,
	})
	best, err := r.search(graph, arena, in, tradeIn, tradeOut, swapAmount)
	if err != nil {
		log.Info().Err(err).
			Str("chain", in.network.Name).
			Str("tokenIn", tradeIn.Hex()).
			Str("tokenOut", tradeOut.Hex()).
			Msg("No route")
		zero := quote.Zero(in.network.Name, in.version, in.kind, tokenIn, tokenOut)
		return &zero, outcomeNoRoute, nil
	}

	impact, impactErr := router.PriceImpact(best, in.kind, arena)
	if impactErr != nil {
		log.Debug().Err(impactErr).Msg("Price impact unavailable")
	}
	q := quote.Assemble(quote.Input{
		Chain:           in.network.Name,
		ProtocolVersion: in.version,
		SwapKind:        in.kind,
		TokenIn:         tokenIn,
		TokenOut:        tokenOut,
		Paths:           best,
		PriceImpact:     impact,
		PriceImpactErr:  impactErr,
	})
	routePaths.Observe(float64(len(best)))
	return &q, outcomeOK, nil
}

// search widens the non boosted depth one step at a time up to DepthCeiling.
// Every attempt starts from the pristine arena.
func (r *Router) search(graph *router.Graph, arena *pools.Arena, in request, tokenIn, tokenOut tokens.Token, swapAmount tokens.TokenAmount) ([]*paths.PathWithAmount, error) {
	cfg := in.cfg
	var lastErr error
	for depth := cfg.MaxNonBoostedPathDepth; ; depth++ {
		cfg.MaxNonBoostedPathDepth = depth
		if depth > in.cfg.MaxNonBoostedPathDepth {
			depthRetries.WithLabelValues(in.network.Name).Inc()
		}

		candidates, err := graph.CandidatePaths(tokenIn, tokenOut, cfg)
		if err == nil {
			var best []*paths.PathWithAmount
			best, err = router.NewSelector(arena).BestPaths(candidates, in.kind, swapAmount)
			if err == nil {
				return best, nil
			}
		}
		lastErr = err
		log.Debug().Err(err).Int("depth", depth).Msg("Search attempt failed")
		if depth >= DepthCeiling {
			return nil, lastErr
		}
	}
}

func (r *Router) validate(req models.RouteRequest) (request, error) {
	network, ok := r.networks[strings.ToLower(req.Chain)]
	if !ok {
		return request{}, fmt.Errorf("%w: unknown chain %q", ErrInvalidInput, req.Chain)
	}
	if req.ProtocolVersion != 2 && req.ProtocolVersion != 3 {
		return request{}, fmt.Errorf("%w: unsupported protocol version %d", ErrInvalidInput, req.ProtocolVersion)
	}
	kind, err := tokens.ParseSwapKind(req.SwapType)
	if err != nil {
		return request{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	in, err := tokens.ParseAddress(req.TokenIn)
	if err != nil {
		return request{}, fmt.Errorf("%w: tokenIn: %w", ErrInvalidInput, err)
	}
	out, err := tokens.ParseAddress(req.TokenOut)
	if err != nil {
		return request{}, fmt.Errorf("%w: tokenOut: %w", ErrInvalidInput, err)
	}
	if in == out {
		return request{}, fmt.Errorf("%w: tokenIn and tokenOut are the same", ErrInvalidInput)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.SwapAmount))
	if err != nil {
		return request{}, fmt.Errorf("%w: swap amount %q: %w", ErrInvalidInput, req.SwapAmount, err)
	}
	if !amount.IsPositive() {
		return request{}, fmt.Errorf("%w: swap amount %q must be positive", ErrInvalidInput, req.SwapAmount)
	}

	cfg := r.config.Traversal
	if o := req.GraphTraversal; o != nil {
		if o.MaxDepth > 0 {
			cfg.MaxDepth = o.MaxDepth
		}
		if o.MaxNonBoostedPathDepth > 0 {
			cfg.MaxNonBoostedPathDepth = o.MaxNonBoostedPathDepth
		}
		if o.MaxNonBoostedHopTokensInBoostedPath > 0 {
			cfg.MaxNonBoostedHopTokensInBoostedPath = o.MaxNonBoostedHopTokensInBoostedPath
		}
		if o.ApproxPathsToReturn > 0 {
			cfg.ApproxPathsToReturn = o.ApproxPathsToReturn
		}
	}
	cfg.PoolIDsToInclude = req.PoolIDs

	return request{
		network: network,
		version: req.ProtocolVersion,
		kind:    kind,
		in:      in,
		out:     out,
		amount:  amount.String(),
		cfg:     cfg,
		query: snapshot.Query{
			Chain:                  network.Name,
			ProtocolVersion:        req.ProtocolVersion,
			ConsiderPoolsWithHooks: req.ConsiderPoolsWithHooks,
			PoolIDs:                req.PoolIDs,
			ExcludedPoolIDs:        network.ExcludedPoolIDs,
			MinLiquidity:           r.config.MinLiquidity,
		},
	}, nil
}

// resolveToken returns the token as requested and the token the pools trade.
// They differ only for the native asset, which trades as its wrapped form.
func (r *Router) resolveToken(arena *pools.Arena, network Network, addr common.Address) (tokens.Token, tokens.Token, error) {
	if tokens.IsNativeAddress(addr) {
		wrapped, ok := arena.Token(network.WrappedNative)
		if !ok {
			return tokens.Token{}, tokens.Token{}, fmt.Errorf("%w: wrapped native token %s of %s is not in the snapshot", ErrInvalidInput, network.WrappedNative.Hex(), network.Name)
		}
		native := tokens.NewNativeToken(network.ChainID, addr, network.WrappedNative, nativeDecimals(network), network.NativeSymbol, network.NativeSymbol)
		return native, wrapped, nil
	}
	t, ok := arena.Token(addr)
	if !ok {
		return tokens.Token{}, tokens.Token{}, fmt.Errorf("%w: token %s is unknown on %s", ErrInvalidInput, strings.ToLower(addr.Hex()), network.Name)
	}
	return t, t, nil
}

func nativeDecimals(n Network) int {
	if n.NativeDecimals == 0 {
		return 18
	}
	return n.NativeDecimals
}

// Tokens lists the tokens routable on chain for a protocol version, sorted by address.
func (r *Router) Tokens(ctx context.Context, chain string, version int) ([]models.RoutableToken, error) {
	network, ok := r.networks[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown chain %q", ErrInvalidInput, chain)
	}
	if version == 0 {
		version = 2
	}
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("%w: unsupported protocol version %d", ErrInvalidInput, version)
	}
	records, err := r.provider.GetPools(ctx, snapshot.Query{
		Chain:           network.Name,
		ProtocolVersion: version,
		ExcludedPoolIDs: network.ExcludedPoolIDs,
		MinLiquidity:    r.config.MinLiquidity,
	})
	if err != nil {
		if !errors.Is(err, snapshot.ErrSnapshotProvider) {
			err = fmt.Errorf("%w: %w", snapshot.ErrSnapshotProvider, err)
		}
		return nil, err
	}

	arena := snapshot.BuildArena(records, network.ChainID)
	list := arena.TokenList()
	out := make([]models.RoutableToken, 0, len(list)+1)
	if _, ok := arena.Token(network.WrappedNative); ok && network.NativeSymbol != "" {
		native := tokens.NewNativeToken(network.ChainID, tokens.NativeAddress, network.WrappedNative, nativeDecimals(network), network.NativeSymbol, network.NativeSymbol)
		out = append(out, models.RoutableToken{Address: native.Hex(), Symbol: native.Symbol, Name: native.Name, Decimals: native.Decimals})
	}
	for _, t := range list {
		out = append(out, models.RoutableToken{Address: t.Hex(), Symbol: t.Symbol, Name: t.Name, Decimals: t.Decimals})
	}
	return out, nil
}

// Networks returns the configured chain names.
func (r *Router) Networks() []string {
	out := make([]string, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n.Name)
	}
	slices.Sort(out)
	return out
}
