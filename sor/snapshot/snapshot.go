// Package snapshot supplies the point in time pool state the router works on
// and turns it into an arena of pricing models.
package snapshot

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "snapshot").Logger()
}

// ErrSnapshotProvider wraps every failure to obtain pool records.
var ErrSnapshotProvider = errors.New("snapshot provider failure")

// DefaultMinLiquidity is the smallest total liquidity (USD) a pool needs to be routed through.
var DefaultMinLiquidity = decimal.NewFromInt(100)

// minTotalShares drops pools that are effectively empty.
var minTotalShares = decimal.New(1, -12)

// Provider returns the pool records eligible for routing.
type Provider interface {
	GetPools(ctx context.Context, q Query) ([]PoolRecord, error)
}

// Query selects the pools of one chain and protocol version.
type Query struct {
	Chain                  string
	ProtocolVersion        int
	ConsiderPoolsWithHooks bool
	// PoolIDs is an explicit allowlist; when set only chain, version and type are checked.
	PoolIDs []string

	ExcludedPoolIDs []string
	// MinLiquidity defaults to DefaultMinLiquidity when zero.
	MinLiquidity decimal.Decimal
}

// Document is the on disk and on the wire form of a snapshot.
type Document struct {
	Pools []PoolRecord `json:"pools" toml:"pools" yaml:"pools"`
}

// PoolRecord is one pool as exported by the indexer. Amounts are human
// decimal strings; BuildArena scales them.
type PoolRecord struct {
	ID              string `json:"id" toml:"id" yaml:"id"`
	Address         string `json:"address" toml:"address" yaml:"address"`
	Chain           string `json:"chain" toml:"chain" yaml:"chain"`
	ProtocolVersion int    `json:"protocolVersion" toml:"protocolVersion" yaml:"protocolVersion"`
	Type            string `json:"type" toml:"type" yaml:"type"`

	TotalShares    string      `json:"totalShares" toml:"totalShares" yaml:"totalShares"`
	TotalLiquidity string      `json:"totalLiquidity" toml:"totalLiquidity" yaml:"totalLiquidity"`
	SwapEnabled    bool        `json:"swapEnabled" toml:"swapEnabled" yaml:"swapEnabled"`
	SwapFee        string      `json:"swapFee" toml:"swapFee" yaml:"swapFee"`
	Hook           *HookRecord `json:"hook,omitempty" toml:"hook,omitempty" yaml:"hook,omitempty"`

	Tokens     []TokenRecord     `json:"tokens" toml:"tokens" yaml:"tokens"`
	TokenPairs []TokenPairRecord `json:"tokenPairs,omitempty" toml:"tokenPairs,omitempty" yaml:"tokenPairs,omitempty"`

	// stable family
	Amp string `json:"amp,omitempty" toml:"amp,omitempty" yaml:"amp,omitempty"`
	// FX, GyroE share alpha, beta and lambda
	Alpha   string `json:"alpha,omitempty" toml:"alpha,omitempty" yaml:"alpha,omitempty"`
	Beta    string `json:"beta,omitempty" toml:"beta,omitempty" yaml:"beta,omitempty"`
	Lambda  string `json:"lambda,omitempty" toml:"lambda,omitempty" yaml:"lambda,omitempty"`
	Delta   string `json:"delta,omitempty" toml:"delta,omitempty" yaml:"delta,omitempty"`
	Epsilon string `json:"epsilon,omitempty" toml:"epsilon,omitempty" yaml:"epsilon,omitempty"`
	// Gyro2
	SqrtAlpha string `json:"sqrtAlpha,omitempty" toml:"sqrtAlpha,omitempty" yaml:"sqrtAlpha,omitempty"`
	SqrtBeta  string `json:"sqrtBeta,omitempty" toml:"sqrtBeta,omitempty" yaml:"sqrtBeta,omitempty"`
	// Gyro3
	Root3Alpha string `json:"root3Alpha,omitempty" toml:"root3Alpha,omitempty" yaml:"root3Alpha,omitempty"`
	// GyroE rotation
	C string `json:"c,omitempty" toml:"c,omitempty" yaml:"c,omitempty"`
	S string `json:"s,omitempty" toml:"s,omitempty" yaml:"s,omitempty"`
}

type HookRecord struct {
	Address string `json:"address" toml:"address" yaml:"address"`
}

// TokenRecord is a pool token.
type TokenRecord struct {
	Address  string `json:"address" toml:"address" yaml:"address"`
	Symbol   string `json:"symbol" toml:"symbol" yaml:"symbol"`
	Name     string `json:"name" toml:"name" yaml:"name"`
	Decimals int    `json:"decimals" toml:"decimals" yaml:"decimals"`
	Balance  string `json:"balance" toml:"balance" yaml:"balance"`
	// Weight for weighted pools, e.g. "0.8"
	Weight string `json:"weight,omitempty" toml:"weight,omitempty" yaml:"weight,omitempty"`
	// PriceRate is the token rate, "1" when absent
	PriceRate string `json:"priceRate,omitempty" toml:"priceRate,omitempty" yaml:"priceRate,omitempty"`
	// LatestFXPrice is the oracle price of an FX pool token
	LatestFXPrice string `json:"latestFXPrice,omitempty" toml:"latestFXPrice,omitempty" yaml:"latestFXPrice,omitempty"`

	IsErc4626       bool                  `json:"isErc4626,omitempty" toml:"isErc4626,omitempty" yaml:"isErc4626,omitempty"`
	UnderlyingToken *UnderlyingTokenRecord `json:"underlyingToken,omitempty" toml:"underlyingToken,omitempty" yaml:"underlyingToken,omitempty"`
	UnwrapRate      string                `json:"unwrapRate,omitempty" toml:"unwrapRate,omitempty" yaml:"unwrapRate,omitempty"`
}

type UnderlyingTokenRecord struct {
	Address  string `json:"address" toml:"address" yaml:"address"`
	Symbol   string `json:"symbol" toml:"symbol" yaml:"symbol"`
	Name     string `json:"name" toml:"name" yaml:"name"`
	Decimals int    `json:"decimals" toml:"decimals" yaml:"decimals"`
}

// TokenPairRecord is a precomputed normalized liquidity, a decimal amount of tokenB.
type TokenPairRecord struct {
	TokenA              string `json:"tokenA" toml:"tokenA" yaml:"tokenA"`
	TokenB              string `json:"tokenB" toml:"tokenB" yaml:"tokenB"`
	NormalizedLiquidity string `json:"normalizedLiquidity" toml:"normalizedLiquidity" yaml:"normalizedLiquidity"`
}

// Filter keeps the records routable for q. Liquidity bootstrapping pools are
// exempt from the liquidity and hook checks.
func Filter(records []PoolRecord, q Query) []PoolRecord {
	minLiquidity := q.MinLiquidity
	if minLiquidity.IsZero() {
		minLiquidity = DefaultMinLiquidity
	}
	allow := lowerSet(q.PoolIDs)
	exclude := lowerSet(q.ExcludedPoolIDs)

	out := make([]PoolRecord, 0, len(records))
	for _, r := range records {
		id := strings.ToLower(r.ID)
		if r.ProtocolVersion != q.ProtocolVersion || !pools.IsSupported(r.Type) {
			continue
		}
		if r.Chain != "" && q.Chain != "" && !strings.EqualFold(r.Chain, q.Chain) {
			continue
		}
		if len(allow) > 0 {
			if allow[id] {
				out = append(out, r)
			}
			continue
		}
		if exclude[id] || !r.SwapEnabled || !decimalAbove(r.TotalShares, minTotalShares) {
			continue
		}
		if !strings.EqualFold(r.Type, string(pools.TypeLiquidityBootstrapping)) {
			if r.Hook != nil && !q.ConsiderPoolsWithHooks {
				continue
			}
			if liquidity, err := decimal.NewFromString(r.TotalLiquidity); err != nil || liquidity.LessThan(minLiquidity) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func decimalAbove(s string, floor decimal.Decimal) bool {
	d, err := decimal.NewFromString(s)
	return err == nil && d.GreaterThan(floor)
}

func lowerSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[strings.ToLower(id)] = true
	}
	return set
}

// sortedIDs lowercases and sorts an allowlist for the poolIds query parameter.
func sortedIDs(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.ToLower(id)
	}
	slices.Sort(out)
	return out
}
