package snapshot

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/Cogwheel-Validator/spectra-sor/sor/fixedpoint"
	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/tokens"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// ampDecimals is the precision of the stable amplification parameter.
	ampDecimals = 3
	// fxDecimals is the precision of the FX curve parameters.
	fxDecimals  = 36
	wadDecimals = 18
)

var errMissingField = errors.New("missing field")

// BuildArena maps snapshot records to pool models for chainID. Records that
// cannot be mapped are logged and skipped.
func BuildArena(records []PoolRecord, chainID int) *pools.Arena {
	arena := pools.NewArena()
	for _, r := range records {
		pool, err := buildPool(r, chainID)
		if err != nil {
			log.Warn().Err(err).Str("pool", r.ID).Str("type", r.Type).Msg("Skipping pool record")
			continue
		}
		arena.Add(pool)
	}
	log.Debug().Int("records", len(records)).Int("pools", arena.Len()).Msg("Arena built")
	return arena
}

func buildPool(r PoolRecord, chainID int) (pools.BasePool, error) {
	meta, err := buildMeta(r, chainID)
	if err != nil {
		return nil, err
	}
	toks, err := buildTokens(r, meta)
	if err != nil {
		return nil, err
	}

	switch {
	case meta.Type == pools.TypeWeighted || meta.Type == pools.TypeLiquidityBootstrapping:
		return pools.NewWeightedPool(meta, toks)

	case pools.IsStableFamily(meta.Type):
		amp, err := scaled(r.Amp, ampDecimals, "amp")
		if err != nil {
			return nil, err
		}
		totalShares, err := scaled(r.TotalShares, wadDecimals, "totalShares")
		if err != nil {
			return nil, err
		}
		return pools.NewStablePool(meta, amp, totalShares, toks)

	case meta.Type == pools.TypeFX:
		var params pools.FxParams
		for _, f := range []struct {
			dst  **big.Int
			s    string
			name string
		}{
			{&params.Alpha, r.Alpha, "alpha"},
			{&params.Beta, r.Beta, "beta"},
			{&params.Lambda, r.Lambda, "lambda"},
			{&params.Delta, r.Delta, "delta"},
			{&params.Epsilon, r.Epsilon, "epsilon"},
		} {
			if *f.dst, err = scaled(f.s, fxDecimals, f.name); err != nil {
				return nil, err
			}
		}
		return pools.NewFxPool(meta, params, toks)

	case meta.Type == pools.TypeGyro2:
		sqrtAlpha, err := scaled(r.SqrtAlpha, wadDecimals, "sqrtAlpha")
		if err != nil {
			return nil, err
		}
		sqrtBeta, err := scaled(r.SqrtBeta, wadDecimals, "sqrtBeta")
		if err != nil {
			return nil, err
		}
		return pools.NewGyro2Pool(meta, sqrtAlpha, sqrtBeta, toks)

	case meta.Type == pools.TypeGyro3:
		root3Alpha, err := scaled(r.Root3Alpha, wadDecimals, "root3Alpha")
		if err != nil {
			return nil, err
		}
		return pools.NewGyro3Pool(meta, root3Alpha, toks)

	case meta.Type == pools.TypeGyroE:
		var params pools.GyroEParams
		for _, f := range []struct {
			dst  **big.Int
			s    string
			name string
		}{
			{&params.Alpha, r.Alpha, "alpha"},
			{&params.Beta, r.Beta, "beta"},
			{&params.C, r.C, "c"},
			{&params.S, r.S, "s"},
			{&params.Lambda, r.Lambda, "lambda"},
		} {
			if *f.dst, err = scaled(f.s, wadDecimals, f.name); err != nil {
				return nil, err
			}
		}
		return pools.NewGyroEPool(meta, params, toks)
	}
	return nil, fmt.Errorf("unsupported pool type %q", r.Type)
}

func buildMeta(r PoolRecord, chainID int) (pools.Meta, error) {
	address, err := poolAddress(r)
	if err != nil {
		return pools.Meta{}, err
	}
	fee := new(big.Int)
	if r.SwapFee != "" {
		if fee, err = scaled(r.SwapFee, wadDecimals, "swapFee"); err != nil {
			return pools.Meta{}, err
		}
	}
	meta := pools.Meta{
		ID:      strings.ToLower(r.ID),
		Address: address,
		ChainID: chainID,
		Version: r.ProtocolVersion,
		Type:    pools.PoolType(strings.ToUpper(r.Type)),
		SwapFee: fee,
	}
	for _, tp := range r.TokenPairs {
		a, errA := tokens.ParseAddress(tp.TokenA)
		b, errB := tokens.ParseAddress(tp.TokenB)
		liquidity, errL := scaled(tp.NormalizedLiquidity, wadDecimals, "normalizedLiquidity")
		if err := errors.Join(errA, errB, errL); err != nil {
			log.Debug().Err(err).Str("pool", r.ID).Msg("Ignoring token pair")
			continue
		}
		meta.TokenPairs = append(meta.TokenPairs, pools.TokenPair{TokenA: a, TokenB: b, NormalizedLiquidity: liquidity})
	}
	return meta, nil
}

// poolAddress returns the record address, or the first 20 bytes of a 32 byte
// vault pool id when the address is missing.
func poolAddress(r PoolRecord) (common.Address, error) {
	if r.Address != "" {
		return tokens.ParseAddress(r.Address)
	}
	if len(r.ID) == 66 {
		return tokens.ParseAddress(r.ID[:42])
	}
	return tokens.ParseAddress(r.ID)
}

// buildTokens returns the swappable tokens. The pool's own share token, which
// composable stable pools list among their tokens, is left out.
func buildTokens(r PoolRecord, meta pools.Meta) ([]pools.PoolToken, error) {
	out := make([]pools.PoolToken, 0, len(r.Tokens))
	for _, tr := range r.Tokens {
		address, err := tokens.ParseAddress(tr.Address)
		if err != nil {
			return nil, err
		}
		if address == meta.Address {
			continue
		}
		if tr.Decimals < 0 || tr.Decimals > 18 {
			return nil, fmt.Errorf("token %s has unsupported decimals %d", tr.Address, tr.Decimals)
		}
		token := tokens.NewToken(meta.ChainID, address, tr.Decimals, tr.Symbol, tr.Name)
		balance, err := scaled(tr.Balance, int32(tr.Decimals), "balance")
		if err != nil {
			return nil, err
		}
		pt := pools.PoolToken{Token: token, Balance: balance, Index: len(out)}

		rate := tr.PriceRate
		if meta.Type == pools.TypeFX {
			// FX pools price through the oracle rate
			rate = tr.LatestFXPrice
		}
		if rate != "" {
			if pt.Rate, err = scaled(rate, wadDecimals, "rate"); err != nil {
				return nil, err
			}
		}
		if tr.Weight != "" {
			if pt.Weight, err = scaled(tr.Weight, wadDecimals, "weight"); err != nil {
				return nil, err
			}
		}
		if tr.IsErc4626 && tr.UnderlyingToken != nil {
			info, err := erc4626Info(tr, meta.ChainID, pt.Rate)
			if err != nil {
				return nil, err
			}
			pt.ERC4626 = info
		}
		out = append(out, pt)
	}
	return out, nil
}

// erc4626Info links a wrapper to its underlying token. The unwrap rate falls
// back to the price rate.
func erc4626Info(tr TokenRecord, chainID int, priceRate *big.Int) (*pools.ERC4626Info, error) {
	u := tr.UnderlyingToken
	address, err := tokens.ParseAddress(u.Address)
	if err != nil {
		return nil, fmt.Errorf("underlying of %s: %w", tr.Address, err)
	}
	rate := priceRate
	if tr.UnwrapRate != "" {
		if rate, err = scaled(tr.UnwrapRate, wadDecimals, "unwrapRate"); err != nil {
			return nil, err
		}
	}
	if rate == nil {
		rate = fixedpoint.Copy(fixedpoint.WAD)
	}
	return &pools.ERC4626Info{
		Underlying: tokens.NewToken(chainID, address, u.Decimals, u.Symbol, u.Name),
		UnwrapRate: fixedpoint.Copy(rate),
	}, nil
}

// scaled parses a human decimal string into an integer with the given number
// of decimals, truncating extra digits.
func scaled(s string, decimals int32, field string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s", errMissingField, field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s: negative value %s", field, s)
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}
