package snapshot_test

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/pools"
	"github.com/Cogwheel-Validator/spectra-sor/sor/snapshot"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	addrA    = "0x00000000000000000000000000000000000000aa"
	addrB    = "0x00000000000000000000000000000000000000bb"
	addrC    = "0x00000000000000000000000000000000000000cc"
	poolAddr = "0x0000000000000000000000000000000000000f01"
)

func weightedRecord(id string) snapshot.PoolRecord {
	return snapshot.PoolRecord{
		ID:              id,
		Address:         id,
		Chain:           "MAINNET",
		ProtocolVersion: 2,
		Type:            "WEIGHTED",
		TotalShares:     "1000",
		TotalLiquidity:  "250000",
		SwapEnabled:     true,
		SwapFee:         "0.003",
		Tokens: []snapshot.TokenRecord{
			{Address: addrA, Symbol: "AAA", Decimals: 18, Balance: "100", Weight: "0.5"},
			{Address: addrB, Symbol: "BBB", Decimals: 6, Balance: "200.5", Weight: "0.5"},
		},
	}
}

func TestFilter(t *testing.T) {
	base := weightedRecord(poolAddr)
	with := func(mod func(r *snapshot.PoolRecord)) snapshot.PoolRecord {
		r := base
		mod(&r)
		return r
	}
	q := snapshot.Query{Chain: "mainnet", ProtocolVersion: 2}

	tests := []struct {
		name   string
		record snapshot.PoolRecord
		query  snapshot.Query
		keep   bool
	}{
		{"routable", base, q, true},
		{"other version", with(func(r *snapshot.PoolRecord) { r.ProtocolVersion = 3 }), q, false},
		{"other chain", with(func(r *snapshot.PoolRecord) { r.Chain = "GNOSIS" }), q, false},
		{"unsupported type", with(func(r *snapshot.PoolRecord) { r.Type = "ELEMENT" }), q, false},
		{"lower case type", with(func(r *snapshot.PoolRecord) { r.Type = "weighted" }), q, true},
		{"swap disabled", with(func(r *snapshot.PoolRecord) { r.SwapEnabled = false }), q, false},
		{"empty pool", with(func(r *snapshot.PoolRecord) { r.TotalShares = "0.0000000000001" }), q, false},
		{"low liquidity", with(func(r *snapshot.PoolRecord) { r.TotalLiquidity = "99.9" }), q, false},
		{"custom min liquidity", with(func(r *snapshot.PoolRecord) { r.TotalLiquidity = "99.9" }),
			snapshot.Query{Chain: "mainnet", ProtocolVersion: 2, MinLiquidity: decimal.NewFromInt(50)}, true},
		{"hooked", with(func(r *snapshot.PoolRecord) { r.Hook = &snapshot.HookRecord{Address: addrC} }), q, false},
		{"hooked allowed", with(func(r *snapshot.PoolRecord) { r.Hook = &snapshot.HookRecord{Address: addrC} }),
			snapshot.Query{Chain: "mainnet", ProtocolVersion: 2, ConsiderPoolsWithHooks: true}, true},
		{"excluded", base, snapshot.Query{Chain: "mainnet", ProtocolVersion: 2, ExcludedPoolIDs: []string{"0x0000000000000000000000000000000000000F01"}}, false},
		{"lbp below liquidity", with(func(r *snapshot.PoolRecord) {
			r.Type = "LIQUIDITY_BOOTSTRAPPING"
			r.TotalLiquidity = "1"
		}), q, true},
		{"allowlisted disabled pool", with(func(r *snapshot.PoolRecord) { r.SwapEnabled = false }),
			snapshot.Query{Chain: "mainnet", ProtocolVersion: 2, PoolIDs: []string{poolAddr}}, true},
		{"not allowlisted", base, snapshot.Query{Chain: "mainnet", ProtocolVersion: 2, PoolIDs: []string{addrC}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := snapshot.Filter([]snapshot.PoolRecord{tt.record}, tt.query)
			assert.Equal(t, len(out) == 1, tt.keep)
		})
	}
}

const jsonDoc = `{"pools": [{
	"id": "0x0000000000000000000000000000000000000f01",
	"address": "0x0000000000000000000000000000000000000f01",
	"protocolVersion": 2,
	"type": "WEIGHTED",
	"totalShares": "1000",
	"totalLiquidity": "250000",
	"swapEnabled": true,
	"swapFee": "0.003",
	"tokens": [
		{"address": "0x00000000000000000000000000000000000000aa", "symbol": "AAA", "decimals": 18, "balance": "100", "weight": "0.5"},
		{"address": "0x00000000000000000000000000000000000000bb", "symbol": "BBB", "decimals": 6, "balance": "200.5", "weight": "0.5"}
	]
}]}`

const tomlDoc = `
[[pools]]
id = "0x0000000000000000000000000000000000000f01"
address = "0x0000000000000000000000000000000000000f01"
protocolVersion = 2
type = "WEIGHTED"
totalShares = "1000"
totalLiquidity = "250000"
swapEnabled = true
swapFee = "0.003"

[[pools.tokens]]
address = "0x00000000000000000000000000000000000000aa"
symbol = "AAA"
decimals = 18
balance = "100"
weight = "0.5"

[[pools.tokens]]
address = "0x00000000000000000000000000000000000000bb"
symbol = "BBB"
decimals = 6
balance = "200.5"
weight = "0.5"
`

const yamlDoc = `
pools:
  - id: "0x0000000000000000000000000000000000000f01"
    address: "0x0000000000000000000000000000000000000f01"
    protocolVersion: 2
    type: WEIGHTED
    totalShares: "1000"
    totalLiquidity: "250000"
    swapEnabled: true
    swapFee: "0.003"
    tokens:
      - {address: "0x00000000000000000000000000000000000000aa", symbol: AAA, decimals: 18, balance: "100", weight: "0.5"}
      - {address: "0x00000000000000000000000000000000000000bb", symbol: BBB, decimals: 6, balance: "200.5", weight: "0.5"}
`

func TestFileProviderFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"json", "pools.json", jsonDoc},
		{"toml", "pools.toml", tomlDoc},
		{"yaml", "pools.yaml", yamlDoc},
		{"yml", "pools.yml", yamlDoc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			assert.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			p, err := snapshot.NewFileProvider(context.Background(), path, "")
			assert.NoError(t, err)
			records, err := p.GetPools(context.Background(), snapshot.Query{ProtocolVersion: 2})
			assert.NoError(t, err)
			assert.Equal(t, len(records), 1)
			assert.Equal(t, records[0].Type, "WEIGHTED")
			assert.Equal(t, len(records[0].Tokens), 2)
			assert.Equal(t, records[0].Tokens[1].Balance, "200.5")
			assert.Equal(t, records[0].Tokens[1].Decimals, 6)
		})
	}
}

func TestFileProviderErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := snapshot.NewFileProvider(context.Background(), filepath.Join(dir, "missing.json"), "")
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotProvider))

	bad := filepath.Join(dir, "pools.csv")
	assert.NoError(t, os.WriteFile(bad, []byte("id,type"), 0o644))
	_, err = snapshot.NewFileProvider(context.Background(), bad, "")
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotProvider))

	good := filepath.Join(dir, "pools.json")
	assert.NoError(t, os.WriteFile(good, []byte(jsonDoc), 0o644))
	p, err := snapshot.NewFileProvider(context.Background(), good, "")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetPools(ctx, snapshot.Query{ProtocolVersion: 2})
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotProvider))
}

func TestFileProviderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"pools": []}`), 0o644))
	p, err := snapshot.NewFileProvider(context.Background(), path, "")
	assert.NoError(t, err)

	records, err := p.GetPools(context.Background(), snapshot.Query{ProtocolVersion: 2})
	assert.NoError(t, err)
	assert.Equal(t, len(records), 0)

	assert.NoError(t, os.WriteFile(path, []byte(jsonDoc), 0o644))
	assert.NoError(t, p.Reload(context.Background()))
	records, err = p.GetPools(context.Background(), snapshot.Query{ProtocolVersion: 2})
	assert.NoError(t, err)
	assert.Equal(t, len(records), 1)
}

func TestFileProviderDownloadsRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(jsonDoc))
	}))
	defer srv.Close()

	p, err := snapshot.NewFileProvider(context.Background(), srv.URL+"/pools.json", t.TempDir())
	assert.NoError(t, err)
	records, err := p.GetPools(context.Background(), snapshot.Query{ProtocolVersion: 2})
	assert.NoError(t, err)
	assert.Equal(t, len(records), 1)
}

func indexer(t *testing.T, healthy bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			if !healthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
		case "/pools":
			hits.Add(1)
			if !healthy {
				http.Error(w, "down", http.StatusInternalServerError)
				return
			}
			if r.URL.Query().Get("chain") != "MAINNET" || r.URL.Query().Get("protocolVersion") != "2" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(jsonDoc))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fastFailover() snapshot.FailoverConfig {
	return snapshot.FailoverConfig{MaxRetries: 1, RetryDelay: time.Millisecond, Timeout: time.Second}
}

func TestHTTPProvider(t *testing.T) {
	var hits atomic.Int32
	srv := indexer(t, true, &hits)

	p, err := snapshot.NewHTTPProvider(srv.URL+"/", nil, fastFailover())
	assert.NoError(t, err)
	defer p.Close()

	records, err := p.GetPools(context.Background(), snapshot.Query{Chain: "MAINNET", ProtocolVersion: 2})
	assert.NoError(t, err)
	assert.Equal(t, len(records), 1)
	assert.Equal(t, hits.Load(), int32(1))
}

func TestHTTPProviderPoolIDsQuery(t *testing.T) {
	var poolIDs atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		poolIDs.Store(r.URL.Query().Get("poolIds"))
		_, _ = w.Write([]byte(jsonDoc))
	}))
	defer srv.Close()

	p, err := snapshot.NewHTTPProvider(srv.URL, nil, fastFailover())
	assert.NoError(t, err)
	defer p.Close()

	records, err := p.GetPools(context.Background(), snapshot.Query{
		Chain:           "MAINNET",
		ProtocolVersion: 2,
		PoolIDs:         []string{"0xABC", "0x0000000000000000000000000000000000000F01"},
	})
	assert.NoError(t, err)
	assert.Equal(t, len(records), 1)
	assert.Equal(t, poolIDs.Load(), "0x0000000000000000000000000000000000000f01,0xabc")
}

func TestHTTPProviderFailover(t *testing.T) {
	var primaryHits, backupHits atomic.Int32
	primary := indexer(t, false, &primaryHits)
	backup := indexer(t, true, &backupHits)

	p, err := snapshot.NewHTTPProvider(primary.URL, []string{"not a url", backup.URL}, fastFailover())
	assert.NoError(t, err)
	defer p.Close()

	records, err := p.GetPools(context.Background(), snapshot.Query{Chain: "MAINNET", ProtocolVersion: 2})
	assert.NoError(t, err)
	assert.Equal(t, len(records), 1)
	assert.Equal(t, primaryHits.Load(), int32(2))
	assert.Equal(t, backupHits.Load(), int32(1))
	assert.Equal(t, p.CurrentURL(), backup.URL)
}

func TestHTTPProviderAllDown(t *testing.T) {
	var hits atomic.Int32
	primary := indexer(t, false, &hits)
	backup := indexer(t, false, &hits)

	p, err := snapshot.NewHTTPProvider(primary.URL, []string{backup.URL}, fastFailover())
	assert.NoError(t, err)
	defer p.Close()

	_, err = p.GetPools(context.Background(), snapshot.Query{Chain: "MAINNET", ProtocolVersion: 2})
	assert.True(t, errors.Is(err, snapshot.ErrSnapshotProvider))
	assert.Equal(t, p.CurrentURL(), primary.URL)

	_, err = snapshot.NewHTTPProvider("::", nil, fastFailover())
	assert.Error(t, err)
}

type countingProvider struct {
	calls   atomic.Int32
	records []snapshot.PoolRecord
	err     error
}

func (c *countingProvider) GetPools(_ context.Context, q snapshot.Query) ([]snapshot.PoolRecord, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return snapshot.Filter(c.records, q), nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{records: []snapshot.PoolRecord{weightedRecord(poolAddr)}}
	c := snapshot.NewCachedProvider(inner, 8, 50*time.Millisecond)
	ctx := context.Background()
	q := snapshot.Query{Chain: "MAINNET", ProtocolVersion: 2}

	for range 3 {
		records, err := c.GetPools(ctx, q)
		assert.NoError(t, err)
		assert.Equal(t, len(records), 1)
	}
	assert.Equal(t, inner.calls.Load(), int32(1))

	t.Run("keyed by hooks flag", func(t *testing.T) {
		_, err := c.GetPools(ctx, snapshot.Query{Chain: "MAINNET", ProtocolVersion: 2, ConsiderPoolsWithHooks: true})
		assert.NoError(t, err)
		assert.Equal(t, inner.calls.Load(), int32(2))
	})

	t.Run("allowlist bypasses", func(t *testing.T) {
		before := inner.calls.Load()
		allow := snapshot.Query{Chain: "MAINNET", ProtocolVersion: 2, PoolIDs: []string{poolAddr}}
		_, _ = c.GetPools(ctx, allow)
		_, _ = c.GetPools(ctx, allow)
		assert.Equal(t, inner.calls.Load(), before+2)
	})

	t.Run("expires", func(t *testing.T) {
		before := inner.calls.Load()
		time.Sleep(80 * time.Millisecond)
		_, err := c.GetPools(ctx, q)
		assert.NoError(t, err)
		assert.Equal(t, inner.calls.Load(), before+1)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		failing := &countingProvider{err: snapshot.ErrSnapshotProvider}
		fc := snapshot.NewCachedProvider(failing, 0, 0)
		_, err := fc.GetPools(ctx, q)
		assert.Error(t, err)
		_, err = fc.GetPools(ctx, q)
		assert.Error(t, err)
		assert.Equal(t, failing.calls.Load(), int32(2))
	})
}

func wad(s string) *big.Int {
	return decimal.RequireFromString(s).Shift(18).BigInt()
}

func TestBuildArena(t *testing.T) {
	stableAddr := "0x0000000000000000000000000000000000000f02"
	stable := snapshot.PoolRecord{
		// 32 byte vault id, no address
		ID:              stableAddr + "000000000000000000000abc",
		ProtocolVersion: 2,
		Type:            "COMPOSABLE_STABLE",
		TotalShares:     "2000",
		SwapFee:         "0.0001",
		Amp:             "200",
		Tokens: []snapshot.TokenRecord{
			{Address: addrA, Decimals: 18, Balance: "1000"},
			{Address: stableAddr, Decimals: 18, Balance: "2596148429267413"},
			{Address: addrC, Decimals: 6, Balance: "1000", PriceRate: "1.1", IsErc4626: true,
				UnderlyingToken: &snapshot.UnderlyingTokenRecord{Address: addrB, Symbol: "USDC", Decimals: 6}},
		},
		TokenPairs: []snapshot.TokenPairRecord{{TokenA: addrA, TokenB: addrC, NormalizedLiquidity: "12.5"}},
	}
	fx := snapshot.PoolRecord{
		ID:              "0x0000000000000000000000000000000000000f03",
		ProtocolVersion: 2,
		Type:            "FX",
		Alpha:           "0.8",
		Beta:            "0.42",
		Lambda:          "0.3",
		Delta:           "0.3",
		Epsilon:         "0.0015",
		Tokens: []snapshot.TokenRecord{
			{Address: addrA, Decimals: 6, Balance: "1000", LatestFXPrice: "1.08"},
			{Address: addrB, Decimals: 6, Balance: "1000", LatestFXPrice: "1"},
		},
	}
	broken := weightedRecord("0x0000000000000000000000000000000000000f04")
	broken.Tokens[0].Balance = "lots"
	missingAmp := stable
	missingAmp.ID = "0x0000000000000000000000000000000000000f05"
	missingAmp.Amp = ""

	arena := snapshot.BuildArena([]snapshot.PoolRecord{weightedRecord(poolAddr), stable, fx, broken, missingAmp}, 1)
	assert.Equal(t, arena.Len(), 3)

	t.Run("weighted", func(t *testing.T) {
		p, ok := arena.Get(poolAddr)
		assert.True(t, ok)
		assert.Equal(t, p.PoolType(), pools.TypeWeighted)
		assert.Equal(t, p.SwapFee().String(), wad("0.003").String())
		pts := p.PoolTokens()
		assert.Equal(t, pts[0].Balance.String(), wad("100").String())
		assert.Equal(t, pts[1].Balance.String(), "200500000")
		assert.Equal(t, pts[0].Weight.String(), wad("0.5").String())
		assert.Equal(t, p.Chain(), 1)
	})

	t.Run("composable stable", func(t *testing.T) {
		p, ok := arena.Get(stable.ID)
		assert.True(t, ok)
		assert.Equal(t, p.Address(), common.HexToAddress(stableAddr))
		assert.Equal(t, p.PoolType(), pools.TypeComposableStable)

		sp, ok := p.(*pools.StablePool)
		assert.True(t, ok)
		assert.Equal(t, sp.Amp().String(), "200000")
		assert.Equal(t, sp.TotalShares().String(), wad("2000").String())
		assert.Equal(t, sp.ShareToken().Address, common.HexToAddress(stableAddr))

		pts := p.PoolTokens()
		assert.Equal(t, len(pts), 2)
		assert.Equal(t, pts[1].Rate.String(), wad("1.1").String())
		assert.NotNil(t, pts[1].ERC4626)
		assert.Equal(t, pts[1].ERC4626.Underlying.Address, common.HexToAddress(addrB))
		assert.Equal(t, pts[1].ERC4626.UnwrapRate.String(), wad("1.1").String())

		_, ok = arena.Token(common.HexToAddress(addrB))
		assert.True(t, ok)

		liquidity, err := p.NormalizedLiquidity(pts[0].Token, pts[1].Token)
		assert.NoError(t, err)
		assert.Equal(t, liquidity.String(), wad("12.5").String())
	})

	t.Run("fx", func(t *testing.T) {
		p, ok := arena.Get(fx.ID)
		assert.True(t, ok)
		assert.Equal(t, p.PoolType(), pools.TypeFX)
		assert.Equal(t, p.PoolTokens()[0].Rate.String(), wad("1.08").String())
		assert.Equal(t, p.SwapFee().Sign(), 0)
	})

	t.Run("skipped", func(t *testing.T) {
		_, ok := arena.Get(broken.ID)
		assert.False(t, ok)
		_, ok = arena.Get(missingAmp.ID)
		assert.False(t, ok)
	})
}
