package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// emptyDir keeps godotenv from reading a stray .env next to the test.
func emptyDir(t *testing.T) {
	t.Chdir(t.TempDir())
}

func TestLoadRouterConfigFromEnv(t *testing.T) {
	emptyDir(t)
	t.Setenv("SOR_PORT", "9000")
	t.Setenv("SOR_HOST", "0.0.0.0")
	t.Setenv("SOR_ALLOWED_ORIGINS", "https://a.example.org,https://b.example.org")
	t.Setenv("SOR_SNAPSHOT_URLS", "https://indexer-1.example.org,https://indexer-2.example.org")
	t.Setenv("SOR_SNAPSHOT_CACHE_TTL", "15s")
	t.Setenv("SOR_MIN_LIQUIDITY", "250.5")
	t.Setenv("SOR_MAX_NON_BOOSTED_PATH_DEPTH", "3")
	t.Setenv("SOR_ENABLE_TRACING", "true")

	cfg, err := config.LoadRouterConfig(nil)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Port, 9000)
	assert.Equal(t, cfg.Host, "0.0.0.0")
	assert.DeepEqual(t, cfg.AllowedOrigins, []string{"https://a.example.org", "https://b.example.org"})
	assert.Equal(t, len(cfg.SnapshotURLs), 2)
	assert.Equal(t, cfg.SnapshotCacheTTL, 15*time.Second)
	assert.True(t, cfg.MinLiquidityDecimal().Equal(decimal.RequireFromString("250.5")))
	assert.Equal(t, cfg.MaxNonBoostedPathDepth, 3)
	assert.True(t, cfg.EnableTracing)

	// untouched keys keep their defaults
	assert.Equal(t, cfg.MaxDepth, 6)
	assert.Equal(t, cfg.ApproxPathsToReturn, 5)
	assert.Equal(t, cfg.MaxConcurrentRequests, 200)
	assert.Equal(t, cfg.ServiceName, "spectra-sor")
	assert.Equal(t, cfg.FailoverConfig().MaxRetries, 2)
}

func TestLoadRouterConfigFromEnvDefaults(t *testing.T) {
	emptyDir(t)

	cfg, err := config.LoadRouterConfig(nil)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Port, 8080)
	assert.Equal(t, cfg.Host, "localhost")
	assert.DeepEqual(t, cfg.AllowedOrigins, []string{"*"})
	assert.Equal(t, cfg.RequestTimeout, 60*time.Second)
	assert.Equal(t, cfg.SnapshotSource, "")
	assert.True(t, cfg.MinLiquidityDecimal().Equal(decimal.NewFromInt(100)))
}

func TestLoadRouterConfigVerification(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"SOR_PORT": "70000"}},
		{"both snapshot sources", map[string]string{
			"SOR_SNAPSHOT_SOURCE": "./pools.json",
			"SOR_SNAPSHOT_URLS":   "https://indexer.example.org",
		}},
		{"bad snapshot url", map[string]string{"SOR_SNAPSHOT_URLS": "not a url"}},
		{"bad min liquidity", map[string]string{"SOR_MIN_LIQUIDITY": "lots"}},
		{"negative min liquidity", map[string]string{"SOR_MIN_LIQUIDITY": "-1"}},
		{"non boosted deeper than max", map[string]string{"SOR_MAX_DEPTH": "3", "SOR_MAX_NON_BOOSTED_PATH_DEPTH": "4"}},
		{"negative rate", map[string]string{"SOR_RATE_PER_MINUTE": "-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emptyDir(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadRouterConfig(nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadRouterConfigFromFile(t *testing.T) {
	emptyDir(t)
	// file values win over the environment
	t.Setenv("SOR_PORT", "8000")

	path := writeFile(t, "sor.toml", `
port = 7000
host = "127.0.0.1"
allowed_origins = ["https://app.example.org"]
rate_per_minute = 120
request_timeout = "20s"
snapshot_source = "https://snapshots.example.org/mainnet.json"
snapshot_work_dir = "/tmp/sor"
snapshot_reload_interval = "1m"
max_depth = 5
max_pools_per_pair = 2
networks_file = "networks.toml"
`)
	cfg, err := config.LoadRouterConfig(&path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Port, 7000)
	assert.Equal(t, cfg.Host, "127.0.0.1")
	assert.Equal(t, cfg.RatePerMinute, 120)
	assert.Equal(t, cfg.RequestTimeout, 20*time.Second)
	assert.Equal(t, cfg.SnapshotSource, "https://snapshots.example.org/mainnet.json")
	assert.Equal(t, cfg.SnapshotReloadInterval, time.Minute)
	assert.Equal(t, cfg.MaxDepth, 5)
	assert.Equal(t, cfg.MaxNonBoostedPathDepth, 4)
	assert.Equal(t, cfg.MaxPoolsPerPair, 2)
	assert.Equal(t, cfg.NetworksFile, "networks.toml")
}

func TestLoadRouterConfigFileErrors(t *testing.T) {
	yaml := "config.yaml"
	_, err := config.LoadRouterConfig(&yaml)
	assert.Error(t, err)

	missing := filepath.Join(t.TempDir(), "missing.toml")
	_, err = config.LoadRouterConfig(&missing)
	assert.Error(t, err)

	broken := writeFile(t, "broken.toml", "port = [")
	_, err = config.LoadRouterConfig(&broken)
	assert.Error(t, err)
}

const networksTOML = `
[[networks]]
name = "MAINNET"
chain_id = 1
wrapped_native = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
native_symbol = "ETH"
native_decimals = 18
excluded_pool_ids = ["0xdead"]

[[networks]]
name = "GNOSIS"
chain_id = 100
wrapped_native = "0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d"
native_symbol = "xDAI"
native_decimals = 18
`

const networksJSON = `{"networks": [
	{"name": "MAINNET", "chain_id": 1, "wrapped_native": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
	 "native_symbol": "ETH", "native_decimals": 18, "excluded_pool_ids": ["0xdead"]},
	{"name": "GNOSIS", "chain_id": 100, "wrapped_native": "0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d",
	 "native_symbol": "xDAI", "native_decimals": 18}
]}`

func TestLoadNetworks(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "networks.toml", networksTOML},
		{"json", "networks.json", networksJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			networks, err := config.LoadNetworks(writeFile(t, tt.file, tt.content))
			assert.NoError(t, err)
			assert.Equal(t, len(networks), 2)
			assert.Equal(t, networks[0].Name, "MAINNET")
			assert.Equal(t, networks[0].ChainID, 1)
			assert.Equal(t, networks[0].WrappedNative, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"))
			assert.DeepEqual(t, networks[0].ExcludedPoolIDs, []string{"0xdead"})
			assert.Equal(t, networks[1].NativeSymbol, "xDAI")
		})
	}
}

func TestLoadNetworksErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ``},
		{"missing name", "[[networks]]\nchain_id = 1\nwrapped_native = \"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2\"\n"},
		{"bad wrapped native", "[[networks]]\nname = \"X\"\nchain_id = 1\nwrapped_native = \"0x12\"\n"},
		{"zero chain id", "[[networks]]\nname = \"X\"\nwrapped_native = \"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2\"\n"},
		{"duplicate", networksTOML + "\n[[networks]]\nname = \"mainnet\"\nchain_id = 1\nwrapped_native = \"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2\"\n"},
		{"decimals", "[[networks]]\nname = \"X\"\nchain_id = 1\nnative_decimals = 30\nwrapped_native = \"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadNetworks(writeFile(t, "networks.toml", tt.content))
			assert.Error(t, err)
		})
	}

	_, err := config.LoadNetworks(filepath.Join(t.TempDir(), "none.toml"))
	assert.Error(t, err)
}
