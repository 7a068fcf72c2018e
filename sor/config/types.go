package config

import (
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/router"
)

type RouterConfig struct {
	// http configs
	Port           int           `mapstructure:"port" toml:"port"`
	Host           string        `mapstructure:"host" toml:"host"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" toml:"request_timeout"`

	// CORS configs
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`

	// rate limiting configs
	RatePerMinute         int `mapstructure:"rate_per_minute" toml:"rate_per_minute"`
	MaxConcurrentRequests int `mapstructure:"max_concurrent_requests" toml:"max_concurrent_requests"`

	// OpenTelemetry configs
	ServiceName        string `mapstructure:"service_name" toml:"service_name"`
	ServiceVersion     string `mapstructure:"service_version" toml:"service_version"`
	Environment        string `mapstructure:"environment" toml:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing      bool   `mapstructure:"enable_tracing" toml:"enable_tracing"`
	UseOTLPTraces      bool   `mapstructure:"use_otlp_traces" toml:"use_otlp_traces"`
	OTLPTracesURL      string `mapstructure:"otlp_traces_url" toml:"otlp_traces_url"`
	EnableMetrics      bool   `mapstructure:"enable_metrics" toml:"enable_metrics"`
	UsePrometheus      bool   `mapstructure:"use_prometheus" toml:"use_prometheus"`
	UseOTLPMetrics     bool   `mapstructure:"use_otlp_metrics" toml:"use_otlp_metrics"`
	OTLPMetricsURL     string `mapstructure:"otlp_metrics_url" toml:"otlp_metrics_url"`
	EnableLogs         bool   `mapstructure:"enable_logs" toml:"enable_logs"`
	UseOTLPLogs        bool   `mapstructure:"use_otlp_logs" toml:"use_otlp_logs"`
	OTLPLogsURL        string `mapstructure:"otlp_logs_url" toml:"otlp_logs_url"`
	InsecureOTLP       bool   `mapstructure:"insecure_otlp" toml:"insecure_otlp"`
	OTLPClientCertFile string `mapstructure:"otlp_client_cert_file" toml:"otlp_client_cert_file"`
	OTLPClientKeyFile  string `mapstructure:"otlp_client_key_file" toml:"otlp_client_key_file"`
	OTLPCACertFile     string `mapstructure:"otlp_ca_cert_file" toml:"otlp_ca_cert_file"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `mapstructure:"development_mode" toml:"development_mode"`

	// Chain table, see LoadNetworks
	NetworksFile string `mapstructure:"networks_file" toml:"networks_file"`

	// Pool snapshot, either a document (local path or go-getter URL) or
	// indexer URLs where the first is the primary and the rest are backups.
	SnapshotSource              string        `mapstructure:"snapshot_source" toml:"snapshot_source"`
	SnapshotWorkDir             string        `mapstructure:"snapshot_work_dir" toml:"snapshot_work_dir"`
	SnapshotReloadInterval      time.Duration `mapstructure:"snapshot_reload_interval" toml:"snapshot_reload_interval"`
	SnapshotURLs                []string      `mapstructure:"snapshot_urls" toml:"snapshot_urls"`
	SnapshotMaxRetries          int           `mapstructure:"snapshot_max_retries" toml:"snapshot_max_retries"`
	SnapshotRetryDelay          time.Duration `mapstructure:"snapshot_retry_delay" toml:"snapshot_retry_delay"`
	SnapshotTimeout             time.Duration `mapstructure:"snapshot_timeout" toml:"snapshot_timeout"`
	SnapshotHealthCheckInterval time.Duration `mapstructure:"snapshot_health_check_interval" toml:"snapshot_health_check_interval"`
	SnapshotCacheTTL            time.Duration `mapstructure:"snapshot_cache_ttl" toml:"snapshot_cache_ttl"`
	SnapshotCacheSize           int           `mapstructure:"snapshot_cache_size" toml:"snapshot_cache_size"`
	MinLiquidity                string        `mapstructure:"min_liquidity" toml:"min_liquidity"` // USD, decimal string

	// Routing defaults
	router.GraphTraversalConfig `mapstructure:",squash"`

	MaxPoolsPerPair int `mapstructure:"max_pools_per_pair" toml:"max_pools_per_pair"`
}

// networkFile is the on disk form of the chain table.
type networkFile struct {
	Networks []networkEntry `json:"networks" toml:"networks"`
}

type networkEntry struct {
	Name            string   `json:"name" toml:"name"`
	ChainID         int      `json:"chain_id" toml:"chain_id"`
	WrappedNative   string   `json:"wrapped_native" toml:"wrapped_native"`
	NativeSymbol    string   `json:"native_symbol" toml:"native_symbol"`
	NativeDecimals  int      `json:"native_decimals" toml:"native_decimals"`
	ExcludedPoolIDs []string `json:"excluded_pool_ids" toml:"excluded_pool_ids"`
}
