package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/router"
	"github.com/Cogwheel-Validator/spectra-sor/sor/snapshot"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "config").Logger()
}

// EnvPrefix prefixes every environment key, e.g. SOR_PORT.
const EnvPrefix = "SOR"

// LoadRouterConfig loads the router config from the given toml file, or from
// the environment when configPath is nil.
func LoadRouterConfig(configPath *string) (*RouterConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	traversal := router.DefaultGraphTraversalConfig()

	v.SetDefault("port", 8080)
	v.SetDefault("host", "localhost")
	v.SetDefault("request_timeout", 60*time.Second)
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("max_concurrent_requests", 200)
	v.SetDefault("service_name", "spectra-sor")
	v.SetDefault("service_version", "1.0.0")
	v.SetDefault("environment", "PROD")
	v.SetDefault("enable_metrics", true)
	v.SetDefault("use_prometheus", true)
	v.SetDefault("snapshot_max_retries", snapshot.DefaultFailoverConfig().MaxRetries)
	v.SetDefault("snapshot_retry_delay", snapshot.DefaultFailoverConfig().RetryDelay)
	v.SetDefault("snapshot_timeout", snapshot.DefaultFailoverConfig().Timeout)
	v.SetDefault("snapshot_health_check_interval", snapshot.DefaultFailoverConfig().HealthCheckInterval)
	v.SetDefault("snapshot_cache_ttl", snapshot.DefaultCacheTTL)
	v.SetDefault("snapshot_cache_size", snapshot.DefaultCacheSize)
	v.SetDefault("min_liquidity", snapshot.DefaultMinLiquidity.String())
	v.SetDefault("max_depth", traversal.MaxDepth)
	v.SetDefault("max_non_boosted_path_depth", traversal.MaxNonBoostedPathDepth)
	v.SetDefault("max_non_boosted_hop_tokens_in_boosted_path", traversal.MaxNonBoostedHopTokensInBoostedPath)
	v.SetDefault("approx_paths_to_return", traversal.ApproxPathsToReturn)
	v.SetDefault("max_pools_per_pair", router.DefaultMaxPoolsPerPair)
}

func loadEnv(v *viper.Viper) (*RouterConfig, error) {
	// a missing .env is fine, the environment may come from docker or systemd
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file, reading the process environment")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var config RouterConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal env config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

// bindEnvKeys binds each config key to its env var so Unmarshal sees env values
// when no config file is loaded (env-only mode).
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"port", "host", "request_timeout", "allowed_origins",
		"rate_per_minute", "max_concurrent_requests",
		"service_name", "service_version", "environment",
		"enable_tracing", "use_otlp_traces", "otlp_traces_url",
		"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
		"enable_logs", "use_otlp_logs", "otlp_logs_url",
		"insecure_otlp", "otlp_client_cert_file", "otlp_client_key_file", "otlp_ca_cert_file",
		"development_mode", "networks_file",
		"snapshot_source", "snapshot_work_dir", "snapshot_reload_interval", "snapshot_urls",
		"snapshot_max_retries", "snapshot_retry_delay", "snapshot_timeout", "snapshot_health_check_interval",
		"snapshot_cache_ttl", "snapshot_cache_size", "min_liquidity",
		"max_depth", "max_non_boosted_path_depth", "max_non_boosted_hop_tokens_in_boosted_path",
		"approx_paths_to_return", "max_pools_per_pair",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*RouterConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config RouterConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}

	return &config, nil
}

// verifyConfig checks ranges and consistency. A missing snapshot source is
// accepted here since the binary can supply one by flag.
func verifyConfig(config *RouterConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host is required")
	}

	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required")
	}

	if config.RatePerMinute < 0 || config.MaxConcurrentRequests < 0 {
		return fmt.Errorf("rate_per_minute and max_concurrent_requests must not be negative")
	}

	if config.SnapshotSource != "" && len(config.SnapshotURLs) > 0 {
		return fmt.Errorf("snapshot_source and snapshot_urls are mutually exclusive")
	}

	for _, u := range config.SnapshotURLs {
		if _, err := url.ParseRequestURI(u); err != nil {
			return fmt.Errorf("invalid snapshot url %q: %w", u, err)
		}
	}

	if config.MinLiquidity != "" {
		d, err := decimal.NewFromString(config.MinLiquidity)
		if err != nil {
			return fmt.Errorf("invalid min_liquidity %q: %w", config.MinLiquidity, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("min_liquidity must not be negative")
		}
	}

	if config.MaxDepth <= 0 || config.MaxNonBoostedPathDepth <= 0 ||
		config.MaxNonBoostedHopTokensInBoostedPath <= 0 || config.ApproxPathsToReturn <= 0 {
		return fmt.Errorf("graph traversal bounds must be positive")
	}

	if config.MaxNonBoostedPathDepth > config.MaxDepth {
		return fmt.Errorf("max_non_boosted_path_depth %d exceeds max_depth %d", config.MaxNonBoostedPathDepth, config.MaxDepth)
	}

	if config.MaxPoolsPerPair <= 0 {
		return fmt.Errorf("max_pools_per_pair must be positive")
	}

	return nil
}

// MinLiquidityDecimal returns the parsed liquidity floor, falling back to the
// snapshot default.
func (c *RouterConfig) MinLiquidityDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MinLiquidity)
	if err != nil {
		return snapshot.DefaultMinLiquidity
	}
	return d
}

// FailoverConfig returns the indexer client retry and health check settings.
func (c *RouterConfig) FailoverConfig() snapshot.FailoverConfig {
	return snapshot.FailoverConfig{
		MaxRetries:          c.SnapshotMaxRetries,
		RetryDelay:          c.SnapshotRetryDelay,
		HealthCheckInterval: c.SnapshotHealthCheckInterval,
		Timeout:             c.SnapshotTimeout,
	}
}
