package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-sor/sor/config"
	"github.com/Cogwheel-Validator/spectra-sor/sor/rpc"
	"github.com/Cogwheel-Validator/spectra-sor/sor/service"
	"github.com/Cogwheel-Validator/spectra-sor/sor/snapshot"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// Share the logger with the HTTP package
	rpc.SetLogger(log)
}

func main() {
	configPath := flag.String("config", "", "toml config file, reads SOR_* environment variables when empty")
	networksPath := flag.String("networks", "", "chain table (.toml or .json), overrides networks_file")
	snapshotSrc := flag.String("snapshot", "", "pool snapshot path or go-getter URL, overrides the configured snapshot source")
	flag.Parse()

	var cfgPath *string
	if *configPath != "" {
		cfgPath = configPath
	}
	cfg, err := config.LoadRouterConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *networksPath != "" {
		cfg.NetworksFile = *networksPath
	}
	if *snapshotSrc != "" {
		cfg.SnapshotSource = *snapshotSrc
		cfg.SnapshotURLs = nil
	}
	if cfg.NetworksFile == "" {
		cfg.NetworksFile = "networks.toml"
	}

	log.Info().
		Str("config", defaultString(*configPath, "env")).
		Str("networks", cfg.NetworksFile).
		Msg("Starting Spectra's Smart Order Router")

	networks, err := config.LoadNetworks(cfg.NetworksFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load networks")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider, closeProvider := buildProvider(ctx, cfg)
	cached := snapshot.NewCachedProvider(provider, cfg.SnapshotCacheSize, cfg.SnapshotCacheTTL)

	if fp, ok := provider.(*snapshot.FileProvider); ok && cfg.SnapshotReloadInterval > 0 {
		go reloadLoop(ctx, fp, cached, cfg.SnapshotReloadInterval)
	}

	serverConfig := buildServerConfig(cfg)
	if otelConfig := serverConfig.OTelConfig; otelConfig != nil &&
		(otelConfig.EnableTracing || otelConfig.EnableMetrics || otelConfig.EnableLogs) {
		telemetry, err := rpc.NewOTelSDK(ctx, otelConfig)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize OpenTelemetry, continuing without it")
		} else {
			serverConfig.Telemetry = telemetry
		}
	}

	sor := service.NewRouter(cached, networks, service.Config{
		Traversal:       cfg.GraphTraversalConfig,
		MaxPoolsPerPair: cfg.MaxPoolsPerPair,
		MinLiquidity:    cfg.MinLiquidityDecimal(),
		MeterProvider:   serverConfig.Telemetry.MeterProvider(),
	})

	server, err := rpc.NewServer(serverConfig, sor)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	closeProvider()
}

// buildProvider picks the snapshot source. The returned func releases it.
func buildProvider(ctx context.Context, cfg *config.RouterConfig) (snapshot.Provider, func()) {
	switch {
	case len(cfg.SnapshotURLs) > 0:
		hp, err := snapshot.NewHTTPProvider(cfg.SnapshotURLs[0], cfg.SnapshotURLs[1:], cfg.FailoverConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create indexer client")
		}
		log.Info().
			Str("primary", cfg.SnapshotURLs[0]).
			Int("backups", len(cfg.SnapshotURLs)-1).
			Msg("Indexer snapshot provider initialized")
		return hp, hp.Close

	case cfg.SnapshotSource != "":
		fp, err := snapshot.NewFileProvider(ctx, cfg.SnapshotSource, cfg.SnapshotWorkDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load pool snapshot")
		}
		log.Info().Str("source", cfg.SnapshotSource).Msg("File snapshot provider initialized")
		return fp, func() {}
	}

	log.Fatal().Msg("No snapshot source configured, set snapshot_source, snapshot_urls or -snapshot")
	return nil, nil
}

func reloadLoop(ctx context.Context, fp *snapshot.FileProvider, cache *snapshot.CachedProvider, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fp.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("Snapshot reload failed, keeping the previous snapshot")
				continue
			}
			cache.Purge()
			log.Debug().Msg("Snapshot reloaded")
		}
	}
}

// buildServerConfig converts the loaded RouterConfig to rpc.ServerConfig
func buildServerConfig(cfg *config.RouterConfig) *rpc.ServerConfig {
	serverConfig := &rpc.ServerConfig{
		Address:        net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		AllowedOrigins: cfg.AllowedOrigins,
		EnableMetrics:  cfg.UsePrometheus,
		RequestTimeout: cfg.RequestTimeout,
	}

	if cfg.RatePerMinute > 0 {
		serverConfig.RatePerMinute = &cfg.RatePerMinute
	}
	if cfg.MaxConcurrentRequests > 0 {
		serverConfig.MaxConcurrentRequests = &cfg.MaxConcurrentRequests
	}

	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs || cfg.UsePrometheus {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:        defaultString(cfg.ServiceName, "spectra-sor"),
			ServiceVersion:     defaultString(cfg.ServiceVersion, "1.0.0"),
			Environment:        defaultString(cfg.Environment, "development"),
			EnableTracing:      cfg.EnableTracing,
			UseOTLPTraces:      cfg.UseOTLPTraces,
			OTLPTracesURL:      cfg.OTLPTracesURL,
			EnableMetrics:      cfg.EnableMetrics,
			UsePrometheus:      cfg.UsePrometheus,
			UseOTLPMetrics:     cfg.UseOTLPMetrics,
			OTLPMetricsURL:     cfg.OTLPMetricsURL,
			EnableLogs:         cfg.EnableLogs,
			UseOTLPLogs:        cfg.UseOTLPLogs,
			OTLPLogsURL:        cfg.OTLPLogsURL,
			InsecureOTLP:       cfg.InsecureOTLP,
			OTLPClientCertFile: cfg.OTLPClientCertFile,
			OTLPClientKeyFile:  cfg.OTLPClientKeyFile,
			OTLPCACertFile:     cfg.OTLPCACertFile,
			DevelopmentMode:    cfg.DevelopmentMode,
		}
	}

	return serverConfig
}

// defaultString returns the default value if s is empty
func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
