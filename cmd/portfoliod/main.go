// Command portfoliod is the composition root: it replaces singletons
// with explicit dependency passing — it builds every component, wires them
// together by constructor, starts the scheduler and the metrics HTTP
// server, and shuts down cleanly on signal. Grounded on a CLI
// main-package-style wiring order (config -> storage -> services,
// mode-detected entrypoint), adapted from a one-shot CLI dispatch into a
// long-running daemon process since this system's operations are driven by
// a thin external surface rather than direct terminal commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/chaindriver/bitcoin"
	"github.com/yourusername/portfoliod/internal/chaindriver/evm"
	"github.com/yourusername/portfoliod/internal/chaindriver/solana"
	"github.com/yourusername/portfoliod/internal/chaindriver/sui"
	"github.com/yourusername/portfoliod/internal/config"
	"github.com/yourusername/portfoliod/internal/discovery"
	"github.com/yourusername/portfoliod/internal/metrics"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/ops"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/provider"
	"github.com/yourusername/portfoliod/internal/provider/alchemy"
	"github.com/yourusername/portfoliod/internal/provider/covalent"
	"github.com/yourusername/portfoliod/internal/scheduler"
	"github.com/yourusername/portfoliod/internal/store"
	"github.com/yourusername/portfoliod/internal/tokenlibrary"
	"github.com/yourusername/portfoliod/internal/valuation"
)

func main() {
	if err := run(); err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("portfoliod exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	drivers := chaindriver.NewRegistry()
	drivers.RegisterFamily(models.FamilyEVM, evm.New)
	drivers.RegisterFamily(models.FamilyBTC, bitcoin.New)
	drivers.RegisterFamily(models.FamilySolana, solana.New)
	drivers.RegisterFamily(models.FamilySui, sui.New)
	for _, c := range defaultChains(cfg.ExplorerAPIKey) {
		drivers.RegisterChain(c)
		if err := st.UpsertBlockchain(c); err != nil {
			return err
		}
	}
	defer drivers.Close()

	providers := provider.NewRegistry()
	if key := cfg.ProviderAPIKeys["alchemy"]; key != "" {
		providers.Register(alchemy.New(key, 5, cfg.PriceRateLimitDelay))
	}
	if key := cfg.ProviderAPIKeys["covalent"]; key != "" {
		providers.Register(covalent.New(key, 5))
	}

	agg := aggregator.New(providers, cfg.AggregatorCacheTTL, log)

	tokens := tokenlibrary.New(st, drivers)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tokens.Seed(ctx); err != nil {
		return err
	}

	prices := priceengine.New(priceengine.Config{
		BaseURL:               cfg.PriceBaseURL,
		BackupEndpoints:       cfg.PriceBackupEndpoints,
		APIKey:                cfg.PriceAPIKey,
		BatchSize:             cfg.PriceBatchSize,
		RateLimitDelay:        cfg.PriceRateLimitDelay,
		MaxRetries:            cfg.PriceMaxRetries,
		RetryBaseDelay:        cfg.PriceRetryBaseDelay,
		DegradedModeThreshold: cfg.DegradedModeThreshold,
		DegradedModeWindow:    cfg.DegradedModeWindow,
	}, tokens, st, cfg.PriceCacheTTL, log)

	var reporter metrics.Reporter = metrics.NoOpMetrics{}
	var promMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.New(prices, agg)
		reporter = promMetrics
	}

	disc := discovery.New(agg, drivers, tokens, prices, reporter, discovery.Config{
		CacheTTL:              cfg.DiscoveryCacheTTL,
		MaxConcurrentProbe:    int64(cfg.DiscoveryMaxConcurrentProbe),
		FallbackToChainDriver: cfg.FallbackToChainDriver,
	}, log)

	val := valuation.New(st, agg, drivers, prices, reporter, log)

	sched := scheduler.New(st, val, prices, agg, drivers, scheduler.Config{
		SnapshotInterval:        time.Duration(cfg.HistoryIntervalHours) * time.Hour,
		SnapshotFailureCooldown: cfg.SnapshotFailureCooldown,
		BackfillInterval:        time.Duration(cfg.HistoryIntervalHours) * time.Hour,
		BackfillWindow:          cfg.BackfillWindow,
		BackfillBatchSize:       cfg.HistoryBatchSize,
		BackfillBatchSleep:      cfg.BackfillBatchSleep,
		RetentionYears:          cfg.HistoryRetentionYears,
	}, log)

	dispatcher := ops.New(st, tokens, disc, val, prices, agg, drivers, sched)

	// A one-shot operational command exits immediately instead
	// of starting the daemon loop below; with no arguments portfoliod runs
	// as the long-running process that the thin external surface talks to
	// over whatever wire protocol it chooses (out of this module's scope).
	if len(os.Args) > 1 {
		return runCommand(ctx, dispatcher, os.Args[1:])
	}

	if cfg.HistoryAutoUpdate {
		sched.Start(ctx)
	}

	var metricsSrv *http.Server
	if promMetrics != nil {
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: promMetrics.Handler()}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	cancel()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// runCommand dispatches a single operational action through
// ops.Dispatcher and exits: "status", "assets [chain] [address]", and
// "discover <address> <chain>" are the actions exercised directly from the
// command line; anything richer (batch-add, history queries, ...) is meant
// for the thin external surface wired directly against ops.Dispatcher.
func runCommand(ctx context.Context, d *ops.Dispatcher, args []string) error {
	mode := ops.DetectMode()
	switch args[0] {
	case "status":
		status := d.GetStatus()
		if mode == ops.ModeDashboard {
			return ops.WriteJSON(status)
		}
		fmt.Printf("providers: %+v\nprices: %+v\ndiscovery cache: %+v\n", status.Providers, status.Prices, status.Discovery)
		return nil

	case "assets":
		var chain, address string
		if len(args) > 1 {
			chain = args[1]
		}
		if len(args) > 2 {
			address = args[2]
		}
		assets, err := d.QueryAssets(ctx, chain, address, "")
		if err != nil {
			return err
		}
		if mode == ops.ModeDashboard {
			return ops.WriteJSON(assets)
		}
		for _, a := range assets {
			fmt.Printf("%s %s %s: %s @ %s = %s\n", a.Chain, a.Address, a.TokenSymbol, a.Quantity, a.PriceUSD, a.ValueUSD)
		}
		return nil

	case "discover":
		if len(args) < 3 {
			return fmt.Errorf("usage: portfoliod discover <address> <chain>")
		}
		tokens, err := d.DiscoverWalletTokens(ctx, args[1], args[2], false, 0.01)
		if err != nil {
			return err
		}
		if mode == ops.ModeDashboard {
			return ops.WriteJSON(tokens)
		}
		for _, t := range tokens {
			fmt.Printf("%s (%s): %s\n", t.Symbol, t.Contract, t.Balance)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// defaultChains is the startup-seeded chain catalog matching
// tokenlibrary's predefined token catalog: each chain's primary
// RPC endpoint defaults to a public node and can be overridden per chain via
// PORTFOLIO_<CHAIN>_RPC_URL. explorerAPIKey is shared across every
// Etherscan-family explorer API (each chain has its own domain but accepts
// the same key shape); chains with no Etherscan-clone explorer API wired
// leave explorerAPI empty and the EVM driver degrades to an estimate.
func defaultChains(explorerAPIKey string) []models.Chain {
	def := func(name, displayName string, family models.ChainFamily, defaultRPC, explorer, explorerAPI string) models.Chain {
		url := defaultRPC
		if v := os.Getenv("PORTFOLIO_" + name + "_RPC_URL"); v != "" {
			url = v
		}
		key := ""
		if explorerAPI != "" {
			key = explorerAPIKey
		}
		return models.Chain{
			Name: name, DisplayName: displayName, Family: family, IsActive: true,
			ExplorerURL: explorer, ExplorerAPIURL: explorerAPI, ExplorerAPIKey: key,
			Endpoints: []models.Endpoint{{
				URL: url, BaseDelay: 500 * time.Millisecond, MaxRetries: 3,
				ConnectTimeout: 10 * time.Second, CallTimeout: 10 * time.Second,
			}},
		}
	}
	return []models.Chain{
		def("ethereum", "Ethereum", models.FamilyEVM, "https://eth.llamarpc.com", "https://etherscan.io", "https://api.etherscan.io/api"),
		def("polygon", "Polygon", models.FamilyEVM, "https://polygon.llamarpc.com", "https://polygonscan.com", "https://api.polygonscan.com/api"),
		def("bsc", "BNB Smart Chain", models.FamilyEVM, "https://bsc.llamarpc.com", "https://bscscan.com", "https://api.bscscan.com/api"),
		def("arbitrum", "Arbitrum One", models.FamilyEVM, "https://arbitrum.llamarpc.com", "https://arbiscan.io", "https://api.arbiscan.io/api"),
		def("optimism", "Optimism", models.FamilyEVM, "https://optimism.llamarpc.com", "https://optimistic.etherscan.io", "https://api-optimistic.etherscan.io/api"),
		def("base", "Base", models.FamilyEVM, "https://base.llamarpc.com", "https://basescan.org", "https://api.basescan.org/api"),
		def("avalanche", "Avalanche C-Chain", models.FamilyEVM, "https://api.avax.network/ext/bc/C/rpc", "https://snowtrace.io", ""),
		def("solana", "Solana", models.FamilySolana, "https://api.mainnet-beta.solana.com", "https://explorer.solana.com", ""),
		def("sui", "Sui", models.FamilySui, "https://fullnode.mainnet.sui.io:443", "https://suiexplorer.com", ""),
		def("bitcoin", "Bitcoin", models.FamilyBTC, "https://bitcoin-rpc.publicnode.com", "https://mempool.space", ""),
	}
}
