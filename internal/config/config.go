// Package config holds the frozen, explicitly enumerated configuration
// surface, replacing dynamic attribute access on a settings object with a
// struct. Unknown environment keys are simply ignored by envconfig; there
// is no code path that can read an option that isn't a field here, which
// is the enforcement of "unknown keys are errors" in a statically typed
// language.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process-wide configuration, loaded once at startup and
// threaded explicitly into every component constructor.
type Config struct {
	DataDir string `envconfig:"DATA_DIR" default:"./data"`
	DBPath  string `envconfig:"DB_PATH" default:"./data/portfolio.db"`

	// History / scheduler
	HistoryRetentionYears  int           `envconfig:"HISTORY_RETENTION_YEARS" default:"2"`
	HistoryIntervalHours   int           `envconfig:"HISTORY_INTERVAL_HOURS" default:"1"`
	HistoryAutoUpdate      bool          `envconfig:"HISTORY_AUTO_UPDATE" default:"true"`
	HistoryBatchSize       int           `envconfig:"HISTORY_BATCH_SIZE" default:"20"`
	BackfillWindow         time.Duration `envconfig:"BACKFILL_WINDOW" default:"168h"`
	BackfillBatchSleep     time.Duration `envconfig:"BACKFILL_BATCH_SLEEP" default:"2s"`
	SnapshotFailureCooldown time.Duration `envconfig:"SNAPSHOT_FAILURE_COOLDOWN" default:"5m"`

	// Price engine
	PriceCacheTTL         time.Duration `envconfig:"PRICE_CACHE_TTL" default:"60s"`
	PriceBatchSize        int           `envconfig:"PRICE_BATCH_SIZE" default:"100"`
	PriceRateLimitDelay   time.Duration `envconfig:"PRICE_RATE_LIMIT_DELAY" default:"1200ms"`
	PriceMaxRetries       int           `envconfig:"PRICE_MAX_RETRIES" default:"3"`
	PriceRetryBaseDelay   time.Duration `envconfig:"PRICE_RETRY_BASE_DELAY" default:"1s"`
	PriceBaseURL          string        `envconfig:"PRICE_BASE_URL" default:"https://api.coingecko.com/api/v3"`
	PriceBackupEndpoints  []string      `envconfig:"PRICE_BACKUP_ENDPOINTS"`
	PriceAPIKey           string        `envconfig:"PRICE_API_KEY"`
	DegradedModeThreshold int           `envconfig:"DEGRADED_MODE_THRESHOLD" default:"3"`
	DegradedModeWindow    time.Duration `envconfig:"DEGRADED_MODE_WINDOW" default:"5m"`

	// Aggregator / discovery
	AggregatorEnabled           bool          `envconfig:"AGGREGATOR_ENABLED" default:"true"`
	AggregatorCacheTTL          time.Duration `envconfig:"AGGREGATOR_CACHE_TTL" default:"300s"`
	FallbackToChainDriver       bool          `envconfig:"FALLBACK_TO_CHAIN_DRIVER" default:"true"`
	TokenDiscoveryMinValueUSD   float64       `envconfig:"TOKEN_DISCOVERY_MIN_VALUE_USD" default:"0.01"`
	IncludeZeroBalanceDefault   bool          `envconfig:"INCLUDE_ZERO_BALANCE_DEFAULT" default:"false"`
	ManualTokenAdditionEnabled  bool          `envconfig:"MANUAL_TOKEN_ADDITION_ENABLED" default:"true"`
	DiscoveryCacheTTL           time.Duration `envconfig:"DISCOVERY_CACHE_TTL" default:"300s"`
	DiscoveryMaxConcurrentProbe int           `envconfig:"DISCOVERY_MAX_CONCURRENT_PROBE" default:"8"`
	BatchDiscoverMaxConcurrent  int           `envconfig:"BATCH_DISCOVER_MAX_CONCURRENT" default:"4"`

	// Network
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	RPCTimeout     time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`

	// Etherscan-style explorer APIs (Etherscan's v2 API serves every EVM
	// chain this tracker supports from one key), used to resolve wallet
	// creation time from the first on-chain transaction.
	ExplorerAPIKey string `envconfig:"EXPLORER_API_KEY"`

	// Ordered provider name lists and per-provider API keys.
	PrimaryProviders   []string          `envconfig:"PRIMARY_PROVIDERS" default:"covalent"`
	SecondaryProviders []string          `envconfig:"SECONDARY_PROVIDERS" default:"alchemy"`
	FallbackProviders  []string          `envconfig:"FALLBACK_PROVIDERS"`
	ProviderAPIKeys    map[string]string `envconfig:"-"` // populated from PROVIDER_APIKEY_<NAME> by Load

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Metrics  MetricsConfig
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads .env (if present, development convenience only — missing file
// is not an error) then the environment into a frozen Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("PORTFOLIO", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ProviderAPIKeys = providerAPIKeysFromEnv()
	return &cfg, nil
}

// knownProviders enumerates the provider names whose API keys this reads
// from PORTFOLIO_PROVIDER_APIKEY_<NAME> — envconfig can't populate a map
// keyed by an open-ended set of names on its own, so Load does it directly
// after the rest of the struct is processed.
var knownProviders = []string{"alchemy", "covalent"}

func providerAPIKeysFromEnv() map[string]string {
	keys := make(map[string]string, len(knownProviders))
	for _, name := range knownProviders {
		envVar := "PORTFOLIO_PROVIDER_APIKEY_" + strings.ToUpper(name)
		if v := os.Getenv(envVar); v != "" {
			keys[name] = v
		}
	}
	return keys
}
