// Package priceengine resolves (symbol, chain) → USD through a layered
// pipeline — memory TTL cache, degraded-mode short-circuit, stablecoin
// shortcut, external-id resolution, then a live CoinGecko-shaped price
// call (single or batched), with history-aware caching on top.
// Chain-specific symbol overrides are checked before the generic table, so
// Solana's sSOL resolves to "solana" rather than the generic table's
// "solayer"; single and batch calls use distinct 429 back-off formulas.
package priceengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/store"
)

// TokenLookup is the narrow slice of tokenlibrary.Library the engine needs
// for external-id resolution step 4a — kept as an interface so priceengine
// does not import tokenlibrary (which has no need to import priceengine
// back).
type TokenLookup interface {
	FindExternalPriceID(ctx context.Context, symbol, chain string) (string, bool)
}

// Config is the engine's explicit parameter set, populated by the caller
// from the process Config ( — no package reaches into global
// configuration itself).
type Config struct {
	BaseURL               string
	BackupEndpoints       []string
	APIKey                string
	BatchSize             int
	RateLimitDelay        time.Duration
	MaxRetries            int
	RetryBaseDelay        time.Duration
	DegradedModeThreshold int
	DegradedModeWindow    time.Duration
}

var stablecoins = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "BUSD": true}

// hardcodedSymbolTable mirrors price_service.py's token_mapping dict
// verbatim.
var hardcodedSymbolTable = map[string]string{
	"eth":    "ethereum",
	"btc":    "bitcoin",
	"bnb":    "binancecoin",
	"sol":    "solana",
	"sui":    "sui",
	"matic":  "matic-network",
	"usdc":   "usd-coin",
	"usdt":   "tether",
	"degen":  "degen-base",
	"dai":    "dai",
	"weth":   "weth",
	"link":   "chainlink",
	"uni":    "uniswap",
	"avax":   "avalanche-2",
	"ftm":    "fantom",
	"atom":   "cosmos",
	"dot":    "polkadot",
	"ada":    "cardano",
	"slayer": "solayer",
	"jip":    "jupiter-exchange-solana",
	"jup":    "jupiter-exchange-solana",
	"layer":  "solayer",
	"ssol":   "solayer",
	"susd":   "solayer-usd",
}

// chainOverride reproduces the chain-specific if-statements that run BEFORE
// the generic table lookup in the source — the only reason sSOL on Solana
// resolves to "solana" (SOL's own id, used as a liquid-staking price proxy)
// instead of the generic table's "solayer" entry for the same symbol.
func chainOverride(symbolLower, chainLower string) (string, bool) {
	switch {
	case chainLower == "base" && symbolLower == "degen":
		return "degen-base", true
	case chainLower == "solana" && (symbolLower == "slayer" || symbolLower == "layer"):
		return "solayer", true
	case chainLower == "solana" && symbolLower == "jip":
		return "jupiter-exchange-solana", true
	case chainLower == "solana" && symbolLower == "ssol":
		return "solana", true
	case chainLower == "solana" && symbolLower == "susd":
		return "solayer-usd", true
	case chainLower == "bsc" && symbolLower == "asbnb":
		return "binancecoin", true
	}
	return "", false
}

// CoinListEntry is one row of the external provider's full coin catalog.
type CoinListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// TokenQuery is one (symbol, chain) pair requested from GetMultiplePrices.
type TokenQuery struct {
	Symbol string
	Chain  string
}

// Statistics are the live counters  "Statistics" requires.
type Statistics struct {
	TotalRequests      atomic.Int64
	BatchRequests       atomic.Int64
	CacheHits           atomic.Int64
	RateLimitHits       atomic.Int64
	NetworkErrors       atomic.Int64
	SuccessfulRequests  atomic.Int64
}

func (s *Statistics) reset() {
	s.TotalRequests.Store(0)
	s.BatchRequests.Store(0)
	s.CacheHits.Store(0)
	s.RateLimitHits.Store(0)
	s.NetworkErrors.Store(0)
	s.SuccessfulRequests.Store(0)
}

// StatsSnapshot is an immutable read of Statistics for callers, for the
// status introspection action.
type StatsSnapshot struct {
	TotalRequests, BatchRequests, CacheHits, RateLimitHits, NetworkErrors, SuccessfulRequests int64
}

const coinsListBlobKey = "priceengine:coingecko_coins_list"

// Engine is the Price Engine. One instance is constructed at startup and
// threaded explicitly into Asset Valuation, Token Discovery, and the
// Scheduler.
type Engine struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
	tokens     TokenLookup
	st         *store.Store
	log        zerolog.Logger

	degradedMu          sync.Mutex
	degraded            bool
	degradedUntil       time.Time
	consecutiveFailures int

	coinsMu          sync.Mutex
	coinsList        []CoinListEntry
	coinsListFetched time.Time

	stats Statistics
}

func New(cfg Config, tokens TokenLookup, st *store.Store, cacheTTL time.Duration, log zerolog.Logger) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Engine{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache.New(cacheTTL, cacheTTL*2),
		limiter:    rate.NewLimiter(rate.Every(cfg.RateLimitDelay), 1),
		tokens:     tokens,
		st:         st,
		log:        log.With().Str("component", "priceengine").Logger(),
	}
}

func cacheKey(symbol, chain string) string {
	c := strings.ToLower(chain)
	if c == "" {
		c = "default"
	}
	return strings.ToUpper(symbol) + "_" + c
}

// GetPrice resolves a single (symbol, chain) through the full layered
// pipeline ( steps 1-5).
func (e *Engine) GetPrice(ctx context.Context, symbol, chain string) (decimal.Decimal, error) {
	key := cacheKey(symbol, chain)
	if cached, ok := e.cache.Get(key); ok {
		e.stats.CacheHits.Add(1)
		return cached.(decimal.Decimal), nil
	}

	if e.inDegradedMode() {
		return decimal.Zero, nil
	}

	upper := strings.ToUpper(symbol)
	if stablecoins[upper] {
		price := decimal.NewFromInt(1)
		e.cache.Set(key, price, cache.DefaultExpiration)
		return price, nil
	}

	externalID, ok := e.resolveExternalID(ctx, symbol, chain)
	if !ok {
		e.cache.Set(key, decimal.Zero, cache.DefaultExpiration)
		return decimal.Zero, nil
	}

	price := e.fetchSingleWithRetry(ctx, externalID)
	e.cache.Set(key, price, cache.DefaultExpiration)
	return price, nil
}

// GetMultiplePrices is the batched variant: cache hits and
// stablecoin/external-id-less misses resolve locally, the remainder are
// grouped into up to BatchSize external-ids per request.
func (e *Engine) GetMultiplePrices(ctx context.Context, queries []TokenQuery) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal, len(queries))
	type batchItem struct {
		CacheKey string
		CoinID   string
	}
	var misses []batchItem

	for _, q := range queries {
		key := cacheKey(q.Symbol, q.Chain)
		if cached, ok := e.cache.Get(key); ok {
			e.stats.CacheHits.Add(1)
			result[key] = cached.(decimal.Decimal)
			continue
		}
		if e.inDegradedMode() {
			result[key] = decimal.Zero
			continue
		}
		upper := strings.ToUpper(q.Symbol)
		if stablecoins[upper] {
			price := decimal.NewFromInt(1)
			e.cache.Set(key, price, cache.DefaultExpiration)
			result[key] = price
			continue
		}
		externalID, ok := e.resolveExternalID(ctx, q.Symbol, q.Chain)
		if !ok {
			e.cache.Set(key, decimal.Zero, cache.DefaultExpiration)
			result[key] = decimal.Zero
			continue
		}
		misses = append(misses, batchItem{CacheKey: key, CoinID: externalID})
	}

	for start := 0; start < len(misses); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(misses) {
			end = len(misses)
		}
		group := misses[start:end]
		ids := make([]string, 0, len(group))
		keyByID := make(map[string][]string, len(group))
		for _, it := range group {
			if _, seen := keyByID[it.CoinID]; !seen {
				ids = append(ids, it.CoinID)
			}
			keyByID[it.CoinID] = append(keyByID[it.CoinID], it.CacheKey)
		}
		prices := e.fetchBatchWithRetry(ctx, ids, true)
		for coinID, price := range prices {
			for _, key := range keyByID[coinID] {
				e.cache.Set(key, price, cache.DefaultExpiration)
				result[key] = price
			}
		}
	}
	return result
}

// GetPriceWithCache is history-aware:
// on a tokenID this asset already has a row for, read the latest
// PriceHistoryPoint first; on miss, resolve live and write a new point
// aligned to the current hour. tokenID may be empty when the caller has no
// Token row to attach history to (in which case this behaves like
// GetPrice).
func (e *Engine) GetPriceWithCache(ctx context.Context, tokenID, symbol, chain string) (decimal.Decimal, error) {
	if tokenID != "" {
		if point, found, err := e.st.LatestPriceHistoryPoint(tokenID); err == nil && found {
			return point.PriceUSD, nil
		}
	}

	price, err := e.GetPrice(ctx, symbol, chain)
	if err != nil {
		return price, err
	}

	if tokenID != "" && price.GreaterThan(decimal.Zero) {
		point := models.PriceHistoryPoint{
			TokenKey:  tokenID,
			Timestamp: models.AlignToHour(time.Now()),
			PriceUSD:  price,
			Source:    "coingecko",
		}
		if werr := e.st.UpsertPriceHistoryPoint(point); werr != nil {
			e.log.Warn().Err(werr).Str("token_id", tokenID).Msg("failed to persist price history point")
		}
	}
	return price, nil
}

// resolveExternalID Token Library exact
// lookup, then chain overrides, then the generic hardcoded table, then a
// full-catalog search.
func (e *Engine) resolveExternalID(ctx context.Context, symbol, chain string) (string, bool) {
	if id, ok := e.tokens.FindExternalPriceID(ctx, symbol, chain); ok {
		return id, true
	}

	symbolLower := strings.ToLower(symbol)
	chainLower := strings.ToLower(chain)

	if id, ok := chainOverride(symbolLower, chainLower); ok {
		return id, true
	}
	if id, ok := hardcodedSymbolTable[symbolLower]; ok {
		return id, true
	}
	if symbolLower == "asusdf" {
		return "astherus-staked-usdf", true
	}

	return e.searchCoinsList(ctx, symbol)
}

func (e *Engine) searchCoinsList(ctx context.Context, symbol string) (string, bool) {
	list, err := e.coinsListCached(ctx)
	if err != nil || len(list) == 0 {
		return "", false
	}
	symbolLower := strings.ToLower(symbol)

	for _, c := range list {
		if strings.ToLower(c.Symbol) == symbolLower {
			return c.ID, true
		}
	}
	for _, c := range list {
		name := strings.ToLower(c.Name)
		if strings.Contains(name, symbolLower) || strings.Contains(symbolLower, name) {
			return c.ID, true
		}
	}
	return "", false
}

// coinsListCached fetches CoinGecko's full coin catalog with a 24h
// in-memory cache, persisting a successful fetch to the store and falling
// back to the persisted copy when the live fetch fails.
func (e *Engine) coinsListCached(ctx context.Context) ([]CoinListEntry, error) {
	e.coinsMu.Lock()
	defer e.coinsMu.Unlock()

	if len(e.coinsList) > 0 && time.Since(e.coinsListFetched) < 24*time.Hour {
		return e.coinsList, nil
	}

	if err := e.limiter.Wait(ctx); err == nil {
		body, status, err := e.get(ctx, e.httpClient, e.cfg.BaseURL, "/coins/list", nil)
		e.stats.TotalRequests.Add(1)
		if err == nil && status == http.StatusOK {
			var list []CoinListEntry
			if jerr := json.Unmarshal(body, &list); jerr == nil {
				e.coinsList = list
				e.coinsListFetched = time.Now()
				if blob, merr := json.Marshal(list); merr == nil {
					if perr := e.st.PutBlob(coinsListBlobKey, blob); perr != nil {
						e.log.Warn().Err(perr).Msg("failed to persist coins list")
					}
				}
				return list, nil
			}
		}
	}

	if blob, found, gerr := e.st.GetBlob(coinsListBlobKey); gerr == nil && found {
		var list []CoinListEntry
		if jerr := json.Unmarshal(blob, &list); jerr == nil {
			e.coinsList = list
			return list, nil
		}
	}
	return nil, fmt.Errorf("priceengine: coins list unavailable")
}

// fetchSingleWithRetry implements 's retry formula:
// exponential back-off base_delay·2^attempt, +60s on a 429, up to
// MaxRetries.
func (e *Engine) fetchSingleWithRetry(ctx context.Context, coinID string) decimal.Decimal {
	bo := newExponentialBackOff(e.cfg.RetryBaseDelay)

	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return decimal.Zero
		}

		body, status, err := e.get(ctx, e.httpClient, e.cfg.BaseURL, "/simple/price",
			url.Values{"ids": {coinID}, "vs_currencies": {"usd"}})
		e.stats.TotalRequests.Add(1)

		if status == http.StatusTooManyRequests {
			e.stats.RateLimitHits.Add(1)
			if attempt < e.cfg.MaxRetries-1 {
				wait := bo.NextBackOff() + 60*time.Second
				e.log.Warn().Dur("wait", wait).Int("attempt", attempt+1).Msg("price API rate limited")
				if !sleepOrDone(ctx, wait) {
					return decimal.Zero
				}
				continue
			}
			return decimal.Zero
		}
		if err != nil || status != http.StatusOK {
			e.stats.NetworkErrors.Add(1)
			e.recordFailure()
			if attempt < e.cfg.MaxRetries-1 {
				if !sleepOrDone(ctx, bo.NextBackOff()) {
					return decimal.Zero
				}
				continue
			}
			return decimal.Zero
		}

		var parsed map[string]map[string]float64
		if jerr := json.Unmarshal(body, &parsed); jerr != nil {
			return decimal.Zero
		}
		if usd, ok := parsed[coinID]["usd"]; ok {
			e.recordSuccess()
			e.stats.SuccessfulRequests.Add(1)
			return decimal.NewFromFloat(usd)
		}
		return decimal.Zero
	}
	return decimal.Zero
}

// fetchBatchWithRetry implements 's batch call: up to 3
// attempts with exponential back-off on a non-rate-limit failure, a flat
// 60s-sleep-then-retry-once on a 429, and a backup-endpoint fallback once
// retries are exhausted on a network error.
func (e *Engine) fetchBatchWithRetry(ctx context.Context, ids []string, allowRateLimitRetry bool) map[string]decimal.Decimal {
	const maxAttempts = 3
	bo := newExponentialBackOff(e.cfg.RetryBaseDelay)
	zero := func() map[string]decimal.Decimal {
		out := make(map[string]decimal.Decimal, len(ids))
		for _, id := range ids {
			out[id] = decimal.Zero
		}
		return out
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return zero()
		}
		body, status, err := e.get(ctx, e.httpClient, e.cfg.BaseURL, "/simple/price",
			url.Values{"ids": {strings.Join(ids, ",")}, "vs_currencies": {"usd"}})
		e.stats.TotalRequests.Add(1)
		e.stats.BatchRequests.Add(1)

		if status == http.StatusTooManyRequests {
			e.stats.RateLimitHits.Add(1)
			if allowRateLimitRetry {
				if !sleepOrDone(ctx, 60*time.Second) {
					return zero()
				}
				return e.fetchBatchWithRetry(ctx, ids, false)
			}
			return zero()
		}
		if err != nil || status != http.StatusOK {
			e.stats.NetworkErrors.Add(1)
			e.recordFailure()
			if attempt < maxAttempts-1 {
				if !sleepOrDone(ctx, bo.NextBackOff()) {
					return zero()
				}
				continue
			}
			if backup := e.tryBackupEndpoints(ctx, ids); backup != nil {
				return backup
			}
			return zero()
		}

		var parsed map[string]map[string]float64
		if jerr := json.Unmarshal(body, &parsed); jerr != nil {
			if attempt < maxAttempts-1 {
				if !sleepOrDone(ctx, bo.NextBackOff()) {
					return zero()
				}
				continue
			}
			return zero()
		}

		e.recordSuccess()
		out := make(map[string]decimal.Decimal, len(ids))
		for _, id := range ids {
			if usd, ok := parsed[id]["usd"]; ok {
				out[id] = decimal.NewFromFloat(usd)
				e.stats.SuccessfulRequests.Add(1)
			} else {
				out[id] = decimal.Zero
			}
		}
		return out
	}
	return zero()
}

// tryBackupEndpoints tries each configured backup endpoint in turn with a
// reduced timeout, returning nil if all fail.
func (e *Engine) tryBackupEndpoints(ctx context.Context, ids []string) map[string]decimal.Decimal {
	if len(e.cfg.BackupEndpoints) == 0 {
		return nil
	}
	backupClient := &http.Client{Timeout: 15 * time.Second}
	for _, endpoint := range e.cfg.BackupEndpoints {
		body, status, err := e.get(ctx, backupClient, endpoint, "/simple/price",
			url.Values{"ids": {strings.Join(ids, ",")}, "vs_currencies": {"usd"}})
		if err != nil || status != http.StatusOK {
			continue
		}
		var parsed map[string]map[string]float64
		if jerr := json.Unmarshal(body, &parsed); jerr != nil {
			continue
		}
		out := make(map[string]decimal.Decimal, len(ids))
		for _, id := range ids {
			if usd, ok := parsed[id]["usd"]; ok {
				out[id] = decimal.NewFromFloat(usd)
			} else {
				out[id] = decimal.Zero
			}
		}
		e.log.Info().Str("endpoint", endpoint).Msg("price fetched via backup endpoint")
		return out
	}
	return nil
}

func (e *Engine) get(ctx context.Context, client *http.Client, baseURL, path string, params url.Values) ([]byte, int, error) {
	u := baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", e.cfg.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func newExponentialBackOff(base time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return bo
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// recordFailure/recordSuccess/inDegradedMode implement  "Degraded
// mode": 3 consecutive network failures enter a 5-minute window during
// which live calls are skipped; any success or timer expiry resets the
// failure counter.
func (e *Engine) recordFailure() {
	e.degradedMu.Lock()
	defer e.degradedMu.Unlock()
	e.consecutiveFailures++
	if e.consecutiveFailures >= e.cfg.DegradedModeThreshold && !e.degraded {
		e.degraded = true
		e.degradedUntil = time.Now().Add(e.cfg.DegradedModeWindow)
		e.log.Warn().Dur("window", e.cfg.DegradedModeWindow).Msg("entering degraded mode")
	}
}

func (e *Engine) recordSuccess() {
	e.degradedMu.Lock()
	defer e.degradedMu.Unlock()
	e.consecutiveFailures = 0
}

func (e *Engine) inDegradedMode() bool {
	e.degradedMu.Lock()
	defer e.degradedMu.Unlock()
	if e.degraded && time.Now().After(e.degradedUntil) {
		e.degraded = false
		e.consecutiveFailures = 0
		e.log.Info().Msg("degraded mode window expired, resuming live price calls")
	}
	return e.degraded
}

// Stats returns a snapshot of the engine's request counters.
func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalRequests:      e.stats.TotalRequests.Load(),
		BatchRequests:      e.stats.BatchRequests.Load(),
		CacheHits:          e.stats.CacheHits.Load(),
		RateLimitHits:      e.stats.RateLimitHits.Load(),
		NetworkErrors:      e.stats.NetworkErrors.Load(),
		SuccessfulRequests: e.stats.SuccessfulRequests.Load(),
	}
}

// ClearCache clears only the price memory cache ( "clear all
// caches" is ClearAllCaches below; this is the narrower
// price_service.py-equivalent clear_cache).
func (e *Engine) ClearCache() {
	e.cache.Flush()
}

// ClearExpiredCache sweeps expired entries without touching live ones,
// distinct from ClearCache/ClearAllCaches.
func (e *Engine) ClearExpiredCache() {
	e.cache.DeleteExpired()
}

// ClearAllCaches clears the price cache, the in-memory coins-list cache,
// and resets the request statistics (administrative
// "clear all caches" action, matching price_service.py's clear_all_cache).
func (e *Engine) ClearAllCaches() {
	e.cache.Flush()
	e.coinsMu.Lock()
	e.coinsList = nil
	e.coinsListFetched = time.Time{}
	e.coinsMu.Unlock()
	e.stats.reset()
}
