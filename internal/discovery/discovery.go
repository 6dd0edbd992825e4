// Package discovery implements the Token Discovery Engine: find
// every token a wallet holds by layering the Data Aggregator, a Chain
// Driver fallback, and a predefined-token balance probe, then dedup, spam
// filter, threshold filter, price-enrich, and sort the result. When the
// same token is reported by more than one source, the entry with the
// higher balance wins; results are sorted by value descending.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/metrics"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/tokenlibrary"
)

// spamSymbols is the per-chain spam/scam symbol blocklist (token_discovery_
// service.py's self.spam_tokens). The Python source keys it per chain but
// every chain lists the same set save bsc's extra "SAFEMOON" entry; checked
// against the union the same way _is_spam_token does (it loops every
// chain's set regardless of the token's own chain).
var spamSymbols = map[string]bool{
	"SPAM": true, "SCAM": true, "FAKE": true, "TEST": true, "AIRDROP": true,
	"FREE": true, "CLAIM": true, "BONUS": true, "GIFT": true, "REWARD": true,
	"WIN": true, "LUCKY": true, "PRIZE": true, "SAFEMOON": true,
}

// suspiciousSubstrings is checked against the lowercased token name.
var suspiciousSubstrings = []string{
	"visit", "claim", "bonus", "airdrop", "free", "gift", "reward",
	"win", "lucky", "prize", "spam", "scam", "fake", "test",
}

func isSpamToken(t models.DiscoveredToken) bool {
	symbol := strings.ToUpper(t.Symbol)
	name := strings.ToLower(t.Name)

	if spamSymbols[symbol] {
		return true
	}
	for _, pattern := range suspiciousSubstrings {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	if len(symbol) > 20 || strings.HasPrefix(symbol, "TEST") || strings.HasSuffix(symbol, "TEST") {
		return true
	}
	if symbol == "" || symbol == "UNKNOWN" {
		return true
	}
	return false
}

// Engine runs the layered discovery pipeline.
type Engine struct {
	aggregator  *aggregator.Aggregator
	drivers     *chaindriver.Registry
	tokens      *tokenlibrary.Library
	prices      *priceengine.Engine
	cache       *cache.Cache
	probeSem    *semaphore.Weighted
	log         zerolog.Logger
	metrics     metrics.Reporter

	fallbackToChainDriver bool
}

type Config struct {
	CacheTTL            time.Duration
	MaxConcurrentProbe  int64
	FallbackToChainDriver bool
}

func New(agg *aggregator.Aggregator, drivers *chaindriver.Registry, tokens *tokenlibrary.Library, prices *priceengine.Engine, reporter metrics.Reporter, cfg Config, log zerolog.Logger) *Engine {
	maxProbe := cfg.MaxConcurrentProbe
	if maxProbe <= 0 {
		maxProbe = 8
	}
	if reporter == nil {
		reporter = metrics.NoOpMetrics{}
	}
	return &Engine{
		aggregator:            agg,
		drivers:               drivers,
		tokens:                tokens,
		prices:                prices,
		cache:                 cache.New(cfg.CacheTTL, cfg.CacheTTL*2),
		probeSem:              semaphore.NewWeighted(maxProbe),
		log:                   log.With().Str("component", "discovery").Logger(),
		metrics:               reporter,
		fallbackToChainDriver: cfg.FallbackToChainDriver,
	}
}

func cacheKey(address, chain string, includeZero bool, minValue float64) string {
	return fmt.Sprintf("%s:%s:%t:%g", address, chain, includeZero, minValue)
}

// DiscoverWalletTokens runs the full discovery pipeline for one address.
func (e *Engine) DiscoverWalletTokens(ctx context.Context, address, chain string, includeZero bool, minValueUSD float64, useCache bool) ([]models.DiscoveredToken, error) {
	start := time.Now()
	key := cacheKey(address, chain, includeZero, minValueUSD)
	if useCache {
		if cached, ok := e.cache.Get(key); ok {
			tokens := cached.([]models.DiscoveredToken)
			e.metrics.RecordDiscoveryRun(chain, time.Since(start), len(tokens), true)
			return tokens, nil
		}
	}

	var discovered []models.DiscoveredToken

	// 1. Data Aggregator (primary strategy).
	assets, err := e.aggregator.GetWalletAssets(ctx, chain, address, includeZero)
	if err != nil {
		e.log.Debug().Err(err).Str("address", address).Str("chain", chain).Msg("aggregator discovery failed")
	}
	for _, a := range assets {
		discovered = append(discovered, models.DiscoveredToken{
			Symbol: a.Symbol, Name: a.Name, Contract: a.Contract,
			Balance: a.Balance, Decimals: a.Decimals, IsNative: a.Contract == "",
		})
	}

	// 2. Chain Driver fallback, only tried when the aggregator came up
	// empty.
	if len(discovered) == 0 && e.fallbackToChainDriver {
		if driverTokens, err := e.discoverViaChainDriver(ctx, address, chain); err != nil {
			e.log.Debug().Err(err).Str("address", address).Str("chain", chain).Msg("chain driver discovery failed")
		} else {
			discovered = append(discovered, driverTokens...)
		}
	}

	// 3. Predefined-token balance probe, always run regardless of what
	// the previous two strategies found (the Python source always calls
	// _check_predefined_tokens unconditionally).
	probed, err := e.probePredefinedTokens(ctx, address, chain)
	if err != nil {
		e.log.Debug().Err(err).Str("address", address).Str("chain", chain).Msg("predefined token probe failed")
	}
	discovered = append(discovered, probed...)

	// 4. Dedup + spam + zero-balance + threshold filter.
	filtered := e.filterAndDeduplicate(discovered, minValueUSD, includeZero)

	// 5. Price enrichment.
	enriched := e.enrichPrices(ctx, filtered, chain)

	if useCache {
		e.cache.Set(key, enriched, cache.DefaultExpiration)
	}
	e.metrics.RecordDiscoveryRun(chain, time.Since(start), len(enriched), true)
	return enriched, nil
}

func (e *Engine) discoverViaChainDriver(ctx context.Context, address, chain string) ([]models.DiscoveredToken, error) {
	driver, err := e.drivers.Get(chain)
	if err != nil {
		return nil, err
	}
	balances, err := driver.EnumerateTokens(ctx, address)
	if err == chaindriver.ErrUnsupported {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.DiscoveredToken, 0, len(balances))
	for _, b := range balances {
		out = append(out, models.DiscoveredToken{
			Contract: b.Contract, Balance: b.Balance, Decimals: b.Decimals,
		})
	}
	return out, nil
}

// probePredefinedTokens concurrently checks the balance of every predefined
// token on chain, bounded by probeSem.
func (e *Engine) probePredefinedTokens(ctx context.Context, address, chain string) ([]models.DiscoveredToken, error) {
	catalog := e.tokens.ChainCatalog(chain)
	if len(catalog) == 0 {
		return nil, nil
	}

	type result struct {
		token models.DiscoveredToken
		ok    bool
	}
	results := make([]result, len(catalog))
	done := make(chan int, len(catalog))

	for i, t := range catalog {
		i, t := i, t
		if err := e.probeSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func() {
			defer e.probeSem.Release(1)
			balance, ok := e.probeSingleToken(ctx, address, chain, t)
			if ok {
				results[i] = result{token: balance, ok: true}
			}
			done <- i
		}()
	}
	for range catalog {
		<-done
	}

	out := make([]models.DiscoveredToken, 0, len(catalog))
	for _, r := range results {
		if r.ok {
			out = append(out, r.token)
		}
	}
	return out, nil
}

func (e *Engine) probeSingleToken(ctx context.Context, address, chain string, t models.Token) (models.DiscoveredToken, bool) {
	var balance decimal.Decimal

	if t.IsNative() {
		if b, err := e.aggregator.GetTokenBalance(ctx, chain, address, ""); err == nil && b != nil && b.Sign() > 0 {
			balance = decimal.NewFromBigInt(b, -int32(t.Decimals))
		}
	} else if b, err := e.aggregator.GetTokenBalance(ctx, chain, address, t.Contract); err == nil && b != nil && b.Sign() > 0 {
		balance = decimal.NewFromBigInt(b, -int32(t.Decimals))
	}

	if balance.IsZero() && e.fallbackToChainDriver {
		if driver, err := e.drivers.Get(chain); err == nil {
			if t.IsNative() {
				if nb, err := driver.NativeBalance(ctx, address); err == nil {
					balance = nb.Balance
				}
			} else if tb, err := driver.TokenBalance(ctx, address, t.Contract); err == nil {
				balance = tb.Balance
			}
		}
	}

	if balance.IsPositive() {
		return models.DiscoveredToken{
			Symbol: t.Symbol, Name: t.Name, Contract: t.Contract,
			Balance: balance, Decimals: t.Decimals, IsNative: t.IsNative(),
		}, true
	}
	return models.DiscoveredToken{}, false
}

// filterAndDeduplicate implements _filter_and_deduplicate_tokens: dedup by
// contract (or "native:SYMBOL" for native coins) keeping the higher
// balance, then drop spam, zero-balance (unless included), and
// below-threshold rows, then sort descending by value.
func (e *Engine) filterAndDeduplicate(tokens []models.DiscoveredToken, minValueUSD float64, includeZero bool) []models.DiscoveredToken {
	if len(tokens) == 0 {
		return nil
	}

	unique := make(map[string]models.DiscoveredToken, len(tokens))
	for _, t := range tokens {
		var key string
		if t.Contract != "" {
			key = "contract:" + strings.ToLower(t.Contract)
		} else {
			key = "native:" + strings.ToUpper(t.Symbol)
		}
		if existing, ok := unique[key]; !ok || t.Balance.GreaterThan(existing.Balance) {
			unique[key] = t
		}
	}

	filtered := make([]models.DiscoveredToken, 0, len(unique))
	for _, t := range unique {
		if isSpamToken(t) {
			continue
		}
		if !includeZero && t.Balance.IsZero() {
			continue
		}
		if t.ValueUSD != nil && t.ValueUSD.LessThan(decimal.NewFromFloat(minValueUSD)) {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		vi, vj := decimal.Zero, decimal.Zero
		if filtered[i].ValueUSD != nil {
			vi = *filtered[i].ValueUSD
		}
		if filtered[j].ValueUSD != nil {
			vj = *filtered[j].ValueUSD
		}
		return vi.GreaterThan(vj)
	})
	return filtered
}

// enrichPrices fills PriceUSD/ValueUSD for tokens that don't already carry
// one, via the Data Aggregator's price lookup (_enhance_token_prices).
func (e *Engine) enrichPrices(ctx context.Context, tokens []models.DiscoveredToken, chain string) []models.DiscoveredToken {
	out := make([]models.DiscoveredToken, len(tokens))
	for i, t := range tokens {
		if t.PriceUSD == nil {
			if price, err := e.aggregator.GetTokenPrice(ctx, t.Symbol, chain); err == nil && price != nil {
				p := *price
				t.PriceUSD = &p
				value := t.Balance.Mul(p)
				t.ValueUSD = &value
			}
		}
		out[i] = t
	}
	return out
}

// AddManualToken bypasses discovery entirely:
// the caller already knows the symbol/contract, so only the balance and
// price need resolving. A zero balance yields (false, nil) rather than an
// error, since "found but empty" isn't a failure.
func (e *Engine) AddManualToken(ctx context.Context, address, chain, contract, symbol string) (models.DiscoveredToken, bool, error) {
	b, err := e.aggregator.GetTokenBalance(ctx, chain, address, contract)
	if err != nil {
		return models.DiscoveredToken{}, false, err
	}
	if (b == nil || b.Sign() <= 0) && e.fallbackToChainDriver {
		if driver, derr := e.drivers.Get(chain); derr == nil {
			if contract == "" {
				if nb, nerr := driver.NativeBalance(ctx, address); nerr == nil {
					b = nb.Balance.Shift(int32(nb.Decimals)).BigInt()
				}
			} else if tb, terr := driver.TokenBalance(ctx, address, contract); terr == nil {
				b = tb.Balance.Shift(int32(tb.Decimals)).BigInt()
			}
		}
	}
	if b == nil || b.Sign() <= 0 {
		return models.DiscoveredToken{}, false, nil
	}

	balance := decimal.NewFromBigInt(b, -18)
	token := models.DiscoveredToken{
		Symbol: strings.ToUpper(symbol), Contract: contract,
		Balance: balance, Decimals: 18, IsNative: contract == "",
	}
	if price, err := e.prices.GetPrice(ctx, symbol, chain); err == nil && price.IsPositive() {
		token.PriceUSD = &price
		value := balance.Mul(price)
		token.ValueUSD = &value
	}

	e.clearAddressCache(address, chain)
	return token, true, nil
}

// clearAddressCache invalidates every cached discovery entry for
// (address, chain), used after a manual add changes what discovery would
// have found (_clear_address_cache).
func (e *Engine) clearAddressCache(address, chain string) {
	prefix := fmt.Sprintf("%s:%s:", address, chain)
	for key := range e.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			e.cache.Delete(key)
		}
	}
}

// BatchDiscover fans DiscoverWalletTokens out across addresses bounded by
// maxConcurrent; a per-address failure yields an empty slice for that
// address rather than aborting its siblings (batch_discover_tokens).
func (e *Engine) BatchDiscover(ctx context.Context, addresses []string, chain string, includeZero bool, minValueUSD float64, maxConcurrent int64) map[string][]models.DiscoveredToken {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	sem := semaphore.NewWeighted(maxConcurrent)
	results := make(map[string][]models.DiscoveredToken, len(addresses))
	resultCh := make(chan struct {
		address string
		tokens  []models.DiscoveredToken
	}, len(addresses))

	for _, addr := range addresses {
		addr := addr
		if err := sem.Acquire(ctx, 1); err != nil {
			resultCh <- struct {
				address string
				tokens  []models.DiscoveredToken
			}{addr, nil}
			continue
		}
		go func() {
			defer sem.Release(1)
			tokens, err := e.DiscoverWalletTokens(ctx, addr, chain, includeZero, minValueUSD, true)
			if err != nil {
				e.log.Error().Err(err).Str("address", addr).Msg("batch discovery failed for address")
				tokens = nil
			}
			resultCh <- struct {
				address string
				tokens  []models.DiscoveredToken
			}{addr, tokens}
		}()
	}

	for range addresses {
		r := <-resultCh
		results[r.address] = r.tokens
	}
	return results
}

// ClearCache flushes all discovery results (clear_cache).
func (e *Engine) ClearCache() {
	e.cache.Flush()
}

// ClearExpiredCache sweeps only expired entries, a distinct maintenance
// action from ClearCache (clear_expired_cache).
func (e *Engine) ClearExpiredCache() {
	e.cache.DeleteExpired()
}

// CacheStats reports discovery cache occupancy for the operational status
// surface (get_cache_stats).
type CacheStats struct {
	TotalEntries int
}

func (e *Engine) CacheStats() CacheStats {
	return CacheStats{TotalEntries: e.cache.ItemCount()}
}
