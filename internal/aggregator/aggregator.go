// Package aggregator implements the Data Aggregator: for each
// of GetWalletAssets, GetTokenBalance, GetTokenPrice, return the first
// successful non-empty result among healthy providers supporting the
// requested chain, in priority order, backed by a shared TTL cache. An
// empty result is not treated as an error — the aggregator just tries the
// next provider — and each provider's health gate records the error or
// resets its count on success/failure independently of the others.
package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/provider"
)

// Aggregator fans requests out across a provider.Registry's healthy,
// chain-supporting providers in priority order.
type Aggregator struct {
	registry *provider.Registry
	cache    *cache.Cache
	log      zerolog.Logger

	// blockVisionChain names the Sui-specific provider that must always be
	// tried before generic multi-chain providers, when registered.
	blockVisionChain string
}

func New(registry *provider.Registry, ttl time.Duration, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		registry:         registry,
		cache:            cache.New(ttl, ttl*2),
		log:              log.With().Str("component", "aggregator").Logger(),
		blockVisionChain: "sui",
	}
}

// providersFor returns the chain's supporting providers in priority
// order, with a Sui-specific chain-specific provider (if any) moved to
// the front.
func (a *Aggregator) providersFor(chain string) []provider.DataProvider {
	all := a.registry.ForChain(chain)
	if strings.EqualFold(chain, a.blockVisionChain) {
		reordered := make([]provider.DataProvider, 0, len(all))
		var chainSpecific []provider.DataProvider
		for _, p := range all {
			if p.Kind() == provider.KindChainSpecific {
				chainSpecific = append(chainSpecific, p)
			} else {
				reordered = append(reordered, p)
			}
		}
		return append(chainSpecific, reordered...)
	}
	return all
}

func (a *Aggregator) GetWalletAssets(ctx context.Context, chain, address string, includeZero bool) ([]provider.WalletAsset, error) {
	key := fmt.Sprintf("assets:%s:%s:%t", address, chain, includeZero)
	if cached, ok := a.cache.Get(key); ok {
		return cached.([]provider.WalletAsset), nil
	}

	for _, p := range a.providersFor(chain) {
		if !p.IsHealthy() {
			continue
		}
		assets, err := p.GetWalletAssets(ctx, chain, address)
		if err != nil {
			p.RecordError()
			a.log.Debug().Err(err).Str("provider", p.Name()).Str("chain", chain).Msg("provider failed to fetch wallet assets")
			continue
		}
		if len(assets) == 0 {
			continue
		}
		p.ResetErrors()
		a.cache.Set(key, assets, cache.DefaultExpiration)
		return assets, nil
	}
	return nil, nil
}

func (a *Aggregator) GetTokenBalance(ctx context.Context, chain, address, contract string) (*big.Int, error) {
	key := fmt.Sprintf("balance:%s:%s:%s", address, contract, chain)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(*big.Int), nil
	}

	for _, p := range a.providersFor(chain) {
		if !p.IsHealthy() {
			continue
		}
		balance, err := p.GetTokenBalance(ctx, chain, address, contract)
		if err != nil {
			p.RecordError()
			a.log.Debug().Err(err).Str("provider", p.Name()).Str("chain", chain).Msg("provider failed to fetch token balance")
			continue
		}
		if balance == nil || balance.Sign() <= 0 {
			continue
		}
		p.ResetErrors()
		a.cache.Set(key, balance, cache.DefaultExpiration)
		return balance, nil
	}
	return big.NewInt(0), nil
}

func (a *Aggregator) GetTokenPrice(ctx context.Context, symbol, chain string) (*decimal.Decimal, error) {
	key := fmt.Sprintf("price:%s:%s", symbol, chain)
	if cached, ok := a.cache.Get(key); ok {
		price := cached.(decimal.Decimal)
		return &price, nil
	}

	for _, p := range a.providersFor(chain) {
		if !p.IsHealthy() {
			continue
		}
		price, err := p.GetTokenPrice(ctx, symbol, chain)
		if err != nil {
			p.RecordError()
			a.log.Debug().Err(err).Str("provider", p.Name()).Str("chain", chain).Msg("provider failed to fetch token price")
			continue
		}
		if price == nil {
			continue
		}
		p.ResetErrors()
		a.cache.Set(key, *price, cache.DefaultExpiration)
		return price, nil
	}
	return nil, nil
}

// ProviderStatus reports one provider's health for the operational status
// surface.
type ProviderStatus struct {
	Name            string
	SupportedChains []string
	Healthy         bool
}

func (a *Aggregator) Status() []ProviderStatus {
	all := a.registry.All()
	statuses := make([]ProviderStatus, 0, len(all))
	for _, p := range all {
		statuses = append(statuses, ProviderStatus{
			Name:            p.Name(),
			SupportedChains: p.SupportedChains(),
			Healthy:         p.IsHealthy(),
		})
	}
	return statuses
}

// ResetProviderHealth clears every provider's error counter (// administrative reset action).
func (a *Aggregator) ResetProviderHealth() {
	a.registry.ResetAll()
}
