// Package provider implements the Data Provider Registry: a
// static list of external HTTP providers with health tracking, priority
// ordering, and a shared capability contract, using a factory-table
// registry with a ProviderConfig shape and priority sort, generalized
// from transaction-broadcast operations to the read-only balance/price
// operations this system needs. There is no encrypted on-disk provider
// config store here: there are no signing keys to guard alongside
// provider API keys, so API keys live in the plain Config struct like
// everything else.
package provider

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Tier mirrors priority ∈ {primary, secondary, fallback}.
type Tier int

const (
	TierPrimary Tier = iota
	TierSecondary
	TierFallback
)

// Kind mirrors type tag ∈ {multi-chain, chain-specific, fallback}.
type Kind string

const (
	KindMultiChain   Kind = "multi-chain"
	KindChainSpecific Kind = "chain-specific"
	KindFallback     Kind = "fallback"
)

// WalletAsset is one balance row returned by GetWalletAssets.
type WalletAsset struct {
	Symbol   string
	Contract string // empty for the chain's native coin
	Name     string
	Decimals int
	Balance  decimal.Decimal
}

// DataProvider is the capability set every external HTTP data source
// implements: the same read operations as a Chain Driver,
// plus price lookup.
type DataProvider interface {
	Name() string
	Kind() Kind
	Tier() Tier
	SupportedChains() []string
	SupportsChain(chain string) bool

	// RateLimitDelay is the minimum duration between requests to this
	// provider.
	RateLimitDelay() time.Duration

	GetWalletAssets(ctx context.Context, chain, address string) ([]WalletAsset, error)
	GetTokenBalance(ctx context.Context, chain, address, contract string) (*big.Int, error)
	GetTokenPrice(ctx context.Context, symbol, chain string) (*decimal.Decimal, error)

	// RecordError/ResetErrors implement the error-counter health gate
	//: a provider becomes unhealthy once its error count
	// reaches its configured max, and stays unhealthy until explicitly
	// reset.
	RecordError()
	ResetErrors()
	IsHealthy() bool

	Close() error
}

// HealthGate is embeddable by provider implementations to get the
// error-counter-with-max health semantics for free.
type HealthGate struct {
	mu        sync.Mutex
	errors    int
	maxErrors int
}

func NewHealthGate(maxErrors int) *HealthGate {
	if maxErrors <= 0 {
		maxErrors = 5
	}
	return &HealthGate{maxErrors: maxErrors}
}

func (g *HealthGate) RecordError() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors++
}

func (g *HealthGate) ResetErrors() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors = 0
}

func (g *HealthGate) IsHealthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errors < g.maxErrors
}

// Registry holds the static, priority-ordered provider list: providers are
// sorted by priority (stable) on construction, and callers always iterate
// in that order.
type Registry struct {
	mu        sync.RWMutex
	providers []DataProvider
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider and re-sorts the list by tier (stable, so
// providers registered earlier within the same tier keep their relative
// order — a bubble-sort-by-priority replaced with a stable sort.Slice
// since insertion order now matters too).
func (r *Registry) Register(p DataProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Tier() < r.providers[j].Tier()
	})
}

// ForChain returns every registered provider supporting chain, in
// priority order, regardless of current health (callers filter health
// themselves so they can distinguish "skipped, unhealthy" for logging).
func (r *Registry) ForChain(chain string) []DataProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DataProvider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.SupportsChain(chain) {
			out = append(out, p)
		}
	}
	return out
}

// All returns every registered provider in priority order.
func (r *Registry) All() []DataProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DataProvider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ByName finds a registered provider by name, used by the reset-health
// operational action.
func (r *Registry) ByName(name string) (DataProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// ResetAll clears every provider's error counter.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		p.ResetErrors()
	}
}

var ErrNoAPIKey = fmt.Errorf("provider: no API key configured")
