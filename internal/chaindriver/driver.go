// Package chaindriver defines the per-chain-family balance/enumeration
// contract and the lazy-initialized registry that keys driver
// instances by chain name.
package chaindriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
)

// NativeBalanceResult is the native-coin balance for a wallet, in whole
// token units (already divided by 10^decimals).
type NativeBalanceResult struct {
	Balance  decimal.Decimal
	Decimals int
}

// TokenBalanceResult is a single fungible-token balance.
type TokenBalanceResult struct {
	Contract string
	Balance  decimal.Decimal
	Decimals int
}

// FirstTransactionResult is the outcome of a wallet-creation-time lookup:
// the timestamp of the earliest transaction a driver could find, plus
// enough provenance (tx hash, block number) to persist it, and whether
// the timestamp is a genuine explorer-resolved value or an estimate.
type FirstTransactionResult struct {
	Timestamp   time.Time
	TxHash      string
	BlockNumber *uint64
	IsEstimated bool
}

// Driver is implemented once per chain family (EVM, Solana, Sui, Bitcoin).
// A single Driver instance may serve many chains within its family (e.g.
// one EVM driver instance per distinct chain, since each has its own RPC
// endpoint set).
type Driver interface {
	// NativeBalance returns the wallet's native-coin balance.
	NativeBalance(ctx context.Context, address string) (NativeBalanceResult, error)

	// TokenBalance returns the balance of a specific fungible-token
	// contract/mint held by address.
	TokenBalance(ctx context.Context, address, contract string) (TokenBalanceResult, error)

	// EnumerateTokens lists every fungible-token balance a wallet holds,
	// where the chain exposes this natively (empty + ErrUnsupported
	// otherwise, forcing callers up the stack to fall back to
	// predefined-token probing ).
	EnumerateTokens(ctx context.Context, address string) ([]TokenBalanceResult, error)

	// FirstTransactionTime resolves wallet creation time from the first
	// on-chain transaction, when the chain exposes a cheap way to find
	// one, preferring a genuine explorer/RPC lookup (IsEstimated=false)
	// over a heuristic. Returns ok=false when unsupported or
	// undeterminable.
	FirstTransactionTime(ctx context.Context, address string) (result FirstTransactionResult, ok bool, err error)

	// ValidateAddress reports whether address is well-formed for this
	// chain family, without any network call.
	ValidateAddress(address string) bool

	Close() error
}

// ErrUnsupported marks a Driver operation the chain family does not
// provide; callers treat it as "fall back", not as a failure.
var ErrUnsupported = errs.NewValidation("chaindriver", "operation not supported on this chain family")

// Factory builds a Driver for one chain from its endpoint configuration.
type Factory func(chain models.Chain) (Driver, error)

// Registry lazily constructs and caches one Driver per chain name,
// double-checked-locking so concurrent first-use callers share a single
// instance — "lazy-init-under-lock" in place of ad hoc nil-checks
// scattered through call sites.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ChainFamily]Factory
	instances map[string]Driver
	chains    map[string]models.Chain
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[models.ChainFamily]Factory),
		instances: make(map[string]Driver),
		chains:    make(map[string]models.Chain),
	}
}

// RegisterFamily binds a Driver constructor to a chain family.
func (r *Registry) RegisterFamily(family models.ChainFamily, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[family] = f
}

// RegisterChain makes a chain's configuration known to the registry so
// Get can lazily build its driver on first use.
func (r *Registry) RegisterChain(chain models.Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[chain.Name] = chain
}

// Get returns the (lazily constructed) driver for chainName.
func (r *Registry) Get(chainName string) (Driver, error) {
	r.mu.RLock()
	if d, ok := r.instances[chainName]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: another goroutine may have built it while we waited for
	// the write lock.
	if d, ok := r.instances[chainName]; ok {
		return d, nil
	}

	chain, ok := r.chains[chainName]
	if !ok {
		return nil, errs.NewValidation("chaindriver.Registry.Get", fmt.Sprintf("unknown chain %q", chainName))
	}
	factory, ok := r.factories[chain.Family]
	if !ok {
		return nil, errs.NewFatal("chaindriver.Registry.Get", fmt.Sprintf("no driver registered for family %q", chain.Family), nil)
	}

	driver, err := factory(chain)
	if err != nil {
		return nil, fmt.Errorf("construct driver for %s: %w", chainName, err)
	}
	r.instances[chainName] = driver
	return driver, nil
}

// Chains returns the names of every registered chain.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	return names
}

// Close tears down every constructed driver instance.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, d := range r.instances {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reconnect closes and discards chainName's cached driver instance, so the
// next Get rebuilds it from scratch.
func (r *Registry) Reconnect(chainName string) error {
	r.mu.Lock()
	d, ok := r.instances[chainName]
	if ok {
		delete(r.instances, chainName)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return d.Close()
}
