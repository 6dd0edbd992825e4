package aggregator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/provider"
)

type stubProvider struct {
	*provider.HealthGate
	name    string
	kind    provider.Kind
	chains  map[string]bool
	assets  []provider.WalletAsset
	balance *big.Int
	price   *decimal.Decimal
	err     error
	calls   int
}

func newStub(name string, kind provider.Kind, chains ...string) *stubProvider {
	set := make(map[string]bool, len(chains))
	for _, c := range chains {
		set[c] = true
	}
	return &stubProvider{HealthGate: provider.NewHealthGate(3), name: name, kind: kind, chains: set}
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) Kind() provider.Kind         { return s.kind }
func (s *stubProvider) Tier() provider.Tier         { return provider.TierPrimary }
func (s *stubProvider) SupportedChains() []string {
	out := make([]string, 0, len(s.chains))
	for c := range s.chains {
		out = append(out, c)
	}
	return out
}
func (s *stubProvider) SupportsChain(chain string) bool { return s.chains[chain] }
func (s *stubProvider) RateLimitDelay() time.Duration   { return 0 }
func (s *stubProvider) GetWalletAssets(ctx context.Context, chain, address string) ([]provider.WalletAsset, error) {
	s.calls++
	return s.assets, s.err
}
func (s *stubProvider) GetTokenBalance(ctx context.Context, chain, address, contract string) (*big.Int, error) {
	s.calls++
	return s.balance, s.err
}
func (s *stubProvider) GetTokenPrice(ctx context.Context, symbol, chain string) (*decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}
func (s *stubProvider) Close() error { return nil }

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestGetWalletAssets_SkipsEmptyAndUsesFirstNonEmpty(t *testing.T) {
	reg := provider.NewRegistry()
	empty := newStub("empty", provider.KindMultiChain, "ethereum")
	good := newStub("good", provider.KindMultiChain, "ethereum")
	good.assets = []provider.WalletAsset{{Symbol: "USDC"}}
	reg.Register(empty)
	reg.Register(good)

	agg := New(reg, time.Minute, testLogger())
	assets, err := agg.GetWalletAssets(context.Background(), "ethereum", "0xabc", false)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "USDC", assets[0].Symbol)
	assert.Equal(t, 1, empty.calls)
	assert.Equal(t, 1, good.calls)
}

func TestGetWalletAssets_SkipsUnhealthyProvider(t *testing.T) {
	reg := provider.NewRegistry()
	unhealthy := newStub("unhealthy", provider.KindMultiChain, "ethereum")
	for i := 0; i < 3; i++ {
		unhealthy.RecordError()
	}
	unhealthy.assets = []provider.WalletAsset{{Symbol: "SHOULD_NOT_APPEAR"}}
	good := newStub("good", provider.KindMultiChain, "ethereum")
	good.assets = []provider.WalletAsset{{Symbol: "USDC"}}
	reg.Register(unhealthy)
	reg.Register(good)

	agg := New(reg, time.Minute, testLogger())
	assets, err := agg.GetWalletAssets(context.Background(), "ethereum", "0xabc", false)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "USDC", assets[0].Symbol)
	assert.Equal(t, 0, unhealthy.calls, "unhealthy providers should never be called")
}

func TestGetWalletAssets_ErrorRecordsAndMovesOn(t *testing.T) {
	reg := provider.NewRegistry()
	failing := newStub("failing", provider.KindMultiChain, "ethereum")
	failing.err = assert.AnError
	good := newStub("good", provider.KindMultiChain, "ethereum")
	good.assets = []provider.WalletAsset{{Symbol: "USDC"}}
	reg.Register(failing)
	reg.Register(good)

	agg := New(reg, time.Minute, testLogger())
	assets, err := agg.GetWalletAssets(context.Background(), "ethereum", "0xabc", false)
	require.NoError(t, err)
	require.Len(t, assets, 1)
}

func TestGetWalletAssets_NoProviderHasData(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(newStub("empty", provider.KindMultiChain, "ethereum"))

	agg := New(reg, time.Minute, testLogger())
	assets, err := agg.GetWalletAssets(context.Background(), "ethereum", "0xabc", false)
	require.NoError(t, err)
	assert.Nil(t, assets)
}

func TestGetWalletAssets_CachesResult(t *testing.T) {
	reg := provider.NewRegistry()
	good := newStub("good", provider.KindMultiChain, "ethereum")
	good.assets = []provider.WalletAsset{{Symbol: "USDC"}}
	reg.Register(good)

	agg := New(reg, time.Minute, testLogger())
	_, err := agg.GetWalletAssets(context.Background(), "ethereum", "0xabc", false)
	require.NoError(t, err)
	_, err = agg.GetWalletAssets(context.Background(), "ethereum", "0xabc", false)
	require.NoError(t, err)
	assert.Equal(t, 1, good.calls, "second call should hit the cache")
}

func TestGetTokenBalance_ZeroOrNegativeIsNotUsed(t *testing.T) {
	reg := provider.NewRegistry()
	zero := newStub("zero", provider.KindMultiChain, "ethereum")
	zero.balance = big.NewInt(0)
	good := newStub("good", provider.KindMultiChain, "ethereum")
	good.balance = big.NewInt(100)
	reg.Register(zero)
	reg.Register(good)

	agg := New(reg, time.Minute, testLogger())
	balance, err := agg.GetTokenBalance(context.Background(), "ethereum", "0xabc", "0xdef")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), balance)
}

func TestGetTokenBalance_DefaultsToZero(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(newStub("empty", provider.KindMultiChain, "ethereum"))

	agg := New(reg, time.Minute, testLogger())
	balance, err := agg.GetTokenBalance(context.Background(), "ethereum", "0xabc", "0xdef")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), balance)
}

func TestGetTokenPrice_FirstNonNilWins(t *testing.T) {
	reg := provider.NewRegistry()
	nilPrice := newStub("nilprice", provider.KindMultiChain, "ethereum")
	good := newStub("good", provider.KindMultiChain, "ethereum")
	price := decimal.NewFromFloat(1800.50)
	good.price = &price
	reg.Register(nilPrice)
	reg.Register(good)

	agg := New(reg, time.Minute, testLogger())
	got, err := agg.GetTokenPrice(context.Background(), "ETH", "ethereum")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(price))
}

func TestProvidersFor_SuiReordersChainSpecificFirst(t *testing.T) {
	reg := provider.NewRegistry()
	generic := newStub("generic", provider.KindMultiChain, "sui")
	specific := newStub("blockvision", provider.KindChainSpecific, "sui")
	reg.Register(generic)
	reg.Register(specific)

	agg := New(reg, time.Minute, testLogger())
	ordered := agg.providersFor("sui")
	require.Len(t, ordered, 2)
	assert.Equal(t, "blockvision", ordered[0].Name())
}

func TestProvidersFor_NonSuiChainKeepsRegistryOrder(t *testing.T) {
	reg := provider.NewRegistry()
	a := newStub("a", provider.KindMultiChain, "ethereum")
	b := newStub("b", provider.KindChainSpecific, "ethereum")
	reg.Register(a)
	reg.Register(b)

	agg := New(reg, time.Minute, testLogger())
	ordered := agg.providersFor("ethereum")
	require.Len(t, ordered, 2)
	assert.Equal(t, "a", ordered[0].Name())
}

func TestStatus(t *testing.T) {
	reg := provider.NewRegistry()
	reg.Register(newStub("good", provider.KindMultiChain, "ethereum"))

	agg := New(reg, time.Minute, testLogger())
	statuses := agg.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "good", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
}

func TestResetProviderHealth(t *testing.T) {
	reg := provider.NewRegistry()
	p := newStub("flaky", provider.KindMultiChain, "ethereum")
	for i := 0; i < 3; i++ {
		p.RecordError()
	}
	reg.Register(p)

	agg := New(reg, time.Minute, testLogger())
	assert.False(t, p.IsHealthy())
	agg.ResetProviderHealth()
	assert.True(t, p.IsHealthy())
}
