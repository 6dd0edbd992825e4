package ops

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/discovery"
	"github.com/yourusername/portfoliod/internal/metrics"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/provider"
	"github.com/yourusername/portfoliod/internal/scheduler"
	"github.com/yourusername/portfoliod/internal/store"
	"github.com/yourusername/portfoliod/internal/tokenlibrary"
	"github.com/yourusername/portfoliod/internal/valuation"
)

type fakeDriver struct{ reconnected int }

func (f *fakeDriver) NativeBalance(ctx context.Context, address string) (chaindriver.NativeBalanceResult, error) {
	return chaindriver.NativeBalanceResult{}, chaindriver.ErrUnsupported
}
func (f *fakeDriver) TokenBalance(ctx context.Context, address, contract string) (chaindriver.TokenBalanceResult, error) {
	return chaindriver.TokenBalanceResult{}, chaindriver.ErrUnsupported
}
func (f *fakeDriver) EnumerateTokens(ctx context.Context, address string) ([]chaindriver.TokenBalanceResult, error) {
	return nil, chaindriver.ErrUnsupported
}
func (f *fakeDriver) FirstTransactionTime(ctx context.Context, address string) (chaindriver.FirstTransactionResult, bool, error) {
	return chaindriver.FirstTransactionResult{}, false, nil
}
func (f *fakeDriver) ValidateAddress(address string) bool { return true }
func (f *fakeDriver) Close() error                         { return nil }

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	driverReg := chaindriver.NewRegistry()
	driverReg.RegisterFamily("evm", func(models.Chain) (chaindriver.Driver, error) { return &fakeDriver{}, nil })
	driverReg.RegisterChain(models.Chain{Name: "ethereum", Family: "evm"})

	providerReg := provider.NewRegistry()
	agg := aggregator.New(providerReg, time.Minute, zerolog.Nop())

	tokens := tokenlibrary.New(st, driverReg)
	require.NoError(t, tokens.Seed(context.Background()))

	priceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(priceServer.Close)
	prices := priceengine.New(priceengine.Config{BaseURL: priceServer.URL, MaxRetries: 1, RateLimitDelay: time.Millisecond, RetryBaseDelay: time.Millisecond}, tokens, st, time.Minute, zerolog.Nop())

	disc := discovery.New(agg, driverReg, tokens, prices, metrics.NoOpMetrics{}, discovery.Config{CacheTTL: time.Minute, FallbackToChainDriver: true}, zerolog.Nop())
	val := valuation.New(st, agg, driverReg, prices, metrics.NoOpMetrics{}, zerolog.Nop())
	sched := scheduler.New(st, val, prices, agg, driverReg, scheduler.Config{RetentionYears: 2}, zerolog.Nop())

	return New(st, tokens, disc, val, prices, agg, driverReg, sched)
}

func TestAddAsset_RequiresAddressChainSymbol(t *testing.T) {
	d := newTestDispatcher(t)
	_, _, err := d.AddAsset(AddAssetRequest{})
	assert.Error(t, err)
}

func TestAddAsset_CreatesThenReportsExisting(t *testing.T) {
	d := newTestDispatcher(t)
	req := AddAssetRequest{Address: "0xabc", Chain: "ethereum", Symbol: "usdc", Contract: "0xusdc", Decimals: 6}

	id1, created1, err := d.AddAsset(req)
	require.NoError(t, err)
	assert.True(t, created1)
	assert.NotEmpty(t, id1)

	id2, created2, err := d.AddAsset(req)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id1, id2)
}

func TestQuickAddAsset_ResolvesFromLibrary(t *testing.T) {
	d := newTestDispatcher(t)
	id, created, err := d.QuickAddAsset(context.Background(), "0xabc", "ethereum", "eth", "core")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)
}

func TestQuickAddAsset_UnknownSymbolIsNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	_, _, err := d.QuickAddAsset(context.Background(), "0xabc", "ethereum", "NOPE", "core")
	assert.Error(t, err)
}

func TestBatchAddAssets_OneFailureDoesNotAbortSiblings(t *testing.T) {
	d := newTestDispatcher(t)
	results := d.BatchAddAssets([]AddAssetRequest{
		{Address: "0xabc", Chain: "ethereum", Symbol: "usdc", Contract: "0xusdc", Decimals: 6},
		{}, // invalid, missing required fields
		{Address: "0xdef", Chain: "ethereum", Symbol: "usdt", Contract: "0xusdt", Decimals: 6},
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestUpdateAndRemoveAsset(t *testing.T) {
	d := newTestDispatcher(t)
	id, _, err := d.AddAsset(AddAssetRequest{Address: "0xabc", Chain: "ethereum", Symbol: "usdc", Contract: "0xusdc", Decimals: 6})
	require.NoError(t, err)

	require.NoError(t, d.UpdateAsset(id, "watchlist"))
	require.NoError(t, d.RemoveAsset(id))

	assets, err := d.QueryAssets(context.Background(), "", "", "")
	require.NoError(t, err)
	for _, a := range assets {
		assert.NotEqual(t, id, a.AssetID)
	}
}

func TestPortfolioSummary_ReflectsAddedAssets(t *testing.T) {
	d := newTestDispatcher(t)
	_, _, err := d.AddAsset(AddAssetRequest{Address: "0xabc", Chain: "ethereum", Symbol: "usdc", Contract: "0xusdc", Decimals: 6})
	require.NoError(t, err)

	summary, err := d.PortfolioSummary(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalAssets)
}

func TestClearAllCaches_DoesNotError(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() { d.ClearAllCaches() })
}

func TestResetProviderErrors_DoesNotError(t *testing.T) {
	d := newTestDispatcher(t)
	assert.NotPanics(t, func() { d.ResetProviderErrors() })
}

func TestReconnectChain_SpecificChain(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.ReconnectChain("ethereum"))
}

func TestReconnectChain_EmptyReconnectsAll(t *testing.T) {
	d := newTestDispatcher(t)
	require.NoError(t, d.ReconnectChain(""))
}

func TestPurgeExpiredHistory_DoesNotError(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.PurgeExpiredHistory()
	require.NoError(t, err)
}

func TestGetStatus_ReturnsPopulatedSnapshot(t *testing.T) {
	d := newTestDispatcher(t)
	status := d.GetStatus()
	assert.NotNil(t, status.Providers)
}

func TestDetectMode_DefaultsToInteractive(t *testing.T) {
	t.Setenv("PORTFOLIOD_MODE", "")
	assert.Equal(t, ModeInteractive, DetectMode())
}

func TestDetectMode_DashboardIsCaseInsensitive(t *testing.T) {
	t.Setenv("PORTFOLIOD_MODE", "Dashboard")
	assert.Equal(t, ModeDashboard, DetectMode())
}

func TestWriteJSON_EmitsSingleLine(t *testing.T) {
	require.NoError(t, WriteJSON(map[string]string{"ok": "true"}))
}
