package scheduler

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/metrics"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/provider"
	"github.com/yourusername/portfoliod/internal/store"
	"github.com/yourusername/portfoliod/internal/valuation"
)

func TestAdaptiveSchedule_NextUsesIntervalNormally(t *testing.T) {
	s := &adaptiveSchedule{interval: time.Hour, cooldown: time.Minute}
	now := time.Now()
	assert.Equal(t, now.Add(time.Hour), s.Next(now))
}

func TestAdaptiveSchedule_NextUsesCooldownAfterFailure(t *testing.T) {
	s := &adaptiveSchedule{interval: time.Hour, cooldown: time.Minute}
	s.markFailed()
	now := time.Now()
	assert.Equal(t, now.Add(time.Minute), s.Next(now))
	// the next call after the cooldown fires reverts to the normal interval.
	assert.Equal(t, now.Add(time.Hour), s.Next(now))
}

func TestAlignedHourlyPoints_GeneratesOnePerHour(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	points := alignedHourlyPoints(start, end)
	require.Len(t, points, 4)
	assert.Equal(t, models.AlignToHour(start), points[0])
	assert.Equal(t, models.AlignToHour(end), points[3])
}

type fakeDriver struct {
	firstTxTime time.Time
	firstTxOK   bool
}

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
	return chaindriver.FirstTransactionResult{Timestamp: f.firstTxTime}, f.firstTxOK, nil
}
func (f *fakeDriver) ValidateAddress(address string) bool { return true }
func (f *fakeDriver) Close() error                         { return nil }

type noopProvider struct{ *provider.HealthGate }

func (p *noopProvider) Name() string                   { return "noop" }
func (p *noopProvider) Kind() provider.Kind             { return provider.KindMultiChain }
func (p *noopProvider) Tier() provider.Tier             { return provider.TierPrimary }
func (p *noopProvider) SupportedChains() []string       { return []string{"ethereum"} }
func (p *noopProvider) SupportsChain(chain string) bool { return chain == "ethereum" }
func (p *noopProvider) RateLimitDelay() time.Duration   { return 0 }
func (p *noopProvider) GetWalletAssets(ctx context.Context, chain, address string) ([]provider.WalletAsset, error) {
	return nil, nil
}
func (p *noopProvider) GetTokenBalance(ctx context.Context, chain, address, contract string) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}
func (p *noopProvider) GetTokenPrice(ctx context.Context, symbol, chain string) (*decimal.Decimal, error) {
	return nil, nil
}
func (p *noopProvider) Close() error { return nil }

type fixture struct {
	sched *Scheduler
	store *store.Store
	drv   *fakeDriver
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	drv := &fakeDriver{}
	driverReg := chaindriver.NewRegistry()
	driverReg.RegisterFamily("evm", func(models.Chain) (chaindriver.Driver, error) { return drv, nil })
	driverReg.RegisterChain(models.Chain{Name: "ethereum", Family: "evm"})

	providerReg := provider.NewRegistry()
	providerReg.Register(&noopProvider{HealthGate: provider.NewHealthGate(3)})
	agg := aggregator.New(providerReg, time.Minute, zerolog.Nop())

	priceServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"usd-coin":{"usd":1}}`))
	}))
	t.Cleanup(priceServer.Close)
	prices := priceengine.New(priceengine.Config{BaseURL: priceServer.URL, MaxRetries: 1, RateLimitDelay: time.Millisecond, RetryBaseDelay: time.Millisecond}, constTokenLookup{}, st, time.Minute, zerolog.Nop())

	val := valuation.New(st, agg, driverReg, prices, metrics.NoOpMetrics{}, zerolog.Nop())
	sched := New(st, val, prices, agg, driverReg, cfg, zerolog.Nop())

	return &fixture{sched: sched, store: st, drv: drv}
}

type constTokenLookup struct{}

func (constTokenLookup) FindExternalPriceID(ctx context.Context, symbol, chain string) (string, bool) {
	return "usd-coin", true
}

func seedAsset(t *testing.T, st *store.Store) string {
	t.Helper()
	walletID, err := st.GetOrCreateWallet("0xabc", "ethereum")
	require.NoError(t, err)
	tokenID, _, err := st.GetOrCreateToken(models.Token{Symbol: "USDC", Chain: "ethereum", Contract: "0xusdc", Name: "USD Coin", Decimals: 6, IsActive: true})
	require.NoError(t, err)
	assetID, _, err := st.AddAsset("asset-1", walletID, tokenID, "core", time.Now())
	require.NoError(t, err)
	return assetID
}

func TestRunSnapshotJob_WritesSnapshotForEachAsset(t *testing.T) {
	fx := newFixture(t, Config{})
	assetID := seedAsset(t, fx.store)

	require.NoError(t, fx.sched.runSnapshotJob(context.Background()))

	hour := models.AlignToHour(time.Now())
	has, err := fx.store.HasAssetSnapshot(assetID, hour)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRunBackfillJob_FillsMissingPointsAcrossWindow(t *testing.T) {
	fx := newFixture(t, Config{BackfillWindow: 3 * time.Hour, BackfillBatchSize: 10, BackfillBatchSleep: time.Millisecond})
	assetID := seedAsset(t, fx.store)

	require.NoError(t, fx.sched.runBackfillJob(context.Background()))

	hour := models.AlignToHour(time.Now())
	has, err := fx.store.HasBalanceHistoryPoint(assetID, hour)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestPurgeExpiredHistory_DeletesRowsOlderThanRetention(t *testing.T) {
	fx := newFixture(t, Config{RetentionYears: 1})
	assetID := seedAsset(t, fx.store)

	old := time.Now().AddDate(-2, 0, 0).Unix()
	require.NoError(t, fx.store.UpsertBalanceHistoryPoint(models.BalanceHistoryPoint{AssetID: assetID, Timestamp: old, Balance: decimal.NewFromInt(1)}))

	deleted, err := fx.sched.PurgeExpiredHistory()
	require.NoError(t, err)
	assert.Greater(t, deleted, int64(0))

	has, err := fx.store.HasBalanceHistoryPoint(assetID, old)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWalletCreationTime_PrefersStoredMetadata(t *testing.T) {
	fx := newFixture(t, Config{})
	walletID, err := fx.store.GetOrCreateWallet("0xabc", "ethereum")
	require.NoError(t, err)
	stored := time.Unix(1000, 0).UTC()
	require.NoError(t, fx.store.SetWalletCreationMetadata(walletID, &stored, "0xtxhash", nil, false))

	ts, ok := fx.sched.WalletCreationTime(context.Background(), walletID, "0xabc", "ethereum")
	require.True(t, ok)
	assert.Equal(t, stored.Unix(), ts.Unix())
}

func TestWalletCreationTime_FallsBackToDriverAndPersists(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.drv.firstTxOK = true
	fx.drv.firstTxTime = time.Unix(2000, 0).UTC()

	walletID, err := fx.store.GetOrCreateWallet("0xabc", "ethereum")
	require.NoError(t, err)

	ts, ok := fx.sched.WalletCreationTime(context.Background(), walletID, "0xabc", "ethereum")
	require.True(t, ok)
	assert.Equal(t, fx.drv.firstTxTime.Unix(), ts.Unix())

	w, err := fx.store.GetWallet(walletID)
	require.NoError(t, err)
	require.NotNil(t, w.CreationTimestamp)
	assert.Equal(t, fx.drv.firstTxTime.Unix(), w.CreationTimestamp.Unix())
}

func TestWalletCreationTime_UnresolvableReturnsFalse(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.drv.firstTxOK = false

	walletID, err := fx.store.GetOrCreateWallet("0xabc", "ethereum")
	require.NoError(t, err)

	_, ok := fx.sched.WalletCreationTime(context.Background(), walletID, "0xabc", "ethereum")
	assert.False(t, ok)
}
