// Package scheduler implements the Historical Snapshot & Back-Fill
// Scheduler: two cooperative periodic jobs — a snapshot job
// that records current detailed-asset valuations, and a back-fill job that
// approximates missing historical points with current live values. A
// failed run falls back to a short cooldown instead of its configured
// period before retrying, via a cron.Schedule that adapts on failure.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/store"
	"github.com/yourusername/portfoliod/internal/valuation"
)

type Config struct {
	SnapshotInterval        time.Duration
	SnapshotFailureCooldown time.Duration
	BackfillInterval        time.Duration
	BackfillWindow          time.Duration
	BackfillBatchSize       int
	BackfillBatchSleep      time.Duration
	RetentionYears          int
}

// Scheduler owns the cron driver and both jobs' dependencies.
type Scheduler struct {
	store      *store.Store
	valuation  *valuation.Engine
	prices     *priceengine.Engine
	aggregator *aggregator.Aggregator
	drivers    *chaindriver.Registry
	cfg        Config
	log        zerolog.Logger

	cron *cron.Cron

	mu                sync.Mutex
	creationTimeCache map[string]time.Time // "address:chain" -> creation time
}

func New(st *store.Store, val *valuation.Engine, prices *priceengine.Engine, agg *aggregator.Aggregator, drivers *chaindriver.Registry, cfg Config, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store: st, valuation: val, prices: prices, aggregator: agg, drivers: drivers,
		cfg:               cfg,
		log:               log.With().Str("component", "scheduler").Logger(),
		cron:              cron.New(),
		creationTimeCache: make(map[string]time.Time),
	}
}

// adaptiveSchedule drives a job at its normal interval, except the run
// immediately following a failure fires after cooldown instead — the
// cron.Schedule-shaped equivalent of start_auto_update's
// "except: await asyncio.sleep(300)".
type adaptiveSchedule struct {
	mu       sync.Mutex
	interval time.Duration
	cooldown time.Duration
	failed   bool
}

func (s *adaptiveSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		s.failed = false
		return t.Add(s.cooldown)
	}
	return t.Add(s.interval)
}

func (s *adaptiveSchedule) markFailed() {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
}

// Start registers both jobs and starts the cron driver. Job bodies observe
// ctx and return at their next checkpoint when it is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	snapshotSchedule := &adaptiveSchedule{interval: s.cfg.SnapshotInterval, cooldown: s.cfg.SnapshotFailureCooldown}
	s.cron.Schedule(snapshotSchedule, cron.FuncJob(func() {
		if err := s.runSnapshotJob(ctx); err != nil {
			s.log.Error().Err(err).Msg("snapshot job failed, backing off before next attempt")
			snapshotSchedule.markFailed()
		}
	}))

	s.cron.Schedule(cron.Every(s.cfg.BackfillInterval), cron.FuncJob(func() {
		if err := s.runBackfillJob(ctx); err != nil {
			s.log.Error().Err(err).Msg("back-fill job failed")
		}
	}))

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
}

// Stop blocks until in-flight job runs drain.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// runSnapshotJob implements snapshot job: collect current
// detailed assets, upsert an AssetSnapshot at the current aligned hour for
// each.
func (s *Scheduler) runSnapshotJob(ctx context.Context) error {
	assets, err := s.valuation.ListDetailedAssets(ctx, "", "", "")
	if err != nil {
		return err
	}

	hour := models.AlignToHour(time.Now())
	for _, a := range assets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		snap := models.NewAssetSnapshot(a.AssetID, hour, a.Quantity, a.PriceUSD)
		if err := s.store.UpsertAssetSnapshot(snap); err != nil {
			s.log.Warn().Err(err).Str("asset_id", a.AssetID).Msg("failed to upsert asset snapshot")
		}
	}
	return nil
}

// runBackfillJob implements back-fill job: for the bounded
// window ending now, generate aligned-hourly time points and write current
// live values as an approximation wherever a point is missing, in batches
// separated by a sleep to respect external rate limits.
func (s *Scheduler) runBackfillJob(ctx context.Context) error {
	end := time.Now()
	start := end.Add(-s.cfg.BackfillWindow)
	points := alignedHourlyPoints(start, end)

	assets, err := s.store.ListActiveAssets("", "", "")
	if err != nil {
		return err
	}

	batchSize := s.cfg.BackfillBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for i := 0; i < len(points); i += batchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch := points[i:min(i+batchSize, len(points))]
		for _, ts := range batch {
			s.backfillPointForAssets(ctx, assets, ts)
		}
		if i+batchSize < len(points) {
			select {
			case <-time.After(s.cfg.BackfillBatchSleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// backfillPointForAssets fills price_history and balance_history gaps at
// one aligned timestamp for every asset's token, using the token/asset's
// *current* live value as the approximation — exact historical values are
// unavailable from these data sources, so "approximate with current" is
// the only option that doesn't silently skip the point.
func (s *Scheduler) backfillPointForAssets(ctx context.Context, assets []store.AssetRow, ts int64) {
	seenTokens := make(map[string]bool)
	for _, a := range assets {
		if !seenTokens[a.TokenID] {
			seenTokens[a.TokenID] = true
			if has, err := s.store.HasPriceHistoryPoint(a.TokenID, ts); err == nil && !has {
				if price, err := s.prices.GetPrice(ctx, a.Token.Symbol, a.Wallet.Chain); err == nil && price.IsPositive() {
					_ = s.store.UpsertPriceHistoryPoint(models.PriceHistoryPoint{
						TokenKey: a.TokenID, Timestamp: ts, PriceUSD: price, Source: "backfill-current-approx",
					})
				}
			}
		}

		if has, err := s.store.HasBalanceHistoryPoint(a.Asset.ID, ts); err == nil && !has {
			raw, err := s.aggregator.GetTokenBalance(ctx, a.Wallet.Chain, a.Wallet.Address, a.Token.Contract)
			if err == nil && raw != nil {
				qty := decimal.NewFromBigInt(raw, -int32(a.Token.Decimals))
				_ = s.store.UpsertBalanceHistoryPoint(models.BalanceHistoryPoint{
					AssetID: a.Asset.ID, Timestamp: ts, Balance: qty,
				})
			}
		}
	}
}

// PurgeExpiredHistory implements retention action: delete
// history rows older than retention_years * 365 days.
func (s *Scheduler) PurgeExpiredHistory() (int64, error) {
	cutoff := time.Now().AddDate(-s.cfg.RetentionYears, 0, 0).Unix()
	return s.store.PurgeHistoryOlderThan(cutoff)
}

// WalletCreationTime implements wallet-creation-time cache:
// read from the Wallet row first, else ask the Chain Driver and persist
// the result, else serve from the in-memory map on subsequent calls.
func (s *Scheduler) WalletCreationTime(ctx context.Context, walletID, address, chain string) (time.Time, bool) {
	cacheKey := address + ":" + chain
	s.mu.Lock()
	if t, ok := s.creationTimeCache[cacheKey]; ok {
		s.mu.Unlock()
		return t, true
	}
	s.mu.Unlock()

	w, err := s.store.GetWallet(walletID)
	if err == nil && w.CreationTimestamp != nil {
		s.mu.Lock()
		s.creationTimeCache[cacheKey] = *w.CreationTimestamp
		s.mu.Unlock()
		return *w.CreationTimestamp, true
	}

	driver, err := s.drivers.Get(chain)
	if err != nil {
		return time.Time{}, false
	}
	result, ok, err := driver.FirstTransactionTime(ctx, address)
	if err != nil || !ok {
		return time.Time{}, false
	}

	if err := s.store.SetWalletCreationMetadata(walletID, &result.Timestamp, result.TxHash, result.BlockNumber, result.IsEstimated); err != nil {
		s.log.Warn().Err(err).Str("wallet_id", walletID).Msg("failed to persist discovered wallet creation time")
	}
	s.mu.Lock()
	s.creationTimeCache[cacheKey] = result.Timestamp
	s.mu.Unlock()
	return result.Timestamp, true
}

func alignedHourlyPoints(start, end time.Time) []int64 {
	var points []int64
	for t := models.AlignToHour(start); t <= end.Unix(); t += 3600 {
		points = append(points, t)
	}
	return points
}
