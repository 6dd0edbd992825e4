// Package valuation implements Asset Valuation: join each
// active Asset with its Wallet/Token/Chain, resolve a current balance and
// price, and compute value = balance * price. A balance or price
// resolution failure degrades that asset's value to zero rather than
// failing the whole request.
package valuation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/metrics"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/store"
)

// ValuedAsset is one displayable portfolio row (get_detailed_assets's
// AssetDisplay). Never persisted directly; AssetSnapshot is the persisted
// analog written by the scheduler's snapshot job.
type ValuedAsset struct {
	AssetID      string
	Tag          string
	CreatedAt    time.Time
	Address      string
	WalletName   string
	Chain        string
	TokenSymbol  string
	TokenName    string
	Contract     string
	Quantity     decimal.Decimal
	PriceUSD     decimal.Decimal
	ValueUSD     decimal.Decimal
}

// Engine resolves balance and price for tracked assets.
type Engine struct {
	store      *store.Store
	aggregator *aggregator.Aggregator
	drivers    *chaindriver.Registry
	prices     *priceengine.Engine
	metrics    metrics.Reporter
	log        zerolog.Logger
}

func New(st *store.Store, agg *aggregator.Aggregator, drivers *chaindriver.Registry, prices *priceengine.Engine, reporter metrics.Reporter, log zerolog.Logger) *Engine {
	if reporter == nil {
		reporter = metrics.NoOpMetrics{}
	}
	return &Engine{store: st, aggregator: agg, drivers: drivers, prices: prices, metrics: reporter, log: log.With().Str("component", "valuation").Logger()}
}

// ListDetailedAssets returns assets filtered, joined, balance- and
// price-resolved, ordered by creation time descending (ListActiveAssets
// already orders that way; this preserves it).
func (e *Engine) ListDetailedAssets(ctx context.Context, chain, address, tag string) ([]ValuedAsset, error) {
	start := time.Now()
	rows, err := e.store.ListActiveAssets(chain, address, tag)
	if err != nil {
		e.metrics.RecordValuationRun(time.Since(start), 0, false)
		return nil, err
	}

	out := make([]ValuedAsset, len(rows))
	for i, r := range rows {
		quantity := e.resolveBalance(ctx, r)
		price := e.resolvePrice(ctx, r)

		out[i] = ValuedAsset{
			AssetID: r.Asset.ID, Tag: r.Asset.Tag, CreatedAt: r.Asset.CreatedAt,
			Address: r.Wallet.Address, WalletName: r.Wallet.Name, Chain: r.Wallet.Chain,
			TokenSymbol: r.Token.Symbol, TokenName: r.Token.Name, Contract: r.Token.Contract,
			Quantity: quantity, PriceUSD: price, ValueUSD: quantity.Mul(price),
		}
	}
	e.metrics.RecordValuationRun(time.Since(start), len(out), true)
	return out, nil
}

// resolveBalance implements "first try latest BalanceHistoryPoint for the
// asset; on miss, call the appropriate Chain Driver (or Aggregator) and
// write the result back". Any failure degrades to zero rather
// than failing the row.
func (e *Engine) resolveBalance(ctx context.Context, r store.AssetRow) decimal.Decimal {
	if point, found, err := e.store.LatestBalanceHistoryPoint(r.Asset.ID); err == nil && found {
		return point.Balance
	}

	balance := e.liveBalance(ctx, r)

	point := models.BalanceHistoryPoint{
		AssetID: r.Asset.ID, Timestamp: models.AlignToHour(time.Now()), Balance: balance,
	}
	if err := e.store.UpsertBalanceHistoryPoint(point); err != nil {
		e.log.Warn().Err(err).Str("asset_id", r.Asset.ID).Msg("failed to write back resolved balance")
	}
	return balance
}

func (e *Engine) liveBalance(ctx context.Context, r store.AssetRow) decimal.Decimal {
	raw, err := e.aggregator.GetTokenBalance(ctx, r.Wallet.Chain, r.Wallet.Address, r.Token.Contract)
	if err == nil && raw != nil && raw.Sign() > 0 {
		return decimal.NewFromBigInt(raw, -int32(r.Token.Decimals))
	}

	driver, err := e.drivers.Get(r.Wallet.Chain)
	if err != nil {
		return decimal.Zero
	}
	if r.Token.IsNative() {
		nb, err := driver.NativeBalance(ctx, r.Wallet.Address)
		if err != nil {
			e.log.Debug().Err(err).Str("asset_id", r.Asset.ID).Msg("chain driver native balance failed")
			return decimal.Zero
		}
		return nb.Balance
	}
	tb, err := driver.TokenBalance(ctx, r.Wallet.Address, r.Token.Contract)
	if err != nil {
		e.log.Debug().Err(err).Str("asset_id", r.Asset.ID).Msg("chain driver token balance failed")
		return decimal.Zero
	}
	return tb.Balance
}

// resolvePrice calls the price engine's GetPriceWithCache; a failure
// degrades to zero rather than failing the row.
func (e *Engine) resolvePrice(ctx context.Context, r store.AssetRow) decimal.Decimal {
	price, err := e.prices.GetPriceWithCache(ctx, r.TokenID, r.Token.Symbol, r.Wallet.Chain)
	if err != nil {
		e.log.Debug().Err(err).Str("asset_id", r.Asset.ID).Msg("price resolution failed")
		return decimal.Zero
	}
	return price
}

// Summary aggregates valued assets by chain and by address, for the
// portfolio summary action, grounded on get_assets_summary.
type Summary struct {
	TotalValueUSD decimal.Decimal
	TotalAssets   int
	ByChain       map[string]ChainSummary
	ByAddress     map[string]AddressSummary
}

type ChainSummary struct {
	Chain         string
	AssetCount    int
	TotalValueUSD decimal.Decimal
}

type AddressSummary struct {
	Address       string
	WalletName    string
	AssetCount    int
	TotalValueUSD decimal.Decimal
}

func Summarize(assets []ValuedAsset) Summary {
	summary := Summary{ByChain: map[string]ChainSummary{}, ByAddress: map[string]AddressSummary{}}
	for _, a := range assets {
		summary.TotalValueUSD = summary.TotalValueUSD.Add(a.ValueUSD)
		summary.TotalAssets++

		cs := summary.ByChain[a.Chain]
		cs.Chain = a.Chain
		cs.AssetCount++
		cs.TotalValueUSD = cs.TotalValueUSD.Add(a.ValueUSD)
		summary.ByChain[a.Chain] = cs

		as := summary.ByAddress[a.Address]
		as.Address = a.Address
		as.WalletName = a.WalletName
		as.AssetCount++
		as.TotalValueUSD = as.TotalValueUSD.Add(a.ValueUSD)
		summary.ByAddress[a.Address] = as
	}
	return summary
}
