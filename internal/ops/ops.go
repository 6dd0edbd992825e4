// Package ops implements the thin operational-actions surface named in
// : command structs plus a dispatcher, with no wire protocol of its
// own (that is explicitly a concern of whatever embeds this package — a CLI,
// an HTTP handler, a gRPC service). Grounded on an
// internal/cli/{mode.go,output.go}-style Mode detection idiom (an
// environment-variable switch between a human-readable and a
// machine-readable surface) is kept and renamed to this domain, and
// WriteJSON's single-line-stdout/stderr-for-logs convention is reused
// verbatim for Dispatcher's own JSON-mode rendering.
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/discovery"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/priceengine"
	"github.com/yourusername/portfoliod/internal/scheduler"
	"github.com/yourusername/portfoliod/internal/store"
	"github.com/yourusername/portfoliod/internal/tokenlibrary"
	"github.com/yourusername/portfoliod/internal/valuation"
)

// Mode follows a ModeInteractive/ModeDashboard split: human output vs.
// single-line JSON, selected by an environment variable at startup instead
// of scattered nil-checks.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeDashboard   Mode = "dashboard"
)

// DetectMode reads PORTFOLIOD_MODE. Unset or unrecognized values default
// to interactive.
func DetectMode() Mode {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PORTFOLIOD_MODE")))
	if v == "dashboard" {
		return ModeDashboard
	}
	return ModeInteractive
}

// WriteJSON serializes v as single-line JSON to stdout (dashboard mode's
// machine-readable response channel).
func WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ops.WriteJSON: marshal: %w", err)
	}
	_, err = fmt.Fprintf(os.Stdout, "%s\n", data)
	return err
}

// WriteLog writes a human-readable line to stderr, leaving stdout free for
// WriteJSON responses in dashboard mode.
func WriteLog(message string) error {
	_, err := fmt.Fprintf(os.Stderr, "%s\n", message)
	return err
}

// Dispatcher wires every operational action to the engines that
// implement it. It holds no state of its own beyond the engines it was
// constructed with.
type Dispatcher struct {
	store      *store.Store
	tokens     *tokenlibrary.Library
	discovery  *discovery.Engine
	valuation  *valuation.Engine
	prices     *priceengine.Engine
	aggregator *aggregator.Aggregator
	drivers    *chaindriver.Registry
	scheduler  *scheduler.Scheduler
}

func New(st *store.Store, tokens *tokenlibrary.Library, disc *discovery.Engine, val *valuation.Engine, prices *priceengine.Engine, agg *aggregator.Aggregator, drivers *chaindriver.Registry, sched *scheduler.Scheduler) *Dispatcher {
	return &Dispatcher{store: st, tokens: tokens, discovery: disc, valuation: val, prices: prices, aggregator: agg, drivers: drivers, scheduler: sched}
}

// --- Asset management ---

// AddAssetRequest is the explicit form of "add asset".
type AddAssetRequest struct {
	Address  string
	Chain    string
	Symbol   string
	Contract string
	Name     string
	Decimals int
	Tag      string
}

func (d *Dispatcher) AddAsset(req AddAssetRequest) (assetID string, created bool, err error) {
	if req.Address == "" || req.Chain == "" || req.Symbol == "" {
		return "", false, errs.NewValidation("ops.AddAsset", "address, chain and symbol are required")
	}
	walletID, err := d.store.GetOrCreateWallet(req.Address, req.Chain)
	if err != nil {
		return "", false, err
	}
	tok := models.Token{
		Symbol: strings.ToUpper(req.Symbol), Chain: req.Chain, Contract: strings.ToLower(req.Contract),
		Name: req.Name, Decimals: req.Decimals, IsActive: true,
	}
	tokenID, _, err := d.store.GetOrCreateToken(tok)
	if err != nil {
		return "", false, err
	}
	assetID, status, err := d.store.AddAsset(uuid.NewString(), walletID, tokenID, req.Tag, time.Now())
	if err != nil {
		return "", false, err
	}
	return assetID, status == "created", nil
}

// QuickAddAsset implements "quick-add asset (auto-resolve
// contract from library)": the caller supplies only a symbol, and the Token
// Library's predefined/custom catalog supplies the contract and decimals.
func (d *Dispatcher) QuickAddAsset(ctx context.Context, address, chain, symbol, tag string) (assetID string, created bool, err error) {
	tok, found := d.tokens.FindToken(ctx, symbol, chain)
	if !found {
		return "", false, errs.NewNotFound("ops.QuickAddAsset", fmt.Sprintf("no library entry for %s on %s", symbol, chain))
	}
	return d.AddAsset(AddAssetRequest{
		Address: address, Chain: chain, Symbol: tok.Symbol, Contract: tok.Contract,
		Name: tok.Name, Decimals: tok.Decimals, Tag: tag,
	})
}

// BatchAddAssets implements "batch-add": each request is
// independent, so one failure does not abort its siblings.
type BatchAddResult struct {
	Request AddAssetRequest
	AssetID string
	Created bool
	Err     error
}

func (d *Dispatcher) BatchAddAssets(requests []AddAssetRequest) []BatchAddResult {
	out := make([]BatchAddResult, len(requests))
	for i, req := range requests {
		id, created, err := d.AddAsset(req)
		out[i] = BatchAddResult{Request: req, AssetID: id, Created: created, Err: err}
	}
	return out
}

// UpdateAsset implements "update (tag/name/notes)" — only tag is
// backed by a column today; name/notes are accepted for forward
// compatibility with a thin surface that may echo them back unchanged.
func (d *Dispatcher) UpdateAsset(assetID, tag string) error {
	return d.store.UpdateAsset(assetID, tag)
}

// RemoveAsset implements "soft-delete".
func (d *Dispatcher) RemoveAsset(assetID string) error {
	return d.store.SoftDeleteAsset(assetID)
}

// --- Discovery ---

func (d *Dispatcher) DiscoverWalletTokens(ctx context.Context, address, chain string, includeZero bool, minValueUSD float64) ([]models.DiscoveredToken, error) {
	return d.discovery.DiscoverWalletTokens(ctx, address, chain, includeZero, minValueUSD, true)
}

func (d *Dispatcher) BatchDiscoverWalletTokens(ctx context.Context, addresses []string, chain string, includeZero bool, minValueUSD float64, maxConcurrent int64) map[string][]models.DiscoveredToken {
	return d.discovery.BatchDiscover(ctx, addresses, chain, includeZero, minValueUSD, maxConcurrent)
}

func (d *Dispatcher) AddManualToken(ctx context.Context, address, chain, contract, symbol string) (models.DiscoveredToken, bool, error) {
	return d.discovery.AddManualToken(ctx, address, chain, contract, symbol)
}

// --- Query ---

func (d *Dispatcher) QueryAssets(ctx context.Context, chain, address, tag string) ([]valuation.ValuedAsset, error) {
	return d.valuation.ListDetailedAssets(ctx, chain, address, tag)
}

func (d *Dispatcher) PortfolioSummary(ctx context.Context, chain, address, tag string) (valuation.Summary, error) {
	assets, err := d.valuation.ListDetailedAssets(ctx, chain, address, tag)
	if err != nil {
		return valuation.Summary{}, err
	}
	return valuation.Summarize(assets), nil
}

// HistoryQuery is the explicit form of "query price history /
// balance history with {start, end, symbol?, chain?, address?, limit}".
type HistoryQuery struct {
	Start, End     time.Time
	Symbol, Chain, Address string
	Limit          int
}

func (d *Dispatcher) QueryHistory(q HistoryQuery) ([]models.AssetSnapshot, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 500
	}
	return d.store.ListHistory(store.HistoryFilter{Chain: q.Chain, Address: q.Address, Symbol: q.Symbol}, q.Start.Unix(), q.End.Unix(), limit)
}

// --- Administrative ---

// ForceRefreshPrices implements "force-refresh prices (clears
// price caches and re-values all assets)".
func (d *Dispatcher) ForceRefreshPrices(ctx context.Context) ([]valuation.ValuedAsset, error) {
	d.prices.ClearCache()
	return d.valuation.ListDetailedAssets(ctx, "", "", "")
}

// ClearAllCaches implements administrative "clear all caches"
// across every component that keeps one.
func (d *Dispatcher) ClearAllCaches() {
	d.prices.ClearAllCaches()
	d.discovery.ClearCache()
}

// ResetProviderErrors implements "reset provider error
// counters".
func (d *Dispatcher) ResetProviderErrors() {
	d.aggregator.ResetProviderHealth()
}

// ReconnectChain implements "reconnect chain(s)": an empty chain
// reconnects every registered chain.
func (d *Dispatcher) ReconnectChain(chain string) error {
	if chain != "" {
		return d.drivers.Reconnect(chain)
	}
	var firstErr error
	for _, c := range d.drivers.Chains() {
		if err := d.drivers.Reconnect(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PurgeExpiredHistory implements retention action.
func (d *Dispatcher) PurgeExpiredHistory() (int64, error) {
	return d.scheduler.PurgeExpiredHistory()
}

// Status is a read-only snapshot of the operational status surface:
// price-engine statistics and provider health in one response.
type Status struct {
	Prices    priceengine.StatsSnapshot
	Providers []aggregator.ProviderStatus
	Discovery discovery.CacheStats
}

func (d *Dispatcher) GetStatus() Status {
	return Status{
		Prices:    d.prices.Stats(),
		Providers: d.aggregator.Status(),
		Discovery: d.discovery.CacheStats(),
	}
}
