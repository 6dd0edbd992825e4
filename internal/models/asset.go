package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a user's declaration of interest in a (Wallet, Token) pair.
// Unique per (WalletID, TokenKey) among active rows; soft-deleted via
// Active=false, never physically removed while referenced by history.
type Asset struct {
	ID        string // uuid
	WalletID  string
	TokenKey  string // Token.Key()
	Tag       string
	Active    bool
	CreatedAt time.Time
}

// PriceHistoryPoint is unique per (TokenKey, Timestamp). Timestamp is
// aligned to the hour.
type PriceHistoryPoint struct {
	TokenKey  string
	Timestamp int64 // unix seconds, aligned to hour
	PriceUSD  decimal.Decimal
	Source    string
}

// BalanceHistoryPoint is unique per (AssetID, Timestamp).
type BalanceHistoryPoint struct {
	AssetID   string
	Timestamp int64
	Balance   decimal.Decimal
}

// AssetSnapshot is unique per (AssetID, Timestamp). Invariant:
// ValueUSD == Quantity * PriceUSD to float precision ( invariant 1).
type AssetSnapshot struct {
	AssetID   string
	Timestamp int64
	Quantity  decimal.Decimal
	PriceUSD  decimal.Decimal
	ValueUSD  decimal.Decimal
}

// NewAssetSnapshot computes ValueUSD from Quantity and PriceUSD so the
// invariant can never be violated by a caller forgetting to multiply.
func NewAssetSnapshot(assetID string, timestamp int64, quantity, price decimal.Decimal) AssetSnapshot {
	return AssetSnapshot{
		AssetID:   assetID,
		Timestamp: timestamp,
		Quantity:  quantity,
		PriceUSD:  price,
		ValueUSD:  quantity.Mul(price),
	}
}

// AlignToHour truncates a unix timestamp down to the containing hour, per
// the glossary's "aligned-to-hour" definition: t - (t mod 3600).
func AlignToHour(t time.Time) int64 {
	sec := t.Unix()
	return sec - (sec % 3600)
}

// DiscoveredToken is ephemeral output of the discovery engine; it is never
// persisted directly and may become an Asset on user action.
type DiscoveredToken struct {
	Symbol   string
	Name     string
	Contract string // "" for native
	Balance  decimal.Decimal
	Decimals int
	IsNative bool
	PriceUSD *decimal.Decimal
	ValueUSD *decimal.Decimal
}

// Key mirrors Token.Key for dedup against the same symbol/contract space.
func (d DiscoveredToken) Key() string {
	t := Token{Symbol: d.Symbol, Contract: d.Contract}
	return t.Key()
}
