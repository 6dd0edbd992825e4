// Package models defines the core entities shared across the data pipeline:
// chains, tokens, wallets, assets, and their history/snapshot rows.
package models

import "time"

// ChainFamily is the coarse taxonomy governing address format, balance
// semantics, and enumeration strategy.
type ChainFamily string

const (
	FamilyEVM    ChainFamily = "evm"
	FamilySolana ChainFamily = "solana"
	FamilySui    ChainFamily = "sui"
	FamilyBTC    ChainFamily = "bitcoin"
)

// Endpoint is a single RPC endpoint with its own back-off parameters.
type Endpoint struct {
	URL            string
	BaseDelay      time.Duration
	MaxRetries     int
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Chain is a static, startup-seeded description of a supported blockchain.
type Chain struct {
	Name        string // unique
	DisplayName string
	Family      ChainFamily
	Endpoints   []Endpoint // primary first, then backups in order
	ExplorerURL string

	// ExplorerAPIURL and ExplorerAPIKey configure an Etherscan-style
	// block-explorer API (distinct from ExplorerURL, which is the
	// human-facing site) used by EVM drivers to resolve wallet creation
	// time from the first on-chain transaction. Empty ExplorerAPIURL
	// means the chain has no such API configured.
	ExplorerAPIURL string
	ExplorerAPIKey string

	IsActive bool
}

// DefaultEndpoint returns the primary endpoint, or the zero value if none configured.
func (c Chain) DefaultEndpoint() Endpoint {
	if len(c.Endpoints) == 0 {
		return Endpoint{}
	}
	return c.Endpoints[0]
}
