// Package tokenlibrary implements the Token Library: a static
// per-chain predefined token catalog idempotently seeded into the Token
// table at startup, plus a dynamic custom-token registry backed by the
// same table — there is no separate file-backed catalog, since the tokens
// table is already the system of record for predefined tokens.
package tokenlibrary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/store"
)

// Library serves predefined and custom token lookups. It implements
// priceengine.TokenLookup (the external-id resolution step of the layered
// price pipeline) without priceengine importing it back — priceengine
// depends on a narrow interface instead.
type Library struct {
	store     *store.Store
	drivers   *chaindriver.Registry
	predefined map[string]map[string]models.Token // chain -> symbol -> Token
}

func New(st *store.Store, drivers *chaindriver.Registry) *Library {
	return &Library{store: st, drivers: drivers, predefined: predefinedCatalog()}
}

// predefinedCatalog is the static seed data. It is intentionally not
// exhaustive — it covers each chain's native coin plus a handful of
// tokens called out by symbol (DEGEN, sSOL, asBNB, ...) so their
// external-id overrides have a concrete catalog row to attach to.
func predefinedCatalog() map[string]map[string]models.Token {
	native := func(chain, symbol, name string, decimals int, coingeckoID string) models.Token {
		return models.Token{
			Symbol: symbol, Chain: chain, Contract: "", Name: name,
			Decimals: decimals, ExternalPriceID: coingeckoID, IsPredefined: true, IsActive: true,
		}
	}
	token := func(chain, symbol, name, contract string, decimals int, coingeckoID string) models.Token {
		return models.Token{
			Symbol: symbol, Chain: chain, Contract: strings.ToLower(contract), Name: name,
			Decimals: decimals, ExternalPriceID: coingeckoID, IsPredefined: true, IsActive: true,
		}
	}

	cat := map[string]map[string]models.Token{
		"ethereum": {
			"ETH":  native("ethereum", "ETH", "Ether", 18, "ethereum"),
			"USDC": token("ethereum", "USDC", "USD Coin", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 6, "usd-coin"),
			"USDT": token("ethereum", "USDT", "Tether USD", "0xdac17f958d2ee523a2206206994597c13d831ec7", 6, "tether"),
			"WETH": token("ethereum", "WETH", "Wrapped Ether", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", 18, "weth"),
			"LINK": token("ethereum", "LINK", "Chainlink", "0x514910771af9ca656af840dff83e8264ecf986ca", 18, "chainlink"),
		},
		"polygon": {
			"MATIC": native("polygon", "MATIC", "Polygon", 18, "matic-network"),
			"USDC":  token("polygon", "USDC", "USD Coin", "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", 6, "usd-coin"),
		},
		"bsc": {
			"BNB":   native("bsc", "BNB", "BNB", 18, "binancecoin"),
			"asBNB": token("bsc", "asBNB", "Astherus BNB", "0x77734e70b6e88b4d82fe632a168edf6e700912b6", 18, "binancecoin"),
			"USDT":  token("bsc", "USDT", "Tether USD", "0x55d398326f99059ff775485246999027b3197955", 18, "tether"),
		},
		"arbitrum": {
			"ETH":  native("arbitrum", "ETH", "Ether", 18, "ethereum"),
			"USDC": token("arbitrum", "USDC", "USD Coin", "0xaf88d065e77c8cc2239327c5edb3a432268e5831", 6, "usd-coin"),
		},
		"optimism": {
			"ETH": native("optimism", "ETH", "Ether", 18, "ethereum"),
		},
		"base": {
			"ETH":   native("base", "ETH", "Ether", 18, "ethereum"),
			"DEGEN": token("base", "DEGEN", "Degen", "0x4ed4e862860bed51a9570b96d89af5e1b0efefed", 18, "degen-base"),
			"USDC":  token("base", "USDC", "USD Coin", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", 6, "usd-coin"),
		},
		"avalanche": {
			"AVAX": native("avalanche", "AVAX", "Avalanche", 18, "avalanche-2"),
		},
		"solana": {
			"SOL":    native("solana", "SOL", "Solana", 9, "solana"),
			"sSOL":   token("solana", "sSOL", "Solana Staked SOL", "sSo14endRuUbvQaJS3dq36Q829a3A6BEfoeeRGJywEh", 9, "solana"),
			"SLAYER": token("solana", "SLAYER", "Solayer", "SLAYERySLvFFJRSU8hRd7nQ1S8mz1uLeHrLkwJfNK2F", 9, "solayer"),
			"JUP":    token("solana", "JUP", "Jupiter", "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", 6, "jupiter-exchange-solana"),
			"sUSD":   token("solana", "sUSD", "Solayer USD", "sUSDyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvC", 6, "solayer-usd"),
			"USDC":   token("solana", "USDC", "USD Coin", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 6, "usd-coin"),
		},
		"sui": {
			"SUI":  native("sui", "SUI", "Sui", 9, "sui"),
			"USDC": token("sui", "USDC", "USD Coin", "0x5d4b302506645c37ff133b98c4b50a5ae14841659738d6d733d59d0d217a93bd::coin::COIN", 6, "usd-coin"),
		},
		"bitcoin": {
			"BTC": native("bitcoin", "BTC", "Bitcoin", 8, "bitcoin"),
		},
	}
	return cat
}

// Seed idempotently upserts the predefined catalog into the tokens table.
// Running it N times converges to the same rows as running it once, via
// Store.GetOrCreateToken's insert-then-read-on-conflict contract.
func (l *Library) Seed(ctx context.Context) error {
	for _, chainTokens := range l.predefined {
		for _, t := range chainTokens {
			if _, _, err := l.store.GetOrCreateToken(t); err != nil {
				return fmt.Errorf("tokenlibrary.Seed: %w", err)
			}
		}
	}
	return nil
}

// FindToken resolves (symbol, chain) against the predefined catalog first
// (no store round-trip needed), then the store's active tokens (which also
// contains the seeded predefined rows, so this mainly matters before Seed
// has run or for chains outside the static catalog).
func (l *Library) FindToken(ctx context.Context, symbol, chain string) (models.Token, bool) {
	symbol = strings.ToUpper(symbol)
	if chainTokens, ok := l.predefined[strings.ToLower(chain)]; ok {
		for s, t := range chainTokens {
			if strings.EqualFold(s, symbol) {
				return t, true
			}
		}
	}
	t, _, found, err := l.store.FindTokenBySymbolChain(symbol, chain)
	if err != nil || !found {
		return models.Token{}, false
	}
	return t, true
}

// FindExternalPriceID implements priceengine.TokenLookup: exact (symbol,
// chain) lookup in custom + predefined catalog.
func (l *Library) FindExternalPriceID(ctx context.Context, symbol, chain string) (string, bool) {
	t, found := l.FindToken(ctx, symbol, chain)
	if !found || t.ExternalPriceID == "" {
		return "", false
	}
	return t.ExternalPriceID, true
}

// AddCustomToken validates and inserts a user-added token: contract
// addresses are checked against the chain family's address rules via the
// corresponding Chain Driver; a bare native-coin addition (no contract)
// skips that check since there is no address to validate.
func (l *Library) AddCustomToken(symbol, name, chain, contract string, decimals int, externalID string) (models.Token, string, error) {
	contract = strings.TrimSpace(contract)
	if contract != "" {
		driver, err := l.drivers.Get(chain)
		if err != nil {
			return models.Token{}, "", errs.NewValidation("tokenlibrary.AddCustomToken", fmt.Sprintf("unknown chain %q: %v", chain, err))
		}
		if !driver.ValidateAddress(contract) {
			return models.Token{}, "", errs.NewValidation("tokenlibrary.AddCustomToken", fmt.Sprintf("contract %q is not a valid %s address", contract, chain))
		}
		contract = strings.ToLower(contract)
	}

	t := models.Token{
		Symbol: strings.ToUpper(symbol), Chain: chain, Contract: contract, Name: name,
		Decimals: decimals, ExternalPriceID: externalID, IsPredefined: false, IsActive: true,
	}
	id, _, err := l.store.GetOrCreateToken(t)
	if err != nil {
		return models.Token{}, "", err
	}
	return t, id, nil
}

// ChainCatalog returns the predefined tokens known for chain, used by the
// discovery engine's predefined-token balance probe.
func (l *Library) ChainCatalog(chain string) []models.Token {
	chainTokens, ok := l.predefined[strings.ToLower(chain)]
	if !ok {
		return nil
	}
	out := make([]models.Token, 0, len(chainTokens))
	for _, t := range chainTokens {
		out = append(out, t)
	}
	return out
}

// Search does a prefix match on symbol first, then a substring match on
// name, limit applied after combining both passes with predefined-catalog
// entries that precede the store query.
func (l *Library) Search(chain, query string, limit int) ([]models.Token, error) {
	fromStore, err := l.store.FindTokensBySymbolPrefix(chain, query, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(fromStore))
	out := make([]models.Token, 0, len(fromStore))
	for _, t := range fromStore {
		seen[t.Key()] = true
		out = append(out, t)
	}

	queryLower := strings.ToLower(query)
	var prefixMatches, nameMatches []models.Token
	if chainTokens, ok := l.predefined[strings.ToLower(chain)]; ok {
		for _, t := range chainTokens {
			if seen[t.Key()] {
				continue
			}
			switch {
			case strings.HasPrefix(strings.ToLower(t.Symbol), queryLower):
				prefixMatches = append(prefixMatches, t)
			case strings.Contains(strings.ToLower(t.Name), queryLower):
				nameMatches = append(nameMatches, t)
			}
		}
	}
	sort.Slice(prefixMatches, func(i, j int) bool { return prefixMatches[i].Symbol < prefixMatches[j].Symbol })
	sort.Slice(nameMatches, func(i, j int) bool { return nameMatches[i].Symbol < nameMatches[j].Symbol })
	out = append(out, prefixMatches...)
	out = append(out, nameMatches...)

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
