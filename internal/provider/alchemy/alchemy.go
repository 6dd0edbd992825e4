// Package alchemy implements provider.DataProvider against Alchemy's
// multi-chain JSON-RPC + enhanced APIs: a factory function registered
// under the name "alchemy", following the EVM driver's hexutil-based
// JSON-RPC decoding pattern, extended with Alchemy's
// alchemy_getTokenBalances enhanced method (a capability no bare EVM node
// exposes, which is the entire reason to carry a multi-chain RPC-as-a-
// service provider alongside the chain drivers) and its Prices API for
// TokenPrice.
package alchemy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/chaindriver/rpc"
	"github.com/yourusername/portfoliod/internal/provider"
)

// alchemyNetworks maps the pipeline's internal chain name to Alchemy's
// subdomain for that network.
var alchemyNetworks = map[string]string{
	"ethereum":  "eth-mainnet",
	"polygon":   "polygon-mainnet",
	"arbitrum":  "arb-mainnet",
	"optimism":  "opt-mainnet",
	"base":      "base-mainnet",
	"bsc":       "bnb-mainnet",
	"avalanche": "avax-mainnet",
}

// Provider implements provider.DataProvider via Alchemy.
type Provider struct {
	*provider.HealthGate
	apiKey     string
	rateDelay  time.Duration
	httpClient *http.Client
	clients    map[string]rpc.Client // chain -> JSON-RPC client
}

func New(apiKey string, maxErrors int, rateDelay time.Duration) *Provider {
	return &Provider{
		HealthGate: provider.NewHealthGate(maxErrors),
		apiKey:     apiKey,
		rateDelay:  rateDelay,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clients:    make(map[string]rpc.Client),
	}
}

func (p *Provider) Name() string           { return "alchemy" }
func (p *Provider) Kind() provider.Kind     { return provider.KindMultiChain }
func (p *Provider) Tier() provider.Tier     { return provider.TierPrimary }
func (p *Provider) RateLimitDelay() time.Duration { return p.rateDelay }

func (p *Provider) SupportedChains() []string {
	chains := make([]string, 0, len(alchemyNetworks))
	for chain := range alchemyNetworks {
		chains = append(chains, chain)
	}
	return chains
}

func (p *Provider) SupportsChain(chain string) bool {
	_, ok := alchemyNetworks[chain]
	return ok
}

// client lazily builds (and caches) a JSON-RPC client for chain. When the
// API key is empty, SupportsChain still returns true but
// every operation below returns an empty result rather than erroring.
func (p *Provider) client(chain string) (rpc.Client, bool) {
	if p.apiKey == "" {
		return nil, false
	}
	if c, ok := p.clients[chain]; ok {
		return c, true
	}
	network, ok := alchemyNetworks[chain]
	if !ok {
		return nil, false
	}
	endpoint := fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", network, p.apiKey)
	c, err := rpc.NewHTTPClient([]string{endpoint}, 10*time.Second)
	if err != nil {
		return nil, false
	}
	p.clients[chain] = c
	return c, true
}

func (p *Provider) GetWalletAssets(ctx context.Context, chain, address string) ([]provider.WalletAsset, error) {
	client, ok := p.client(chain)
	if !ok {
		return nil, nil
	}

	result, err := client.Call(ctx, "alchemy_getTokenBalances", []interface{}{address})
	if err != nil {
		p.RecordError()
		return nil, err
	}

	var body struct {
		Address      string `json:"address"`
		TokenBalances []struct {
			ContractAddress string `json:"contractAddress"`
			TokenBalance    string `json:"tokenBalance"`
		} `json:"tokenBalances"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		p.RecordError()
		return nil, err
	}

	assets := make([]provider.WalletAsset, 0, len(body.TokenBalances))
	for _, tb := range body.TokenBalances {
		raw, err := hexutil.DecodeBig(tb.TokenBalance)
		if err != nil || raw.Sign() == 0 {
			continue
		}
		decimals := p.tokenDecimals(ctx, client, tb.ContractAddress)
		assets = append(assets, provider.WalletAsset{
			Contract: strings.ToLower(tb.ContractAddress),
			Decimals: decimals,
			Balance:  decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals)),
		})
	}
	p.ResetErrors()
	return assets, nil
}

func (p *Provider) tokenDecimals(ctx context.Context, client rpc.Client, contract string) int {
	result, err := client.Call(ctx, "alchemy_getTokenMetadata", []interface{}{contract})
	if err != nil {
		return 18
	}
	var meta struct {
		Decimals int `json:"decimals"`
	}
	if err := json.Unmarshal(result, &meta); err != nil || meta.Decimals == 0 {
		return 18
	}
	return meta.Decimals
}

func (p *Provider) GetTokenBalance(ctx context.Context, chain, address, contract string) (*big.Int, error) {
	client, ok := p.client(chain)
	if !ok {
		return nil, nil
	}

	result, err := client.Call(ctx, "alchemy_getTokenBalances", []interface{}{address, []string{contract}})
	if err != nil {
		p.RecordError()
		return nil, err
	}
	var body struct {
		TokenBalances []struct {
			TokenBalance string `json:"tokenBalance"`
		} `json:"tokenBalances"`
	}
	if err := json.Unmarshal(result, &body); err != nil || len(body.TokenBalances) == 0 {
		p.RecordError()
		return nil, fmt.Errorf("alchemy: no balance returned for %s", contract)
	}
	raw, err := hexutil.DecodeBig(body.TokenBalances[0].TokenBalance)
	if err != nil {
		p.RecordError()
		return nil, err
	}
	p.ResetErrors()
	return raw, nil
}

func (p *Provider) GetTokenPrice(ctx context.Context, symbol, chain string) (*decimal.Decimal, error) {
	if p.apiKey == "" {
		return nil, nil
	}

	url := fmt.Sprintf("https://api.g.alchemy.com/prices/v1/%s/tokens/by-symbol?symbols=%s", p.apiKey, strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.RecordError()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.RecordError()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		p.RecordError()
		return nil, fmt.Errorf("alchemy prices API returned %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Symbol string `json:"symbol"`
			Prices []struct {
				Currency string `json:"currency"`
				Value    string `json:"value"`
			} `json:"prices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.RecordError()
		return nil, err
	}

	for _, entry := range parsed.Data {
		for _, px := range entry.Prices {
			if px.Currency != "usd" {
				continue
			}
			value, err := decimal.NewFromString(px.Value)
			if err != nil {
				continue
			}
			p.ResetErrors()
			return &value, nil
		}
	}
	p.ResetErrors()
	return nil, nil
}

func (p *Provider) Close() error {
	for _, c := range p.clients {
		_ = c.Close()
	}
	return nil
}

var _ provider.DataProvider = (*Provider)(nil)
