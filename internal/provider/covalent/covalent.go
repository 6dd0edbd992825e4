// Package covalent implements provider.DataProvider against Covalent's
// multi-chain balances API, using a balances_v2-style endpoint shape.
// GetTokenPrice returns nil rather than an error when Covalent's price
// data is unavailable, leaving other providers in the aggregator's chain
// to try instead.
package covalent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/provider"
)

var covalentChains = map[string]string{
	"ethereum": "eth-mainnet",
	"polygon":  "matic-mainnet",
	"bsc":      "bsc-mainnet",
	"arbitrum": "arbitrum-mainnet",
	"base":     "base-mainnet",
}

const baseURL = "https://api.covalenthq.com/v1"

// Provider implements provider.DataProvider via Covalent.
type Provider struct {
	*provider.HealthGate
	apiKey     string
	httpClient *http.Client
}

func New(apiKey string, maxErrors int) *Provider {
	return &Provider{
		HealthGate: provider.NewHealthGate(maxErrors),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Provider) Name() string       { return "covalent" }
func (p *Provider) Kind() provider.Kind { return provider.KindMultiChain }
func (p *Provider) Tier() provider.Tier { return provider.TierPrimary }

// RateLimitDelay is short: Covalent tolerates a high request rate.
func (p *Provider) RateLimitDelay() time.Duration { return 500 * time.Millisecond }

func (p *Provider) SupportedChains() []string {
	chains := make([]string, 0, len(covalentChains))
	for chain := range covalentChains {
		chains = append(chains, chain)
	}
	return chains
}

func (p *Provider) SupportsChain(chain string) bool {
	_, ok := covalentChains[strings.ToLower(chain)]
	return ok
}

type balancesResponse struct {
	Data struct {
		Items []struct {
			ContractAddress  string `json:"contract_address"`
			ContractDecimals int    `json:"contract_decimals"`
			ContractName     string `json:"contract_ticker_symbol"`
			Balance          string `json:"balance"`
			NativeToken      bool   `json:"native_token"`
		} `json:"items"`
	} `json:"data"`
}

func (p *Provider) GetWalletAssets(ctx context.Context, chain, address string) ([]provider.WalletAsset, error) {
	chainID, ok := covalentChains[strings.ToLower(chain)]
	if !ok {
		return nil, nil
	}
	if p.apiKey == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/%s/address/%s/balances_v2/", baseURL, chainID, address)
	q := url.Values{"key": {p.apiKey}, "nft": {"false"}, "no-nft-fetch": {"true"}}

	body, err := p.get(ctx, endpoint+"?"+q.Encode())
	if err != nil {
		p.RecordError()
		return nil, err
	}

	var resp balancesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		p.RecordError()
		return nil, err
	}

	assets := make([]provider.WalletAsset, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		raw, ok := new(big.Int).SetString(item.Balance, 10)
		if !ok {
			continue
		}
		decimals := item.ContractDecimals
		if decimals == 0 {
			decimals = 18
		}
		contract := ""
		if !item.NativeToken {
			contract = strings.ToLower(item.ContractAddress)
		}
		assets = append(assets, provider.WalletAsset{
			Symbol:   item.ContractName,
			Contract: contract,
			Decimals: decimals,
			Balance:  decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals)),
		})
	}
	p.ResetErrors()
	return assets, nil
}

func (p *Provider) GetTokenBalance(ctx context.Context, chain, address, contract string) (*big.Int, error) {
	assets, err := p.GetWalletAssets(ctx, chain, address)
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		matchNative := contract == "" && a.Contract == ""
		matchContract := contract != "" && strings.EqualFold(a.Contract, contract)
		if matchNative || matchContract {
			raw := a.Balance.Shift(int32(a.Decimals)).BigInt()
			return raw, nil
		}
	}
	return big.NewInt(0), nil
}

// GetTokenPrice always returns nil: Covalent's price data is limited to
// what rides along with a balance query, so price resolution is left to
// other providers in the aggregator's priority order.
func (p *Provider) GetTokenPrice(ctx context.Context, symbol, chain string) (*decimal.Decimal, error) {
	return nil, nil
}

func (p *Provider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("covalent returned %d", resp.StatusCode)
	}
	return body, nil
}

func (p *Provider) Close() error { return nil }

var _ provider.DataProvider = (*Provider)(nil)
