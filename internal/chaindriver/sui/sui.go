// Package sui implements chaindriver.Driver for Sui. The example corpus
// carries no Sui SDK, so this driver speaks Sui's JSON-RPC directly over
// internal/chaindriver/rpc.Client (the same endpoint-retry/failover
// transport the EVM driver uses) rather than hand-rolling a socket
// client — the gap is the absence of a domain SDK, not of a transport.
package sui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/chaindriver/rpc"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
)

const suiDecimals = 9

// Driver implements chaindriver.Driver for Sui.
type Driver struct {
	chain  models.Chain
	client rpc.Client
}

func New(chain models.Chain) (chaindriver.Driver, error) {
	endpoints := make([]string, 0, len(chain.Endpoints))
	for _, ep := range chain.Endpoints {
		endpoints = append(endpoints, ep.URL)
	}
	if len(endpoints) == 0 {
		return nil, errs.NewValidation("sui.New", fmt.Sprintf("chain %s has no endpoints configured", chain.Name))
	}
	def := chain.DefaultEndpoint()
	client, err := rpc.NewHTTPClient(endpoints, def.CallTimeout,
		rpc.WithBaseDelay(def.BaseDelay),
		rpc.WithMaxRetries(def.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("sui.New(%s): %w", chain.Name, err)
	}
	return &Driver{chain: chain, client: client}, nil
}

type suiBalance struct {
	CoinType        string `json:"coinType"`
	CoinObjectCount int    `json:"coinObjectCount"`
	TotalBalance    string `json:"totalBalance"`
}

func (d *Driver) NativeBalance(ctx context.Context, address string) (chaindriver.NativeBalanceResult, error) {
	if !d.ValidateAddress(address) {
		return chaindriver.NativeBalanceResult{}, errs.NewValidation("sui.NativeBalance", fmt.Sprintf("invalid address %q", address))
	}

	result, err := d.client.Call(ctx, "suix_getBalance", []interface{}{address, "0x2::sui::SUI"})
	if err != nil {
		return chaindriver.NativeBalanceResult{}, wrapErr("sui.NativeBalance", err)
	}

	var bal suiBalance
	if err := json.Unmarshal(result, &bal); err != nil {
		return chaindriver.NativeBalanceResult{}, errs.NewUpstreamSchema("sui.NativeBalance", "unparseable suix_getBalance result", err)
	}
	raw, err := decimal.NewFromString(bal.TotalBalance)
	if err != nil {
		return chaindriver.NativeBalanceResult{}, errs.NewUpstreamSchema("sui.NativeBalance", "malformed balance string", err)
	}

	return chaindriver.NativeBalanceResult{
		Balance:  raw.Shift(-suiDecimals),
		Decimals: suiDecimals,
	}, nil
}

func (d *Driver) TokenBalance(ctx context.Context, address, contract string) (chaindriver.TokenBalanceResult, error) {
	if !d.ValidateAddress(address) {
		return chaindriver.TokenBalanceResult{}, errs.NewValidation("sui.TokenBalance", fmt.Sprintf("invalid address %q", address))
	}

	result, err := d.client.Call(ctx, "suix_getBalance", []interface{}{address, contract})
	if err != nil {
		return chaindriver.TokenBalanceResult{}, wrapErr("sui.TokenBalance", err)
	}

	var bal suiBalance
	if err := json.Unmarshal(result, &bal); err != nil {
		return chaindriver.TokenBalanceResult{}, errs.NewUpstreamSchema("sui.TokenBalance", "unparseable suix_getBalance result", err)
	}
	raw, err := decimal.NewFromString(bal.TotalBalance)
	if err != nil {
		return chaindriver.TokenBalanceResult{}, errs.NewUpstreamSchema("sui.TokenBalance", "malformed balance string", err)
	}

	// Sui coin metadata carries its own decimals; callers needing exact
	// precision should resolve via the token catalog. This driver reports
	// the chain's native-coin decimals as a reasonable default only when
	// the metadata call below is unavailable.
	decimals := suiDecimals
	if meta, err := d.coinMetadataDecimals(ctx, contract); err == nil {
		decimals = meta
	}

	return chaindriver.TokenBalanceResult{
		Contract: contract,
		Balance:  raw.Shift(int32(-decimals)),
		Decimals: decimals,
	}, nil
}

func (d *Driver) coinMetadataDecimals(ctx context.Context, coinType string) (int, error) {
	result, err := d.client.Call(ctx, "suix_getCoinMetadata", []interface{}{coinType})
	if err != nil {
		return 0, err
	}
	var meta struct {
		Decimals int `json:"decimals"`
	}
	if err := json.Unmarshal(result, &meta); err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

func (d *Driver) EnumerateTokens(ctx context.Context, address string) ([]chaindriver.TokenBalanceResult, error) {
	if !d.ValidateAddress(address) {
		return nil, errs.NewValidation("sui.EnumerateTokens", fmt.Sprintf("invalid address %q", address))
	}

	result, err := d.client.Call(ctx, "suix_getAllBalances", []interface{}{address})
	if err != nil {
		return nil, wrapErr("sui.EnumerateTokens", err)
	}

	var balances []suiBalance
	if err := json.Unmarshal(result, &balances); err != nil {
		return nil, errs.NewUpstreamSchema("sui.EnumerateTokens", "unparseable suix_getAllBalances result", err)
	}

	results := make([]chaindriver.TokenBalanceResult, 0, len(balances))
	for _, b := range balances {
		if b.CoinType == "0x2::sui::SUI" {
			continue // native coin, surfaced via NativeBalance
		}
		raw, err := decimal.NewFromString(b.TotalBalance)
		if err != nil {
			continue
		}
		decimals := suiDecimals
		if meta, err := d.coinMetadataDecimals(ctx, b.CoinType); err == nil {
			decimals = meta
		}
		results = append(results, chaindriver.TokenBalanceResult{
			Contract: b.CoinType,
			Balance:  raw.Shift(int32(-decimals)),
			Decimals: decimals,
		})
	}
	return results, nil
}

// FirstTransactionTime is unsupported: Sui's transaction-query RPC is
// indexed by digest, not address-ordered-by-time, so there is no cheap
// "first transaction" lookup without a dedicated indexer.
func (d *Driver) FirstTransactionTime(ctx context.Context, address string) (chaindriver.FirstTransactionResult, bool, error) {
	return chaindriver.FirstTransactionResult{}, false, nil
}

func (d *Driver) ValidateAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") {
		return false
	}
	hex := strings.TrimPrefix(address, "0x")
	if len(hex) != 64 {
		return false
	}
	for _, c := range hex {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func (d *Driver) Close() error {
	return d.client.Close()
}

func wrapErr(op string, err error) error {
	if rpcErr, ok := err.(*rpc.Error); ok && rpcErr.IsRateLimit() {
		return errs.NewRateLimit(op, rpcErr.Message, 0, err)
	}
	return errs.NewTransientNetwork(op, "rpc call failed", err)
}

var _ chaindriver.Driver = (*Driver)(nil)
