// Package evm implements chaindriver.Driver for EVM-family chains
// (Ethereum, and any EVM-compatible chain reachable over the same
// json-rpc method set), using raw rpc.Client.Call plus go-ethereum's
// hexutil for decoding rather than a full ethclient.Client (no websocket
// subscriptions or tx building are needed for read-only balance queries).
package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/chaindriver/rpc"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
)

const nativeDecimals = 18

var erc20ABI abi.ABI

func init() {
	const erc20JSON = `[
		{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
		{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"}
	]`
	parsed, err := abi.JSON(strings.NewReader(erc20JSON))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid embedded ERC-20 ABI: %v", err))
	}
	erc20ABI = parsed
}

// Driver implements chaindriver.Driver for one EVM chain.
type Driver struct {
	chain    models.Chain
	client   rpc.Client
	explorer *http.Client
}

// New constructs an EVM driver for chain, building its RPC client from the
// chain's configured endpoints.
func New(chain models.Chain) (chaindriver.Driver, error) {
	endpoints := make([]string, 0, len(chain.Endpoints))
	for _, ep := range chain.Endpoints {
		endpoints = append(endpoints, ep.URL)
	}
	if len(endpoints) == 0 {
		return nil, errs.NewValidation("evm.New", fmt.Sprintf("chain %s has no endpoints configured", chain.Name))
	}
	def := chain.DefaultEndpoint()
	client, err := rpc.NewHTTPClient(endpoints, def.CallTimeout,
		rpc.WithBaseDelay(def.BaseDelay),
		rpc.WithMaxRetries(def.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("evm.New(%s): %w", chain.Name, err)
	}
	return &Driver{
		chain:    chain,
		client:   client,
		explorer: &http.Client{Timeout: def.CallTimeout},
	}, nil
}

func (d *Driver) NativeBalance(ctx context.Context, address string) (chaindriver.NativeBalanceResult, error) {
	if !d.ValidateAddress(address) {
		return chaindriver.NativeBalanceResult{}, errs.NewValidation("evm.NativeBalance", fmt.Sprintf("invalid address %q", address))
	}

	result, err := d.client.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return chaindriver.NativeBalanceResult{}, wrapRPCErr("evm.NativeBalance", err)
	}

	var hexBalance string
	if err := json.Unmarshal(result, &hexBalance); err != nil {
		return chaindriver.NativeBalanceResult{}, errs.NewUpstreamSchema("evm.NativeBalance", "unparseable eth_getBalance result", err)
	}
	wei, err := hexutil.DecodeBig(hexBalance)
	if err != nil {
		return chaindriver.NativeBalanceResult{}, errs.NewUpstreamSchema("evm.NativeBalance", "malformed balance hex", err)
	}

	return chaindriver.NativeBalanceResult{
		Balance:  weiToDecimal(wei, nativeDecimals),
		Decimals: nativeDecimals,
	}, nil
}

func (d *Driver) TokenBalance(ctx context.Context, address, contract string) (chaindriver.TokenBalanceResult, error) {
	if !d.ValidateAddress(address) || !common.IsHexAddress(contract) {
		return chaindriver.TokenBalanceResult{}, errs.NewValidation("evm.TokenBalance", "invalid address or contract")
	}

	callData, err := erc20ABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return chaindriver.TokenBalanceResult{}, fmt.Errorf("pack balanceOf call: %w", err)
	}

	balanceResult, err := d.ethCall(ctx, contract, callData)
	if err != nil {
		return chaindriver.TokenBalanceResult{}, err
	}
	var rawBalance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&rawBalance, "balanceOf", balanceResult); err != nil {
		return chaindriver.TokenBalanceResult{}, errs.NewUpstreamSchema("evm.TokenBalance", "unparseable balanceOf return", err)
	}

	decimals, err := d.tokenDecimals(ctx, contract)
	if err != nil {
		return chaindriver.TokenBalanceResult{}, err
	}

	return chaindriver.TokenBalanceResult{
		Contract: strings.ToLower(contract),
		Balance:  weiToDecimal(rawBalance, decimals),
		Decimals: decimals,
	}, nil
}

func (d *Driver) tokenDecimals(ctx context.Context, contract string) (int, error) {
	callData, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals call: %w", err)
	}
	result, err := d.ethCall(ctx, contract, callData)
	if err != nil {
		return 0, err
	}
	var dec uint8
	if err := erc20ABI.UnpackIntoInterface(&dec, "decimals", result); err != nil {
		return 0, errs.NewUpstreamSchema("evm.tokenDecimals", "unparseable decimals return", err)
	}
	return int(dec), nil
}

func (d *Driver) ethCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	params := map[string]interface{}{
		"to":   to,
		"data": hexutil.Encode(data),
	}
	result, err := d.client.Call(ctx, "eth_call", []interface{}{params, "latest"})
	if err != nil {
		return nil, wrapRPCErr("evm.ethCall", err)
	}
	var hexResult string
	if err := json.Unmarshal(result, &hexResult); err != nil {
		return nil, errs.NewUpstreamSchema("evm.ethCall", "unparseable eth_call result", err)
	}
	return hexutil.Decode(hexResult)
}

// EnumerateTokens is unsupported: standard EVM nodes expose no
// "list tokens held by address" RPC method (that requires an indexer).
// Discovery falls back to predefined-token probing.
func (d *Driver) EnumerateTokens(ctx context.Context, address string) ([]chaindriver.TokenBalanceResult, error) {
	return nil, chaindriver.ErrUnsupported
}

// FirstTransactionTime resolves the earliest transaction an Etherscan-style
// explorer API reports for address (txlist, sorted ascending, one result),
// when the chain has one configured. Standard EVM nodes expose no "first
// tx" index of their own — finding it without an explorer requires an
// archive-node binary search or a private indexer — so an unconfigured
// explorer means this falls back to ok=false rather than estimating.
func (d *Driver) FirstTransactionTime(ctx context.Context, address string) (chaindriver.FirstTransactionResult, bool, error) {
	if !d.ValidateAddress(address) {
		return chaindriver.FirstTransactionResult{}, false, errs.NewValidation("evm.FirstTransactionTime", fmt.Sprintf("invalid address %q", address))
	}
	if d.chain.ExplorerAPIURL == "" {
		return chaindriver.FirstTransactionResult{}, false, nil
	}
	count, err := d.transactionCount(ctx, address)
	if err != nil {
		return chaindriver.FirstTransactionResult{}, false, err
	}
	if count == 0 {
		return chaindriver.FirstTransactionResult{}, false, nil
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", address)
	q.Set("startblock", "0")
	q.Set("endblock", "99999999")
	q.Set("page", "1")
	q.Set("offset", "1")
	q.Set("sort", "asc")
	if d.chain.ExplorerAPIKey != "" {
		q.Set("apikey", d.chain.ExplorerAPIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.chain.ExplorerAPIURL+"?"+q.Encode(), nil)
	if err != nil {
		return chaindriver.FirstTransactionResult{}, false, err
	}
	resp, err := d.explorer.Do(req)
	if err != nil {
		return chaindriver.FirstTransactionResult{}, false, errs.NewTransientNetwork("evm.FirstTransactionTime", "explorer request failed", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  []struct {
			Hash        string `json:"hash"`
			BlockNumber string `json:"blockNumber"`
			TimeStamp   string `json:"timeStamp"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return chaindriver.FirstTransactionResult{}, false, errs.NewUpstreamSchema("evm.FirstTransactionTime", "unparseable explorer response", err)
	}
	if body.Status != "1" || len(body.Result) == 0 {
		return chaindriver.FirstTransactionResult{}, false, nil
	}

	first := body.Result[0]
	ts, err := strconv.ParseInt(first.TimeStamp, 10, 64)
	if err != nil {
		return chaindriver.FirstTransactionResult{}, false, errs.NewUpstreamSchema("evm.FirstTransactionTime", "unparseable timestamp", err)
	}
	var block *uint64
	if n, err := strconv.ParseUint(first.BlockNumber, 10, 64); err == nil {
		block = &n
	}

	return chaindriver.FirstTransactionResult{
		Timestamp:   time.Unix(ts, 0).UTC(),
		TxHash:      first.Hash,
		BlockNumber: block,
		IsEstimated: false,
	}, true, nil
}

func (d *Driver) transactionCount(ctx context.Context, address string) (uint64, error) {
	result, err := d.client.Call(ctx, "eth_getTransactionCount", []interface{}{address, "latest"})
	if err != nil {
		return 0, wrapRPCErr("evm.transactionCount", err)
	}
	var hexCount string
	if err := json.Unmarshal(result, &hexCount); err != nil {
		return 0, errs.NewUpstreamSchema("evm.transactionCount", "unparseable tx count result", err)
	}
	return hexutil.DecodeUint64(hexCount)
}

func (d *Driver) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

func (d *Driver) Close() error {
	return d.client.Close()
}

func weiToDecimal(wei *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Shift(int32(-decimals))
}

func wrapRPCErr(op string, err error) error {
	if rpcErr, ok := err.(*rpc.Error); ok && rpcErr.IsRateLimit() {
		return errs.NewRateLimit(op, rpcErr.Message, 0, err)
	}
	return errs.NewTransientNetwork(op, "rpc call failed", err)
}

var _ chaindriver.Driver = (*Driver)(nil)
