// Package bitcoin implements chaindriver.Driver for Bitcoin. Standard
// Bitcoin Core RPC exposes balances only for wallet-imported addresses, so
// unlike the EVM/Solana drivers this one speaks to an Esplora-style block
// explorer REST API (blockstream.info and compatible self-hosted
// instances) configured via the chain's endpoint list, using the same
// exponential-backoff retry policy as the JSON-RPC drivers even though the
// wire format here is plain REST/JSON rather than JSON-RPC. Address
// validation and UTXO amount decoding use btcutil, with satoshi-denominated
// amounts.
package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
)

const satoshiDecimals = 8

type addressStats struct {
	ChainStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
		TxCount      int64 `json:"tx_count"`
	} `json:"chain_stats"`
	MempoolStats struct {
		FundedTxoSum int64 `json:"funded_txo_sum"`
		SpentTxoSum  int64 `json:"spent_txo_sum"`
	} `json:"mempool_stats"`
}

type addressTx struct {
	Txid   string `json:"txid"`
	Status struct {
		BlockHeight uint64 `json:"block_height"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
}

// Driver implements chaindriver.Driver against an Esplora-compatible
// explorer for one Bitcoin-family chain.
type Driver struct {
	chain      models.Chain
	httpClient *http.Client
	endpoints  []string
	baseDelay  time.Duration
	maxRetries int
}

func New(chain models.Chain) (chaindriver.Driver, error) {
	if len(chain.Endpoints) == 0 {
		return nil, errs.NewValidation("bitcoin.New", fmt.Sprintf("chain %s has no endpoints configured", chain.Name))
	}
	endpoints := make([]string, 0, len(chain.Endpoints))
	for _, ep := range chain.Endpoints {
		endpoints = append(endpoints, ep.URL)
	}
	def := chain.DefaultEndpoint()
	return &Driver{
		chain:      chain,
		httpClient: &http.Client{Timeout: def.CallTimeout},
		endpoints:  endpoints,
		baseDelay:  def.BaseDelay,
		maxRetries: def.MaxRetries,
	}, nil
}

func (d *Driver) NativeBalance(ctx context.Context, address string) (chaindriver.NativeBalanceResult, error) {
	if !d.ValidateAddress(address) {
		return chaindriver.NativeBalanceResult{}, errs.NewValidation("bitcoin.NativeBalance", fmt.Sprintf("invalid address %q", address))
	}

	var stats addressStats
	if err := d.getJSON(ctx, "/address/"+address, &stats); err != nil {
		return chaindriver.NativeBalanceResult{}, err
	}

	sats := stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum
	return chaindriver.NativeBalanceResult{
		Balance:  decimal.New(sats, 0).Shift(-satoshiDecimals),
		Decimals: satoshiDecimals,
	}, nil
}

// TokenBalance is unsupported: Bitcoin has no native fungible-token layer
// in this driver's scope (no Runes/Ordinals support per the Non-goals).
func (d *Driver) TokenBalance(ctx context.Context, address, contract string) (chaindriver.TokenBalanceResult, error) {
	return chaindriver.TokenBalanceResult{}, chaindriver.ErrUnsupported
}

func (d *Driver) EnumerateTokens(ctx context.Context, address string) ([]chaindriver.TokenBalanceResult, error) {
	return nil, chaindriver.ErrUnsupported
}

func (d *Driver) FirstTransactionTime(ctx context.Context, address string) (chaindriver.FirstTransactionResult, bool, error) {
	if !d.ValidateAddress(address) {
		return chaindriver.FirstTransactionResult{}, false, errs.NewValidation("bitcoin.FirstTransactionTime", fmt.Sprintf("invalid address %q", address))
	}

	var txs []addressTx
	if err := d.getJSON(ctx, "/address/"+address+"/txs/chain", &txs); err != nil {
		return chaindriver.FirstTransactionResult{}, false, err
	}
	if len(txs) == 0 {
		return chaindriver.FirstTransactionResult{}, false, nil
	}

	// Esplora returns transactions newest-first; the first transaction is
	// the oldest confirmed one since this endpoint paginates from the tip
	// backwards and we only need the earliest we can see on the first page.
	oldest := txs[0]
	for _, tx := range txs[1:] {
		if tx.Status.BlockTime != 0 && (oldest.Status.BlockTime == 0 || tx.Status.BlockTime < oldest.Status.BlockTime) {
			oldest = tx
		}
	}
	if oldest.Status.BlockTime == 0 {
		return chaindriver.FirstTransactionResult{}, false, nil
	}
	block := oldest.Status.BlockHeight
	return chaindriver.FirstTransactionResult{
		Timestamp:   time.Unix(oldest.Status.BlockTime, 0).UTC(),
		TxHash:      oldest.Txid,
		BlockNumber: &block,
		IsEstimated: false,
	}, true, nil
}

func (d *Driver) ValidateAddress(address string) bool {
	params := d.netParams()
	_, err := btcutil.DecodeAddress(address, params)
	return err == nil
}

func (d *Driver) netParams() *chaincfg.Params {
	return &chaincfg.MainNetParams
}

func (d *Driver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}

// getJSON fetches path from each configured explorer endpoint in order,
// retrying each with exponential back-off before moving to the next
// (retry-then-failover contract applied to REST).
func (d *Driver) getJSON(ctx context.Context, path string, out interface{}) error {
	var lastErr error
	for _, base := range d.endpoints {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = d.baseDelay
		eb.Multiplier = 2
		eb.RandomizationFactor = 0

		for attempt := 0; attempt < d.maxRetries; attempt++ {
			body, statusCode, err := d.fetch(ctx, base+path)
			if err == nil {
				if unmarshalErr := json.Unmarshal(body, out); unmarshalErr != nil {
					return errs.NewUpstreamSchema("bitcoin.getJSON", "unparseable explorer response", unmarshalErr)
				}
				return nil
			}
			lastErr = err

			wait := eb.NextBackOff()
			if statusCode == http.StatusTooManyRequests {
				wait += 30 * time.Second
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return errs.NewTransientNetwork("bitcoin.getJSON", "all explorer endpoints failed", lastErr)
}

func (d *Driver) fetch(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("explorer returned %d", resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

var _ chaindriver.Driver = (*Driver)(nil)
