// Package solana implements chaindriver.Driver for Solana using
// gagliardetto/solana-go's RPC client. Endpoint retry/failover is layered
// on top by hand since solana-go's rpc.Client talks to a
// single endpoint; the backoff formula mirrors internal/chaindriver/rpc.
package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/errs"
	"github.com/yourusername/portfoliod/internal/models"
)

const (
	lamportsPerSOL = 9
	splTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

// Driver implements chaindriver.Driver for Solana mainnet/devnet/testnet.
type Driver struct {
	chain      models.Chain
	clients    []*rpc.Client
	endpoints  []string
	baseDelay  time.Duration
	maxRetries int
}

func New(chain models.Chain) (chaindriver.Driver, error) {
	if len(chain.Endpoints) == 0 {
		return nil, errs.NewValidation("solana.New", fmt.Sprintf("chain %s has no endpoints configured", chain.Name))
	}
	clients := make([]*rpc.Client, 0, len(chain.Endpoints))
	endpoints := make([]string, 0, len(chain.Endpoints))
	for _, ep := range chain.Endpoints {
		clients = append(clients, rpc.New(ep.URL))
		endpoints = append(endpoints, ep.URL)
	}
	def := chain.DefaultEndpoint()
	return &Driver{
		chain:      chain,
		clients:    clients,
		endpoints:  endpoints,
		baseDelay:  def.BaseDelay,
		maxRetries: def.MaxRetries,
	}, nil
}

func (d *Driver) NativeBalance(ctx context.Context, address string) (chaindriver.NativeBalanceResult, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return chaindriver.NativeBalanceResult{}, errs.NewValidation("solana.NativeBalance", fmt.Sprintf("invalid address %q", address))
	}

	var out *rpc.GetBalanceResult
	err = d.withFailover(ctx, func(ctx context.Context, c *rpc.Client) error {
		res, err := c.GetBalance(ctx, pubkey, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return chaindriver.NativeBalanceResult{}, wrapErr("solana.NativeBalance", err)
	}

	return chaindriver.NativeBalanceResult{
		Balance:  decimal.New(int64(out.Value), 0).Shift(-lamportsPerSOL),
		Decimals: lamportsPerSOL,
	}, nil
}

func (d *Driver) TokenBalance(ctx context.Context, address, contract string) (chaindriver.TokenBalanceResult, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return chaindriver.TokenBalanceResult{}, errs.NewValidation("solana.TokenBalance", fmt.Sprintf("invalid address %q", address))
	}
	mint, err := solana.PublicKeyFromBase58(contract)
	if err != nil {
		return chaindriver.TokenBalanceResult{}, errs.NewValidation("solana.TokenBalance", fmt.Sprintf("invalid mint %q", contract))
	}

	var out *rpc.GetTokenAccountsResult
	err = d.withFailover(ctx, func(ctx context.Context, c *rpc.Client) error {
		res, err := c.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{Mint: &mint},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed, Commitment: rpc.CommitmentFinalized},
		)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return chaindriver.TokenBalanceResult{}, wrapErr("solana.TokenBalance", err)
	}

	balance, decimals := sumTokenAccounts(out)
	return chaindriver.TokenBalanceResult{Contract: contract, Balance: balance, Decimals: decimals}, nil
}

func (d *Driver) EnumerateTokens(ctx context.Context, address string) ([]chaindriver.TokenBalanceResult, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, errs.NewValidation("solana.EnumerateTokens", fmt.Sprintf("invalid address %q", address))
	}
	programID := solana.MustPublicKeyFromBase58(splTokenProgram)

	var out *rpc.GetTokenAccountsResult
	err = d.withFailover(ctx, func(ctx context.Context, c *rpc.Client) error {
		res, err := c.GetTokenAccountsByOwner(ctx, owner,
			&rpc.GetTokenAccountsConfig{ProgramId: &programID},
			&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed, Commitment: rpc.CommitmentFinalized},
		)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, wrapErr("solana.EnumerateTokens", err)
	}

	byMint := make(map[string]chaindriver.TokenBalanceResult)
	for _, acc := range out.Value {
		parsed, err := parseTokenAccount(acc)
		if err != nil {
			continue
		}
		if parsed.Balance.IsZero() {
			continue
		}
		existing, ok := byMint[parsed.Contract]
		if !ok || parsed.Balance.GreaterThan(existing.Balance) {
			byMint[parsed.Contract] = parsed
		}
	}

	results := make([]chaindriver.TokenBalanceResult, 0, len(byMint))
	for _, r := range byMint {
		results = append(results, r)
	}
	return results, nil
}

// FirstTransactionTime asks getSignaturesForAddress for the oldest
// signature it still retains, capped at a single 1000-signature page —
// analogous to the Bitcoin driver's single-page explorer lookup, not a
// genesis walk. Pruned nodes that no longer retain history for an old
// wallet report ok=false rather than a wrong (too-recent) estimate.
func (d *Driver) FirstTransactionTime(ctx context.Context, address string) (chaindriver.FirstTransactionResult, bool, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return chaindriver.FirstTransactionResult{}, false, errs.NewValidation("solana.FirstTransactionTime", fmt.Sprintf("invalid address %q", address))
	}

	limit := 1000
	var out []*rpc.TransactionSignature
	err = d.withFailover(ctx, func(ctx context.Context, c *rpc.Client) error {
		res, err := c.GetSignaturesForAddressWithOpts(ctx, pubkey, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentFinalized,
		})
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return chaindriver.FirstTransactionResult{}, false, wrapErr("solana.FirstTransactionTime", err)
	}
	if len(out) == 0 {
		return chaindriver.FirstTransactionResult{}, false, nil
	}

	// getSignaturesForAddress returns newest-first; the last entry on this
	// page is the oldest one the node still retains.
	oldest := out[len(out)-1]
	if oldest.BlockTime == nil {
		return chaindriver.FirstTransactionResult{}, false, nil
	}
	block := oldest.Slot
	return chaindriver.FirstTransactionResult{
		Timestamp:   time.Unix(int64(*oldest.BlockTime), 0).UTC(),
		TxHash:      oldest.Signature.String(),
		BlockNumber: &block,
		// A full 1000-signature page means older signatures may exist
		// beyond this node's retention window or this single page, so the
		// oldest visible entry is a lower bound, not a confirmed first tx.
		IsEstimated: len(out) == limit,
	}, true, nil
}

func (d *Driver) ValidateAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

func (d *Driver) Close() error { return nil }

// withFailover runs call against each configured endpoint in turn,
// retrying each with exponential back-off up to maxRetries before moving
// on.
func (d *Driver) withFailover(ctx context.Context, call func(ctx context.Context, c *rpc.Client) error) error {
	var lastErr error
	for _, client := range d.clients {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = d.baseDelay
		eb.Multiplier = 2
		eb.RandomizationFactor = 0

		for attempt := 0; attempt < d.maxRetries; attempt++ {
			err := call(ctx, client)
			if err == nil {
				return nil
			}
			lastErr = err

			wait := eb.NextBackOff()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

func wrapErr(op string, err error) error {
	return errs.NewTransientNetwork(op, "solana rpc call failed", err)
}

func sumTokenAccounts(res *rpc.GetTokenAccountsResult) (decimal.Decimal, int) {
	total := decimal.Zero
	decimals := 0
	for _, acc := range res.Value {
		parsed, err := parseTokenAccount(acc)
		if err != nil {
			continue
		}
		total = total.Add(parsed.Balance)
		decimals = parsed.Decimals
	}
	return total, decimals
}

func parseTokenAccount(acc *rpc.KeyedAccount) (chaindriver.TokenBalanceResult, error) {
	parsedAccount, err := acc.Account.Data.GetRawJSON()
	if err != nil {
		return chaindriver.TokenBalanceResult{}, err
	}

	var parsed struct {
		Parsed struct {
			Info struct {
				Mint        string `json:"mint"`
				TokenAmount struct {
					Amount   string `json:"amount"`
					Decimals int    `json:"decimals"`
				} `json:"tokenAmount"`
			} `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(parsedAccount, &parsed); err != nil {
		return chaindriver.TokenBalanceResult{}, err
	}

	rawAmount, err := decimal.NewFromString(parsed.Parsed.Info.TokenAmount.Amount)
	if err != nil {
		return chaindriver.TokenBalanceResult{}, err
	}
	decimals := parsed.Parsed.Info.TokenAmount.Decimals

	return chaindriver.TokenBalanceResult{
		Contract: parsed.Parsed.Info.Mint,
		Balance:  rawAmount.Shift(int32(-decimals)),
		Decimals: decimals,
	}, nil
}
