package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/models"
)

func testChain(rpcURL string) models.Chain {
	return models.Chain{
		Name: "ethereum", Family: models.FamilyEVM,
		Endpoints: []models.Endpoint{{
			URL: rpcURL, BaseDelay: time.Millisecond, MaxRetries: 1,
			ConnectTimeout: time.Second, CallTimeout: time.Second,
		}},
	}
}

func TestNew_RejectsChainWithNoEndpoints(t *testing.T) {
	_, err := New(models.Chain{Name: "ethereum", Family: models.FamilyEVM})
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	assert.True(t, drv.ValidateAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb7"[:42]))
	assert.False(t, drv.ValidateAddress("not-an-address"))
	assert.False(t, drv.ValidateAddress(""))
}

func TestNativeBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_getBalance", req.Method)

		oneEth := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))
		data, _ := json.Marshal(hexutil.EncodeBig(oneEth))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(data),
		})
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	result, err := drv.NativeBalance(context.Background(), "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEbC")
	require.NoError(t, err)
	assert.Equal(t, 18, result.Decimals)
	assert.Equal(t, "1", result.Balance.String())
}

func TestNativeBalance_InvalidAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the network for an invalid address")
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	_, err = drv.NativeBalance(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestEnumerateTokens_Unsupported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	_, err = drv.EnumerateTokens(context.Background(), "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEbC")
	assert.ErrorIs(t, err, chaindriver.ErrUnsupported)
}

func TestFirstTransactionTime_NoExplorerConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the network when no explorer API is configured")
	}))
	defer srv.Close()
	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	_, ok, err := drv.FirstTransactionTime(context.Background(), "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEbC")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstTransactionTime_ResolvesViaExplorerAPI(t *testing.T) {
	rpcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data, _ := json.Marshal(hexutil.EncodeUint64(3))
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(data)})
	}))
	defer rpcSrv.Close()

	explorerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "txlist", r.URL.Query().Get("action"))
		assert.Equal(t, "asc", r.URL.Query().Get("sort"))
		w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0xabc123","blockNumber":"100","timeStamp":"1000"}]}`))
	}))
	defer explorerSrv.Close()

	chain := testChain(rpcSrv.URL)
	chain.ExplorerAPIURL = explorerSrv.URL
	chain.ExplorerAPIKey = "test-key"
	drv, err := New(chain)
	require.NoError(t, err)
	defer drv.Close()

	result, ok, err := drv.FirstTransactionTime(context.Background(), "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEbC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), result.Timestamp.Unix())
	assert.Equal(t, "0xabc123", result.TxHash)
	require.NotNil(t, result.BlockNumber)
	assert.Equal(t, uint64(100), *result.BlockNumber)
	assert.False(t, result.IsEstimated)
}

func TestFirstTransactionTime_ZeroTransactionsSkipsExplorerCall(t *testing.T) {
	rpcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data, _ := json.Marshal(hexutil.EncodeUint64(0))
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(data)})
	}))
	defer rpcSrv.Close()

	explorerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the explorer API for an address with zero transactions")
	}))
	defer explorerSrv.Close()

	chain := testChain(rpcSrv.URL)
	chain.ExplorerAPIURL = explorerSrv.URL
	drv, err := New(chain)
	require.NoError(t, err)
	defer drv.Close()

	_, ok, err := drv.FirstTransactionTime(context.Background(), "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEbC")
	require.NoError(t, err)
	assert.False(t, ok)
}
