package bitcoin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/models"
)

func testChain(explorerURL string) models.Chain {
	return models.Chain{
		Name: "bitcoin", Family: models.FamilyBTC,
		Endpoints: []models.Endpoint{{
			URL: explorerURL, BaseDelay: time.Millisecond, MaxRetries: 1,
			ConnectTimeout: time.Second, CallTimeout: time.Second,
		}},
	}
}

func TestNew_RejectsChainWithNoEndpoints(t *testing.T) {
	_, err := New(models.Chain{Name: "bitcoin", Family: models.FamilyBTC})
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	assert.True(t, drv.ValidateAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"))
	assert.False(t, drv.ValidateAddress("not-a-bitcoin-address"))
}

func TestNativeBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chain_stats":{"funded_txo_sum":150000000,"spent_txo_sum":50000000,"tx_count":3},"mempool_stats":{"funded_txo_sum":0,"spent_txo_sum":0}}`))
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	result, err := drv.NativeBalance(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.NoError(t, err)
	assert.Equal(t, 8, result.Decimals)
	assert.Equal(t, "1", result.Balance.String())
}

func TestNativeBalance_InvalidAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	_, err = drv.NativeBalance(context.Background(), "bogus")
	assert.Error(t, err)
}

func TestTokenBalance_Unsupported(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	_, err = drv.TokenBalance(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", "whatever")
	assert.ErrorIs(t, err, chaindriver.ErrUnsupported)
}

func TestFirstTransactionTime_PicksOldest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"status":{"block_time":2000}},{"status":{"block_time":1000}},{"status":{"block_time":1500}}]`))
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	result, ok, err := drv.FirstTransactionTime(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), result.Timestamp.Unix())
	assert.False(t, result.IsEstimated)
}

func TestFirstTransactionTime_NoTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	_, ok, err := drv.FirstTransactionTime(context.Background(), "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.NoError(t, err)
	assert.False(t, ok)
}
