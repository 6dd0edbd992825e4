package solana

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/models"
)

func testChain(rpcURL string) models.Chain {
	return models.Chain{
		Name: "solana", Family: models.FamilySolana,
		Endpoints: []models.Endpoint{{
			URL: rpcURL, BaseDelay: time.Millisecond, MaxRetries: 1,
			ConnectTimeout: time.Second, CallTimeout: time.Second,
		}},
	}
}

func TestNew_RejectsChainWithNoEndpoints(t *testing.T) {
	_, err := New(models.Chain{Name: "solana", Family: models.FamilySolana})
	assert.Error(t, err)
}

func TestValidateAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	assert.True(t, drv.ValidateAddress("11111111111111111111111111111111"))
	assert.False(t, drv.ValidateAddress("not-base58!!!"))
}

func TestNativeBalance_InvalidAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	_, err = drv.NativeBalance(context.Background(), "not-base58!!!")
	assert.Error(t, err)
}

func TestFirstTransactionTime_PicksOldestOnPage(t *testing.T) {
	const oldestSig = "4Umk1E47BhUNBHJQGJto6i5xpATqVs8UxW11QjpoVnBmiv7aZJyG78yVYj99SrozRa9x7av8p3GJmBuzvhpUHDZ"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[
			{"signature":"2AFv15MNPuA84RmU66xw2uMzGipcVxNpzAffoacGVvjFue3CBmf633fAWuiP9cwL9C3z3CJiGgRSFjJfeEcA6QX","slot":300,"blockTime":3000},
			{"signature":"3KWq19hjnoKF7rXwBCvs4oiyYSeDzukeyLLLcADXzrTWpH5PNYKB56KL2pRmJEsfHP6y5PcRYMqsWTcLHUDKBp3","slot":200,"blockTime":2000},
			{"signature":"` + oldestSig + `","slot":100,"blockTime":1000}
		]}`))
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	result, ok, err := drv.FirstTransactionTime(context.Background(), "11111111111111111111111111111111")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1000), result.Timestamp.Unix())
	assert.Equal(t, oldestSig, result.TxHash)
	require.NotNil(t, result.BlockNumber)
	assert.Equal(t, uint64(100), *result.BlockNumber)
}

func TestFirstTransactionTime_NoSignatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[]}`))
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	_, ok, err := drv.FirstTransactionTime(context.Background(), "11111111111111111111111111111111")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirstTransactionTime_InvalidAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	_, ok, err := drv.FirstTransactionTime(context.Background(), "not-base58!!!")
	assert.Error(t, err)
	assert.False(t, ok)
}
