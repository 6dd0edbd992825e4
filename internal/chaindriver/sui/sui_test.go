package sui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/models"
)

const validAddr = "0x000000000000000000000000000000000000000000000000000000000000000a"

func testChain(rpcURL string) models.Chain {
	return models.Chain{
		Name: "sui", Family: models.FamilySui,
		Endpoints: []models.Endpoint{{
			URL: rpcURL, BaseDelay: time.Millisecond, MaxRetries: 1,
			ConnectTimeout: time.Second, CallTimeout: time.Second,
		}},
	}
}

func TestValidateAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	assert.True(t, drv.ValidateAddress(validAddr))
	assert.False(t, drv.ValidateAddress("not-an-address"))
	assert.False(t, drv.ValidateAddress("0x123"))
}

func TestNativeBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "suix_getBalance", req.Method)

		data, _ := json.Marshal(map[string]interface{}{
			"coinType": "0x2::sui::SUI", "coinObjectCount": 2, "totalBalance": "2000000000",
		})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": json.RawMessage(data),
		})
	}))
	defer srv.Close()

	drv, err := New(testChain(srv.URL))
	require.NoError(t, err)
	defer drv.Close()

	result, err := drv.NativeBalance(context.Background(), validAddr)
	require.NoError(t, err)
	assert.Equal(t, 9, result.Decimals)
	assert.Equal(t, "2", result.Balance.String())
}

func TestNativeBalance_InvalidAddress(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	_, err = drv.NativeBalance(context.Background(), "bogus")
	assert.Error(t, err)
}

func TestFirstTransactionTime_Unsupported(t *testing.T) {
	drv, err := New(testChain("http://unused.invalid"))
	require.NoError(t, err)
	defer drv.Close()

	_, ok, err := drv.FirstTransactionTime(context.Background(), validAddr)
	require.NoError(t, err)
	assert.False(t, ok)
}
