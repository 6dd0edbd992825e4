package alchemy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportsChain(t *testing.T) {
	p := New("test-key", 5, time.Millisecond)
	assert.True(t, p.SupportsChain("ethereum"))
	assert.True(t, p.SupportsChain("polygon"))
	assert.False(t, p.SupportsChain("bitcoin"))
	assert.False(t, p.SupportsChain("sui"))
}

func TestSupportedChains_MatchesNetworkTable(t *testing.T) {
	p := New("test-key", 5, time.Millisecond)
	chains := p.SupportedChains()
	assert.Contains(t, chains, "ethereum")
	assert.Contains(t, chains, "arbitrum")
	assert.Len(t, chains, len(alchemyNetworks))
}

func TestGetWalletAssets_NoAPIKeyReturnsEmptyNotError(t *testing.T) {
	p := New("", 5, time.Millisecond)
	assets, err := p.GetWalletAssets(context.Background(), "ethereum", "0xabc")
	require.NoError(t, err)
	assert.Nil(t, assets)
}

func TestGetTokenBalance_NoAPIKeyReturnsNilNotError(t *testing.T) {
	p := New("", 5, time.Millisecond)
	balance, err := p.GetTokenBalance(context.Background(), "ethereum", "0xabc", "0xdef")
	require.NoError(t, err)
	assert.Nil(t, balance)
}

func TestGetTokenPrice_NoAPIKeyReturnsNilNotError(t *testing.T) {
	p := New("", 5, time.Millisecond)
	price, err := p.GetTokenPrice(context.Background(), "ETH", "ethereum")
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestNameTierKind(t *testing.T) {
	p := New("test-key", 5, 250*time.Millisecond)
	assert.Equal(t, "alchemy", p.Name())
	assert.Equal(t, "multi-chain", string(p.Kind()))
	assert.Equal(t, 250*time.Millisecond, p.RateLimitDelay())
}

func TestClose(t *testing.T) {
	p := New("test-key", 5, time.Millisecond)
	assert.NoError(t, p.Close())
}
