package covalent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportsChain(t *testing.T) {
	p := New("test-key", 5)
	assert.True(t, p.SupportsChain("ethereum"))
	assert.True(t, p.SupportsChain("ETHEREUM"), "chain lookup is case-insensitive")
	assert.False(t, p.SupportsChain("solana"))
}

func TestSupportedChains_MatchesChainTable(t *testing.T) {
	p := New("test-key", 5)
	assert.Len(t, p.SupportedChains(), len(covalentChains))
}

func TestGetWalletAssets_NoAPIKeyReturnsEmptyNotError(t *testing.T) {
	p := New("", 5)
	assets, err := p.GetWalletAssets(context.Background(), "ethereum", "0xabc")
	require.NoError(t, err)
	assert.Nil(t, assets)
}

func TestGetWalletAssets_UnsupportedChainReturnsEmptyNotError(t *testing.T) {
	p := New("test-key", 5)
	assets, err := p.GetWalletAssets(context.Background(), "solana", "abc")
	require.NoError(t, err)
	assert.Nil(t, assets)
}

func TestGetTokenPrice_AlwaysNil(t *testing.T) {
	p := New("test-key", 5)
	price, err := p.GetTokenPrice(context.Background(), "ETH", "ethereum")
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestNameTierKind(t *testing.T) {
	p := New("test-key", 5)
	assert.Equal(t, "covalent", p.Name())
	assert.Equal(t, "multi-chain", string(p.Kind()))
}
