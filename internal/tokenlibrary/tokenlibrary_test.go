package tokenlibrary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/portfoliod/internal/chaindriver"
	"github.com/yourusername/portfoliod/internal/models"
	"github.com/yourusername/portfoliod/internal/store"
)

type fakeDriver struct {
	validAddresses map[string]bool
}

func (f *fakeDriver) NativeBalance(ctx context.Context, address string) (chaindriver.NativeBalanceResult, error) {
	return chaindriver.NativeBalanceResult{}, chaindriver.ErrUnsupported
}
func (f *fakeDriver) TokenBalance(ctx context.Context, address, contract string) (chaindriver.TokenBalanceResult, error) {
	return chaindriver.TokenBalanceResult{}, chaindriver.ErrUnsupported
}
func (f *fakeDriver) EnumerateTokens(ctx context.Context, address string) ([]chaindriver.TokenBalanceResult, error) {
	return nil, chaindriver.ErrUnsupported
}
func (f *fakeDriver) FirstTransactionTime(ctx context.Context, address string) (chaindriver.FirstTransactionResult, bool, error) {
	return chaindriver.FirstTransactionResult{}, false, nil
}
func (f *fakeDriver) ValidateAddress(address string) bool { return f.validAddresses[address] }
func (f *fakeDriver) Close() error                         { return nil }

func newTestLibrary(t *testing.T) (*Library, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := chaindriver.NewRegistry()
	drv := &fakeDriver{validAddresses: map[string]bool{"0xgoodcontract": true}}
	reg.RegisterFamily("evm", func(models.Chain) (chaindriver.Driver, error) { return drv, nil })
	reg.RegisterChain(models.Chain{Name: "ethereum", Family: "evm"})

	return New(st, reg), st
}

func TestSeed_IsIdempotent(t *testing.T) {
	lib, st := newTestLibrary(t)
	require.NoError(t, lib.Seed(context.Background()))
	require.NoError(t, lib.Seed(context.Background()))

	_, _, found, err := st.FindTokenBySymbolChain("ETH", "ethereum")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFindToken_PredefinedCatalogHit(t *testing.T) {
	lib, _ := newTestLibrary(t)
	tok, found := lib.FindToken(context.Background(), "eth", "ethereum")
	require.True(t, found)
	assert.Equal(t, "ETH", tok.Symbol)
	assert.True(t, tok.IsNative())
}

func TestFindToken_FallsBackToStoreAfterSeed(t *testing.T) {
	lib, _ := newTestLibrary(t)
	require.NoError(t, lib.Seed(context.Background()))

	tok, found := lib.FindToken(context.Background(), "USDC", "ethereum")
	require.True(t, found)
	assert.Equal(t, "USDC", tok.Symbol)
}

func TestFindToken_UnknownReturnsFalse(t *testing.T) {
	lib, _ := newTestLibrary(t)
	_, found := lib.FindToken(context.Background(), "NOPE", "ethereum")
	assert.False(t, found)
}

func TestFindExternalPriceID(t *testing.T) {
	lib, _ := newTestLibrary(t)
	id, found := lib.FindExternalPriceID(context.Background(), "ETH", "ethereum")
	require.True(t, found)
	assert.Equal(t, "ethereum", id)

	_, found = lib.FindExternalPriceID(context.Background(), "NOPE", "ethereum")
	assert.False(t, found)
}

func TestAddCustomToken_ValidatesContractViaDriver(t *testing.T) {
	lib, _ := newTestLibrary(t)

	tok, id, err := lib.AddCustomToken("FOO", "Foo Token", "ethereum", "0xgoodcontract", 18, "foo-token")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "FOO", tok.Symbol)
	assert.False(t, tok.IsPredefined)
}

func TestAddCustomToken_RejectsInvalidContract(t *testing.T) {
	lib, _ := newTestLibrary(t)

	_, _, err := lib.AddCustomToken("FOO", "Foo Token", "ethereum", "0xbadcontract", 18, "")
	assert.Error(t, err)
}

func TestAddCustomToken_UnknownChainIsError(t *testing.T) {
	lib, _ := newTestLibrary(t)

	_, _, err := lib.AddCustomToken("FOO", "Foo Token", "nonexistent", "0xgoodcontract", 18, "")
	assert.Error(t, err)
}

func TestAddCustomToken_NativeCoinSkipsAddressValidation(t *testing.T) {
	lib, _ := newTestLibrary(t)

	tok, _, err := lib.AddCustomToken("FOO", "Foo Token", "ethereum", "", 18, "")
	require.NoError(t, err)
	assert.True(t, tok.IsNative())
}

func TestChainCatalog_ReturnsPredefinedTokensForChain(t *testing.T) {
	lib, _ := newTestLibrary(t)
	catalog := lib.ChainCatalog("ethereum")
	assert.NotEmpty(t, catalog)

	assert.Nil(t, lib.ChainCatalog("nonexistent"))
}

func TestSearch_CombinesStoreAndPredefinedWithoutDuplicates(t *testing.T) {
	lib, st := newTestLibrary(t)
	require.NoError(t, lib.Seed(context.Background()))

	results, err := lib.Search("ethereum", "USD", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	seen := make(map[string]bool)
	for _, tok := range results {
		assert.False(t, seen[tok.Key()], "search results must not contain duplicates")
		seen[tok.Key()] = true
	}

	_ = st
}


func TestSearch_RespectsLimit(t *testing.T) {
	lib, _ := newTestLibrary(t)
	results, err := lib.Search("ethereum", "", 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 1)
}
