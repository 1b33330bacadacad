package validation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pterrors "github.com/powertraderai/powertrader/pkg/errors"
)

func TestSymbolNormalizes(t *testing.T) {
	s, err := Symbol("  btc ")
	require.NoError(t, err)
	assert.Equal(t, "BTC", s)
}

func TestSymbolRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "B", "BTC-USD", "BTC!", "TOOLONGSYMBOLNAME"} {
		_, err := Symbol(bad)
		assert.Error(t, err, "expected rejection of %q", bad)
		assert.True(t, pterrors.Is(err, pterrors.CategoryValidation))
	}
}

func TestTradingPair(t *testing.T) {
	p, err := TradingPair("btc-usd")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", p)

	for _, bad := range []string{"", "BTCUSD", "BTC-", "-USD", "BTC_USD"} {
		_, err := TradingPair(bad)
		assert.Error(t, err, "expected rejection of %q", bad)
	}
}

func TestPriceBounds(t *testing.T) {
	assert.NoError(t, Price(decimal.RequireFromString("45000.12")))
	assert.Error(t, Price(decimal.Zero))
	assert.Error(t, Price(decimal.RequireFromString("-1")))
	assert.Error(t, Price(decimal.RequireFromString("0.000000001")))
	assert.Error(t, Price(decimal.RequireFromString("10000001")))
}

func TestParsePrice(t *testing.T) {
	d, err := ParsePrice(" 123.45 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("123.45")))

	_, err = ParsePrice("not-a-number")
	assert.Error(t, err)
}

func TestVolumeBounds(t *testing.T) {
	assert.NoError(t, Volume(decimal.RequireFromString("0.5")))
	assert.Error(t, Volume(decimal.Zero))
	assert.Error(t, Volume(decimal.RequireFromString("1000000001")))
}

func TestPercentage(t *testing.T) {
	assert.NoError(t, Percentage(decimal.NewFromInt(-100)))
	assert.NoError(t, Percentage(decimal.NewFromInt(250)))
	assert.Error(t, Percentage(decimal.NewFromInt(-101)))
	assert.Error(t, Percentage(decimal.NewFromInt(10001)))
}
