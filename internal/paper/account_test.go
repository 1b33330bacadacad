package paper

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/powertraderai/powertrader/internal/risk"
	"github.com/powertraderai/powertrader/pkg/models"
)

// fixedPrices quotes constant prices so fills are deterministic.
type fixedPrices map[string]string

func (f fixedPrices) Price(symbol string) decimal.Decimal {
	if p, ok := f[symbol]; ok {
		return decimal.RequireFromString(p)
	}
	return decimal.NewFromInt(100)
}

func newTestAccount(t *testing.T, prices PriceSource) *Account {
	t.Helper()
	return NewAccount(
		decimal.NewFromInt(10000),
		decimal.RequireFromString("0.001"),
		prices,
		nil,
		zaptest.NewLogger(t),
	)
}

func buy(symbol, qty string) models.OrderRequest {
	return models.OrderRequest{
		Symbol: symbol, Side: models.OrderSideBuy,
		Type: models.OrderTypeMarket, Quantity: decimal.RequireFromString(qty),
	}
}

func sell(symbol, qty string) models.OrderRequest {
	req := buy(symbol, qty)
	req.Side = models.OrderSideSell
	return req
}

func TestMarketBuyFillsImmediately(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})

	order, err := a.PlaceOrder(buy("BTC-USD", "0.1"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, order.Status)
	require.NotNil(t, order.FilledAt)
	// commission = 5000 * 0.001 = 5
	assert.True(t, order.Commission.Equal(decimal.NewFromInt(5)))

	s := a.Summary()
	// cash = 10000 - 5000 - 5
	assert.True(t, s.Cash.Equal(decimal.NewFromInt(4995)), "cash = %s", s.Cash)
	require.Len(t, s.Positions, 1)
	assert.True(t, s.Positions[0].Quantity.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 1, s.TradeCount)
}

func TestBuyRejectsInsufficientCash(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})
	_, err := a.PlaceOrder(buy("BTC-USD", "0.3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buying power")

	s := a.Summary()
	assert.True(t, s.Cash.Equal(decimal.NewFromInt(10000)))
	assert.Empty(t, s.Positions)
}

func TestSellRejectsWithoutPosition(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})
	_, err := a.PlaceOrder(sell("BTC-USD", "0.1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient position")
}

func TestAveragePriceAccounting(t *testing.T) {
	prices := fixedPrices{"ETH-USD": "2000"}
	a := newTestAccount(t, prices)

	_, err := a.PlaceOrder(buy("ETH-USD", "1"))
	require.NoError(t, err)

	prices["ETH-USD"] = "3000"
	_, err = a.PlaceOrder(buy("ETH-USD", "1"))
	require.NoError(t, err)

	s := a.Summary()
	require.Len(t, s.Positions, 1)
	assert.True(t, s.Positions[0].AvgPrice.Equal(decimal.NewFromInt(2500)),
		"avg price = %s", s.Positions[0].AvgPrice)
}

func TestRealizedPnLAndWinRate(t *testing.T) {
	prices := fixedPrices{"ETH-USD": "2000"}
	a := newTestAccount(t, prices)

	_, err := a.PlaceOrder(buy("ETH-USD", "2"))
	require.NoError(t, err)

	// winning exit
	prices["ETH-USD"] = "2500"
	_, err = a.PlaceOrder(sell("ETH-USD", "1"))
	require.NoError(t, err)

	// losing exit
	prices["ETH-USD"] = "1500"
	_, err = a.PlaceOrder(sell("ETH-USD", "1"))
	require.NoError(t, err)

	s := a.Summary()
	assert.Empty(t, s.Positions)
	// pnl1 = (2500-2000)*1 - 2.5 = 497.5 ; pnl2 = (1500-2000)*1 - 1.5 = -501.5
	assert.True(t, s.RealizedPnL.Equal(decimal.RequireFromString("-4")), "pnl = %s", s.RealizedPnL)
	assert.True(t, s.WinRate.Equal(decimal.RequireFromString("0.5")), "win rate = %s", s.WinRate)
}

func TestRiskGateBlocksOversizedOrders(t *testing.T) {
	riskMgr := risk.NewManager(risk.DefaultLimits(), time.Second, zaptest.NewLogger(t))
	a := NewAccount(decimal.NewFromInt(10000), decimal.Zero,
		fixedPrices{"BTC-USD": "50000"}, riskMgr, zaptest.NewLogger(t))

	// 0.05 BTC = 2500 notional > 10% of 10000
	_, err := a.PlaceOrder(buy("BTC-USD", "0.05"))
	require.Error(t, err)

	// 0.02 BTC = 1000 notional is allowed
	_, err = a.PlaceOrder(buy("BTC-USD", "0.02"))
	assert.NoError(t, err)
}

func TestLimitOrderRestsOpen(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})

	req := buy("BTC-USD", "0.1")
	req.Type = models.OrderTypeLimit
	req.Price = decimal.NewFromInt(45000)

	order, err := a.PlaceOrder(req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpen, order.Status)
	assert.Nil(t, order.FilledAt)
	assert.Empty(t, a.Trades())
}

func TestRestingOrdersCheckedAtPlacement(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})

	// A limit sell with no position is rejected, not left resting.
	req := sell("BTC-USD", "5")
	req.Type = models.OrderTypeLimit
	req.Price = decimal.NewFromInt(60000)
	_, err := a.PlaceOrder(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient position")

	// Same for a limit buy beyond buying power.
	req = buy("BTC-USD", "1")
	req.Type = models.OrderTypeLimit
	req.Price = decimal.NewFromInt(45000)
	_, err = a.PlaceOrder(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buying power")

	// And for a stop order that the account could not fund.
	stop := decimal.NewFromInt(45000)
	req.Type = models.OrderTypeStopLoss
	req.Price = decimal.Zero
	req.StopPrice = &stop
	_, err = a.PlaceOrder(req)
	require.Error(t, err)

	assert.Empty(t, a.Orders())
}

func TestCancelOrder(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})

	req := buy("BTC-USD", "0.1")
	req.Type = models.OrderTypeLimit
	req.Price = decimal.NewFromInt(45000)
	resting, err := a.PlaceOrder(req)
	require.NoError(t, err)

	require.NoError(t, a.CancelOrder(resting.ID))
	assert.Equal(t, models.OrderStatusCancelled, a.Orders()[0].Status)

	// cancelling again fails, as does cancelling a filled order
	assert.Error(t, a.CancelOrder(resting.ID))

	filled, err := a.PlaceOrder(buy("BTC-USD", "0.01"))
	require.NoError(t, err)
	assert.Error(t, a.CancelOrder(filled.ID))
}

func TestCancelOpenOrders(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})

	req := buy("BTC-USD", "0.01")
	req.Type = models.OrderTypeLimit
	req.Price = decimal.NewFromInt(45000)
	for i := 0; i < 3; i++ {
		_, err := a.PlaceOrder(req)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, a.CancelOpenOrders())
	assert.Equal(t, 0, a.CancelOpenOrders())
}

func TestStopOrderRequiresStopPrice(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})

	req := buy("BTC-USD", "0.01")
	req.Type = models.OrderTypeStopLoss
	_, err := a.PlaceOrder(req)
	assert.Error(t, err)

	stop := decimal.NewFromInt(40000)
	req.StopPrice = &stop
	order, err := a.PlaceOrder(req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusOpen, order.Status)
}

func TestPlaceOrderValidation(t *testing.T) {
	a := newTestAccount(t, fixedPrices{})

	_, err := a.PlaceOrder(buy("BTCUSD", "1"))
	assert.Error(t, err, "malformed pair")

	req := buy("BTC-USD", "1")
	req.Side = "HOLD"
	_, err = a.PlaceOrder(req)
	assert.Error(t, err, "bad side")

	req = buy("BTC-USD", "1")
	req.Quantity = decimal.Zero
	_, err = a.PlaceOrder(req)
	assert.Error(t, err, "zero quantity")
}

func TestMaxDrawdownTracksPeak(t *testing.T) {
	prices := fixedPrices{"ETH-USD": "2000"}
	a := NewAccount(decimal.NewFromInt(10000), decimal.Zero, prices, nil, zaptest.NewLogger(t))

	_, err := a.PlaceOrder(buy("ETH-USD", "2"))
	require.NoError(t, err)

	prices["ETH-USD"] = "1000"
	_, err = a.PlaceOrder(sell("ETH-USD", "2"))
	require.NoError(t, err)

	s := a.Summary()
	assert.True(t, s.MaxDrawdown.GreaterThan(decimal.Zero))
	assert.True(t, s.TotalReturn.IsNegative())
}

func TestSnapshotMatchesSummary(t *testing.T) {
	a := newTestAccount(t, fixedPrices{"BTC-USD": "50000"})
	_, err := a.PlaceOrder(buy("BTC-USD", "0.1"))
	require.NoError(t, err)

	snap := a.Snapshot()
	s := a.Summary()
	assert.Equal(t, a.ID(), snap.AccountID)
	assert.True(t, snap.TotalValue.Equal(s.TotalValue))
	assert.True(t, snap.CashBalance.Equal(s.Cash))
}

func TestSimulatorRandomWalk(t *testing.T) {
	sim := NewSimulator(1)

	first := sim.Price("BTC-USD")
	base := decimal.NewFromInt(45000)
	// one step stays within ±0.5% of base
	assert.True(t, first.Sub(base).Abs().LessThanOrEqual(base.Mul(decimal.RequireFromString("0.005"))))

	md := sim.Ticker("ETH-USD")
	assert.True(t, md.Bid.LessThan(md.Ask))
	assert.Equal(t, "simulator", md.Exchange)

	assert.True(t, sim.Price("XYZ-ABC").IsPositive(), "unknown symbols get a price")
	assert.Contains(t, sim.Symbols(), "BTC-USD")
}
