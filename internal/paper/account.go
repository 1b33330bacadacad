package paper

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/risk"
	"github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/metrics"
	"github.com/powertraderai/powertrader/pkg/models"
	"github.com/powertraderai/powertrader/pkg/validation"
)

// PriceSource quotes current prices for fills and valuation. The Simulator
// satisfies it; a live feed can too.
type PriceSource interface {
	Price(symbol string) decimal.Decimal
}

// Position is an open holding with average-cost accounting.
type Position struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Summary is the account state reported to callers.
type Summary struct {
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	TotalReturn    decimal.Decimal `json:"total_return"`
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"`
	WinRate        decimal.Decimal `json:"win_rate"`
	TradeCount     int             `json:"trade_count"`
	Positions      []Position      `json:"positions"`
}

// Account is a simulated trading account. Market orders fill immediately at
// the source price; commissions accrue on every fill.
type Account struct {
	id         uuid.UUID
	logger     *zap.Logger
	prices     PriceSource
	risk       *risk.Manager
	commission decimal.Decimal

	mu             sync.RWMutex
	initialBalance decimal.Decimal
	cash           decimal.Decimal
	positions      map[string]*Position
	orders         []models.PaperOrder
	trades         []models.PaperTrade
	realizedPnL    decimal.Decimal
	winningTrades  int
	closingTrades  int
	peakValue      decimal.Decimal
	maxDrawdown    decimal.Decimal
	dayStartValue  decimal.Decimal
}

func NewAccount(initialBalance, commissionRate decimal.Decimal, prices PriceSource, riskMgr *risk.Manager, logger *zap.Logger) *Account {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Account{
		id:             uuid.New(),
		logger:         logger.Named("paper"),
		prices:         prices,
		risk:           riskMgr,
		commission:     commissionRate,
		initialBalance: initialBalance,
		cash:           initialBalance,
		positions:      make(map[string]*Position),
		peakValue:      initialBalance,
		dayStartValue:  initialBalance,
	}
}

func (a *Account) ID() uuid.UUID { return a.id }

// PlaceOrder validates, risk-checks and funding-checks every order, then
// fills market orders immediately. Limit and stop orders that pass the same
// checks rest as OPEN and never fill here.
func (a *Account) PlaceOrder(req models.OrderRequest) (models.PaperOrder, error) {
	symbol, err := validation.TradingPair(req.Symbol)
	if err != nil {
		return models.PaperOrder{}, err
	}
	req.Symbol = symbol
	if err := validation.Volume(req.Quantity); err != nil {
		return models.PaperOrder{}, err
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return models.PaperOrder{}, errors.NewValidationError("side", "must be BUY or SELL")
	}

	price := a.prices.Price(req.Symbol)
	switch req.Type {
	case models.OrderTypeLimit:
		if err := validation.Price(req.Price); err != nil {
			return models.PaperOrder{}, err
		}
		price = req.Price
	case models.OrderTypeStopLoss, models.OrderTypeTakeProfit:
		if req.StopPrice == nil {
			return models.PaperOrder{}, errors.NewValidationError("stop_price", "required for stop orders")
		}
		if err := validation.Price(*req.StopPrice); err != nil {
			return models.PaperOrder{}, err
		}
		price = *req.StopPrice
	}
	notional := price.Mul(req.Quantity)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.risk != nil {
		if err := a.risk.ValidateTrade(notional, a.totalValueLocked()); err != nil {
			return models.PaperOrder{}, err
		}
	}
	// Funding and position checks apply at placement for every order type:
	// an order the account cannot honor is rejected, never left resting.
	if err := a.checkFundsLocked(req.Side, req.Symbol, notional, req.Quantity); err != nil {
		return models.PaperOrder{}, err
	}

	order := models.PaperOrder{
		ID:        uuid.New(),
		AccountID: a.id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     price,
		Status:    models.OrderStatusOpen,
		CreatedAt: time.Now().UTC(),
	}

	if req.Type == models.OrderTypeMarket || req.Type == "" {
		order.Type = models.OrderTypeMarket
		if err := a.fillLocked(&order, price); err != nil {
			return models.PaperOrder{}, err
		}
	}

	a.orders = append(a.orders, order)
	metrics.OrdersPlaced.WithLabelValues("paper", order.Side).Inc()
	a.logger.Info("paper order placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("status", order.Status))
	return order, nil
}

// checkFundsLocked verifies the account can honor an order: buys need cash
// for notional plus commission, sells need a sufficient position.
func (a *Account) checkFundsLocked(side, symbol string, notional, quantity decimal.Decimal) error {
	switch side {
	case models.OrderSideBuy:
		cost := notional.Add(notional.Mul(a.commission))
		if cost.GreaterThan(a.cash) {
			return errors.NewTradingError("insufficient buying power: need " +
				cost.StringFixed(2) + ", have " + a.cash.StringFixed(2))
		}
	case models.OrderSideSell:
		pos := a.positions[symbol]
		if pos == nil || pos.Quantity.LessThan(quantity) {
			return errors.NewTradingError("insufficient position in " + symbol)
		}
	}
	return nil
}

// fillLocked executes the order at price, updating cash, positions and PnL.
func (a *Account) fillLocked(order *models.PaperOrder, price decimal.Decimal) error {
	notional := price.Mul(order.Quantity)
	commission := notional.Mul(a.commission)

	if err := a.checkFundsLocked(order.Side, order.Symbol, notional, order.Quantity); err != nil {
		return err
	}

	pos := a.positions[order.Symbol]
	var pnl decimal.Decimal

	switch order.Side {
	case models.OrderSideBuy:
		a.cash = a.cash.Sub(notional.Add(commission))
		if pos == nil {
			a.positions[order.Symbol] = &Position{
				Symbol: order.Symbol, Quantity: order.Quantity, AvgPrice: price,
			}
		} else {
			newQty := pos.Quantity.Add(order.Quantity)
			pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(notional).Div(newQty)
			pos.Quantity = newQty
		}

	case models.OrderSideSell:
		a.cash = a.cash.Add(notional).Sub(commission)
		pnl = price.Sub(pos.AvgPrice).Mul(order.Quantity).Sub(commission)
		a.realizedPnL = a.realizedPnL.Add(pnl)
		a.closingTrades++
		if pnl.IsPositive() {
			a.winningTrades++
		}
		if a.risk != nil {
			a.risk.RecordTradeResult(pnl)
		}
		pos.Quantity = pos.Quantity.Sub(order.Quantity)
		if pos.Quantity.IsZero() {
			delete(a.positions, order.Symbol)
		}
	}

	now := time.Now().UTC()
	order.Status = models.OrderStatusFilled
	order.FilledQuantity = order.Quantity
	order.FilledPrice = price
	order.Commission = commission
	order.FilledAt = &now

	a.trades = append(a.trades, models.PaperTrade{
		ID:         uuid.New(),
		OrderID:    order.ID,
		AccountID:  a.id,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: commission,
		PnL:        pnl,
		ExecutedAt: now,
	})

	a.trackDrawdownLocked()
	return nil
}

func (a *Account) totalValueLocked() decimal.Decimal {
	total := a.cash
	for _, pos := range a.positions {
		total = total.Add(a.prices.Price(pos.Symbol).Mul(pos.Quantity))
	}
	return total
}

func (a *Account) trackDrawdownLocked() {
	value := a.totalValueLocked()
	if value.GreaterThan(a.peakValue) {
		a.peakValue = value
	}
	if a.peakValue.IsPositive() {
		dd := a.peakValue.Sub(value).Div(a.peakValue)
		if dd.GreaterThan(a.maxDrawdown) {
			a.maxDrawdown = dd
		}
	}
}

// Summary values open positions at current prices.
func (a *Account) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var posValue, unrealized decimal.Decimal
	positions := make([]Position, 0, len(a.positions))
	for _, pos := range a.positions {
		price := a.prices.Price(pos.Symbol)
		posValue = posValue.Add(price.Mul(pos.Quantity))
		unrealized = unrealized.Add(price.Sub(pos.AvgPrice).Mul(pos.Quantity))
		positions = append(positions, *pos)
	}

	total := a.cash.Add(posValue)
	var totalReturn decimal.Decimal
	if a.initialBalance.IsPositive() {
		totalReturn = total.Sub(a.initialBalance).Div(a.initialBalance)
	}
	var winRate decimal.Decimal
	if a.closingTrades > 0 {
		winRate = decimal.NewFromInt(int64(a.winningTrades)).
			Div(decimal.NewFromInt(int64(a.closingTrades)))
	}

	return Summary{
		Cash:           a.cash,
		PositionsValue: posValue,
		TotalValue:     total,
		RealizedPnL:    a.realizedPnL,
		UnrealizedPnL:  unrealized,
		TotalReturn:    totalReturn,
		MaxDrawdown:    a.maxDrawdown,
		WinRate:        winRate,
		TradeCount:     len(a.trades),
		Positions:      positions,
	}
}

// CancelOrder cancels a resting (unfilled) order by id.
func (a *Account) CancelOrder(orderID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.orders {
		if a.orders[i].ID != orderID {
			continue
		}
		if a.orders[i].Status != models.OrderStatusOpen {
			return errors.NewTradingError("order is not open: " + a.orders[i].Status)
		}
		a.orders[i].Status = models.OrderStatusCancelled
		return nil
	}
	return errors.NewTradingError("order not found: " + orderID.String())
}

// CancelOpenOrders cancels every resting order, returning how many were
// cancelled. Called by the emergency stop.
func (a *Account) CancelOpenOrders() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := range a.orders {
		if a.orders[i].Status == models.OrderStatusOpen {
			a.orders[i].Status = models.OrderStatusCancelled
			n++
		}
	}
	return n
}

// Orders returns every order placed, newest last.
func (a *Account) Orders() []models.PaperOrder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.PaperOrder, len(a.orders))
	copy(out, a.orders)
	return out
}

// Trades returns every execution, newest last.
func (a *Account) Trades() []models.PaperTrade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.PaperTrade, len(a.trades))
	copy(out, a.trades)
	return out
}

// Snapshot builds a persistable point-in-time portfolio record.
func (a *Account) Snapshot() models.PortfolioSnapshot {
	s := a.Summary()
	return models.PortfolioSnapshot{
		ID:             uuid.New(),
		AccountID:      a.id,
		TotalValue:     s.TotalValue,
		CashBalance:    s.Cash,
		PositionsValue: s.PositionsValue,
		UnrealizedPnL:  s.UnrealizedPnL,
		RealizedPnL:    s.RealizedPnL,
		CreatedAt:      time.Now().UTC(),
	}
}

// MarkDayStart resets the daily PnL baseline used by RiskSnapshot.
func (a *Account) MarkDayStart() {
	a.mu.Lock()
	a.dayStartValue = a.totalValueLocked()
	a.mu.Unlock()
}

// RiskSnapshot implements risk.MetricsProvider.
func (a *Account) RiskSnapshot() risk.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	value := a.totalValueLocked()
	valueF, _ := value.Float64()
	dailyPnL, _ := value.Sub(a.dayStartValue).Float64()
	drawdown, _ := a.maxDrawdown.Float64()

	return risk.Snapshot{
		PortfolioValue: valueF,
		DailyPnL:       dailyPnL,
		Drawdown:       drawdown,
	}
}
