package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/pkg/metrics"
	"github.com/powertraderai/powertrader/pkg/models"
)

// Manager holds the connected venues and routes multi-exchange operations:
// price comparison, best-price discovery, merged balances and order routing.
type Manager struct {
	logger *zap.Logger
	region string

	mu        sync.RWMutex
	exchanges map[string]Exchange
	primary   string
}

// NewManager creates an empty manager for the given user region.
func NewManager(logger *zap.Logger, region string) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:    logger,
		region:    strings.ToUpper(region),
		exchanges: make(map[string]Exchange),
	}
}

// Connect constructs the named venue and adds it. The first connected venue
// becomes primary until SetPrimary is called.
func (m *Manager) Connect(name string, opts Options) error {
	ex, err := New(name, opts)
	if err != nil {
		return err
	}
	if !ex.AvailableInRegion(m.region) {
		return fmt.Errorf("exchange %s is not available in region %s", name, m.region)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges[name] = ex
	if m.primary == "" {
		m.primary = name
	}
	m.logger.Info("connected exchange", zap.String("exchange", name))
	return nil
}

// Add registers an already-constructed exchange, used by tests and by the
// paper executor.
func (m *Manager) Add(ex Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges[ex.Name()] = ex
	if m.primary == "" {
		m.primary = ex.Name()
	}
}

// SetPrimary selects the venue orders default to.
func (m *Manager) SetPrimary(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exchanges[name]; !ok {
		return fmt.Errorf("exchange %s is not connected", name)
	}
	m.primary = name
	return nil
}

// Primary returns the primary venue.
func (m *Manager) Primary() (Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.primary == "" {
		return nil, fmt.Errorf("no exchanges connected")
	}
	return m.exchanges[m.primary], nil
}

// PrimaryName returns the primary venue name, empty when none is connected.
func (m *Manager) PrimaryName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.primary
}

// Get returns the named venue.
func (m *Manager) Get(name string) (Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.exchanges[name]
	if !ok {
		return nil, fmt.Errorf("exchange %s is not connected", name)
	}
	return ex, nil
}

// Connected returns the names of connected venues.
func (m *Manager) Connected() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.exchanges))
	for name := range m.exchanges {
		names = append(names, name)
	}
	return names
}

// GetPrice returns the current ask price from the named venue, or the primary
// when venue is empty.
func (m *Manager) GetPrice(ctx context.Context, symbol, venue string) (decimal.Decimal, error) {
	ex, err := m.pick(venue)
	if err != nil {
		return decimal.Zero, err
	}
	md, err := ex.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return md.Ask, nil
}

// ComparePrices fetches the symbol's ticker from every connected venue
// concurrently. Venues that fail are logged and omitted from the result.
func (m *Manager) ComparePrices(ctx context.Context, symbol string) map[string]models.MarketData {
	m.mu.RLock()
	targets := make(map[string]Exchange, len(m.exchanges))
	for name, ex := range m.exchanges {
		targets[name] = ex
	}
	m.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]models.MarketData, len(targets))
	)
	for name, ex := range targets {
		wg.Add(1)
		go func(name string, ex Exchange) {
			defer wg.Done()
			md, err := ex.GetTicker(ctx, symbol)
			if err != nil {
				m.logger.Warn("price fetch failed",
					zap.String("exchange", name), zap.String("symbol", symbol), zap.Error(err))
				return
			}
			mu.Lock()
			results[name] = md
			mu.Unlock()
		}(name, ex)
	}
	wg.Wait()
	return results
}

// BestPrice returns the best executable price for the side across all
// connected venues: the lowest ask for buys, the highest bid for sells.
func (m *Manager) BestPrice(ctx context.Context, symbol, side string) (decimal.Decimal, string, error) {
	prices := m.ComparePrices(ctx, symbol)
	if len(prices) == 0 {
		return decimal.Zero, "", fmt.Errorf("no price data available for %s", symbol)
	}

	var (
		best      decimal.Decimal
		bestVenue string
	)
	buy := strings.EqualFold(side, models.OrderSideBuy)
	for venue, md := range prices {
		price := md.Ask
		if !buy {
			price = md.Bid
		}
		if price.IsZero() {
			continue
		}
		if bestVenue == "" ||
			(buy && price.LessThan(best)) ||
			(!buy && price.GreaterThan(best)) {
			best = price
			bestVenue = venue
		}
	}
	if bestVenue == "" {
		return decimal.Zero, "", fmt.Errorf("no usable quotes for %s", symbol)
	}
	return best, bestVenue, nil
}

// TotalBalances merges balances across all connected venues. Per-venue
// failures are logged and skipped so one bad venue does not hide the rest.
func (m *Manager) TotalBalances(ctx context.Context) map[string]decimal.Decimal {
	m.mu.RLock()
	targets := make(map[string]Exchange, len(m.exchanges))
	for name, ex := range m.exchanges {
		targets[name] = ex
	}
	m.mu.RUnlock()

	total := make(map[string]decimal.Decimal)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, ex := range targets {
		wg.Add(1)
		go func(name string, ex Exchange) {
			defer wg.Done()
			balances, err := ex.GetBalances(ctx)
			if err != nil {
				m.logger.Warn("balance fetch failed",
					zap.String("exchange", name), zap.Error(err))
				return
			}
			mu.Lock()
			for asset, amount := range balances {
				total[asset] = total[asset].Add(amount)
			}
			mu.Unlock()
		}(name, ex)
	}
	wg.Wait()
	return total
}

// PlaceOrder routes the order to the named venue, or the primary when venue
// is empty.
func (m *Manager) PlaceOrder(ctx context.Context, req models.OrderRequest, venue string) (models.OrderResult, error) {
	ex, err := m.pick(venue)
	if err != nil {
		return models.OrderResult{}, err
	}
	res, err := ex.PlaceOrder(ctx, req)
	if err != nil {
		return models.OrderResult{}, err
	}
	metrics.OrdersPlaced.WithLabelValues(ex.Name(), req.Side).Inc()
	return res, nil
}

func (m *Manager) pick(venue string) (Exchange, error) {
	if venue == "" {
		return m.Primary()
	}
	return m.Get(venue)
}
