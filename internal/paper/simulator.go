// Package paper provides a simulated trading environment: a price simulator
// for offline use and a full paper account with positions, commissions and
// realized PnL accounting.
package paper

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/powertraderai/powertrader/pkg/models"
)

// Simulator generates random-walk prices around known base levels so the
// paper account can run without any venue connection.
type Simulator struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	history map[string][]decimal.Decimal
	rng     *rand.Rand
}

// maxHistory bounds the per-symbol price history.
const maxHistory = 100

var basePrices = map[string]string{
	"BTC-USD": "45000",
	"ETH-USD": "3000",
	"ADA-USD": "0.50",
	"SOL-USD": "100",
	"DOT-USD": "25",
}

func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s := &Simulator{
		prices:  make(map[string]decimal.Decimal, len(basePrices)),
		history: make(map[string][]decimal.Decimal),
		rng:     rand.New(rand.NewSource(seed)),
	}
	for sym, p := range basePrices {
		s.prices[sym] = decimal.RequireFromString(p)
	}
	return s
}

// Price advances the symbol's random walk by one step of up to ±0.5% and
// returns the new price. Unknown symbols start at 100.
func (s *Simulator) Price(symbol string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = decimal.NewFromInt(100)
	}

	// step in [-0.005, +0.005]
	step := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.01)
	price = price.Mul(decimal.NewFromInt(1).Add(step))
	if !price.IsPositive() {
		price = decimal.RequireFromString("0.00000001")
	}
	s.prices[symbol] = price

	hist := append(s.history[symbol], price)
	if len(hist) > maxHistory {
		hist = hist[len(hist)-maxHistory:]
	}
	s.history[symbol] = hist
	return price
}

// History returns the recorded price walk for the symbol, oldest first.
func (s *Simulator) History(symbol string) []decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]decimal.Decimal, len(s.history[symbol]))
	copy(out, s.history[symbol])
	return out
}

// Ticker returns a MarketData built from the simulated price with a small
// synthetic spread.
func (s *Simulator) Ticker(symbol string) models.MarketData {
	price := s.Price(symbol)
	spread := price.Mul(decimal.RequireFromString("0.0005"))
	return models.MarketData{
		Symbol:    symbol,
		Price:     price,
		Bid:       price.Sub(spread),
		Ask:       price.Add(spread),
		Volume:    decimal.NewFromInt(1000),
		Exchange:  "simulator",
		Timestamp: time.Now().UTC(),
	}
}

// Symbols lists every symbol the simulator tracks.
func (s *Simulator) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	return out
}
