// Package exchange defines the unified exchange abstraction: a single
// interface over every supported venue, a registry the venue adapters
// self-register with, and the Manager orchestrating multi-venue operations.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/credentials"
	"github.com/powertraderai/powertrader/internal/exchange/ratelimit"
	"github.com/powertraderai/powertrader/pkg/models"
)

// Exchange is the unified venue interface. Symbols are always the normalized
// BASE-QUOTE form (BTC-USD); adapters convert to venue notation internally.
type Exchange interface {
	Name() string
	GetTicker(ctx context.Context, symbol string) (models.MarketData, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error)
	GetBalances(ctx context.Context) (map[string]decimal.Decimal, error)
	GetOrderStatus(ctx context.Context, orderID string) (models.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	AvailableInRegion(region string) bool
}

// Options carries the dependencies injected into every venue adapter.
type Options struct {
	Credentials credentials.Credentials
	Logger      *zap.Logger
	HTTPClient  *http.Client
	Limiter     *ratelimit.Bucket
	Sandbox     bool

	// BaseURL overrides the venue endpoint, used by tests and sandbox mode.
	BaseURL string
}

// HTTP returns the configured client or a default with a sane timeout.
func (o Options) HTTP() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Log returns the configured logger or a no-op one.
func (o Options) Log() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return zap.NewNop()
}

// Constructor builds a venue adapter from injected options.
type Constructor func(opts Options) (Exchange, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a venue constructor available under the given name. Venue
// packages call this from init.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New constructs the named venue adapter.
func New(name string, opts Options) (Exchange, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange %q is not registered", name)
	}
	return ctor(opts)
}

// Registered returns the sorted names of all registered venues.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
