package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/powertraderai/powertrader/internal/config"
	"github.com/powertraderai/powertrader/internal/cost"
	"github.com/powertraderai/powertrader/internal/paper"
	"github.com/powertraderai/powertrader/internal/risk"
	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
)

type stubExchanges struct{}

func (stubExchanges) Connected() []string { return []string{"kraken", "binance"} }
func (stubExchanges) PrimaryName() string { return "kraken" }

func (stubExchanges) GetPrice(ctx context.Context, symbol, venue string) (decimal.Decimal, error) {
	if venue == "down" {
		return decimal.Zero, pterrors.NewAPIError("down", 500, "venue down", nil)
	}
	return decimal.RequireFromString("45000"), nil
}

func (stubExchanges) ComparePrices(ctx context.Context, symbol string) map[string]models.MarketData {
	return map[string]models.MarketData{
		"kraken":  {Symbol: symbol, Ask: decimal.NewFromInt(45010), Bid: decimal.NewFromInt(45000)},
		"binance": {Symbol: symbol, Ask: decimal.NewFromInt(45005), Bid: decimal.NewFromInt(44995)},
	}
}

func (s stubExchanges) BestPrice(ctx context.Context, symbol, side string) (decimal.Decimal, string, error) {
	return decimal.NewFromInt(45005), "binance", nil
}

func (stubExchanges) TotalBalances(ctx context.Context) map[string]decimal.Decimal {
	return map[string]decimal.Decimal{"BTC": decimal.RequireFromString("0.5")}
}

type fixedPrices struct{}

func (fixedPrices) Price(string) decimal.Decimal { return decimal.NewFromInt(100) }

func newTestServer(t *testing.T, secret string) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)

	riskMgr := risk.NewManager(risk.DefaultLimits(), time.Second, logger)
	account := paper.NewAccount(decimal.NewFromInt(10000), decimal.Zero,
		fixedPrices{}, riskMgr, logger)
	costs := cost.NewTracker(1000)
	require.NoError(t, costs.LoadTier(cost.TierBudget))

	return New(config.ServerConfig{JWTSecret: secret}, Deps{
		Exchanges: stubExchanges{},
		Paper:     account,
		Risk:      riskMgr,
		Costs:     costs,
	}, logger)
}

func do(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := do(t, newTestServer(t, ""), http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "kraken", resp["primary"])
}

func TestPriceEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	w := do(t, s, http.MethodGet, "/api/v1/prices/BTC-USD", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/prices/not!valid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/prices/BTC-USD?exchange=down", "", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/prices/BTC-USD/compare", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kraken")

	w = do(t, s, http.MethodGet, "/api/v1/prices/BTC-USD/best?side=BUY", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "binance")
}

type stubQuotes map[string][]models.MarketData

func (q stubQuotes) Latest(symbol string) []models.MarketData { return q[symbol] }

func TestPriceServedFromCache(t *testing.T) {
	s := newTestServer(t, "")
	now := time.Now().UTC()
	s.deps.Quotes = stubQuotes{
		"BTC-USD": {
			{Symbol: "BTC-USD", Price: decimal.NewFromInt(44990), Exchange: "kraken", Timestamp: now.Add(-time.Second)},
			{Symbol: "BTC-USD", Price: decimal.NewFromInt(45001), Exchange: "binance", Timestamp: now},
		},
	}

	// Streamed symbols answer from the cache with the freshest quote.
	w := do(t, s, http.MethodGet, "/api/v1/prices/BTC-USD", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cached":true`)
	assert.Contains(t, w.Body.String(), "45001")
	assert.Contains(t, w.Body.String(), "binance")

	// Naming an exchange bypasses the cache for a live quote.
	w = do(t, s, http.MethodGet, "/api/v1/prices/BTC-USD?exchange=kraken", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "cached")
	assert.Contains(t, w.Body.String(), "45000")

	// Symbols the stream does not carry fall through to the venues.
	w = do(t, s, http.MethodGet, "/api/v1/prices/ETH-USD", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "cached")
}

func TestPaperOrderFlow(t *testing.T) {
	s := newTestServer(t, "")

	order := models.OrderRequest{
		Symbol: "BTC-USD", Side: models.OrderSideBuy,
		Type: models.OrderTypeMarket, Quantity: decimal.NewFromInt(5),
	}
	w := do(t, s, http.MethodPost, "/api/v1/paper/orders", "", order)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/v1/paper/orders", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BTC-USD")

	w = do(t, s, http.MethodGet, "/api/v1/paper/account", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Oversized order trips the risk gate: 500 notional is fine at 10000
	// equity, 2000 is beyond the 10% cap.
	order.Quantity = decimal.NewFromInt(20)
	w = do(t, s, http.MethodPost, "/api/v1/paper/orders", "", order)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	order := models.OrderRequest{
		Symbol: "BTC-USD", Side: models.OrderSideBuy,
		Type: models.OrderTypeLimit, Quantity: decimal.NewFromInt(1),
		Price: decimal.NewFromInt(90),
	}
	w := do(t, s, http.MethodPost, "/api/v1/paper/orders", "", order)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var placed models.PaperOrder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))
	assert.Equal(t, models.OrderStatusOpen, placed.Status)

	w = do(t, s, http.MethodDelete, "/api/v1/paper/orders/"+placed.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, s, http.MethodGet, "/api/v1/paper/orders", "", nil)
	assert.Contains(t, w.Body.String(), models.OrderStatusCancelled)

	w = do(t, s, http.MethodDelete, "/api/v1/paper/orders/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// cancelling the same order twice is a trading error
	w = do(t, s, http.MethodDelete, "/api/v1/paper/orders/"+placed.ID.String(), "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRiskEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	w := do(t, s, http.MethodPost, "/api/v1/risk/emergency-stop", "",
		map[string]string{"reason": "fat finger"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/risk", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fat finger")

	w = do(t, s, http.MethodPost, "/api/v1/risk/reset", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/risk", "", nil)
	assert.Contains(t, w.Body.String(), `"emergency_stop":false`)
}

func TestCostEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	w := do(t, s, http.MethodGet, "/api/v1/costs", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/costs/analysis?portfolio=50000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "break_even_return")

	w = do(t, s, http.MethodGet, "/api/v1/costs/analysis?portfolio=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJWTAuthGuardsMutatingRoutes(t *testing.T) {
	const secret = "test-signing-secret"
	s := newTestServer(t, secret)

	order := models.OrderRequest{
		Symbol: "BTC-USD", Side: models.OrderSideBuy,
		Type: models.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	}

	// no token
	w := do(t, s, http.MethodPost, "/api/v1/paper/orders", "", order)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// token signed with the wrong key
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"sub": "cli"}).SignedString([]byte("wrong"))
	require.NoError(t, err)
	w = do(t, s, http.MethodPost, "/api/v1/paper/orders", badToken, order)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// valid token
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"sub": "cli", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString([]byte(secret))
	require.NoError(t, err)
	w = do(t, s, http.MethodPost, "/api/v1/paper/orders", token, order)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// reads stay open
	w = do(t, s, http.MethodGet, "/api/v1/paper/orders", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// balances are read-only but still credential-gated
	w = do(t, s, http.MethodGet, "/api/v1/balances", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(t, s, http.MethodGet, "/api/v1/balances", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDisabledServicesReturn503(t *testing.T) {
	s := New(config.ServerConfig{}, Deps{}, zaptest.NewLogger(t))

	for _, path := range []string{
		"/api/v1/prices/BTC-USD",
		"/api/v1/exchanges",
		"/api/v1/paper/account",
		"/api/v1/risk",
		"/api/v1/costs",
	} {
		w := do(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
