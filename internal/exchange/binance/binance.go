// Package binance implements the Binance venue adapter. Private calls sign
// the query string with HMAC-SHA256 (hex) and send the key in X-MBX-APIKEY.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/exchange"
	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
)

const defaultBaseURL = "https://api.binance.com"

type Client struct {
	opts    exchange.Options
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time

	// Binance order lookups require the symbol alongside the order id, so
	// the adapter remembers the symbol of each order it placed.
	mu           sync.Mutex
	orderSymbols map[string]string
}

func New(opts exchange.Options) (exchange.Exchange, error) {
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		opts:         opts,
		baseURL:      base,
		http:         opts.HTTP(),
		logger:       opts.Log().Named("binance"),
		now:          time.Now,
		orderSymbols: make(map[string]string),
	}, nil
}

func init() {
	exchange.Register("binance", New)
}

func (c *Client) Name() string { return "binance" }

// Binance serves every supported region, local regulations permitting.
func (c *Client) AvailableInRegion(region string) bool { return true }

// toVenueSymbol converts BTC-USD to BTCUSDT: Binance quotes the major pairs
// against USDT rather than fiat USD.
func toVenueSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ReplaceAll(symbol, "-USD", "USDT"), "-", "")
}

type ticker24hResponse struct {
	LastPrice string `json:"lastPrice"`
	Volume    string `json:"volume"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
}

type bookTickerResponse struct {
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (models.MarketData, error) {
	pair := toVenueSymbol(symbol)

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v3/ticker/24hr?symbol="+url.QueryEscape(pair), nil)
	if err != nil {
		return models.MarketData{}, err
	}
	var ticker ticker24hResponse
	if err := exchange.Do(ctx, "binance", c.http, c.opts.Limiter, req, &ticker); err != nil {
		return models.MarketData{}, err
	}
	if ticker.Code != 0 {
		return models.MarketData{}, pterrors.NewAPIError("binance", 0, ticker.Msg, nil)
	}

	req, err = http.NewRequest(http.MethodGet, c.baseURL+"/api/v3/ticker/bookTicker?symbol="+url.QueryEscape(pair), nil)
	if err != nil {
		return models.MarketData{}, err
	}
	var book bookTickerResponse
	if err := exchange.Do(ctx, "binance", c.http, c.opts.Limiter, req, &book); err != nil {
		return models.MarketData{}, err
	}

	md := models.MarketData{Symbol: symbol, Exchange: "binance", Timestamp: c.now().UTC()}
	if md.Price, err = decimal.NewFromString(ticker.LastPrice); err != nil {
		return models.MarketData{}, pterrors.NewDataError("binance ticker missing last price", err)
	}
	if md.Bid, err = decimal.NewFromString(book.BidPrice); err != nil {
		return models.MarketData{}, pterrors.NewDataError("binance ticker missing bid", err)
	}
	if md.Ask, err = decimal.NewFromString(book.AskPrice); err != nil {
		return models.MarketData{}, pterrors.NewDataError("binance ticker missing ask", err)
	}
	md.Volume, _ = decimal.NewFromString(ticker.Volume)
	return md, nil
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	Price       string `json:"price"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", toVenueSymbol(req.Symbol))
	params.Set("side", strings.ToUpper(req.Side))
	params.Set("quantity", req.Quantity.String())
	switch req.Type {
	case models.OrderTypeLimit:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
	default:
		params.Set("type", "MARKET")
	}

	var resp orderResponse
	if err := c.signed(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Code != 0 {
		return models.OrderResult{}, pterrors.NewAPIError("binance", 0, resp.Msg, nil)
	}

	id := strconv.FormatInt(resp.OrderID, 10)
	c.mu.Lock()
	c.orderSymbols[id] = resp.Symbol
	c.mu.Unlock()

	return models.OrderResult{
		OrderID:   id,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    mapStatus(resp.Status),
		Exchange:  "binance",
		Timestamp: c.now().UTC(),
	}, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp accountResponse
	if err := c.signed(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, pterrors.NewAPIError("binance", 0, resp.Msg, nil)
	}

	balances := make(map[string]decimal.Decimal)
	for _, b := range resp.Balances {
		free, err1 := decimal.NewFromString(b.Free)
		locked, err2 := decimal.NewFromString(b.Locked)
		if err1 != nil || err2 != nil {
			continue
		}
		total := free.Add(locked)
		if total.IsPositive() {
			balances[b.Asset] = total
		}
	}
	return balances, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (models.OrderResult, error) {
	c.mu.Lock()
	symbol, ok := c.orderSymbols[orderID]
	c.mu.Unlock()
	if !ok {
		return models.OrderResult{}, pterrors.NewTradingError("unknown binance order id " + orderID)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp orderResponse
	if err := c.signed(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Code != 0 {
		return models.OrderResult{}, pterrors.NewAPIError("binance", 0, resp.Msg, nil)
	}

	qty, _ := decimal.NewFromString(resp.ExecutedQty)
	price, _ := decimal.NewFromString(resp.Price)
	return models.OrderResult{
		OrderID:   orderID,
		Symbol:    resp.Symbol,
		Side:      resp.Side,
		Type:      resp.Type,
		Quantity:  qty,
		Price:     price,
		Status:    mapStatus(resp.Status),
		Exchange:  "binance",
		Timestamp: c.now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	symbol, ok := c.orderSymbols[orderID]
	c.mu.Unlock()
	if !ok {
		return pterrors.NewTradingError("unknown binance order id " + orderID)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var resp orderResponse
	if err := c.signed(ctx, http.MethodDelete, "/api/v3/order", params, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return pterrors.NewAPIError("binance", 0, resp.Msg, nil)
	}
	return nil
}

func mapStatus(status string) string {
	switch status {
	case "NEW":
		return models.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartial
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return models.OrderStatusCancelled
	case "REJECTED":
		return models.OrderStatusRejected
	default:
		return models.OrderStatusPending
	}
}

// signed executes an authenticated request: timestamp appended, query signed
// with HMAC-SHA256 hex.
func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if c.opts.Credentials.Empty() {
		return pterrors.NewConfigError("binance credentials are not configured")
	}

	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	query := params.Encode()

	mac := hmac.New(sha256.New, []byte(c.opts.Credentials.APISecret))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.opts.Credentials.APIKey)

	return exchange.Do(ctx, "binance", c.http, c.opts.Limiter, req, out)
}
