// Package kraken implements the Kraken venue adapter. Private calls use the
// Kraken scheme: HMAC-SHA512 over path + SHA256(nonce + POST body), keyed by
// the base64-decoded API secret.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/exchange"
	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
)

const defaultBaseURL = "https://api.kraken.com"

type Client struct {
	opts    exchange.Options
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	nonce   func() int64
}

func New(opts exchange.Options) (exchange.Exchange, error) {
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		opts:    opts,
		baseURL: base,
		http:    opts.HTTP(),
		logger:  opts.Log().Named("kraken"),
		nonce:   func() int64 { return time.Now().UnixNano() / int64(time.Millisecond) },
	}, nil
}

func init() {
	exchange.Register("kraken", New)
}

func (c *Client) Name() string { return "kraken" }

func (c *Client) AvailableInRegion(region string) bool {
	switch strings.ToUpper(region) {
	case models.RegionEU, models.RegionUK, models.RegionGlobal, models.RegionUS:
		return true
	}
	return false
}

var symbolMap = map[string]string{
	"BTC-USD":  "XBTUSD",
	"ETH-USD":  "ETHUSD",
	"ADA-USD":  "ADAUSD",
	"DOGE-USD": "DOGEUSD",
}

func toVenueSymbol(symbol string) string {
	if mapped, ok := symbolMap[symbol]; ok {
		return mapped
	}
	return strings.ReplaceAll(symbol, "-", "")
}

type tickerResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		A []string `json:"a"` // ask [price, whole lot volume, lot volume]
		B []string `json:"b"` // bid
		C []string `json:"c"` // last trade [price, lot volume]
		V []string `json:"v"` // volume [today, 24h]
	} `json:"result"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (models.MarketData, error) {
	pair := toVenueSymbol(symbol)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/0/public/Ticker?pair="+url.QueryEscape(pair), nil)
	if err != nil {
		return models.MarketData{}, err
	}

	var resp tickerResponse
	if err := exchange.Do(ctx, "kraken", c.http, c.opts.Limiter, req, &resp); err != nil {
		return models.MarketData{}, err
	}
	if len(resp.Error) > 0 {
		return models.MarketData{}, pterrors.NewAPIError("kraken", 0, strings.Join(resp.Error, "; "), nil)
	}

	for _, t := range resp.Result {
		md := models.MarketData{
			Symbol:    symbol,
			Exchange:  "kraken",
			Timestamp: time.Now().UTC(),
		}
		var err error
		if md.Ask, err = first(t.A); err != nil {
			return models.MarketData{}, pterrors.NewDataError("kraken ticker missing ask", err)
		}
		if md.Bid, err = first(t.B); err != nil {
			return models.MarketData{}, pterrors.NewDataError("kraken ticker missing bid", err)
		}
		if md.Price, err = first(t.C); err != nil {
			return models.MarketData{}, pterrors.NewDataError("kraken ticker missing last price", err)
		}
		if len(t.V) > 1 {
			md.Volume, _ = decimal.NewFromString(t.V[1])
		}
		return md, nil
	}
	return models.MarketData{}, pterrors.NewDataError("kraken returned no ticker for "+pair, nil)
}

func first(vals []string) (decimal.Decimal, error) {
	if len(vals) == 0 {
		return decimal.Zero, fmt.Errorf("empty field")
	}
	return decimal.NewFromString(vals[0])
}

type addOrderResponse struct {
	Error  []string `json:"error"`
	Result struct {
		TxID []string `json:"txid"`
	} `json:"result"`
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	form := url.Values{}
	form.Set("pair", toVenueSymbol(req.Symbol))
	form.Set("type", strings.ToLower(req.Side))
	form.Set("volume", req.Quantity.String())
	switch req.Type {
	case models.OrderTypeLimit:
		form.Set("ordertype", "limit")
		form.Set("price", req.Price.String())
	default:
		form.Set("ordertype", "market")
	}

	var resp addOrderResponse
	if err := c.private(ctx, "/0/private/AddOrder", form, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if len(resp.Error) > 0 {
		return models.OrderResult{}, pterrors.NewAPIError("kraken", 0, strings.Join(resp.Error, "; "), nil)
	}
	if len(resp.Result.TxID) == 0 {
		return models.OrderResult{}, pterrors.NewDataError("kraken returned no txid", nil)
	}

	return models.OrderResult{
		OrderID:   resp.Result.TxID[0],
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    models.OrderStatusOpen,
		Exchange:  "kraken",
		Timestamp: time.Now().UTC(),
	}, nil
}

type balanceResponse struct {
	Error  []string          `json:"error"`
	Result map[string]string `json:"result"`
}

// krakenAssets maps Kraken ledger asset codes to plain symbols.
var krakenAssets = map[string]string{
	"XXBT": "BTC",
	"XETH": "ETH",
	"ZUSD": "USD",
	"ZEUR": "EUR",
}

func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp balanceResponse
	if err := c.private(ctx, "/0/private/Balance", url.Values{}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, pterrors.NewAPIError("kraken", 0, strings.Join(resp.Error, "; "), nil)
	}

	balances := make(map[string]decimal.Decimal, len(resp.Result))
	for asset, raw := range resp.Result {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		if plain, ok := krakenAssets[asset]; ok {
			asset = plain
		}
		balances[asset] = amount
	}
	return balances, nil
}

type queryOrdersResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Status string `json:"status"`
		Vol    string `json:"vol"`
		Price  string `json:"price"`
		Descr  struct {
			Pair string `json:"pair"`
			Type string `json:"type"`
		} `json:"descr"`
	} `json:"result"`
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (models.OrderResult, error) {
	form := url.Values{}
	form.Set("txid", orderID)

	var resp queryOrdersResponse
	if err := c.private(ctx, "/0/private/QueryOrders", form, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if len(resp.Error) > 0 {
		return models.OrderResult{}, pterrors.NewAPIError("kraken", 0, strings.Join(resp.Error, "; "), nil)
	}

	order, ok := resp.Result[orderID]
	if !ok {
		return models.OrderResult{}, pterrors.NewDataError("kraken order not found: "+orderID, nil)
	}

	qty, _ := decimal.NewFromString(order.Vol)
	price, _ := decimal.NewFromString(order.Price)
	return models.OrderResult{
		OrderID:   orderID,
		Symbol:    order.Descr.Pair,
		Side:      strings.ToUpper(order.Descr.Type),
		Quantity:  qty,
		Price:     price,
		Status:    mapStatus(order.Status),
		Exchange:  "kraken",
		Timestamp: time.Now().UTC(),
	}, nil
}

func mapStatus(status string) string {
	switch status {
	case "open", "pending":
		return models.OrderStatusOpen
	case "closed":
		return models.OrderStatusFilled
	case "canceled", "expired":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusPending
	}
}

type cancelResponse struct {
	Error []string `json:"error"`
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	form := url.Values{}
	form.Set("txid", orderID)

	var resp cancelResponse
	if err := c.private(ctx, "/0/private/CancelOrder", form, &resp); err != nil {
		return err
	}
	if len(resp.Error) > 0 {
		return pterrors.NewAPIError("kraken", 0, strings.Join(resp.Error, "; "), nil)
	}
	return nil
}

// private executes an authenticated POST to the given path.
func (c *Client) private(ctx context.Context, path string, form url.Values, out interface{}) error {
	if c.opts.Credentials.Empty() {
		return pterrors.NewConfigError("kraken credentials are not configured")
	}

	nonce := strconv.FormatInt(c.nonce(), 10)
	form.Set("nonce", nonce)
	body := form.Encode()

	sig, err := c.sign(path, nonce, body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.opts.Credentials.APIKey)
	req.Header.Set("API-Sign", sig)

	return exchange.Do(ctx, "kraken", c.http, c.opts.Limiter, req, out)
}

// sign computes base64(HMAC-SHA512(path + SHA256(nonce + body), secret)).
func (c *Client) sign(path, nonce, body string) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.opts.Credentials.APISecret)
	if err != nil {
		return "", pterrors.NewConfigError("kraken API secret is not valid base64")
	}
	inner := sha256.Sum256([]byte(nonce + body))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
