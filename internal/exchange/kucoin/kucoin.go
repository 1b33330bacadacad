// Package kucoin implements the KuCoin venue adapter. Private calls carry
// KC-API-* headers (key version 2): the signature is base64 HMAC-SHA256 over
// timestamp + method + endpoint + body, and the passphrase is itself signed.
package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/exchange"
	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
)

const (
	defaultBaseURL = "https://api.kucoin.com"
	codeOK         = "200000"
)

type Client struct {
	opts    exchange.Options
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
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
		logger:  opts.Log().Named("kucoin"),
		now:     time.Now,
	}, nil
}

func init() {
	exchange.Register("kucoin", New)
}

func (c *Client) Name() string { return "kucoin" }

func (c *Client) AvailableInRegion(region string) bool { return true }

// toVenueSymbol converts BTC-USD to BTC-USDT: KuCoin quotes against USDT.
func toVenueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-USD", "-USDT")
}

type level1Response struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Price   string `json:"price"`
		BestBid string `json:"bestBid"`
		BestAsk string `json:"bestAsk"`
	} `json:"data"`
}

type statsResponse struct {
	Code string `json:"code"`
	Data struct {
		Last string `json:"last"`
		Vol  string `json:"vol"`
	} `json:"data"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (models.MarketData, error) {
	pair := toVenueSymbol(symbol)

	req, err := http.NewRequest(http.MethodGet,
		c.baseURL+"/api/v1/market/orderbook/level1?symbol="+url.QueryEscape(pair), nil)
	if err != nil {
		return models.MarketData{}, err
	}
	var book level1Response
	if err := exchange.Do(ctx, "kucoin", c.http, c.opts.Limiter, req, &book); err != nil {
		return models.MarketData{}, err
	}
	if book.Code != codeOK {
		return models.MarketData{}, pterrors.NewAPIError("kucoin", 0, book.Msg, nil)
	}

	req, err = http.NewRequest(http.MethodGet,
		c.baseURL+"/api/v1/market/stats?symbol="+url.QueryEscape(pair), nil)
	if err != nil {
		return models.MarketData{}, err
	}
	var stats statsResponse
	if err := exchange.Do(ctx, "kucoin", c.http, c.opts.Limiter, req, &stats); err != nil {
		return models.MarketData{}, err
	}

	md := models.MarketData{Symbol: symbol, Exchange: "kucoin", Timestamp: c.now().UTC()}
	if md.Bid, err = decimal.NewFromString(book.Data.BestBid); err != nil {
		return models.MarketData{}, pterrors.NewDataError("kucoin ticker missing bid", err)
	}
	if md.Ask, err = decimal.NewFromString(book.Data.BestAsk); err != nil {
		return models.MarketData{}, pterrors.NewDataError("kucoin ticker missing ask", err)
	}
	if md.Price, err = decimal.NewFromString(stats.Data.Last); err != nil {
		md.Price = md.Ask
	}
	md.Volume, _ = decimal.NewFromString(stats.Data.Vol)
	return md, nil
}

type orderCreateResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		OrderID string `json:"orderId"`
	} `json:"data"`
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	payload := map[string]string{
		"clientOid": uuid.NewString(),
		"symbol":    toVenueSymbol(req.Symbol),
		"side":      strings.ToLower(req.Side),
		"size":      req.Quantity.String(),
	}
	switch req.Type {
	case models.OrderTypeLimit:
		payload["type"] = "limit"
		payload["price"] = req.Price.String()
	default:
		payload["type"] = "market"
	}

	var resp orderCreateResponse
	if err := c.private(ctx, http.MethodPost, "/api/v1/orders", payload, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Code != codeOK {
		return models.OrderResult{}, pterrors.NewAPIError("kucoin", 0, resp.Msg, nil)
	}

	return models.OrderResult{
		OrderID:   resp.Data.OrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    models.OrderStatusOpen,
		Exchange:  "kucoin",
		Timestamp: c.now().UTC(),
	}, nil
}

type accountsResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
	} `json:"data"`
}

func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp accountsResponse
	if err := c.private(ctx, http.MethodGet, "/api/v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != codeOK {
		return nil, pterrors.NewAPIError("kucoin", 0, resp.Msg, nil)
	}

	// KuCoin splits funds across main/trade accounts per currency; merge.
	balances := make(map[string]decimal.Decimal)
	for _, acct := range resp.Data {
		amount, err := decimal.NewFromString(acct.Balance)
		if err != nil || !amount.IsPositive() {
			continue
		}
		balances[acct.Currency] = balances[acct.Currency].Add(amount)
	}
	return balances, nil
}

type orderDetailResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ID       string `json:"id"`
		Symbol   string `json:"symbol"`
		Side     string `json:"side"`
		Type     string `json:"type"`
		Size     string `json:"size"`
		Price    string `json:"price"`
		IsActive bool   `json:"isActive"`
		DealSize string `json:"dealSize"`
	} `json:"data"`
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (models.OrderResult, error) {
	var resp orderDetailResponse
	if err := c.private(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Code != codeOK {
		return models.OrderResult{}, pterrors.NewAPIError("kucoin", 0, resp.Msg, nil)
	}

	qty, _ := decimal.NewFromString(resp.Data.Size)
	price, _ := decimal.NewFromString(resp.Data.Price)
	dealt, _ := decimal.NewFromString(resp.Data.DealSize)

	status := models.OrderStatusOpen
	if !resp.Data.IsActive {
		if dealt.Equal(qty) && qty.IsPositive() {
			status = models.OrderStatusFilled
		} else {
			status = models.OrderStatusCancelled
		}
	} else if dealt.IsPositive() {
		status = models.OrderStatusPartial
	}

	return models.OrderResult{
		OrderID:   resp.Data.ID,
		Symbol:    resp.Data.Symbol,
		Side:      strings.ToUpper(resp.Data.Side),
		Type:      strings.ToUpper(resp.Data.Type),
		Quantity:  qty,
		Price:     price,
		Status:    status,
		Exchange:  "kucoin",
		Timestamp: c.now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var resp orderCreateResponse
	if err := c.private(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, nil, &resp); err != nil {
		return err
	}
	if resp.Code != codeOK {
		return pterrors.NewAPIError("kucoin", 0, resp.Msg, nil)
	}
	return nil
}

// private executes an authenticated request. KuCoin requires the passphrase
// credential, enforced here rather than per call site.
func (c *Client) private(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	creds := c.opts.Credentials
	if creds.Empty() || creds.Passphrase == "" {
		return pterrors.NewConfigError("kucoin requires api key, secret and passphrase")
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	sig := signHMAC(creds.APISecret, timestamp+method+endpoint+string(body))
	passphrase := signHMAC(creds.APISecret, creds.Passphrase)

	req, err := http.NewRequest(method, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KC-API-KEY", creds.APIKey)
	req.Header.Set("KC-API-SIGN", sig)
	req.Header.Set("KC-API-TIMESTAMP", timestamp)
	req.Header.Set("KC-API-PASSPHRASE", passphrase)
	req.Header.Set("KC-API-KEY-VERSION", "2")

	return exchange.Do(ctx, "kucoin", c.http, c.opts.Limiter, req, out)
}

func signHMAC(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
