// Package coinbase implements the Coinbase Exchange venue adapter. Private
// calls carry CB-ACCESS-* headers with a base64 HMAC-SHA256 signature over
// timestamp + method + path + body.
package coinbase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/exchange"
	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
)

const defaultBaseURL = "https://api.exchange.coinbase.com"

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
		logger:  opts.Log().Named("coinbase"),
		now:     time.Now,
	}, nil
}

func init() {
	exchange.Register("coinbase", New)
}

func (c *Client) Name() string { return "coinbase" }

func (c *Client) AvailableInRegion(region string) bool {
	switch strings.ToUpper(region) {
	case models.RegionUS, models.RegionEU, models.RegionUK:
		return true
	}
	return strings.ToUpper(region) == models.RegionGlobal
}

// Coinbase products already use the BASE-QUOTE form.
func toVenueSymbol(symbol string) string { return symbol }

type tickerResponse struct {
	Price   string `json:"price"`
	Bid     string `json:"bid"`
	Ask     string `json:"ask"`
	Volume  string `json:"volume"`
	Message string `json:"message"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (models.MarketData, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/products/"+toVenueSymbol(symbol)+"/ticker", nil)
	if err != nil {
		return models.MarketData{}, err
	}

	var resp tickerResponse
	if err := exchange.Do(ctx, "coinbase", c.http, c.opts.Limiter, req, &resp); err != nil {
		return models.MarketData{}, err
	}
	if resp.Message != "" {
		return models.MarketData{}, pterrors.NewAPIError("coinbase", 0, resp.Message, nil)
	}

	md := models.MarketData{Symbol: symbol, Exchange: "coinbase", Timestamp: c.now().UTC()}
	if md.Price, err = decimal.NewFromString(resp.Price); err != nil {
		return models.MarketData{}, pterrors.NewDataError("coinbase ticker missing price", err)
	}
	if md.Bid, err = decimal.NewFromString(resp.Bid); err != nil {
		return models.MarketData{}, pterrors.NewDataError("coinbase ticker missing bid", err)
	}
	if md.Ask, err = decimal.NewFromString(resp.Ask); err != nil {
		return models.MarketData{}, pterrors.NewDataError("coinbase ticker missing ask", err)
	}
	md.Volume, _ = decimal.NewFromString(resp.Volume)
	return md, nil
}

type orderResponse struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Size          string `json:"size"`
	Price         string `json:"price"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	Settled       bool   `json:"settled"`
	DoneReason    string `json:"done_reason"`
	FilledSizeStr string `json:"filled_size"`
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	payload := map[string]string{
		"product_id": toVenueSymbol(req.Symbol),
		"side":       strings.ToLower(req.Side),
		"size":       req.Quantity.String(),
	}
	switch req.Type {
	case models.OrderTypeLimit:
		payload["type"] = "limit"
		payload["price"] = req.Price.String()
	default:
		payload["type"] = "market"
	}

	var resp orderResponse
	if err := c.private(ctx, http.MethodPost, "/orders", payload, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Message != "" {
		return models.OrderResult{}, pterrors.NewAPIError("coinbase", 0, resp.Message, nil)
	}

	return models.OrderResult{
		OrderID:   resp.ID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    mapStatus(resp.Status, resp.DoneReason),
		Exchange:  "coinbase",
		Timestamp: c.now().UTC(),
	}, nil
}

type account struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var accounts []account
	if err := c.private(ctx, http.MethodGet, "/accounts", nil, &accounts); err != nil {
		return nil, err
	}

	balances := make(map[string]decimal.Decimal)
	for _, acct := range accounts {
		amount, err := decimal.NewFromString(acct.Balance)
		if err != nil || !amount.IsPositive() {
			continue
		}
		balances[acct.Currency] = balances[acct.Currency].Add(amount)
	}
	return balances, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (models.OrderResult, error) {
	var resp orderResponse
	if err := c.private(ctx, http.MethodGet, "/orders/"+orderID, nil, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Message != "" {
		return models.OrderResult{}, pterrors.NewAPIError("coinbase", 0, resp.Message, nil)
	}

	qty, _ := decimal.NewFromString(resp.Size)
	price, _ := decimal.NewFromString(resp.Price)
	return models.OrderResult{
		OrderID:   resp.ID,
		Symbol:    resp.ProductID,
		Side:      strings.ToUpper(resp.Side),
		Type:      strings.ToUpper(resp.Type),
		Quantity:  qty,
		Price:     price,
		Status:    mapStatus(resp.Status, resp.DoneReason),
		Exchange:  "coinbase",
		Timestamp: c.now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.private(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil)
}

func mapStatus(status, doneReason string) string {
	switch status {
	case "open", "active", "pending":
		return models.OrderStatusOpen
	case "done":
		if doneReason == "canceled" {
			return models.OrderStatusCancelled
		}
		return models.OrderStatusFilled
	case "rejected":
		return models.OrderStatusRejected
	default:
		return models.OrderStatusPending
	}
}

// private executes an authenticated request against the given path.
func (c *Client) private(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	if c.opts.Credentials.Empty() {
		return pterrors.NewConfigError("coinbase credentials are not configured")
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	sig, err := c.sign(timestamp, method, path, body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("CB-ACCESS-KEY", c.opts.Credentials.APIKey)
	req.Header.Set("CB-ACCESS-SIGN", sig)
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	if c.opts.Credentials.Passphrase != "" {
		req.Header.Set("CB-ACCESS-PASSPHRASE", c.opts.Credentials.Passphrase)
	}

	return exchange.Do(ctx, "coinbase", c.http, c.opts.Limiter, req, out)
}

// sign computes base64(HMAC-SHA256(timestamp+method+path+body)) keyed by the
// base64-decoded API secret.
func (c *Client) sign(timestamp, method, path string, body []byte) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.opts.Credentials.APISecret)
	if err != nil {
		return "", pterrors.NewConfigError("coinbase API secret is not valid base64")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + method + path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
