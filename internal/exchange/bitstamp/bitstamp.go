// Package bitstamp implements the Bitstamp venue adapter. Private calls use
// the legacy signature scheme: uppercase hex HMAC-SHA256 over
// nonce + customer id + API key, sent as form fields.
package bitstamp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

const defaultBaseURL = "https://www.bitstamp.net"

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
		logger:  opts.Log().Named("bitstamp"),
		nonce:   func() int64 { return time.Now().UnixNano() },
	}, nil
}

func init() {
	exchange.Register("bitstamp", New)
}

func (c *Client) Name() string { return "bitstamp" }

func (c *Client) AvailableInRegion(region string) bool {
	switch strings.ToUpper(region) {
	case models.RegionEU, models.RegionUK, models.RegionGlobal:
		return true
	}
	return false
}

// toVenueSymbol converts BTC-USD to btcusd.
func toVenueSymbol(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "-", ""))
}

type tickerResponse struct {
	Last   string `json:"last"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Volume string `json:"volume"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (models.MarketData, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/v2/ticker/"+toVenueSymbol(symbol)+"/", nil)
	if err != nil {
		return models.MarketData{}, err
	}

	var resp tickerResponse
	if err := exchange.Do(ctx, "bitstamp", c.http, c.opts.Limiter, req, &resp); err != nil {
		return models.MarketData{}, err
	}

	md := models.MarketData{Symbol: symbol, Exchange: "bitstamp", Timestamp: time.Now().UTC()}
	if md.Price, err = decimal.NewFromString(resp.Last); err != nil {
		return models.MarketData{}, pterrors.NewDataError("bitstamp ticker missing last price", err)
	}
	if md.Bid, err = decimal.NewFromString(resp.Bid); err != nil {
		return models.MarketData{}, pterrors.NewDataError("bitstamp ticker missing bid", err)
	}
	if md.Ask, err = decimal.NewFromString(resp.Ask); err != nil {
		return models.MarketData{}, pterrors.NewDataError("bitstamp ticker missing ask", err)
	}
	md.Volume, _ = decimal.NewFromString(resp.Volume)
	return md, nil
}

type orderResponse struct {
	ID     flexID      `json:"id"`
	Status string      `json:"status"`
	Reason interface{} `json:"reason"`
	Price  string      `json:"price"`
	Amount string      `json:"amount"`
	Type   string      `json:"type"` // 0 = buy, 1 = sell
}

// flexID tolerates Bitstamp returning ids as either number or string.
type flexID string

func (n *flexID) UnmarshalJSON(data []byte) error {
	*n = flexID(strings.Trim(string(data), `"`))
	return nil
}

func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.OrderResult, error) {
	var path string
	form := url.Values{}
	form.Set("amount", req.Quantity.String())

	side := strings.ToLower(req.Side)
	switch req.Type {
	case models.OrderTypeLimit:
		path = "/api/v2/" + side + "/" + toVenueSymbol(req.Symbol) + "/"
		form.Set("price", req.Price.String())
	default:
		path = "/api/v2/" + side + "/market/" + toVenueSymbol(req.Symbol) + "/"
	}

	var resp orderResponse
	if err := c.private(ctx, path, form, &resp); err != nil {
		return models.OrderResult{}, err
	}
	if resp.Status == "error" {
		return models.OrderResult{}, pterrors.NewAPIError("bitstamp", 0, "order rejected", nil)
	}

	return models.OrderResult{
		OrderID:   string(resp.ID),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Status:    models.OrderStatusOpen,
		Exchange:  "bitstamp",
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Client) GetBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	var resp map[string]string
	if err := c.private(ctx, "/api/v2/balance/", url.Values{}, &resp); err != nil {
		return nil, err
	}

	// The balance payload is flat: btc_balance, usd_balance, eur_balance...
	balances := make(map[string]decimal.Decimal)
	for field, raw := range resp {
		if !strings.HasSuffix(field, "_balance") {
			continue
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil || !amount.IsPositive() {
			continue
		}
		asset := strings.ToUpper(strings.TrimSuffix(field, "_balance"))
		balances[asset] = amount
	}
	return balances, nil
}

type orderStatusResponse struct {
	Status          string `json:"status"`
	AmountRemaining string `json:"amount_remaining"`
}

func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (models.OrderResult, error) {
	form := url.Values{}
	form.Set("id", orderID)

	var resp orderStatusResponse
	if err := c.private(ctx, "/api/v2/order_status/", form, &resp); err != nil {
		return models.OrderResult{}, err
	}

	var status string
	switch resp.Status {
	case "Open", "In Queue":
		status = models.OrderStatusOpen
	case "Finished":
		status = models.OrderStatusFilled
	case "Canceled":
		status = models.OrderStatusCancelled
	default:
		status = models.OrderStatusPending
	}

	return models.OrderResult{
		OrderID:   orderID,
		Status:    status,
		Exchange:  "bitstamp",
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	form := url.Values{}
	form.Set("id", orderID)
	return c.private(ctx, "/api/v2/cancel_order/", form, nil)
}

// private executes an authenticated form POST. The Passphrase credential slot
// carries the Bitstamp customer id required by the signature scheme.
func (c *Client) private(ctx context.Context, path string, form url.Values, out interface{}) error {
	creds := c.opts.Credentials
	if creds.Empty() || creds.Passphrase == "" {
		return pterrors.NewConfigError("bitstamp requires api key, secret and customer id")
	}

	nonce := strconv.FormatInt(c.nonce(), 10)
	form.Set("key", creds.APIKey)
	form.Set("nonce", nonce)
	form.Set("signature", sign(creds.APISecret, nonce, creds.Passphrase, creds.APIKey))

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return exchange.Do(ctx, "bitstamp", c.http, c.opts.Limiter, req, out)
}

// sign computes uppercase hex HMAC-SHA256 over nonce + customer id + API key.
func sign(secret, nonce, customerID, apiKey string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(nonce + customerID + apiKey))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}
