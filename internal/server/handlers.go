package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pterrors "github.com/powertraderai/powertrader/pkg/errors"
	"github.com/powertraderai/powertrader/pkg/models"
	"github.com/powertraderai/powertrader/pkg/validation"
)

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.deps.Exchanges != nil {
		resp["exchanges"] = s.deps.Exchanges.Connected()
		resp["primary"] = s.deps.Exchanges.PrimaryName()
	}
	c.JSON(http.StatusOK, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch pterrors.CategoryOf(err) {
	case pterrors.CategoryValidation:
		return http.StatusBadRequest
	case pterrors.CategoryTrading:
		return http.StatusUnprocessableEntity
	case pterrors.CategoryConfiguration:
		return http.StatusServiceUnavailable
	case pterrors.CategoryNetwork, pterrors.CategoryAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func (s *Server) exchangesOr503(c *gin.Context) (ExchangeService, bool) {
	if s.deps.Exchanges == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no exchanges connected"})
		return nil, false
	}
	return s.deps.Exchanges, true
}

func (s *Server) handlePrice(c *gin.Context) {
	symbol, err := validation.TradingPair(c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	venue := c.Query("exchange")

	// Streamed symbols answer from the quote cache; naming an exchange
	// always goes to the venue live.
	if venue == "" && s.deps.Quotes != nil {
		if quotes := s.deps.Quotes.Latest(symbol); len(quotes) > 0 {
			freshest := quotes[0]
			for _, q := range quotes[1:] {
				if q.Timestamp.After(freshest.Timestamp) {
					freshest = q
				}
			}
			c.JSON(http.StatusOK, gin.H{
				"symbol":   symbol,
				"price":    freshest.Price,
				"exchange": freshest.Exchange,
				"cached":   true,
			})
			return
		}
	}

	ex, ok := s.exchangesOr503(c)
	if !ok {
		return
	}
	price, err := ex.GetPrice(c.Request.Context(), symbol, venue)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

func (s *Server) handleCompare(c *gin.Context) {
	ex, ok := s.exchangesOr503(c)
	if !ok {
		return
	}
	symbol, err := validation.TradingPair(c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"prices": ex.ComparePrices(c.Request.Context(), symbol),
	})
}

func (s *Server) handleBestPrice(c *gin.Context) {
	ex, ok := s.exchangesOr503(c)
	if !ok {
		return
	}
	symbol, err := validation.TradingPair(c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	side := c.DefaultQuery("side", models.OrderSideBuy)

	price, venue, err := ex.BestPrice(c.Request.Context(), symbol, side)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol, "side": side, "price": price, "exchange": venue,
	})
}

func (s *Server) handleExchanges(c *gin.Context) {
	ex, ok := s.exchangesOr503(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected": ex.Connected(),
		"primary":   ex.PrimaryName(),
	})
}

func (s *Server) handleBalances(c *gin.Context) {
	ex, ok := s.exchangesOr503(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": ex.TotalBalances(c.Request.Context())})
}

func (s *Server) handlePaperAccount(c *gin.Context) {
	if s.deps.Paper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "paper trading disabled"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Paper.Summary())
}

func (s *Server) handlePaperOrders(c *gin.Context) {
	if s.deps.Paper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "paper trading disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": s.deps.Paper.Orders()})
}

func (s *Server) handlePaperTrades(c *gin.Context) {
	if s.deps.Paper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "paper trading disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": s.deps.Paper.Trades()})
}

func (s *Server) handlePlaceOrder(c *gin.Context) {
	if s.deps.Paper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "paper trading disabled"})
		return
	}

	var req models.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order payload"})
		return
	}

	order, err := s.deps.Paper.PlaceOrder(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	if s.deps.Paper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "paper trading disabled"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if err := s.deps.Paper.CancelOrder(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

func (s *Server) handleRisk(c *gin.Context) {
	if s.deps.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk monitoring disabled"})
		return
	}
	stopped, stopReason := s.deps.Risk.Stopped()
	halted, haltReason := s.deps.Risk.Halted()
	c.JSON(http.StatusOK, gin.H{
		"limits":         s.deps.Risk.Limits(),
		"alerts":         s.deps.Risk.Alerts(),
		"emergency_stop": stopped,
		"stop_reason":    stopReason,
		"trading_halted": halted,
		"halt_reason":    haltReason,
	})
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	if s.deps.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk monitoring disabled"})
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "manual stop via API"
	}
	s.deps.Risk.EmergencyStop(body.Reason)
	c.JSON(http.StatusOK, gin.H{"emergency_stop": true})
}

func (s *Server) handleRiskReset(c *gin.Context) {
	if s.deps.Risk == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk monitoring disabled"})
		return
	}
	if err := s.deps.Risk.Reset(true); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emergency_stop": false})
}

func (s *Server) handleCosts(c *gin.Context) {
	if s.deps.Costs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cost tracking disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": s.deps.Costs.Items()})
}

func (s *Server) handleCostAnalysis(c *gin.Context) {
	if s.deps.Costs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cost tracking disabled"})
		return
	}
	portfolio, err := decimal.NewFromString(c.DefaultQuery("portfolio", "10000"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio must be a number"})
		return
	}
	analysis, err := s.deps.Costs.Analyze(portfolio)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}
