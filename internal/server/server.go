// Package server exposes the local monitoring and control API over HTTP:
// prices, balances, paper trading, risk state, cost analysis and a websocket
// quote stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/config"
	"github.com/powertraderai/powertrader/internal/cost"
	"github.com/powertraderai/powertrader/internal/paper"
	"github.com/powertraderai/powertrader/internal/risk"
	"github.com/powertraderai/powertrader/pkg/models"
)

// ExchangeService is the slice of the exchange manager the API needs.
type ExchangeService interface {
	Connected() []string
	PrimaryName() string
	GetPrice(ctx context.Context, symbol, venue string) (decimal.Decimal, error)
	ComparePrices(ctx context.Context, symbol string) map[string]models.MarketData
	BestPrice(ctx context.Context, symbol, side string) (decimal.Decimal, string, error)
	TotalBalances(ctx context.Context) map[string]decimal.Decimal
}

// PaperService is the slice of the paper account the API needs.
type PaperService interface {
	PlaceOrder(req models.OrderRequest) (models.PaperOrder, error)
	CancelOrder(orderID uuid.UUID) error
	Orders() []models.PaperOrder
	Trades() []models.PaperTrade
	Summary() paper.Summary
}

// RiskService is the slice of the risk manager the API needs.
type RiskService interface {
	Limits() risk.Limits
	Alerts() []risk.Alert
	Stopped() (bool, string)
	Halted() (bool, string)
	EmergencyStop(reason string)
	Reset(manualOverride bool) error
}

// CostService is the slice of the cost tracker the API needs.
type CostService interface {
	Items() []cost.Item
	Analyze(portfolioValue decimal.Decimal) (cost.Analysis, error)
}

// QuoteStream feeds the websocket endpoint.
type QuoteStream interface {
	Subscribe() (<-chan models.MarketData, func())
}

// QuoteCache answers price reads for streamed symbols without a venue round
// trip.
type QuoteCache interface {
	Latest(symbol string) []models.MarketData
}

// Deps wires the services the server fronts. Nil services disable their
// routes with 503 rather than panicking.
type Deps struct {
	Exchanges ExchangeService
	Paper     PaperService
	Risk      RiskService
	Costs     CostService
	Stream    QuoteStream
	Quotes    QuoteCache
}

type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		logger: logger.Named("server"),
		deps:   deps,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.logger))

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	s.engine.Use(cors.New(corsCfg))

	s.routes()
	return s
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/ws", s.handleWS)

	api := s.engine.Group("/api/v1")
	api.GET("/prices/:symbol", s.handlePrice)
	api.GET("/prices/:symbol/compare", s.handleCompare)
	api.GET("/prices/:symbol/best", s.handleBestPrice)
	api.GET("/exchanges", s.handleExchanges)
	api.GET("/paper/account", s.handlePaperAccount)
	api.GET("/paper/orders", s.handlePaperOrders)
	api.GET("/paper/trades", s.handlePaperTrades)
	api.GET("/risk", s.handleRisk)
	api.GET("/costs", s.handleCosts)
	api.GET("/costs/analysis", s.handleCostAnalysis)

	// Balance reads and every mutating route require a token.
	auth := api.Group("", jwtAuth(s.cfg.JWTSecret))
	auth.GET("/balances", s.handleBalances)
	auth.POST("/paper/orders", s.handlePlaceOrder)
	auth.DELETE("/paper/orders/:id", s.handleCancelOrder)
	auth.POST("/risk/emergency-stop", s.handleEmergencyStop)
	auth.POST("/risk/reset", s.handleRiskReset)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
