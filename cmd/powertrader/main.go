// Command powertrader runs the multi-exchange trading service: it connects
// the configured venues, starts the risk monitor, the paper trading account
// and the local API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/powertraderai/powertrader/internal/config"
	"github.com/powertraderai/powertrader/internal/cost"
	"github.com/powertraderai/powertrader/internal/credentials"
	"github.com/powertraderai/powertrader/internal/exchange"
	"github.com/powertraderai/powertrader/internal/exchange/ratelimit"
	"github.com/powertraderai/powertrader/internal/marketdata"
	"github.com/powertraderai/powertrader/internal/paper"
	"github.com/powertraderai/powertrader/internal/risk"
	"github.com/powertraderai/powertrader/internal/server"
	"github.com/powertraderai/powertrader/internal/storage"
	"github.com/powertraderai/powertrader/pkg/logger"
	"github.com/powertraderai/powertrader/pkg/models"

	// Venue adapters register themselves with the exchange registry.
	_ "github.com/powertraderai/powertrader/internal/exchange/binance"
	_ "github.com/powertraderai/powertrader/internal/exchange/bitstamp"
	_ "github.com/powertraderai/powertrader/internal/exchange/coinbase"
	_ "github.com/powertraderai/powertrader/internal/exchange/kraken"
	_ "github.com/powertraderai/powertrader/internal/exchange/kucoin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "powertrader:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	region := flag.String("region", "", "write a default config for the region and exit")
	flag.Parse()

	// .env is optional, used for local credential overrides.
	_ = godotenv.Load()

	if *region != "" {
		path := *configPath
		if path == "" {
			path = "config.yaml"
		}
		if err := config.Default(*region).Save(path); err != nil {
			return err
		}
		fmt.Println("wrote", path)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	credDir := cfg.CredentialDir
	if credDir == "" {
		home, _ := os.UserHomeDir()
		credDir = home + "/.powertrader"
	}
	vault := credentials.NewVault(credDir)

	manager := exchange.NewManager(log, cfg.Region)
	for _, exCfg := range cfg.EnabledExchanges() {
		creds, err := vault.Resolve(exCfg.Name)
		if err != nil {
			log.Warn("connecting without credentials, public endpoints only",
				zap.String("exchange", exCfg.Name), zap.Error(err))
		}
		opts := exchange.Options{
			Credentials: creds,
			Logger:      log,
			Limiter:     ratelimit.NewBucket(10, 5),
			Sandbox:     exCfg.Sandbox,
		}
		if err := manager.Connect(exCfg.Name, opts); err != nil {
			log.Warn("exchange connection failed",
				zap.String("exchange", exCfg.Name), zap.Error(err))
		}
	}
	if cfg.PrimaryExchange != "" {
		if err := manager.SetPrimary(cfg.PrimaryExchange); err != nil {
			log.Warn("primary exchange unavailable", zap.Error(err))
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	cache := marketdata.NewCache(rdb, cfg.Redis.TTL, log)

	symbols := []string{"BTC-USD", "ETH-USD", "SOL-USD"}
	stream := marketdata.NewStream("", symbols, cache, log)
	stream.Start(ctx)
	defer stream.Stop()

	riskMgr := risk.NewManager(risk.Limits{
		MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
		MaxWeeklyLoss:        cfg.Risk.MaxWeeklyLoss,
		MaxMonthlyLoss:       cfg.Risk.MaxMonthlyLoss,
		MaxAnnualLoss:        cfg.Risk.MaxAnnualLoss,
		MaxPositionSize:      cfg.Risk.MaxPositionSize,
		MaxLeverage:          cfg.Risk.MaxLeverage,
		MaxVolatility:        cfg.Risk.MaxVolatility,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
	}, cfg.Risk.MonitorInterval, log)

	initial, err := decimal.NewFromString(cfg.Paper.InitialBalance)
	if err != nil {
		initial = decimal.NewFromInt(10000)
	}
	commission, err := decimal.NewFromString(cfg.Paper.CommissionRate)
	if err != nil {
		commission = decimal.RequireFromString("0.001")
	}
	account := paper.NewAccount(initial, commission, paper.NewSimulator(0), riskMgr, log)

	riskMgr.OnEmergencyStop(func(reason string, alerts []risk.Alert) {
		cancelled := account.CancelOpenOrders()
		value, _ := account.Summary().TotalValue.Float64()
		payload, _ := json.Marshal(alerts)
		snap := models.EmergencySnapshot{
			ID:             uuid.New(),
			Trigger:        reason,
			PortfolioValue: value,
			AlertsJSON:     string(payload),
			CreatedAt:      time.Now().UTC(),
		}
		if err := store.SaveEmergencySnapshot(context.Background(), &snap); err != nil {
			log.Error("emergency snapshot save failed", zap.Error(err))
		}
		log.Error("emergency stop executed",
			zap.String("reason", reason), zap.Int("orders_cancelled", cancelled))
	})

	go riskMgr.Monitor(ctx, account)
	go snapshotLoop(ctx, store, account, log)

	costs := cost.NewTracker(1000)
	if err := costs.LoadTier(cost.TierBudget); err != nil {
		return err
	}

	srv := server.New(cfg.Server, server.Deps{
		Exchanges: manager,
		Paper:     account,
		Risk:      riskMgr,
		Costs:     costs,
		Stream:    stream,
		Quotes:    cache,
	}, log)

	log.Info("powertrader started",
		zap.String("region", cfg.Region),
		zap.Strings("exchanges", manager.Connected()))
	return srv.Run(ctx)
}

// snapshotLoop persists a portfolio snapshot every minute.
func snapshotLoop(ctx context.Context, store *storage.Store, account *paper.Account, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := account.Snapshot()
			if err := store.SaveSnapshot(ctx, &snap); err != nil {
				log.Warn("snapshot save failed", zap.Error(err))
			}
		}
	}
}
