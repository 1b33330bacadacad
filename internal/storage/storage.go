// Package storage persists orders, trades, snapshots and cost entries via
// gorm, backed by sqlite for local use or postgres for shared deployments.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/powertraderai/powertrader/pkg/models"
)

// Store wraps the database handle with typed repositories.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the configured backend and migrates the schema.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.AutoMigrate(
		&models.PaperOrder{},
		&models.PaperTrade{},
		&models.PortfolioSnapshot{},
		&models.EmergencySnapshot{},
		&models.CostEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("storage ready", zap.String("driver", driver))
	return &Store{db: db, logger: logger.Named("storage")}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) SaveOrder(ctx context.Context, order *models.PaperOrder) error {
	return s.db.WithContext(ctx).Save(order).Error
}

func (s *Store) SaveTrade(ctx context.Context, trade *models.PaperTrade) error {
	return s.db.WithContext(ctx).Create(trade).Error
}

// OrdersByAccount returns the account's orders, newest first.
func (s *Store) OrdersByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.PaperOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.PaperOrder
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// TradesByAccount returns the account's executions, newest first.
func (s *Store) TradesByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.PaperTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	var trades []models.PaperTrade
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	return s.db.WithContext(ctx).Create(snap).Error
}

// SnapshotsSince returns portfolio snapshots newer than the cutoff, oldest
// first, for equity-curve rendering.
func (s *Store) SnapshotsSince(ctx context.Context, accountID uuid.UUID, since time.Time) ([]models.PortfolioSnapshot, error) {
	var snaps []models.PortfolioSnapshot
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND created_at > ?", accountID, since).
		Order("created_at ASC").
		Find(&snaps).Error
	return snaps, err
}

func (s *Store) SaveEmergencySnapshot(ctx context.Context, snap *models.EmergencySnapshot) error {
	return s.db.WithContext(ctx).Create(snap).Error
}

// LatestEmergencySnapshot returns the most recent emergency record, or nil
// when none exists.
func (s *Store) LatestEmergencySnapshot(ctx context.Context) (*models.EmergencySnapshot, error) {
	var snap models.EmergencySnapshot
	err := s.db.WithContext(ctx).Order("created_at DESC").First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) SaveCostEntry(ctx context.Context, entry *models.CostEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *Store) CostEntries(ctx context.Context) ([]models.CostEntry, error) {
	var entries []models.CostEntry
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&entries).Error
	return entries, err
}
