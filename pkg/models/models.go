// Package models holds the domain types shared across PowerTrader: unified
// market data and order shapes returned by every exchange adapter, and the
// gorm-tagged rows persisted by the storage layer.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order sides, types and statuses
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket     = "MARKET"
	OrderTypeLimit      = "LIMIT"
	OrderTypeStopLoss   = "STOP_LOSS"
	OrderTypeTakeProfit = "TAKE_PROFIT"

	OrderStatusPending   = "PENDING"
	OrderStatusOpen      = "OPEN"
	OrderStatusPartial   = "PARTIALLY_FILLED"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

// Supported user regions
const (
	RegionUS     = "US"
	RegionEU     = "EU"
	RegionUK     = "UK"
	RegionGlobal = "GLOBAL"
)

// MarketData is the unified ticker shape every exchange adapter produces.
type MarketData struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Exchange  string          `json:"exchange"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderRequest describes an order to be placed on any venue.
type OrderRequest struct {
	Symbol    string           `json:"symbol"`
	Side      string           `json:"side"`
	Type      string           `json:"type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     decimal.Decimal  `json:"price,omitempty"`
	StopPrice *decimal.Decimal `json:"stop_price,omitempty"`
}

// OrderResult is the unified response for order placement and status queries.
type OrderResult struct {
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	Exchange  string          `json:"exchange"`
	Timestamp time.Time       `json:"timestamp"`
}

// PaperOrder is a persisted paper-trading order.
type PaperOrder struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID      uuid.UUID       `gorm:"type:uuid;index" json:"account_id"`
	Symbol         string          `gorm:"index" json:"symbol"`
	Side           string          `json:"side"`
	Type           string          `json:"type"`
	Quantity       decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Price          decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`
	FilledQuantity decimal.Decimal `gorm:"type:decimal(30,10)" json:"filled_quantity"`
	FilledPrice    decimal.Decimal `gorm:"type:decimal(30,10)" json:"filled_price"`
	Commission     decimal.Decimal `gorm:"type:decimal(30,10)" json:"commission"`
	Status         string          `gorm:"index" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
}

// PaperTrade is a persisted execution record with realized PnL.
type PaperTrade struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	AccountID  uuid.UUID       `gorm:"type:uuid;index" json:"account_id"`
	Symbol     string          `gorm:"index" json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `gorm:"type:decimal(30,10)" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:decimal(30,10)" json:"price"`
	Commission decimal.Decimal `gorm:"type:decimal(30,10)" json:"commission"`
	PnL        decimal.Decimal `gorm:"type:decimal(30,10)" json:"pnl"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// PortfolioSnapshot is a persisted point-in-time account state.
type PortfolioSnapshot struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID      uuid.UUID       `gorm:"type:uuid;index" json:"account_id"`
	TotalValue     decimal.Decimal `gorm:"type:decimal(30,10)" json:"total_value"`
	CashBalance    decimal.Decimal `gorm:"type:decimal(30,10)" json:"cash_balance"`
	PositionsValue decimal.Decimal `gorm:"type:decimal(30,10)" json:"positions_value"`
	UnrealizedPnL  decimal.Decimal `gorm:"type:decimal(30,10)" json:"unrealized_pnl"`
	RealizedPnL    decimal.Decimal `gorm:"type:decimal(30,10)" json:"realized_pnl"`
	CreatedAt      time.Time       `gorm:"index" json:"created_at"`
}

// EmergencySnapshot records system state captured by an emergency stop.
type EmergencySnapshot struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Trigger        string    `json:"trigger"`
	PortfolioValue float64   `json:"portfolio_value"`
	AlertsJSON     string    `gorm:"type:text" json:"alerts_json"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// CostEntry is a persisted operational cost item.
type CostEntry struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Category    string          `gorm:"index" json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(30,10)" json:"amount"`
	Frequency   string          `json:"frequency"`
	Variable    bool            `json:"variable"`
	CreatedAt   time.Time       `json:"created_at"`
}
