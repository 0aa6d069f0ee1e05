// Package model 定义 gorm 持久化模型。运行时状态在 fleet 包，这里只做行映射。
package model

import (
	"time"

	"gorm.io/datatypes"
)

// BotStateModel maps to 'bot_states' table.
type BotStateModel struct {
	BotID          string         `gorm:"column:bot_id;primaryKey"`
	OwnerID        string         `gorm:"column:owner_id;index"`
	Mode           string         `gorm:"column:mode"`
	Balance        float64        `gorm:"column:balance"`
	InitialBalance float64        `gorm:"column:initial_balance"`
	TotalTrades    int            `gorm:"column:total_trades"`
	WinningTrades  int            `gorm:"column:winning_trades"`
	TotalDecisions int            `gorm:"column:total_decisions"`
	Cooldowns      datatypes.JSON `gorm:"column:cooldowns"` // symbol → 截止时间（RFC3339）
	LastTurnAt     int64          `gorm:"column:last_turn_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (BotStateModel) TableName() string { return "bot_states" }

// PositionModel maps to 'positions' table.
type PositionModel struct {
	ID               string     `gorm:"column:id;primaryKey"`
	BotID            string     `gorm:"column:bot_id;index"`
	Symbol           string     `gorm:"column:symbol"`
	Side             string     `gorm:"column:side"`
	EntryPrice       float64    `gorm:"column:entry_price"`
	Size             float64    `gorm:"column:size"`
	Leverage         int        `gorm:"column:leverage"`
	StopLoss         float64    `gorm:"column:stop_loss"`
	TakeProfit       float64    `gorm:"column:take_profit"`
	LiquidationPrice float64    `gorm:"column:liquidation_price"`
	Status           string     `gorm:"column:status;index"`
	OpenedAt         time.Time  `gorm:"column:opened_at"`
	ClosedAt         *time.Time `gorm:"column:closed_at"`
	UnrealizedPnL    float64    `gorm:"column:unrealized_pnl"`
	RealizedPnL      float64    `gorm:"column:realized_pnl"`
}

func (PositionModel) TableName() string { return "positions" }

// TradeModel maps to 'trades' table. 只追加，不更新。
type TradeModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	BotID      string    `gorm:"column:bot_id;index"`
	PositionID string    `gorm:"column:position_id;index"`
	Action     string    `gorm:"column:action"`
	Side       string    `gorm:"column:side"`
	Symbol     string    `gorm:"column:symbol"`
	Price      float64   `gorm:"column:price"`
	Size       float64   `gorm:"column:size"`
	Leverage   int       `gorm:"column:leverage"`
	Fee        float64   `gorm:"column:fee"`
	PnL        float64   `gorm:"column:pnl"`
	Timestamp  time.Time `gorm:"column:ts;index"`
}

func (TradeModel) TableName() string { return "trades" }

// SummaryModel maps to 'history_summaries' table. 每个机器人至多一行。
type SummaryModel struct {
	BotID     string    `gorm:"column:bot_id;primaryKey"`
	Narrative string    `gorm:"column:narrative"`
	Count     int       `gorm:"column:count"`
	FromTS    int64     `gorm:"column:from_ts"`
	ToTS      int64     `gorm:"column:to_ts"`
	TokenSize int       `gorm:"column:token_size"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SummaryModel) TableName() string { return "history_summaries" }

// PortfolioSnapshotModel maps to 'portfolio_snapshots' table（净值曲线）。
type PortfolioSnapshotModel struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement"`
	BotID         string  `gorm:"column:bot_id;index"`
	Timestamp     int64   `gorm:"column:ts;index"`
	Balance       float64 `gorm:"column:balance"`
	Equity        float64 `gorm:"column:equity"`
	MarginInUse   float64 `gorm:"column:margin_in_use"`
	OpenPositions int     `gorm:"column:open_positions"`
}

func (PortfolioSnapshotModel) TableName() string { return "portfolio_snapshots" }
