// Package gormstore 用 Gorm + SQLite 持久化机器人状态、持仓、成交与历史摘要。
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fleet/internal/fleet"
	storemodel "fleet/internal/store/model"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type botStateModel = storemodel.BotStateModel
type positionModel = storemodel.PositionModel
type tradeModel = storemodel.TradeModel
type summaryModel = storemodel.SummaryModel
type portfolioSnapshotModel = storemodel.PortfolioSnapshotModel

// GormStore 是状态库的唯一写入方（调度器回合内串行调用）。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&botStateModel{},
		&positionModel{},
		&tradeModel{},
		&summaryModel{},
		&portfolioSnapshotModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTurnOutcome 一轮结束后的状态落库：状态行 + 涉及的持仓 + 新增成交。
// 写入顺序固定：trades → positions → bot state。进程在中间崩溃时，
// 对账器会按「成交已存在但状态未推进」的形态恢复。
func (s *GormStore) SaveTurnOutcome(ctx context.Context, bot *fleet.Bot, positions []*fleet.Position, trades []*fleet.Trade) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, t := range trades {
			if t == nil {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(toTradeModel(t)).Error; err != nil {
				return err
			}
		}
		for _, p := range positions {
			if p == nil {
				continue
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(toPositionModel(p)).Error; err != nil {
				return err
			}
		}
		state, err := toBotStateModel(bot)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(state).Error
	})
}

// SaveBotState 只刷状态行（刷新节拍用，不触碰成交表）。
func (s *GormStore) SaveBotState(ctx context.Context, bot *fleet.Bot) error {
	state, err := toBotStateModel(bot)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(state).Error
}

// SavePositions 批量刷新持仓行（爆仓/未实现盈亏变化）。
func (s *GormStore) SavePositions(ctx context.Context, positions []*fleet.Position) error {
	for _, p := range positions {
		if p == nil {
			continue
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(toPositionModel(p)).Error; err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSummary 整体替换某机器人的历史摘要（history.SummarySink 实现）。
func (s *GormStore) ReplaceSummary(ctx context.Context, summary fleet.HistorySummary) error {
	row := &summaryModel{
		BotID:     summary.BotID,
		Narrative: summary.Narrative,
		Count:     summary.Count,
		FromTS:    summary.From.UnixMilli(),
		ToTS:      summary.To.UnixMilli(),
		TokenSize: summary.TokenSize,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// SavePortfolioSnapshot 追加一条净值曲线点。
func (s *GormStore) SavePortfolioSnapshot(ctx context.Context, bot *fleet.Bot, at time.Time) error {
	open := 0
	for _, p := range bot.Positions {
		if p != nil && p.Status == fleet.PositionOpen {
			open++
		}
	}
	row := &portfolioSnapshotModel{
		BotID:         bot.ID,
		Timestamp:     at.UnixMilli(),
		Balance:       bot.Balance,
		Equity:        bot.Equity(),
		MarginInUse:   bot.MarginInUse(),
		OpenPositions: open,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// PersistedBot 启动对账时从库里捞出的单个机器人状态。
type PersistedBot struct {
	BotID          string
	OwnerID        string
	Mode           string
	Balance        float64
	InitialBalance float64
	TotalTrades    int
	WinningTrades  int
	TotalDecisions int
	Cooldowns      map[string]time.Time
	LastTurnAt     time.Time
	OpenPositions  []*fleet.Position
	Summary        *fleet.HistorySummary
}

// LoadAll 读出全部机器人状态、开仓中持仓与摘要，按 bot_id 归组。
func (s *GormStore) LoadAll(ctx context.Context) (map[string]*PersistedBot, error) {
	var states []botStateModel
	if err := s.db.WithContext(ctx).Find(&states).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*PersistedBot, len(states))
	for _, st := range states {
		pb := &PersistedBot{
			BotID:          st.BotID,
			OwnerID:        st.OwnerID,
			Mode:           st.Mode,
			Balance:        st.Balance,
			InitialBalance: st.InitialBalance,
			TotalTrades:    st.TotalTrades,
			WinningTrades:  st.WinningTrades,
			TotalDecisions: st.TotalDecisions,
			Cooldowns:      decodeCooldowns(st.Cooldowns),
		}
		if st.LastTurnAt > 0 {
			pb.LastTurnAt = time.UnixMilli(st.LastTurnAt)
		}
		out[st.BotID] = pb
	}

	var positions []positionModel
	if err := s.db.WithContext(ctx).Where("status = ?", string(fleet.PositionOpen)).Find(&positions).Error; err != nil {
		return nil, err
	}
	for i := range positions {
		pb, ok := out[positions[i].BotID]
		if !ok {
			continue
		}
		pb.OpenPositions = append(pb.OpenPositions, fromPositionModel(&positions[i]))
	}

	var summaries []summaryModel
	if err := s.db.WithContext(ctx).Find(&summaries).Error; err != nil {
		return nil, err
	}
	for _, sm := range summaries {
		pb, ok := out[sm.BotID]
		if !ok {
			continue
		}
		pb.Summary = &fleet.HistorySummary{
			BotID:     sm.BotID,
			Narrative: sm.Narrative,
			Count:     sm.Count,
			From:      time.UnixMilli(sm.FromTS),
			To:        time.UnixMilli(sm.ToTS),
			TokenSize: sm.TokenSize,
		}
	}
	return out, nil
}

// RecentTrades 某机器人最近的成交（新在前）。
func (s *GormStore) RecentTrades(ctx context.Context, botID string, limit int) ([]fleet.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []tradeModel
	if err := s.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("ts DESC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]fleet.Trade, 0, len(rows))
	for i := range rows {
		out = append(out, *fromTradeModel(&rows[i]))
	}
	return out, nil
}

// ClosedPositions 某机器人已平仓的历史持仓（新在前）。
func (s *GormStore) ClosedPositions(ctx context.Context, botID string, limit int) ([]*fleet.Position, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []positionModel
	if err := s.db.WithContext(ctx).
		Where("bot_id = ? AND status = ?", botID, string(fleet.PositionClosed)).
		Order("closed_at DESC").Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*fleet.Position, 0, len(rows))
	for i := range rows {
		out = append(out, fromPositionModel(&rows[i]))
	}
	return out, nil
}

// EquityCurve 某机器人的净值曲线（旧在前）。
func (s *GormStore) EquityCurve(ctx context.Context, botID string, limit int) ([]storemodel.PortfolioSnapshotModel, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []portfolioSnapshotModel
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("ts ASC").Limit(limit).
		Find(&rows).Error
	return rows, err
}

// TradeExists 对账辅助：某 position 是否已有指定动作的成交。
func (s *GormStore) TradeExists(ctx context.Context, positionID, action string) (bool, error) {
	var row tradeModel
	err := s.db.WithContext(ctx).
		Where("position_id = ? AND action = ?", positionID, action).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// --------- 模型转换 ---------

func toBotStateModel(bot *fleet.Bot) (*botStateModel, error) {
	cooldowns, err := json.Marshal(bot.Cooldowns)
	if err != nil {
		return nil, err
	}
	return &botStateModel{
		BotID:          bot.ID,
		OwnerID:        bot.OwnerID,
		Mode:           string(bot.Mode),
		Balance:        bot.Balance,
		InitialBalance: bot.InitialBalance,
		TotalTrades:    bot.TotalTrades,
		WinningTrades:  bot.WinningTrades,
		TotalDecisions: bot.TotalDecisions,
		Cooldowns:      datatypes.JSON(cooldowns),
		LastTurnAt:     bot.LastTurnAt.UnixMilli(),
		UpdatedAt:      time.Now(),
	}, nil
}

func decodeCooldowns(raw datatypes.JSON) map[string]time.Time {
	out := make(map[string]time.Time)
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func toPositionModel(p *fleet.Position) *positionModel {
	return &positionModel{
		ID:               p.ID,
		BotID:            p.BotID,
		Symbol:           p.Symbol,
		Side:             string(p.Side),
		EntryPrice:       p.EntryPrice,
		Size:             p.Size,
		Leverage:         p.Leverage,
		StopLoss:         p.StopLoss,
		TakeProfit:       p.TakeProfit,
		LiquidationPrice: p.LiquidationPrice,
		Status:           string(p.Status),
		OpenedAt:         p.OpenedAt,
		ClosedAt:         p.ClosedAt,
		UnrealizedPnL:    p.UnrealizedPnL,
		RealizedPnL:      p.RealizedPnL,
	}
}

func fromPositionModel(m *positionModel) *fleet.Position {
	return &fleet.Position{
		ID:               m.ID,
		BotID:            m.BotID,
		Symbol:           m.Symbol,
		Side:             fleet.Side(m.Side),
		EntryPrice:       m.EntryPrice,
		Size:             m.Size,
		Leverage:         m.Leverage,
		StopLoss:         m.StopLoss,
		TakeProfit:       m.TakeProfit,
		LiquidationPrice: m.LiquidationPrice,
		Status:           fleet.PositionStatus(m.Status),
		OpenedAt:         m.OpenedAt,
		ClosedAt:         m.ClosedAt,
		UnrealizedPnL:    m.UnrealizedPnL,
		RealizedPnL:      m.RealizedPnL,
	}
}

func toTradeModel(t *fleet.Trade) *tradeModel {
	return &tradeModel{
		ID:         t.ID,
		BotID:      t.BotID,
		PositionID: t.PositionID,
		Action:     t.Action,
		Side:       string(t.Side),
		Symbol:     t.Symbol,
		Price:      t.Price,
		Size:       t.Size,
		Leverage:   t.Leverage,
		Fee:        t.Fee,
		PnL:        t.PnL,
		Timestamp:  t.Timestamp,
	}
}

func fromTradeModel(m *tradeModel) *fleet.Trade {
	return &fleet.Trade{
		ID:         m.ID,
		BotID:      m.BotID,
		PositionID: m.PositionID,
		Action:     m.Action,
		Side:       fleet.Side(m.Side),
		Symbol:     m.Symbol,
		Price:      m.Price,
		Size:       m.Size,
		Leverage:   m.Leverage,
		Fee:        m.Fee,
		PnL:        m.PnL,
		Timestamp:  m.Timestamp,
	}
}
