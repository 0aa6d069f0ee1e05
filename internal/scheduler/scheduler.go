package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fleet/internal/broadcast"
	"fleet/internal/config"
	"fleet/internal/decision"
	"fleet/internal/fleet"
	"fleet/internal/gateway/exchange"
	"fleet/internal/logger"
	"fleet/internal/market"
)

// StateStore 调度器需要的状态库写入面。
type StateStore interface {
	SaveTurnOutcome(ctx context.Context, bot *fleet.Bot, positions []*fleet.Position, trades []*fleet.Trade) error
	SaveBotState(ctx context.Context, bot *fleet.Bot) error
	SavePositions(ctx context.Context, positions []*fleet.Position) error
	SavePortfolioSnapshot(ctx context.Context, bot *fleet.Bot, at time.Time) error
}

// DecisionLog 决策日志的追加面。
type DecisionLog interface {
	Append(ctx context.Context, entry *fleet.DecisionLogEntry) error
}

// HistoryManager 历史上下文与重摘要。
type HistoryManager interface {
	PromptContext(ctx context.Context, bot *fleet.Bot) (string, []decision.HistoryEntryView, error)
	MaybeSummarize(ctx context.Context, bot *fleet.Bot) (bool, error)
}

// DecisionRunner 决策管线。
type DecisionRunner interface {
	Run(ctx context.Context, in decision.BotContext) decision.Result
}

type commandKind int

const (
	cmdForceTurn commandKind = iota
	cmdPause
	cmdResume
	cmdClose
	cmdReset
	cmdReload
)

type command struct {
	kind   commandKind
	botID  string
	symbol string
	bots   []*fleet.Bot
	resp   chan error
}

// Scheduler 单协程驱动整支车队：回合节拍、刷新节拍与外部命令
// 都在同一个 select 循环里串行处理，机器人状态因此无需加锁。
type Scheduler struct {
	registry *Registry
	pipeline DecisionRunner
	executor *fleet.Executor
	market   *market.Cache
	store    StateStore
	log      DecisionLog
	history  HistoryManager
	gateway  exchange.Factory
	events   broadcast.Broadcaster

	symbols       []string
	turnEvery     time.Duration
	refreshEvery  time.Duration
	turnTimeout   time.Duration
	snapshotEvery time.Duration
	lastSnapshot  time.Time

	commands chan command
	now      func() time.Time
}

type Options struct {
	Registry *Registry
	Pipeline DecisionRunner
	Executor *fleet.Executor
	Market   *market.Cache
	Store    StateStore
	Log      DecisionLog
	History  HistoryManager
	Gateway  exchange.Factory
	Events   broadcast.Broadcaster

	Symbols   []string
	Scheduler config.SchedulerConfig
	StoreCfg  config.StoreConfig
}

func New(opts Options) (*Scheduler, error) {
	turnEvery, err := ParseIntervalDuration(opts.Scheduler.TurnInterval)
	if err != nil {
		return nil, fmt.Errorf("turn_interval: %w", err)
	}
	refreshEvery, err := ParseIntervalDuration(opts.Scheduler.RefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("refresh_interval: %w", err)
	}
	events := opts.Events
	if events == nil {
		events = broadcast.Nop{}
	}
	snapshotEvery := time.Duration(opts.StoreCfg.SnapshotIntervalSeconds) * time.Second
	return &Scheduler{
		registry:      opts.Registry,
		pipeline:      opts.Pipeline,
		executor:      opts.Executor,
		market:        opts.Market,
		store:         opts.Store,
		log:           opts.Log,
		history:       opts.History,
		gateway:       opts.Gateway,
		events:        events,
		symbols:       opts.Symbols,
		turnEvery:     turnEvery,
		refreshEvery:  refreshEvery,
		turnTimeout:   time.Duration(opts.Scheduler.TurnTimeoutSeconds) * time.Second,
		snapshotEvery: snapshotEvery,
		commands:      make(chan command, 16),
		now:           time.Now,
	}, nil
}

// Run 阻塞运行调度循环，ctx 取消后返回。
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("scheduler: 启动，回合间隔=%s 刷新间隔=%s", s.turnEvery, s.refreshEvery)
	// 启动先拉一次行情再进循环，首个回合不要在空快照上决策
	s.refresh(ctx)
	// 上次回合已超过一个间隔（或从未决策过）时立刻补一轮，重启后不用干等节拍。
	// 先窥视再推进：不补跑时游标原地不动，首个节拍从原位开始
	if bot, ok := s.registry.PeekTurn(); ok && s.now().Sub(bot.LastTurnAt) >= s.turnEvery {
		if bot, ok := s.registry.NextTurn(); ok {
			s.runTurn(ctx, bot)
		}
	}

	turnTicker := time.NewTicker(s.turnEvery)
	defer turnTicker.Stop()
	refreshTicker := time.NewTicker(s.refreshEvery)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: 收到退出信号，停止调度")
			return ctx.Err()
		case cmd := <-s.commands:
			s.handleCommand(ctx, cmd)
		case <-refreshTicker.C:
			s.refresh(ctx)
		case <-turnTicker.C:
			if bot, ok := s.registry.NextTurn(); ok {
				s.runTurn(ctx, bot)
			}
		}
	}
}

// runTurn 执行一个机器人的完整回合。panic 只打掉本回合，不打掉调度器。
func (s *Scheduler) runTurn(ctx context.Context, bot *fleet.Bot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("scheduler: %s 回合 panic: %v", bot.ID, r)
		}
	}()
	turnCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	now := s.now()
	s.events.Publish(broadcast.Event{Type: broadcast.EventTurnStarted, OwnerID: bot.OwnerID, BotID: bot.ID, At: now})

	in, err := s.buildContext(turnCtx, bot)
	if err != nil {
		logger.Errorf("scheduler: %s 构建决策上下文失败: %v", bot.ID, err)
		return
	}
	res := s.pipeline.Run(turnCtx, in)

	bot.TotalDecisions++
	bot.LastTurnAt = now
	bot.PruneCooldowns(now)

	snap := s.market.Snapshot()
	var (
		positions []*fleet.Position
		trades    []*fleet.Trade
		notes     = append([]string(nil), res.Notes...)
	)
	for _, d := range res.Decisions {
		price, _ := snap.Price(d.Symbol)
		out := s.executor.Apply(bot, d, price)
		if out.Note != "" {
			notes = append(notes, out.Note)
		}
		if out.Position != nil {
			positions = append(positions, out.Position)
		}
		if out.Trade != nil {
			trades = append(trades, out.Trade)
			s.events.Publish(broadcast.Event{
				Type: broadcast.EventTradeExecuted, OwnerID: bot.OwnerID, BotID: bot.ID,
				Data: out.Trade, At: s.now(),
			})
		}
	}

	s.appendDecisionLog(turnCtx, bot, res, notes, now)
	if err := s.store.SaveTurnOutcome(turnCtx, bot, positions, trades); err != nil {
		logger.Errorf("scheduler: %s 回合落库失败: %v", bot.ID, err)
	}

	if fired, err := s.history.MaybeSummarize(turnCtx, bot); err != nil {
		logger.Warnf("scheduler: %s 历史摘要失败: %v", bot.ID, err)
	} else if fired {
		s.events.Publish(broadcast.Event{Type: broadcast.EventSummaryUpdated, OwnerID: bot.OwnerID, BotID: bot.ID, At: s.now()})
	}

	s.events.Publish(broadcast.Event{
		Type: broadcast.EventTurnCompleted, OwnerID: bot.OwnerID, BotID: bot.ID,
		Data: map[string]any{
			"decisions": len(res.Decisions),
			"trades":    len(trades),
			"notes":     notes,
			"balance":   bot.Balance,
			"equity":    bot.Equity(),
		},
		At: s.now(),
	})
	logger.Infof("scheduler: %s 回合完成 决策=%d 成交=%d 注记=%d", bot.ID, len(res.Decisions), len(trades), len(notes))
}

// buildContext 把机器人状态快照成决策管线输入。
func (s *Scheduler) buildContext(ctx context.Context, bot *fleet.Bot) (decision.BotContext, error) {
	now := s.now()
	narrative, entries, err := s.history.PromptContext(ctx, bot)
	if err != nil {
		return decision.BotContext{}, err
	}
	permitted := bot.PermittedSymbols(s.symbols)
	in := decision.BotContext{
		BotID:       bot.ID,
		BotName:     bot.Name,
		Personality: bot.Prompt,
		ProviderID:  bot.ProviderID,
		Iterative:   bot.Iterative,

		Balance:     bot.Balance,
		Equity:      bot.Equity(),
		MarginInUse: bot.MarginInUse(),
		TotalTrades: bot.TotalTrades,
		WinRate:     bot.WinRate,

		Symbols:          permitted,
		HistoryNarrative: narrative,
		RecentEntries:    entries,
	}
	for _, t := range s.market.Snapshot().Filtered(permitted) {
		in.Tickers = append(in.Tickers, decision.TickerView{Symbol: t.Symbol, Price: t.Price, Change24h: t.Change24h})
	}
	for _, p := range bot.Positions {
		if p == nil || p.Status != fleet.PositionOpen {
			continue
		}
		in.Positions = append(in.Positions, decision.PositionView{
			Symbol: p.Symbol, Side: string(p.Side), EntryPrice: p.EntryPrice,
			Size: p.Size, Leverage: p.Leverage, UnrealizedPnL: p.UnrealizedPnL, OpenedAt: p.OpenedAt,
		})
	}
	for sym, until := range bot.Cooldowns {
		if remaining := until.Sub(now); remaining > 0 {
			in.Cooldowns = append(in.Cooldowns, decision.CooldownView{Symbol: sym, Remaining: remaining})
		}
	}
	return in, nil
}

func (s *Scheduler) appendDecisionLog(ctx context.Context, bot *fleet.Bot, res decision.Result, notes []string, at time.Time) {
	decisionsJSON, err := json.Marshal(res.Decisions)
	if err != nil {
		decisionsJSON = []byte("[]")
	}
	entry := &fleet.DecisionLogEntry{
		BotID:      bot.ID,
		BasePrompt: res.BasePrompt,
		RawOutput:  res.RawOutput,
		Decisions:  string(decisionsJSON),
		Notes:      notes,
		Success:    res.Success(),
		Timestamp:  at,
	}
	if err := s.log.Append(ctx, entry); err != nil {
		logger.Errorf("scheduler: %s 决策日志落库失败: %v", bot.ID, err)
	}
}

// refresh 刷新节拍：行情快照整体替换 + 全部机器人的持仓重估/对账。
func (s *Scheduler) refresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("scheduler: 刷新节拍 panic: %v", r)
		}
	}()
	if err := s.market.Refresh(ctx); err != nil {
		logger.Warnf("scheduler: 行情刷新失败，沿用旧快照: %v", err)
	}
	snap := s.market.Snapshot()
	now := s.now()
	takeSnapshot := s.snapshotEvery > 0 && now.Sub(s.lastSnapshot) >= s.snapshotEvery
	if takeSnapshot {
		s.lastSnapshot = now
	}

	for _, bot := range s.registry.All() {
		if bot.Mode == fleet.ModeReal {
			s.reconcileReal(ctx, bot)
		} else {
			for _, out := range s.executor.MarkToMarket(bot, snap) {
				s.events.Publish(broadcast.Event{
					Type: broadcast.EventLiquidation, OwnerID: bot.OwnerID, BotID: bot.ID,
					Data: out.Trade, At: now,
				})
				if err := s.store.SaveTurnOutcome(ctx, bot, []*fleet.Position{out.Position}, []*fleet.Trade{out.Trade}); err != nil {
					logger.Errorf("scheduler: %s 爆仓落库失败: %v", bot.ID, err)
				}
			}
		}
		if err := s.store.SavePositions(ctx, bot.Positions); err != nil {
			logger.Errorf("scheduler: %s 持仓刷新落库失败: %v", bot.ID, err)
		}
		if err := s.store.SaveBotState(ctx, bot); err != nil {
			logger.Errorf("scheduler: %s 状态刷新落库失败: %v", bot.ID, err)
		}
		if takeSnapshot {
			if err := s.store.SavePortfolioSnapshot(ctx, bot, now); err != nil {
				logger.Warnf("scheduler: %s 净值快照落库失败: %v", bot.ID, err)
			}
		}
		s.events.Publish(broadcast.Event{
			Type: broadcast.EventPositionUpdate, OwnerID: bot.OwnerID, BotID: bot.ID,
			Data: map[string]any{"balance": bot.Balance, "equity": bot.Equity(), "positions": len(bot.Positions)},
			At:   now,
		})
	}
}

// reconcileReal 实盘对账：余额与未实现盈亏以交易所为准。
func (s *Scheduler) reconcileReal(ctx context.Context, bot *fleet.Bot) {
	if s.gateway == nil {
		return
	}
	gw, err := s.gateway(bot.Exchange.APIKey, bot.Exchange.APISecret)
	if err != nil {
		logger.Warnf("scheduler: %s 交易所网关创建失败: %v", bot.ID, err)
		return
	}
	acct, err := gw.AccountState(ctx)
	if err != nil {
		logger.Warnf("scheduler: %s 实盘账户查询失败: %v", bot.ID, err)
		return
	}
	remote, err := gw.OpenPositions(ctx)
	if err != nil {
		logger.Warnf("scheduler: %s 实盘持仓查询失败: %v", bot.ID, err)
		return
	}
	s.executor.ReconcileReal(bot, acct, remote)
}

// --------- 外部命令（HTTP 层调用，调度循环内串行执行） ---------

func (s *Scheduler) submit(ctx context.Context, cmd command) error {
	cmd.resp = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) ForceTurn(ctx context.Context, botID string) error {
	return s.submit(ctx, command{kind: cmdForceTurn, botID: botID})
}

func (s *Scheduler) Pause(ctx context.Context, botID string) error {
	return s.submit(ctx, command{kind: cmdPause, botID: botID})
}

func (s *Scheduler) Resume(ctx context.Context, botID string) error {
	return s.submit(ctx, command{kind: cmdResume, botID: botID})
}

// ManualClose 手动平掉某机器人的某个持仓。
func (s *Scheduler) ManualClose(ctx context.Context, botID, symbol string) error {
	return s.submit(ctx, command{kind: cmdClose, botID: botID, symbol: symbol})
}

// Reset 把机器人恢复到初始资金、清空持仓与冷却（决策日志与成交记录保留）。
func (s *Scheduler) Reset(ctx context.Context, botID string) error {
	return s.submit(ctx, command{kind: cmdReset, botID: botID})
}

// ReplaceBots profile 热重载后替换机器人集。与回合在同一循环内串行，
// 不会撕裂进行中的回合。
func (s *Scheduler) ReplaceBots(ctx context.Context, bots []*fleet.Bot) error {
	return s.submit(ctx, command{kind: cmdReload, bots: bots})
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd command) {
	var err error
	switch cmd.kind {
	case cmdForceTurn:
		if bot, ok := s.registry.Get(cmd.botID); ok {
			s.runTurn(ctx, bot)
		} else {
			err = fmt.Errorf("未知机器人 %q", cmd.botID)
		}
	case cmdPause:
		if err = s.registry.SetPaused(cmd.botID, true); err == nil {
			s.events.Publish(broadcast.Event{Type: broadcast.EventBotPaused, BotID: cmd.botID, At: s.now()})
		}
	case cmdResume:
		if err = s.registry.SetPaused(cmd.botID, false); err == nil {
			s.events.Publish(broadcast.Event{Type: broadcast.EventBotResumed, BotID: cmd.botID, At: s.now()})
		}
	case cmdClose:
		err = s.manualClose(ctx, cmd.botID, cmd.symbol)
	case cmdReset:
		err = s.reset(ctx, cmd.botID)
	case cmdReload:
		s.registry.ReplaceAll(cmd.bots)
		logger.Infof("scheduler: 机器人集已热重载，共 %d 个", len(cmd.bots))
	}
	if cmd.resp != nil {
		cmd.resp <- err
	}
}

func (s *Scheduler) manualClose(ctx context.Context, botID, symbol string) error {
	bot, ok := s.registry.Get(botID)
	if !ok {
		return fmt.Errorf("未知机器人 %q", botID)
	}
	price, ok := s.market.Snapshot().Price(symbol)
	if !ok {
		return fmt.Errorf("%s 无可用行情价格", symbol)
	}
	out := s.executor.Close(bot, symbol, price)
	if out.Rejected() {
		return fmt.Errorf("%s", out.Note)
	}
	if out.Trade != nil {
		s.events.Publish(broadcast.Event{
			Type: broadcast.EventTradeExecuted, OwnerID: bot.OwnerID, BotID: bot.ID,
			Data: out.Trade, At: s.now(),
		})
	}
	return s.store.SaveTurnOutcome(ctx, bot, []*fleet.Position{out.Position}, []*fleet.Trade{out.Trade})
}

func (s *Scheduler) reset(ctx context.Context, botID string) error {
	bot, ok := s.registry.Get(botID)
	if !ok {
		return fmt.Errorf("未知机器人 %q", botID)
	}
	// 先按当前价平掉所有持仓，保证成交流水完整
	snap := s.market.Snapshot()
	var positions []*fleet.Position
	var trades []*fleet.Trade
	for _, pos := range append([]*fleet.Position(nil), bot.Positions...) {
		if pos == nil || pos.Status != fleet.PositionOpen {
			continue
		}
		price, ok := snap.Price(pos.Symbol)
		if !ok {
			price = pos.EntryPrice
		}
		out := s.executor.Close(bot, pos.Symbol, price)
		if out.Position != nil {
			positions = append(positions, out.Position)
		}
		if out.Trade != nil {
			trades = append(trades, out.Trade)
		}
	}
	bot.Balance = bot.InitialBalance
	bot.Positions = nil
	bot.Cooldowns = make(map[string]time.Time)
	bot.TotalTrades = 0
	bot.WinningTrades = 0
	bot.WinRate = 0
	bot.Summary = nil
	logger.Infof("scheduler: %s 已重置为初始资金 %.2f", bot.ID, bot.InitialBalance)
	return s.store.SaveTurnOutcome(ctx, bot, positions, trades)
}
