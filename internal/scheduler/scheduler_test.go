package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet/internal/config"
	"fleet/internal/decision"
	"fleet/internal/fleet"
	"fleet/internal/gateway/exchange"
	"fleet/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct{ tickers []market.Ticker }

func (f *fakeFeed) FetchTickers(context.Context) ([]market.Ticker, error) { return f.tickers, nil }

func (f *fakeFeed) FetchCandles(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, nil
}

type fakePipeline struct {
	result decision.Result
	panics bool
	inputs []decision.BotContext
}

func (f *fakePipeline) Run(_ context.Context, in decision.BotContext) decision.Result {
	if f.panics {
		panic("决策管线炸了")
	}
	f.inputs = append(f.inputs, in)
	return f.result
}

type memStateStore struct {
	outcomes  int
	trades    []*fleet.Trade
	states    int
	snapshots int
}

func (m *memStateStore) SaveTurnOutcome(_ context.Context, _ *fleet.Bot, _ []*fleet.Position, trades []*fleet.Trade) error {
	m.outcomes++
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *memStateStore) SaveBotState(context.Context, *fleet.Bot) error { m.states++; return nil }

func (m *memStateStore) SavePositions(context.Context, []*fleet.Position) error { return nil }

func (m *memStateStore) SavePortfolioSnapshot(context.Context, *fleet.Bot, time.Time) error {
	m.snapshots++
	return nil
}

type memDecisionLog struct{ entries []*fleet.DecisionLogEntry }

func (m *memDecisionLog) Append(_ context.Context, e *fleet.DecisionLogEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

type nopHistory struct{}

func (nopHistory) PromptContext(context.Context, *fleet.Bot) (string, []decision.HistoryEntryView, error) {
	return "", nil, nil
}

func (nopHistory) MaybeSummarize(context.Context, *fleet.Bot) (bool, error) { return false, nil }

func newTestScheduler(t *testing.T, bots []*fleet.Bot, pipeline DecisionRunner) (*Scheduler, *memStateStore, *memDecisionLog) {
	t.Helper()
	store := &memStateStore{}
	log := &memDecisionLog{}
	cache := market.NewCache(&fakeFeed{tickers: []market.Ticker{
		{Symbol: "BTCUSDT", Price: 69500, Change24h: 1.5},
		{Symbol: "ETHUSDT", Price: 3500, Change24h: -0.8},
		{Symbol: "SOLUSDT", Price: 150, Change24h: 2.1},
	}})
	require.NoError(t, cache.Refresh(context.Background()))

	s, err := New(Options{
		Registry: NewRegistry(bots),
		Pipeline: pipeline,
		Executor: fleet.NewExecutor(config.TradingConfig{
			InitialBalance: 10000, PaperFeeRate: 0.03, MinPositionSize: 100,
			MaxLeverageMajor: 50, MaxLeverageAlt: 20, CooldownSeconds: 1800,
			MaxMarginRatio: 1.0, RecentTradesLimit: 10,
		}),
		Market:    cache,
		Store:     store,
		Log:       log,
		History:   nopHistory{},
		Symbols:   []string{"BTCUSDT", "ETHUSDT"},
		Scheduler: config.SchedulerConfig{TurnInterval: "3m", RefreshInterval: "15s", TurnTimeoutSeconds: 120},
	})
	require.NoError(t, err)
	return s, store, log
}

func paperBot(id, owner string) *fleet.Bot {
	return &fleet.Bot{
		ID: id, OwnerID: owner, Mode: fleet.ModePaper,
		Balance: 10000, InitialBalance: 10000,
		Cooldowns: make(map[string]time.Time),
	}
}

func TestRunTurnAppliesDecisionsAndPersists(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	pipeline := &fakePipeline{result: decision.Result{
		Decisions: []decision.Decision{
			{Symbol: "BTCUSDT", Action: "open_long", Leverage: 10, PositionSizeUSD: 2000},
		},
		BasePrompt: "base",
		RawOutput:  "[...]",
	}}
	s, store, log := newTestScheduler(t, []*fleet.Bot{bot}, pipeline)

	s.runTurn(context.Background(), bot)

	assert.Equal(t, 8000.0, bot.Balance)
	assert.Equal(t, 1, bot.TotalDecisions)
	assert.False(t, bot.LastTurnAt.IsZero())
	assert.Equal(t, 1, store.outcomes)
	require.Len(t, store.trades, 1)
	assert.Equal(t, fleet.TradeActionOpen, store.trades[0].Action)
	require.Len(t, log.entries, 1)
	assert.True(t, log.entries[0].Success)
	assert.Equal(t, "base", log.entries[0].BasePrompt)
	assert.Contains(t, log.entries[0].Decisions, "open_long")
}

func TestRunTurnRecordsRejectionNotes(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	pipeline := &fakePipeline{result: decision.Result{
		Decisions: []decision.Decision{
			// 杠杆超限，会被执行器拒绝
			{Symbol: "SOLUSDT", Action: "open_long", Leverage: 99, PositionSizeUSD: 500},
		},
	}}
	s, store, log := newTestScheduler(t, []*fleet.Bot{bot}, pipeline)

	s.runTurn(context.Background(), bot)

	assert.Equal(t, 10000.0, bot.Balance)
	assert.Empty(t, store.trades)
	require.Len(t, log.entries, 1)
	require.NotEmpty(t, log.entries[0].Notes)
	assert.Contains(t, log.entries[0].Notes[0], "杠杆")
}

func TestRunTurnPipelineFailureStillLogs(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	pipeline := &fakePipeline{result: decision.Result{Notes: []string{"provider 调用失败: 超时"}}}
	s, store, log := newTestScheduler(t, []*fleet.Bot{bot}, pipeline)

	s.runTurn(context.Background(), bot)

	assert.Equal(t, 1, bot.TotalDecisions)
	require.Len(t, log.entries, 1)
	assert.False(t, log.entries[0].Success)
	assert.Equal(t, 1, store.outcomes)
}

func TestRunTurnPanicIsolated(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	s, _, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{panics: true})

	assert.NotPanics(t, func() { s.runTurn(context.Background(), bot) })
}

func TestBuildContextSnapshotsBotState(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	bot.Name = "趋势"
	bot.Prompt = "做趋势"
	bot.Symbols = []string{"BTCUSDT"}
	bot.Cooldowns["ETHUSDT"] = time.Now().Add(5 * time.Minute)
	bot.Positions = append(bot.Positions, &fleet.Position{
		ID: "p1", BotID: bot.ID, Symbol: "BTCUSDT", Side: fleet.SideLong,
		EntryPrice: 69000, Size: 1000, Leverage: 5, Status: fleet.PositionOpen,
	})
	s, _, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{})

	in, err := s.buildContext(context.Background(), bot)
	require.NoError(t, err)
	assert.Equal(t, "bot-1", in.BotID)
	assert.Equal(t, "做趋势", in.Personality)
	// 白名单过滤：只看 BTCUSDT
	require.Len(t, in.Tickers, 1)
	assert.Equal(t, "BTCUSDT", in.Tickers[0].Symbol)
	require.Len(t, in.Positions, 1)
	assert.Equal(t, "long", in.Positions[0].Side)
	// ETHUSDT 不在白名单内，但冷却仍如实呈现
	require.Len(t, in.Cooldowns, 1)
	assert.Equal(t, "ETHUSDT", in.Cooldowns[0].Symbol)
}

func TestRefreshMarksToMarketAndPersists(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	bot.Balance = 8000
	bot.Positions = append(bot.Positions, &fleet.Position{
		ID: "p1", BotID: bot.ID, Symbol: "BTCUSDT", Side: fleet.SideLong,
		EntryPrice: 68500, Size: 2000, Leverage: 10, Status: fleet.PositionOpen,
	})
	s, store, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{})

	s.refresh(context.Background())

	assert.Greater(t, bot.Positions[0].UnrealizedPnL, 0.0)
	assert.GreaterOrEqual(t, store.states, 1)
	assert.Empty(t, store.trades, "刷新不产生成交")
}

type fakeGateway struct {
	acct   exchange.AccountState
	remote []exchange.RemotePosition
}

func (g *fakeGateway) AccountState(context.Context) (exchange.AccountState, error) {
	return g.acct, nil
}

func (g *fakeGateway) OpenPositions(context.Context) ([]exchange.RemotePosition, error) {
	return g.remote, nil
}

func TestRefreshReconcilesRealBot(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	bot.Mode = fleet.ModeReal
	bot.Exchange = fleet.ExchangeCredentials{APIKey: "k", APISecret: "s"}
	bot.Positions = append(bot.Positions, &fleet.Position{
		ID: "p1", BotID: bot.ID, Symbol: "BTCUSDT", Side: fleet.SideLong,
		EntryPrice: 69000, Size: 2000, Leverage: 10, Status: fleet.PositionOpen,
	})
	s, _, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{})
	gw := &fakeGateway{
		acct: exchange.AccountState{Balance: 12500, Available: 11000},
		remote: []exchange.RemotePosition{
			{Symbol: "BTCUSDT", Side: "long", UnrealizedPnL: 321.5, LiquidationPrice: 63000},
		},
	}
	s.gateway = func(apiKey, apiSecret string) (exchange.Gateway, error) {
		require.Equal(t, "k", apiKey)
		require.Equal(t, "s", apiSecret)
		return gw, nil
	}

	s.refresh(context.Background())

	// 实盘以交易所为准：余额与未实现盈亏都来自网关
	assert.Equal(t, 11000.0, bot.Balance)
	assert.Equal(t, 321.5, bot.Positions[0].UnrealizedPnL)
	assert.Equal(t, 63000.0, bot.Positions[0].LiquidationPrice)
}

func TestRefreshRealBotFactoryFailureKeepsState(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	bot.Mode = fleet.ModeReal
	s, _, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{})
	s.gateway = func(string, string) (exchange.Gateway, error) {
		return nil, errors.New("缺少凭证")
	}

	assert.NotPanics(t, func() { s.refresh(context.Background()) })
	assert.Equal(t, 10000.0, bot.Balance)
}

func TestManualCloseCommand(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	bot.Balance = 8000
	bot.Positions = append(bot.Positions, &fleet.Position{
		ID: "p1", BotID: bot.ID, Symbol: "BTCUSDT", Side: fleet.SideLong,
		EntryPrice: 69000, Size: 2000, Leverage: 10, Status: fleet.PositionOpen,
	})
	s, store, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{})

	require.NoError(t, s.manualClose(context.Background(), "bot-1", "BTCUSDT"))
	assert.Empty(t, bot.Positions)
	require.Len(t, store.trades, 1)
	assert.Equal(t, fleet.TradeActionClose, store.trades[0].Action)

	assert.Error(t, s.manualClose(context.Background(), "bot-1", "BTCUSDT"), "重复平仓应报错")
	assert.Error(t, s.manualClose(context.Background(), "ghost", "BTCUSDT"))
}

func TestResetCommand(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	bot.Balance = 6000
	bot.TotalTrades = 7
	bot.WinningTrades = 3
	bot.Cooldowns["BTCUSDT"] = time.Now().Add(time.Hour)
	bot.Positions = append(bot.Positions, &fleet.Position{
		ID: "p1", BotID: bot.ID, Symbol: "BTCUSDT", Side: fleet.SideLong,
		EntryPrice: 69000, Size: 2000, Leverage: 5, Status: fleet.PositionOpen,
	})
	s, store, _ := newTestScheduler(t, []*fleet.Bot{bot}, &fakePipeline{})

	require.NoError(t, s.reset(context.Background(), "bot-1"))
	assert.Equal(t, 10000.0, bot.Balance)
	assert.Empty(t, bot.Positions)
	assert.Empty(t, bot.Cooldowns)
	assert.Zero(t, bot.TotalTrades)
	assert.Nil(t, bot.Summary)
	// 重置前先平仓，成交流水完整
	require.Len(t, store.trades, 1)
	assert.Equal(t, fleet.TradeActionClose, store.trades[0].Action)
}

func TestRunLoopHonorsContextCancel(t *testing.T) {
	bot := paperBot("bot-1", "alice")
	pipeline := &fakePipeline{result: decision.Result{}}
	s, _, _ := newTestScheduler(t, []*fleet.Bot{bot}, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("调度循环未随 ctx 退出")
	}
	// 从未决策过的机器人在启动时补跑一轮
	assert.NotEmpty(t, pipeline.inputs)
}

func TestRunSkipsCatchUpTurnWhenFresh(t *testing.T) {
	now := time.Now()
	botA := paperBot("bot-a", "alice")
	botA.LastTurnAt = now
	botB := paperBot("bot-b", "bob")
	botB.LastTurnAt = now
	pipeline := &fakePipeline{result: decision.Result{}}
	s, _, _ := newTestScheduler(t, []*fleet.Bot{botA, botB}, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, pipeline.inputs, "上一轮还新鲜时不该补跑")
	// 不补跑也不能动游标：首个节拍仍从第一个机器人开始
	next, ok := s.registry.NextTurn()
	require.True(t, ok)
	assert.Equal(t, "bot-a", next.ID)
}
