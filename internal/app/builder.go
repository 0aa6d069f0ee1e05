package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fleet/internal/broadcast"
	fltcfg "fleet/internal/config"
	"fleet/internal/config/loader"
	"fleet/internal/decision"
	"fleet/internal/fleet"
	"fleet/internal/gateway/binance"
	"fleet/internal/gateway/exchange"
	"fleet/internal/gateway/provider"
	"fleet/internal/history"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/scheduler"
	"fleet/internal/store"
	"fleet/internal/store/decisionlog"
	"fleet/internal/store/gormstore"
	"fleet/internal/tools"
	fleethttp "fleet/internal/transport/http"
)

// AppBuilder 把配置装配成可运行的 App。依赖构建函数可被测试替换。
type AppBuilder struct {
	cfg *fltcfg.Config

	marketFn    func(fltcfg.MarketConfig) (*market.Cache, market.Feed)
	providersFn func(fltcfg.AIConfig) *provider.Registry
	storesFn    func(fltcfg.StoreConfig) (*gormstore.GormStore, *decisionlog.Store, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *fltcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		marketFn:    buildMarketCache,
		providersFn: buildProviderRegistry,
		storesFn:    buildStores,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildMarketCache(cfg fltcfg.MarketConfig) (*market.Cache, market.Feed) {
	feed := binance.New(binance.Config{
		RESTBaseURL: cfg.RESTBaseURL,
		HTTPTimeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
	})
	return market.NewCache(feed), feed
}

func buildProviderRegistry(cfg fltcfg.AIConfig) *provider.Registry {
	timeout := time.Duration(cfg.DecisionTimeoutSeconds) * time.Second
	models := make([]provider.ModelCfg, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		models = append(models, provider.ModelCfg{
			ID:             m.ID,
			Provider:       m.Provider,
			APIURL:         m.APIURL,
			APIKey:         m.APIKey,
			Model:          m.Model,
			Enabled:        m.Enabled,
			Headers:        m.Headers,
			SupportsVision: m.Vision,
		})
	}
	return provider.NewRegistry(provider.BuildProvidersFromConfig(models, timeout))
}

func buildStores(cfg fltcfg.StoreConfig) (*gormstore.GormStore, *decisionlog.Store, error) {
	gs, err := gormstore.NewGormStore(cfg.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化状态库失败: %w", err)
	}
	ls, err := decisionlog.New(cfg.DecisionLogPath)
	if err != nil {
		gs.Close()
		return nil, nil, fmt.Errorf("初始化决策日志库失败: %w", err)
	}
	return gs, ls, nil
}

func buildToolRegistry(cfg *fltcfg.Config, feed market.Feed) *tools.Registry {
	reg := tools.NewRegistry(tools.NewIndicatorTool(feed, cfg.Tools.CandleInterval, cfg.Tools.CandleLimit))
	if cfg.Tools.ChartEnabled {
		reg.Register(tools.NewChartTool(feed, cfg.Tools.CandleInterval, cfg.Tools.CandleLimit,
			cfg.Tools.ChartWidthPx, cfg.Tools.ChartHeightPx))
	}
	return reg
}

func binanceGatewayFactory(cfg fltcfg.MarketConfig) exchange.Factory {
	timeout := time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	return func(apiKey, apiSecret string) (exchange.Gateway, error) {
		if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
			return nil, fmt.Errorf("实盘模式缺少交易所凭证")
		}
		return exchange.NewBinanceGateway(apiKey, apiSecret, "", timeout), nil
	}
}

// Build 装配全部依赖并完成启动对账。不启动任何协程。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg

	cache, feed := b.marketFn(cfg.Market)
	providers := b.providersFn(cfg.AI)
	ids := providers.IDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("没有启用任何模型，请检查 ai.models 配置")
	}
	logger.Infof("✓ 已启用 %d 个模型: %v", len(ids), ids)

	gormStore, logStore, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, err
	}

	builder := decision.NewPromptBuilder(cfg.Trading.MaxLeverageMajor, cfg.Trading.MaxLeverageAlt, cfg.Trading.MinPositionSize)
	pipeline := decision.NewPipeline(providers, builder, buildToolRegistry(cfg, feed), cfg.AI)
	histMgr := history.NewManager(logStore, gormStore, providers, cfg.History,
		time.Duration(cfg.AI.SummaryTimeoutSeconds)*time.Second)

	watcher := loader.NewWatcher(cfg.Fleet.ProfilesDir, nil)
	profiles, err := watcher.Load()
	if err != nil {
		gormStore.Close()
		logStore.Close()
		return nil, fmt.Errorf("加载机器人 profiles 失败: %w", err)
	}
	persisted, err := gormStore.LoadAll(ctx)
	if err != nil {
		gormStore.Close()
		logStore.Close()
		return nil, fmt.Errorf("读取持久化机器人状态失败: %w", err)
	}
	bots, orphans := store.ReconcileFleet(profiles, persisted, cfg.Trading.InitialBalance, time.Now())
	if len(orphans) > 0 {
		logger.Warnf("库中存在 %d 个已不在 profile 内的机器人，未加载: %v", len(orphans), orphans)
	}
	logger.Infof("✓ 车队对账完成：%d 个 owner，%d 个机器人", len(profiles), len(bots))

	registry := scheduler.NewRegistry(bots)
	hub := broadcast.NewHub()
	sched, err := scheduler.New(scheduler.Options{
		Registry:  registry,
		Pipeline:  pipeline,
		Executor:  fleet.NewExecutor(cfg.Trading),
		Market:    cache,
		Store:     gormStore,
		Log:       logStore,
		History:   histMgr,
		Gateway:   binanceGatewayFactory(cfg.Market),
		Events:    hub,
		Symbols:   cfg.Market.Symbols,
		Scheduler: cfg.Scheduler,
		StoreCfg:  cfg.Store,
	})
	if err != nil {
		gormStore.Close()
		logStore.Close()
		return nil, fmt.Errorf("初始化调度器失败: %w", err)
	}

	httpSrv, err := fleethttp.NewServer(fleethttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Registry: registry,
		Commands: sched,
		Store:    gormStore,
		Logs:     logStore,
		Market:   cache,
		Hub:      hub,
		Symbols:  cfg.Market.Symbols,
	})
	if err != nil {
		gormStore.Close()
		logStore.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:       cfg,
		scheduler: sched,
		httpSrv:   httpSrv,
		hub:       hub,
		watcher:   watcher,
		gormStore: gormStore,
		logStore:  logStore,
	}, nil
}
