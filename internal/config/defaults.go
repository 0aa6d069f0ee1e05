package config

import "strings"

// 默认值常量
const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppHTTPAddr  = ":9980"
	defaultAppLogPath   = "/data/logs/fleet.log"
	defaultAppLLMLog    = "/data/logs/fleet-llm.log"
	defaultTurnInterval = "3m"
	defaultRefresh      = "15s"
	defaultTurnTimeout  = 120
	defaultMarketName   = "binance"
	defaultMarketREST   = "https://fapi.binance.com"
	defaultMarketHTTP   = 10
	defaultDecisionTO   = 45
	defaultToolTO       = 8
	defaultIterations   = 3
	defaultSummaryTO    = 180
	defaultBalance      = 10000
	defaultPaperFee     = 0.03
	defaultRealFee      = 0.001
	defaultMinSize      = 100
	defaultLevMajor     = 50
	defaultLevAlt       = 20
	defaultCooldown     = 1800
	defaultMarginRatio  = 1.0
	defaultRecentTrades = 50
	defaultTokenBudget  = 6000
	defaultKeepRecent   = 15
	defaultMinBatch     = 10
	defaultNarrative    = 4000
	defaultPromptK      = 5
	defaultStorePath    = "/data/db/fleet.db"
	defaultDecisionLog  = "/data/db/decisions.db"
	defaultSnapshotSec  = 300
	defaultProfilesDir  = "configs/bots"
	defaultChartWidth   = 1280
	defaultChartHeight  = 640
	defaultChartIv      = "1h"
	defaultChartLimit   = 120
)

type keySet map[string]struct{}

func (k keySet) mark(key string) {
	k[strings.ToLower(key)] = struct{}{}
}

func (k keySet) has(key string) bool {
	_, ok := k[strings.ToLower(key)]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, fields ...fieldDefault) {
	for _, f := range fields {
		if keys.has(f.key) && !f.need() {
			continue
		}
		if f.need() {
			f.apply()
		}
	}
}

func stringFieldDefault(key string, target *string, fallback string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = fallback },
	}
}

func intFieldDefault(key string, target *int, fallback int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = fallback },
	}
}

func floatFieldDefault(key string, target *float64, fallback float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = fallback },
	}
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.AI.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.History.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Fleet.applyDefaults(keys)
	c.Tools.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLog),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("scheduler.turn_interval", &s.TurnInterval, defaultTurnInterval),
		stringFieldDefault("scheduler.refresh_interval", &s.RefreshInterval, defaultRefresh),
		intFieldDefault("scheduler.turn_timeout_seconds", &s.TurnTimeoutSeconds, defaultTurnTimeout),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.name", &m.Name, defaultMarketName),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketHTTP),
	)
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}
	}
}

func (a *AIConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("ai.decision_timeout_seconds", &a.DecisionTimeoutSeconds, defaultDecisionTO),
		intFieldDefault("ai.tool_timeout_seconds", &a.ToolTimeoutSeconds, defaultToolTO),
		intFieldDefault("ai.max_iterations", &a.MaxIterations, defaultIterations),
		intFieldDefault("ai.summary_timeout_seconds", &a.SummaryTimeoutSeconds, defaultSummaryTO),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("trading.initial_balance", &t.InitialBalance, defaultBalance),
		floatFieldDefault("trading.paper_fee_rate", &t.PaperFeeRate, defaultPaperFee),
		floatFieldDefault("trading.real_fee_rate", &t.RealFeeRate, defaultRealFee),
		floatFieldDefault("trading.min_position_size", &t.MinPositionSize, defaultMinSize),
		intFieldDefault("trading.max_leverage_major", &t.MaxLeverageMajor, defaultLevMajor),
		intFieldDefault("trading.max_leverage_alt", &t.MaxLeverageAlt, defaultLevAlt),
		intFieldDefault("trading.cooldown_seconds", &t.CooldownSeconds, defaultCooldown),
		floatFieldDefault("trading.max_margin_ratio", &t.MaxMarginRatio, defaultMarginRatio),
		intFieldDefault("trading.recent_trades_limit", &t.RecentTradesLimit, defaultRecentTrades),
	)
}

func (h *HistoryConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("history.token_budget", &h.TokenBudget, defaultTokenBudget),
		intFieldDefault("history.keep_recent", &h.KeepRecent, defaultKeepRecent),
		intFieldDefault("history.min_batch", &h.MinBatch, defaultMinBatch),
		intFieldDefault("history.narrative_max_chars", &h.NarrativeMax, defaultNarrative),
		intFieldDefault("history.prompt_entries", &h.PromptEntries, defaultPromptK),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLog),
		intFieldDefault("store.snapshot_interval_seconds", &s.SnapshotIntervalSeconds, defaultSnapshotSec),
	)
}

func (f *FleetConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("fleet.profiles_dir", &f.ProfilesDir, defaultProfilesDir),
	)
	if !keys.has("fleet.hot_reload") {
		f.HotReload = true
	}
}

func (t *ToolsConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("tools.chart_width_px", &t.ChartWidthPx, defaultChartWidth),
		intFieldDefault("tools.chart_height_px", &t.ChartHeightPx, defaultChartHeight),
		stringFieldDefault("tools.candle_interval", &t.CandleInterval, defaultChartIv),
		intFieldDefault("tools.candle_limit", &t.CandleLimit, defaultChartLimit),
	)
}
