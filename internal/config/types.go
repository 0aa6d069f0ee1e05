package config

import "strings"

// Config 是 fleet 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Market    MarketConfig    `toml:"market"`
	AI        AIConfig        `toml:"ai"`
	Trading   TradingConfig   `toml:"trading"`
	History   HistoryConfig   `toml:"history"`
	Store     StoreConfig     `toml:"store"`
	Fleet     FleetConfig     `toml:"fleet"`
	Tools     ToolsConfig     `toml:"tools"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
	LLMLog   string `toml:"llm_log_path"`
	LLMDump  bool   `toml:"llm_dump_payload"`
}

// SchedulerConfig 控制两类独立节拍：turn（完整决策轮）与 refresh（持仓刷新）。
type SchedulerConfig struct {
	TurnInterval       string `toml:"turn_interval"`
	RefreshInterval    string `toml:"refresh_interval"`
	TurnTimeoutSeconds int    `toml:"turn_timeout_seconds"`
}

type MarketConfig struct {
	Name               string   `toml:"name"`
	RESTBaseURL        string   `toml:"rest_base_url"`
	Symbols            []string `toml:"symbols"`
	HTTPTimeoutSeconds int      `toml:"http_timeout_seconds"`
}

type AIConfig struct {
	Models                 []ModelConfig `toml:"models"`
	DecisionTimeoutSeconds int           `toml:"decision_timeout_seconds"`
	ToolTimeoutSeconds     int           `toml:"tool_timeout_seconds"`
	MaxIterations          int           `toml:"max_iterations"`
	SummaryTimeoutSeconds  int           `toml:"summary_timeout_seconds"`
}

type ModelConfig struct {
	ID       string            `toml:"id"`
	Provider string            `toml:"provider"`
	APIURL   string            `toml:"api_url"`
	APIKey   string            `toml:"api_key"`
	Model    string            `toml:"model"`
	Enabled  bool              `toml:"enabled"`
	Headers  map[string]string `toml:"headers"`
	Vision   bool              `toml:"supports_vision"`
}

// TradingConfig 描述执行器的风控护栏与费率。
// 费率按模式区分：paper 为平仓时一次性收取的往返费率，real 为交易所风格费率。
type TradingConfig struct {
	InitialBalance    float64 `toml:"initial_balance"`
	PaperFeeRate      float64 `toml:"paper_fee_rate"`
	RealFeeRate       float64 `toml:"real_fee_rate"`
	MinPositionSize   float64 `toml:"min_position_size"`
	MaxLeverageMajor  int     `toml:"max_leverage_major"`
	MaxLeverageAlt    int     `toml:"max_leverage_alt"`
	CooldownSeconds   int     `toml:"cooldown_seconds"`
	MaxMarginRatio    float64 `toml:"max_margin_ratio"`
	RecentTradesLimit int     `toml:"recent_trades_limit"`
}

type HistoryConfig struct {
	TokenBudget   int `toml:"token_budget"`
	KeepRecent    int `toml:"keep_recent"`
	MinBatch      int `toml:"min_batch"`
	NarrativeMax  int `toml:"narrative_max_chars"`
	PromptEntries int `toml:"prompt_entries"`
}

type StoreConfig struct {
	Path                    string `toml:"path"`
	DecisionLogPath         string `toml:"decision_log_path"`
	SnapshotIntervalSeconds int    `toml:"snapshot_interval_seconds"`
}

// FleetConfig 指定机器人 profile 目录（每个 owner 一个 YAML 文件）。
type FleetConfig struct {
	ProfilesDir string `toml:"profiles_dir"`
	HotReload   bool   `toml:"hot_reload"`
}

type ToolsConfig struct {
	ChartEnabled   bool   `toml:"chart_enabled"`
	ChartWidthPx   int    `toml:"chart_width_px"`
	ChartHeightPx  int    `toml:"chart_height_px"`
	CandleInterval string `toml:"candle_interval"`
	CandleLimit    int    `toml:"candle_limit"`
}

// EnabledModels 返回启用的模型配置（保持声明顺序）。
func (a AIConfig) EnabledModels() []ModelConfig {
	out := make([]ModelConfig, 0, len(a.Models))
	for _, m := range a.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// IsMajor 判断是否主流币（BTC/ETH），用于杠杆上限分档。
func IsMajor(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.HasPrefix(s, "BTC") || strings.HasPrefix(s, "ETH")
}

// MaxLeverageFor 返回某 symbol 的杠杆上限。
func (t TradingConfig) MaxLeverageFor(symbol string) int {
	if IsMajor(symbol) {
		return t.MaxLeverageMajor
	}
	return t.MaxLeverageAlt
}

// FeeRateFor 返回指定交易模式的平仓费率。
func (t TradingConfig) FeeRateFor(mode string) float64 {
	if strings.EqualFold(strings.TrimSpace(mode), "real") {
		return t.RealFeeRate
	}
	return t.PaperFeeRate
}
