package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	fltcfg "fleet/internal/config"
	"fleet/internal/gateway/provider"
	"fleet/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFeed struct{}

func (stubFeed) FetchTickers(context.Context) ([]market.Ticker, error) {
	return []market.Ticker{{Symbol: "BTCUSDT", Price: 69500}}, nil
}

func (stubFeed) FetchCandles(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, nil
}

type stubProvider struct{ id string }

func (p stubProvider) ID() string           { return p.id }
func (p stubProvider) SupportsVision() bool { return false }

func (p stubProvider) Call(context.Context, provider.ChatPayload) (string, error) {
	return `[{"action":"hold"}]`, nil
}

func testConfig(t *testing.T) *fltcfg.Config {
	t.Helper()
	dir := t.TempDir()
	profilesDir := filepath.Join(dir, "bots")
	require.NoError(t, os.MkdirAll(profilesDir, 0o755))
	profile := `owner: alice
bots:
  - id: alice-trend
    name: 趋势
    mode: paper
    prompt: 做趋势
`
	require.NoError(t, os.WriteFile(filepath.Join(profilesDir, "alice.yaml"), []byte(profile), 0o644))

	return &fltcfg.Config{
		App:       fltcfg.AppConfig{LogLevel: "error", HTTPAddr: ":0"},
		Scheduler: fltcfg.SchedulerConfig{TurnInterval: "3m", RefreshInterval: "15s", TurnTimeoutSeconds: 120},
		Market:    fltcfg.MarketConfig{Symbols: []string{"BTCUSDT"}},
		AI:        fltcfg.AIConfig{DecisionTimeoutSeconds: 45, ToolTimeoutSeconds: 8, MaxIterations: 3, SummaryTimeoutSeconds: 60},
		Trading: fltcfg.TradingConfig{
			InitialBalance: 10000, PaperFeeRate: 0.03, MinPositionSize: 100,
			MaxLeverageMajor: 50, MaxLeverageAlt: 20, CooldownSeconds: 1800,
			MaxMarginRatio: 1.0, RecentTradesLimit: 10,
		},
		History: fltcfg.HistoryConfig{TokenBudget: 6000, KeepRecent: 15, MinBatch: 10, NarrativeMax: 4000, PromptEntries: 5},
		Store: fltcfg.StoreConfig{
			Path:            filepath.Join(dir, "fleet.db"),
			DecisionLogPath: filepath.Join(dir, "decisions.db"),
		},
		Fleet: fltcfg.FleetConfig{ProfilesDir: profilesDir},
		Tools: fltcfg.ToolsConfig{CandleInterval: "1h", CandleLimit: 120},
	}
}

func withTestOverrides() AppBuilderOption {
	return func(b *AppBuilder) {
		b.marketFn = func(fltcfg.MarketConfig) (*market.Cache, market.Feed) {
			feed := stubFeed{}
			return market.NewCache(feed), feed
		}
		b.providersFn = func(fltcfg.AIConfig) *provider.Registry {
			return provider.NewRegistry([]provider.ModelProvider{stubProvider{id: "stub"}})
		}
	}
}

func TestBuildWiresFleetFromProfiles(t *testing.T) {
	cfg := testConfig(t)
	b := NewAppBuilder(cfg, withTestOverrides())

	a, err := b.Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.scheduler)
	require.NotNil(t, a.httpSrv)
	require.NotNil(t, a.gormStore)
	require.NotNil(t, a.logStore)
}

func TestBuildFailsWithoutProviders(t *testing.T) {
	cfg := testConfig(t)
	b := NewAppBuilder(cfg, func(b *AppBuilder) {
		b.marketFn = func(fltcfg.MarketConfig) (*market.Cache, market.Feed) {
			feed := stubFeed{}
			return market.NewCache(feed), feed
		}
		b.providersFn = func(fltcfg.AIConfig) *provider.Registry {
			return provider.NewRegistry(nil)
		}
	})

	_, err := b.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "模型")
}

func TestBuildFailsOnMissingProfilesDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fleet.ProfilesDir = filepath.Join(t.TempDir(), "missing")
	b := NewAppBuilder(cfg, withTestOverrides())

	_, err := b.Build(context.Background())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	b := NewAppBuilder(cfg, withTestOverrides())

	a, err := b.Build(context.Background())
	require.NoError(t, err)
	a.Close()
	a.Close()
}
