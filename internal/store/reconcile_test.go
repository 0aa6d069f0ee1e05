package store

import (
	"testing"
	"time"

	"fleet/internal/config/loader"
	"fleet/internal/fleet"
	"fleet/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfiles() []loader.OwnerProfile {
	return []loader.OwnerProfile{
		{
			Owner: "alice",
			Bots: []loader.BotProfile{
				{ID: "alice-trend", Name: "趋势跟随", Prompt: "做趋势", Provider: "m1", Mode: "paper"},
				{ID: "alice-scalp", Name: "短线", Prompt: "做短线", Provider: "m1", Mode: "paper", Symbols: []string{"ETHUSDT"}},
			},
		},
		{
			Owner: "bob",
			Bots: []loader.BotProfile{
				{ID: "bob-real", Name: "实盘", Prompt: "稳健", Provider: "m2", Mode: "real",
					Exchange: loader.ExchangeCredentials{APIKey: "k", APISecret: "s"}},
			},
		},
	}
}

func TestReconcileFreshBotsGetInitialBalance(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	bots, orphans := ReconcileFleet(testProfiles(), nil, 10000, now)

	require.Len(t, bots, 3)
	assert.Empty(t, orphans)
	for _, b := range bots {
		assert.Equal(t, 10000.0, b.Balance)
		assert.Equal(t, 10000.0, b.InitialBalance)
		assert.Empty(t, b.Positions)
		assert.NotNil(t, b.Cooldowns)
	}
	assert.Equal(t, "alice", bots[0].OwnerID)
	assert.Equal(t, fleet.ModeReal, bots[2].Mode)
	assert.Equal(t, "k", bots[2].Exchange.APIKey)
	assert.Equal(t, []string{"ETHUSDT"}, bots[1].Symbols)
}

func TestReconcileRestoresPersistedState(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	openPos := &fleet.Position{
		ID: "pos-1", BotID: "alice-trend", Symbol: "BTCUSDT", Side: fleet.SideLong,
		EntryPrice: 69500, Size: 2000, Leverage: 10, Status: fleet.PositionOpen,
	}
	persisted := map[string]*gormstore.PersistedBot{
		"alice-trend": {
			BotID: "alice-trend", OwnerID: "alice", Mode: "paper",
			Balance: 8200, InitialBalance: 10000,
			TotalTrades: 10, WinningTrades: 6, TotalDecisions: 40,
			Cooldowns: map[string]time.Time{
				"ETHUSDT": now.Add(10 * time.Minute), // 仍在冷却
				"SOLUSDT": now.Add(-time.Minute),     // 已过期，应丢弃
			},
			OpenPositions: []*fleet.Position{openPos},
			Summary:       &fleet.HistorySummary{BotID: "alice-trend", Narrative: "叙事", Count: 30},
		},
	}

	bots, orphans := ReconcileFleet(testProfiles(), persisted, 10000, now)
	require.Len(t, bots, 3)
	assert.Empty(t, orphans)

	b := bots[0]
	require.Equal(t, "alice-trend", b.ID)
	assert.Equal(t, 8200.0, b.Balance)
	assert.Equal(t, 10, b.TotalTrades)
	assert.Equal(t, 0.6, b.WinRate)
	require.Len(t, b.Positions, 1)
	assert.Equal(t, "pos-1", b.Positions[0].ID)
	assert.Contains(t, b.Cooldowns, "ETHUSDT")
	assert.NotContains(t, b.Cooldowns, "SOLUSDT")
	require.NotNil(t, b.Summary)
	assert.Equal(t, 30, b.Summary.Count)
	// 身份字段以 profile 为准
	assert.Equal(t, "趋势跟随", b.Name)
}

func TestReconcileReportsOrphans(t *testing.T) {
	now := time.Now()
	persisted := map[string]*gormstore.PersistedBot{
		"deleted-bot": {BotID: "deleted-bot", Balance: 5000},
	}
	bots, orphans := ReconcileFleet(testProfiles(), persisted, 10000, now)
	require.Len(t, bots, 3)
	assert.Equal(t, []string{"deleted-bot"}, orphans)
}

func TestReconcileIsIdempotent(t *testing.T) {
	now := time.Now()
	persisted := map[string]*gormstore.PersistedBot{
		"alice-trend": {BotID: "alice-trend", Balance: 9000, TotalTrades: 2, WinningTrades: 1},
	}
	first, _ := ReconcileFleet(testProfiles(), persisted, 10000, now)
	second, _ := ReconcileFleet(testProfiles(), persisted, 10000, now)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Balance, second[i].Balance)
		assert.Equal(t, first[i].WinRate, second[i].WinRate)
	}
}

func TestReconcileClosedPositionsNotLoaded(t *testing.T) {
	now := time.Now()
	closed := &fleet.Position{ID: "pos-2", BotID: "alice-trend", Status: fleet.PositionClosed}
	persisted := map[string]*gormstore.PersistedBot{
		"alice-trend": {BotID: "alice-trend", Balance: 9000, OpenPositions: []*fleet.Position{closed}},
	}
	bots, _ := ReconcileFleet(testProfiles(), persisted, 10000, now)
	assert.Empty(t, bots[0].Positions)
}
