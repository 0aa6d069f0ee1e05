package fleethttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fleet/internal/fleet"
	"fleet/internal/market"
	"fleet/internal/scheduler"
	"fleet/internal/store/decisionlog"
	"fleet/internal/store/gormstore"
)

type handlers struct {
	registry *scheduler.Registry
	commands *scheduler.Scheduler
	store    *gormstore.GormStore
	logs     *decisionlog.Store
	market   *market.Cache
	symbols  []string
}

func (h *handlers) register(g *gin.RouterGroup) {
	g.GET("/bots", h.listBots)
	g.GET("/bots/:id", h.getBot)
	g.GET("/bots/:id/trades", h.getTrades)
	g.GET("/bots/:id/positions/closed", h.getClosedPositions)
	g.GET("/bots/:id/decisions", h.getDecisions)
	g.GET("/bots/:id/equity", h.getEquityCurve)
	g.POST("/bots/:id/pause", h.pauseBot)
	g.POST("/bots/:id/resume", h.resumeBot)
	g.POST("/bots/:id/turn", h.forceTurn)
	g.POST("/bots/:id/close", h.closePosition)
	g.POST("/bots/:id/reset", h.resetBot)
	g.GET("/market", h.getMarket)
}

// botSummary 列表行。余额/净值是尽力而为的读：回合进行中可能读到中间值。
type botSummary struct {
	ID          string  `json:"id"`
	Owner       string  `json:"owner"`
	Name        string  `json:"name"`
	Mode        string  `json:"mode"`
	Paused      bool    `json:"paused"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	MarginInUse float64 `json:"margin_in_use"`
	Positions   int     `json:"open_positions"`
	TotalTrades int     `json:"total_trades"`
	WinRate     float64 `json:"win_rate"`
	LastTurnAt  string  `json:"last_turn_at,omitempty"`
}

func summarize(b *fleet.Bot) botSummary {
	s := botSummary{
		ID:          b.ID,
		Owner:       b.OwnerID,
		Name:        b.Name,
		Mode:        string(b.Mode),
		Paused:      b.Paused,
		Balance:     b.Balance,
		Equity:      b.Equity(),
		MarginInUse: b.MarginInUse(),
		Positions:   len(b.Positions),
		TotalTrades: b.TotalTrades,
		WinRate:     b.WinRate,
	}
	if !b.LastTurnAt.IsZero() {
		s.LastTurnAt = b.LastTurnAt.Format(time.RFC3339)
	}
	return s
}

func (h *handlers) listBots(c *gin.Context) {
	owner := strings.TrimSpace(c.Query("owner"))
	out := make([]botSummary, 0)
	for _, b := range h.registry.All() {
		if owner != "" && b.OwnerID != owner {
			continue
		}
		out = append(out, summarize(b))
	}
	c.JSON(http.StatusOK, gin.H{"bots": out})
}

func (h *handlers) getBot(c *gin.Context) {
	bot, ok := h.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知机器人"})
		return
	}
	now := time.Now()
	cooldowns := make(map[string]string)
	for sym := range bot.Cooldowns {
		if remaining := bot.CooldownRemaining(sym, now); remaining > 0 {
			cooldowns[sym] = remaining.Round(time.Second).String()
		}
	}
	resp := gin.H{
		"bot":       summarize(bot),
		"prompt":    bot.Prompt,
		"provider":  bot.ProviderID,
		"symbols":   bot.PermittedSymbols(h.symbols),
		"positions": bot.Positions,
		"cooldowns": cooldowns,
	}
	if bot.Summary != nil {
		resp["summary"] = gin.H{
			"narrative": bot.Summary.Narrative,
			"count":     bot.Summary.Count,
			"from":      bot.Summary.From.Format(time.RFC3339),
			"to":        bot.Summary.To.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) getTrades(c *gin.Context) {
	trades, err := h.store.RecentTrades(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (h *handlers) getClosedPositions(c *gin.Context) {
	positions, err := h.store.ClosedPositions(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (h *handlers) getDecisions(c *gin.Context) {
	entries, err := h.logs.Recent(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": entries})
}

func (h *handlers) getEquityCurve(c *gin.Context) {
	points, err := h.store.EquityCurve(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

func (h *handlers) pauseBot(c *gin.Context) {
	h.command(c, func() error { return h.commands.Pause(c.Request.Context(), c.Param("id")) })
}

func (h *handlers) resumeBot(c *gin.Context) {
	h.command(c, func() error { return h.commands.Resume(c.Request.Context(), c.Param("id")) })
}

func (h *handlers) forceTurn(c *gin.Context) {
	h.command(c, func() error { return h.commands.ForceTurn(c.Request.Context(), c.Param("id")) })
}

func (h *handlers) resetBot(c *gin.Context) {
	h.command(c, func() error { return h.commands.Reset(c.Request.Context(), c.Param("id")) })
}

func (h *handlers) closePosition(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	h.command(c, func() error {
		return h.commands.ManualClose(c.Request.Context(), c.Param("id"), strings.ToUpper(req.Symbol))
	})
}

func (h *handlers) command(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) getMarket(c *gin.Context) {
	snap := h.market.Snapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情快照尚未就绪"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fetched_at": snap.FetchedAt.Format(time.RFC3339),
		"tickers":    snap.Filtered(h.symbols),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
