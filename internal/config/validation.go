package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.AI.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.History.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AIConfig) validate() error {
	models := a.EnabledModels()
	if len(models) == 0 {
		return fmt.Errorf("ai.models requires at least one enabled model")
	}
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return fmt.Errorf("ai.models contains entry without id (model=%s)", m.Model)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("ai.models duplicate id: %s", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("ai.models.%s missing model", id)
		}
		if strings.TrimSpace(m.Provider) == "" {
			return fmt.Errorf("ai.models.%s missing provider", id)
		}
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if strings.TrimSpace(s.TurnInterval) == "" {
		return fmt.Errorf("scheduler.turn_interval cannot be empty")
	}
	if strings.TrimSpace(s.RefreshInterval) == "" {
		return fmt.Errorf("scheduler.refresh_interval cannot be empty")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be > 0")
	}
	if t.PaperFeeRate < 0 || t.PaperFeeRate >= 1 {
		return fmt.Errorf("trading.paper_fee_rate must be in [0,1)")
	}
	if t.RealFeeRate < 0 || t.RealFeeRate >= 1 {
		return fmt.Errorf("trading.real_fee_rate must be in [0,1)")
	}
	if t.MaxMarginRatio <= 0 || t.MaxMarginRatio > 1 {
		return fmt.Errorf("trading.max_margin_ratio must be in (0,1]")
	}
	return nil
}

func (h *HistoryConfig) validate() error {
	if h.KeepRecent < 1 {
		return fmt.Errorf("history.keep_recent must be >= 1")
	}
	if h.MinBatch < 1 {
		return fmt.Errorf("history.min_batch must be >= 1")
	}
	return nil
}
