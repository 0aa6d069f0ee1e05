// Package broadcast 把车队事件推送给 WebSocket 订阅方（按 owner 过滤）。
package broadcast

import "time"

const (
	EventTurnStarted    = "turn_started"
	EventTurnCompleted  = "turn_completed"
	EventTradeExecuted  = "trade_executed"
	EventPositionUpdate = "position_update"
	EventLiquidation    = "liquidation"
	EventSummaryUpdated = "summary_updated"
	EventBotPaused      = "bot_paused"
	EventBotResumed     = "bot_resumed"
)

// Event 一条推送消息。OwnerID 为空表示广播给所有订阅方。
type Event struct {
	Type    string      `json:"type"`
	OwnerID string      `json:"owner_id,omitempty"`
	BotID   string      `json:"bot_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	At      time.Time   `json:"at"`
}

// Broadcaster 事件发布侧。实现不得阻塞调用方。
type Broadcaster interface {
	Publish(event Event)
}

// Nop 静默实现，未启用 WebSocket 时使用。
type Nop struct{}

func (Nop) Publish(Event) {}
