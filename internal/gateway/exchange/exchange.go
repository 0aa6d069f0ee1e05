package exchange

import (
	"context"
	"time"
)

// AccountState 实盘账户对账结果。
type AccountState struct {
	Balance   float64
	Available float64
	UpdatedAt time.Time
}

// RemotePosition 交易所侧的持仓风险信息。
type RemotePosition struct {
	Symbol           string
	Side             string // long/short
	EntryPrice       float64
	Quantity         float64
	Leverage         int
	UnrealizedPnL    float64
	LiquidationPrice float64
}

// Gateway 实盘模式下的交易所账户网关。paper 模式不经过这里。
// 凭证按机器人隔离：一个 Gateway 实例绑定一个机器人的 key。
type Gateway interface {
	AccountState(ctx context.Context) (AccountState, error)
	OpenPositions(ctx context.Context) ([]RemotePosition, error)
}

// Factory 按凭证创建 Gateway。凭证不完整时返回错误。
type Factory func(apiKey, apiSecret string) (Gateway, error)
