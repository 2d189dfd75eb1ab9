package domain

import "time"

// OptionLeg 持有的一条期权腿（数量带符号：正=多头）
type OptionLeg struct {
	Contract OptionContract
	Quantity int
}

// PositionState 仓位管理状态机
type PositionState string

const (
	PositionStateIdle         PositionState = "idle"          // 空闲，可接受新命令
	PositionStateOrderPending PositionState = "order_pending" // 订单已提交，等待首个回报
	PositionStateReconciling  PositionState = "reconciling"   // 收到部分成交，等待收敛
)

// Position 组合仓位。由 PositionManager 独占持有并修改，
// 其他组件只能通过 Snapshot() 拿到拷贝。
type Position struct {
	UnderlyingShares int          // 标的持仓（带符号，负=空头）
	Legs             []OptionLeg  // 期权腿
	PendingOrder     *HedgeOrder  // 在途订单（nil 表示没有）——互斥门
	State            PositionState
	UpdatedAt        time.Time
}

// PositionSnapshot 仓位的不可变拷贝
type PositionSnapshot struct {
	UnderlyingShares int
	Legs             []OptionLeg
	HasPendingOrder  bool
	State            PositionState
	UpdatedAt        time.Time
}

// Snapshot 生成当前仓位的拷贝（深拷贝 legs，调用方可自由持有）
func (p *Position) Snapshot() PositionSnapshot {
	legs := make([]OptionLeg, len(p.Legs))
	copy(legs, p.Legs)
	return PositionSnapshot{
		UnderlyingShares: p.UnderlyingShares,
		Legs:             legs,
		HasPendingOrder:  p.PendingOrder != nil,
		State:            p.State,
		UpdatedAt:        p.UpdatedAt,
	}
}
