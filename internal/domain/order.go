package domain

import "time"

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"  // 已提交，待回报
	OrderStatusPartial  OrderStatus = "partial"  // 部分成交
	OrderStatusFilled   OrderStatus = "filled"   // 全部成交
	OrderStatusCanceled OrderStatus = "canceled" // 已取消
	OrderStatusRejected OrderStatus = "rejected" // 被拒绝
)

// HedgeOrder 一笔在途的对冲订单（下单即带符号：正=买，负=卖）。
// 跨零（多翻空）也是一笔订单，由券商原子处理。
type HedgeOrder struct {
	ClientOrderID string      // 本地生成的幂等 ID（uuid）
	BrokerOrderID string      // 券商回报的订单 ID
	InstrumentID  string      // 标的 symbol
	SignedQty     int         // 带符号目标数量
	FilledQty     int         // 已成交数量（绝对值累计）
	AvgFillPrice  float64     // 平均成交价
	Status        OrderStatus // 当前状态
	SubmittedAt   time.Time   // 提交时间
}

// Side 根据带符号数量推导方向
func (o *HedgeOrder) Side() Side {
	if o.SignedQty < 0 {
		return SideSell
	}
	return SideBuy
}

// Remaining 剩余未成交数量（绝对值）
func (o *HedgeOrder) Remaining() int {
	abs := o.SignedQty
	if abs < 0 {
		abs = -abs
	}
	r := abs - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// IsTerminal 检查是否为最终状态
func (o *HedgeOrder) IsTerminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCanceled || o.Status == OrderStatusRejected
}

// FillEventType 成交回报类型
type FillEventType string

const (
	FillEventFill        FillEventType = "fill"
	FillEventPartialFill FillEventType = "partial_fill"
	FillEventCanceled    FillEventType = "canceled"
	FillEventRejected    FillEventType = "rejected"
)

// FillEvent 券商推送的成交/终态回报。
// CumFilledQty 为该订单的累计成交量：重复回报按累计量做幂等合并。
type FillEvent struct {
	OrderID      string        // 券商订单 ID
	InstrumentID string        // 标的 symbol
	Type         FillEventType // 回报类型
	Side         Side          // 成交方向
	CumFilledQty int           // 累计成交数量（绝对值）
	FillPrice    float64       // 平均成交价
	Timestamp    time.Time     // 回报时间
}
