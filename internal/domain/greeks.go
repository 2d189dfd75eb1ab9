package domain

import "time"

// Greeks 单个期权（每股口径）的风险敏感度
type Greeks struct {
	ImpliedVol float64 // 反解出的隐含波动率（年化）
	Delta      float64 // 对标的价格的一阶敏感度
	Gamma      float64 // delta 对标的价格的敏感度
	Theta      float64 // 每日时间价值衰减
}

// GreeksSnapshot 一次对冲计算周期的组合 Greeks（已乘合约乘数与带符号数量）。
// 单次消费的消息：被更新覆盖时旧值显式丢弃并记日志。
type GreeksSnapshot struct {
	NetDelta   float64   // 组合净 delta（shares 口径）
	NetGamma   float64   // 组合净 gamma
	NetTheta   float64   // 组合净 theta（每日）
	Spot       float64   // 计算时的标的中间价
	ComputedAt time.Time // 计算完成时间
}

// TradeCommand 对冲交易命令（带符号目标股数）。
// 不可变；在 PositionManager 入口按 TTL 做新鲜度校验。
type TradeCommand struct {
	TargetShares int       // 目标标的持股（带符号），执行时与当前持仓求差得到下单数量
	IssuedAt     time.Time // 命令生成时间
}

// Age 命令已存在的时长
func (c TradeCommand) Age(now time.Time) time.Duration {
	return now.Sub(c.IssuedAt)
}

// IsStale 检查命令是否超过 TTL
func (c TradeCommand) IsStale(now time.Time, ttl time.Duration) bool {
	return c.Age(now) > ttl
}
