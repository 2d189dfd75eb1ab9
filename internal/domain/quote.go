package domain

import "time"

// Quote 单个标的的瞬时报价（每个 tick 替换，不落盘）
type Quote struct {
	InstrumentID string    // 标的/合约代码（股票 symbol 或 OCC 期权代码）
	Bid          float64   // 买一价
	Ask          float64   // 卖一价
	Timestamp    time.Time // 交易所时间戳
}

// Mid 中间价。bid/ask 任一非正时返回 0（视为无效报价）。
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// Spread 买卖价差
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// IsValid 检查报价是否可用（双边有价且不倒挂）
func (q Quote) IsValid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}
