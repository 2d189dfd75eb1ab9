package portfolio

import "github.com/shopspring/decimal"

// lot 一批同方向的标的持仓（qty 带符号，同一账本内符号一致）
type lot struct {
	qty   int
	price decimal.Decimal
}

// fifoBook 标的持仓的 FIFO 批次账本，用于刮擦 PnL 的已实现口径。
// 反向成交先按先进先出吃掉存量批次并实现 PnL，吃穿后剩余部分开新方向批次。
type fifoBook struct {
	lots []lot
}

// Apply 记一笔带符号成交（正=买，负=卖），返回本笔实现的 PnL。
func (b *fifoBook) Apply(signedQty int, price decimal.Decimal) decimal.Decimal {
	realized := decimal.Zero
	if signedQty == 0 {
		return realized
	}

	remaining := signedQty
	for remaining != 0 && len(b.lots) > 0 && opposite(b.lots[0].qty, remaining) {
		head := &b.lots[0]
		matched := min(abs(head.qty), abs(remaining))

		// 多头批次被卖出：PnL = (卖价 - 成本) * 量
		// 空头批次被买回：PnL = (成本 - 买价) * 量
		m := decimal.NewFromInt(int64(matched))
		if head.qty > 0 {
			realized = realized.Add(price.Sub(head.price).Mul(m))
		} else {
			realized = realized.Add(head.price.Sub(price).Mul(m))
		}

		if abs(head.qty) == matched {
			b.lots = b.lots[1:]
		} else if head.qty > 0 {
			head.qty -= matched
		} else {
			head.qty += matched
		}
		if remaining > 0 {
			remaining -= matched
		} else {
			remaining += matched
		}
	}

	if remaining != 0 {
		b.lots = append(b.lots, lot{qty: remaining, price: price})
	}
	return realized
}

// NetQty 账本净持仓（带符号）
func (b *fifoBook) NetQty() int {
	total := 0
	for _, l := range b.lots {
		total += l.qty
	}
	return total
}

// Seed 用一批初始持仓重置账本（resume 时以当时市价作为成本基准）
func (b *fifoBook) Seed(signedQty int, price decimal.Decimal) {
	b.lots = nil
	if signedQty != 0 {
		b.lots = []lot{{qty: signedQty, price: price}}
	}
}

func opposite(a, b int) bool { return (a > 0) != (b > 0) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
