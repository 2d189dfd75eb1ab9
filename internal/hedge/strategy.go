package hedge

import (
	"math"
	"time"

	"github.com/betbot/hedgebot/internal/domain"
)

// DeadBandStrategy 死区对冲：|净 delta| 超过阈值才动手，
// 目标是把净 delta 打回最接近 0 的整数股。
type DeadBandStrategy struct {
	Threshold float64 // 净 delta 死区（单位：股）
}

// Evaluate 根据净 delta 和当前持股决定目标持股。
// 死区内返回 (zero, false) 表示不需要交易。
func (s *DeadBandStrategy) Evaluate(netDelta float64, shares int) (domain.TradeCommand, bool) {
	if math.Abs(netDelta) <= s.Threshold {
		return domain.TradeCommand{}, false
	}
	// trade = -round(netDelta)，四舍五入远离零
	trade := -int(math.Round(netDelta))
	if trade == 0 {
		return domain.TradeCommand{}, false
	}
	return domain.TradeCommand{
		TargetShares: shares + trade,
		IssuedAt:     time.Now(),
	}, true
}
