package pricing

import (
	"github.com/betbot/hedgebot/internal/domain"
)

// Engine 无状态定价引擎：反解隐含波动率 + 有限差分 Greeks。
//
// 两套步数：IV 反解每次迭代都要建树，用较低步数换延迟；
// 最终 Greeks 用较高步数换精度（对齐原始参数：IV 反解收敛后再精算）。
// 整个引擎无共享可变状态，HedgeCalculator 可以对每条腿并发调用。
type Engine struct {
	IVSteps     int // IV 反解用的树步数
	GreeksSteps int // Greeks 精算用的树步数
}

// NewEngine 创建定价引擎。steps <= 0 时用默认 100。
func NewEngine(ivSteps, greeksSteps int) *Engine {
	if ivSteps <= 0 {
		ivSteps = 100
	}
	if greeksSteps <= 0 {
		greeksSteps = 100
	}
	return &Engine{IVSteps: ivSteps, GreeksSteps: greeksSteps}
}

const daysPerYear = 365.0

// PriceAndGreeks 对单个合约：从观测市场价反解 IV，再在该 IV 下
// 用有限差分推 delta/gamma/theta。
//
//   - delta/gamma：spot 上下 bump 的中心差分
//   - theta：到期时间前移一天的前向差分（每日口径）
//
// 反解失败返回 *PricingError，调用方应中止本周期（不得发布部分 Greeks）。
func (e *Engine) PriceAndGreeks(contract domain.OptionContract, spot, observedPrice, riskFreeRate, dividendYield float64, daysToExpiry int) (domain.Greeks, error) {
	symbol := contract.Symbol()
	if spot <= 0 {
		return domain.Greeks{}, &PricingError{Symbol: symbol, Reason: "标的价格无效"}
	}

	tYears := float64(daysToExpiry) / daysPerYear

	iv, err := SolveImpliedVol(contract.Right, observedPrice, spot, contract.Strike, riskFreeRate, dividendYield, tYears, e.IVSteps, symbol)
	if err != nil {
		return domain.Greeks{}, err
	}

	price := func(s, t float64) float64 {
		return PriceAmerican(contract.Right, s, contract.Strike, iv, riskFreeRate, dividendYield, t, e.GreeksSteps)
	}

	// spot bump：0.5%，太小会被树的离散噪声淹没
	ds := spot * 0.005
	pUp := price(spot+ds, tYears)
	pMid := price(spot, tYears)
	pDown := price(spot-ds, tYears)

	delta := (pUp - pDown) / (2 * ds)
	gamma := (pUp - 2*pMid + pDown) / (ds * ds)

	// theta：往前走一天，期权价值的变化（多头通常为负）
	theta := 0.0
	if tYears > 1.0/daysPerYear {
		theta = price(spot, tYears-1.0/daysPerYear) - pMid
	}

	return domain.Greeks{
		ImpliedVol: iv,
		Delta:      delta,
		Gamma:      gamma,
		Theta:      theta,
	}, nil
}
