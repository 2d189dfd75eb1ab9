package pricing

import (
	"math"

	"github.com/betbot/hedgebot/internal/domain"
)

// PriceAmerican 用 CRR（Cox-Ross-Rubinstein）二叉树为美式期权定价。
//
// 参数：
//   - spot/strike：标的现价 / 行权价
//   - vol：年化波动率
//   - r/q：无风险利率 / 股息率（连续复利，年化）
//   - tYears：距到期年数
//   - steps：树的步数。步数越多越准，但延迟越高。
//
// 每个节点做提前行权检查：value = max(intrinsic, 贴现后的延续价值)。
// 纯函数，无共享状态，可以被多个 goroutine 并发调用。
func PriceAmerican(right domain.Right, spot, strike, vol, r, q, tYears float64, steps int) float64 {
	if steps <= 0 {
		steps = 100
	}
	if tYears <= 0 {
		return intrinsic(right, spot, strike)
	}

	dt := tYears / float64(steps)
	u := math.Exp(vol * math.Sqrt(dt))
	d := 1 / u
	disc := math.Exp(-r * dt)

	// 风险中性概率（含股息率的 drift）
	p := (math.Exp((r-q)*dt) - d) / (u - d)
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}

	// 到期层的期权价值
	values := make([]float64, steps+1)
	for i := 0; i <= steps; i++ {
		// 节点价格 = spot * u^i * d^(steps-i)
		nodeSpot := spot * math.Pow(u, float64(i)) * math.Pow(d, float64(steps-i))
		values[i] = intrinsic(right, nodeSpot, strike)
	}

	// 逐层回溯，每个节点检查提前行权
	for step := steps - 1; step >= 0; step-- {
		for i := 0; i <= step; i++ {
			cont := disc * (p*values[i+1] + (1-p)*values[i])
			nodeSpot := spot * math.Pow(u, float64(i)) * math.Pow(d, float64(step-i))
			exercise := intrinsic(right, nodeSpot, strike)
			if exercise > cont {
				values[i] = exercise
			} else {
				values[i] = cont
			}
		}
	}

	return values[0]
}

func intrinsic(right domain.Right, spot, strike float64) float64 {
	var v float64
	if right == domain.RightCall {
		v = spot - strike
	} else {
		v = strike - spot
	}
	if v < 0 {
		return 0
	}
	return v
}
