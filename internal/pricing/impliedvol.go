package pricing

import (
	"fmt"
	"math"

	"github.com/betbot/hedgebot/internal/domain"
)

// 隐含波动率求解参数。
// 搜索区间与精度对齐常见做法：二叉树价格在该区间内对 vol 单调递增。
const (
	minVol      = 0.01
	maxVol      = 4.0
	ivTolerance = 1e-4
	ivMaxIter   = 100
	vegaBumpVol = 1e-3 // 数值 vega 的波动率 bump
)

// PricingError 表示一次定价/反解失败。
// 非致命：当前对冲周期中止，下一个 trigger 自然重试。
type PricingError struct {
	Symbol string
	Reason string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("pricing failed for %s: %s", e.Symbol, e.Reason)
}

// SolveImpliedVol 从观测到的期权市场价反解隐含波动率。
//
// 做法：固定 spot/strike/期限后，树价格是 vol 的单调函数，
// 用带区间的二分法求根，并在区间内部用数值 vega 做 Newton 加速。
// 区间内无符号变化或迭代超限时返回 *PricingError。
func SolveImpliedVol(right domain.Right, marketPrice, spot, strike, r, q, tYears float64, steps int, symbol string) (float64, error) {
	if marketPrice <= 0 {
		return 0, &PricingError{Symbol: symbol, Reason: fmt.Sprintf("市场价无效: %.4f", marketPrice)}
	}
	if tYears <= 0 {
		return 0, &PricingError{Symbol: symbol, Reason: "合约已到期"}
	}

	f := func(vol float64) float64 {
		return PriceAmerican(right, spot, strike, vol, r, q, tYears, steps) - marketPrice
	}

	lo, hi := minVol, maxVol
	flo := f(lo)
	fhi := f(hi)

	// 市场价低于最小波动率价格（通常意味着低于内在价值附近）或高于上界价格：无解
	if flo > 0 {
		return 0, &PricingError{Symbol: symbol, Reason: fmt.Sprintf("市场价 %.4f 低于 vol=%.2f 的模型价，无法 bracket", marketPrice, minVol)}
	}
	if fhi < 0 {
		return 0, &PricingError{Symbol: symbol, Reason: fmt.Sprintf("市场价 %.4f 高于 vol=%.2f 的模型价，无法 bracket", marketPrice, maxVol)}
	}

	vol := 0.2 // 初始猜测 20%
	if vol <= lo || vol >= hi {
		vol = (lo + hi) / 2
	}

	for i := 0; i < ivMaxIter; i++ {
		fv := f(vol)
		if math.Abs(fv) < ivTolerance {
			return vol, nil
		}

		// 收缩 bracket
		if fv > 0 {
			hi = vol
		} else {
			lo = vol
		}

		// Newton 步：vega 用中心差分估计
		vega := (f(vol+vegaBumpVol) - f(vol-vegaBumpVol)) / (2 * vegaBumpVol)
		next := vol
		if vega > ivTolerance {
			next = vol - fv/vega
		}

		// Newton 步跳出 bracket 时退回二分
		if next <= lo || next >= hi || math.IsNaN(next) {
			next = (lo + hi) / 2
		}
		vol = next

		if hi-lo < ivTolerance {
			return vol, nil
		}
	}

	return 0, &PricingError{Symbol: symbol, Reason: fmt.Sprintf("%d 次迭代未收敛", ivMaxIter)}
}
