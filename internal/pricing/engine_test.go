package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContract(right domain.Right, strike float64) domain.OptionContract {
	return domain.OptionContract{
		Underlying: "PLTR",
		Strike:     strike,
		Expiration: time.Now().AddDate(0, 0, 45),
		Right:      right,
	}
}

// TestImpliedVolRoundTrip 用已知波动率生成模拟市场价，反解后再定价，
// 应该还原出原始价格和波动率。
func TestImpliedVolRoundTrip(t *testing.T) {
	const (
		spot   = 100.0
		strike = 102.0
		r      = 0.045
		q      = 0.01
		days   = 45
		sigma  = 0.35
	)
	tYears := float64(days) / daysPerYear

	for _, right := range []domain.Right{domain.RightCall, domain.RightPut} {
		syntheticPrice := PriceAmerican(right, spot, strike, sigma, r, q, tYears, 100)
		require.Greater(t, syntheticPrice, 0.0)

		iv, err := SolveImpliedVol(right, syntheticPrice, spot, strike, r, q, tYears, 100, "roundtrip")
		require.NoError(t, err, "right=%s", right)
		assert.InDelta(t, sigma, iv, 5e-3, "反解出的 IV 应接近原始 sigma (right=%s)", right)

		repriced := PriceAmerican(right, spot, strike, iv, r, q, tYears, 100)
		assert.InDelta(t, syntheticPrice, repriced, 1e-3, "用解出的 IV 重新定价应还原市场价 (right=%s)", right)
	}
}

func TestSolveImpliedVolNoBracket(t *testing.T) {
	// 市场价低于内在价值：区间内无符号变化，必须报 PricingError
	_, err := SolveImpliedVol(domain.RightCall, 0.5, 100, 50, 0.05, 0, 30.0/daysPerYear, 100, "nobracket")
	require.Error(t, err)

	var perr *PricingError
	require.True(t, errors.As(err, &perr), "错误类型应为 *PricingError，got %T", err)
	assert.Equal(t, "nobracket", perr.Symbol)
}

func TestSolveImpliedVolBadInputs(t *testing.T) {
	_, err := SolveImpliedVol(domain.RightCall, -1, 100, 100, 0.05, 0, 30.0/daysPerYear, 100, "neg")
	assert.Error(t, err, "负市场价应报错")

	_, err = SolveImpliedVol(domain.RightPut, 2.0, 100, 100, 0.05, 0, 0, 100, "expired")
	assert.Error(t, err, "已到期合约应报错")
}

func TestPriceAndGreeksSigns(t *testing.T) {
	e := NewEngine(100, 100)
	spot := 100.0

	// 用合成价格保证可反解
	callPrice := PriceAmerican(domain.RightCall, spot, 100, 0.3, 0.05, 0, 45.0/daysPerYear, 100)
	putPrice := PriceAmerican(domain.RightPut, spot, 100, 0.3, 0.05, 0, 45.0/daysPerYear, 100)

	callGreeks, err := e.PriceAndGreeks(testContract(domain.RightCall, 100), spot, callPrice, 0.05, 0, 45)
	require.NoError(t, err)
	putGreeks, err := e.PriceAndGreeks(testContract(domain.RightPut, 100), spot, putPrice, 0.05, 0, 45)
	require.NoError(t, err)

	// call delta ∈ (0,1)，put delta ∈ (-1,0)
	assert.Greater(t, callGreeks.Delta, 0.0)
	assert.Less(t, callGreeks.Delta, 1.0)
	assert.Less(t, putGreeks.Delta, 0.0)
	assert.Greater(t, putGreeks.Delta, -1.0)

	// 多头期权 gamma 为正，theta（每日衰减）为负
	assert.Greater(t, callGreeks.Gamma, 0.0)
	assert.Greater(t, putGreeks.Gamma, 0.0)
	assert.Less(t, callGreeks.Theta, 0.0)
	assert.Less(t, putGreeks.Theta, 0.0)

	// 平值跨式：call/put delta 大致对消
	assert.InDelta(t, 0.0, callGreeks.Delta+putGreeks.Delta, 0.25)
}

func TestPriceAndGreeksInvalidSpot(t *testing.T) {
	e := NewEngine(100, 100)
	_, err := e.PriceAndGreeks(testContract(domain.RightCall, 100), 0, 5.0, 0.05, 0, 45)
	require.Error(t, err)
}
