package portfolio

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFifoOpenAndCloseLong(t *testing.T) {
	var b fifoBook

	r := b.Apply(100, d("200.00"))
	assert.True(t, r.IsZero())
	assert.Equal(t, 100, b.NetQty())

	// 201.50 卖出 100：PnL = 1.50 * 100
	r = b.Apply(-100, d("201.50"))
	assert.True(t, r.Equal(d("150")), "got %s", r)
	assert.Equal(t, 0, b.NetQty())
}

func TestFifoPartialCloseOldestFirst(t *testing.T) {
	var b fifoBook
	b.Apply(100, d("200.00"))
	b.Apply(50, d("202.00"))

	// 卖 120：先吃 100@200，再吃 20@202
	r := b.Apply(-120, d("203.00"))
	// 100*3 + 20*1 = 320
	assert.True(t, r.Equal(d("320")), "got %s", r)
	assert.Equal(t, 30, b.NetQty())
}

func TestFifoShortSide(t *testing.T) {
	var b fifoBook
	b.Apply(-80, d("200.00"))

	// 198 买回 80：PnL = 2 * 80
	r := b.Apply(80, d("198.00"))
	assert.True(t, r.Equal(d("160")), "got %s", r)
	assert.Equal(t, 0, b.NetQty())
}

func TestFifoCrossZeroRealizesAndFlips(t *testing.T) {
	var b fifoBook
	b.Apply(50, d("200.00"))

	// 一笔卖 200：平掉 50 股多头，剩 150 股开空
	r := b.Apply(-200, d("201.00"))
	assert.True(t, r.Equal(d("50")), "got %s", r)
	assert.Equal(t, -150, b.NetQty())

	// 空头批次的成本是本笔成交价
	r = b.Apply(150, d("200.00"))
	assert.True(t, r.Equal(d("150")), "got %s", r)
	assert.Equal(t, 0, b.NetQty())
}

func TestFifoLossIsNegative(t *testing.T) {
	var b fifoBook
	b.Apply(10, d("200.00"))
	r := b.Apply(-10, d("199.25"))
	assert.True(t, r.Equal(d("-7.5")), "got %s", r)
}

func TestFifoSeed(t *testing.T) {
	var b fifoBook
	b.Apply(10, d("100"))
	b.Seed(-40, d("200.00"))
	assert.Equal(t, -40, b.NetQty())

	r := b.Apply(40, d("199.00"))
	assert.True(t, r.Equal(d("40")), "got %s", r)
}
