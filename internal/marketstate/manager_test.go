package marketstate

import (
	"testing"
	"time"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		UnderlyingSymbol:       "AAPL",
		CallSymbol:             "AAPL250516C00200000",
		PutSymbol:              "AAPL250516P00200000",
		PriceChangeThreshold:   0.05,
		HeartbeatInterval:      time.Hour, // 测试里默认不靠心跳
		SpreadRejectMultiplier: 1.5,
		SpreadAvgAlpha:         0.1,
	}
}

func quote(sym string, bid, ask float64, ts time.Time) domain.Quote {
	return domain.Quote{InstrumentID: sym, Bid: bid, Ask: ask, Timestamp: ts}
}

// seed 给三个标的注入首条报价并消费掉启动阶段可能的 trigger
func seed(m *Manager, t0 time.Time) {
	m.OnQuote(quote("AAPL", 199.95, 200.05, t0))
	m.OnQuote(quote("AAPL250516C00200000", 5.00, 5.10, t0))
	m.OnQuote(quote("AAPL250516P00200000", 4.80, 4.90, t0))
	select {
	case <-m.Trigger():
	default:
	}
}

func TestSpreadFilterRejectsWideQuote(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	// 均值约 0.10，价差 0.50 > 1.5*0.10 应被拒
	m.OnQuote(quote("AAPL250516C00200000", 4.80, 5.30, t0.Add(time.Second)))

	snap := m.Snapshot()
	assert.InDelta(t, 5.05, snap.Call.Mid(), 1e-9, "被拒报价不应更新价格")

	// 正常价差的后续报价仍被接受
	m.OnQuote(quote("AAPL250516C00200000", 5.10, 5.20, t0.Add(2*time.Second)))
	assert.InDelta(t, 5.15, m.Snapshot().Call.Mid(), 1e-9)
}

func TestSpreadFilterRejectedQuoteDoesNotPolluteAverage(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	// 连续塞异常价差：若它们污染均值，后面第二条就会被放进来
	for i := 1; i <= 5; i++ {
		m.OnQuote(quote("AAPL250516C00200000", 4.00, 6.00, t0.Add(time.Duration(i)*time.Second)))
	}
	assert.InDelta(t, 5.05, m.Snapshot().Call.Mid(), 1e-9)
}

func TestOutOfOrderQuoteDropped(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	m.OnQuote(quote("AAPL250516P00200000", 4.90, 5.00, t0.Add(time.Second)))
	require.InDelta(t, 4.95, m.Snapshot().Put.Mid(), 1e-9)

	// 更早时间戳的报价应被丢弃
	m.OnQuote(quote("AAPL250516P00200000", 4.00, 4.10, t0.Add(-time.Second)))
	assert.InDelta(t, 4.95, m.Snapshot().Put.Mid(), 1e-9)
}

func TestInvalidAndUnknownQuotesIgnored(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	m.OnQuote(quote("AAPL", 0, 200.10, t0.Add(time.Second)))      // bid 无效
	m.OnQuote(quote("AAPL", 200.20, 200.10, t0.Add(time.Second))) // 交叉盘
	m.OnQuote(quote("MSFT", 400, 400.10, t0.Add(time.Second)))    // 不跟踪

	assert.InDelta(t, 200.00, m.Snapshot().Underlying.Mid(), 1e-9)
}

func TestPriceMoveTriggers(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	// 变动 0.03 < 0.05，不触发
	m.OnQuote(quote("AAPL", 199.98, 200.08, t0.Add(time.Second)))
	select {
	case <-m.Trigger():
		t.Fatal("阈值内变动不应触发")
	default:
	}

	// 相对基准 200.00 变动 0.08 >= 0.05，触发
	m.OnQuote(quote("AAPL", 200.03, 200.13, t0.Add(2*time.Second)))
	select {
	case <-m.Trigger():
	default:
		t.Fatal("超阈值变动应触发")
	}
}

func TestTriggerBaselineResetsAfterFire(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	m.OnQuote(quote("AAPL", 200.03, 200.13, t0.Add(time.Second))) // 触发，基准变 200.08
	<-m.Trigger()

	// 相对新基准只变动 0.02，不应再触发
	m.OnQuote(quote("AAPL", 200.05, 200.15, t0.Add(2*time.Second)))
	select {
	case <-m.Trigger():
		t.Fatal("基准应已重置")
	default:
	}
}

func TestTriggerCoalescing(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()
	seed(m, t0)

	// 下游未消费时连续多次超阈值变动：只留一个信号，快照是最新的
	m.OnQuote(quote("AAPL", 200.05, 200.15, t0.Add(1*time.Second)))
	m.OnQuote(quote("AAPL", 200.15, 200.25, t0.Add(2*time.Second)))
	m.OnQuote(quote("AAPL", 200.25, 200.35, t0.Add(3*time.Second)))

	<-m.Trigger()
	select {
	case <-m.Trigger():
		t.Fatal("合并后只应有一个待处理信号")
	default:
	}
	assert.InDelta(t, 200.30, m.Snapshot().Underlying.Mid(), 1e-9)
}

func TestHeartbeatTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = time.Millisecond
	m := NewManager(cfg)
	t0 := time.Now()
	seed(m, t0)

	time.Sleep(5 * time.Millisecond)
	// 价格没怎么动，但心跳超时
	m.OnQuote(quote("AAPL", 199.96, 200.06, t0.Add(time.Second)))
	select {
	case <-m.Trigger():
	default:
		t.Fatal("心跳超时应触发")
	}
}

func TestNoTriggerWhileSnapshotIncomplete(t *testing.T) {
	m := NewManager(testConfig())
	t0 := time.Now()

	// 只有标的报价：即使大幅变动也不触发
	m.OnQuote(quote("AAPL", 199.95, 200.05, t0))
	m.OnQuote(quote("AAPL", 201.00, 201.10, t0.Add(time.Second)))
	select {
	case <-m.Trigger():
		t.Fatal("快照不完整不应触发")
	default:
	}
	assert.False(t, m.Snapshot().Complete())
}
