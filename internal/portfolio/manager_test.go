package portfolio

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/ports"
	"github.com/betbot/hedgebot/internal/risk"
)

type fakeTransport struct {
	orders    []domain.HedgeOrder
	cancels   int
	submitErr error
}

func (f *fakeTransport) SubmitOrder(ctx context.Context, o *domain.HedgeOrder) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.orders = append(f.orders, *o)
	return fmt.Sprintf("brk-%d", len(f.orders)), nil
}

func (f *fakeTransport) CancelOpenOrders(ctx context.Context) error {
	f.cancels++
	return nil
}

func (f *fakeTransport) OnFill(h ports.FillHandler) {}

type fakeJournal struct {
	fills []domain.FillEvent
	pnls  []decimal.Decimal
}

func (f *fakeJournal) RecordFill(ev domain.FillEvent, pnl decimal.Decimal) error {
	f.fills = append(f.fills, ev)
	f.pnls = append(f.pnls, pnl)
	return nil
}

func (f *fakeJournal) Close() error { return nil }

func newTestManager(tr *fakeTransport) (*Manager, *fakeJournal, *risk.CircuitBreaker) {
	j := &fakeJournal{}
	cb := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveFailures: 3})
	m := NewManager(Config{
		UnderlyingSymbol: "AAPL",
		CommandTTL:       5 * time.Second,
		OrderTimeout:     30 * time.Second,
	}, tr, j, cb)
	return m, j, cb
}

func cmd(target int) domain.TradeCommand {
	return domain.TradeCommand{TargetShares: target, IssuedAt: time.Now()}
}

func TestCommandSubmitsSignedOrder(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(10, 200, nil)

	m.handleCommand(context.Background(), cmd(-15))

	require.Len(t, tr.orders, 1)
	assert.Equal(t, -25, tr.orders[0].SignedQty)
	assert.Equal(t, "AAPL", tr.orders[0].InstrumentID)
	assert.NotEmpty(t, tr.orders[0].ClientOrderID)

	snap := m.Snapshot()
	assert.Equal(t, domain.PositionStateOrderPending, snap.State)
	assert.True(t, snap.HasPendingOrder)
}

func TestCrossZeroIsSingleOrder(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(50, 200, nil)

	// 多 50 翻到空 150：一笔 -200，不拆两腿
	m.handleCommand(context.Background(), cmd(-150))

	require.Len(t, tr.orders, 1)
	assert.Equal(t, -200, tr.orders[0].SignedQty)
}

func TestStaleCommandDropped(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	stale := domain.TradeCommand{TargetShares: 100, IssuedAt: time.Now().Add(-6 * time.Second)}
	m.handleCommand(context.Background(), stale)

	assert.Empty(t, tr.orders)
	assert.Equal(t, domain.PositionStateIdle, m.Snapshot().State)
}

func TestPendingOrderExcludesNewCommand(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	m.handleCommand(context.Background(), cmd(100))
	require.Len(t, tr.orders, 1)

	// 在途订单未终结：新命令被丢弃，不排队
	m.handleCommand(context.Background(), cmd(-50))
	assert.Len(t, tr.orders, 1)
}

func TestNoopWhenAlreadyAtTarget(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(30, 200, nil)

	m.handleCommand(context.Background(), cmd(30))
	assert.Empty(t, tr.orders)
}

func TestFillLifecycleAndIdempotentMerge(t *testing.T) {
	tr := &fakeTransport{}
	m, j, _ := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	m.handleCommand(context.Background(), cmd(100))

	// 部分成交 60
	m.handleFill(domain.FillEvent{
		OrderID: "brk-1", InstrumentID: "AAPL", Type: domain.FillEventPartialFill,
		Side: domain.SideBuy, CumFilledQty: 60, FillPrice: 200.10, Timestamp: time.Now(),
	})
	snap := m.Snapshot()
	assert.Equal(t, 60, snap.UnderlyingShares)
	assert.Equal(t, domain.PositionStateReconciling, snap.State)

	// 重复推送同一累计量：不能重复加仓
	m.handleFill(domain.FillEvent{
		OrderID: "brk-1", InstrumentID: "AAPL", Type: domain.FillEventPartialFill,
		Side: domain.SideBuy, CumFilledQty: 60, FillPrice: 200.10, Timestamp: time.Now(),
	})
	assert.Equal(t, 60, m.Snapshot().UnderlyingShares)

	// 终态：累计 100
	m.handleFill(domain.FillEvent{
		OrderID: "brk-1", InstrumentID: "AAPL", Type: domain.FillEventFill,
		Side: domain.SideBuy, CumFilledQty: 100, FillPrice: 200.12, Timestamp: time.Now(),
	})
	snap = m.Snapshot()
	assert.Equal(t, 100, snap.UnderlyingShares)
	assert.Equal(t, domain.PositionStateIdle, snap.State)
	assert.False(t, snap.HasPendingOrder)
	assert.Len(t, j.fills, 2) // 重复回报没有增量，不记流水
}

func TestScalpPnLRealizedOnRoundTrip(t *testing.T) {
	tr := &fakeTransport{}
	m, _, cb := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	// 买 100 @ 200.00
	m.handleCommand(context.Background(), cmd(100))
	m.handleFill(domain.FillEvent{
		OrderID: "brk-1", Type: domain.FillEventFill, Side: domain.SideBuy,
		CumFilledQty: 100, FillPrice: 200.00, Timestamp: time.Now(),
	})

	// 卖 100 @ 200.40：实现 40.00
	m.handleCommand(context.Background(), cmd(0))
	m.handleFill(domain.FillEvent{
		OrderID: "brk-2", Type: domain.FillEventFill, Side: domain.SideSell,
		CumFilledQty: 100, FillPrice: 200.40, Timestamp: time.Now(),
	})

	assert.True(t, m.TotalRealizedPnL().Equal(decimal.RequireFromString("40")),
		"got %s", m.TotalRealizedPnL())
	assert.Equal(t, int64(4000), cb.DailyPnLCents())
}

func TestOrphanFillIgnored(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	m.handleFill(domain.FillEvent{
		OrderID: "unknown", Type: domain.FillEventFill, Side: domain.SideBuy,
		CumFilledQty: 100, FillPrice: 200, Timestamp: time.Now(),
	})
	assert.Equal(t, 0, m.Snapshot().UnderlyingShares)
}

func TestRejectedOrderCountsAsFailure(t *testing.T) {
	tr := &fakeTransport{}
	m, _, cb := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	// 连续三次被拒触发熔断
	for i := 1; i <= 3; i++ {
		m.handleCommand(context.Background(), cmd(100*i))
		m.handleFill(domain.FillEvent{
			OrderID: fmt.Sprintf("brk-%d", i), Type: domain.FillEventRejected,
			Side: domain.SideBuy, CumFilledQty: 0, Timestamp: time.Now(),
		})
	}

	snap := m.Snapshot()
	assert.Equal(t, domain.PositionStateIdle, snap.State)
	assert.False(t, snap.HasPendingOrder)
	assert.Equal(t, 0, snap.UnderlyingShares)
	assert.ErrorIs(t, cb.AllowTrading(), risk.ErrCircuitBreakerOpen)
}

func TestSubmitFailureTripsBreakerEventually(t *testing.T) {
	tr := &fakeTransport{submitErr: errors.New("broker down")}
	m, _, cb := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	for i := 0; i < 3; i++ {
		m.handleCommand(context.Background(), cmd(100))
	}
	assert.ErrorIs(t, cb.AllowTrading(), risk.ErrCircuitBreakerOpen)

	// 熔断后命令直接被拦截
	tr.submitErr = nil
	m.handleCommand(context.Background(), cmd(100))
	assert.Empty(t, tr.orders)
}

func TestCanceledOrderKeepsAppliedFills(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	m.handleCommand(context.Background(), cmd(100))
	m.handleFill(domain.FillEvent{
		OrderID: "brk-1", Type: domain.FillEventPartialFill, Side: domain.SideBuy,
		CumFilledQty: 40, FillPrice: 200.05, Timestamp: time.Now(),
	})
	m.handleFill(domain.FillEvent{
		OrderID: "brk-1", Type: domain.FillEventCanceled, Side: domain.SideBuy,
		CumFilledQty: 40, Timestamp: time.Now(),
	})

	snap := m.Snapshot()
	assert.Equal(t, 40, snap.UnderlyingShares)
	assert.Equal(t, domain.PositionStateIdle, snap.State)
}

func TestOrderTimeoutTriggersSingleCancel(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.cfg.OrderTimeout = 10 * time.Millisecond
	m.SetInitialPosition(0, 200, nil)

	m.handleCommand(context.Background(), cmd(100))
	time.Sleep(20 * time.Millisecond)

	m.checkOrderTimeout(context.Background())
	m.checkOrderTimeout(context.Background())
	assert.Equal(t, 1, tr.cancels)
}

func TestLatestCommandWinsViaMailbox(t *testing.T) {
	tr := &fakeTransport{}
	m, _, _ := newTestManager(tr)
	m.SetInitialPosition(0, 200, nil)

	// 执行循环没跟上时，只有最后一条命令会被执行
	m.SubmitCommand(cmd(100))
	m.SubmitCommand(cmd(-30))

	<-m.commands.Ready()
	c, ok := m.commands.Take()
	require.True(t, ok)
	assert.Equal(t, -30, c.TargetShares)

	_, ok = m.commands.Take()
	assert.False(t, ok)
}
