package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/ports"
	"github.com/betbot/hedgebot/internal/risk"
	"github.com/betbot/hedgebot/pkg/sigchan"
)

var log = logrus.WithField("component", "portfolio")

// Config PositionManager 参数
type Config struct {
	UnderlyingSymbol string
	CommandTTL       time.Duration // 对冲命令的新鲜度上限
	OrderTimeout     time.Duration // 在途订单超时后发起撤单
	SubmitTimeout    time.Duration // 单次下单调用超时
}

// Manager 仓位管理器：独占持有 Position，命令与成交回报都在
// 同一个 goroutine 上串行处理，外部只能拿快照。
//
// 命令用最新值信箱：执行没跟上时旧命令被新命令覆盖（记日志），
// 绝不排队执行过期的对冲意图。
type Manager struct {
	cfg       Config
	transport ports.OrderTransport
	journal   ports.TradeJournal
	breaker   *risk.CircuitBreaker

	commands *sigchan.Latest[domain.TradeCommand]
	fills    chan domain.FillEvent

	mu   sync.RWMutex
	pos  domain.Position
	book fifoBook

	cancelRequested bool // 针对当前在途订单是否已发过撤单

	totalRealized decimal.Decimal // 累计已实现刮擦 PnL
}

// NewManager 创建仓位管理器
func NewManager(cfg Config, transport ports.OrderTransport, journal ports.TradeJournal, breaker *risk.CircuitBreaker) *Manager {
	if cfg.CommandTTL <= 0 {
		cfg.CommandTTL = 5 * time.Second
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 30 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	m := &Manager{
		cfg:       cfg,
		transport: transport,
		journal:   journal,
		breaker:   breaker,
		commands:  sigchan.NewLatest[domain.TradeCommand](),
		fills:     make(chan domain.FillEvent, 64),
	}
	m.commands.OnReplace = func(old domain.TradeCommand) {
		log.Warnf("对冲命令被更新覆盖: 目标 %d (生成于 %s)", old.TargetShares, old.IssuedAt.Format(time.RFC3339))
	}
	m.pos.State = domain.PositionStateIdle
	return m
}

// SetInitialPosition 启动时注入初始持仓（init 建仓后或 resume 对账后调用，
// Run 之前）。costBasis 作为存量股票批次的成本基准。
func (m *Manager) SetInitialPosition(shares int, costBasis float64, legs []domain.OptionLeg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos.UnderlyingShares = shares
	m.pos.Legs = make([]domain.OptionLeg, len(legs))
	copy(m.pos.Legs, legs)
	m.pos.State = domain.PositionStateIdle
	m.pos.UpdatedAt = time.Now()
	m.book.Seed(shares, decimal.NewFromFloat(costBasis))
	log.Infof("初始仓位: shares=%d legs=%d costBasis=%.2f", shares, len(legs), costBasis)
}

// Snapshot 返回仓位快照。实现 hedge.PositionView。
func (m *Manager) Snapshot() domain.PositionSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos.Snapshot()
}

// TotalRealizedPnL 累计已实现刮擦 PnL
func (m *Manager) TotalRealizedPnL() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRealized
}

// SubmitCommand 投递对冲命令。实现 hedge.CommandSink。永不阻塞。
func (m *Manager) SubmitCommand(cmd domain.TradeCommand) {
	m.commands.Put(cmd)
}

// OnFill 接收券商成交回报。实现 ports.FillHandler。
func (m *Manager) OnFill(ctx context.Context, ev domain.FillEvent) {
	select {
	case m.fills <- ev:
	case <-ctx.Done():
	}
}

// Run 阻塞运行执行循环，直到 ctx 取消
func (m *Manager) Run(ctx context.Context) {
	log.Info("仓位管理循环启动")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("仓位管理循环退出")
			return
		case ev := <-m.fills:
			// 成交回报优先于命令：先把仓位事实对齐
			m.handleFill(ev)
		case <-m.commands.Ready():
			if cmd, ok := m.commands.Take(); ok {
				m.handleCommand(ctx, cmd)
			}
		case <-ticker.C:
			m.checkOrderTimeout(ctx)
		}
	}
}

// handleCommand 执行一条对冲命令。入口三道闸：TTL、在途互斥、断路器。
func (m *Manager) handleCommand(ctx context.Context, cmd domain.TradeCommand) {
	now := time.Now()
	if cmd.IsStale(now, m.cfg.CommandTTL) {
		log.Warnf("丢弃过期命令: 目标 %d, 已存在 %.1fs (TTL %.1fs)",
			cmd.TargetShares, cmd.Age(now).Seconds(), m.cfg.CommandTTL.Seconds())
		return
	}

	m.mu.RLock()
	pending := m.pos.PendingOrder
	shares := m.pos.UnderlyingShares
	m.mu.RUnlock()

	if pending != nil {
		// 互斥：在途订单未终结前丢弃命令（不排队），下一个 trigger 会重算
		log.Infof("在途订单 %s 未终结，丢弃命令: 目标 %d", pending.ClientOrderID, cmd.TargetShares)
		return
	}

	qty := cmd.TargetShares - shares
	if qty == 0 {
		log.Debug("目标持股与当前一致，无需下单")
		return
	}

	if err := m.breaker.AllowTrading(); err != nil {
		log.Warnf("断路器拦截下单: %v", err)
		return
	}

	// 跨零也是单笔带符号订单，不拆两腿
	order := &domain.HedgeOrder{
		ClientOrderID: uuid.NewString(),
		InstrumentID:  m.cfg.UnderlyingSymbol,
		SignedQty:     qty,
		Status:        domain.OrderStatusPending,
		SubmittedAt:   now,
	}

	subCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	brokerID, err := m.transport.SubmitOrder(subCtx, order)
	cancel()
	if err != nil {
		m.breaker.OnSubmitFailure()
		log.Errorf("下单失败 (%s %d 股): %v", order.Side(), abs(qty), err)
		return
	}
	order.BrokerOrderID = brokerID

	m.mu.Lock()
	m.pos.PendingOrder = order
	m.pos.State = domain.PositionStateOrderPending
	m.pos.UpdatedAt = time.Now()
	m.cancelRequested = false
	m.mu.Unlock()

	log.Infof("对冲订单已提交: %s %d 股 broker=%s (当前 %d -> 目标 %d)",
		order.Side(), abs(qty), brokerID, shares, cmd.TargetShares)
}

// handleFill 按累计成交量幂等合并一条回报，更新仓位与 PnL。
func (m *Manager) handleFill(ev domain.FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.pos.PendingOrder
	if order == nil || ev.OrderID != order.BrokerOrderID {
		log.Warnf("收到无主回报，忽略: order=%s type=%s", ev.OrderID, ev.Type)
		return
	}

	// 增量 = 累计 - 已记；<=0 说明是重复或乱序回报
	delta := ev.CumFilledQty - order.FilledQty
	if delta > 0 {
		signed := delta
		if ev.Side == domain.SideSell {
			signed = -delta
		}
		realized := m.book.Apply(signed, decimal.NewFromFloat(ev.FillPrice))
		m.pos.UnderlyingShares += signed
		order.FilledQty = ev.CumFilledQty
		order.AvgFillPrice = ev.FillPrice
		m.totalRealized = m.totalRealized.Add(realized)
		m.breaker.AddPnLCents(realized.Shift(2).Round(0).IntPart())

		if m.journal != nil {
			if err := m.journal.RecordFill(ev, realized); err != nil {
				log.Errorf("写流水失败: %v", err)
			}
		}
		if !realized.IsZero() {
			log.Infof("实现刮擦 PnL: %s (累计 %s)", realized.StringFixed(2), m.totalRealized.StringFixed(2))
		}
	} else if delta < 0 {
		log.Warnf("回报累计量回退，忽略增量: cum=%d recorded=%d", ev.CumFilledQty, order.FilledQty)
	}

	switch ev.Type {
	case domain.FillEventPartialFill:
		order.Status = domain.OrderStatusPartial
		m.pos.State = domain.PositionStateReconciling
	case domain.FillEventFill:
		order.Status = domain.OrderStatusFilled
		// 走完一整单才算一次成功，连续失败计数在这里清零
		m.breaker.OnSubmitSuccess()
		m.clearPendingLocked("订单全部成交")
	case domain.FillEventCanceled:
		order.Status = domain.OrderStatusCanceled
		if order.Remaining() > 0 {
			log.Warnf("订单撤销时仍有 %d 股未成交，仓位停在部分对冲", order.Remaining())
		}
		m.clearPendingLocked("订单已撤销")
	case domain.FillEventRejected:
		order.Status = domain.OrderStatusRejected
		m.breaker.OnSubmitFailure()
		m.clearPendingLocked("订单被拒绝")
	}
	m.pos.UpdatedAt = time.Now()
}

// clearPendingLocked 持锁调用。清除在途订单并回到 Idle。
func (m *Manager) clearPendingLocked(reason string) {
	log.Infof("%s: shares=%d", reason, m.pos.UnderlyingShares)
	m.pos.PendingOrder = nil
	m.pos.State = domain.PositionStateIdle
	m.cancelRequested = false
}

// checkOrderTimeout 在途订单超时则发起撤单（只发一次，等终态回报收尾）。
func (m *Manager) checkOrderTimeout(ctx context.Context) {
	m.mu.RLock()
	order := m.pos.PendingOrder
	requested := m.cancelRequested
	m.mu.RUnlock()

	if order == nil || requested || time.Since(order.SubmittedAt) <= m.cfg.OrderTimeout {
		return
	}

	log.Errorf("订单 %s 超过 %.0fs 未终结，发起撤单", order.BrokerOrderID, m.cfg.OrderTimeout.Seconds())
	cancelCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	err := m.transport.CancelOpenOrders(cancelCtx)
	cancel()
	if err != nil {
		log.Errorf("撤单失败: %v", err)
		return
	}
	m.mu.Lock()
	m.cancelRequested = true
	m.mu.Unlock()
}
