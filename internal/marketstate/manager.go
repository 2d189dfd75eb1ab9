package marketstate

import (
	"sync"
	"time"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/pkg/sigchan"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "marketstate")

// Config MarketState 参数
type Config struct {
	UnderlyingSymbol       string        // 标的 symbol
	CallSymbol             string        // call 腿 OCC 代码
	PutSymbol              string        // put 腿 OCC 代码
	PriceChangeThreshold   float64       // 标的价格变动超过该值触发重算（美元）
	HeartbeatInterval      time.Duration // 距上次 trigger 超过该时长则心跳触发
	SpreadRejectMultiplier float64       // k：spread > k * 滚动均值 时拒绝报价
	SpreadAvgAlpha         float64       // 滚动均值的 EMA 权重（0 时用默认 0.1）
}

// instrumentState 单个标的的过滤状态
type instrumentState struct {
	quote     domain.Quote // 最近一次被接受的报价
	spreadAvg float64      // 价差滚动均值（EMA，只用被接受的报价更新）
	seeded    bool
}

// Snapshot 市场快照的不可变拷贝
type Snapshot struct {
	Underlying domain.Quote
	Call       domain.Quote
	Put        domain.Quote
}

// Complete 三个标的是否都有可用价格
func (s Snapshot) Complete() bool {
	return s.Underlying.Mid() > 0 && s.Call.Mid() > 0 && s.Put.Mid() > 0
}

// Manager 持有各标的最新的「过滤后」报价，并决定何时值得触发一次重算。
//
// 触发合并语义：trigger 用容量 1 的 sigchan，下游尚未消费时新 trigger
// 直接合并（不排队）——消费者醒来后读到的就是最新快照。
type Manager struct {
	mu  sync.RWMutex
	cfg Config

	instruments map[string]*instrumentState

	// trigger 判定状态（只看标的价格）
	lastTriggerPrice float64
	lastTriggerAt    time.Time

	trigger *sigchan.Chan
}

// NewManager 创建 MarketState 管理器
func NewManager(cfg Config) *Manager {
	if cfg.SpreadRejectMultiplier <= 0 {
		cfg.SpreadRejectMultiplier = 1.5
	}
	if cfg.SpreadAvgAlpha <= 0 || cfg.SpreadAvgAlpha >= 1 {
		cfg.SpreadAvgAlpha = 0.1
	}
	m := &Manager{
		cfg:     cfg,
		trigger: sigchan.New(1),
		instruments: map[string]*instrumentState{
			cfg.UnderlyingSymbol: {},
			cfg.CallSymbol:       {},
			cfg.PutSymbol:        {},
		},
	}
	return m
}

// Trigger 返回重算触发信号（供 HedgeCalculator select）
func (m *Manager) Trigger() <-chan struct{} {
	return m.trigger.C()
}

// OnQuote 处理一条新报价：价差过滤 + 乱序丢弃 + 触发判定。
// 实现 ports.QuoteHandler。
func (m *Manager) OnQuote(q domain.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.instruments[q.InstrumentID]
	if !ok {
		return // 不跟踪的标的
	}
	if !q.IsValid() {
		log.Debugf("丢弃无效报价: %s bid=%.4f ask=%.4f", q.InstrumentID, q.Bid, q.Ask)
		return
	}

	// 只认最新：时间戳早于当前已接受报价的一律丢弃
	if !st.quote.Timestamp.IsZero() && q.Timestamp.Before(st.quote.Timestamp) {
		log.Debugf("丢弃乱序报价: %s ts=%s < %s", q.InstrumentID, q.Timestamp.Format(time.RFC3339Nano), st.quote.Timestamp.Format(time.RFC3339Nano))
		return
	}

	// 价差过滤：spread > k * 滚动均值 → 拒绝（不更新价格，也不污染均值）
	spread := q.Spread()
	if st.seeded && spread > m.cfg.SpreadRejectMultiplier*st.spreadAvg {
		log.Warnf("报价价差异常被拒: %s spread=%.4f avg=%.4f k=%.2f ts=%s",
			q.InstrumentID, spread, st.spreadAvg, m.cfg.SpreadRejectMultiplier, q.Timestamp.Format(time.RFC3339))
		return
	}

	// 接受：更新价格和滚动均值
	st.quote = q
	if !st.seeded {
		st.spreadAvg = spread
		st.seeded = true
	} else {
		a := m.cfg.SpreadAvgAlpha
		st.spreadAvg = (1-a)*st.spreadAvg + a*spread
	}

	// 只有标的价格驱动 trigger 判定
	if q.InstrumentID == m.cfg.UnderlyingSymbol {
		m.checkAndTrigger(q)
	}
}

// checkAndTrigger 持锁调用。价格变动超阈值或心跳超时则发 trigger。
func (m *Manager) checkAndTrigger(q domain.Quote) {
	mid := q.Mid()

	// 启动阶段：先记录基准价，不触发
	if m.lastTriggerPrice == 0 {
		m.lastTriggerPrice = mid
		return
	}

	now := time.Now()
	priceMove := mid - m.lastTriggerPrice
	if priceMove < 0 {
		priceMove = -priceMove
	}

	switch {
	case priceMove >= m.cfg.PriceChangeThreshold:
		m.emitTrigger(now, mid)
	case now.Sub(m.lastTriggerAt) > m.cfg.HeartbeatInterval:
		log.Debug("心跳触发重算")
		m.emitTrigger(now, mid)
	}
}

// emitTrigger 持锁调用。快照不完整时跳过（启动阶段期权腿还没有价格）。
func (m *Manager) emitTrigger(now time.Time, mid float64) {
	if !m.snapshotLocked().Complete() {
		log.Warn("市场数据尚不完整，跳过本次 trigger")
		return
	}
	m.trigger.Emit()
	m.lastTriggerAt = now
	m.lastTriggerPrice = mid
}

// Snapshot 返回当前市场快照的拷贝。永不阻塞。
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Underlying: m.instruments[m.cfg.UnderlyingSymbol].quote,
		Call:       m.instruments[m.cfg.CallSymbol].quote,
		Put:        m.instruments[m.cfg.PutSymbol].quote,
	}
}

// SeedFromQuotes 启动时用 REST 快照预热（避免等第一轮推送才有价格）
func (m *Manager) SeedFromQuotes(quotes ...domain.Quote) {
	for _, q := range quotes {
		m.OnQuote(q)
	}
}
