package hedge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/marketstate"
)

var log = logrus.WithField("component", "hedge")

// MarketView 行情侧能力（由 marketstate.Manager 实现）
type MarketView interface {
	Snapshot() marketstate.Snapshot
	Trigger() <-chan struct{}
}

// PositionView 仓位侧只读能力（由 portfolio.Manager 实现）
type PositionView interface {
	Snapshot() domain.PositionSnapshot
}

// CommandSink 对冲命令出口（由 portfolio.Manager 实现）
type CommandSink interface {
	SubmitCommand(cmd domain.TradeCommand)
}

// RateProvider 定价输入的利率与分红
type RateProvider interface {
	RiskFreeRate() float64
	DividendYield() float64
}

// Pricer 单合约定价能力（由 pricing.Engine 实现）
type Pricer interface {
	PriceAndGreeks(contract domain.OptionContract, spot, observedPrice, riskFreeRate, dividendYield float64, daysToExpiry int) (domain.Greeks, error)
}

// Config HedgeCalculator 参数
type Config struct {
	ContractMultiplier int     // 期权合约乘数（美股 100）
	DeadBandThreshold  float64 // 净 delta 死区（股）
}

// Calculator 对冲计算器：被 trigger 唤醒后取市场 + 仓位快照，
// 并发给每条腿算 Greeks，聚合净 delta，经死区策略产出 TradeCommand。
//
// 任何一条腿定价失败则整轮放弃，不会用半新半旧的 Greeks 下单。
type Calculator struct {
	cfg      Config
	market   MarketView
	position PositionView
	engine   Pricer
	rates    RateProvider
	strategy *DeadBandStrategy
	sink     CommandSink

	mu   sync.RWMutex
	last domain.GreeksSnapshot // 最近一次成功计算的结果（状态接口用）
}

// NewCalculator 创建对冲计算器
func NewCalculator(cfg Config, market MarketView, position PositionView,
	engine Pricer, rates RateProvider, sink CommandSink) *Calculator {
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = 100
	}
	return &Calculator{
		cfg:      cfg,
		market:   market,
		position: position,
		engine:   engine,
		rates:    rates,
		strategy: &DeadBandStrategy{Threshold: cfg.DeadBandThreshold},
		sink:     sink,
	}
}

// Run 阻塞运行计算循环，直到 ctx 取消
func (c *Calculator) Run(ctx context.Context) {
	log.Info("对冲计算循环启动")
	for {
		select {
		case <-ctx.Done():
			log.Info("对冲计算循环退出")
			return
		case <-c.market.Trigger():
			c.recalc()
		}
	}
}

// LastGreeks 返回最近一次成功计算的组合 Greeks
func (c *Calculator) LastGreeks() domain.GreeksSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// recalc 执行一轮完整的 Greeks 计算与对冲决策
func (c *Calculator) recalc() {
	ms := c.market.Snapshot()
	if !ms.Complete() {
		log.Warn("市场快照不完整，跳过本轮计算")
		return
	}
	pos := c.position.Snapshot()
	if len(pos.Legs) == 0 {
		log.Debug("没有期权腿，无需对冲")
		return
	}

	snap, err := c.computeGreeks(ms, pos)
	if err != nil {
		log.Errorf("Greeks 计算失败，放弃本轮: %v", err)
		return
	}

	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	log.Infof("组合 Greeks: delta=%.2f gamma=%.4f theta=%.2f spot=%.2f shares=%d",
		snap.NetDelta, snap.NetGamma, snap.NetTheta, snap.Spot, pos.UnderlyingShares)

	cmd, ok := c.strategy.Evaluate(snap.NetDelta, pos.UnderlyingShares)
	if !ok {
		log.Debugf("净 delta %.2f 在死区内，不交易", snap.NetDelta)
		return
	}
	log.Infof("发出对冲命令: 目标持股 %d（当前 %d）", cmd.TargetShares, pos.UnderlyingShares)
	c.sink.SubmitCommand(cmd)
}

// legResult 单条腿的计算结果
type legResult struct {
	greeks domain.Greeks
	qty    int
	err    error
}

// computeGreeks 并发计算每条腿并聚合。任何一条腿失败返回 error。
func (c *Calculator) computeGreeks(ms marketstate.Snapshot, pos domain.PositionSnapshot) (domain.GreeksSnapshot, error) {
	spot := ms.Underlying.Mid()
	r := c.rates.RiskFreeRate()
	q := c.rates.DividendYield()
	now := time.Now()

	results := make([]legResult, len(pos.Legs))
	var wg sync.WaitGroup
	for i, leg := range pos.Legs {
		wg.Add(1)
		go func(i int, leg domain.OptionLeg) {
			defer wg.Done()
			sym := leg.Contract.Symbol()
			quote, ok := c.quoteFor(ms, sym)
			if !ok || quote.Mid() <= 0 {
				results[i] = legResult{err: errors.Errorf("腿 %s 没有可用报价", sym)}
				return
			}
			g, err := c.engine.PriceAndGreeks(leg.Contract, spot, quote.Mid(), r, q, leg.Contract.DaysToExpiry(now))
			if err != nil {
				results[i] = legResult{err: errors.Wrapf(err, "腿 %s 定价失败", sym)}
				return
			}
			results[i] = legResult{greeks: g, qty: leg.Quantity}
		}(i, leg)
	}
	wg.Wait()

	mult := float64(c.cfg.ContractMultiplier)
	snap := domain.GreeksSnapshot{Spot: spot, ComputedAt: now}
	for _, res := range results {
		if res.err != nil {
			return domain.GreeksSnapshot{}, res.err
		}
		scale := float64(res.qty) * mult
		snap.NetDelta += res.greeks.Delta * scale
		snap.NetGamma += res.greeks.Gamma * scale
		snap.NetTheta += res.greeks.Theta * scale
	}
	// 净 delta 包含标的持仓（delta 恒为 1）
	snap.NetDelta += float64(pos.UnderlyingShares)
	return snap, nil
}

// quoteFor 按 OCC 代码在快照里找对应腿的报价
func (c *Calculator) quoteFor(ms marketstate.Snapshot, symbol string) (domain.Quote, bool) {
	switch symbol {
	case ms.Call.InstrumentID:
		return ms.Call, true
	case ms.Put.InstrumentID:
		return ms.Put, true
	}
	return domain.Quote{}, false
}
