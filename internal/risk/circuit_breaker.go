package risk

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "risk")

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续下对冲单。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures 连续下单失败上限，达到即熔断。
	MaxConsecutiveFailures int64

	// DailyLossLimitCents 当日已实现刮擦亏损上限（分）。达到或超过时熔断。
	DailyLossLimitCents int64
}

// CircuitBreaker 对冲下单前的快路径风控。全部用原子变量，
// PositionManager 的执行 goroutine 和控制面 API 可以并发访问。
//
// 当日 PnL 由 PositionManager 在每笔刮擦平仓后通过 AddPnLCents() 累计。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveFailures atomic.Int64
	dailyPnlCents       atomic.Int64
	dayKey              atomic.Int64 // YYYYMMDD

	maxConsecutiveFailures atomic.Int64
	dailyLossLimitCents    atomic.Int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveFailures.Store(cfg.MaxConsecutiveFailures)
	cb.dailyLossLimitCents.Store(cfg.DailyLossLimitCents)
}

// Halt 手动熔断（控制面 /halt 或检测到严重异常）。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
	log.Warn("断路器已手动打开，停止对冲下单")
}

// Resume 手动恢复（同时清空连续失败计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveFailures.Store(0)
	log.Info("断路器已恢复")
}

// IsHalted 返回当前熔断状态（控制面状态接口用）。
func (cb *CircuitBreaker) IsHalted() bool {
	if cb == nil {
		return false
	}
	return cb.halted.Load()
}

// AllowTrading 下单前的快路径检查。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	// 连续下单失败熔断
	maxFail := cb.maxConsecutiveFailures.Load()
	if maxFail > 0 && cb.consecutiveFailures.Load() >= maxFail {
		cb.halted.Store(true)
		log.Errorf("连续下单失败达到 %d 次，断路器打开", maxFail)
		return ErrCircuitBreakerOpen
	}

	// 当日亏损熔断（若启用）
	limit := cb.dailyLossLimitCents.Load()
	if limit > 0 {
		cb.rollDayIfNeeded()
		if cb.dailyPnlCents.Load() <= -limit {
			cb.halted.Store(true)
			log.Errorf("当日亏损超过 %d 分，断路器打开", limit)
			return ErrCircuitBreakerOpen
		}
	}

	return nil
}

// OnSubmitSuccess 一笔订单完整走到全部成交后调用，清空连续失败计数。
func (cb *CircuitBreaker) OnSubmitSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveFailures.Store(0)
}

// OnSubmitFailure 一次下单被拒或提交失败后调用。
func (cb *CircuitBreaker) OnSubmitFailure() {
	if cb == nil {
		return
	}
	cb.consecutiveFailures.Add(1)
}

// AddPnLCents 增量更新当日已实现 PnL（分）。负数表示亏损。
func (cb *CircuitBreaker) AddPnLCents(delta int64) {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.dailyPnlCents.Add(delta)
}

// DailyPnLCents 当日已实现 PnL（分）。
func (cb *CircuitBreaker) DailyPnLCents() int64 {
	if cb == nil {
		return 0
	}
	cb.rollDayIfNeeded()
	return cb.dailyPnlCents.Load()
}

func (cb *CircuitBreaker) rollDayIfNeeded() {
	// YYYYMMDD（本地时间即可；风控用途不要求跨时区精确）
	now := time.Now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := cb.dayKey.Load()
	if prev == key {
		return
	}
	// 尝试切换 dayKey；成功者负责清零当日 PnL
	if cb.dayKey.CompareAndSwap(prev, key) {
		cb.dailyPnlCents.Store(0)
	}
}
