package selector

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/ports"
)

var log = logrus.WithField("component", "selector")

// Pricer 选链时用的单合约定价能力
type Pricer interface {
	PriceAndGreeks(contract domain.OptionContract, spot, observedPrice, riskFreeRate, dividendYield float64, daysToExpiry int) (domain.Greeks, error)
}

// RateProvider 定价输入的利率与分红
type RateProvider interface {
	RiskFreeRate() float64
	DividendYield() float64
}

// Config StraddleSelector 参数
type Config struct {
	Underlying        string
	MinExpirationDays int
	MaxExpirationDays int
	MinOpenInterest   int
	ThetaWeight       float64
	Quantity          int // 每腿张数
}

// Straddle 选中的同行权价跨式组合
type Straddle struct {
	Call  domain.OptionContract
	Put   domain.OptionContract
	Score float64
}

// Selector 初始化专用：扫描期权链，为 gamma 刮擦挑一对
// 「时间衰减 + 进出成本」相对 gamma 最便宜的跨式。
type Selector struct {
	cfg    Config
	chain  ports.OptionChainProvider
	pricer Pricer
	rates  RateProvider
}

// NewSelector 创建选择器
func NewSelector(cfg Config, chain ports.OptionChainProvider, pricer Pricer, rates RateProvider) *Selector {
	if cfg.ThetaWeight <= 0 {
		cfg.ThetaWeight = 1.0
	}
	return &Selector{cfg: cfg, chain: chain, pricer: pricer, rates: rates}
}

// pairKey 同到期日 + 同行权价
type pairKey struct {
	expiry time.Time
	strike float64
}

type candidate struct {
	call domain.OptionContract
	put  domain.OptionContract
}

// Select 扫链、打分并返回最优跨式。找不到可用组合属于启动期致命错误。
func (s *Selector) Select(ctx context.Context) (Straddle, error) {
	sq, err := s.chain.GetStockQuote(ctx, s.cfg.Underlying)
	if err != nil {
		return Straddle{}, errors.Wrap(err, "获取标的报价失败")
	}
	spot := sq.Mid()
	if spot <= 0 {
		return Straddle{}, errors.Errorf("标的 %s 报价无效", s.cfg.Underlying)
	}

	now := time.Now()
	gte := now.AddDate(0, 0, s.cfg.MinExpirationDays)
	lte := now.AddDate(0, 0, s.cfg.MaxExpirationDays)
	contracts, err := s.chain.GetOptionChain(ctx, s.cfg.Underlying, gte, lte)
	if err != nil {
		return Straddle{}, errors.Wrap(err, "获取期权链失败")
	}

	pairs := s.pairContracts(contracts)
	if len(pairs) == 0 {
		return Straddle{}, errors.Errorf("窗口 [%d, %d] 天内没有满足 OI>=%d 的跨式组合",
			s.cfg.MinExpirationDays, s.cfg.MaxExpirationDays, s.cfg.MinOpenInterest)
	}

	// 1σ 预期波动区间：用最近月 ATM 的 IV 估计，超出区间的行权价不参与打分
	keys := s.bandFilter(ctx, pairs, spot, now)

	best, found := Straddle{Score: math.Inf(1)}, false
	var bestKey pairKey
	for _, key := range keys {
		cand := pairs[key]
		score, err := s.scorePair(ctx, cand, spot, now)
		if err != nil {
			log.Debugf("跳过 %s/%.2f: %v", key.expiry.Format("2006-01-02"), key.strike, err)
			continue
		}
		log.Debugf("候选 %s/%.2f score=%.4f", key.expiry.Format("2006-01-02"), key.strike, score)
		if !found || score < best.Score || (score == best.Score && tieBreak(key, bestKey, spot)) {
			best = Straddle{Call: cand.call, Put: cand.put, Score: score}
			bestKey = key
			found = true
		}
	}
	if !found {
		return Straddle{}, errors.New("所有候选跨式都无法定价")
	}

	log.Infof("选中跨式: strike=%.2f expiry=%s score=%.4f",
		best.Call.Strike, best.Call.Expiration.Format("2006-01-02"), best.Score)
	return best, nil
}

// ValidateResume 校验 resume 模式下账户里的既有持仓能被本策略接管：
// 恰好一条 call 腿加一条 put 腿，每腿数量等于配置张数。
func (s *Selector) ValidateResume(legs []domain.OptionLeg) (call, put domain.OptionContract, err error) {
	if len(legs) != 2 {
		return call, put, errors.Errorf("期望恰好 2 条期权腿，实际 %d 条", len(legs))
	}
	var haveCall, havePut bool
	for _, leg := range legs {
		if leg.Quantity != s.cfg.Quantity {
			return call, put, errors.Errorf("腿 %s 数量 %d 与配置张数 %d 不符",
				leg.Contract.Symbol(), leg.Quantity, s.cfg.Quantity)
		}
		switch leg.Contract.Right {
		case domain.RightCall:
			call, haveCall = leg.Contract, true
		case domain.RightPut:
			put, havePut = leg.Contract, true
		}
	}
	if !haveCall || !havePut {
		return call, put, errors.New("持仓不是一 call 一 put 的跨式")
	}
	return call, put, nil
}

// pairContracts 按 (到期日, 行权价) 把链配成 call/put 对，顺带做 OI 过滤
func (s *Selector) pairContracts(contracts []domain.OptionContract) map[pairKey]candidate {
	pairs := make(map[pairKey]candidate)
	type half struct {
		call, put *domain.OptionContract
	}
	halves := make(map[pairKey]*half)
	for i := range contracts {
		c := contracts[i]
		if c.OpenInterest < int64(s.cfg.MinOpenInterest) {
			continue
		}
		key := pairKey{expiry: c.Expiration.Truncate(24 * time.Hour), strike: c.Strike}
		h, ok := halves[key]
		if !ok {
			h = &half{}
			halves[key] = h
		}
		if c.Right == domain.RightCall {
			h.call = &contracts[i]
		} else {
			h.put = &contracts[i]
		}
	}
	for key, h := range halves {
		if h.call != nil && h.put != nil {
			pairs[key] = candidate{call: *h.call, put: *h.put}
		}
	}
	return pairs
}

// bandFilter 用最近月 ATM IV 推 1σ 预期波动，返回区间内的候选 key
// （按到期日、行权价排序，保证遍历顺序确定）。ATM IV 拿不到时退化为全量。
func (s *Selector) bandFilter(ctx context.Context, pairs map[pairKey]candidate, spot float64, now time.Time) []pairKey {
	keys := make([]pairKey, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].expiry.Equal(keys[j].expiry) {
			return keys[i].expiry.Before(keys[j].expiry)
		}
		return keys[i].strike < keys[j].strike
	})

	atm, ok := s.atmImpliedVol(ctx, keys, pairs, spot, now)
	if !ok {
		log.Warn("ATM IV 估计失败，跳过 1σ 区间过滤")
		return keys
	}

	filtered := keys[:0]
	for _, key := range keys {
		days := pairs[key].call.DaysToExpiry(now)
		move := spot * atm * math.Sqrt(float64(days)/365.0)
		if math.Abs(key.strike-spot) <= move {
			filtered = append(filtered, key)
		}
	}
	if len(filtered) == 0 {
		log.Warn("1σ 区间内没有候选，退化为全量打分")
		return keys
	}
	return filtered
}

// atmImpliedVol 取最近月、行权价最接近现价的 call 反解 IV 作为基准
func (s *Selector) atmImpliedVol(ctx context.Context, keys []pairKey, pairs map[pairKey]candidate, spot float64, now time.Time) (float64, bool) {
	if len(keys) == 0 {
		return 0, false
	}
	atmKey := keys[0]
	for _, key := range keys {
		if !key.expiry.Equal(atmKey.expiry) {
			break // keys 已按到期日排序，只看最近月
		}
		if math.Abs(key.strike-spot) < math.Abs(atmKey.strike-spot) {
			atmKey = key
		}
	}

	c := pairs[atmKey].call
	q, err := s.chain.GetOptionQuote(ctx, c.Symbol())
	if err != nil || q.Mid() <= 0 {
		return 0, false
	}
	g, err := s.pricer.PriceAndGreeks(c, spot, q.Mid(), s.rates.RiskFreeRate(), s.rates.DividendYield(), c.DaysToExpiry(now))
	if err != nil {
		return 0, false
	}
	return g.ImpliedVol, true
}

// scorePair 打分：(|θ_总| * 权重 + call 价差 + put 价差) / γ_总，越小越好
func (s *Selector) scorePair(ctx context.Context, cand candidate, spot float64, now time.Time) (float64, error) {
	callQ, err := s.chain.GetOptionQuote(ctx, cand.call.Symbol())
	if err != nil || callQ.Mid() <= 0 {
		return 0, errors.Errorf("call 报价不可用: %v", err)
	}
	putQ, err := s.chain.GetOptionQuote(ctx, cand.put.Symbol())
	if err != nil || putQ.Mid() <= 0 {
		return 0, errors.Errorf("put 报价不可用: %v", err)
	}

	r := s.rates.RiskFreeRate()
	q := s.rates.DividendYield()
	callG, err := s.pricer.PriceAndGreeks(cand.call, spot, callQ.Mid(), r, q, cand.call.DaysToExpiry(now))
	if err != nil {
		return 0, err
	}
	putG, err := s.pricer.PriceAndGreeks(cand.put, spot, putQ.Mid(), r, q, cand.put.DaysToExpiry(now))
	if err != nil {
		return 0, err
	}

	gamma := callG.Gamma + putG.Gamma
	if gamma <= 0 {
		return 0, errors.New("组合 gamma 非正")
	}
	theta := math.Abs(callG.Theta + putG.Theta)
	return (theta*s.cfg.ThetaWeight + callQ.Spread() + putQ.Spread()) / gamma, nil
}

// tieBreak 分数持平时：行权价更贴近现价者胜，再持平取更早到期
func tieBreak(a, b pairKey, spot float64) bool {
	da, db := math.Abs(a.strike-spot), math.Abs(b.strike-spot)
	if da != db {
		return da < db
	}
	return a.expiry.Before(b.expiry)
}
