package rates

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "rates")

// Config 无风险利率 / 分红率来源
type Config struct {
	TreasuryBaseURL string  // 美债收益率 API，空则只用默认值
	DefaultRate     float64 // 拉取失败时的兜底年化利率
	DividendYield   float64 // 标的的年化分红率（静态配置）
	CacheTTL        time.Duration
}

// Provider 缓存式利率提供者：按到期天数在国债收益率曲线上线性插值，
// 任何失败都回退到配置的默认利率，定价路径永远拿得到一个数。
// 实现 ports.RateSource / ports.DividendSource。
type Provider struct {
	cfg  Config
	http *resty.Client

	mu        sync.Mutex
	curve     map[int]float64 // 期限（天）-> 年化利率
	fetchedAt time.Time
}

// NewProvider 创建利率提供者
func NewProvider(cfg Config) *Provider {
	if cfg.DefaultRate <= 0 {
		cfg.DefaultRate = 0.045
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 12 * time.Hour
	}
	p := &Provider{cfg: cfg}
	if cfg.TreasuryBaseURL != "" {
		p.http = resty.New().
			SetBaseURL(cfg.TreasuryBaseURL).
			SetTimeout(15 * time.Second).
			SetRetryCount(2)
	}
	return p
}

// RiskFreeRate 返回 daysToMaturity 对应的年化无风险利率。
// 两个相邻期限之间线性插值，曲线范围之外取端点。
func (p *Provider) RiskFreeRate(ctx context.Context, daysToMaturity int) float64 {
	curve := p.yieldCurve(ctx)
	if len(curve) == 0 {
		return p.cfg.DefaultRate
	}

	tenors := make([]int, 0, len(curve))
	for days := range curve {
		tenors = append(tenors, days)
	}
	sort.Ints(tenors)

	if daysToMaturity <= tenors[0] {
		return curve[tenors[0]]
	}
	last := tenors[len(tenors)-1]
	if daysToMaturity >= last {
		return curve[last]
	}
	for i := 1; i < len(tenors); i++ {
		lo, hi := tenors[i-1], tenors[i]
		if daysToMaturity <= hi {
			w := float64(daysToMaturity-lo) / float64(hi-lo)
			return curve[lo] + w*(curve[hi]-curve[lo])
		}
	}
	return curve[last]
}

// DividendYield 返回配置的年化分红率
func (p *Provider) DividendYield(ctx context.Context, symbol string) float64 {
	return p.cfg.DividendYield
}

// treasuryRecord 财政部 par yield curve 的一条记录
type treasuryRecord struct {
	SecurityDesc string `json:"security_desc"` // 如 "Treasury Bills" / "Treasury Notes"
	Maturity     string `json:"maturity"`      // 如 "1 Mo", "3 Mo", "1 Yr"
	Rate         string `json:"avg_interest_rate_amt"`
}

type treasuryResponse struct {
	Data []treasuryRecord `json:"data"`
}

// yieldCurve 返回缓存的收益率曲线；过期则重新拉取，失败沿用旧值
func (p *Provider) yieldCurve(ctx context.Context) map[int]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.http == nil {
		return nil
	}
	if p.curve != nil && time.Since(p.fetchedAt) < p.cfg.CacheTTL {
		return p.curve
	}

	var out treasuryResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"sort":       "-record_date",
			"page[size]": "50",
		}).
		SetResult(&out).
		Get("/v2/accounting/od/avg_interest_rates")
	if err != nil || resp.IsError() {
		log.Warnf("拉取国债收益率失败，沿用%s: %v", fallbackDesc(p.curve), err)
		return p.curve
	}

	curve := make(map[int]float64)
	for _, rec := range out.Data {
		days, ok := maturityDays(rec.Maturity)
		if !ok {
			continue
		}
		pct, err := strconv.ParseFloat(rec.Rate, 64)
		if err != nil {
			continue
		}
		if _, seen := curve[days]; !seen { // 已按日期倒序，保留最新记录
			curve[days] = pct / 100.0
		}
	}
	if len(curve) == 0 {
		log.Warnf("国债收益率响应为空，沿用%s", fallbackDesc(p.curve))
		return p.curve
	}

	p.curve = curve
	p.fetchedAt = time.Now()
	log.Infof("收益率曲线已更新，%d 个期限", len(curve))
	return p.curve
}

func fallbackDesc(curve map[int]float64) string {
	if curve == nil {
		return "默认利率"
	}
	return "旧曲线"
}

// maturityDays 把 "1 Mo" / "3 Mo" / "1 Yr" 这类期限串换算成天数
func maturityDays(maturity string) (int, bool) {
	var n int
	var unit string
	if _, err := fmt.Sscanf(maturity, "%d %s", &n, &unit); err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case "Mo":
		return n * 30, true
	case "Yr":
		return n * 365, true
	}
	return 0, false
}

// Bound 把 ctx 式宽接口绑定成定价组件需要的无参视图
// （days 固定为所选跨式的到期天数）。
type Bound struct {
	Provider *Provider
	Days     int
	Symbol   string
}

func (b Bound) RiskFreeRate() float64 {
	return b.Provider.RiskFreeRate(context.Background(), b.Days)
}

func (b Bound) DividendYield() float64 {
	return b.Provider.DividendYield(context.Background(), b.Symbol)
}
