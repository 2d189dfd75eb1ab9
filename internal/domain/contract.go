package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Right 期权类型（call / put）
type Right string

const (
	RightCall Right = "call"
	RightPut  Right = "put"
)

// OptionContract 不可变的期权合约描述符。
// 在选腿或 resume 同步时创建，之后不再修改。
type OptionContract struct {
	Underlying   string    // 标的 symbol
	Strike       float64   // 行权价
	Expiration   time.Time // 到期日（按日期，时间部分忽略）
	Right        Right     // call / put
	OpenInterest int64     // 未平仓量（选腿时的流动性过滤用）
}

// Symbol 生成 OCC 风格的期权代码，例如 AAPL250516P00207500。
func (c OptionContract) Symbol() string {
	r := "C"
	if c.Right == RightPut {
		r = "P"
	}
	// 行权价以 1/1000 为单位、8 位补零
	strike := int64(math.Round(c.Strike * 1000))
	return fmt.Sprintf("%s%s%s%08d", c.Underlying, c.Expiration.Format("060102"), r, strike)
}

// DaysToExpiry 距离到期的自然日数（向上取整到整天，最少 0）
func (c OptionContract) DaysToExpiry(now time.Time) int {
	d := int(math.Ceil(c.Expiration.Sub(now).Hours() / 24))
	if d < 0 {
		return 0
	}
	return d
}

var occSymbolRe = regexp.MustCompile(`^(?P<underlying>[A-Z]{1,6})(?P<date>\d{6})(?P<right>[PC])(?P<strike>\d{8})$`)

// ParseOptionSymbol 解析 OCC 风格期权代码。
//
// 例：
//
//	AAPL250516P00207500 -> {AAPL, 207.5, 2025-05-16, put}
func ParseOptionSymbol(symbol string) (OptionContract, error) {
	m := occSymbolRe.FindStringSubmatch(strings.TrimSpace(symbol))
	if m == nil {
		return OptionContract{}, fmt.Errorf("无效的期权代码格式: %q", symbol)
	}

	expiry, err := time.Parse("060102", m[2])
	if err != nil {
		return OptionContract{}, fmt.Errorf("期权代码日期解析失败 %q: %w", symbol, err)
	}

	strikeRaw, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return OptionContract{}, fmt.Errorf("期权代码行权价解析失败 %q: %w", symbol, err)
	}

	right := RightCall
	if m[3] == "P" {
		right = RightPut
	}

	return OptionContract{
		Underlying: m[1],
		Strike:     float64(strikeRaw) / 1000.0,
		Expiration: expiry,
		Right:      right,
	}, nil
}
