package selector

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/hedgebot/internal/domain"
)

type fakeChain struct {
	stock     domain.Quote
	contracts []domain.OptionContract
	quotes    map[string]domain.Quote
}

func (f *fakeChain) GetOptionChain(ctx context.Context, underlying string, gte, lte time.Time) ([]domain.OptionContract, error) {
	return f.contracts, nil
}

func (f *fakeChain) GetOptionQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, ok := f.quotes[symbol]
	if !ok {
		return domain.Quote{}, errors.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (f *fakeChain) GetStockQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	return f.stock, nil
}

type fakeGreeks struct{ greeks map[string]domain.Greeks }

func (f *fakeGreeks) PriceAndGreeks(c domain.OptionContract, spot, obs, r, q float64, days int) (domain.Greeks, error) {
	g, ok := f.greeks[c.Symbol()]
	if !ok {
		return domain.Greeks{}, errors.Errorf("no greeks for %s", c.Symbol())
	}
	return g, nil
}

type flatRates struct{}

func (flatRates) RiskFreeRate() float64  { return 0.045 }
func (flatRates) DividendYield() float64 { return 0 }

func contract(strike float64, right domain.Right, exp time.Time, oi int) domain.OptionContract {
	return domain.OptionContract{Underlying: "AAPL", Strike: strike, Expiration: exp, Right: right, OpenInterest: int64(oi)}
}

func mid(symbol string, mid, spread float64) (string, domain.Quote) {
	return symbol, domain.Quote{InstrumentID: symbol, Bid: mid - spread/2, Ask: mid + spread/2, Timestamp: time.Now()}
}

// 两个候选行权价：(θ, γ, 价差和) = (-0.30, 0.05, 0.10) 和 (-0.50, 0.04, 0.08)，
// 得分 8.0 对 14.5，应选前者。
func TestSelectPicksLowestScore(t *testing.T) {
	exp := time.Now().AddDate(0, 0, 45)
	c100 := contract(100, domain.RightCall, exp, 500)
	p100 := contract(100, domain.RightPut, exp, 500)
	c105 := contract(105, domain.RightCall, exp, 500)
	p105 := contract(105, domain.RightPut, exp, 500)

	quotes := map[string]domain.Quote{}
	for _, kv := range []struct {
		sym    string
		mid    float64
		spread float64
	}{
		{c100.Symbol(), 5.00, 0.06},
		{p100.Symbol(), 4.80, 0.04},
		{c105.Symbol(), 3.20, 0.05},
		{p105.Symbol(), 7.60, 0.03},
	} {
		k, q := mid(kv.sym, kv.mid, kv.spread)
		quotes[k] = q
	}

	chain := &fakeChain{
		stock:     domain.Quote{InstrumentID: "AAPL", Bid: 99.95, Ask: 100.05, Timestamp: time.Now()},
		contracts: []domain.OptionContract{c100, p100, c105, p105},
		quotes:    quotes,
	}
	pricer := &fakeGreeks{greeks: map[string]domain.Greeks{
		c100.Symbol(): {ImpliedVol: 0.5, Theta: -0.30, Gamma: 0.05},
		p100.Symbol(): {ImpliedVol: 0.5, Theta: 0, Gamma: 0},
		c105.Symbol(): {ImpliedVol: 0.5, Theta: -0.50, Gamma: 0.04},
		p105.Symbol(): {ImpliedVol: 0.5, Theta: 0, Gamma: 0},
	}}

	sel := NewSelector(Config{
		Underlying:        "AAPL",
		MinExpirationDays: 30,
		MaxExpirationDays: 60,
		MinOpenInterest:   100,
		ThetaWeight:       1.0,
		Quantity:          1,
	}, chain, pricer, flatRates{})

	st, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100.0, st.Call.Strike, 1e-9)
	assert.InDelta(t, 8.0, st.Score, 1e-9)
	assert.Equal(t, domain.RightCall, st.Call.Right)
	assert.Equal(t, domain.RightPut, st.Put.Right)
}

func TestSelectFiltersOpenInterest(t *testing.T) {
	exp := time.Now().AddDate(0, 0, 45)
	c100 := contract(100, domain.RightCall, exp, 500)
	p100 := contract(100, domain.RightPut, exp, 50) // OI 不足，配不成对

	chain := &fakeChain{
		stock:     domain.Quote{InstrumentID: "AAPL", Bid: 99.95, Ask: 100.05, Timestamp: time.Now()},
		contracts: []domain.OptionContract{c100, p100},
		quotes:    map[string]domain.Quote{},
	}
	sel := NewSelector(Config{Underlying: "AAPL", MinOpenInterest: 100, Quantity: 1}, chain, &fakeGreeks{}, flatRates{})

	_, err := sel.Select(context.Background())
	assert.Error(t, err)
}

func TestSelectSkipsUnpriceablePairs(t *testing.T) {
	exp := time.Now().AddDate(0, 0, 45)
	c100 := contract(100, domain.RightCall, exp, 500)
	p100 := contract(100, domain.RightPut, exp, 500)
	c105 := contract(105, domain.RightCall, exp, 500)
	p105 := contract(105, domain.RightPut, exp, 500)

	quotes := map[string]domain.Quote{}
	for _, kv := range []struct {
		sym    string
		mid    float64
		spread float64
	}{
		{c100.Symbol(), 5.00, 0.06},
		{p100.Symbol(), 4.80, 0.04},
		{c105.Symbol(), 3.20, 0.05},
		{p105.Symbol(), 7.60, 0.03},
	} {
		k, q := mid(kv.sym, kv.mid, kv.spread)
		quotes[k] = q
	}
	chain := &fakeChain{
		stock:     domain.Quote{InstrumentID: "AAPL", Bid: 99.95, Ask: 100.05, Timestamp: time.Now()},
		contracts: []domain.OptionContract{c100, p100, c105, p105},
		quotes:    quotes,
	}
	// 100 这组的 put 没有 Greeks：整组跳过，落到 105
	pricer := &fakeGreeks{greeks: map[string]domain.Greeks{
		c100.Symbol(): {ImpliedVol: 0.5, Theta: -0.30, Gamma: 0.05},
		c105.Symbol(): {ImpliedVol: 0.5, Theta: -0.50, Gamma: 0.04},
		p105.Symbol(): {ImpliedVol: 0.5, Theta: 0, Gamma: 0},
	}}
	sel := NewSelector(Config{Underlying: "AAPL", MinOpenInterest: 100, ThetaWeight: 1.0, Quantity: 1}, chain, pricer, flatRates{})

	st, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 105.0, st.Call.Strike, 1e-9)
}

func TestValidateResumeHappyPath(t *testing.T) {
	exp := time.Now().AddDate(0, 0, 45)
	sel := NewSelector(Config{Underlying: "AAPL", Quantity: 2}, nil, nil, nil)

	call, put, err := sel.ValidateResume([]domain.OptionLeg{
		{Contract: contract(100, domain.RightPut, exp, 0), Quantity: 2},
		{Contract: contract(100, domain.RightCall, exp, 0), Quantity: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RightCall, call.Right)
	assert.Equal(t, domain.RightPut, put.Right)
}

func TestValidateResumeRejectsBadShapes(t *testing.T) {
	exp := time.Now().AddDate(0, 0, 45)
	sel := NewSelector(Config{Underlying: "AAPL", Quantity: 2}, nil, nil, nil)

	// 腿数不对
	_, _, err := sel.ValidateResume([]domain.OptionLeg{
		{Contract: contract(100, domain.RightCall, exp, 0), Quantity: 2},
	})
	assert.Error(t, err)

	// 两条同向腿
	_, _, err = sel.ValidateResume([]domain.OptionLeg{
		{Contract: contract(100, domain.RightCall, exp, 0), Quantity: 2},
		{Contract: contract(105, domain.RightCall, exp, 0), Quantity: 2},
	})
	assert.Error(t, err)

	// 张数不符
	_, _, err = sel.ValidateResume([]domain.OptionLeg{
		{Contract: contract(100, domain.RightCall, exp, 0), Quantity: 1},
		{Contract: contract(100, domain.RightPut, exp, 0), Quantity: 2},
	})
	assert.Error(t, err)
}
