package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/ports"
)

var log = logrus.WithField("component", "broker")

// Config 券商 REST / WebSocket 接入参数
type Config struct {
	BaseURL   string
	StreamURL string // 成交回报 WebSocket
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client 券商接入层：REST 下单查仓 + WebSocket 成交回报。
// 实现 ports.OrderTransport / ports.AccountReader / ports.OptionChainProvider。
type Client struct {
	cfg  Config
	http *resty.Client

	mu           sync.RWMutex
	fillHandlers []ports.FillHandler
}

// NewClient 创建券商客户端
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.APISecret).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// 下单接口不做自动重试，避免重复成交；只重试读接口
			if resp != nil && resp.Request.Method != "GET" {
				return false
			}
			return err != nil || (resp != nil && resp.StatusCode() >= 500)
		})
	return &Client{cfg: cfg, http: http}
}

type orderRequest struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Qty           int    `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubmitOrder 提交市价对冲单。带符号数量在这里拆成 side + 绝对量，
// 跨零由券商按单笔订单处理。
func (c *Client) SubmitOrder(ctx context.Context, order *domain.HedgeOrder) (string, error) {
	qty := order.SignedQty
	if qty < 0 {
		qty = -qty
	}
	req := orderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.InstrumentID,
		Qty:           qty,
		Side:          string(order.Side()),
		Type:          "market",
		TimeInForce:   "day",
	}

	var out orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		return "", errors.Wrap(err, "submit order")
	}
	if resp.IsError() {
		return "", errors.Errorf("submit order: http %d: %s", resp.StatusCode(), resp.String())
	}
	log.Infof("订单已受理: %s %s %d 股 -> %s", req.Side, req.Symbol, req.Qty, out.ID)
	return out.ID, nil
}

// CancelOpenOrders 撤销全部在途订单
func (c *Client) CancelOpenOrders(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/v2/orders")
	if err != nil {
		return errors.Wrap(err, "cancel orders")
	}
	if resp.IsError() {
		return errors.Errorf("cancel orders: http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// OnFill 注册成交回报处理器（回报由 RunFillStream 推入）
func (c *Client) OnFill(handler ports.FillHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fillHandlers = append(c.fillHandlers, handler)
}

type positionResponse struct {
	Symbol string `json:"symbol"`
	Qty    string `json:"qty"` // 券商返回字符串数量
	Side   string `json:"side"`
}

// GetStockPosition 查询标的带符号持股，无持仓返回 0
func (c *Client) GetStockPosition(ctx context.Context, symbol string) (int, error) {
	var out positionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/positions/" + symbol)
	if err != nil {
		return 0, errors.Wrap(err, "get position")
	}
	if resp.StatusCode() == 404 {
		return 0, nil
	}
	if resp.IsError() {
		return 0, errors.Errorf("get position: http %d", resp.StatusCode())
	}
	var qty int
	if _, err := fmt.Sscanf(out.Qty, "%d", &qty); err != nil {
		return 0, errors.Wrapf(err, "解析持仓数量 %q", out.Qty)
	}
	if out.Side == "short" && qty > 0 {
		qty = -qty
	}
	return qty, nil
}

// GetOptionPositions 查询某标的下全部期权持仓
func (c *Client) GetOptionPositions(ctx context.Context, underlying string) ([]domain.OptionLeg, error) {
	var out []positionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("asset_class", "us_option").
		SetResult(&out).
		Get("/v2/positions")
	if err != nil {
		return nil, errors.Wrap(err, "get option positions")
	}
	if resp.IsError() {
		return nil, errors.Errorf("get option positions: http %d", resp.StatusCode())
	}

	var legs []domain.OptionLeg
	for _, p := range out {
		contract, err := domain.ParseOptionSymbol(p.Symbol)
		if err != nil {
			log.Warnf("跳过无法解析的持仓 %s: %v", p.Symbol, err)
			continue
		}
		if contract.Underlying != underlying {
			continue
		}
		var qty int
		if _, err := fmt.Sscanf(p.Qty, "%d", &qty); err != nil {
			return nil, errors.Wrapf(err, "解析持仓数量 %q", p.Qty)
		}
		if p.Side == "short" && qty > 0 {
			qty = -qty
		}
		legs = append(legs, domain.OptionLeg{Contract: contract, Quantity: qty})
	}
	return legs, nil
}

// ClosePosition 市价平掉指定标的的全部持仓
func (c *Client) ClosePosition(ctx context.Context, symbol string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/v2/positions/" + symbol)
	if err != nil {
		return errors.Wrap(err, "close position")
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return errors.Errorf("close position: http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type contractResponse struct {
	Symbol       string  `json:"symbol"`
	Strike       float64 `json:"strike_price,string"`
	Expiration   string  `json:"expiration_date"` // YYYY-MM-DD
	Type         string  `json:"type"`            // call | put
	OpenInterest int     `json:"open_interest,string"`
}

type chainResponse struct {
	Contracts []contractResponse `json:"option_contracts"`
	NextPage  string             `json:"next_page_token"`
}

// GetOptionChain 拉取到期窗口内的活跃合约（自动翻页）
func (c *Client) GetOptionChain(ctx context.Context, underlying string, expiryGTE, expiryLTE time.Time) ([]domain.OptionContract, error) {
	var contracts []domain.OptionContract
	pageToken := ""
	for {
		var out chainResponse
		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"underlying_symbols":  underlying,
				"status":              "active",
				"expiration_date_gte": expiryGTE.Format("2006-01-02"),
				"expiration_date_lte": expiryLTE.Format("2006-01-02"),
				"limit":               "500",
			}).
			SetResult(&out)
		if pageToken != "" {
			req.SetQueryParam("page_token", pageToken)
		}
		resp, err := req.Get("/v2/options/contracts")
		if err != nil {
			return nil, errors.Wrap(err, "get option chain")
		}
		if resp.IsError() {
			return nil, errors.Errorf("get option chain: http %d", resp.StatusCode())
		}

		for _, rec := range out.Contracts {
			exp, err := time.Parse("2006-01-02", rec.Expiration)
			if err != nil {
				log.Warnf("跳过到期日无法解析的合约 %s: %v", rec.Symbol, err)
				continue
			}
			right := domain.RightCall
			if rec.Type == "put" {
				right = domain.RightPut
			}
			contracts = append(contracts, domain.OptionContract{
				Underlying:   underlying,
				Strike:       rec.Strike,
				Expiration:   exp,
				Right:        right,
				OpenInterest: int64(rec.OpenInterest),
			})
		}
		if out.NextPage == "" {
			break
		}
		pageToken = out.NextPage
	}
	return contracts, nil
}

type quoteResponse struct {
	Quote struct {
		Bid float64 `json:"bp"`
		Ask float64 `json:"ap"`
		TS  string  `json:"t"`
	} `json:"quote"`
}

// GetOptionQuote 查询期权最新报价
func (c *Client) GetOptionQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	return c.latestQuote(ctx, "/v2/options/quotes/"+symbol+"/latest", symbol)
}

// GetStockQuote 查询标的最新报价
func (c *Client) GetStockQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	return c.latestQuote(ctx, "/v2/stocks/quotes/"+symbol+"/latest", symbol)
}

func (c *Client) latestQuote(ctx context.Context, path, symbol string) (domain.Quote, error) {
	var out quoteResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(path)
	if err != nil {
		return domain.Quote{}, errors.Wrapf(err, "get quote %s", symbol)
	}
	if resp.IsError() {
		return domain.Quote{}, errors.Errorf("get quote %s: http %d", symbol, resp.StatusCode())
	}
	ts, err := time.Parse(time.RFC3339Nano, out.Quote.TS)
	if err != nil {
		ts = time.Now()
	}
	return domain.Quote{
		InstrumentID: symbol,
		Bid:          out.Quote.Bid,
		Ask:          out.Quote.Ask,
		Timestamp:    ts,
	}, nil
}
