package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/ports"
)

// fillMessage 成交回报的线格式
type fillMessage struct {
	Event     string  `json:"event"` // fill | partial_fill | canceled | rejected
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	CumQty    int     `json:"cum_qty"`
	AvgPrice  float64 `json:"avg_price"`
	Timestamp string  `json:"timestamp"`
}

type authMessage struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type listenMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// RunFillStream 阻塞运行成交回报流：认证、订阅 trade_updates、
// 断线指数退避重连。必须先于首笔下单启动，保证不丢终态回报。
func (c *Client) RunFillStream(ctx context.Context) error {
	delay := 2 * time.Second
	for {
		err := c.consumeFills(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("成交回报流断开，%s 后重连: %v", delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (c *Client) consumeFills(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.StreamURL, nil)
	if err != nil {
		return errors.Wrap(err, "dial fill stream")
	}
	defer conn.Close()

	if err := conn.WriteJSON(authMessage{Action: "auth", Key: c.cfg.APIKey, Secret: c.cfg.APISecret}); err != nil {
		return errors.Wrap(err, "auth")
	}
	if err := conn.WriteJSON(listenMessage{Action: "listen", Streams: []string{"trade_updates"}}); err != nil {
		return errors.Wrap(err, "listen")
	}
	log.Info("成交回报流已连接")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatchFill(ctx, data)
	}
}

func (c *Client) dispatchFill(ctx context.Context, data []byte) {
	var msg fillMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debugf("丢弃无法解析的回报: %v", err)
		return
	}

	var typ domain.FillEventType
	switch msg.Event {
	case "fill":
		typ = domain.FillEventFill
	case "partial_fill":
		typ = domain.FillEventPartialFill
	case "canceled":
		typ = domain.FillEventCanceled
	case "rejected":
		typ = domain.FillEventRejected
	default:
		return // 心跳或其他事件
	}

	ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		ts = time.Now()
	}
	ev := domain.FillEvent{
		OrderID:      msg.OrderID,
		InstrumentID: msg.Symbol,
		Type:         typ,
		Side:         domain.Side(msg.Side),
		CumFilledQty: msg.CumQty,
		FillPrice:    msg.AvgPrice,
		Timestamp:    ts,
	}

	c.mu.RLock()
	handlers := c.fillHandlers
	c.mu.RUnlock()
	for _, h := range handlers {
		h.OnFill(ctx, ev)
	}
}

var _ ports.OrderTransport = (*Client)(nil)
var _ ports.AccountReader = (*Client)(nil)
var _ ports.OptionChainProvider = (*Client)(nil)
