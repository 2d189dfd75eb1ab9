package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/ports"
)

var log = logrus.WithField("component", "quote-stream")

// Config 行情 WebSocket 参数
type Config struct {
	URL            string
	ReconnectDelay time.Duration // 初始重连延迟，指数退避
	MaxReconnects  int           // 连续重连上限，超过后 Run 返回错误
	PingInterval   time.Duration
}

// quoteMessage 行情推送的线格式
type quoteMessage struct {
	Type      string  `json:"type"`
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Timestamp int64   `json:"timestamp"` // epoch 毫秒
}

// subscribeMessage 订阅请求
type subscribeMessage struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// QuoteStream 行情 WebSocket 客户端：断线自动重连（信号驱动），
// 重连成功后自动补发订阅。实现 ports.QuoteStream。
type QuoteStream struct {
	cfg Config

	mu       sync.RWMutex
	conn     *websocket.Conn
	symbols  []string
	handlers []ports.QuoteHandler
	lastPong time.Time
}

// NewQuoteStream 创建行情客户端
func NewQuoteStream(cfg Config) *QuoteStream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &QuoteStream{cfg: cfg}
}

// Subscribe 登记要订阅的标的（连接建立或重连后统一补发）
func (s *QuoteStream) Subscribe(instrumentIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append(s.symbols, instrumentIDs...)
}

// OnQuote 注册报价回调（同一连接内串行触发）
func (s *QuoteStream) OnQuote(handler ports.QuoteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Run 阻塞运行：连接、读消息、断线重连，直到 ctx 取消或重连耗尽
func (s *QuoteStream) Run(ctx context.Context) error {
	reconnects := 0
	delay := s.cfg.ReconnectDelay
	for {
		if err := s.connect(ctx); err != nil {
			reconnects++
			if reconnects > s.cfg.MaxReconnects {
				return errors.Wrapf(err, "行情连接重试 %d 次后放弃", s.cfg.MaxReconnects)
			}
			log.Warnf("行情连接失败 (%d/%d)，%s 后重试: %v", reconnects, s.cfg.MaxReconnects, delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		reconnects = 0
		delay = s.cfg.ReconnectDelay

		err := s.readLoop(ctx)
		s.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warnf("行情连接断开，准备重连: %v", err)
	}
}

func (s *QuoteStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	s.mu.Lock()
	s.conn = conn
	s.lastPong = time.Now()
	symbols := make([]string, len(s.symbols))
	copy(symbols, s.symbols)
	s.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
		return nil
	})

	if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", Symbols: symbols}); err != nil {
		conn.Close()
		return errors.Wrap(err, "subscribe")
	}
	log.Infof("行情已连接并订阅 %d 个标的", len(symbols))
	return nil
}

// readLoop 读消息直到出错；ping 在同一循环里按间隔发送
func (s *QuoteStream) readLoop(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	// ping goroutine 随本次连接生灭
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn.SetReadDeadline(time.Now().Add(3 * s.cfg.PingInterval))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *QuoteStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debugf("发送 ping 失败: %v", err)
				return
			}
		}
	}
}

func (s *QuoteStream) dispatch(data []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debugf("丢弃无法解析的消息: %v", err)
		return
	}
	if msg.Type != "quote" {
		return
	}
	q := domain.Quote{
		InstrumentID: msg.Symbol,
		Bid:          msg.Bid,
		Ask:          msg.Ask,
		Timestamp:    time.UnixMilli(msg.Timestamp),
	}
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, h := range handlers {
		h.OnQuote(q)
	}
}

func (s *QuoteStream) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
