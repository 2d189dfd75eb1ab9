package controlplane

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/journal"
	"github.com/betbot/hedgebot/internal/marketstate"
	"github.com/betbot/hedgebot/internal/risk"
)

var log = logrus.WithField("component", "controlplane")

// PositionReader 仓位只读视图
type PositionReader interface {
	Snapshot() domain.PositionSnapshot
	TotalRealizedPnL() decimal.Decimal
}

// GreeksReader 最近一次 Greeks 计算结果
type GreeksReader interface {
	LastGreeks() domain.GreeksSnapshot
}

// MarketReader 行情快照只读视图
type MarketReader interface {
	Snapshot() marketstate.Snapshot
}

// Config 控制面 HTTP 服务参数
type Config struct {
	Addr string // 如 "127.0.0.1:8787"
}

// Server 只读状态 + 人工熔断的本地控制面。
// 不做鉴权，默认只监听回环地址。
type Server struct {
	cfg      Config
	position PositionReader
	greeks   GreeksReader
	market   MarketReader
	breaker  *risk.CircuitBreaker
	journal  *journal.Journal

	httpSrv *http.Server
}

// NewServer 创建控制面服务
func NewServer(cfg Config, position PositionReader, greeks GreeksReader, market MarketReader,
	breaker *risk.CircuitBreaker, j *journal.Journal) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	return &Server{
		cfg:      cfg,
		position: position,
		greeks:   greeks,
		market:   market,
		breaker:  breaker,
		journal:  j,
	}
}

// Start 启动 HTTP 服务（非阻塞）
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/status", s.handleStatus)
	r.GET("/position", s.handlePosition)
	r.GET("/greeks", s.handleGreeks)
	r.GET("/fills", s.handleFills)
	r.POST("/halt", s.handleHalt)
	r.POST("/resume", s.handleResume)

	s.httpSrv = &http.Server{Addr: s.cfg.Addr, Handler: r}
	go func() {
		log.Infof("控制面监听 %s", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("控制面异常退出: %v", err)
		}
	}()
	return nil
}

// Shutdown 优雅关停
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStatus(c *gin.Context) {
	pos := s.position.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"halted":            s.breaker.IsHalted(),
		"state":             pos.State,
		"underlying_shares": pos.UnderlyingShares,
		"pending_order":     pos.HasPendingOrder,
		"realized_pnl":      s.position.TotalRealizedPnL().String(),
		"daily_pnl_cents":   s.breaker.DailyPnLCents(),
		"updated_at":        pos.UpdatedAt,
	})
}

func (s *Server) handlePosition(c *gin.Context) {
	pos := s.position.Snapshot()
	legs := make([]gin.H, 0, len(pos.Legs))
	for _, leg := range pos.Legs {
		legs = append(legs, gin.H{
			"symbol":     leg.Contract.Symbol(),
			"strike":     leg.Contract.Strike,
			"expiration": leg.Contract.Expiration.Format("2006-01-02"),
			"right":      leg.Contract.Right,
			"quantity":   leg.Quantity,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"underlying_shares": pos.UnderlyingShares,
		"legs":              legs,
		"state":             pos.State,
	})
}

func (s *Server) handleGreeks(c *gin.Context) {
	g := s.greeks.LastGreeks()
	snap := s.market.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"net_delta":      g.NetDelta,
		"net_gamma":      g.NetGamma,
		"net_theta":      g.NetTheta,
		"spot":           g.Spot,
		"computed_at":    g.ComputedAt,
		"underlying_mid": snap.Underlying.Mid(),
		"call_mid":       snap.Call.Mid(),
		"put_mid":        snap.Put.Mid(),
	})
}

func (s *Server) handleFills(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusOK, gin.H{"fills": []any{}})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	fills, err := s.journal.RecentFills(ctx, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (s *Server) handleHalt(c *gin.Context) {
	s.breaker.Halt()
	c.JSON(http.StatusOK, gin.H{"halted": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.breaker.Resume()
	c.JSON(http.StatusOK, gin.H{"halted": false})
}
