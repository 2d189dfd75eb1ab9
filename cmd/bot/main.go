package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hedgebot/internal/controlplane"
	"github.com/betbot/hedgebot/internal/domain"
	"github.com/betbot/hedgebot/internal/hedge"
	"github.com/betbot/hedgebot/internal/infrastructure/broker"
	"github.com/betbot/hedgebot/internal/infrastructure/rates"
	"github.com/betbot/hedgebot/internal/infrastructure/stream"
	"github.com/betbot/hedgebot/internal/journal"
	"github.com/betbot/hedgebot/internal/marketstate"
	"github.com/betbot/hedgebot/internal/portfolio"
	"github.com/betbot/hedgebot/internal/pricing"
	"github.com/betbot/hedgebot/internal/risk"
	"github.com/betbot/hedgebot/internal/selector"
	"github.com/betbot/hedgebot/pkg/config"
	"github.com/betbot/hedgebot/pkg/logger"
	"github.com/betbot/hedgebot/pkg/shutdown"
	"github.com/betbot/hedgebot/pkg/syncgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	log := logrus.WithField("component", "main")
	log.Infof("hedgebot 启动: underlying=%s mode=%s", cfg.Underlying, cfg.Mode)

	if err := run(cfg, log); err != nil {
		log.Fatalf("致命错误: %v", err)
	}
}

func run(cfg *config.Config, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}

	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveFailures: cfg.Risk.MaxConsecutiveFailures,
		DailyLossLimitCents:    cfg.Risk.DailyLossLimitCents,
	})

	brk := broker.NewClient(broker.Config{
		BaseURL:   cfg.Broker.BaseURL,
		StreamURL: cfg.Broker.StreamURL,
		APIKey:    cfg.Broker.APIKey,
		APISecret: cfg.Broker.APISecret,
	})

	ratesProvider := rates.NewProvider(rates.Config{
		TreasuryBaseURL: cfg.Pricing.TreasuryBaseURL,
		DefaultRate:     cfg.Pricing.DefaultRiskFreeRate,
		DividendYield:   cfg.Pricing.DividendYield,
	})

	engine := pricing.NewEngine(cfg.Pricing.IVLatticeSteps, cfg.Pricing.GreeksLatticeSteps)

	pm := portfolio.NewManager(portfolio.Config{
		UnderlyingSymbol: cfg.Underlying,
		CommandTTL:       cfg.CommandTTL(),
		OrderTimeout:     cfg.OrderTimeout(),
	}, brk, j, breaker)

	// 成交回报流必须先于任何下单启动，保证不丢终态回报
	brk.OnFill(pm)
	go func() {
		if err := brk.RunFillStream(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("成交回报流退出: %v", err)
		}
	}()

	// 建仓或接管既有跨式
	call, put, shares, err := establishPosition(ctx, cfg, brk, engine, ratesProvider, log)
	if err != nil {
		return err
	}
	days := call.DaysToExpiry(time.Now())
	bound := rates.Bound{Provider: ratesProvider, Days: days, Symbol: cfg.Underlying}

	legs := []domain.OptionLeg{
		{Contract: call, Quantity: cfg.Selection.Quantity},
		{Contract: put, Quantity: cfg.Selection.Quantity},
	}

	ms := marketstate.NewManager(marketstate.Config{
		UnderlyingSymbol:       cfg.Underlying,
		CallSymbol:             call.Symbol(),
		PutSymbol:              put.Symbol(),
		PriceChangeThreshold:   cfg.Market.PriceChangeThreshold,
		HeartbeatInterval:      cfg.Heartbeat(),
		SpreadRejectMultiplier: cfg.Market.SpreadRejectMultiplier,
		SpreadAvgAlpha:         cfg.Market.SpreadAvgAlpha,
	})

	// REST 快照预热，避免等第一轮推送
	spot := seedMarket(ctx, ms, brk, cfg.Underlying, call.Symbol(), put.Symbol(), log)
	pm.SetInitialPosition(shares, spot, legs)

	calc := hedge.NewCalculator(hedge.Config{
		ContractMultiplier: cfg.Hedging.ContractMultiplier,
		DeadBandThreshold:  cfg.Hedging.DeltaThreshold,
	}, ms, pm, engine, bound, pm)

	quotes := stream.NewQuoteStream(stream.Config{URL: cfg.Broker.QuoteWSURL})
	quotes.Subscribe(cfg.Underlying, call.Symbol(), put.Symbol())
	quotes.OnQuote(ms)

	cp := controlplane.NewServer(controlplane.Config{Addr: cfg.ControlAddr}, pm, calc, ms, breaker, j)
	if err := cp.Start(); err != nil {
		return err
	}

	sg := syncgroup.NewSyncGroup()
	sg.Add(func() { pm.Run(ctx) })
	sg.Add(func() { calc.Run(ctx) })
	sg.Add(func() {
		if err := quotes.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("行情流退出: %v", err)
		}
	})
	sg.Run()

	<-ctx.Done()
	log.Info("收到退出信号，开始优雅关闭")

	sd := shutdown.NewManager()
	sd.OnShutdown(func(c context.Context) { _ = cp.Shutdown(c) })
	sd.OnShutdown(func(c context.Context) { _ = brk.CancelOpenOrders(c) })

	sdCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sd.Shutdown(sdCtx)
	sg.Wait()

	// 等所有写入方退出后再关日志库
	if err := j.Close(); err != nil {
		log.Warnf("关闭流水库失败: %v", err)
	}
	return nil
}

// establishPosition 根据模式建仓（init）或接管既有持仓（resume），
// 返回两条腿的合约与当前标的持股。失败属于启动期致命错误。
func establishPosition(ctx context.Context, cfg *config.Config, brk *broker.Client,
	engine *pricing.Engine, ratesProvider *rates.Provider, log *logrus.Entry) (call, put domain.OptionContract, shares int, err error) {

	bound := rates.Bound{
		Provider: ratesProvider,
		Days:     (cfg.Selection.MinExpirationDays + cfg.Selection.MaxExpirationDays) / 2,
		Symbol:   cfg.Underlying,
	}
	sel := selector.NewSelector(selector.Config{
		Underlying:        cfg.Underlying,
		MinExpirationDays: cfg.Selection.MinExpirationDays,
		MaxExpirationDays: cfg.Selection.MaxExpirationDays,
		MinOpenInterest:   cfg.Selection.MinOpenInterest,
		ThetaWeight:       cfg.Selection.ThetaWeight,
		Quantity:          cfg.Selection.Quantity,
	}, brk, engine, bound)

	switch cfg.Mode {
	case config.ModeInit:
		// 先清场：撤掉挂单、平掉残留仓位，再建新跨式
		if err := cleanSlate(ctx, cfg.Underlying, brk, log); err != nil {
			return call, put, 0, err
		}
		st, serr := sel.Select(ctx)
		if serr != nil {
			return call, put, 0, serr
		}
		if err := enterStraddle(ctx, brk, st, cfg.Selection.Quantity, log); err != nil {
			return call, put, 0, err
		}
		return st.Call, st.Put, 0, nil

	case config.ModeResume:
		legs, lerr := brk.GetOptionPositions(ctx, cfg.Underlying)
		if lerr != nil {
			return call, put, 0, lerr
		}
		call, put, err = sel.ValidateResume(legs)
		if err != nil {
			return call, put, 0, err
		}
		shares, err = brk.GetStockPosition(ctx, cfg.Underlying)
		if err != nil {
			return call, put, 0, err
		}
		log.Infof("接管既有仓位: call=%s put=%s shares=%d", call.Symbol(), put.Symbol(), shares)
		return call, put, shares, nil
	}
	return call, put, 0, fmt.Errorf("未知模式 %q", cfg.Mode)
}

// cleanSlate 撤销全部挂单并平掉该标的的既有期权腿和股票持仓
func cleanSlate(ctx context.Context, underlying string, brk *broker.Client, log *logrus.Entry) error {
	if err := brk.CancelOpenOrders(ctx); err != nil {
		return fmt.Errorf("撤单失败: %w", err)
	}
	legs, err := brk.GetOptionPositions(ctx, underlying)
	if err != nil {
		return err
	}
	for _, leg := range legs {
		log.Infof("平掉残留期权腿: %s x%d", leg.Contract.Symbol(), leg.Quantity)
		if err := brk.ClosePosition(ctx, leg.Contract.Symbol()); err != nil {
			return err
		}
	}
	shares, err := brk.GetStockPosition(ctx, underlying)
	if err != nil {
		return err
	}
	if shares != 0 {
		log.Infof("平掉残留股票持仓: %s x%d", underlying, shares)
		if err := brk.ClosePosition(ctx, underlying); err != nil {
			return err
		}
	}
	return nil
}

// enterStraddle 市价买入跨式两腿
func enterStraddle(ctx context.Context, brk *broker.Client, st selector.Straddle, qty int, log *logrus.Entry) error {
	for _, c := range []domain.OptionContract{st.Call, st.Put} {
		order := &domain.HedgeOrder{
			ClientOrderID: uuid.NewString(),
			InstrumentID:  c.Symbol(),
			SignedQty:     qty,
			Status:        domain.OrderStatusPending,
			SubmittedAt:   time.Now(),
		}
		id, err := brk.SubmitOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("建仓腿 %s 下单失败: %w", c.Symbol(), err)
		}
		log.Infof("建仓订单已提交: %s x%d -> %s", c.Symbol(), qty, id)
	}
	return nil
}

// seedMarket 用 REST 最新报价预热行情快照，返回标的现价（成本基准用）
func seedMarket(ctx context.Context, ms *marketstate.Manager, brk *broker.Client,
	underlying, callSym, putSym string, log *logrus.Entry) float64 {

	spot := 0.0
	if q, err := brk.GetStockQuote(ctx, underlying); err == nil {
		ms.SeedFromQuotes(q)
		spot = q.Mid()
	} else {
		log.Warnf("标的报价预热失败: %v", err)
	}
	for _, sym := range []string{callSym, putSym} {
		if q, err := brk.GetOptionQuote(ctx, sym); err == nil {
			ms.SeedFromQuotes(q)
		} else {
			log.Warnf("期权报价预热失败 %s: %v", sym, err)
		}
	}
	return spot
}
