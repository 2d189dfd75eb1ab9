package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode 启动模式
type Mode string

const (
	ModeInit   Mode = "init"   // 选跨式并建仓
	ModeResume Mode = "resume" // 接管账户里已有的跨式
)

// MarketConfig 行情与触发参数
type MarketConfig struct {
	PriceChangeThreshold   float64 `yaml:"price_change_threshold"`   // 标的价格变动触发阈值（美元）
	HeartbeatSeconds       float64 `yaml:"heartbeat_seconds"`        // 心跳触发间隔
	SpreadRejectMultiplier float64 `yaml:"spread_reject_multiplier"` // k：价差 > k*均值 拒绝报价
	SpreadAvgAlpha         float64 `yaml:"spread_avg_alpha"`         // 价差均值 EMA 权重
}

// HedgingConfig 对冲参数
type HedgingConfig struct {
	DeltaThreshold      float64 `yaml:"delta_threshold"`       // 净 delta 死区（股）
	ContractMultiplier  int     `yaml:"contract_multiplier"`   // 期权合约乘数
	CommandTTLSeconds   float64 `yaml:"command_ttl_seconds"`   // 对冲命令 TTL
	OrderTimeoutSeconds float64 `yaml:"order_timeout_seconds"` // 在途订单超时
}

// PricingConfig 定价参数
type PricingConfig struct {
	IVLatticeSteps      int     `yaml:"iv_lattice_steps"`     // IV 反解的树步数
	GreeksLatticeSteps  int     `yaml:"greeks_lattice_steps"` // Greeks 精算的树步数
	DefaultRiskFreeRate float64 `yaml:"default_risk_free_rate"`
	DividendYield       float64 `yaml:"dividend_yield"`
	TreasuryBaseURL     string  `yaml:"treasury_base_url"`
}

// SelectionConfig 跨式选择参数
type SelectionConfig struct {
	MinExpirationDays int     `yaml:"min_expiration_days"`
	MaxExpirationDays int     `yaml:"max_expiration_days"`
	MinOpenInterest   int     `yaml:"min_open_interest"`
	ThetaWeight       float64 `yaml:"theta_weight"`
	Quantity          int     `yaml:"quantity"` // 每腿张数
}

// RiskConfig 风控参数
type RiskConfig struct {
	MaxConsecutiveFailures int64 `yaml:"max_consecutive_failures"`
	DailyLossLimitCents    int64 `yaml:"daily_loss_limit_cents"`
}

// BrokerConfig 券商接入
type BrokerConfig struct {
	BaseURL    string `yaml:"base_url"`
	StreamURL  string `yaml:"stream_url"`
	QuoteWSURL string `yaml:"quote_ws_url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
}

// Config 应用配置
type Config struct {
	Mode       Mode            `yaml:"mode"`
	Underlying string          `yaml:"underlying"`
	Market     MarketConfig    `yaml:"market"`
	Hedging    HedgingConfig   `yaml:"hedging"`
	Pricing    PricingConfig   `yaml:"pricing"`
	Selection  SelectionConfig `yaml:"selection"`
	Risk       RiskConfig      `yaml:"risk"`
	Broker     BrokerConfig    `yaml:"broker"`

	JournalPath string `yaml:"journal_path"`
	ControlAddr string `yaml:"control_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// Load 从 yaml 文件加载配置（可为空路径），再叠加环境变量，最后校验。
// 优先级：环境变量 > 配置文件 > 默认值。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件 %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// 没有配置文件时用默认值 + 环境变量
		default:
			return nil, fmt.Errorf("读取配置文件 %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Mode:       ModeResume,
		Underlying: "AAPL",
		Market: MarketConfig{
			PriceChangeThreshold:   0.05,
			HeartbeatSeconds:       5.0,
			SpreadRejectMultiplier: 1.5,
			SpreadAvgAlpha:         0.1,
		},
		Hedging: HedgingConfig{
			DeltaThreshold:      2.0,
			ContractMultiplier:  100,
			CommandTTLSeconds:   5.0,
			OrderTimeoutSeconds: 30.0,
		},
		Pricing: PricingConfig{
			IVLatticeSteps:      100,
			GreeksLatticeSteps:  100,
			DefaultRiskFreeRate: 0.045,
		},
		Selection: SelectionConfig{
			MinExpirationDays: 30,
			MaxExpirationDays: 60,
			MinOpenInterest:   100,
			ThetaWeight:       5.0,
			Quantity:          1,
		},
		Risk: RiskConfig{
			MaxConsecutiveFailures: 5,
		},
		JournalPath: "data/journal.db",
		ControlAddr: "127.0.0.1:8787",
		LogLevel:    "info",
	}
}

func applyEnv(cfg *Config) {
	cfg.Underlying = getEnv("HEDGEBOT_UNDERLYING", cfg.Underlying)
	cfg.Mode = Mode(getEnv("HEDGEBOT_MODE", string(cfg.Mode)))
	cfg.Broker.APIKey = getEnv("BROKER_API_KEY", cfg.Broker.APIKey)
	cfg.Broker.APISecret = getEnv("BROKER_API_SECRET", cfg.Broker.APISecret)
	cfg.Broker.BaseURL = getEnv("BROKER_BASE_URL", cfg.Broker.BaseURL)
	cfg.Broker.StreamURL = getEnv("BROKER_STREAM_URL", cfg.Broker.StreamURL)
	cfg.Broker.QuoteWSURL = getEnv("BROKER_QUOTE_WS_URL", cfg.Broker.QuoteWSURL)
	cfg.LogLevel = getEnv("HEDGEBOT_LOG_LEVEL", cfg.LogLevel)

	cfg.Hedging.DeltaThreshold = parseFloatEnv("HEDGING_DELTA_THRESHOLD", cfg.Hedging.DeltaThreshold)
	cfg.Market.PriceChangeThreshold = parseFloatEnv("PRICE_CHANGE_THRESHOLD", cfg.Market.PriceChangeThreshold)
	cfg.Market.HeartbeatSeconds = parseFloatEnv("HEARTBEAT_TRIGGER_SECONDS", cfg.Market.HeartbeatSeconds)
	cfg.Hedging.CommandTTLSeconds = parseFloatEnv("TRADE_COMMAND_TTL_SECONDS", cfg.Hedging.CommandTTLSeconds)
	cfg.Selection.MinExpirationDays = parseIntEnv("MIN_EXPIRATION_DAYS", cfg.Selection.MinExpirationDays)
	cfg.Selection.MaxExpirationDays = parseIntEnv("MAX_EXPIRATION_DAYS", cfg.Selection.MaxExpirationDays)
	cfg.Selection.MinOpenInterest = parseIntEnv("MIN_OPEN_INTEREST", cfg.Selection.MinOpenInterest)
	cfg.Selection.ThetaWeight = parseFloatEnv("THETA_WEIGHT", cfg.Selection.ThetaWeight)
	cfg.Selection.Quantity = parseIntEnv("STRATEGY_MULTIPLIER", cfg.Selection.Quantity)
}

func (c *Config) validate() error {
	if c.Mode != ModeInit && c.Mode != ModeResume {
		return fmt.Errorf("mode 必须是 init 或 resume，实际 %q", c.Mode)
	}
	if c.Underlying == "" {
		return fmt.Errorf("underlying 不能为空")
	}
	if c.Hedging.DeltaThreshold <= 0 {
		return fmt.Errorf("hedging.delta_threshold 必须为正")
	}
	if c.Market.PriceChangeThreshold <= 0 {
		return fmt.Errorf("market.price_change_threshold 必须为正")
	}
	if c.Selection.MinExpirationDays >= c.Selection.MaxExpirationDays {
		return fmt.Errorf("selection 到期窗口无效: [%d, %d]", c.Selection.MinExpirationDays, c.Selection.MaxExpirationDays)
	}
	if c.Selection.Quantity <= 0 {
		return fmt.Errorf("selection.quantity 必须为正")
	}
	if c.Pricing.IVLatticeSteps <= 0 || c.Pricing.GreeksLatticeSteps <= 0 {
		return fmt.Errorf("pricing 树步数必须为正")
	}
	return nil
}

// Heartbeat 心跳触发间隔
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Market.HeartbeatSeconds * float64(time.Second))
}

// CommandTTL 对冲命令 TTL
func (c *Config) CommandTTL() time.Duration {
	return time.Duration(c.Hedging.CommandTTLSeconds * float64(time.Second))
}

// OrderTimeout 在途订单超时
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Hedging.OrderTimeoutSeconds * float64(time.Second))
}

// getEnv 获取环境变量，不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
