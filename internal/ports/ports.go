package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/hedgebot/internal/domain"
)

// Small capability interfaces shared across layers (components/infrastructure).
//
// NOTE: defined in a neutral package to avoid circular dependencies between
// the component packages and the infrastructure clients.

// QuoteHandler handles incoming quotes (serial delivery recommended).
type QuoteHandler interface {
	OnQuote(q domain.Quote)
}

// QuoteStream delivers quote events for a set of instruments, push-based.
type QuoteStream interface {
	Subscribe(instrumentIDs ...string)
	OnQuote(handler QuoteHandler)
	Run(ctx context.Context) error
}

// FillHandler handles asynchronous fill/terminal events from the broker.
type FillHandler interface {
	OnFill(ctx context.Context, ev domain.FillEvent)
}

// OrderTransport submits orders and streams fill notifications.
type OrderTransport interface {
	// SubmitOrder submits a signed-quantity market order and returns the broker order ID.
	SubmitOrder(ctx context.Context, order *domain.HedgeOrder) (brokerOrderID string, err error)
	CancelOpenOrders(ctx context.Context) error
	OnFill(handler FillHandler)
}

// AccountReader reads current holdings from the broker.
type AccountReader interface {
	// GetStockPosition returns the signed share count for a symbol (0 if flat).
	GetStockPosition(ctx context.Context, symbol string) (int, error)
	// GetOptionPositions returns all option holdings for an underlying.
	GetOptionPositions(ctx context.Context, underlying string) ([]domain.OptionLeg, error)
	ClosePosition(ctx context.Context, symbol string) error
}

// OptionChainProvider fetches candidate contracts and their quotes for selection.
type OptionChainProvider interface {
	// GetOptionChain returns active contracts for the underlying within the expiry window.
	GetOptionChain(ctx context.Context, underlying string, expiryGTE, expiryLTE time.Time) ([]domain.OptionContract, error)
	// GetOptionQuote returns the latest quote for an option symbol.
	GetOptionQuote(ctx context.Context, symbol string) (domain.Quote, error)
	// GetStockQuote returns the latest quote for the underlying.
	GetStockQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// RateSource supplies the annualized risk-free rate for a maturity.
type RateSource interface {
	// RiskFreeRate returns the rate for the given days to maturity
	// (falls back to a configured default internally on failure).
	RiskFreeRate(ctx context.Context, daysToMaturity int) float64
}

// DividendSource supplies the trailing annualized dividend yield.
type DividendSource interface {
	DividendYield(ctx context.Context, symbol string) float64
}

// TradeJournal records one structured entry per executed fill for audit.
type TradeJournal interface {
	RecordFill(ev domain.FillEvent, realizedPnL decimal.Decimal) error
	Close() error
}
