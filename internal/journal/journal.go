package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/hedgebot/internal/domain"
)

var log = logrus.WithField("component", "journal")

// FillRecord 一条成交流水
type FillRecord struct {
	OrderID      string          `json:"order_id"`
	InstrumentID string          `json:"instrument_id"`
	Side         string          `json:"side"`
	CumFilledQty int             `json:"cum_filled_qty"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
	TS           time.Time       `json:"ts"`
}

// Journal 基于 SQLite 的成交流水与已实现 PnL 台账。
// 写入都在 PositionManager 的执行 goroutine 上，读取来自控制面。
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）流水库
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	// modernc 驱动是纯 Go 实现，单连接避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("交易流水库已打开: %s", path)
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS fills (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  instrument_id TEXT NOT NULL,
  side TEXT NOT NULL,
  cum_filled_qty INTEGER NOT NULL,
  fill_price TEXT NOT NULL,    -- decimal 串，避免浮点误差
  realized_pnl TEXT NOT NULL,  -- 本笔触发的已实现刮擦 PnL
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("journal migrate: %w", err)
		}
	}
	return nil
}

// RecordFill 记录一条成交及其触发的已实现 PnL。实现 ports.TradeJournal。
func (j *Journal) RecordFill(ev domain.FillEvent, realizedPnL decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := j.db.ExecContext(ctx, `
INSERT INTO fills (order_id, instrument_id, side, cum_filled_qty, fill_price, realized_pnl, ts)
VALUES (?,?,?,?,?,?,?)
`, ev.OrderID, ev.InstrumentID, string(ev.Side), ev.CumFilledQty,
		decimal.NewFromFloat(ev.FillPrice).String(), realizedPnL.String(),
		ev.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// RealizedPnL 汇总全部已实现 PnL
func (j *Journal) RealizedPnL(ctx context.Context) (decimal.Decimal, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT realized_pnl FROM fills WHERE realized_pnl != '0'`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse pnl %q: %w", s, err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// RecentFills 返回最近的成交流水（控制面用）
func (j *Journal) RecentFills(ctx context.Context, limit int) ([]FillRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT order_id, instrument_id, side, cum_filled_qty, fill_price, realized_pnl, ts
FROM fills
ORDER BY ts DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var rec FillRecord
		var price, pnl, ts string
		if err := rows.Scan(&rec.OrderID, &rec.InstrumentID, &rec.Side, &rec.CumFilledQty, &price, &pnl, &ts); err != nil {
			return nil, err
		}
		if rec.FillPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse price %q: %w", price, err)
		}
		if rec.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse pnl %q: %w", pnl, err)
		}
		if rec.TS, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close 关闭底层数据库
func (j *Journal) Close() error {
	return j.db.Close()
}
