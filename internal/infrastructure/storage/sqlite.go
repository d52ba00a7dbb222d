package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS strategy_params (
			strategy_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (strategy_id, key)
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			strategy_id TEXT NOT NULL,
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			contract TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			entry_price REAL,
			exit_price REAL,
			status TEXT NOT NULL,
			pnl REAL NOT NULL DEFAULT 0,
			entry_order_id TEXT NOT NULL,
			exit_order_id TEXT NOT NULL DEFAULT '',
			fill_stale BOOLEAN NOT NULL DEFAULT 0,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// StrategyConfigRepository Implementation

// SaveStrategy replaces every stored parameter of the strategy.
func (s *SQLiteStore) SaveStrategy(ctx context.Context, strategy *domain.StoredStrategy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO strategies (id, created_at) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET created_at = excluded.created_at`,
		strategy.ID, strategy.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_params WHERE strategy_id = ?`, strategy.ID); err != nil {
		return err
	}
	for k, v := range strategy.Params {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO strategy_params (strategy_id, key, value) VALUES (?, ?, ?)`,
			strategy.ID, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListStrategies(ctx context.Context) ([]*domain.StoredStrategy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.created_at, p.key, p.value
		FROM strategies s LEFT JOIN strategy_params p ON p.strategy_id = s.id
		ORDER BY s.created_at, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []*domain.StoredStrategy
	byID := make(map[string]*domain.StoredStrategy)
	for rows.Next() {
		var id string
		var createdAt int64
		var key, value sql.NullString
		if err := rows.Scan(&id, &createdAt, &key, &value); err != nil {
			return nil, err
		}
		st, ok := byID[id]
		if !ok {
			st = &domain.StoredStrategy{ID: id, CreatedAt: createdAt, Params: make(map[string]string)}
			byID[id] = st
			strategies = append(strategies, st)
		}
		if key.Valid {
			st.Params[key.String] = value.String
		}
	}
	return strategies, rows.Err()
}

func (s *SQLiteStore) DeleteStrategy(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_params WHERE strategy_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// TradeRepository Implementation

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	contract, err := json.Marshal(trade.Contract)
	if err != nil {
		return fmt.Errorf("encode contract: %w", err)
	}

	query := `INSERT INTO trades (id, strategy_id, exchange, symbol, contract, side, quantity, entry_price, exit_price, status, pnl, entry_order_id, exit_order_id, fill_stale, opened_at, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
				quantity = excluded.quantity,
				entry_price = excluded.entry_price,
				exit_price = excluded.exit_price,
				status = excluded.status,
				pnl = excluded.pnl,
				exit_order_id = excluded.exit_order_id,
				fill_stale = excluded.fill_stale,
				closed_at = excluded.closed_at`
	_, err = s.db.ExecContext(ctx, query,
		trade.ID, trade.StrategyID, trade.Contract.Exchange, trade.Contract.Symbol, string(contract),
		string(trade.Side), trade.Quantity, nullFloat(trade.EntryPrice), nullFloat(trade.ExitPrice),
		string(trade.Status), trade.PnL, trade.EntryOrderID, trade.ExitOrderID, trade.FillStale,
		trade.Time, trade.ClosedAt)
	return err
}

// ListTrades returns the most recent trades first. limit <= 0 means all.
func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	query := `SELECT id, strategy_id, contract, side, quantity, entry_price, exit_price, status, pnl, entry_order_id, exit_order_id, fill_stale, opened_at, closed_at
			  FROM trades ORDER BY opened_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var contract, side, status string
		var entry, exit sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.StrategyID, &contract, &side, &t.Quantity, &entry, &exit, &status,
			&t.PnL, &t.EntryOrderID, &t.ExitOrderID, &t.FillStale, &t.Time, &t.ClosedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(contract), &t.Contract); err != nil {
			return nil, fmt.Errorf("decode contract of trade %s: %w", t.ID, err)
		}
		t.Side = domain.Side(side)
		t.Status = domain.TradeStatus(status)
		if entry.Valid {
			t.EntryPrice = &entry.Float64
		}
		if exit.Valid {
			t.ExitPrice = &exit.Float64
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}
