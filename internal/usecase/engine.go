package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrTradeClosed   = errors.New("trade already closed")
	ErrEngineBusy    = errors.New("position transition in progress")
)

const defaultFillPollInterval = 2 * time.Second

type engineState string

const (
	stateIdle    engineState = "idle"
	stateOpening engineState = "opening"
	stateOpen    engineState = "open"
	stateClosing engineState = "closing"
)

type EngineOptions struct {
	FillPollInterval time.Duration
	// FillPollMaxAttempts bounds the fill poll. Zero polls until the order fills.
	FillPollMaxAttempts int
	StaleTick           time.Duration
	// Spawn runs order placement off the stream goroutine. Defaults to a new goroutine.
	Spawn func(func())
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.FillPollInterval <= 0 {
		o.FillPollInterval = defaultFillPollInterval
	}
	if o.StaleTick <= 0 {
		o.StaleTick = defaultStaleTick
	}
	if o.Spawn == nil {
		o.Spawn = func(f func()) { go f() }
	}
	return o
}

// Engine runs one strategy on one contract. It holds at most one open position.
type Engine struct {
	id        string
	cfg       StrategyConfig
	contract  domain.Contract
	connector domain.Connector
	executor  *TradeExecutor
	series    *CandleSeries
	evaluator SignalEvaluator
	repo      domain.TradeRepository
	opts      EngineOptions
	now       func() time.Time
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   engineState
	trades  []*domain.Trade
	pending map[string]context.CancelFunc
}

func NewEngine(id string, cfg StrategyConfig, contract domain.Contract, connector domain.Connector, series *CandleSeries, repo domain.TradeRepository, opts EngineOptions, logger *zap.Logger) *Engine {
	logger = logger.With(
		zap.String("strategy_id", id),
		zap.String("strategy", cfg.Strategy),
		zap.String("exchange", contract.Exchange),
		zap.String("symbol", contract.Symbol),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		id:        id,
		cfg:       cfg,
		contract:  contract,
		connector: connector,
		executor:  NewTradeExecutor(connector, logger),
		series:    series,
		evaluator: cfg.NewEvaluator(logger),
		repo:      repo,
		opts:      opts.withDefaults(),
		now:       time.Now,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		state:     stateIdle,
		pending:   make(map[string]context.CancelFunc),
	}
}

func (e *Engine) ID() string                { return e.id }
func (e *Engine) Config() StrategyConfig    { return e.cfg }
func (e *Engine) Contract() domain.Contract { return e.contract }
func (e *Engine) Candles() []domain.Candle  { return e.series.Snapshot() }

func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.state)
}

// Stop cancels outstanding fill polls. Open trades stay open on the exchange.
func (e *Engine) Stop() {
	e.cancel()
}

// OnTick feeds one trade into the candle series and acts on the result.
func (e *Engine) OnTick(tick domain.TradeTick) {
	result := e.series.Apply(tick.Price, tick.Size, tick.Time)

	e.checkExit(tick.Price)

	if !e.evaluator.EvaluatesOn(result) {
		return
	}
	signal := e.evaluator.Evaluate(e.series.Snapshot())
	if signal == domain.SignalNone {
		return
	}
	e.logger.Info("Signal", zap.String("signal", signal.String()), zap.Float64("price", tick.Price))
	e.tryOpen(signal.Side())
}

// OnPrice recomputes PnL of open trades against the new top of book.
func (e *Engine) OnPrice(quote domain.BidAsk) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.trades {
		t.UpdatePnL(t.MarkPrice(quote))
	}
}

// Trades returns copies of every trade this engine opened, oldest first.
func (e *Engine) Trades() []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Trade, 0, len(e.trades))
	for _, t := range e.trades {
		out = append(out, t.Copy())
	}
	return out
}

func (e *Engine) HasTrade(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findLocked(id) != nil
}

func (e *Engine) findLocked(id string) *domain.Trade {
	for _, t := range e.trades {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (e *Engine) openTradeLocked() *domain.Trade {
	for _, t := range e.trades {
		if t.Status == domain.TradeOpen {
			return t
		}
	}
	return nil
}

func (e *Engine) setState(s engineState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) tryOpen(side domain.Side) {
	e.mu.Lock()
	if e.state != stateIdle {
		e.mu.Unlock()
		return
	}
	e.state = stateOpening
	e.mu.Unlock()

	e.opts.Spawn(func() { e.openPosition(side) })
}

func (e *Engine) openPosition(side domain.Side) {
	ctx := e.ctx

	last, ok := e.series.Last()
	if !ok || last.Close <= 0 {
		e.logger.Warn("No reference price to size the trade")
		e.setState(stateIdle)
		return
	}

	size, err := e.connector.GetTradeSize(ctx, e.contract, last.Close, e.cfg.BalancePct)
	if err != nil || size <= 0 {
		e.logger.Warn("Trade size unavailable, skipping signal", zap.Float64("size", size), zap.Error(err))
		e.setState(stateIdle)
		return
	}

	status, err := e.executor.Open(ctx, e.contract, side, size)
	if err != nil {
		e.logger.Error("Failed to open position", zap.String("side", string(side)), zap.Error(err))
		e.setState(stateIdle)
		return
	}

	trade := &domain.Trade{
		ID:           uuid.NewString(),
		Time:         e.now().UnixMilli(),
		Contract:     e.contract,
		StrategyID:   e.id,
		Side:         side,
		Status:       domain.TradeOpen,
		Quantity:     size,
		EntryOrderID: status.OrderID,
	}
	filled := status.Filled() && status.AvgPrice > 0
	if filled {
		trade.SetEntry(status.AvgPrice)
	}

	e.mu.Lock()
	e.trades = append(e.trades, trade)
	e.state = stateOpen
	snapshot := trade.Copy()
	e.mu.Unlock()

	e.persist(&snapshot)
	e.logger.Info("Position opened",
		zap.String("trade_id", trade.ID),
		zap.String("side", string(side)),
		zap.Float64("quantity", size),
		zap.Bool("filled", filled),
	)

	if !filled {
		e.watchFill(trade.ID, status.OrderID)
	}
}

// watchFill starts one poll per order until the fill price is known.
func (e *Engine) watchFill(tradeID, orderID string) {
	ctx, cancel := context.WithCancel(e.ctx)

	e.mu.Lock()
	if _, exists := e.pending[orderID]; exists {
		e.mu.Unlock()
		cancel()
		return
	}
	e.pending[orderID] = cancel
	e.mu.Unlock()

	e.opts.Spawn(func() { e.pollFill(ctx, tradeID, orderID) })
}

func (e *Engine) pollFill(ctx context.Context, tradeID, orderID string) {
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.pending[orderID]; ok {
			cancel()
			delete(e.pending, orderID)
		}
		e.mu.Unlock()
	}()

	timer := time.NewTimer(e.opts.FillPollInterval)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		metrics.FillPollsTotal.WithLabelValues(e.contract.Exchange).Inc()
		status, err := e.connector.GetOrderStatus(ctx, e.contract, orderID)
		switch {
		case err != nil:
			e.logger.Warn("Fill poll failed", zap.String("order_id", orderID), zap.Int("attempt", attempt), zap.Error(err))
		case status.Filled() && status.AvgPrice > 0:
			e.recordEntry(tradeID, status.AvgPrice)
			return
		case status.Status == domain.OrderCanceled || status.Status == domain.OrderRejected || status.Status == domain.OrderExpired:
			e.logger.Warn("Entry order ended without fill", zap.String("order_id", orderID), zap.String("status", string(status.Status)))
			e.abandon(tradeID)
			return
		}

		if e.opts.FillPollMaxAttempts > 0 && attempt >= e.opts.FillPollMaxAttempts {
			e.logger.Error("Fill poll exhausted",
				zap.String("order_id", orderID),
				zap.Int("attempts", attempt),
				zap.Error(domain.ErrStaleFill),
			)
			e.markStale(tradeID)
			return
		}
		timer.Reset(e.opts.FillPollInterval)
	}
}

func (e *Engine) recordEntry(tradeID string, price float64) {
	e.mu.Lock()
	t := e.findLocked(tradeID)
	if t == nil {
		e.mu.Unlock()
		return
	}
	t.SetEntry(price)
	if quote, ok := e.connector.Prices()[e.contract.Symbol]; ok {
		t.UpdatePnL(t.MarkPrice(quote))
	}
	snapshot := t.Copy()
	e.mu.Unlock()

	e.persist(&snapshot)
	e.logger.Info("Entry filled", zap.String("trade_id", tradeID), zap.Float64("entry_price", price))
}

func (e *Engine) markStale(tradeID string) {
	e.mu.Lock()
	t := e.findLocked(tradeID)
	if t == nil {
		e.mu.Unlock()
		return
	}
	t.FillStale = true
	snapshot := t.Copy()
	e.mu.Unlock()
	e.persist(&snapshot)
}

// abandon closes a trade whose entry order never executed.
func (e *Engine) abandon(tradeID string) {
	e.mu.Lock()
	t := e.findLocked(tradeID)
	if t == nil || t.Status != domain.TradeOpen {
		e.mu.Unlock()
		return
	}
	t.Close(0, "", e.now().UnixMilli())
	if e.state == stateOpen {
		e.state = stateIdle
	}
	snapshot := t.Copy()
	e.mu.Unlock()
	e.persist(&snapshot)
}

// checkExit triggers take-profit or stop-loss on the open trade.
func (e *Engine) checkExit(price float64) {
	if e.cfg.TakeProfit <= 0 && e.cfg.StopLoss <= 0 {
		return
	}

	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return
	}
	t := e.openTradeLocked()
	if t == nil || !t.HasEntry() {
		e.mu.Unlock()
		return
	}
	move := (price - *t.EntryPrice) / *t.EntryPrice * 100
	if t.Side == domain.SideShort {
		move = -move
	}

	var reason string
	switch {
	case e.cfg.TakeProfit > 0 && move >= e.cfg.TakeProfit:
		reason = "take_profit"
	case e.cfg.StopLoss > 0 && move <= -e.cfg.StopLoss:
		reason = "stop_loss"
	default:
		e.mu.Unlock()
		return
	}
	e.state = stateClosing
	tradeID := t.ID
	e.mu.Unlock()

	e.logger.Info("Exit triggered", zap.String("trade_id", tradeID), zap.String("reason", reason), zap.Float64("price", price))
	e.opts.Spawn(func() {
		if err := e.closePosition(e.ctx, tradeID); err != nil {
			e.logger.Error("Failed to close position", zap.String("trade_id", tradeID), zap.Error(err))
		}
	})
}

// CloseTrade closes an open trade with an opposite market order.
func (e *Engine) CloseTrade(ctx context.Context, tradeID string) error {
	e.mu.Lock()
	t := e.findLocked(tradeID)
	switch {
	case t == nil:
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
	case t.Status != domain.TradeOpen:
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTradeClosed, tradeID)
	case e.state != stateOpen:
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEngineBusy, e.state)
	}
	e.state = stateClosing
	e.mu.Unlock()

	return e.closePosition(ctx, tradeID)
}

func (e *Engine) closePosition(ctx context.Context, tradeID string) error {
	e.mu.Lock()
	t := e.findLocked(tradeID)
	if t == nil {
		e.state = stateOpen
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
	}
	side, qty, entryOrderID := t.Side, t.Quantity, t.EntryOrderID
	e.mu.Unlock()

	// the entry fill poll keeps running until the exit order is accepted
	status, err := e.executor.Close(ctx, e.contract, side, qty)
	if err != nil {
		e.setState(stateOpen)
		return err
	}

	e.mu.Lock()
	if cancel, ok := e.pending[entryOrderID]; ok {
		cancel()
	}
	e.mu.Unlock()

	exit := status.AvgPrice
	if !status.Filled() || exit <= 0 {
		exit = 0
		if polled, err := e.connector.GetOrderStatus(ctx, e.contract, status.OrderID); err == nil && polled.Filled() {
			exit = polled.AvgPrice
		}
	}

	e.mu.Lock()
	t.Close(exit, status.OrderID, e.now().UnixMilli())
	e.state = stateIdle
	snapshot := t.Copy()
	e.mu.Unlock()

	e.persist(&snapshot)
	e.logger.Info("Position closed",
		zap.String("trade_id", tradeID),
		zap.Float64("exit_price", exit),
		zap.Float64("pnl", snapshot.PnL),
	)
	return nil
}

func (e *Engine) persist(t *domain.Trade) {
	if e.repo == nil {
		return
	}
	if err := e.repo.SaveTrade(context.Background(), t); err != nil {
		e.logger.Error("Failed to save trade", zap.String("trade_id", t.ID), zap.Error(err))
	}
}
