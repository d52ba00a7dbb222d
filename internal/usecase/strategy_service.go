package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

var ErrStrategyNotFound = errors.New("strategy not found")

// StrategyInfo describes one active strategy.
type StrategyInfo struct {
	ID       string          `json:"id"`
	Config   StrategyConfig  `json:"config"`
	Contract domain.Contract `json:"contract"`
	State    string          `json:"state"`
	Candles  int             `json:"candles"`
}

// StrategyService keeps the registry of running engines and routes stream
// updates from every connector to them.
type StrategyService struct {
	connectors map[string]domain.Connector
	configs    domain.StrategyConfigRepository
	trades     domain.TradeRepository
	opts       EngineOptions
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	engines map[string]*Engine
	// trades of stopped strategies stay listed
	retired []domain.Trade
}

// NewStrategyService registers its stream listeners on every connector.
// configs and trades may be nil to run without persistence.
func NewStrategyService(connectors map[string]domain.Connector, configs domain.StrategyConfigRepository, trades domain.TradeRepository, opts EngineOptions, logger *zap.Logger) *StrategyService {
	s := &StrategyService{
		connectors: connectors,
		configs:    configs,
		trades:     trades,
		opts:       opts.withDefaults(),
		logger:     logger,
		now:        time.Now,
		engines:    make(map[string]*Engine),
	}
	for name, c := range connectors {
		exchange := name
		c.OnTradeUpdate(func(tick domain.TradeTick) { s.dispatchTick(exchange, tick) })
		c.OnPriceUpdate(func(symbol string, quote domain.BidAsk) { s.dispatchPrice(exchange, symbol, quote) })
	}
	return s
}

func (s *StrategyService) Connector(name string) (domain.Connector, bool) {
	c, ok := s.connectors[name]
	return c, ok
}

func (s *StrategyService) ConnectorNames() []string {
	names := make([]string, 0, len(s.connectors))
	for name := range s.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartStrategy activates a new strategy and saves its configuration.
func (s *StrategyService) StartStrategy(ctx context.Context, cfg StrategyConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.activate(ctx, id, cfg); err != nil {
		return "", err
	}

	if s.configs != nil {
		stored := &domain.StoredStrategy{ID: id, Params: cfg.Params(), CreatedAt: s.now().UnixMilli()}
		if err := s.configs.SaveStrategy(ctx, stored); err != nil {
			s.logger.Error("Failed to save strategy", zap.String("strategy_id", id), zap.Error(err))
		}
	}
	return id, nil
}

func (s *StrategyService) activate(ctx context.Context, id string, cfg StrategyConfig) error {
	connector, ok := s.connectors[cfg.Exchange]
	if !ok {
		return fmt.Errorf("unknown exchange %q", cfg.Exchange)
	}
	contract, ok := connector.Contract(cfg.Symbol)
	if !ok {
		return fmt.Errorf("unknown contract %s on %s", cfg.Symbol, cfg.Exchange)
	}
	tf := cfg.TimeframeValue()
	if !slices.Contains(connector.SupportedTimeframes(), tf) {
		return fmt.Errorf("timeframe %s not supported on %s", tf, cfg.Exchange)
	}

	s.mu.Lock()
	if _, exists := s.engines[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("strategy %s already running", id)
	}
	s.mu.Unlock()

	history, err := connector.GetHistoricalCandles(ctx, contract, tf)
	if err != nil {
		return fmt.Errorf("load candles for %s: %w", contract.Symbol, err)
	}
	if len(history) == 0 {
		return fmt.Errorf("%w: no candles for %s %s", domain.ErrDataUnavailable, contract.Symbol, tf)
	}

	series := NewCandleSeries(contract, tf, history, s.opts.StaleTick, s.logger)
	engine := NewEngine(id, cfg, contract, connector, series, s.trades, s.opts, s.logger)

	s.mu.Lock()
	s.engines[id] = engine
	s.mu.Unlock()

	if err := connector.Subscribe([]domain.Contract{contract}, domain.ChannelTrades); err != nil {
		s.mu.Lock()
		delete(s.engines, id)
		s.mu.Unlock()
		engine.Stop()
		return fmt.Errorf("subscribe trades for %s: %w", contract.Symbol, err)
	}

	s.logger.Info("Strategy started",
		zap.String("strategy_id", id),
		zap.String("strategy", cfg.Strategy),
		zap.String("exchange", cfg.Exchange),
		zap.String("symbol", cfg.Symbol),
		zap.String("timeframe", cfg.Timeframe),
		zap.Int("candles", len(history)),
	)
	return nil
}

// StopStrategy unregisters the strategy and removes its saved configuration.
func (s *StrategyService) StopStrategy(ctx context.Context, id string) error {
	s.mu.Lock()
	engine, exists := s.engines[id]
	if exists {
		engine.Stop()
		delete(s.engines, id)
		s.retired = append(s.retired, engine.Trades()...)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}

	if s.configs != nil {
		if err := s.configs.DeleteStrategy(ctx, id); err != nil {
			s.logger.Error("Failed to delete strategy", zap.String("strategy_id", id), zap.Error(err))
		}
	}
	s.logger.Info("Strategy stopped", zap.String("strategy_id", id))
	return nil
}

// Restore reactivates every saved strategy. Broken records are logged and skipped.
func (s *StrategyService) Restore(ctx context.Context) (int, error) {
	if s.configs == nil {
		return 0, nil
	}
	stored, err := s.configs.ListStrategies(ctx)
	if err != nil {
		return 0, fmt.Errorf("list strategies: %w", err)
	}

	restored := 0
	for _, st := range stored {
		cfg, err := ParseStrategyConfig(st.Params)
		if err != nil {
			s.logger.Warn("Skipping invalid saved strategy", zap.String("strategy_id", st.ID), zap.Error(err))
			continue
		}
		if err := s.activate(ctx, st.ID, cfg); err != nil {
			s.logger.Warn("Failed to restore strategy", zap.String("strategy_id", st.ID), zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

// StopAll stops every engine without touching saved configurations.
func (s *StrategyService) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, engine := range s.engines {
		engine.Stop()
		delete(s.engines, id)
		s.retired = append(s.retired, engine.Trades()...)
	}
}

func (s *StrategyService) Strategies() []StrategyInfo {
	engines := s.snapshotEngines()
	out := make([]StrategyInfo, 0, len(engines))
	for _, e := range engines {
		out = append(out, StrategyInfo{
			ID:       e.ID(),
			Config:   e.Config(),
			Contract: e.Contract(),
			State:    e.State(),
			Candles:  e.series.Len(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *StrategyService) Candles(id string) ([]domain.Candle, error) {
	s.mu.Lock()
	engine, ok := s.engines[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return engine.Candles(), nil
}

// Trades returns the trades of every strategy started since launch, newest first.
func (s *StrategyService) Trades() []domain.Trade {
	s.mu.Lock()
	out := make([]domain.Trade, 0, len(s.retired))
	for _, t := range s.retired {
		out = append(out, t.Copy())
	}
	s.mu.Unlock()

	for _, e := range s.snapshotEngines() {
		out = append(out, e.Trades()...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time > out[j].Time })
	return out
}

// CloseTrade closes an open trade of any running strategy.
func (s *StrategyService) CloseTrade(ctx context.Context, tradeID string) error {
	for _, e := range s.snapshotEngines() {
		if e.HasTrade(tradeID) {
			return e.CloseTrade(ctx, tradeID)
		}
	}
	return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
}

func (s *StrategyService) snapshotEngines() []*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	engines := make([]*Engine, 0, len(s.engines))
	for _, e := range s.engines {
		engines = append(engines, e)
	}
	return engines
}

func (s *StrategyService) matching(exchange, symbol string) []*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var engines []*Engine
	for _, e := range s.engines {
		if e.cfg.Exchange == exchange && e.contract.Symbol == symbol {
			engines = append(engines, e)
		}
	}
	return engines
}

// dispatchTick runs on the connector's stream goroutine, so ticks reach each
// engine in receipt order.
func (s *StrategyService) dispatchTick(exchange string, tick domain.TradeTick) {
	for _, e := range s.matching(exchange, tick.Symbol) {
		e.OnTick(tick)
	}
}

func (s *StrategyService) dispatchPrice(exchange, symbol string, quote domain.BidAsk) {
	for _, e := range s.matching(exchange, symbol) {
		e.OnPrice(quote)
	}
}
