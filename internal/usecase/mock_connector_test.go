package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

var errNoScriptedOrder = errors.New("no scripted order")

// MockConnector replays scripted order responses and records every call.
type MockConnector struct {
	mu sync.Mutex

	contracts  map[string]domain.Contract
	candles    []domain.Candle
	candlesErr error
	timeframes []domain.Timeframe
	prices     map[string]domain.BidAsk

	TradeSize    float64
	TradeSizeErr error

	PlaceStatuses []*domain.OrderStatus
	OrderStatuses []*domain.OrderStatus
	StatusCalls   int
	Orders        []domain.OrderRequest
	Subscriptions []domain.Channel

	tradeCallbacks []func(domain.TradeTick)
	priceCallbacks []func(string, domain.BidAsk)
}

func NewMockConnector(contracts ...domain.Contract) *MockConnector {
	m := &MockConnector{
		contracts:  make(map[string]domain.Contract),
		timeframes: []domain.Timeframe{domain.Timeframe1m, domain.Timeframe5m, domain.Timeframe1h},
		prices:     make(map[string]domain.BidAsk),
		TradeSize:  2,
	}
	for _, c := range contracts {
		m.contracts[c.Symbol] = c
	}
	return m
}

func (m *MockConnector) Name() string                    { return "fake" }
func (m *MockConnector) Start(ctx context.Context) error { return nil }
func (m *MockConnector) Close() error                    { return nil }

func (m *MockConnector) ListContracts() map[string]domain.Contract { return m.contracts }

func (m *MockConnector) Contract(symbol string) (domain.Contract, bool) {
	c, ok := m.contracts[symbol]
	return c, ok
}

func (m *MockConnector) ListBalances(ctx context.Context) (map[string]domain.Balance, error) {
	return map[string]domain.Balance{"USDT": {Asset: "USDT", WalletBalance: 1000}}, nil
}

func (m *MockConnector) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	return m.candles, m.candlesErr
}

func (m *MockConnector) GetBidAsk(ctx context.Context, contract domain.Contract) (domain.BidAsk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prices[contract.Symbol], nil
}

func (m *MockConnector) Prices() map[string]domain.BidAsk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.BidAsk, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out
}

func (m *MockConnector) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders = append(m.Orders, req)
	if len(m.PlaceStatuses) == 0 {
		return nil, errNoScriptedOrder
	}
	status := m.PlaceStatuses[0]
	m.PlaceStatuses = m.PlaceStatuses[1:]
	return status, nil
}

func (m *MockConnector) CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	return &domain.OrderStatus{OrderID: orderID, Status: domain.OrderCanceled}, nil
}

// GetOrderStatus returns the scripted statuses in order, repeating the last one.
func (m *MockConnector) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	if len(m.OrderStatuses) == 0 {
		return nil, domain.ErrDataUnavailable
	}
	status := m.OrderStatuses[0]
	if len(m.OrderStatuses) > 1 {
		m.OrderStatuses = m.OrderStatuses[1:]
	}
	return status, nil
}

func (m *MockConnector) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	return m.TradeSize, m.TradeSizeErr
}

func (m *MockConnector) Subscribe(contracts []domain.Contract, channel domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscriptions = append(m.Subscriptions, channel)
	return nil
}

func (m *MockConnector) SupportedTimeframes() []domain.Timeframe { return m.timeframes }

func (m *MockConnector) OnPriceUpdate(callback func(symbol string, quote domain.BidAsk)) {
	m.priceCallbacks = append(m.priceCallbacks, callback)
}

func (m *MockConnector) OnTradeUpdate(callback func(tick domain.TradeTick)) {
	m.tradeCallbacks = append(m.tradeCallbacks, callback)
}

func (m *MockConnector) emitTrade(tick domain.TradeTick) {
	for _, cb := range m.tradeCallbacks {
		cb(tick)
	}
}

func (m *MockConnector) emitPrice(symbol string, quote domain.BidAsk) {
	m.mu.Lock()
	m.prices[symbol] = quote
	m.mu.Unlock()
	for _, cb := range m.priceCallbacks {
		cb(symbol, quote)
	}
}

func (m *MockConnector) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}

// MockTradeRepository keeps the last saved version of each trade.
type MockTradeRepository struct {
	mu     sync.Mutex
	Saved  map[string]domain.Trade
	Writes int
}

func NewMockTradeRepository() *MockTradeRepository {
	return &MockTradeRepository{Saved: make(map[string]domain.Trade)}
}

func (r *MockTradeRepository) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Saved[trade.ID] = trade.Copy()
	r.Writes++
	return nil
}

func (r *MockTradeRepository) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.Saved {
		c := t.Copy()
		out = append(out, &c)
	}
	return out, nil
}

type MockStrategyRepository struct {
	mu     sync.Mutex
	Stored map[string]*domain.StoredStrategy
}

func NewMockStrategyRepository() *MockStrategyRepository {
	return &MockStrategyRepository{Stored: make(map[string]*domain.StoredStrategy)}
}

func (r *MockStrategyRepository) SaveStrategy(ctx context.Context, s *domain.StoredStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stored[s.ID] = s
	return nil
}

func (r *MockStrategyRepository) ListStrategies(ctx context.Context) ([]*domain.StoredStrategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.StoredStrategy
	for _, s := range r.Stored {
		out = append(out, s)
	}
	return out, nil
}

func (r *MockStrategyRepository) DeleteStrategy(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Stored, id)
	return nil
}
