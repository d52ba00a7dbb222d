package domain

import "context"

// BidAsk is the last known top of book. Zero means the side is unknown.
type BidAsk struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// TradeTick is one public trade received from a stream. Time is epoch ms.
type TradeTick struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Size     float64 `json:"size"`
	Time     int64   `json:"time"`
}

// Channel identifies a stream subscription kind.
type Channel string

const (
	ChannelBook   Channel = "book"
	ChannelTrades Channel = "trades"
)

// Connector is the common contract every exchange adapter implements.
type Connector interface {
	Name() string
	// Start loads contracts and opens the stream. It returns once contracts are loaded.
	Start(ctx context.Context) error
	Close() error

	ListContracts() map[string]Contract
	Contract(symbol string) (Contract, bool)
	ListBalances(ctx context.Context) (map[string]Balance, error)
	GetHistoricalCandles(ctx context.Context, contract Contract, tf Timeframe) ([]Candle, error)
	GetBidAsk(ctx context.Context, contract Contract) (BidAsk, error)
	// Prices returns a copy of the streamed price cache.
	Prices() map[string]BidAsk

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderStatus, error)
	CancelOrder(ctx context.Context, contract Contract, orderID string) (*OrderStatus, error)
	GetOrderStatus(ctx context.Context, contract Contract, orderID string) (*OrderStatus, error)
	GetTradeSize(ctx context.Context, contract Contract, price, balancePct float64) (float64, error)

	Subscribe(contracts []Contract, channel Channel) error
	SupportedTimeframes() []Timeframe

	OnPriceUpdate(callback func(symbol string, quote BidAsk))
	OnTradeUpdate(callback func(tick TradeTick))
}

// TradeRepository persists trades. SaveTrade upserts by id.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)
}

// StoredStrategy is a strategy configuration as key/value parameters.
type StoredStrategy struct {
	ID        string            `json:"id"`
	Params    map[string]string `json:"params"`
	CreatedAt int64             `json:"created_at"`
}

type StrategyConfigRepository interface {
	SaveStrategy(ctx context.Context, s *StoredStrategy) error
	ListStrategies(ctx context.Context) ([]*StoredStrategy, error)
	DeleteStrategy(ctx context.Context, id string) error
}
