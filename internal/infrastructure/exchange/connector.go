package exchange

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

type Option func(*options)

type options struct {
	restURL        string
	wsURL          string
	httpClient     *http.Client
	reconnectDelay time.Duration
}

// WithEndpoints overrides the REST base URL and websocket URL picked from the
// testnet flag. Empty values keep the default.
func WithEndpoints(restURL, wsURL string) Option {
	return func(o *options) {
		if restURL != "" {
			o.restURL = restURL
		}
		if wsURL != "" {
			o.wsURL = wsURL
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) { o.reconnectDelay = d }
}

func buildOptions(restURL, wsURL string, opts []Option) options {
	o := options{restURL: restURL, wsURL: wsURL, reconnectDelay: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the connector registered under name.
func New(name, apiKey, apiSecret string, testnet bool, logger *zap.Logger, opts ...Option) (domain.Connector, error) {
	switch name {
	case "binance":
		return NewBinanceFutures(apiKey, apiSecret, testnet, logger, opts...), nil
	case "bitmex":
		return NewBitmex(apiKey, apiSecret, testnet, logger, opts...), nil
	case "bybit":
		return NewBybit(apiKey, apiSecret, testnet, logger, opts...), nil
	}
	return nil, fmt.Errorf("unsupported exchange %q", name)
}

type subscription struct {
	channel domain.Channel
	symbol  string
}

// connectorBase is the state every exchange adapter shares: contracts loaded at
// start, the streamed price cache, listeners and the subscription log.
type connectorBase struct {
	name   string
	logger *zap.Logger
	prices *PriceCache

	contractsMu sync.RWMutex
	contracts   map[string]domain.Contract

	mu             sync.Mutex
	priceCallbacks []func(symbol string, quote domain.BidAsk)
	tradeCallbacks []func(tick domain.TradeTick)
	subs           []subscription
	subscribed     map[subscription]bool
}

func newConnectorBase(name string, logger *zap.Logger) connectorBase {
	return connectorBase{
		name:       name,
		logger:     logger.With(zap.String("exchange", name)),
		prices:     NewPriceCache(),
		contracts:  make(map[string]domain.Contract),
		subscribed: make(map[subscription]bool),
	}
}

func (b *connectorBase) Name() string { return b.name }

func (b *connectorBase) setContracts(contracts map[string]domain.Contract) {
	b.contractsMu.Lock()
	defer b.contractsMu.Unlock()
	b.contracts = contracts
}

func (b *connectorBase) ListContracts() map[string]domain.Contract {
	b.contractsMu.RLock()
	defer b.contractsMu.RUnlock()
	out := make(map[string]domain.Contract, len(b.contracts))
	for k, v := range b.contracts {
		out[k] = v
	}
	return out
}

func (b *connectorBase) Contract(symbol string) (domain.Contract, bool) {
	b.contractsMu.RLock()
	defer b.contractsMu.RUnlock()
	c, ok := b.contracts[symbol]
	return c, ok
}

func (b *connectorBase) allContracts() []domain.Contract {
	b.contractsMu.RLock()
	defer b.contractsMu.RUnlock()
	out := make([]domain.Contract, 0, len(b.contracts))
	for _, c := range b.contracts {
		out = append(out, c)
	}
	return out
}

func (b *connectorBase) Prices() map[string]domain.BidAsk { return b.prices.Snapshot() }

func (b *connectorBase) OnPriceUpdate(callback func(symbol string, quote domain.BidAsk)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.priceCallbacks = append(b.priceCallbacks, callback)
}

func (b *connectorBase) OnTradeUpdate(callback func(tick domain.TradeTick)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradeCallbacks = append(b.tradeCallbacks, callback)
}

// updatePrice merges a partial quote into the cache and notifies listeners.
// updatePrice merges the known sides into the cache and notifies price listeners.
func (b *connectorBase) updatePrice(symbol string, bid, ask *float64) domain.BidAsk {
	if bid == nil && ask == nil {
		quote, _ := b.prices.Get(symbol)
		return quote
	}
	quote := b.prices.Update(symbol, bid, ask)

	b.mu.Lock()
	callbacks := make([]func(string, domain.BidAsk), len(b.priceCallbacks))
	copy(callbacks, b.priceCallbacks)
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(symbol, quote)
	}
	return quote
}

func (b *connectorBase) emitTrade(tick domain.TradeTick) {
	tick.Exchange = b.name
	metrics.TicksTotal.WithLabelValues(b.name, tick.Symbol).Inc()

	b.mu.Lock()
	callbacks := make([]func(domain.TradeTick), len(b.tradeCallbacks))
	copy(callbacks, b.tradeCallbacks)
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(tick)
	}
}

// remember records new subscriptions and returns the ones not seen before.
func (b *connectorBase) remember(contracts []domain.Contract, channel domain.Channel) []subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fresh []subscription
	for _, c := range contracts {
		s := subscription{channel: channel, symbol: c.Symbol}
		if b.subscribed[s] {
			continue
		}
		b.subscribed[s] = true
		b.subs = append(b.subs, s)
		fresh = append(fresh, s)
	}
	return fresh
}

func (b *connectorBase) subscriptions() []subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]subscription(nil), b.subs...)
}

func ptr(v float64) *float64 { return &v }

var (
	_ domain.Connector = (*BinanceFutures)(nil)
	_ domain.Connector = (*Bitmex)(nil)
	_ domain.Connector = (*Bybit)(nil)
)
