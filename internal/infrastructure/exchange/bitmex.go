package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

const (
	BitmexBaseURL        = "https://www.bitmex.com"
	BitmexTestnetBaseURL = "https://testnet.bitmex.com"
	BitmexWSURL          = "wss://www.bitmex.com/realtime"
	BitmexTestnetWSURL   = "wss://testnet.bitmex.com/realtime"

	bitmexContractsPath  = "/api/v1/instrument/active"
	bitmexInstrumentPath = "/api/v1/instrument"
	bitmexMarginPath     = "/api/v1/user/margin"
	bitmexCandlesPath    = "/api/v1/trade/bucketed"
	bitmexOrderPath      = "/api/v1/order"

	bitmexCandleLimit  = 500
	bitmexDefaultAsset = "XBt"
)

// bitmexMinorUnits converts the integer amounts BitMEX reports per currency into whole units.
var bitmexMinorUnits = map[string]float64{
	"XBt":  1e-8,
	"USDt": 1e-6,
}

func bitmexUnit(currency string) float64 {
	if u, ok := bitmexMinorUnits[currency]; ok {
		return u
	}
	return 1e-8
}

// Bitmex is the BitMEX derivatives connector. It trades linear, inverse and quanto contracts.
type Bitmex struct {
	connectorBase
	rest   *restClient
	stream *streamWorker
	subMu  sync.Mutex
}

func NewBitmex(apiKey, apiSecret string, testnet bool, logger *zap.Logger, opts ...Option) *Bitmex {
	restURL, wsURL := BitmexBaseURL, BitmexWSURL
	if testnet {
		restURL, wsURL = BitmexTestnetBaseURL, BitmexTestnetWSURL
	}
	o := buildOptions(restURL, wsURL, opts)

	b := &Bitmex{connectorBase: newConnectorBase("bitmex", logger)}
	b.rest = newRESTClient(b.name, o.restURL, o.httpClient, NewHeaderSigner(apiKey, apiSecret), b.logger)
	b.stream = newStreamWorker(b.name, o.wsURL, b.logger, o.reconnectDelay)
	b.stream.onConnect = b.resubscribe
	b.stream.onMessage = b.handleMessage
	return b
}

func (b *Bitmex) Start(ctx context.Context) error {
	contracts, err := b.fetchContracts(ctx)
	if err != nil {
		return fmt.Errorf("load bitmex contracts: %w", err)
	}
	b.setContracts(contracts)
	b.remember(b.allContracts(), domain.ChannelBook)
	b.stream.Start(ctx)
	b.logger.Info("Bitmex connector started", zap.Int("contracts", len(contracts)))
	return nil
}

func (b *Bitmex) Close() error {
	b.stream.Stop()
	return nil
}

func (b *Bitmex) SupportedTimeframes() []domain.Timeframe {
	return []domain.Timeframe{domain.Timeframe1m, domain.Timeframe5m, domain.Timeframe1h, domain.Timeframe1d}
}

type bitmexInstrument struct {
	Symbol        string   `json:"symbol"`
	RootSymbol    string   `json:"rootSymbol"`
	QuoteCurrency string   `json:"quoteCurrency"`
	SettlCurrency string   `json:"settlCurrency"`
	TickSize      float64  `json:"tickSize"`
	LotSize       float64  `json:"lotSize"`
	IsQuanto      bool     `json:"isQuanto"`
	IsInverse     bool     `json:"isInverse"`
	Multiplier    float64  `json:"multiplier"`
	BidPrice      *float64 `json:"bidPrice"`
	AskPrice      *float64 `json:"askPrice"`
}

func (b *Bitmex) contractFrom(in bitmexInstrument) domain.Contract {
	settle := in.SettlCurrency
	if settle == "" {
		settle = bitmexDefaultAsset
	}

	kind := domain.SettlementLinear
	switch {
	case in.IsInverse:
		kind = domain.SettlementInverse
	case in.IsQuanto:
		kind = domain.SettlementQuanto
	}

	// XBTUSD reports multiplier -100000000: normalized to -1, then flipped to +1.
	multiplier := in.Multiplier * bitmexUnit(settle)
	if in.IsInverse {
		multiplier = -multiplier
	}

	return domain.Contract{
		Exchange:         b.name,
		Symbol:           in.Symbol,
		BaseAsset:        in.RootSymbol,
		QuoteAsset:       in.QuoteCurrency,
		SettleAsset:      settle,
		TickSize:         in.TickSize,
		LotSize:          in.LotSize,
		PriceDecimals:    domain.DecimalsForStep(in.TickSize),
		QuantityDecimals: domain.DecimalsForStep(in.LotSize),
		Settlement:       kind,
		Multiplier:       multiplier,
	}
}

func (b *Bitmex) fetchContracts(ctx context.Context) (map[string]domain.Contract, error) {
	resp, err := b.rest.do(ctx, "GET", bitmexContractsPath, nil, nil, false)
	if err != nil {
		return nil, err
	}

	var instruments []bitmexInstrument
	if err := json.Unmarshal(resp, &instruments); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}

	contracts := make(map[string]domain.Contract, len(instruments))
	for _, in := range instruments {
		c := b.contractFrom(in)
		if err := c.Validate(); err != nil {
			b.logger.Warn("Skipping contract", zap.Error(err))
			continue
		}
		contracts[c.Symbol] = c
	}
	return contracts, nil
}

func (b *Bitmex) ListBalances(ctx context.Context) (map[string]domain.Balance, error) {
	params := url.Values{}
	params.Set("currency", "all")

	resp, err := b.rest.do(ctx, "GET", bitmexMarginPath, params, nil, true)
	if err != nil {
		return nil, err
	}

	var margins []struct {
		Currency      string  `json:"currency"`
		InitMargin    float64 `json:"initMargin"`
		MaintMargin   float64 `json:"maintMargin"`
		MarginBalance float64 `json:"marginBalance"`
		WalletBalance float64 `json:"walletBalance"`
		UnrealisedPnl float64 `json:"unrealisedPnl"`
	}
	if err := json.Unmarshal(resp, &margins); err != nil {
		return nil, fmt.Errorf("decode margin: %w", err)
	}

	balances := make(map[string]domain.Balance, len(margins))
	for _, m := range margins {
		unit := bitmexUnit(m.Currency)
		balances[m.Currency] = domain.Balance{
			Asset:             m.Currency,
			InitialMargin:     m.InitMargin * unit,
			MaintenanceMargin: m.MaintMargin * unit,
			MarginBalance:     m.MarginBalance * unit,
			WalletBalance:     m.WalletBalance * unit,
			UnrealizedPnL:     m.UnrealisedPnl * unit,
		}
	}
	return balances, nil
}

// GetHistoricalCandles returns the latest bins, oldest first. BitMEX stamps a
// bin with its close time, so every timestamp moves back by one timeframe.
func (b *Bitmex) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("partial", "true")
	params.Set("binSize", string(tf))
	params.Set("count", strconv.Itoa(bitmexCandleLimit))
	params.Set("reverse", "true")

	resp, err := b.rest.do(ctx, "GET", bitmexCandlesPath, params, nil, false)
	if err != nil {
		return nil, err
	}

	var bins []struct {
		Timestamp time.Time `json:"timestamp"`
		Open      *float64  `json:"open"`
		High      *float64  `json:"high"`
		Low       *float64  `json:"low"`
		Close     *float64  `json:"close"`
		Volume    float64   `json:"volume"`
	}
	if err := json.Unmarshal(resp, &bins); err != nil {
		return nil, fmt.Errorf("decode bucketed trades: %w", err)
	}

	candles := make([]domain.Candle, 0, len(bins))
	for i := len(bins) - 1; i >= 0; i-- {
		bin := bins[i]
		if bin.Open == nil || bin.High == nil || bin.Low == nil || bin.Close == nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Time:   bin.Timestamp.UnixMilli() - tf.Millis(),
			Open:   *bin.Open,
			High:   *bin.High,
			Low:    *bin.Low,
			Close:  *bin.Close,
			Volume: bin.Volume,
		})
	}
	return candles, nil
}

func (b *Bitmex) GetBidAsk(ctx context.Context, contract domain.Contract) (domain.BidAsk, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("columns", "bidPrice,askPrice")

	resp, err := b.rest.do(ctx, "GET", bitmexInstrumentPath, params, nil, false)
	if err != nil {
		return domain.BidAsk{}, err
	}

	var instruments []bitmexInstrument
	if err := json.Unmarshal(resp, &instruments); err != nil {
		return domain.BidAsk{}, fmt.Errorf("decode instrument: %w", err)
	}
	for _, in := range instruments {
		if in.Symbol == contract.Symbol {
			return b.updatePrice(contract.Symbol, in.BidPrice, in.AskPrice), nil
		}
	}
	return domain.BidAsk{}, fmt.Errorf("instrument %s: %w", contract.Symbol, domain.ErrDataUnavailable)
}

type bitmexOrder struct {
	OrderID   string   `json:"orderID"`
	OrdStatus string   `json:"ordStatus"`
	AvgPx     *float64 `json:"avgPx"`
}

func (o bitmexOrder) status() *domain.OrderStatus {
	s := &domain.OrderStatus{OrderID: o.OrderID, Status: domain.NormalizeOrderState(o.OrdStatus)}
	if o.AvgPx != nil {
		s.AvgPrice = *o.AvgPx
	}
	return s
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToLower(s)
	return strings.ToUpper(s[:1]) + s[1:]
}

func (b *Bitmex) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", req.Contract.Symbol)
	params.Set("side", capitalize(string(req.Side)))
	params.Set("orderQty", req.Contract.FormatQuantity(req.Quantity))
	params.Set("ordType", capitalize(string(req.Type)))
	if req.Price > 0 {
		params.Set("price", req.Contract.FormatPrice(req.Price))
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", req.TimeInForce)
	}

	resp, err := b.rest.do(ctx, "POST", bitmexOrderPath, params, nil, true)
	if err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(b.name, req.Contract.Symbol, string(req.Side)).Inc()

	var order bitmexOrder
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return order.status(), nil
}

func (b *Bitmex) CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("orderID", orderID)

	resp, err := b.rest.do(ctx, "DELETE", bitmexOrderPath, params, nil, true)
	if err != nil {
		return nil, err
	}

	var orders []bitmexOrder
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("decode canceled orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("cancel %s: %w", orderID, domain.ErrDataUnavailable)
	}
	return orders[0].status(), nil
}

// GetOrderStatus lists the symbol's recent orders and returns the one with orderID.
func (b *Bitmex) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("reverse", "true")

	resp, err := b.rest.do(ctx, "GET", bitmexOrderPath, params, nil, true)
	if err != nil {
		return nil, err
	}

	var orders []bitmexOrder
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	for _, o := range orders {
		if o.OrderID == orderID {
			return o.status(), nil
		}
	}
	return nil, fmt.Errorf("order %s not listed: %w", orderID, domain.ErrDataUnavailable)
}

// GetTradeSize converts balancePct percent of the settlement wallet into contracts.
func (b *Bitmex) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	balances, err := b.ListBalances(ctx)
	if err != nil {
		return 0, err
	}
	asset := contract.SettleAsset
	if asset == "" {
		asset = bitmexDefaultAsset
	}
	balance, ok := balances[asset]
	if !ok {
		return 0, fmt.Errorf("%s balance missing: %w", asset, domain.ErrDataUnavailable)
	}

	size := contract.RoundQuantity(contract.ContractsFor(balance.WalletBalance*balancePct/100, price))
	if math.IsInf(size, 0) || math.IsNaN(size) {
		return 0, fmt.Errorf("trade size for %s at %v: %w", contract.Symbol, price, domain.ErrDataUnavailable)
	}
	b.logger.Info("Computed trade size",
		zap.String("symbol", contract.Symbol),
		zap.String("asset", asset),
		zap.Float64("balance", balance.WalletBalance),
		zap.Float64("contracts", size),
	)
	return size, nil
}

// Subscribe records the channel and sends it. The book channel is the global
// instrument table, trades are per symbol.
func (b *Bitmex) Subscribe(contracts []domain.Contract, channel domain.Channel) error {
	if channel != domain.ChannelBook && channel != domain.ChannelTrades {
		return fmt.Errorf("bitmex: unsupported channel %q", channel)
	}
	fresh := b.remember(contracts, channel)
	if len(fresh) == 0 {
		return nil
	}
	err := b.send(fresh)
	if errors.Is(err, errNotConnected) {
		return nil
	}
	return err
}

func (b *Bitmex) resubscribe() error {
	return b.send(b.subscriptions())
}

func bitmexTopics(subs []subscription) []string {
	var topics []string
	instrument := false
	for _, s := range subs {
		switch s.channel {
		case domain.ChannelBook:
			if !instrument {
				topics = append(topics, "instrument")
				instrument = true
			}
		case domain.ChannelTrades:
			topics = append(topics, "trade:"+s.symbol)
		}
	}
	return topics
}

func (b *Bitmex) send(subs []subscription) error {
	topics := bitmexTopics(subs)
	if len(topics) == 0 {
		return nil
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	msg := map[string]interface{}{
		"op":   "subscribe",
		"args": topics,
	}
	if err := b.stream.WriteJSON(msg); err != nil {
		if !errors.Is(err, errNotConnected) {
			b.logger.Error("Subscribe failed", zap.Strings("topics", topics), zap.Error(err))
		}
		return err
	}
	return nil
}

func (b *Bitmex) handleMessage(msg []byte) {
	var event struct {
		Table string                   `json:"table"`
		Data  []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		b.logger.Warn("Stream unmarshal error", zap.Error(err))
		return
	}

	switch event.Table {
	case "instrument":
		for _, d := range event.Data {
			symbol, _ := d["symbol"].(string)
			b.updatePrice(symbol, optFloat(d, "bidPrice"), optFloat(d, "askPrice"))
		}
	case "trade":
		for _, d := range event.Data {
			symbol, _ := d["symbol"].(string)
			price, ok := toFloat(d["price"])
			if !ok {
				continue
			}
			size, _ := toFloat(d["size"])
			stamp, _ := d["timestamp"].(string)
			ts, err := time.Parse(time.RFC3339Nano, stamp)
			if err != nil {
				b.logger.Warn("Bad trade timestamp", zap.String("timestamp", stamp))
				continue
			}
			b.emitTrade(domain.TradeTick{Symbol: symbol, Price: price, Size: size, Time: ts.UnixMilli()})
		}
	}
}
