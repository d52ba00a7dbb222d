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
	BybitBaseURL        = "https://api.bybit.com"
	BybitTestnetBaseURL = "https://api-testnet.bybit.com"
	BybitWSURL          = "wss://stream.bybit.com/v5/public/linear"
	BybitTestnetWSURL   = "wss://stream-testnet.bybit.com/v5/public/linear"

	bybitCategory     = "linear"
	bybitCandleLimit  = 1000
	bybitArgsPerOp    = 10
	bybitPingInterval = 20 * time.Second
)

var bybitIntervals = map[domain.Timeframe]string{
	domain.Timeframe1m:  "1",
	domain.Timeframe5m:  "5",
	domain.Timeframe15m: "15",
	domain.Timeframe30m: "30",
	domain.Timeframe1h:  "60",
	domain.Timeframe4h:  "240",
	domain.Timeframe1d:  "D",
}

var bybitTopics = map[domain.Channel]string{
	domain.ChannelBook:   "tickers.",
	domain.ChannelTrades: "publicTrade.",
}

// Bybit is the V5 linear perpetuals connector.
type Bybit struct {
	connectorBase
	rest   *restClient
	stream *streamWorker
	subMu  sync.Mutex
}

func NewBybit(apiKey, apiSecret string, testnet bool, logger *zap.Logger, opts ...Option) *Bybit {
	restURL, wsURL := BybitBaseURL, BybitWSURL
	if testnet {
		restURL, wsURL = BybitTestnetBaseURL, BybitTestnetWSURL
	}
	o := buildOptions(restURL, wsURL, opts)

	b := &Bybit{connectorBase: newConnectorBase("bybit", logger)}
	b.rest = newRESTClient(b.name, o.restURL, o.httpClient, NewBybitSigner(apiKey, apiSecret), b.logger)
	b.stream = newStreamWorker(b.name, o.wsURL, b.logger, o.reconnectDelay)
	b.stream.onConnect = b.resubscribe
	b.stream.onMessage = b.handleMessage
	b.stream.pingInterval = bybitPingInterval
	b.stream.pingMessage = map[string]string{"op": "ping"}
	return b
}

func (b *Bybit) Start(ctx context.Context) error {
	contracts, err := b.fetchContracts(ctx)
	if err != nil {
		return fmt.Errorf("load bybit contracts: %w", err)
	}
	b.setContracts(contracts)
	b.remember(b.allContracts(), domain.ChannelBook)
	b.stream.Start(ctx)
	b.logger.Info("Bybit connector started", zap.Int("contracts", len(contracts)))
	return nil
}

func (b *Bybit) Close() error {
	b.stream.Stop()
	return nil
}

func (b *Bybit) SupportedTimeframes() []domain.Timeframe {
	return []domain.Timeframe{
		domain.Timeframe1m, domain.Timeframe5m, domain.Timeframe15m,
		domain.Timeframe30m, domain.Timeframe1h, domain.Timeframe4h,
	}
}

// call performs a request and unwraps the V5 envelope into out.
func (b *Bybit) call(ctx context.Context, method, path string, params url.Values, payload map[string]interface{}, signed bool, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	resp, err := b.rest.do(ctx, method, path, params, body, signed)
	if err != nil {
		return err
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if envelope.RetCode != 0 {
		metrics.RestErrorsTotal.WithLabelValues(b.name, string(domain.FailureExchange)).Inc()
		return &domain.RequestFailure{
			Exchange:   b.name,
			Method:     method,
			Endpoint:   path,
			Kind:       domain.FailureExchange,
			StatusCode: envelope.RetCode,
			Body:       envelope.RetMsg,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	return nil
}

func (b *Bybit) fetchContracts(ctx context.Context) (map[string]domain.Contract, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("limit", "1000")

	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			BaseCoin    string `json:"baseCoin"`
			QuoteCoin   string `json:"quoteCoin"`
			SettleCoin  string `json:"settleCoin"`
			Status      string `json:"status"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := b.call(ctx, "GET", "/v5/market/instruments-info", params, nil, false, &result); err != nil {
		return nil, err
	}

	contracts := make(map[string]domain.Contract, len(result.List))
	for _, item := range result.List {
		if item.Status != "" && item.Status != "Trading" {
			continue
		}
		tick, _ := strconv.ParseFloat(item.PriceFilter.TickSize, 64)
		lot, _ := strconv.ParseFloat(item.LotSizeFilter.QtyStep, 64)
		c := domain.Contract{
			Exchange:         b.name,
			Symbol:           item.Symbol,
			BaseAsset:        item.BaseCoin,
			QuoteAsset:       item.QuoteCoin,
			SettleAsset:      item.SettleCoin,
			TickSize:         tick,
			LotSize:          lot,
			PriceDecimals:    domain.DecimalsForStep(tick),
			QuantityDecimals: domain.DecimalsForStep(lot),
			Settlement:       domain.SettlementLinear,
			Multiplier:       1,
		}
		if err := c.Validate(); err != nil {
			b.logger.Warn("Skipping contract", zap.Error(err))
			continue
		}
		contracts[c.Symbol] = c
	}
	return contracts, nil
}

func (b *Bybit) ListBalances(ctx context.Context) (map[string]domain.Balance, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")

	var result struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				Equity          string `json:"equity"`
				WalletBalance   string `json:"walletBalance"`
				TotalPositionIM string `json:"totalPositionIM"`
				TotalPositionMM string `json:"totalPositionMM"`
				UnrealisedPnl   string `json:"unrealisedPnl"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := b.call(ctx, "GET", "/v5/account/wallet-balance", params, nil, true, &result); err != nil {
		return nil, err
	}

	balances := make(map[string]domain.Balance)
	for _, account := range result.List {
		for _, c := range account.Coin {
			initial, _ := strconv.ParseFloat(c.TotalPositionIM, 64)
			maint, _ := strconv.ParseFloat(c.TotalPositionMM, 64)
			equity, _ := strconv.ParseFloat(c.Equity, 64)
			wallet, _ := strconv.ParseFloat(c.WalletBalance, 64)
			upnl, _ := strconv.ParseFloat(c.UnrealisedPnl, 64)
			balances[c.Coin] = domain.Balance{
				Asset:             c.Coin,
				InitialMargin:     initial,
				MaintenanceMargin: maint,
				MarginBalance:     equity,
				WalletBalance:     wallet,
				UnrealizedPnL:     upnl,
			}
		}
	}
	return balances, nil
}

func (b *Bybit) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	interval, ok := bybitIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("bybit: unsupported timeframe %q", tf)
	}
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", contract.Symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(bybitCandleLimit))

	var result struct {
		List [][]string `json:"list"`
	}
	if err := b.call(ctx, "GET", "/v5/market/kline", params, nil, false, &result); err != nil {
		return nil, err
	}

	// Newest first on the wire.
	candles := make([]domain.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		raw := result.List[i]
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)
		candles = append(candles, domain.Candle{Time: ts, Open: open, High: high, Low: low, Close: closePrice, Volume: volume})
	}
	return candles, nil
}

func (b *Bybit) GetBidAsk(ctx context.Context, contract domain.Contract) (domain.BidAsk, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", contract.Symbol)

	var result struct {
		List []map[string]interface{} `json:"list"`
	}
	if err := b.call(ctx, "GET", "/v5/market/tickers", params, nil, false, &result); err != nil {
		return domain.BidAsk{}, err
	}
	if len(result.List) == 0 {
		return domain.BidAsk{}, fmt.Errorf("ticker %s: %w", contract.Symbol, domain.ErrDataUnavailable)
	}
	t := result.List[0]
	return b.updatePrice(contract.Symbol, optFloat(t, "bid1Price"), optFloat(t, "ask1Price")), nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderStatus, error) {
	payload := map[string]interface{}{
		"category":  bybitCategory,
		"symbol":    req.Contract.Symbol,
		"side":      capitalize(string(req.Side)),
		"orderType": capitalize(string(req.Type)),
		"qty":       req.Contract.FormatQuantity(req.Quantity),
	}
	if req.Price > 0 {
		payload["price"] = req.Contract.FormatPrice(req.Price)
	}
	if req.TimeInForce != "" {
		payload["timeInForce"] = req.TimeInForce
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := b.call(ctx, "POST", "/v5/order/create", nil, payload, true, &result); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(b.name, req.Contract.Symbol, string(req.Side)).Inc()

	// Creation only acknowledges; the fill is observed through GetOrderStatus.
	return &domain.OrderStatus{OrderID: result.OrderID, Status: domain.OrderNew}, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	payload := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   contract.Symbol,
		"orderId":  orderID,
	}
	if err := b.call(ctx, "POST", "/v5/order/cancel", nil, payload, true, nil); err != nil {
		return nil, err
	}
	return b.GetOrderStatus(ctx, contract, orderID)
}

// GetOrderStatus looks in open orders first, then in order history.
func (b *Bybit) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("category", bybitCategory)
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", orderID)

	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		var result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				AvgPrice    string `json:"avgPrice"`
			} `json:"list"`
		}
		if err := b.call(ctx, "GET", path, params, nil, true, &result); err != nil {
			return nil, err
		}
		for _, o := range result.List {
			if o.OrderID != orderID {
				continue
			}
			avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
			return &domain.OrderStatus{
				OrderID:  o.OrderID,
				Status:   domain.NormalizeOrderState(o.OrderStatus),
				AvgPrice: avg,
			}, nil
		}
	}
	return nil, fmt.Errorf("order %s not found: %w", orderID, domain.ErrDataUnavailable)
}

func (b *Bybit) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	balances, err := b.ListBalances(ctx)
	if err != nil {
		return 0, err
	}
	asset := contract.SettleAsset
	if asset == "" {
		asset = contract.QuoteAsset
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
		zap.Float64("balance", balance.WalletBalance),
		zap.Float64("size", size),
	)
	return size, nil
}

func (b *Bybit) Subscribe(contracts []domain.Contract, channel domain.Channel) error {
	if _, ok := bybitTopics[channel]; !ok {
		return fmt.Errorf("bybit: unsupported channel %q", channel)
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

func (b *Bybit) resubscribe() error {
	return b.send(b.subscriptions())
}

func (b *Bybit) send(subs []subscription) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for _, part := range chunk(subs, bybitArgsPerOp) {
		args := make([]string, 0, len(part))
		for _, s := range part {
			args = append(args, bybitTopics[s.channel]+s.symbol)
		}
		subMsg := map[string]interface{}{
			"op":   "subscribe",
			"args": args,
		}
		if err := b.stream.WriteJSON(subMsg); err != nil {
			if !errors.Is(err, errNotConnected) {
				b.logger.Error("Subscribe failed", zap.Strings("topics", args), zap.Error(err))
			}
			return err
		}
	}
	return nil
}

func (b *Bybit) handleMessage(message []byte) {
	var event map[string]interface{}
	if err := json.Unmarshal(message, &event); err != nil {
		b.logger.Warn("Stream unmarshal error", zap.Error(err))
		return
	}

	topic, ok := event["topic"].(string)
	if !ok {
		// subscribe acks and pongs
		return
	}

	switch {
	case strings.HasPrefix(topic, "tickers."):
		data, ok := event["data"].(map[string]interface{})
		if !ok {
			return
		}
		symbol := strings.TrimPrefix(topic, "tickers.")
		b.updatePrice(symbol, optFloat(data, "bid1Price"), optFloat(data, "ask1Price"))

	case strings.HasPrefix(topic, "publicTrade."):
		data, ok := event["data"].([]interface{})
		if !ok {
			return
		}
		symbol := strings.TrimPrefix(topic, "publicTrade.")
		for _, item := range data {
			trade, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			price, ok := toFloat(trade["p"])
			if !ok {
				continue
			}
			size, _ := toFloat(trade["v"])
			ts, _ := toInt64(trade["T"])
			b.emitTrade(domain.TradeTick{Symbol: symbol, Price: price, Size: size, Time: ts})
		}
	}
}
