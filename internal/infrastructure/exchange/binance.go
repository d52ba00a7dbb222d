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

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

const (
	BinanceBaseURL        = "https://fapi.binance.com"
	BinanceTestnetBaseURL = "https://testnet.binancefuture.com"
	BinanceWSURL          = "wss://fstream.binance.com/ws"
	BinanceTestnetWSURL   = "wss://stream.binancefuture.com/ws"

	binanceContractsPath = "/fapi/v1/exchangeInfo"
	binanceCandlesPath   = "/fapi/v1/klines"
	binanceBookPath      = "/fapi/v1/ticker/bookTicker"
	binanceOrderPath     = "/fapi/v1/order"
	binanceAccountPath   = "/fapi/v1/account"

	binanceCandleLimit  = 1000
	binanceSettleAsset  = "USDT"
	binanceStreamsPerOp = 200
)

var binanceChannels = map[domain.Channel]string{
	domain.ChannelBook:   "bookTicker",
	domain.ChannelTrades: "aggTrade",
}

// BinanceFutures is the USDT-margined futures connector.
type BinanceFutures struct {
	connectorBase
	rest   *restClient
	stream *streamWorker

	subMu sync.Mutex
	wsID  int
}

func NewBinanceFutures(apiKey, apiSecret string, testnet bool, logger *zap.Logger, opts ...Option) *BinanceFutures {
	restURL, wsURL := BinanceBaseURL, BinanceWSURL
	if testnet {
		restURL, wsURL = BinanceTestnetBaseURL, BinanceTestnetWSURL
	}
	o := buildOptions(restURL, wsURL, opts)

	b := &BinanceFutures{
		connectorBase: newConnectorBase("binance", logger),
		wsID:          1,
	}
	b.rest = newRESTClient(b.name, o.restURL, o.httpClient, NewQuerySigner(apiKey, apiSecret), b.logger)
	b.stream = newStreamWorker(b.name, o.wsURL, b.logger, o.reconnectDelay)
	b.stream.onConnect = b.resubscribe
	b.stream.onMessage = b.handleMessage
	return b
}

func (b *BinanceFutures) Start(ctx context.Context) error {
	contracts, err := b.fetchContracts(ctx)
	if err != nil {
		return fmt.Errorf("load binance contracts: %w", err)
	}
	b.setContracts(contracts)
	b.remember(b.allContracts(), domain.ChannelBook)
	b.stream.Start(ctx)
	b.logger.Info("Binance futures connector started", zap.Int("contracts", len(contracts)))
	return nil
}

func (b *BinanceFutures) Close() error {
	b.stream.Stop()
	return nil
}

func (b *BinanceFutures) SupportedTimeframes() []domain.Timeframe {
	return []domain.Timeframe{
		domain.Timeframe1m, domain.Timeframe5m, domain.Timeframe15m,
		domain.Timeframe30m, domain.Timeframe1h, domain.Timeframe4h,
	}
}

func (b *BinanceFutures) fetchContracts(ctx context.Context) (map[string]domain.Contract, error) {
	resp, err := b.rest.do(ctx, "GET", binanceContractsPath, nil, nil, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbols []struct {
			Symbol            string `json:"symbol"`
			BaseAsset         string `json:"baseAsset"`
			QuoteAsset        string `json:"quoteAsset"`
			PricePrecision    int    `json:"pricePrecision"`
			QuantityPrecision int    `json:"quantityPrecision"`
			Filters           []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode exchange info: %w", err)
	}

	contracts := make(map[string]domain.Contract, len(result.Symbols))
	for _, s := range result.Symbols {
		tick := domain.StepForDecimals(s.PricePrecision)
		lot := domain.StepForDecimals(s.QuantityPrecision)
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				if v, err := strconv.ParseFloat(f.TickSize, 64); err == nil && v > 0 {
					tick = v
				}
			case "LOT_SIZE":
				if v, err := strconv.ParseFloat(f.StepSize, 64); err == nil && v > 0 {
					lot = v
				}
			}
		}

		c := domain.Contract{
			Exchange:         b.name,
			Symbol:           s.Symbol,
			BaseAsset:        s.BaseAsset,
			QuoteAsset:       s.QuoteAsset,
			SettleAsset:      binanceSettleAsset,
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

func (b *BinanceFutures) ListBalances(ctx context.Context) (map[string]domain.Balance, error) {
	resp, err := b.rest.do(ctx, "GET", binanceAccountPath, url.Values{}, nil, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Assets []struct {
			Asset            string `json:"asset"`
			InitialMargin    string `json:"initialMargin"`
			MaintMargin      string `json:"maintMargin"`
			MarginBalance    string `json:"marginBalance"`
			WalletBalance    string `json:"walletBalance"`
			UnrealizedProfit string `json:"unrealizedProfit"`
		} `json:"assets"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	balances := make(map[string]domain.Balance, len(result.Assets))
	for _, a := range result.Assets {
		initial, _ := strconv.ParseFloat(a.InitialMargin, 64)
		maint, _ := strconv.ParseFloat(a.MaintMargin, 64)
		margin, _ := strconv.ParseFloat(a.MarginBalance, 64)
		wallet, _ := strconv.ParseFloat(a.WalletBalance, 64)
		upnl, _ := strconv.ParseFloat(a.UnrealizedProfit, 64)
		balances[a.Asset] = domain.Balance{
			Asset:             a.Asset,
			InitialMargin:     initial,
			MaintenanceMargin: maint,
			MarginBalance:     margin,
			WalletBalance:     wallet,
			UnrealizedPnL:     upnl,
		}
	}
	return balances, nil
}

func (b *BinanceFutures) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("interval", string(tf))
	params.Set("limit", strconv.Itoa(binanceCandleLimit))

	resp, err := b.rest.do(ctx, "GET", binanceCandlesPath, params, nil, false)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		// [openTime, open, high, low, close, volume, closeTime, ...]
		if len(k) < 6 {
			continue
		}
		ts, _ := toInt64(k[0])
		open, _ := toFloat(k[1])
		high, _ := toFloat(k[2])
		low, _ := toFloat(k[3])
		closePrice, _ := toFloat(k[4])
		volume, _ := toFloat(k[5])
		candles = append(candles, domain.Candle{Time: ts, Open: open, High: high, Low: low, Close: closePrice, Volume: volume})
	}
	return candles, nil
}

func (b *BinanceFutures) GetBidAsk(ctx context.Context, contract domain.Contract) (domain.BidAsk, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)

	resp, err := b.rest.do(ctx, "GET", binanceBookPath, params, nil, false)
	if err != nil {
		return domain.BidAsk{}, err
	}

	var result struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return domain.BidAsk{}, fmt.Errorf("decode book ticker: %w", err)
	}
	bid, _ := strconv.ParseFloat(result.BidPrice, 64)
	ask, _ := strconv.ParseFloat(result.AskPrice, 64)
	return b.updatePrice(contract.Symbol, &bid, &ask), nil
}

func (b *BinanceFutures) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", req.Contract.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("quantity", req.Contract.FormatQuantity(req.Quantity))
	params.Set("type", strings.ToUpper(string(req.Type)))
	if req.Price > 0 {
		params.Set("price", req.Contract.FormatPrice(req.Price))
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", req.TimeInForce)
	}

	resp, err := b.rest.do(ctx, "POST", binanceOrderPath, params, nil, true)
	if err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(b.name, req.Contract.Symbol, string(req.Side)).Inc()
	return decodeBinanceOrder(resp)
}

func (b *BinanceFutures) CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", orderID)

	resp, err := b.rest.do(ctx, "DELETE", binanceOrderPath, params, nil, true)
	if err != nil {
		return nil, err
	}
	return decodeBinanceOrder(resp)
}

func (b *BinanceFutures) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", contract.Symbol)
	params.Set("orderId", orderID)

	resp, err := b.rest.do(ctx, "GET", binanceOrderPath, params, nil, true)
	if err != nil {
		return nil, err
	}
	return decodeBinanceOrder(resp)
}

func decodeBinanceOrder(resp []byte) (*domain.OrderStatus, error) {
	var result struct {
		OrderID  json.Number `json:"orderId"`
		Status   string      `json:"status"`
		AvgPrice string      `json:"avgPrice"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	avg, _ := strconv.ParseFloat(result.AvgPrice, 64)
	return &domain.OrderStatus{
		OrderID:  result.OrderID.String(),
		Status:   domain.NormalizeOrderState(result.Status),
		AvgPrice: avg,
	}, nil
}

// GetTradeSize sizes an order as balancePct percent of the USDT wallet.
func (b *BinanceFutures) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	balances, err := b.ListBalances(ctx)
	if err != nil {
		return 0, err
	}
	balance, ok := balances[binanceSettleAsset]
	if !ok {
		return 0, fmt.Errorf("%s balance missing: %w", binanceSettleAsset, domain.ErrDataUnavailable)
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

// Subscribe records the channel for every contract and sends the new ones.
// Subscriptions made while disconnected go out on the next connect.
func (b *BinanceFutures) Subscribe(contracts []domain.Contract, channel domain.Channel) error {
	if _, ok := binanceChannels[channel]; !ok {
		return fmt.Errorf("binance: unsupported channel %q", channel)
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

func (b *BinanceFutures) resubscribe() error {
	return b.send(b.subscriptions())
}

func (b *BinanceFutures) send(subs []subscription) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	for _, part := range chunk(subs, binanceStreamsPerOp) {
		params := make([]string, 0, len(part))
		for _, s := range part {
			params = append(params, strings.ToLower(s.symbol)+"@"+binanceChannels[s.channel])
		}
		msg := map[string]interface{}{
			"method": "SUBSCRIBE",
			"params": params,
			"id":     b.wsID,
		}
		if err := b.stream.WriteJSON(msg); err != nil {
			if !errors.Is(err, errNotConnected) {
				b.logger.Error("Subscribe failed", zap.Int("streams", len(params)), zap.Error(err))
			}
			return err
		}
		b.wsID++
	}
	return nil
}

// RequestID returns the id the next subscribe message will carry.
func (b *BinanceFutures) RequestID() int {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	return b.wsID
}

func (b *BinanceFutures) handleMessage(msg []byte) {
	var event map[string]interface{}
	if err := json.Unmarshal(msg, &event); err != nil {
		b.logger.Warn("Stream unmarshal error", zap.Error(err))
		return
	}

	eventType, _ := event["e"].(string)
	symbol, _ := event["s"].(string)
	switch eventType {
	case "bookTicker":
		b.updatePrice(symbol, optFloat(event, "b"), optFloat(event, "a"))
	case "aggTrade":
		price, ok := toFloat(event["p"])
		if !ok {
			return
		}
		size, _ := toFloat(event["q"])
		ts, _ := toInt64(event["T"])
		b.emitTrade(domain.TradeTick{Symbol: symbol, Price: price, Size: size, Time: ts})
	}
}
