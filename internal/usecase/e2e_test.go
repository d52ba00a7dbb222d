package usecase_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/exchange"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/storage"
	"github.com/OrWestSide/crypto-trading/internal/usecase"
)

// binanceSandbox serves just enough of the futures REST and stream API for a
// strategy to load history, receive a breakout trade and open a position.
type binanceSandbox struct {
	mu     sync.Mutex
	orders []url.Values
}

func (f *binanceSandbox) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","pricePrecision":2,"quantityPrecision":3,
			"filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"LOT_SIZE","stepSize":"0.001"}]}]}`))
	})
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100.0","110.0","90.0","105.0","12.5",1700000059999],
			[1700000060000,"105.0","106.0","104.0","105.5","3.0",1700000119999]]`))
	})
	mux.HandleFunc("/fapi/v1/account", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"assets":[{"asset":"USDT","walletBalance":"1000","marginBalance":"1000","unrealizedProfit":"0"}]}`))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.orders = append(f.orders, r.URL.Query())
		f.mu.Unlock()
		w.Write([]byte(`{"orderId":42,"status":"FILLED","avgPrice":"120.0"}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var sub struct {
				Params []string `json:"params"`
			}
			if json.Unmarshal(msg, &sub) != nil {
				continue
			}
			for _, p := range sub.Params {
				if p == "btcusdt@aggTrade" {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"aggTrade","E":1700000120001,"s":"BTCUSDT","a":1,"p":"120.0","q":"5","T":1700000120000,"m":false}`))
				}
			}
		}
	})
	return mux
}

func TestStrategyService_BinanceBreakoutEndToEnd(t *testing.T) {
	fake := &binanceSandbox{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	connector := exchange.NewBinanceFutures("key", "secret", true, zap.NewNop(),
		exchange.WithEndpoints(server.URL, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws"),
		exchange.WithReconnectDelay(10*time.Millisecond),
	)
	ctx := context.Background()
	require.NoError(t, connector.Start(ctx))
	defer connector.Close()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := usecase.NewStrategyService(map[string]domain.Connector{"binance": connector}, store, store,
		usecase.EngineOptions{FillPollInterval: 10 * time.Millisecond}, zap.NewNop())
	defer svc.StopAll()

	cfg, err := usecase.ParseStrategyConfig(map[string]string{
		"exchange": "binance", "symbol": "BTCUSDT", "strategy": "breakout",
		"timeframe": "1m", "balance_pct": "10", "min_volume": "1",
	})
	require.NoError(t, err)
	id, err := svc.StartStrategy(ctx, cfg)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(svc.Trades()) == 1 }, 3*time.Second, 10*time.Millisecond)

	trade := svc.Trades()[0]
	assert.Equal(t, id, trade.StrategyID)
	assert.Equal(t, domain.SideLong, trade.Side)
	require.NotNil(t, trade.EntryPrice)
	assert.Equal(t, 120.0, *trade.EntryPrice)
	assert.Equal(t, 0.833, trade.Quantity)

	candles, err := svc.Candles(id)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.Equal(t, int64(1700000120000), candles[2].Time)

	fake.mu.Lock()
	require.Len(t, fake.orders, 1)
	assert.Equal(t, "BUY", fake.orders[0].Get("side"))
	assert.Equal(t, "0.833", fake.orders[0].Get("quantity"))
	fake.mu.Unlock()

	stored, err := store.ListTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, trade.ID, stored[0].ID)

	strategies, err := store.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	assert.Equal(t, "breakout", strategies[0].Params["strategy"])
}
