package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/logger"
	"github.com/OrWestSide/crypto-trading/internal/usecase"
)

type stubConnector struct {
	contract    domain.Contract
	balancesErr error
}

func (c *stubConnector) Name() string                    { return "stub" }
func (c *stubConnector) Start(ctx context.Context) error { return nil }
func (c *stubConnector) Close() error                    { return nil }
func (c *stubConnector) ListContracts() map[string]domain.Contract {
	return map[string]domain.Contract{c.contract.Symbol: c.contract}
}
func (c *stubConnector) Contract(symbol string) (domain.Contract, bool) {
	return c.contract, symbol == c.contract.Symbol
}
func (c *stubConnector) ListBalances(ctx context.Context) (map[string]domain.Balance, error) {
	if c.balancesErr != nil {
		return nil, c.balancesErr
	}
	return map[string]domain.Balance{"USDT": {Asset: "USDT", WalletBalance: 100}}, nil
}
func (c *stubConnector) GetHistoricalCandles(ctx context.Context, contract domain.Contract, tf domain.Timeframe) ([]domain.Candle, error) {
	return []domain.Candle{{Time: 0, Open: 1, High: 2, Low: 1, Close: 2, Volume: 3}}, nil
}
func (c *stubConnector) GetBidAsk(ctx context.Context, contract domain.Contract) (domain.BidAsk, error) {
	return domain.BidAsk{Bid: 1, Ask: 2}, nil
}
func (c *stubConnector) Prices() map[string]domain.BidAsk {
	return map[string]domain.BidAsk{c.contract.Symbol: {Bid: 1, Ask: 2}}
}
func (c *stubConnector) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderStatus, error) {
	return nil, domain.ErrExchange
}
func (c *stubConnector) CancelOrder(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	return nil, domain.ErrExchange
}
func (c *stubConnector) GetOrderStatus(ctx context.Context, contract domain.Contract, orderID string) (*domain.OrderStatus, error) {
	return nil, domain.ErrExchange
}
func (c *stubConnector) GetTradeSize(ctx context.Context, contract domain.Contract, price, balancePct float64) (float64, error) {
	return 0, domain.ErrDataUnavailable
}
func (c *stubConnector) Subscribe(contracts []domain.Contract, channel domain.Channel) error {
	return nil
}
func (c *stubConnector) SupportedTimeframes() []domain.Timeframe {
	return []domain.Timeframe{domain.Timeframe1m}
}
func (c *stubConnector) OnPriceUpdate(callback func(symbol string, quote domain.BidAsk)) {}
func (c *stubConnector) OnTradeUpdate(callback func(tick domain.TradeTick))              {}

func newTestServer(t *testing.T, connector *stubConnector) (*Server, *logger.LogQueue) {
	t.Helper()
	queue := logger.NewLogQueue(10)
	log := zap.New(queue.Core(zap.InfoLevel))
	svc := usecase.NewStrategyService(map[string]domain.Connector{"stub": connector}, nil, nil, usecase.EngineOptions{}, log)
	return NewServer(0, svc, nil, queue, log), queue
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

var stubContract = domain.Contract{Exchange: "stub", Symbol: "BTCUSDT", TickSize: 0.1, LotSize: 0.001, Multiplier: 1}

func TestServer_ExchangeRoutes(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract})

	rec := do(t, s, "GET", "/api/exchanges/stub/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var prices map[string]domain.BidAsk
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prices))
	assert.Equal(t, domain.BidAsk{Bid: 1, Ask: 2}, prices["BTCUSDT"])

	rec = do(t, s, "GET", "/api/exchanges/stub/contracts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"BTCUSDT"`)

	rec = do(t, s, "GET", "/api/exchanges/stub/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "GET", "/api/exchanges/nope/prices", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "GET", "/api/exchanges", "")
	assert.JSONEq(t, `["stub"]`, rec.Body.String())
}

func TestServer_BalancesUpstreamFailure(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract, balancesErr: &domain.RequestFailure{
		Exchange: "stub", Kind: domain.FailureTransport, Err: context.DeadlineExceeded,
	}})

	rec := do(t, s, "GET", "/api/exchanges/stub/balances", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestServer_StrategyLifecycle(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract})

	rec := do(t, s, "POST", "/api/strategies", `{"exchange":"stub","symbol":"BTCUSDT","strategy":"breakout","timeframe":"1m","balance_pct":5,"min_volume":"2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	id := created["id"]
	require.NotEmpty(t, id)

	rec = do(t, s, "GET", "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []usecase.StrategyInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, 5.0, infos[0].Config.BalancePct)
	assert.Equal(t, 2.0, infos[0].Config.MinVolume)

	rec = do(t, s, "GET", "/api/strategies/"+id+"/candles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var candles []domain.Candle
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&candles))
	assert.Len(t, candles, 1)

	rec = do(t, s, "DELETE", "/api/strategies/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, "DELETE", "/api/strategies/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "GET", "/api/strategies/"+id+"/candles", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateStrategyRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract})

	rec := do(t, s, "POST", "/api/strategies", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/api/strategies", `{"exchange":"stub","symbol":"BTCUSDT","strategy":"grid","timeframe":"1m","balance_pct":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "POST", "/api/strategies", `{"exchange":"stub","symbol":"ETHUSDT","strategy":"breakout","timeframe":"1m","balance_pct":5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TradesAndClose(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract})

	rec := do(t, s, "GET", "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, s, "POST", "/api/trades/unknown/close", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_LogsSince(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract})
	s.logger.Info("first")
	s.logger.Info("second")

	rec := do(t, s, "GET", "/api/logs?since=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []logger.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "second", entries[0].Message)

	rec = do(t, s, "GET", "/api/logs?since=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, &stubConnector{contract: stubContract})

	rec := do(t, s, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
