package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/logger"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
	"github.com/OrWestSide/crypto-trading/internal/usecase"
)

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	strategies *usecase.StrategyService
	tradeRepo  domain.TradeRepository
	logs       *logger.LogQueue
	logger     *zap.Logger
}

// NewServer exposes the read side of the workspace as JSON. tradeRepo and logs may be nil.
func NewServer(
	port int,
	strategies *usecase.StrategyService,
	tradeRepo domain.TradeRepository,
	logs *logger.LogQueue,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		strategies: strategies,
		tradeRepo:  tradeRepo,
		logs:       logs,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Exchanges
	s.router.HandleFunc("GET /api/exchanges", s.handleListExchanges)
	s.router.HandleFunc("GET /api/exchanges/{exchange}/prices", s.handlePrices)
	s.router.HandleFunc("GET /api/exchanges/{exchange}/contracts", s.handleContracts)
	s.router.HandleFunc("GET /api/exchanges/{exchange}/balances", s.handleBalances)

	// Strategies
	s.router.HandleFunc("GET /api/strategies", s.handleListStrategies)
	s.router.HandleFunc("POST /api/strategies", s.handleCreateStrategy)
	s.router.HandleFunc("DELETE /api/strategies/{id}", s.handleDeleteStrategy)
	s.router.HandleFunc("GET /api/strategies/{id}/candles", s.handleStrategyCandles)

	// Trades
	s.router.HandleFunc("GET /api/trades", s.handleListTrades)
	s.router.HandleFunc("POST /api/trades/{id}/close", s.handleCloseTrade)

	// Logs
	s.router.HandleFunc("GET /api/logs", s.handleLogs)

	s.router.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
