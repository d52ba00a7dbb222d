package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/usecase"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) connector(w http.ResponseWriter, r *http.Request) (domain.Connector, bool) {
	name := r.PathValue("exchange")
	c, ok := s.strategies.Connector(name)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown exchange %q", name), http.StatusNotFound)
	}
	return c, ok
}

// errorStatus maps usecase and exchange errors to HTTP codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, usecase.ErrStrategyNotFound), errors.Is(err, usecase.ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrTradeClosed), errors.Is(err, usecase.ErrEngineBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDataUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrExchange):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListExchanges(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.strategies.ConnectorNames())
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, c.Prices())
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, c.ListContracts())
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	c, ok := s.connector(w, r)
	if !ok {
		return
	}
	balances, err := c.ListBalances(r.Context())
	if err != nil {
		s.logger.Error("Failed to list balances", zap.String("exchange", c.Name()), zap.Error(err))
		http.Error(w, "Failed to list balances", errorStatus(err))
		return
	}
	s.writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.strategies.Strategies())
}

// handleCreateStrategy accepts the same key/value parameters that are stored.
// Numbers may be sent as JSON numbers or strings.
func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		params[k] = fmt.Sprint(v)
	}

	cfg, err := usecase.ParseStrategyConfig(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.strategies.StartStrategy(r.Context(), cfg)
	if err != nil {
		s.logger.Error("Failed to start strategy", zap.Error(err))
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.strategies.StopStrategy(r.Context(), r.PathValue("id")); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStrategyCandles(w http.ResponseWriter, r *http.Request) {
	candles, err := s.strategies.Candles(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	s.writeJSON(w, http.StatusOK, candles)
}

// handleListTrades returns live trades, or the stored history when history=1.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") != "1" || s.tradeRepo == nil {
		s.writeJSON(w, http.StatusOK, s.strategies.Trades())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	trades, err := s.tradeRepo.ListTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []*domain.Trade{}
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.strategies.CloseTrade(r.Context(), id); err != nil {
		s.logger.Warn("Failed to close trade", zap.String("trade_id", id), zap.Error(err))
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		s.writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}
	s.writeJSON(w, http.StatusOK, s.logs.Since(since))
}
