package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

// TradeExecutor places the market orders that open and close positions.
type TradeExecutor struct {
	connector domain.Connector
	logger    *zap.Logger
}

func NewTradeExecutor(connector domain.Connector, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		connector: connector,
		logger:    logger,
	}
}

func (e *TradeExecutor) Open(ctx context.Context, contract domain.Contract, side domain.Side, quantity float64) (*domain.OrderStatus, error) {
	return e.Execute(ctx, contract, side, quantity, false)
}

func (e *TradeExecutor) Close(ctx context.Context, contract domain.Contract, side domain.Side, quantity float64) (*domain.OrderStatus, error) {
	return e.Execute(ctx, contract, side, quantity, true)
}

// Execute sends a market order entering side, or leaving it when exit is set.
func (e *TradeExecutor) Execute(ctx context.Context, contract domain.Contract, side domain.Side, quantity float64, exit bool) (*domain.OrderStatus, error) {
	var orderSide domain.OrderSide
	switch side {
	case domain.SideLong, domain.SideShort:
		orderSide = side.EntrySide()
		if exit {
			orderSide = side.ExitSide()
		}
	default:
		return nil, fmt.Errorf("invalid side: %s", side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %v for %s", quantity, contract.Symbol)
	}

	status, err := e.connector.PlaceOrder(ctx, domain.OrderRequest{
		Contract: contract,
		Side:     orderSide,
		Type:     domain.OrderTypeMarket,
		Quantity: quantity,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Market order placed",
		zap.String("exchange", e.connector.Name()),
		zap.String("symbol", contract.Symbol),
		zap.String("side", string(orderSide)),
		zap.Float64("quantity", quantity),
		zap.String("order_id", status.OrderID),
		zap.String("status", string(status.Status)),
	)
	return status, nil
}
