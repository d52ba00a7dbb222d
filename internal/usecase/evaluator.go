package usecase

import (
	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/indicator"
	"go.uber.org/zap"
)

// SignalEvaluator decides a trade direction from a candle series.
type SignalEvaluator interface {
	Name() string
	// EvaluatesOn reports whether the evaluator runs for a tick with this result.
	EvaluatesOn(result domain.TickResult) bool
	Evaluate(candles []domain.Candle) domain.Signal
}

const (
	rsiOversold   = 30.0
	rsiOverbought = 70.0
)

// TechnicalEvaluator combines RSI and MACD over closed candles.
type TechnicalEvaluator struct {
	params indicator.Params
	logger *zap.Logger
}

func NewTechnicalEvaluator(params indicator.Params, logger *zap.Logger) *TechnicalEvaluator {
	return &TechnicalEvaluator{params: params, logger: logger}
}

func (e *TechnicalEvaluator) Name() string { return StrategyTechnical }

func (e *TechnicalEvaluator) EvaluatesOn(result domain.TickResult) bool {
	return result == domain.TickNewCandle
}

// Evaluate ignores the last candle, which was just opened by the current tick.
func (e *TechnicalEvaluator) Evaluate(candles []domain.Candle) domain.Signal {
	if len(candles) < 2 {
		return domain.SignalNone
	}
	closes := make([]float64, len(candles)-1)
	for i, c := range candles[:len(candles)-1] {
		closes[i] = c.Close
	}

	res, err := indicator.Compute(closes, e.params)
	if err != nil {
		e.logger.Debug("Indicators unavailable", zap.Error(err))
		return domain.SignalNone
	}

	e.logger.Debug("Technical indicators",
		zap.Float64("rsi", res.RSI),
		zap.Float64("macd", res.MACD),
		zap.Float64("macd_signal", res.Signal),
	)

	switch {
	case res.RSI < rsiOversold && res.MACD > res.Signal:
		return domain.SignalLong
	case res.RSI > rsiOverbought && res.MACD < res.Signal:
		return domain.SignalShort
	}
	return domain.SignalNone
}

// BreakoutEvaluator fires when the latest candle closes beyond the prior
// candle's range on enough volume.
type BreakoutEvaluator struct {
	minVolume float64
}

func NewBreakoutEvaluator(minVolume float64) *BreakoutEvaluator {
	return &BreakoutEvaluator{minVolume: minVolume}
}

func (e *BreakoutEvaluator) Name() string { return StrategyBreakout }

func (e *BreakoutEvaluator) EvaluatesOn(domain.TickResult) bool { return true }

func (e *BreakoutEvaluator) Evaluate(candles []domain.Candle) domain.Signal {
	if len(candles) < 2 {
		return domain.SignalNone
	}
	last, prev := candles[len(candles)-1], candles[len(candles)-2]
	if last.Volume <= e.minVolume {
		return domain.SignalNone
	}
	switch {
	case last.Close > prev.High:
		return domain.SignalLong
	case last.Close < prev.Low:
		return domain.SignalShort
	}
	return domain.SignalNone
}
