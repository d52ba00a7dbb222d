package usecase

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/indicator"
)

const (
	StrategyTechnical = "technical"
	StrategyBreakout  = "breakout"
)

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

func getValidator() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New()
	})
	return validate
}

// StrategyConfig is the parameter set of one strategy instance. It is built
// from the persisted key/value records.
type StrategyConfig struct {
	Exchange   string  `json:"exchange" validate:"required"`
	Symbol     string  `json:"symbol" validate:"required"`
	Strategy   string  `json:"strategy" validate:"required,oneof=technical breakout"`
	Timeframe  string  `json:"timeframe" validate:"required,oneof=1m 5m 15m 30m 1h 4h 1d"`
	BalancePct float64 `json:"balance_pct" validate:"gt=0,lte=100"`
	TakeProfit float64 `json:"take_profit" validate:"gte=0"`
	StopLoss   float64 `json:"stop_loss" validate:"gte=0"`

	RSILength int `json:"rsi_length" validate:"required_if=Strategy technical"`
	EMAFast   int `json:"ema_fast" validate:"required_if=Strategy technical"`
	EMASlow   int `json:"ema_slow" validate:"required_if=Strategy technical"`
	EMASignal int `json:"ema_signal" validate:"required_if=Strategy technical"`

	MinVolume float64 `json:"min_volume" validate:"gte=0"`
}

// ParseStrategyConfig converts key/value records into a validated config.
// Unknown keys are ignored.
func ParseStrategyConfig(params map[string]string) (StrategyConfig, error) {
	cfg := StrategyConfig{
		Exchange:  params["exchange"],
		Symbol:    params["symbol"],
		Strategy:  params["strategy"],
		Timeframe: params["timeframe"],
	}

	floats := map[string]*float64{
		"balance_pct": &cfg.BalancePct,
		"take_profit": &cfg.TakeProfit,
		"stop_loss":   &cfg.StopLoss,
		"min_volume":  &cfg.MinVolume,
	}
	for key, dst := range floats {
		raw, ok := params[key]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return StrategyConfig{}, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*dst = v
	}

	ints := map[string]*int{
		"rsi_length": &cfg.RSILength,
		"ema_fast":   &cfg.EMAFast,
		"ema_slow":   &cfg.EMASlow,
		"ema_signal": &cfg.EMASignal,
	}
	for key, dst := range ints {
		raw, ok := params[key]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return StrategyConfig{}, fmt.Errorf("invalid %s %q: %w", key, raw, err)
		}
		*dst = v
	}

	if err := cfg.Validate(); err != nil {
		return StrategyConfig{}, err
	}
	return cfg, nil
}

func (c StrategyConfig) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("invalid strategy config: %w", err)
	}
	if c.Strategy == StrategyTechnical {
		if err := c.IndicatorParams().Validate(); err != nil {
			return fmt.Errorf("invalid strategy config: %w", err)
		}
	}
	return nil
}

func (c StrategyConfig) IndicatorParams() indicator.Params {
	return indicator.Params{
		RSILength: c.RSILength,
		EMAFast:   c.EMAFast,
		EMASlow:   c.EMASlow,
		EMASignal: c.EMASignal,
	}
}

func (c StrategyConfig) TimeframeValue() domain.Timeframe { return domain.Timeframe(c.Timeframe) }

// Params renders the config back into key/value records for storage.
func (c StrategyConfig) Params() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	params := map[string]string{
		"exchange":    c.Exchange,
		"symbol":      c.Symbol,
		"strategy":    c.Strategy,
		"timeframe":   c.Timeframe,
		"balance_pct": f(c.BalancePct),
		"take_profit": f(c.TakeProfit),
		"stop_loss":   f(c.StopLoss),
	}
	switch c.Strategy {
	case StrategyTechnical:
		params["rsi_length"] = strconv.Itoa(c.RSILength)
		params["ema_fast"] = strconv.Itoa(c.EMAFast)
		params["ema_slow"] = strconv.Itoa(c.EMASlow)
		params["ema_signal"] = strconv.Itoa(c.EMASignal)
	case StrategyBreakout:
		params["min_volume"] = f(c.MinVolume)
	}
	return params
}

// NewEvaluator builds the signal evaluator the config names.
func (c StrategyConfig) NewEvaluator(logger *zap.Logger) SignalEvaluator {
	if c.Strategy == StrategyTechnical {
		return NewTechnicalEvaluator(c.IndicatorParams(), logger)
	}
	return NewBreakoutEvaluator(c.MinVolume)
}
