package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

func TestParseStrategyConfig(t *testing.T) {
	cfg, err := ParseStrategyConfig(map[string]string{
		"exchange":    "bitmex",
		"symbol":      "XBTUSD",
		"strategy":    "technical",
		"timeframe":   "5m",
		"balance_pct": "2.5",
		"take_profit": "3",
		"stop_loss":   "1.5",
		"rsi_length":  "14",
		"ema_fast":    "12",
		"ema_slow":    "26",
		"ema_signal":  "9",
		"ignored":     "x",
	})
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.BalancePct)
	assert.Equal(t, 14, cfg.RSILength)
	assert.Equal(t, domain.Timeframe5m, cfg.TimeframeValue())
	assert.IsType(t, &TechnicalEvaluator{}, cfg.NewEvaluator(nil))

	again, err := ParseStrategyConfig(cfg.Params())
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestParseStrategyConfig_Breakout(t *testing.T) {
	cfg, err := ParseStrategyConfig(map[string]string{
		"exchange": "binance", "symbol": "BTCUSDT", "strategy": "breakout",
		"timeframe": "1m", "balance_pct": "10", "min_volume": "25",
	})
	require.NoError(t, err)
	assert.Equal(t, 25.0, cfg.MinVolume)
	assert.IsType(t, &BreakoutEvaluator{}, cfg.NewEvaluator(nil))
	assert.NotContains(t, cfg.Params(), "rsi_length")
}

func TestParseStrategyConfig_Invalid(t *testing.T) {
	base := map[string]string{
		"exchange": "binance", "symbol": "BTCUSDT", "strategy": "technical",
		"timeframe": "1m", "balance_pct": "10",
		"rsi_length": "14", "ema_fast": "12", "ema_slow": "26", "ema_signal": "9",
	}

	tests := []struct {
		name   string
		key    string
		value  string
		remove bool
	}{
		{name: "unknown strategy", key: "strategy", value: "grid"},
		{name: "unknown timeframe", key: "timeframe", value: "2m"},
		{name: "balance above 100", key: "balance_pct", value: "150"},
		{name: "not a number", key: "take_profit", value: "abc"},
		{name: "negative stop loss", key: "stop_loss", value: "-1"},
		{name: "missing rsi length", key: "rsi_length", remove: true},
		{name: "fast not shorter than slow", key: "ema_fast", value: "30"},
		{name: "missing symbol", key: "symbol", remove: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := make(map[string]string, len(base))
			for k, v := range base {
				params[k] = v
			}
			if tt.remove {
				delete(params, tt.key)
			} else {
				params[tt.key] = tt.value
			}
			if _, err := ParseStrategyConfig(params); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}
