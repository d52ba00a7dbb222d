package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type SettlementKind string

const (
	SettlementLinear  SettlementKind = "linear"
	SettlementInverse SettlementKind = "inverse"
	SettlementQuanto  SettlementKind = "quanto"
)

// Contract is a tradable instrument on one exchange. Built once from the
// exchange's instrument listing and never modified afterwards.
type Contract struct {
	Exchange         string         `json:"exchange"`
	Symbol           string         `json:"symbol"`
	BaseAsset        string         `json:"base_asset"`
	QuoteAsset       string         `json:"quote_asset"`
	SettleAsset      string         `json:"settle_asset"`
	TickSize         float64        `json:"tick_size"`
	LotSize          float64        `json:"lot_size"`
	PriceDecimals    int            `json:"price_decimals"`
	QuantityDecimals int            `json:"quantity_decimals"`
	Settlement       SettlementKind `json:"settlement"`
	// Multiplier is already normalized to whole units of the settlement asset.
	// BitMEX inverse contracts carry the exchange's sign flipped once more.
	Multiplier float64 `json:"multiplier"`
}

func (c Contract) Inverse() bool { return c.Settlement == SettlementInverse }
func (c Contract) Quanto() bool  { return c.Settlement == SettlementQuanto }

// Validate checks the tick/lot invariant.
func (c Contract) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("contract without symbol")
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("contract %s: tick size must be positive, got %v", c.Symbol, c.TickSize)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("contract %s: lot size must be positive, got %v", c.Symbol, c.LotSize)
	}
	return nil
}

func (c Contract) RoundPrice(price float64) float64 {
	return RoundToStep(price, c.TickSize)
}

func (c Contract) RoundQuantity(quantity float64) float64 {
	return RoundToStep(quantity, c.LotSize)
}

// FormatPrice renders a tick-rounded price the way it goes on the wire.
func (c Contract) FormatPrice(price float64) string {
	return decimal.NewFromFloat(c.RoundPrice(price)).StringFixed(int32(c.PriceDecimals))
}

func (c Contract) FormatQuantity(quantity float64) string {
	return decimal.NewFromFloat(c.RoundQuantity(quantity)).StringFixed(int32(c.QuantityDecimals))
}

func (c Contract) multiplier() float64 {
	if c.Multiplier == 0 {
		return 1
	}
	return c.Multiplier
}

// RoundToStep rounds value to the nearest multiple of step (half away from zero).
// A non-positive step leaves the value untouched.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(value).Div(s).Round(0).Mul(s).InexactFloat64()
}

// DecimalsForStep returns how many fractional digits a step size needs, e.g. 0.01 -> 2, 0.5 -> 1, 100 -> 0.
func DecimalsForStep(step float64) int {
	if step <= 0 {
		return 0
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}

// StepForDecimals is the inverse of DecimalsForStep: 2 -> 0.01.
func StepForDecimals(decimals int) float64 {
	return decimal.New(1, int32(-decimals)).InexactFloat64()
}
