// Package indicator computes the RSI and MACD values the technical strategy
// reads. Moving averages are exponentially weighted with the adjusted
// (bias-corrected) weighting.
package indicator

import (
	"errors"
	"fmt"
	"math"
)

var ErrInsufficientData = errors.New("not enough closes for indicator")

type Params struct {
	RSILength int
	EMAFast   int
	EMASlow   int
	EMASignal int
}

func (p Params) Validate() error {
	if p.RSILength < 2 {
		return fmt.Errorf("rsi length must be at least 2, got %d", p.RSILength)
	}
	if p.EMAFast < 1 || p.EMASlow < 1 || p.EMASignal < 1 {
		return fmt.Errorf("ema spans must be positive: fast=%d slow=%d signal=%d", p.EMAFast, p.EMASlow, p.EMASignal)
	}
	if p.EMAFast >= p.EMASlow {
		return fmt.Errorf("fast span %d must be shorter than slow span %d", p.EMAFast, p.EMASlow)
	}
	return nil
}

// Result holds the last value of each series.
type Result struct {
	RSI    float64
	MACD   float64
	Signal float64
}

// Compute evaluates RSI and MACD over closes, oldest first, and returns the latest values.
func Compute(closes []float64, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if len(closes) <= p.RSILength || len(closes) < p.EMASlow {
		return Result{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(closes), max(p.RSILength+1, p.EMASlow))
	}

	rsi := RSI(closes, p.RSILength)
	macd, signal := MACD(closes, p.EMAFast, p.EMASlow, p.EMASignal)

	last := len(closes) - 1
	return Result{RSI: rsi[last], MACD: macd[last], Signal: signal[last]}, nil
}

// ewm is the adjusted exponentially weighted mean with smoothing factor alpha.
func ewm(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	var num, den float64
	decay := 1 - alpha
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}

// EMA weights by span: alpha = 2 / (span + 1).
func EMA(values []float64, span int) []float64 {
	return ewm(values, 2/(float64(span)+1))
}

// MACD returns the fast minus slow EMA line and its signal EMA.
func MACD(closes []float64, fast, slow, signal int) ([]float64, []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	return line, EMA(line, signal)
}

// RSI uses center-of-mass length-1 smoothing of gains and losses. The first
// length values are NaN.
func RSI(closes []float64, length int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) == 0 {
		return out
	}

	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gains = append(gains, math.Max(d, 0))
		losses = append(losses, math.Max(-d, 0))
	}

	alpha := 1 / float64(length)
	avgGain := ewm(gains, alpha)
	avgLoss := ewm(losses, alpha)

	out[0] = math.NaN()
	for i := range gains {
		if i+1 < length {
			out[i+1] = math.NaN()
			continue
		}
		if avgLoss[i] == 0 {
			out[i+1] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i+1] = 100 - 100/(1+rs)
	}
	return out
}
