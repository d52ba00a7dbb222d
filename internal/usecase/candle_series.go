package usecase

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/metrics"
)

const defaultStaleTick = 2 * time.Second

// CandleSeries aggregates trade ticks for one contract into fixed-width candles.
// The series is seeded from historical candles and is append-only.
type CandleSeries struct {
	mu       sync.RWMutex
	contract domain.Contract
	tf       domain.Timeframe
	candles  []domain.Candle

	staleAfter time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

func NewCandleSeries(contract domain.Contract, tf domain.Timeframe, history []domain.Candle, staleAfter time.Duration, logger *zap.Logger) *CandleSeries {
	if staleAfter <= 0 {
		staleAfter = defaultStaleTick
	}
	candles := make([]domain.Candle, len(history))
	copy(candles, history)
	return &CandleSeries{
		contract:   contract,
		tf:         tf,
		candles:    candles,
		staleAfter: staleAfter,
		now:        time.Now,
		logger: logger.With(
			zap.String("exchange", contract.Exchange),
			zap.String("symbol", contract.Symbol),
			zap.String("timeframe", string(tf)),
		),
	}
}

func (s *CandleSeries) Timeframe() domain.Timeframe { return s.tf }

// Apply folds one trade into the series. ts is epoch ms.
func (s *CandleSeries) Apply(price, size float64, ts int64) domain.TickResult {
	if lag := s.now().UnixMilli() - ts; lag >= s.staleAfter.Milliseconds() {
		s.logger.Warn("Stale trade tick",
			zap.Int64("lag_ms", lag),
			zap.Int64("tick_time", ts),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	period := s.tf.Millis()
	if len(s.candles) == 0 {
		start := ts - ts%period
		s.candles = append(s.candles, seedCandle(start, price, size))
		s.countOpened(1)
		return domain.TickNewCandle
	}

	last := &s.candles[len(s.candles)-1]
	// Late ticks land in the current candle as well.
	if ts < last.Time+period {
		if price > last.High {
			last.High = price
		}
		if price < last.Low {
			last.Low = price
		}
		last.Close = price
		last.Volume += size
		return domain.TickSameCandle
	}

	n := (ts - last.Time) / period
	start, prevClose := last.Time, last.Close
	for i := int64(1); i < n; i++ {
		s.candles = append(s.candles, domain.Candle{
			Time:  start + i*period,
			Open:  prevClose,
			High:  prevClose,
			Low:   prevClose,
			Close: prevClose,
		})
	}
	s.candles = append(s.candles, seedCandle(start+n*period, price, size))
	s.countOpened(n)
	if n > 1 {
		s.logger.Debug("Filled candle gap", zap.Int64("missing", n-1))
	}
	return domain.TickNewCandle
}

func (s *CandleSeries) countOpened(n int64) {
	metrics.CandlesTotal.WithLabelValues(s.contract.Exchange, s.contract.Symbol, string(s.tf)).Add(float64(n))
}

func seedCandle(start int64, price, size float64) domain.Candle {
	return domain.Candle{Time: start, Open: price, High: price, Low: price, Close: price, Volume: size}
}

// Snapshot returns a copy of the series, oldest first.
func (s *CandleSeries) Snapshot() []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *CandleSeries) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

func (s *CandleSeries) Last() (domain.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return domain.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}
