package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

const minute = int64(60000)

var testContract = domain.Contract{
	Exchange:   "fake",
	Symbol:     "BTCUSDT",
	TickSize:   0.1,
	LotSize:    0.001,
	Settlement: domain.SettlementLinear,
	Multiplier: 1,
}

func newTestSeries(history []domain.Candle) *CandleSeries {
	s := NewCandleSeries(testContract, domain.Timeframe1m, history, 0, zap.NewNop())
	// keep staleness checks quiet unless a test sets its own clock
	s.now = func() time.Time { return time.UnixMilli(0) }
	return s
}

func TestCandleSeries_SameIntervalExtremes(t *testing.T) {
	s := newTestSeries(nil)

	base := 10 * minute
	results := []domain.TickResult{
		s.Apply(10, 1, base+100),
		s.Apply(12, 1, base+200),
		s.Apply(8, 1, base+300),
		s.Apply(11, 1, base+400),
	}

	assert.Equal(t, domain.TickNewCandle, results[0])
	for _, r := range results[1:] {
		assert.Equal(t, domain.TickSameCandle, r)
	}

	candles := s.Snapshot()
	require.Len(t, candles, 1)
	assert.Equal(t, domain.Candle{Time: base, Open: 10, High: 12, Low: 8, Close: 11, Volume: 4}, candles[0])
}

func TestCandleSeries_GapFill(t *testing.T) {
	s := newTestSeries([]domain.Candle{{Time: 0, Open: 98, High: 101, Low: 97, Close: 100, Volume: 3}})

	res := s.Apply(105, 2, 3*minute)
	assert.Equal(t, domain.TickNewCandle, res)

	candles := s.Snapshot()
	require.Len(t, candles, 4)
	for i, c := range candles[1:3] {
		assert.Equal(t, domain.Candle{Time: int64(i+1) * minute, Open: 100, High: 100, Low: 100, Close: 100}, c)
	}
	assert.Equal(t, domain.Candle{Time: 3 * minute, Open: 105, High: 105, Low: 105, Close: 105, Volume: 2}, candles[3])
}

func TestCandleSeries_BoundaryBelongsToLaterInterval(t *testing.T) {
	s := newTestSeries([]domain.Candle{{Time: 0, Open: 1, High: 1, Low: 1, Close: 1}})

	assert.Equal(t, domain.TickSameCandle, s.Apply(2, 1, minute-1))
	assert.Equal(t, domain.TickNewCandle, s.Apply(3, 1, minute))

	candles := s.Snapshot()
	require.Len(t, candles, 2)
	assert.Equal(t, minute, candles[1].Time)
	assert.Equal(t, 2.0, candles[0].Close)
}

func TestCandleSeries_LateTickFoldsIntoCurrentCandle(t *testing.T) {
	s := newTestSeries([]domain.Candle{{Time: 5 * minute, Open: 10, High: 10, Low: 10, Close: 10}})

	assert.Equal(t, domain.TickSameCandle, s.Apply(7, 1, 4*minute))

	candles := s.Snapshot()
	require.Len(t, candles, 1)
	assert.Equal(t, 7.0, candles[0].Low)
	assert.Equal(t, 7.0, candles[0].Close)
}

func TestCandleSeries_MonotonicWithoutGaps(t *testing.T) {
	s := newTestSeries(nil)

	ts := []int64{5, 30000, 61000, 61001, 400000, 400500, 1200000, 1260000, 5000000}
	for i, at := range ts {
		s.Apply(float64(100+i), 1, at)
	}

	candles := s.Snapshot()
	require.NotEmpty(t, candles)
	assert.Equal(t, int64(0), candles[0].Time)
	for i := 1; i < len(candles); i++ {
		assert.Equal(t, minute, candles[i].Time-candles[i-1].Time, "candle %d", i)
	}
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 5000000-5000000%minute, last.Time)
	assert.Equal(t, len(candles), s.Len())
}

func TestCandleSeries_StaleTickIsLoggedNotRejected(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := NewCandleSeries(testContract, domain.Timeframe1m, nil, 2*time.Second, zap.New(core))
	s.now = func() time.Time { return time.UnixMilli(10 * minute) }

	s.Apply(100, 1, 10*minute-500)
	assert.Equal(t, 0, logs.Len())

	s.Apply(101, 1, 10*minute-2000)
	assert.Equal(t, 1, logs.FilterMessage("Stale trade tick").Len())
	assert.Equal(t, 101.0, s.Snapshot()[0].Close)
}

func TestCandleSeries_SnapshotIsACopy(t *testing.T) {
	s := newTestSeries(nil)
	s.Apply(1, 1, 0)

	snap := s.Snapshot()
	snap[0].Close = 999

	last, _ := s.Last()
	assert.Equal(t, 1.0, last.Close)
}
