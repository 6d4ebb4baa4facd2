package rsibbands

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skalibog/revbot/pkg/models"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestWarmupPeriod(t *testing.T) {
	s := New(DefaultConfig())
	// max(20, 14, 9) + 1
	if got := s.WarmupPeriod(); got != 21 {
		t.Fatalf("WarmupPeriod = %d, want 21", got)
	}
}

func TestAnalyzeSkipsShortHistory(t *testing.T) {
	s := New(DefaultConfig())
	history := map[string][]models.Candle{
		"X": {{Symbol: "X", Open: d(100), Close: d(100)}},
	}
	signals := s.Analyze(history)
	if len(signals) != 0 {
		t.Fatalf("signals = %v, want empty for history shorter than warmup", signals)
	}
}

func TestBandwidthROCFraction(t *testing.T) {
	upper := []float64{10, 10, 10, 10, 20}
	lower := []float64{0, 0, 0, 0, 0}
	// bandwidth goes 10,10,10,10,20 — roc over n=4 at t=4: (20-10)/10 = 1.0
	roc := bandwidthROC(upper, lower, 4, 4)
	if roc != 1.0 {
		t.Fatalf("roc = %v, want 1.0", roc)
	}
}

func TestBandwidthROCNaNOnZeroPrevious(t *testing.T) {
	upper := []float64{0, 5}
	lower := []float64{0, 0}
	roc := bandwidthROC(upper, lower, 1, 1)
	if roc == roc { // NaN != NaN
		t.Fatalf("roc = %v, want NaN", roc)
	}
}

func TestIsBullishEngulfing(t *testing.T) {
	candles := []models.Candle{
		{Open: d(100), Close: d(97)}, // bearish
		{Open: d(96), Close: d(101)}, // bullish, engulfs
	}
	if !isBullishEngulfing(candles, 1) {
		t.Fatal("expected bullish engulfing")
	}

	notEngulfing := []models.Candle{
		{Open: d(100), Close: d(97)},
		{Open: d(98), Close: d(101)}, // does not dip below prior close
	}
	if isBullishEngulfing(notEngulfing, 1) {
		t.Fatal("expected no engulfing: open does not dip below prior close")
	}
}

func TestStage1StrictInequalityOnCloseEqualsLower(t *testing.T) {
	s := New(DefaultConfig())

	// close == lower must NOT arm (strict <).
	closeT := d(100)
	lowerT := 100.0
	armed := closeT.LessThan(d(lowerT)) && 28 <= s.cfg.Stage1RSIThreshold
	if armed {
		t.Fatal("close == lower must not arm stage 1")
	}
}

func TestStage2StrictUpperBoundOnRSIEqualsExit(t *testing.T) {
	s := New(DefaultConfig())
	rsi := s.cfg.Stage2RSIExit // exactly at boundary
	inRange := rsi >= s.cfg.Stage2RSIEntry && rsi < s.cfg.Stage2RSIExit
	if inRange {
		t.Fatal("rsi == stage2_rsi_exit must not satisfy the strict upper bound")
	}
}

func TestDefaultOrderParams(t *testing.T) {
	s := New(DefaultConfig())
	params := s.DefaultOrderParams()
	if params.RiskPercentage != 0.02 || params.TPMultiplier != 1.5 || params.SLMultiplier != 0.9 || params.UseTrailingStop {
		t.Fatalf("unexpected default order params: %+v", params)
	}
}

// The tests below replay a synthetic OHLC series row by row through the
// real step — real talib.Rsi/talib.BBands, no stand-ins — the same way
// the original strategy's own test fixture replays a downtrend-into-
// crash-into-recovery series through analyze(). A flat chop settles the
// indicators, a controlled downtrend drags RSI down, a crash bar widens
// the bands and breaks below the lower band (arms stage 1), and the
// tail of the series decides the outcome: a bullish engulfing bar fires,
// a look-alike that fails the engulfing test doesn't, and a sustained
// rally with no engulfing bar disarms stage 1 on RSI overshoot.

const scenarioSymbol = "TEST_BTC"

type ohlc struct{ open, high, low, close float64 }

func mkCandle(minute int, bar ohlc) models.Candle {
	return models.Candle{
		Symbol:    scenarioSymbol,
		Timestamp: time.Date(2025, 1, 1, 12, minute, 0, 0, time.UTC),
		Open:      d(bar.open),
		High:      d(bar.high),
		Low:       d(bar.low),
		Close:     d(bar.close),
		Volume:    1000,
	}
}

// syntheticCandles builds the shared setup (flat chop, downtrend, crash
// at index 46) and appends a tail selected by variant:
//
//   - "engulf": stabilization then a bullish engulfing bar — the full
//     two-stage sequence should fire on the last bar.
//   - "no_engulf": the same stabilization then a green bar that fails
//     the engulfing test — no signal should ever fire.
//   - "overshoot": a sustained rally with no bearish setup bar, so no
//     engulfing pattern ever forms, while RSI runs well past the
//     stage-2 exit threshold — stage 1 should disarm without firing.
func syntheticCandles(variant string) []models.Candle {
	var candles []models.Candle
	minute := 0

	for i := 0; i < 40; i++ {
		var bar ohlc
		if i%2 == 0 {
			bar = ohlc{100.0, 101.5, 99.5, 101.0}
		} else {
			bar = ohlc{101.0, 102.0, 100.0, 100.0}
		}
		candles = append(candles, mkCandle(minute, bar))
		minute++
	}

	// Controlled downtrend so RSI is already depressed before the crash.
	downtrend := []ohlc{
		{100.0, 100.5, 98.5, 99.0},
		{99.0, 99.5, 97.5, 98.0},
		{98.0, 98.5, 96.5, 97.0},
		{97.0, 97.5, 95.5, 96.0},
		{96.0, 96.5, 94.5, 95.0},
		{95.0, 95.5, 93.5, 94.0},
	}
	for _, bar := range downtrend {
		candles = append(candles, mkCandle(minute, bar))
		minute++
	}

	// The crash: expands the bands and pushes close below the lower
	// band while RSI is still oversold.
	candles = append(candles, mkCandle(minute, ohlc{94.0, 100.0, 84.0, 85.0}))
	minute++

	switch variant {
	case "engulf":
		candles = append(candles, mkCandle(minute, ohlc{85.0, 87.5, 84.5, 87.0})) // stabilization
		minute++
		candles = append(candles, mkCandle(minute, ohlc{87.0, 87.5, 85.5, 86.0})) // red setup bar
		minute++
		candles = append(candles, mkCandle(minute, ohlc{85.5, 88.5, 85.0, 88.0})) // bullish engulfing
		minute++
	case "no_engulf":
		candles = append(candles, mkCandle(minute, ohlc{85.0, 87.5, 84.5, 87.0}))
		minute++
		candles = append(candles, mkCandle(minute, ohlc{87.0, 87.5, 85.5, 86.0}))
		minute++
		candles = append(candles, mkCandle(minute, ohlc{86.2, 87.6, 85.8, 87.1})) // green, but does not engulf
		minute++
	case "overshoot":
		rally := []ohlc{
			{85.0, 91.0, 84.5, 90.0},
			{90.0, 96.0, 89.5, 95.0},
			{95.0, 101.0, 94.5, 100.0},
			{100.0, 106.0, 99.5, 105.0},
			{105.0, 111.0, 104.5, 110.0},
			{110.0, 116.0, 109.5, 115.0},
		}
		for _, bar := range rally {
			candles = append(candles, mkCandle(minute, bar))
			minute++
		}
	}

	return candles
}

func TestScenarioArmsStage1OnCrashBar(t *testing.T) {
	s := New(DefaultConfig())
	st := &state{}
	candles := syntheticCandles("engulf")
	crashIndex := 46

	for i := 20; i < crashIndex; i++ {
		if _, fired := s.step(scenarioSymbol, candles[:i+1], st); fired {
			t.Fatalf("unexpected signal before the crash bar, at row %d", i)
		}
	}
	if st.armed {
		t.Fatal("stage 1 must not be armed before the crash bar")
	}

	if _, fired := s.step(scenarioSymbol, candles[:crashIndex+1], st); fired {
		t.Fatal("the crash bar should arm stage 1, not fire a signal by itself")
	}
	if !st.armed {
		t.Fatal("stage 1 should arm once close drops below the lower band while RSI is oversold")
	}
}

func TestScenarioFiresOnBullishEngulfing(t *testing.T) {
	s := New(DefaultConfig())
	st := &state{}
	candles := syntheticCandles("engulf")

	var fired []int
	for i := 20; i < len(candles); i++ {
		sig, ok := s.step(scenarioSymbol, candles[:i+1], st)
		if !ok {
			continue
		}
		fired = append(fired, i)
		if sig.Kind != models.Buy || sig.Symbol != scenarioSymbol {
			t.Fatalf("unexpected signal %+v at row %d", sig, i)
		}
	}

	if len(fired) != 1 || fired[0] != len(candles)-1 {
		t.Fatalf("expected exactly one BUY on the final (engulfing) row, got fires at rows %v", fired)
	}
}

func TestScenarioNoFireWithoutEngulfing(t *testing.T) {
	s := New(DefaultConfig())
	st := &state{}
	candles := syntheticCandles("no_engulf")

	for i := 20; i < len(candles); i++ {
		if _, fired := s.step(scenarioSymbol, candles[:i+1], st); fired {
			t.Fatalf("unexpected signal at row %d without a bullish engulfing bar", i)
		}
	}
}

func TestScenarioDisarmsOnRSIOvershoot(t *testing.T) {
	s := New(DefaultConfig())
	st := &state{}
	candles := syntheticCandles("overshoot")

	for i := 20; i < len(candles); i++ {
		if _, fired := s.step(scenarioSymbol, candles[:i+1], st); fired {
			t.Fatalf("unexpected signal at row %d during the overshoot rally", i)
		}
	}

	if st.armed {
		t.Fatal("stage 1 should disarm once RSI overshoots the exit threshold by more than 5")
	}
}
