package aggregator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/skalibog/revbot/pkg/models"
)

func bar(symbol string, minute int, open, high, low, close float64, volume int64) models.Bar {
	return models.Bar{
		Symbol:    symbol,
		Timestamp: time.Date(2026, 1, 1, 0, minute, 0, 0, time.UTC),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    volume,
	}
}

func TestAddBuffersUntilTimeframe(t *testing.T) {
	a := New(3, 10)

	if _, produced := a.Add(bar("BTCUSDT", 0, 100, 101, 99, 100, 10)); produced {
		t.Fatal("expected no candle before buffer fills")
	}
	if a.BufferLen() != 1 {
		t.Fatalf("buffer length = %d, want 1", a.BufferLen())
	}

	if _, produced := a.Add(bar("BTCUSDT", 1, 100, 103, 98, 102, 20)); produced {
		t.Fatal("expected no candle on second bar")
	}

	candle, produced := a.Add(bar("BTCUSDT", 2, 102, 105, 101, 104, 30))
	if !produced {
		t.Fatal("expected candle on third bar")
	}
	if a.BufferLen() != 0 {
		t.Fatalf("buffer length after fold = %d, want 0", a.BufferLen())
	}

	if !candle.Open.Equal(decimal.NewFromFloat(100)) {
		t.Errorf("open = %s, want 100", candle.Open)
	}
	if !candle.High.Equal(decimal.NewFromFloat(105)) {
		t.Errorf("high = %s, want 105", candle.High)
	}
	if !candle.Low.Equal(decimal.NewFromFloat(98)) {
		t.Errorf("low = %s, want 98", candle.Low)
	}
	if !candle.Close.Equal(decimal.NewFromFloat(104)) {
		t.Errorf("close = %s, want 104", candle.Close)
	}
	if candle.Volume != 60 {
		t.Errorf("volume = %d, want 60", candle.Volume)
	}
}

func TestHistoryTrimsToBound(t *testing.T) {
	a := New(1, 2)

	for i := 0; i < 5; i++ {
		a.Add(bar("BTCUSDT", i, 100, 100, 100, 100, 1))
	}

	history := a.SnapshotHistory()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if !history[0].Timestamp.Equal(time.Date(2026, 1, 1, 0, 3, 0, 0, time.UTC)) {
		t.Errorf("oldest retained candle timestamp = %v, want minute 3", history[0].Timestamp)
	}
}

func TestSnapshotHistoryIsDefensiveCopy(t *testing.T) {
	a := New(1, 10)
	a.Add(bar("BTCUSDT", 0, 100, 100, 100, 100, 1))

	snap := a.SnapshotHistory()
	snap[0].Close = decimal.NewFromFloat(999)

	again := a.SnapshotHistory()
	if !again[0].Close.Equal(decimal.NewFromFloat(100)) {
		t.Fatal("mutating a snapshot must not affect aggregator state")
	}
}

func TestValidateBarRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		bar  models.Bar
	}{
		{"empty symbol", bar("", 0, 1, 1, 1, 1, 1)},
		{"zero price", bar("BTCUSDT", 0, 0, 1, 1, 1, 1)},
		{"negative volume", bar("BTCUSDT", 0, 1, 1, 1, 1, -1)},
		{"zero volume", bar("BTCUSDT", 0, 1, 1, 1, 1, 0)},
		{"low above high", func() models.Bar {
			b := bar("BTCUSDT", 0, 1, 1, 1, 1, 1)
			b.Low = decimal.NewFromFloat(5)
			b.High = decimal.NewFromFloat(1)
			return b
		}()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateBar(tc.bar); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestValidateBarAcceptsWellFormedBar(t *testing.T) {
	if err := ValidateBar(bar("BTCUSDT", 0, 100, 101, 99, 100, 10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRoundTripDeterminism(t *testing.T) {
	bars := []models.Bar{
		bar("BTCUSDT", 0, 100, 101, 99, 100, 10),
		bar("BTCUSDT", 1, 100, 103, 98, 102, 20),
		bar("BTCUSDT", 2, 102, 105, 101, 104, 30),
		bar("BTCUSDT", 3, 104, 106, 103, 105, 5),
	}

	run := func() []models.Candle {
		a := New(2, 10)
		for _, b := range bars {
			a.Add(b)
		}
		return a.SnapshotHistory()
	}

	first := run()
	second := run()

	if len(first) != len(second) {
		t.Fatalf("history length differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !candlesEqual(first[i], second[i]) {
			t.Fatalf("candle %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func candlesEqual(a, b models.Candle) bool {
	return a.Symbol == b.Symbol &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.Open.Equal(b.Open) && a.High.Equal(b.High) &&
		a.Low.Equal(b.Low) && a.Close.Equal(b.Close) &&
		a.Volume == b.Volume
}
