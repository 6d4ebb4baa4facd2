// Package aggregator сворачивает последовательность минутных баров в
// свечи старшего таймфрейма и хранит ограниченную историю по символу.
//
// Один BarAggregator принадлежит ровно одному символу; TradingEngine
// держит по экземпляру на символ (см. internal/engine).
package aggregator

import (
	"github.com/shopspring/decimal"

	"github.com/skalibog/revbot/pkg/models"
)

// BarAggregator копит минутные бары в buffer до тех пор, пока их не
// накопится timeframe штук, затем сворачивает их в одну свечу и
// добавляет её в history, отбрасывая самые старые сверх historySize.
type BarAggregator struct {
	timeframe   int
	historySize int
	buffer      []models.Bar
	history     []models.Candle
}

// New создаёт агрегатор с заданным таймфреймом (в количестве минутных
// баров на свечу) и предельным размером истории.
func New(timeframeMinutes, historySize int) *BarAggregator {
	return &BarAggregator{
		timeframe:   timeframeMinutes,
		historySize: historySize,
		buffer:      make([]models.Bar, 0, timeframeMinutes),
		history:     make([]models.Candle, 0, historySize),
	}
}

// Add добавляет минутный бар в буфер. Возвращает собранную свечу и true,
// если буфер заполнился и был свёрнут; иначе — пустую свечу и false.
func (a *BarAggregator) Add(bar models.Bar) (models.Candle, bool) {
	a.buffer = append(a.buffer, bar)
	if len(a.buffer) < a.timeframe {
		return models.Candle{}, false
	}

	candle := fold(a.buffer)
	a.buffer = a.buffer[:0]

	a.history = append(a.history, candle)
	if overflow := len(a.history) - a.historySize; overflow > 0 {
		a.history = a.history[overflow:]
	}

	return candle, true
}

// SnapshotHistory возвращает копию текущей истории свечей, безопасную
// для чтения стратегией независимо от дальнейших вызовов Add.
func (a *BarAggregator) SnapshotHistory() []models.Candle {
	out := make([]models.Candle, len(a.history))
	copy(out, a.history)
	return out
}

// BufferLen возвращает число баров, накопленных в незавершённой свече —
// используется только тестами и диагностикой.
func (a *BarAggregator) BufferLen() int {
	return len(a.buffer)
}

// fold сворачивает непустой набор минутных баров одного символа в одну
// свечу: open первого, high/low по экстремумам, close
// последнего, volume суммой, timestamp последнего бара.
func fold(bars []models.Bar) models.Candle {
	first, last := bars[0], bars[len(bars)-1]

	high := first.High
	low := first.Low
	var volume int64

	for _, b := range bars {
		if b.High.GreaterThan(high) {
			high = b.High
		}
		if b.Low.LessThan(low) {
			low = b.Low
		}
		volume += b.Volume
	}

	return models.Candle{
		Symbol:    first.Symbol,
		Timestamp: last.Timestamp,
		Open:      first.Open,
		High:      high,
		Low:       low,
		Close:     last.Close,
		Volume:    volume,
	}
}

// ValidateBar проверяет минимальную корректность входящего бара перед
// тем, как он попадёт в агрегатор; невалидный бар — DataError, его
// нужно отбросить на границе движка, а не здесь.
func ValidateBar(bar models.Bar) error {
	if bar.Symbol == "" {
		return errInvalidBar("пустой symbol")
	}
	if bar.Timestamp.IsZero() {
		return errInvalidBar("нулевой timestamp")
	}
	for _, p := range []decimal.Decimal{bar.Open, bar.High, bar.Low, bar.Close} {
		if p.Sign() <= 0 {
			return errInvalidBar("нечисловая или неположительная цена")
		}
	}
	if bar.Volume <= 0 {
		return errInvalidBar("неположительный volume")
	}
	if bar.Low.GreaterThan(bar.High) {
		return errInvalidBar("low превышает high")
	}
	return nil
}

type dataError string

func errInvalidBar(reason string) error { return dataError(reason) }

func (e dataError) Error() string { return "некорректный бар: " + string(e) }
