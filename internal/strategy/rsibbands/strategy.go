// Package rsibbands реализует двухстадийную стратегию возврата к
// среднему: стадия 1 взводит состояние на перепроданности ниже нижней
// полосы Боллинджера, стадия 2 подтверждает разворот сужением RSI,
// расширением полосы (bandwidth ROC) и бычьим поглощением.
package rsibbands

import (
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/skalibog/revbot/pkg/models"
)

// Config — параметры индикаторов и порогов. Нулевое значение не
// валидно; используйте DefaultConfig.
type Config struct {
	BBPeriod    int
	BBStdDev    float64
	RSIPeriod   int
	ROCPeriod   int

	Stage1RSIThreshold float64 // по умолчанию 30

	Stage2RSIEntry float64 // по умолчанию 30
	Stage2RSIExit  float64 // по умолчанию 40
	Stage2MinROC   float64 // по умолчанию 0.15
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		BBPeriod:           20,
		BBStdDev:           2,
		RSIPeriod:          14,
		ROCPeriod:          9,
		Stage1RSIThreshold: 30,
		Stage2RSIEntry:     30,
		Stage2RSIExit:      40,
		Stage2MinROC:       0.15,
	}
}

// state — состояние взведённости на символ.
type state struct {
	armed bool
}

// Strategy реализует strategy.Strategy.
type Strategy struct {
	cfg   Config
	state map[string]*state
}

// New создаёт стратегию с заданной конфигурацией индикаторов.
func New(cfg Config) *Strategy {
	return &Strategy{
		cfg:   cfg,
		state: make(map[string]*state),
	}
}

// WarmupPeriod — max(bb_period, rsi_period, roc_period) + 1.
func (s *Strategy) WarmupPeriod() int {
	period := s.cfg.BBPeriod
	if s.cfg.RSIPeriod > period {
		period = s.cfg.RSIPeriod
	}
	if s.cfg.ROCPeriod > period {
		period = s.cfg.ROCPeriod
	}
	return period + 1
}

// DefaultOrderParams возвращает рекомендуемые параметры риска/выхода.
func (s *Strategy) DefaultOrderParams() models.OrderParams {
	return models.OrderParams{
		RiskPercentage:  0.02,
		TPMultiplier:    1.5,
		SLMultiplier:    0.9,
		UseTrailingStop: false,
	}
}

// Analyze сканирует готовую историю каждого символа. Символы с историей
// короче WarmupPeriod пропускаются без изменения состояния.
func (s *Strategy) Analyze(historyBySymbol map[string][]models.Candle) []models.Signal {
	warmup := s.WarmupPeriod()
	var signals []models.Signal

	for symbol, candles := range historyBySymbol {
		if len(candles) < warmup {
			continue
		}

		st := s.state[symbol]
		if st == nil {
			st = &state{}
			s.state[symbol] = st
		}

		if signal, fired := s.step(symbol, candles, st); fired {
			signals = append(signals, signal)
		}
	}

	return signals
}

// step принимает решение на последней завершённой свече символа.
func (s *Strategy) step(symbol string, candles []models.Candle, st *state) (models.Signal, bool) {
	closes := closesOf(candles)

	rsi := talib.Rsi(closes, s.cfg.RSIPeriod)
	upper, _, lower := talib.BBands(closes, s.cfg.BBPeriod, s.cfg.BBStdDev, s.cfg.BBStdDev, 0)

	last := len(candles) - 1
	rsiT := rsi[last]
	lowerT := lower[last]

	roc := bandwidthROC(upper, lower, last, s.cfg.ROCPeriod)

	closeT := candles[last].Close

	if !st.armed {
		if closeT.LessThan(decimal.NewFromFloat(lowerT)) && rsiT <= s.cfg.Stage1RSIThreshold {
			st.armed = true
		}
		return models.Signal{}, false
	}

	// Стадия 2: сперва проверяем выход по перегреву RSI.
	if rsiT > s.cfg.Stage2RSIExit+5 {
		st.armed = false
		return models.Signal{}, false
	}

	if rsiT >= s.cfg.Stage2RSIEntry && rsiT < s.cfg.Stage2RSIExit &&
		!math.IsNaN(roc) && !math.IsInf(roc, 0) && roc > s.cfg.Stage2MinROC &&
		isBullishEngulfing(candles, last) {
		st.armed = false
		return models.Signal{Kind: models.Buy, Symbol: symbol, Price: closeT}, true
	}

	// Ни сброс, ни срабатывание — остаёмся взведёнными.
	return models.Signal{}, false
}

// bandwidthROC вычисляет (b_t - b_{t-n}) / b_{t-n} из серий верхней и
// нижней полос; NaN если истории недостаточно или знаменатель нулевой.
// Считаем вручную, а не через talib.Roc: talib возвращает результат в
// процентах (умноженным на 100), а здесь нужна доля.
func bandwidthROC(upper, lower []float64, t, n int) float64 {
	if t-n < 0 {
		return math.NaN()
	}
	bT := upper[t] - lower[t]
	bPrev := upper[t-n] - lower[t-n]
	if bPrev == 0 {
		return math.NaN()
	}
	return (bT - bPrev) / bPrev
}

// isBullishEngulfing проверяет бычье поглощение на последних двух
// свечах: предыдущая медвежья, текущая бычья, текущее тело охватывает
// предыдущее.
func isBullishEngulfing(candles []models.Candle, t int) bool {
	if t < 1 {
		return false
	}
	prev, cur := candles[t-1], candles[t]

	prevBearish := prev.Close.LessThan(prev.Open)
	curBullish := cur.Close.GreaterThan(cur.Open)
	opensBelowPrevClose := cur.Open.LessThan(prev.Close)
	closesAbovePrevOpen := cur.Close.GreaterThan(prev.Open)

	return prevBearish && curBullish && opensBelowPrevClose && closesAbovePrevOpen
}

func closesOf(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		f, _ := c.Close.Float64()
		out[i] = f
	}
	return out
}
