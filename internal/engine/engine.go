// Package engine связывает агрегацию баров, стратегию и менеджер
// ордеров в единый пайплайн: прогрев истории, реконсиляция с брокером
// и последовательная обработка живых баров.
package engine

import (
	"context"
	"math"
	"time"

	// Встроенная база часовых поясов позволяет резолвить America/New_York
	// для расчёта окна прогрева без обращения к системе хоста.
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/revbot/internal/aggregator"
	"github.com/skalibog/revbot/internal/order"
	"github.com/skalibog/revbot/internal/strategy"
	"github.com/skalibog/revbot/pkg/logger"
	"github.com/skalibog/revbot/pkg/models"
)

// exchangeTimezone — часовой пояс, относительно которого считается
// окно прогрева. Биржи US-equities торгуют по America/New_York.
const exchangeTimezone = "America/New_York"

// lateDataShift — данные младше этого возраста недоступны на
// бесплатном тарифе брокера; прогрев сдвигает конец окна на эту величину.
const lateDataShift = 16 * time.Minute

// BrokerClient — внешний контракт, который движок потребляет: история,
// скринер most-actives, позиции и размещение ордеров. Композирует
// order.Broker, так что OrderManager можно сконструировать из того же
// значения, которое получает движок.
type BrokerClient interface {
	order.Broker
	MostActives(ctx context.Context, n int) ([]string, error)
	HistoricalBars(ctx context.Context, symbols []string, timeframeMinutes int, start, end time.Time) ([]models.Bar, error)
}

// MarketDataStream — источник живых баров: регистрирует обработчик и
// затем блокирует вызывающего до завершения или отмены контекста.
type MarketDataStream interface {
	OnBar(handler func(models.Bar))
	Run(ctx context.Context) error
}

// Sink — необязательный приёмник наблюдаемости: свечи и сигналы, но
// никогда состояние ордеров/позиций. nil Sink отключает запись.
type Sink interface {
	SaveCandle(candle models.Candle)
	SaveSignal(signal models.Signal, at time.Time)
}

// TradingEngine владеет по одному BarAggregator на символ, единственным
// OrderManager и стратегией. Фаза настройки (Warmup, Reconcile) и фаза
// выполнения (Run) разделены: вторая начинается только после первой.
type TradingEngine struct {
	symbols          []string
	timeframeMinutes int
	capital          decimal.Decimal

	broker   BrokerClient
	stream   MarketDataStream
	strategy strategy.Strategy
	manager  *order.Manager

	aggregators map[string]*aggregator.BarAggregator
	log         *zap.Logger
	sink        Sink

	runCtx context.Context
}

// WithSink attaches an observability sink; pass nil to disable writes.
func (e *TradingEngine) WithSink(sink Sink) *TradingEngine {
	e.sink = sink
	return e
}

// New создаёт движок для заданного набора символов. historySize
// ограничивает длину истории свечей, передаваемой стратегии.
func New(
	symbols []string,
	timeframeMinutes, historySize int,
	capital decimal.Decimal,
	broker BrokerClient,
	stream MarketDataStream,
	strat strategy.Strategy,
	lot order.LotSizer,
) *TradingEngine {
	aggs := make(map[string]*aggregator.BarAggregator, len(symbols))
	for _, sym := range symbols {
		aggs[sym] = aggregator.New(timeframeMinutes, historySize)
	}

	return &TradingEngine{
		symbols:          symbols,
		timeframeMinutes: timeframeMinutes,
		capital:          capital,
		broker:           broker,
		stream:           stream,
		strategy:         strat,
		manager:          order.New(broker, strat.DefaultOrderParams(), lot),
		aggregators:      aggs,
		log:              logger.GetLogger(),
	}
}

// Warmup пред-заполняет историю каждого символа историческими барами,
// best-effort: ошибка получения истории для символа логируется, и
// движок продолжает с тем, что накопил.
func (e *TradingEngine) Warmup(ctx context.Context) {
	lookback := lookbackMinutes(e.strategy.WarmupPeriod(), e.timeframeMinutes)

	loc, err := time.LoadLocation(exchangeTimezone)
	if err != nil {
		loc = time.UTC
	}
	end := time.Now().In(loc).Add(-lateDataShift)
	start := end.Add(-lookback)

	bars, err := e.broker.HistoricalBars(ctx, e.symbols, 1, start, end)
	if err != nil {
		e.log.Warn("прогрев: история получена частично", zap.Error(err))
	}

	bySymbol := make(map[string][]models.Bar, len(e.symbols))
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
	}

	for symbol, symbolBars := range bySymbol {
		agg, ok := e.aggregators[symbol]
		if !ok {
			continue
		}
		for _, bar := range symbolBars {
			bar.Timestamp = bar.Timestamp.UTC()
			if err := aggregator.ValidateBar(bar); err != nil {
				continue
			}
			agg.Add(bar)
		}
	}
}

// lookbackMinutes — ceil(warmup_period * timeframe * 1.5).
func lookbackMinutes(warmupPeriod, timeframeMinutes int) time.Duration {
	minutes := math.Ceil(float64(warmupPeriod) * float64(timeframeMinutes) * 1.5)
	return time.Duration(minutes) * time.Minute
}

// Reconcile усваивает позиции, уже открытые у брокера, в карту активных
// ордеров. Должна быть вызвана ровно один раз после Warmup и до Run.
func (e *TradingEngine) Reconcile(ctx context.Context) error {
	return e.manager.Reconcile(ctx)
}

// ActiveOrders возвращает снимок активных ордеров для диагностики.
func (e *TradingEngine) ActiveOrders() map[string]models.ActiveOrder {
	return e.manager.Active()
}

// Run регистрирует обработчик баров и передаёт управление блокирующему
// циклу потока. Возвращается, когда Run потока завершается (отмена
// контекста или фатальная ошибка транспорта).
func (e *TradingEngine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.stream.OnBar(e.onBar)
	return e.stream.Run(ctx)
}

// onBar реализует единственный шаг обработки бара: выход раньше входа,
// затем агрегация и — по готовности новой свечи — анализ и вход.
// Вызывается потоком серийно; никаких внутренних блокировок не нужно.
// Ни одна ошибка не должна покинуть эту функцию: поток прервался бы.
func (e *TradingEngine) onBar(bar models.Bar) {
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := aggregator.ValidateBar(bar); err != nil {
		e.log.Warn("отброшен некорректный бар",
			zap.String("symbol", bar.Symbol), zap.Time("bar_timestamp", bar.Timestamp), zap.Error(err))
		return
	}
	bar.Timestamp = bar.Timestamp.UTC()

	for _, exit := range e.manager.Monitor(ctx, map[string]decimal.Decimal{bar.Symbol: bar.Close}) {
		e.log.Info("позиция закрыта",
			zap.String("symbol", exit.Order.Symbol),
			zap.Time("bar_timestamp", bar.Timestamp),
			zap.String("cause", exit.Cause),
			zap.Bool("failed", exit.Failed))
	}

	agg, ok := e.aggregators[bar.Symbol]
	if !ok {
		return
	}

	candle, produced := agg.Add(bar)
	if !produced {
		return
	}
	if e.sink != nil {
		e.sink.SaveCandle(candle)
	}

	histories := make(map[string][]models.Candle, len(e.aggregators))
	for symbol, a := range e.aggregators {
		histories[symbol] = a.SnapshotHistory()
	}

	for _, signal := range e.strategy.Analyze(histories) {
		if e.sink != nil {
			e.sink.SaveSignal(signal, bar.Timestamp)
		}
		if signal.Kind != models.Buy {
			continue
		}
		result := e.manager.Place(ctx, signal, e.capital)
		switch result.Outcome {
		case order.Rejected:
			e.log.Info("вход отклонён",
				zap.String("symbol", signal.Symbol), zap.Time("bar_timestamp", bar.Timestamp),
				zap.String("reason", result.Reason))
		case order.Failed:
			e.log.Warn("вход не удался",
				zap.String("symbol", signal.Symbol), zap.Time("bar_timestamp", bar.Timestamp),
				zap.String("reason", result.Reason))
		case order.Accepted:
			e.log.Info("вход принят",
				zap.String("symbol", signal.Symbol), zap.String("order_id", result.Order.ID))
		}
	}
}
