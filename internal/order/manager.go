package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/revbot/pkg/logger"
	"github.com/skalibog/revbot/pkg/models"
)

// Broker — поверхность брокера, которая нужна OrderManager: размещение
// рыночных ордеров и чтение текущих позиций для реконсиляции. Принимать
// интерфейс меньшего размера, чем полный BrokerClient движка, позволяет
// тестировать OrderManager без истории баров и списка most-actives.
type Broker interface {
	SubmitMarketOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error)
	GetAllPositions(ctx context.Context) ([]models.Position, error)
}

// Outcome — результат попытки разместить ордер.
type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	Failed
)

// RejectReason перечисляет причины отказа, которые не требуют обращения к брокеру.
type RejectReason string

const DuplicatePosition RejectReason = "DUPLICATE_POSITION"

// PlaceResult — исход Place: ровно один из Accepted/Rejected/Failed.
type PlaceResult struct {
	Outcome Outcome
	Order   *models.ActiveOrder
	Reason  string
}

// ExitResult описывает одно закрытие позиции, выполненное Monitor.
type ExitResult struct {
	Order  models.ActiveOrder
	Price  decimal.Decimal
	Cause  string // "stop_loss" | "take_profit"
	Failed bool
	Err    error
}

// Manager отслеживает активные ордера по символу, размещает входы и
// закрывает позиции по достижении стоп-лосса/тейк-профита. Вызывается
// из единственного потока — внутренних блокировок не требуется.
type Manager struct {
	broker Broker
	params models.OrderParams
	calc   *Calculator
	active map[string]*models.ActiveOrder // keyed by symbol — не более одной позиции на символ
	log    *zap.Logger
	now    func() time.Time
}

// New создаёт OrderManager с заданным брокером и параметрами ордеров по умолчанию.
func New(broker Broker, params models.OrderParams, lot LotSizer) *Manager {
	return &Manager{
		broker: broker,
		params: params,
		calc:   NewCalculator(lot),
		active: make(map[string]*models.ActiveOrder),
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

// Active возвращает снимок активных ордеров, индексированный по символу.
func (m *Manager) Active() map[string]models.ActiveOrder {
	out := make(map[string]models.ActiveOrder, len(m.active))
	for sym, o := range m.active {
		out[sym] = *o
	}
	return out
}

// Place отклоняет дубликат позиции без обращения к
// брокеру, иначе вычисляет количество/стоп/тейк и отправляет рыночный
// BUY-ордер.
func (m *Manager) Place(ctx context.Context, signal models.Signal, capital decimal.Decimal) PlaceResult {
	if _, exists := m.active[signal.Symbol]; exists {
		return PlaceResult{Outcome: Rejected, Reason: string(DuplicatePosition)}
	}

	qty, err := m.calc.Quantity(capital, signal.Price, m.params)
	if err != nil {
		return PlaceResult{Outcome: Failed, Reason: err.Error()}
	}
	stopLoss, err := m.calc.StopLoss(signal.Price, m.params)
	if err != nil {
		return PlaceResult{Outcome: Failed, Reason: err.Error()}
	}
	takeProfit, err := m.calc.TakeProfit(signal.Price, m.params)
	if err != nil {
		return PlaceResult{Outcome: Failed, Reason: err.Error()}
	}

	ack, err := m.broker.SubmitMarketOrder(ctx, models.OrderRequest{
		Symbol:        signal.Symbol,
		Side:          models.Buy,
		Qty:           qty,
		TIF:           "GTC",
		ClientOrderID: "revbot-" + uuid.NewString(),
	})
	if err != nil {
		m.log.Warn("размещение ордера не удалось",
			zap.String("symbol", signal.Symbol), zap.Error(err))
		return PlaceResult{Outcome: Failed, Reason: err.Error()}
	}

	activeOrder := &models.ActiveOrder{
		ID:         ack.OrderID,
		Symbol:     signal.Symbol,
		Side:       models.Buy,
		Quantity:   qty,
		EntryPrice: signal.Price,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   m.now(),
		Origin:     models.OriginPlaced,
	}
	m.active[signal.Symbol] = activeOrder

	return PlaceResult{Outcome: Accepted, Order: activeOrder}
}

// Monitor проверяет каждый активный ордер: при цене,
// пересёкшей стоп-лосс или тейк-профит, отправляет закрывающий рыночный
// SELL и удаляет позицию. При пересечении обоих порогов на одном баре
// стоп-лосс имеет приоритет (защитный выбор). Срабатывание edge-triggered:
// после успешной отправки закрывающего ордера позиция снимается, и
// следующие бары её уже не видят. Если отправка не удалась, позиция
// остаётся активной и проверяется заново на следующем баре; повтора
// внутри Monitor нет.
func (m *Manager) Monitor(ctx context.Context, prices map[string]decimal.Decimal) []ExitResult {
	var results []ExitResult

	for symbol, o := range m.active {
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		var cause string
		switch {
		case price.LessThanOrEqual(o.StopLoss):
			cause = "stop_loss"
		case price.GreaterThanOrEqual(o.TakeProfit):
			cause = "take_profit"
		default:
			continue
		}

		_, err := m.broker.SubmitMarketOrder(ctx, models.OrderRequest{
			Symbol:        symbol,
			Side:          models.Sell,
			Qty:           o.Quantity,
			TIF:           "GTC",
			ClientOrderID: "revbot-" + uuid.NewString(),
		})
		if err != nil {
			m.log.Warn("закрытие позиции не удалось — остаётся активной до следующего бара",
				zap.String("symbol", symbol), zap.String("cause", cause), zap.Error(err))
			results = append(results, ExitResult{Order: *o, Price: price, Cause: cause, Failed: true, Err: err})
			continue
		}

		delete(m.active, symbol)
		results = append(results, ExitResult{Order: *o, Price: price, Cause: cause})
	}

	return results
}

// Reconcile усваивает позиции брокера,
// которых движок ещё не отслеживает, вычисляя стоп/тейк от order_params
// текущей стратегии. Идемпотентна при неизменном состоянии брокера —
// уже отслеживаемые символы не трогаются.
func (m *Manager) Reconcile(ctx context.Context) error {
	positions, err := m.broker.GetAllPositions(ctx)
	if err != nil {
		return err
	}

	for _, p := range positions {
		if _, exists := m.active[p.Symbol]; exists {
			continue
		}

		stopLoss, err := m.calc.StopLoss(p.AvgEntryPrice, m.params)
		if err != nil {
			m.log.Warn("реконсиляция: пропущена позиция с невалидной ценой входа",
				zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		takeProfit, err := m.calc.TakeProfit(p.AvgEntryPrice, m.params)
		if err != nil {
			m.log.Warn("реконсиляция: пропущена позиция с невалидной ценой входа",
				zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}

		m.active[p.Symbol] = &models.ActiveOrder{
			ID:         "sync:" + p.Symbol + ":" + p.PositionID,
			Symbol:     p.Symbol,
			Side:       p.Side,
			Quantity:   p.Quantity,
			EntryPrice: p.AvgEntryPrice,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			OpenedAt:   m.now(),
			Origin:     models.OriginAdopted,
		}
	}

	return nil
}
