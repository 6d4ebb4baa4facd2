// Package order содержит чистый калькулятор параметров ордера и
// менеджер жизненного цикла активных позиций.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/skalibog/revbot/pkg/models"
)

// InvalidParamsError сообщает, что входные параметры ордера не
// удовлетворяют допустимым границам — конструирование ордера невозможно.
type InvalidParamsError struct {
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("неверные параметры ордера: %s", e.Reason)
}

// LotSizer усекает расчётное количество до торгуемого размера лота
// конкретной площадки. По умолчанию используется NoLotSize — дробные
// количества разрешены.
type LotSizer interface {
	Floor(qty decimal.Decimal) decimal.Decimal
}

// NoLotSize не усекает количество — площадка принимает дробные лоты.
type NoLotSize struct{}

func (NoLotSize) Floor(qty decimal.Decimal) decimal.Decimal { return qty }

// Calculator — безгосударственный набор функций: количество,
// стоп-лосс и тейк-профит. Детерминирован и не зависит от времени.
type Calculator struct {
	Lot LotSizer
}

// NewCalculator создаёт калькулятор с заданным усечением лота; nil
// означает NoLotSize.
func NewCalculator(lot LotSizer) *Calculator {
	if lot == nil {
		lot = NoLotSize{}
	}
	return &Calculator{Lot: lot}
}

// Validate проверяет инварианты параметров и цены входа без вычисления
// результата — используется и Calculator, и OrderManager до отправки
// ордера брокеру.
func Validate(entryPrice decimal.Decimal, params models.OrderParams) error {
	if entryPrice.Sign() <= 0 {
		return &InvalidParamsError{Reason: "entry_price должна быть положительной"}
	}
	if params.SLMultiplier >= 1 {
		return &InvalidParamsError{Reason: "sl_multiplier должен быть < 1"}
	}
	if params.TPMultiplier <= 1 {
		return &InvalidParamsError{Reason: "tp_multiplier должен быть > 1"}
	}
	return nil
}

// Quantity вычисляет количество к покупке: floor_to_tradable((capital *
// risk_percentage) / entry_price).
func (c *Calculator) Quantity(capital, entryPrice decimal.Decimal, params models.OrderParams) (decimal.Decimal, error) {
	if err := Validate(entryPrice, params); err != nil {
		return decimal.Zero, err
	}
	risk := decimal.NewFromFloat(params.RiskPercentage)
	raw := capital.Mul(risk).Div(entryPrice)
	return c.Lot.Floor(raw), nil
}

// StopLoss вычисляет entry_price * sl_multiplier.
func (c *Calculator) StopLoss(entryPrice decimal.Decimal, params models.OrderParams) (decimal.Decimal, error) {
	if err := Validate(entryPrice, params); err != nil {
		return decimal.Zero, err
	}
	return entryPrice.Mul(decimal.NewFromFloat(params.SLMultiplier)), nil
}

// TakeProfit вычисляет entry_price * tp_multiplier.
func (c *Calculator) TakeProfit(entryPrice decimal.Decimal, params models.OrderParams) (decimal.Decimal, error) {
	if err := Validate(entryPrice, params); err != nil {
		return decimal.Zero, err
	}
	return entryPrice.Mul(decimal.NewFromFloat(params.TPMultiplier)), nil
}
