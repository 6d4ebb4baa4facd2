// Package models содержит доменные типы движка: свечи, сигналы,
// параметры ордеров и активные позиции.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side различает направление сигнала и сторону ордера.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Origin различает ордера, размещённые движком, и позиции, усвоенные
// при реконсиляции с брокером.
type Origin string

const (
	OriginPlaced  Origin = "PLACED"
	OriginAdopted Origin = "ADOPTED"
)

// Bar — входящая минутная свеча от потока рыночных данных.
type Bar struct {
	Symbol    string
	Timestamp time.Time // UTC
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Candle — агрегированная свеча старшего таймфрейма. Та же форма, что и
// Bar, но с отдельным типом: свечи живут в истории агрегатора и никогда
// не мутируют после добавления.
type Candle Bar

// Signal — сигнал на вход, выпускаемый стратегией.
type Signal struct {
	Kind   Side
	Symbol string
	Price  decimal.Decimal
}

// OrderParams — неизменяемая конфигурация риска и выхода для стратегии.
type OrderParams struct {
	RiskPercentage  float64 // (0,1]
	TPMultiplier    float64 // >1
	SLMultiplier    float64 // (0,1)
	UseTrailingStop bool    // существует для совместимости, не используется OrderManager
	Extra           map[string]any
}

// ActiveOrder — позиция, за которой движок следит на предмет выхода.
// Неизменяема после создания; удаление из карты — единственный терминальный переход.
type ActiveOrder struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	OpenedAt   time.Time
	Origin     Origin
}

// Position — открытая позиция, как её возвращает брокер.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	Side          Side
	PositionID    string
}

// OrderRequest — параметры рыночного ордера, отправляемого брокеру.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Qty           decimal.Decimal
	TIF           string // всегда "GTC" в этой спецификации
	ClientOrderID string // сгенерирован вызывающей стороной, новый для каждой отправки; повторная отправка получает другой идентификатор
}

// OrderAck — успешный ответ брокера на размещение ордера.
type OrderAck struct {
	OrderID string
}
