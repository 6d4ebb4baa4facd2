// Package strategy определяет контракт стратегии, которому
// TradingEngine делегирует принятие решений по готовым свечам.
package strategy

import "github.com/skalibog/revbot/pkg/models"

// Strategy — контракт. Реализации должны быть свободны от побочных
// эффектов, за исключением своего внутреннего состояния по символу, и
// не выполнять никакого I/O.
type Strategy interface {
	// WarmupPeriod — минимальное число завершённых свечей, необходимое
	// для того, чтобы Analyze начал выдавать сигналы по символу.
	WarmupPeriod() int

	// Analyze принимает историю свечей по каждому символу и возвращает
	// накопленные сигналы. Чисто в отношении внешнего наблюдателя;
	// может изменять собственное внутреннее состояние по символу.
	Analyze(historyBySymbol map[string][]models.Candle) []models.Signal

	// DefaultOrderParams возвращает параметры риска/выхода, которые
	// стратегия рекомендует для своих сигналов.
	DefaultOrderParams() models.OrderParams
}
