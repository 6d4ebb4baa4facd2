// Package binance реализует engine.BrokerClient поверх Binance USD-M
// Futures REST API и engine.MarketDataStream поверх комбинированного
// websocket-потока kline.
package binance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/revbot/pkg/logger"
	"github.com/skalibog/revbot/pkg/models"
)

// Client реализует engine.BrokerClient поверх клиента futures.
type Client struct {
	futures *futures.Client
}

// Config — учётные данные и режим тестовой сети.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// NewClient создаёт клиента Binance USD-M Futures.
func NewClient(cfg Config) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	c := futures.NewClient(cfg.APIKey, cfg.APISecret)
	return &Client{futures: c}
}

// MostActives возвращает топ-n символов по 24-часовому объёму в quote-валюте.
func (c *Client) MostActives(ctx context.Context, n int) ([]string, error) {
	stats, err := c.futures.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение статистики тикеров: %w", err)
	}

	sort.Slice(stats, func(i, j int) bool {
		vi, _ := decimal.NewFromString(stats[i].QuoteVolume)
		vj, _ := decimal.NewFromString(stats[j].QuoteVolume)
		return vi.GreaterThan(vj)
	})

	if n > len(stats) {
		n = len(stats)
	}
	symbols := make([]string, n)
	for i := 0; i < n; i++ {
		symbols[i] = stats[i].Symbol
	}
	return symbols, nil
}

// HistoricalBars получает минутные бары для каждого символа в [start, end].
// Отказ по одному символу не должен лишать прогрева все остальные —
// неудачный символ пропускается с предупреждением, выборка продолжается.
func (c *Client) HistoricalBars(ctx context.Context, symbols []string, timeframeMinutes int, start, end time.Time) ([]models.Bar, error) {
	interval := fmt.Sprintf("%dm", timeframeMinutes)

	var out []models.Bar
	for _, symbol := range symbols {
		klines, err := c.futures.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(start.UnixMilli()).
			EndTime(end.UnixMilli()).
			Do(ctx)
		if err != nil {
			logger.GetLogger().Warn("получение исторических баров не удалось — символ пропущен",
				zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		for _, k := range klines {
			bar, err := klineToBar(symbol, k)
			if err != nil {
				continue
			}
			out = append(out, bar)
		}
	}
	return out, nil
}

// GetAllPositions возвращает все открытые позиции (ненулевой объём).
func (c *Client) GetAllPositions(ctx context.Context) ([]models.Position, error) {
	risks, err := c.futures.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение позиций: %w", err)
	}

	var out []models.Position
	for _, r := range risks {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		entry, err := decimal.NewFromString(r.EntryPrice)
		if err != nil {
			continue
		}

		side := models.Buy
		qty := amt
		if amt.Sign() < 0 {
			side = models.Sell
			qty = amt.Abs()
		}

		out = append(out, models.Position{
			Symbol:        r.Symbol,
			Quantity:      qty,
			AvgEntryPrice: entry,
			Side:          side,
			PositionID:    r.Symbol + ":" + string(r.PositionSide),
		})
	}
	return out, nil
}

// SubmitMarketOrder отправляет рыночный ордер указанной стороны.
func (c *Client) SubmitMarketOrder(ctx context.Context, req models.OrderRequest) (models.OrderAck, error) {
	side := futures.SideTypeBuy
	if req.Side == models.Sell {
		side = futures.SideTypeSell
	}

	svc := c.futures.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(req.Qty.String())
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return models.OrderAck{}, fmt.Errorf("размещение ордера %s %s: %w", req.Symbol, req.Side, err)
	}

	return models.OrderAck{OrderID: fmt.Sprintf("%d", resp.OrderID)}, nil
}

func klineToBar(symbol string, k *futures.Kline) (models.Bar, error) {
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return models.Bar{}, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return models.Bar{}, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return models.Bar{}, err
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return models.Bar{}, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return models.Bar{}, err
	}

	return models.Bar{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(k.CloseTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume.IntPart(),
	}, nil
}
