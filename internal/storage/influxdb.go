// Package storage сохраняет данные наблюдаемости — агрегированные свечи
// и сгенерированные сигналы — в InfluxDB. Состояние ордеров и позиций
// здесь никогда не пишется — оно живёт только в памяти (internal/order).
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/revbot/pkg/models"
)

// Config — параметры подключения к приёмнику InfluxDB.
type Config struct {
	URL          string
	Token        string
	Organization string
	Bucket       string
}

// InfluxStorage пишет свечи и сигналы как точки временного ряда.
type InfluxStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// New подключается к InfluxDB и проверяет, что соединение здоровое.
func New(ctx context.Context, cfg Config) (*InfluxStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("проверка здоровья influxdb: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("influxdb нездорова: %+v", health)
	}

	return &InfluxStorage{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
	}, nil
}

// Close сбрасывает накопленные записи и освобождает соединение.
func (s *InfluxStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SaveCandle записывает одну агрегированную свечу.
func (s *InfluxStorage) SaveCandle(candle models.Candle) {
	open, _ := candle.Open.Float64()
	high, _ := candle.High.Float64()
	low, _ := candle.Low.Float64()
	closePrice, _ := candle.Close.Float64()

	point := influxdb2.NewPoint(
		"candles",
		map[string]string{"symbol": candle.Symbol},
		map[string]interface{}{
			"open":   open,
			"high":   high,
			"low":    low,
			"close":  closePrice,
			"volume": candle.Volume,
		},
		candle.Timestamp,
	)
	s.writeAPI.WritePoint(point)
}

// SaveSignal записывает один сигнал стратегии со временем, переданным
// вызывающей стороной (сам Signal метку времени не несёт — он
// оценивается на месте).
func (s *InfluxStorage) SaveSignal(signal models.Signal, at time.Time) {
	price, _ := signal.Price.Float64()

	point := influxdb2.NewPoint(
		"signals",
		map[string]string{"symbol": signal.Symbol, "kind": string(signal.Kind)},
		map[string]interface{}{"price": price},
		at,
	)
	s.writeAPI.WritePoint(point)
}
