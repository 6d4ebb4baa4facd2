package binance

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/revbot/pkg/logger"
	"github.com/skalibog/revbot/pkg/models"
)

const combinedStreamBaseURL = "wss://fstream.binance.com/stream"

// Stream реализует engine.MarketDataStream через комбинированный
// websocket-поток минутных kline Binance USD-M Futures.
type Stream struct {
	symbols []string
	url     string

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(models.Bar)

	log *zap.Logger
}

// NewStream создаёт поток для заданного набора символов, каждый
// подписывается на канал kline_1m.
func NewStream(symbols []string) *Stream {
	return &Stream{
		symbols: symbols,
		url:     combinedStreamURL(symbols),
		log:     logger.GetLogger(),
	}
}

func combinedStreamURL(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@kline_1m"
	}
	return combinedStreamBaseURL + "?streams=" + strings.Join(streams, "/")
}

// OnBar регистрирует обработчик, вызываемый для каждого закрытого бара.
func (s *Stream) OnBar(handler func(models.Bar)) {
	s.handler = handler
}

// Close закрывает текущее соединение, если оно установлено; Run
// интерпретирует это как разрыв и переподключается, если контекст
// ещё не отменён.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Run подключается и блокирует вызывающего до отмены контекста или
// неустранимой ошибки. Разрывы соединения переподключаются с
// экспоненциальной задержкой.
func (s *Stream) Run(ctx context.Context) error {
	boff := &backoff.Backoff{
		Min:    1 * time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			delay := boff.Duration()
			s.log.Warn("подключение к потоку не удалось, повтор",
				zap.Duration("delay", delay), zap.Error(err))
			if !sleepOrDone(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		boff.Reset()

		err = s.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := boff.Duration()
		s.log.Warn("поток отключился, переподключение",
			zap.Duration("delay", delay), zap.Error(err))
		if !sleepOrDone(ctx, delay) {
			return ctx.Err()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		bar, ok, err := parseKlineMessage(payload)
		if err != nil || !ok {
			continue
		}
		if s.handler != nil {
			s.handler(bar)
		}
	}
}

type combinedEnvelope struct {
	Stream string         `json:"stream"`
	Data   klineEventJSON `json:"data"`
}

type klineEventJSON struct {
	EventType string       `json:"e"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	Symbol    string `json:"s"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	IsClosed  bool   `json:"x"`
}

// parseKlineMessage переводит сырое сообщение комбинированного потока в
// Bar. ok=false, если сообщение относится к незакрытому бару или не
// является kline-событием — не ошибка, просто не готовый бар.
func parseKlineMessage(payload []byte) (models.Bar, bool, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return models.Bar{}, false, err
	}
	if env.Data.EventType != "kline" || !env.Data.Kline.IsClosed {
		return models.Bar{}, false, nil
	}

	k := env.Data.Kline
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return models.Bar{}, false, err
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return models.Bar{}, false, err
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return models.Bar{}, false, err
	}
	closePrice, err := decimal.NewFromString(k.Close)
	if err != nil {
		return models.Bar{}, false, err
	}
	volume, err := decimal.NewFromString(k.Volume)
	if err != nil {
		return models.Bar{}, false, err
	}

	return models.Bar{
		Symbol:    k.Symbol,
		Timestamp: time.UnixMilli(k.CloseTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume.IntPart(),
	}, true, nil
}
