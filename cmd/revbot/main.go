package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skalibog/revbot/internal/config"
	"github.com/skalibog/revbot/internal/engine"
	"github.com/skalibog/revbot/internal/exchange/binance"
	"github.com/skalibog/revbot/internal/storage"
	"github.com/skalibog/revbot/internal/strategy/rsibbands"
	"github.com/skalibog/revbot/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}

	capital, err := decimal.NewFromString(cfg.Trading.Capital)
	if err != nil {
		logger.Fatal("неверный capital в конфигурации", zap.Error(err))
	}

	brokerClient := binance.NewClient(binance.Config{
		APIKey:    cfg.Binance.APIKey,
		APISecret: cfg.Binance.APISecret,
		Testnet:   cfg.Binance.Testnet,
	})

	symbols := cfg.Trading.Symbols
	if len(symbols) == 0 {
		screened, err := brokerClient.MostActives(context.Background(), cfg.Trading.MostActivesCount)
		if err != nil {
			logger.Fatal("отбор most-actives не удался", zap.Error(err))
		}
		symbols = screened
		logger.Info("символы отобраны по most-actives", zap.Strings("symbols", symbols))
	}

	stream := binance.NewStream(symbols)
	strat := rsibbands.New(mergeStrategyConfig(cfg.Strategy))

	eng := engine.New(
		symbols,
		cfg.Trading.TimeframeMinutes,
		cfg.Trading.HistorySize,
		capital,
		brokerClient,
		stream,
		strat,
		nil,
	)

	if cfg.Storage != nil {
		sink, err := storage.New(context.Background(), storage.Config{
			URL:          cfg.Storage.URL,
			Token:        cfg.Storage.Token,
			Organization: cfg.Storage.Organization,
			Bucket:       cfg.Storage.Bucket,
		})
		if err != nil {
			logger.Warn("хранилище наблюдаемости отключено", zap.Error(err))
		} else {
			defer sink.Close()
			eng = eng.WithSink(sink)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("получен сигнал завершения, останавливаемся")
		cancel()
	}()

	eng.Warmup(ctx)
	if err := eng.Reconcile(ctx); err != nil {
		logger.Warn("реконсиляция позиций не удалась, продолжаем без усвоенных позиций", zap.Error(err))
	}

	go reportStatus(ctx, eng)

	if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("поток рыночных данных завершился с ошибкой", zap.Error(err))
	}
}

// mergeStrategyConfig накладывает ненулевые значения из файла
// конфигурации на значения по умолчанию стратегии.
func mergeStrategyConfig(c config.StrategyConfig) rsibbands.Config {
	cfg := rsibbands.DefaultConfig()
	if c.BBPeriod != 0 {
		cfg.BBPeriod = c.BBPeriod
	}
	if c.BBStdDev != 0 {
		cfg.BBStdDev = c.BBStdDev
	}
	if c.RSIPeriod != 0 {
		cfg.RSIPeriod = c.RSIPeriod
	}
	if c.ROCPeriod != 0 {
		cfg.ROCPeriod = c.ROCPeriod
	}
	if c.Stage1RSIThreshold != 0 {
		cfg.Stage1RSIThreshold = c.Stage1RSIThreshold
	}
	if c.Stage2RSIEntry != 0 {
		cfg.Stage2RSIEntry = c.Stage2RSIEntry
	}
	if c.Stage2RSIExit != 0 {
		cfg.Stage2RSIExit = c.Stage2RSIExit
	}
	if c.Stage2MinROC != 0 {
		cfg.Stage2MinROC = c.Stage2MinROC
	}
	return cfg
}

// reportStatus периодически логирует активность движка вместо
// интерактивной панели.
func reportStatus(ctx context.Context, eng *engine.TradingEngine) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("статус движка", zap.Int("активных_ордеров", len(eng.ActiveOrders())))
		}
	}
}
