// Package config загружает YAML-файл конфигурации, который связывает
// учётные данные, торговые параметры и настройку стратегии с движком
// при запуске.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ConfigError сообщает о фатальной проблеме конфигурации: отсутствующих
// учётных данных или невалидном параметре. Ошибки на этапе построения
// распространяются и прерывают процесс — они никогда не восстанавливаются.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ошибка конфигурации: %s", e.Reason)
}

// Config — полная конфигурация приложения.
type Config struct {
	Binance  BinanceConfig  `yaml:"binance"`
	Trading  TradingConfig  `yaml:"trading"`
	Strategy StrategyConfig `yaml:"strategy"`
	Storage  *StorageConfig `yaml:"storage"`
}

// BinanceConfig хранит учётные данные брокера. APIKey/APISecret можно
// оставить пустыми в файле и задать через BINANCE_API_KEY/BINANCE_API_SECRET.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig — торгуемые символы и параметры размера позиции. Если
// Symbols пуст, вызывающая сторона должна заполнить список, отобрав
// MostActivesCount символов по списку most-actives брокера.
type TradingConfig struct {
	Symbols          []string `yaml:"symbols"`
	MostActivesCount int      `yaml:"most_actives_count"`
	TimeframeMinutes int      `yaml:"timeframe_minutes"`
	HistorySize      int      `yaml:"history_size"`
	Capital          string   `yaml:"capital"` // строка-число, например "10000"
}

// StrategyConfig настраивает стратегию возврата к среднему на RSI и
// полосах Боллинджера. Load оставляет нулевые поля как есть; значениями
// rsibbands.DefaultConfig() их заменяет mergeStrategyConfig в cmd/revbot.
type StrategyConfig struct {
	BBPeriod           int     `yaml:"bb_period"`
	BBStdDev           float64 `yaml:"bb_std_dev"`
	RSIPeriod          int     `yaml:"rsi_period"`
	ROCPeriod          int     `yaml:"roc_period"`
	Stage1RSIThreshold float64 `yaml:"stage1_rsi_threshold"`
	Stage2RSIEntry     float64 `yaml:"stage2_rsi_entry"`
	Stage2RSIExit      float64 `yaml:"stage2_rsi_exit"`
	Stage2MinROC       float64 `yaml:"stage2_min_roc"`
}

// StorageConfig, если присутствует, включает приёмник наблюдаемости InfluxDB.
type StorageConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Load читает и разбирает YAML-файл по пути path, накладывает учётные
// данные брокера из окружения и валидирует обязательные поля.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение файла конфигурации: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор файла конфигурации: %w", err)
	}

	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.APISecret = v
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
		return &ConfigError{Reason: "отсутствуют учётные данные binance"}
	}
	if len(cfg.Trading.Symbols) == 0 && cfg.Trading.MostActivesCount <= 0 {
		return &ConfigError{Reason: "не указаны торгуемые символы и most_actives_count"}
	}
	if cfg.Trading.TimeframeMinutes <= 0 {
		return &ConfigError{Reason: "timeframe_minutes должен быть положительным"}
	}
	if cfg.Trading.HistorySize <= 0 {
		return &ConfigError{Reason: "history_size должен быть положительным"}
	}
	if cfg.Trading.Capital == "" {
		return &ConfigError{Reason: "не указан capital"}
	}
	return nil
}
