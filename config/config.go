package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Market    MarketConfig    `mapstructure:"market"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	Log       LogConfig       `mapstructure:"log"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// MarketConfig describes which markets to track and how their pipelines
// behave. One pipeline is started per symbol.
type MarketConfig struct {
	Exchange string   `mapstructure:"exchange"` // venue name, e.g. "binance"
	Symbols  []string `mapstructure:"symbols"`  // e.g. ["BTC-USDT", "ETH-USDT"]
	Interval string   `mapstructure:"interval"` // candle interval label, e.g. "1m"

	MaxRetries   int           `mapstructure:"max_retries"`   // 0 = reconnect forever
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`  // first reconnect delay
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`   // backoff ceiling
	StreamBuffer int           `mapstructure:"stream_buffer"` // candle output stream capacity
	CacheSize    int           `mapstructure:"cache_size"`    // recent-candle cache per pipeline
}

// BinanceConfig holds the venue endpoints.
type BinanceConfig struct {
	WSURL            string        `mapstructure:"ws_url"`
	RESTURL          string        `mapstructure:"rest_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	RESTTimeout      time.Duration `mapstructure:"rest_timeout"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// RedisConfig configures the optional pub/sub event relay.
type RedisConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// RetentionConfig bounds how long candles and trades are kept in storage.
type RetentionConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	// TODO: env path
	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., MARKET_INTERVAL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
