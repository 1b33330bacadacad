// Package config loads and persists the PowerTrader trading configuration:
// user region, the venues to connect, risk limits and the local service
// settings. Values come from a YAML file with POWERTRADER_* environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/powertraderai/powertrader/pkg/models"
)

// ExchangeConfig configures a single venue connection.
type ExchangeConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Priority int    `mapstructure:"priority" yaml:"priority"`
	Sandbox  bool   `mapstructure:"sandbox" yaml:"sandbox"`
}

// RiskConfig carries the portfolio risk limits as ratios of account value.
type RiskConfig struct {
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss" yaml:"max_daily_loss"`
	MaxWeeklyLoss        float64       `mapstructure:"max_weekly_loss" yaml:"max_weekly_loss"`
	MaxMonthlyLoss       float64       `mapstructure:"max_monthly_loss" yaml:"max_monthly_loss"`
	MaxAnnualLoss        float64       `mapstructure:"max_annual_loss" yaml:"max_annual_loss"`
	MaxPositionSize      float64       `mapstructure:"max_position_size" yaml:"max_position_size"`
	MaxLeverage          float64       `mapstructure:"max_leverage" yaml:"max_leverage"`
	MaxVolatility        float64       `mapstructure:"max_volatility" yaml:"max_volatility"`
	MaxConsecutiveLosses int           `mapstructure:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	MonitorInterval      time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
}

// ServerConfig configures the local monitor API.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StorageConfig selects the persistence backend. Driver is "sqlite" or
// "postgres"; DSN is the sqlite file path or the postgres connection string.
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// RedisConfig configures the optional price cache. An empty Addr disables
// Redis and the cache runs in-memory only.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// PaperConfig configures the paper trading account.
type PaperConfig struct {
	InitialBalance string `mapstructure:"initial_balance" yaml:"initial_balance"`
	CommissionRate string `mapstructure:"commission_rate" yaml:"commission_rate"`
}

// Config is the complete application configuration.
type Config struct {
	Region               string           `mapstructure:"region" yaml:"region"`
	PrimaryExchange      string           `mapstructure:"primary_exchange" yaml:"primary_exchange"`
	Exchanges            []ExchangeConfig `mapstructure:"exchanges" yaml:"exchanges"`
	PriceComparison      bool             `mapstructure:"price_comparison_enabled" yaml:"price_comparison_enabled"`
	AutoBestPrice        bool             `mapstructure:"auto_best_price" yaml:"auto_best_price"`
	CredentialDir        string           `mapstructure:"credential_dir" yaml:"credential_dir"`
	LogLevel             string           `mapstructure:"log_level" yaml:"log_level"`
	Risk                 RiskConfig       `mapstructure:"risk" yaml:"risk"`
	Server               ServerConfig     `mapstructure:"server" yaml:"server"`
	Storage              StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Redis                RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Paper                PaperConfig      `mapstructure:"paper" yaml:"paper"`
}

// Load reads configuration from the given file (or ./config.yaml when path is
// empty), applying defaults and POWERTRADER_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".powertrader"))
		}
	}

	v.SetEnvPrefix("POWERTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults apply. An explicit path
		// that cannot be read is an error.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("region", models.RegionGlobal)
	v.SetDefault("price_comparison_enabled", true)
	v.SetDefault("auto_best_price", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("risk.max_daily_loss", 0.02)
	v.SetDefault("risk.max_weekly_loss", 0.05)
	v.SetDefault("risk.max_monthly_loss", 0.10)
	v.SetDefault("risk.max_annual_loss", 0.20)
	v.SetDefault("risk.max_position_size", 0.10)
	v.SetDefault("risk.max_leverage", 2.0)
	v.SetDefault("risk.max_volatility", 0.40)
	v.SetDefault("risk.max_consecutive_losses", 5)
	v.SetDefault("risk.monitor_interval", 5*time.Second)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8642)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "powertrader.db")
	v.SetDefault("redis.ttl", 30*time.Second)
	v.SetDefault("paper.initial_balance", "10000")
	v.SetDefault("paper.commission_rate", "0.001")
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Region) {
	case models.RegionUS, models.RegionEU, models.RegionUK, models.RegionGlobal:
		c.Region = strings.ToUpper(c.Region)
	default:
		return fmt.Errorf("unknown region %q", c.Region)
	}
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.PrimaryExchange != "" {
		found := false
		for _, ex := range c.Exchanges {
			if ex.Name == c.PrimaryExchange {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("primary exchange %q is not configured", c.PrimaryExchange)
		}
	}
	return nil
}

// Save writes the configuration to path as YAML, readable only by the owner
// since venue names and service secrets live here.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// EnabledExchanges returns the enabled venue configs ordered by priority.
func (c *Config) EnabledExchanges() []ExchangeConfig {
	out := make([]ExchangeConfig, 0, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, ex)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority < out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Default builds the region-appropriate starting configuration. US users get
// no pre-enabled venues (credential-gated venues only), EU/UK default to
// Kraken as primary, everyone else starts on Binance.
func Default(region string) *Config {
	region = strings.ToUpper(region)
	cfg := &Config{
		Region:          region,
		PriceComparison: true,
		LogLevel:        "info",
		Risk: RiskConfig{
			MaxDailyLoss:         0.02,
			MaxWeeklyLoss:        0.05,
			MaxMonthlyLoss:       0.10,
			MaxAnnualLoss:        0.20,
			MaxPositionSize:      0.10,
			MaxLeverage:          2.0,
			MaxVolatility:        0.40,
			MaxConsecutiveLosses: 5,
			MonitorInterval:      5 * time.Second,
		},
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8642, ShutdownTimeout: 10 * time.Second},
		Storage: StorageConfig{Driver: "sqlite", DSN: "powertrader.db"},
		Redis:   RedisConfig{TTL: 30 * time.Second},
		Paper:   PaperConfig{InitialBalance: "10000", CommissionRate: "0.001"},
	}

	switch region {
	case models.RegionUS:
		cfg.Exchanges = []ExchangeConfig{
			{Name: "coinbase", Priority: 1},
			{Name: "kraken", Priority: 2},
			{Name: "binance", Priority: 3},
			{Name: "kucoin", Priority: 4},
		}
	case models.RegionEU:
		cfg.Exchanges = []ExchangeConfig{
			{Name: "kraken", Enabled: true, Priority: 1},
			{Name: "binance", Enabled: true, Priority: 2},
			{Name: "coinbase", Enabled: true, Priority: 3},
			{Name: "kucoin", Priority: 4},
			{Name: "bitstamp", Priority: 5},
		}
		cfg.PrimaryExchange = "kraken"
	case models.RegionUK:
		cfg.Exchanges = []ExchangeConfig{
			{Name: "kraken", Enabled: true, Priority: 1},
			{Name: "coinbase", Enabled: true, Priority: 2},
			{Name: "binance", Enabled: true, Priority: 3},
			{Name: "kucoin", Priority: 4},
		}
		cfg.PrimaryExchange = "kraken"
	default:
		cfg.Region = models.RegionGlobal
		cfg.Exchanges = []ExchangeConfig{
			{Name: "binance", Enabled: true, Priority: 1},
			{Name: "kraken", Enabled: true, Priority: 2},
			{Name: "kucoin", Enabled: true, Priority: 3},
			{Name: "coinbase", Priority: 4},
			{Name: "bitstamp", Priority: 5},
		}
		cfg.PrimaryExchange = "binance"
	}
	return cfg
}
