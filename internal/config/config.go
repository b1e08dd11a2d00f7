package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	Trading    TradingDefaults           `mapstructure:"trading"`
	Risk       FeeDefaults               `mapstructure:"risk"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	Backtest   BacktestConfig            `mapstructure:"backtest"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL (trade store) settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings for the market-data cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TradingDefaults seeds domain.BotConfig for any session that doesn't
// override a field explicitly. A BotConfig is per-user/per-symbol;
// these are just the defaults new sessions start from.
type TradingDefaults struct {
	PositionSizeRatio float64 `mapstructure:"position_size_ratio"` // (0,1]
	MinConfidence     float64 `mapstructure:"min_confidence"`      // [0,1]
	RiskLevel         string  `mapstructure:"risk_level"`          // "low"/"medium"/"high"
	MaxDailyLossPct   float64 `mapstructure:"max_daily_loss_pct"`
	PaperTrading      bool    `mapstructure:"paper_trading"`
}

// FeeDefaults seeds domain.FeeSettings for the fee-protection gate.
type FeeDefaults struct {
	MakerFee           float64 `mapstructure:"maker_fee"`
	TakerFee           float64 `mapstructure:"taker_fee"`
	MinProfitMultiple  float64 `mapstructure:"min_profit_multiple"`
	MaxTradesPerHour   int     `mapstructure:"max_trades_per_hour"`
	MaxTradesPerDay    int     `mapstructure:"max_trades_per_day"`
	MinHoldTimeMinutes float64 `mapstructure:"min_hold_time_minutes"`
}

// ExchangeConfig holds one exchange session's credentials and fee/slippage
// model — map-keyed per user/session in Config.Exchanges, never a single
// process-global credential.
type ExchangeConfig struct {
	APIKey      string    `mapstructure:"api_key"`
	SecretKey   string    `mapstructure:"secret_key"`
	Testnet     bool      `mapstructure:"testnet"`
	RateLimitMS int       `mapstructure:"rate_limit_ms"`
	Fees        FeeConfig `mapstructure:"fees"`
}

// FeeConfig contains exchange fee/slippage structure, also consumed by
// the backtester's paper-fill model.
type FeeConfig struct {
	Maker        float64 `mapstructure:"maker"`         // e.g. 0.001 = 0.1%
	Taker        float64 `mapstructure:"taker"`         // e.g. 0.001 = 0.1%
	BaseSlippage float64 `mapstructure:"base_slippage"` // e.g. 0.0005 = 0.05%
	MarketImpact float64 `mapstructure:"market_impact"` // e.g. 0.0001 = 0.01%
	MaxSlippage  float64 `mapstructure:"max_slippage"`  // e.g. 0.003 = 0.3%
	Withdrawal   float64 `mapstructure:"withdrawal"`
}

// BacktestConfig seeds pkg/backtest.BacktestConfig's defaults.
type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	CommissionRate float64 `mapstructure:"commission_rate"`
	SlippageRate   float64 `mapstructure:"slippage_rate"`
	PositionSizing string  `mapstructure:"position_sizing"` // "fixed"/"percent"/"kelly"
}

// MonitoringConfig contains monitoring settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TRADECORE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradecore")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "tradecore")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("trading.position_size_ratio", 0.1)
	v.SetDefault("trading.min_confidence", 0.6)
	v.SetDefault("trading.risk_level", "medium")
	v.SetDefault("trading.max_daily_loss_pct", 0.02)
	v.SetDefault("trading.paper_trading", true)

	v.SetDefault("risk.maker_fee", 0.001)
	v.SetDefault("risk.taker_fee", 0.001)
	v.SetDefault("risk.min_profit_multiple", 2.0)
	v.SetDefault("risk.max_trades_per_hour", 6)
	v.SetDefault("risk.max_trades_per_day", 30)
	v.SetDefault("risk.min_hold_time_minutes", 5.0)

	v.SetDefault("backtest.initial_capital", 10000.0)
	v.SetDefault("backtest.commission_rate", 0.001)
	v.SetDefault("backtest.slippage_rate", 0.0005)
	v.SetDefault("backtest.position_sizing", "percent")

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Exchange fee defaults (Binance-like structure); per-session
	// Exchanges entries override these, they never replace them globally.
	v.SetDefault("exchanges.binance.fees.maker", 0.001)
	v.SetDefault("exchanges.binance.fees.taker", 0.001)
	v.SetDefault("exchanges.binance.fees.base_slippage", 0.0005)
	v.SetDefault("exchanges.binance.fees.market_impact", 0.0001)
	v.SetDefault("exchanges.binance.fees.max_slippage", 0.003)
	v.SetDefault("exchanges.binance.fees.withdrawal", 0.0)
}

// GetDSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

