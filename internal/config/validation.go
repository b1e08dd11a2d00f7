package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	// Validate App configuration
	errors = append(errors, c.validateApp()...)

	// Validate Database configuration
	errors = append(errors, c.validateDatabase()...)

	// Validate Redis configuration
	errors = append(errors, c.validateRedis()...)

	// Validate Trading defaults
	errors = append(errors, c.validateTrading()...)

	// Validate Risk (fee) defaults
	errors = append(errors, c.validateRisk()...)

	// Validate Exchange configuration
	errors = append(errors, c.validateExchanges()...)

	// Validate Backtest configuration
	errors = append(errors, c.validateBacktest()...)

	// Validate environment-specific requirements
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: "Environment is required (development, staging, or production)",
		})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if c.Database.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: "Database port is required",
		})
	} else if c.Database.Port < 1 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.User == "" {
		errors = append(errors, ValidationError{
			Field:   "database.user",
			Message: "Database user is required",
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	// Warn about missing password in non-development environments
	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if c.Redis.Port == 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: "Redis port is required",
		})
	} else if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	return errors
}

func (c *Config) validateTrading() ValidationErrors {
	var errors ValidationErrors

	if c.Trading.PositionSizeRatio <= 0 || c.Trading.PositionSizeRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.position_size_ratio",
			Message: fmt.Sprintf("Invalid position_size_ratio %.2f. Must be in (0, 1]", c.Trading.PositionSizeRatio),
		})
	}

	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.min_confidence",
			Message: fmt.Sprintf("Invalid min_confidence %.2f. Must be between 0-1", c.Trading.MinConfidence),
		})
	}

	if c.Trading.RiskLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "trading.risk_level",
			Message: "Risk level is required (low, medium, or high)",
		})
	} else {
		validLevels := []string{"low", "medium", "high"}
		valid := false
		for _, level := range validLevels {
			if strings.EqualFold(c.Trading.RiskLevel, level) {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "trading.risk_level",
				Message: fmt.Sprintf("Invalid risk_level '%s'. Must be one of: %v", c.Trading.RiskLevel, validLevels),
			})
		}
	}

	if c.Trading.MaxDailyLossPct <= 0 || c.Trading.MaxDailyLossPct > 1 {
		errors = append(errors, ValidationError{
			Field:   "trading.max_daily_loss_pct",
			Message: fmt.Sprintf("Invalid max_daily_loss_pct %.2f. Must be between 0-1", c.Trading.MaxDailyLossPct),
		})
	}

	return errors
}

func (c *Config) validateRisk() ValidationErrors {
	var errors ValidationErrors

	if c.Risk.MakerFee < 0 || c.Risk.MakerFee >= 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.maker_fee",
			Message: fmt.Sprintf("Invalid maker_fee %.4f. Must be in [0, 1)", c.Risk.MakerFee),
		})
	}

	if c.Risk.TakerFee < 0 || c.Risk.TakerFee >= 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.taker_fee",
			Message: fmt.Sprintf("Invalid taker_fee %.4f. Must be in [0, 1)", c.Risk.TakerFee),
		})
	}

	if c.Risk.MinProfitMultiple <= 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.min_profit_multiple",
			Message: "min_profit_multiple must be greater than 0",
		})
	}

	if c.Risk.MaxTradesPerHour < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_trades_per_hour",
			Message: "max_trades_per_hour must be at least 1",
		})
	}

	if c.Risk.MaxTradesPerDay < 1 {
		errors = append(errors, ValidationError{
			Field:   "risk.max_trades_per_day",
			Message: "max_trades_per_day must be at least 1",
		})
	}

	if c.Risk.MinHoldTimeMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "risk.min_hold_time_minutes",
			Message: "min_hold_time_minutes must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateBacktest() ValidationErrors {
	var errors ValidationErrors

	if c.Backtest.InitialCapital <= 0 {
		errors = append(errors, ValidationError{
			Field:   "backtest.initial_capital",
			Message: "Initial capital must be greater than 0",
		})
	}

	if c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1 {
		errors = append(errors, ValidationError{
			Field:   "backtest.commission_rate",
			Message: fmt.Sprintf("Invalid commission_rate %.4f. Must be in [0, 1)", c.Backtest.CommissionRate),
		})
	}

	if c.Backtest.SlippageRate < 0 || c.Backtest.SlippageRate >= 1 {
		errors = append(errors, ValidationError{
			Field:   "backtest.slippage_rate",
			Message: fmt.Sprintf("Invalid slippage_rate %.4f. Must be in [0, 1)", c.Backtest.SlippageRate),
		})
	}

	return errors
}

func (c *Config) validateExchanges() ValidationErrors {
	var errors ValidationErrors

	if len(c.Exchanges) == 0 {
		errors = append(errors, ValidationError{
			Field:   "exchanges",
			Message: "At least one exchange must be configured",
		})
	}

	for exchangeName, exchangeConfig := range c.Exchanges {
		// Check if API key is present for live trading
		if !c.Trading.PaperTrading && exchangeConfig.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.api_key", exchangeName),
				Message: "API key is required for live trading",
			})
		}

		if !c.Trading.PaperTrading && exchangeConfig.SecretKey == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.secret_key", exchangeName),
				Message: "Secret key is required for live trading",
			})
		}

		// Validate rate limit
		if exchangeConfig.RateLimitMS < 0 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("exchanges.%s.rate_limit_ms", exchangeName),
				Message: "Rate limit must be non-negative",
			})
		}
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	// Production-specific validations
	if c.App.Environment == "production" {
		// Validate production secrets strength
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)

		// Ensure no testnet in production
		for exchangeName, exchangeConfig := range c.Exchanges {
			if exchangeConfig.Testnet {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("exchanges.%s.testnet", exchangeName),
					Message: "Testnet mode must be disabled in production",
				})
			}
		}

		// Note: Paper trading in production might be intentional for testing
		// Not enforcing live trading mode as a hard requirement

		// Ensure SSL for database in production
		if c.Database.SSLMode == "disable" {
			errors = append(errors, ValidationError{
				Field:   "database.ssl_mode",
				Message: "SSL must be enabled for database in production",
			})
		}
	}

	// Check critical environment variables
	criticalEnvVars := []string{
		"DATABASE_URL", // Can be constructed from config, but should be set
	}

	for _, envVar := range criticalEnvVars {
		if os.Getenv(envVar) == "" && c.App.Environment == "production" {
			// DATABASE_URL is optional if database config is complete
			if envVar == "DATABASE_URL" {
				// Check if database config is complete
				if c.Database.Host != "" && c.Database.Database != "" {
					continue // Config is complete, no need for DATABASE_URL
				}
			}

			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("env.%s", envVar),
				Message: fmt.Sprintf("Environment variable %s is required in production", envVar),
			})
		}
	}

	return errors
}

// ValidateAndLoad loads and validates configuration
// Returns the loaded config and any validation errors
// configPath can be empty to use default config locations
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validation is already called within Load(), but we can call it again
	// for explicit validation if Load() is modified in the future
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
