package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tradectl/internal/currency"
	"tradectl/internal/domain"
	"tradectl/internal/limits"
	"tradectl/internal/logging"
	"tradectl/internal/wallet"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Rates    RatesConfig    `mapstructure:"rates"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Quote    QuoteConfig    `mapstructure:"quote"`
	Trade    TradeConfig    `mapstructure:"trade"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// BackendConfig covers the instant-trade REST backend.
type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	RetryCount        int           `mapstructure:"retry_count"`
}

// RatesConfig configures the exchange-rate provider and its fallbacks.
type RatesConfig struct {
	URL            string                     `mapstructure:"url"`
	APIKey         string                     `mapstructure:"api_key"`
	TTL            time.Duration              `mapstructure:"ttl"`
	RequestTimeout time.Duration              `mapstructure:"request_timeout"`
	Defaults       map[string]decimal.Decimal `mapstructure:"defaults"`
	Display        string                     `mapstructure:"display_currency"`
}

// LimitsConfig carries per-market trading limits.
type LimitsConfig struct {
	AccountType  string          `mapstructure:"account_type"`
	MinAmountUSD decimal.Decimal `mapstructure:"min_amount_usd"`
	DailyLimitPF decimal.Decimal `mapstructure:"daily_limit_pf"`
	DailyLimitPJ decimal.Decimal `mapstructure:"daily_limit_pj"`
}

// QuoteConfig tunes the quote orchestrator.
type QuoteConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	ValidityWindow time.Duration `mapstructure:"validity_window"`
	Tick           time.Duration `mapstructure:"tick"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TradeConfig tunes trade creation and monitoring.
type TradeConfig struct {
	PaymentMethod  string        `mapstructure:"payment_method"`
	TransferWindow time.Duration `mapstructure:"transfer_window"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
}

// WalletConfig holds the versioned symbol-resolution table.
type WalletConfig struct {
	SymbolTable wallet.SymbolTable `mapstructure:"symbol_table"`
}

// EthereumConfig covers the optional self-custody balance source.
type EthereumConfig struct {
	Enabled        bool                   `mapstructure:"enabled"`
	RPCURL         string                 `mapstructure:"rpc_url"`
	Network        string                 `mapstructure:"network"`
	Holder         string                 `mapstructure:"holder"`
	Tokens         []wallet.TokenContract `mapstructure:"tokens"`
	RequestTimeout time.Duration          `mapstructure:"request_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the trade journal.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// AlertingConfig defines trade notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Statuses []string       `mapstructure:"statuses"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for notifications.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRADECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tradectl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("backend.base_url", "http://localhost:8000/api/v1")
	v.SetDefault("backend.user_agent", "tradectl/1.0")
	v.SetDefault("backend.request_timeout", "15s")
	v.SetDefault("backend.requests_per_second", 5.0)
	v.SetDefault("backend.burst", 5)
	v.SetDefault("backend.retry_count", 2)

	v.SetDefault("rates.url", "https://api.exchangerate.host/latest")
	v.SetDefault("rates.ttl", "5m")
	v.SetDefault("rates.request_timeout", "5s")
	v.SetDefault("rates.display_currency", "USD")

	lim := limits.DefaultConfig()
	v.SetDefault("limits.account_type", string(limits.AccountPF))
	v.SetDefault("limits.min_amount_usd", lim.MinAmountUSD.String())
	v.SetDefault("limits.daily_limit_pf", lim.DailyLimitPF.String())
	v.SetDefault("limits.daily_limit_pj", lim.DailyLimitPJ.String())

	v.SetDefault("quote.debounce", "1200ms")
	v.SetDefault("quote.validity_window", "60s")
	v.SetDefault("quote.tick", "1s")
	v.SetDefault("quote.request_timeout", "15s")

	v.SetDefault("trade.payment_method", string(domain.PaymentPix))
	v.SetDefault("trade.transfer_window", "15m")
	v.SetDefault("trade.poll_interval", "1s")
	v.SetDefault("trade.poll_timeout", "10s")

	table := wallet.DefaultSymbolTable()
	v.SetDefault("wallet.symbol_table.version", table.Version)
	v.SetDefault("wallet.symbol_table.stablecoins", table.Stablecoins)
	v.SetDefault("wallet.symbol_table.networks", table.Networks)

	v.SetDefault("ethereum.enabled", false)
	v.SetDefault("ethereum.network", "ethereum")
	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.statuses", []string{})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			decimalHook(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and YAML numbers into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case decimal.Decimal:
			return v, nil
		}
		return data, nil
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Quote.Debounce <= 0 || c.Quote.ValidityWindow <= 0 || c.Quote.Tick <= 0 {
		return fmt.Errorf("quote debounce, validity_window and tick must be greater than zero")
	}
	if c.Trade.PollInterval <= 0 {
		return fmt.Errorf("trade.poll_interval must be greater than zero")
	}
	if _, err := domain.ParsePaymentMethod(c.Trade.PaymentMethod); err != nil {
		return fmt.Errorf("trade.payment_method: %w", err)
	}
	if _, err := limits.ParseAccountType(c.Limits.AccountType); err != nil {
		return fmt.Errorf("limits.account_type: %w", err)
	}
	if !c.Limits.MinAmountUSD.IsPositive() {
		return fmt.Errorf("limits.min_amount_usd must be greater than zero")
	}
	if c.Limits.DailyLimitPF.LessThan(c.Limits.MinAmountUSD) || c.Limits.DailyLimitPJ.LessThan(c.Limits.MinAmountUSD) {
		return fmt.Errorf("daily limits must not be below limits.min_amount_usd")
	}
	if _, err := currency.ParseCode(c.Rates.Display); err != nil {
		return fmt.Errorf("rates.display_currency: %w", err)
	}
	for code, rate := range c.Rates.Defaults {
		if _, err := currency.ParseCode(code); err != nil {
			return fmt.Errorf("rates.defaults: %w", err)
		}
		if !rate.IsPositive() {
			return fmt.Errorf("rates.defaults.%s must be greater than zero", code)
		}
	}
	for _, st := range c.Alerting.Statuses {
		if _, err := domain.ParseTradeStatus(st); err != nil {
			return fmt.Errorf("alerting.statuses: %w", err)
		}
	}
	if c.Ethereum.Enabled {
		if c.Ethereum.RPCURL == "" {
			return fmt.Errorf("ethereum.rpc_url is required when ethereum.enabled")
		}
		if c.Ethereum.Holder == "" {
			return fmt.Errorf("ethereum.holder is required when ethereum.enabled")
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// LimitsSettings converts the limits section for the validator.
func (c *Config) LimitsSettings() limits.Config {
	return limits.Config{
		MinAmountUSD: c.Limits.MinAmountUSD,
		DailyLimitPF: c.Limits.DailyLimitPF,
		DailyLimitPJ: c.Limits.DailyLimitPJ,
	}
}

// DefaultRates returns the configured fallback rates keyed by currency.
func (c *Config) DefaultRates() map[currency.Code]decimal.Decimal {
	out := make(map[currency.Code]decimal.Decimal, len(c.Rates.Defaults))
	for code, rate := range c.Rates.Defaults {
		out[currency.Code(strings.ToUpper(code))] = rate
	}
	return out
}
