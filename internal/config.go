package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server" envconfig:"HTTP_SERVER"`
	Database      DatabaseConfig      `mapstructure:"database" envconfig:"DATABASE"`
	Security      SecurityConfig      `mapstructure:"security" envconfig:"SECURITY"`
	Paystack      PaystackConfig      `mapstructure:"paystack" envconfig:"PAYSTACK"`
	Redis         RedisConfig         `mapstructure:"redis" envconfig:"REDIS"`
	Observability ObservabilityConfig `mapstructure:"observability" envconfig:"OBSERVABILITY"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile" envconfig:"RECONCILE"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" envconfig:"PORT" default:"8080" validate:"required,min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url" envconfig:"BASE_URL" validate:"omitempty,url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"25" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"30m" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"CONN_MAX_IDLE_TIME" default:"5m" validate:"required,min=1m"`
	Source          string        `mapstructure:"source" envconfig:"SOURCE" validate:"required"`
}

type SecurityConfig struct {
	JWTAccessSecret      string        `mapstructure:"jwt_access_secret" envconfig:"JWT_ACCESS_SECRET" validate:"required,min=32"`
	JWTRefreshSecret     string        `mapstructure:"jwt_refresh_secret" envconfig:"JWT_REFRESH_SECRET" validate:"required,min=32"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration" envconfig:"ACCESS_TOKEN_DURATION" default:"15m" validate:"required,min=1m,max=1h"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" envconfig:"REFRESH_TOKEN_DURATION" default:"168h" validate:"required,min=1h"`
	BCryptCost           int           `mapstructure:"bcrypt_cost" envconfig:"BCRYPT_COST" default:"12" validate:"required,min=4,max=15"`
}

// PaystackConfig holds gateway credentials and the business constants used to
// price tickets. UnitPrice is kept as text so both viper and envconfig decode it
// without hooks; use UnitPriceAmount to read it.
type PaystackConfig struct {
	BaseURL         string        `mapstructure:"base_url" envconfig:"BASE_URL" default:"https://api.paystack.co" validate:"required,url"`
	SecretKey       string        `mapstructure:"secret_key" envconfig:"SECRET_KEY" validate:"required"`
	PublicKey       string        `mapstructure:"public_key" envconfig:"PUBLIC_KEY"`
	CallbackURL     string        `mapstructure:"callback_url" envconfig:"CALLBACK_URL" validate:"omitempty,url"`
	Timeout         time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT" default:"30s" validate:"required,min=1s,max=2m"`
	UnitPrice       string        `mapstructure:"unit_price" envconfig:"UNIT_PRICE" default:"3000.00" validate:"required,numeric"`
	Currency        string        `mapstructure:"currency" envconfig:"CURRENCY" default:"NGN" validate:"required,len=3"`
	ReferencePrefix string        `mapstructure:"reference_prefix" envconfig:"REFERENCE_PREFIX" default:"RCCG" validate:"required,max=16"`
}

type RedisConfig struct {
	Address    string        `mapstructure:"address" envconfig:"ADDRESS" validate:"omitempty,hostname_port"`
	Password   string        `mapstructure:"password" envconfig:"PASSWORD"`
	DB         int           `mapstructure:"db" envconfig:"DB" validate:"min=0,max=15"`
	WebhookTTL time.Duration `mapstructure:"webhook_ttl" envconfig:"WEBHOOK_TTL" default:"24h" validate:"required_with=Address"`
}

type ReconcileConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after" envconfig:"STALE_AFTER" default:"15m" validate:"required,min=1m"`
	Workers    int           `mapstructure:"workers" envconfig:"WORKERS" default:"4" validate:"required,min=1,max=64"`
	BatchSize  int           `mapstructure:"batch_size" envconfig:"BATCH_SIZE" default:"100" validate:"required,min=1,max=1000"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics" envconfig:"METRICS"`
	Logging LoggingConfig `mapstructure:"logging" envconfig:"LOGGING"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" envconfig:"ENABLED" default:"true"`
	Path    string `mapstructure:"path" envconfig:"PATH" default:"/metrics" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL" default:"info" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" envconfig:"FORMAT" default:"json" validate:"omitempty,oneof=json text"`
}

// LoadConfigFromEnv builds the config from environment variables, reading an
// optional .env file first.
func LoadConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	return &cfg, nil
}

// ----------------- VALIDATION -----------------

var configValidator = validator.New()

func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Paystack.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("paystack config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *SecurityConfig) Validate() error {
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("access and refresh token secrets must differ")
	}
	if c.RefreshTokenDuration <= c.AccessTokenDuration {
		return errors.New("refresh_token_duration must be longer than access_token_duration")
	}
	return nil
}

func (c *PaystackConfig) Validate() error {
	price, err := c.UnitPriceAmount()
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return errors.New("unit_price must be positive")
	}
	if price.Exponent() < -2 {
		return errors.New("unit_price must have at most 2 decimal places")
	}
	return nil
}

func (c *PaystackConfig) UnitPriceAmount() (decimal.Decimal, error) {
	price, err := decimal.NewFromString(c.UnitPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid unit_price %q: %w", c.UnitPrice, err)
	}
	return price, nil
}

func (c *RedisConfig) Enabled() bool {
	return c.Address != ""
}
