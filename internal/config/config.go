package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server  ServerConfig
	App     AppConfig
	Store   StoreConfig
	Cache   CacheConfig
	Lock    LockConfig
	Ledger  LedgerConfig
	Sweeper SweeperConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"grit-ledger-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Debug       bool     `envconfig:"APP_DEBUG" default:"false"`
	APIKeys     []string `envconfig:"API_KEYS" default:""` // comma separated; empty disables auth
}

// StoreConfig selects and configures the ledger store.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // memory, sqlite, postgres or mysql
	Path string `envconfig:"STORE_PATH" default:"./data/ledger.db"`

	Host     string `envconfig:"STORE_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PORT" default:"0"` // 0 picks the driver default
	Name     string `envconfig:"STORE_NAME" default:"grit"`
	User     string `envconfig:"STORE_USER" default:""`
	Password string `envconfig:"STORE_PASS" default:""`
	SSLMode  string `envconfig:"STORE_SSLMODE" default:"disable"`
}

// CacheConfig holds cache and Redis settings.
type CacheConfig struct {
	Type           string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// LockConfig selects the entity lock implementation.
type LockConfig struct {
	Type       string        `envconfig:"LOCK_TYPE" default:"local"` // local or redis
	LeaseTTL   time.Duration `envconfig:"LOCK_LEASE_TTL" default:"10s"`
	RetryDelay time.Duration `envconfig:"LOCK_RETRY_DELAY" default:"25ms"`
}

// LedgerConfig holds the economic policy.
type LedgerConfig struct {
	WaiverWindow   time.Duration `envconfig:"WAIVER_WINDOW" default:"24h"`
	OwnerShare     string        `envconfig:"WAIVER_OWNER_SHARE" default:"0.5"`
	MinRideStake   string        `envconfig:"RIDE_MIN_STAKE" default:"10"`
	MinRideOdds    int64         `envconfig:"RIDE_MIN_ODDS" default:"150"`
	MaxRideOdds    int64         `envconfig:"RIDE_MAX_ODDS" default:"2000"`
	MercyThreshold string        `envconfig:"LOAN_MERCY_THRESHOLD" default:"100"`
	LoanPrincipal  string        `envconfig:"LOAN_PRINCIPAL" default:"500"`
	LoanRate       string        `envconfig:"LOAN_RATE" default:"0.5"`
	LoanTerm       time.Duration `envconfig:"LOAN_TERM" default:"168h"`
}

// SweeperConfig holds settings for the maturity sweeper.
type SweeperConfig struct {
	Enabled  bool          `envconfig:"SWEEPER_ENABLED" default:"false"`
	Interval time.Duration `envconfig:"SWEEPER_INTERVAL" default:"1m"`
	Timeout  time.Duration `envconfig:"SWEEPER_TIMEOUT" default:"30s"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	port, user := s.Port, s.User
	if port == 0 {
		port = 5432
	}
	if user == "" {
		user = "postgres"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, s.Password, s.Host, port, s.Name, s.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	port, user := s.Port, s.User
	if port == 0 {
		port = 3306
	}
	if user == "" {
		user = "root"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
		user, s.Password, s.Host, port, s.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Keys returns the configured API keys with blanks removed.
func (a *AppConfig) Keys() []string {
	var keys []string
	for _, k := range a.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Decimals holds the parsed monetary policy values.
type Decimals struct {
	OwnerShare     decimal.Decimal
	MinRideStake   decimal.Decimal
	MercyThreshold decimal.Decimal
	LoanPrincipal  decimal.Decimal
	LoanRate       decimal.Decimal
}

// Decimals parses the monetary settings.
func (l *LedgerConfig) Decimals() (Decimals, error) {
	var out Decimals
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"WAIVER_OWNER_SHARE", l.OwnerShare, &out.OwnerShare},
		{"RIDE_MIN_STAKE", l.MinRideStake, &out.MinRideStake},
		{"LOAN_MERCY_THRESHOLD", l.MercyThreshold, &out.MercyThreshold},
		{"LOAN_PRINCIPAL", l.LoanPrincipal, &out.LoanPrincipal},
		{"LOAN_RATE", l.LoanRate, &out.LoanRate},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Decimals{}, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		if v.IsNegative() {
			return Decimals{}, fmt.Errorf("invalid %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = v
	}
	if out.OwnerShare.GreaterThan(decimal.NewFromInt(1)) {
		return Decimals{}, fmt.Errorf("invalid WAIVER_OWNER_SHARE %q: must be at most 1", l.OwnerShare)
	}
	return out, nil
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case "memory", "sqlite", "postgres", "postgresql", "mysql":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.Store.Type)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}
	switch c.Lock.Type {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown LOCK_TYPE %q", c.Lock.Type)
	}
	if c.Ledger.MinRideOdds > c.Ledger.MaxRideOdds {
		return fmt.Errorf("RIDE_MIN_ODDS %d exceeds RIDE_MAX_ODDS %d", c.Ledger.MinRideOdds, c.Ledger.MaxRideOdds)
	}
	if c.Ledger.WaiverWindow <= 0 || c.Ledger.LoanTerm <= 0 {
		return fmt.Errorf("WAIVER_WINDOW and LOAN_TERM must be positive")
	}
	_, err := c.Ledger.Decimals()
	return err
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
