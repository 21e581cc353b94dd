package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Auction    AuctionConfig
	Settlement SettlementConfig
	Flags      FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"OPENLOTS_APP_ENV" required:"true"`
	Port         string `envconfig:"OPENLOTS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"OPENLOTS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"OPENLOTS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"OPENLOTS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"OPENLOTS_DB_DSN"`
	Driver string `envconfig:"OPENLOTS_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"OPENLOTS_DB_HOST"`
	Port     int    `envconfig:"OPENLOTS_DB_PORT" default:"5432"`
	User     string `envconfig:"OPENLOTS_DB_USER"`
	Password string `envconfig:"OPENLOTS_DB_PASSWORD"`
	Name     string `envconfig:"OPENLOTS_DB_NAME"`
	SSLMode  string `envconfig:"OPENLOTS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"OPENLOTS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"OPENLOTS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"OPENLOTS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"OPENLOTS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("db config: either OPENLOTS_DB_DSN or host/user/name parts are required")
	}
	d.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(d.Password),
		d.Host,
		d.Port,
		d.Name,
		d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"OPENLOTS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"OPENLOTS_REDIS_ADDR"`
	Password     string        `envconfig:"OPENLOTS_REDIS_PASSWORD"`
	DB           int           `envconfig:"OPENLOTS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"OPENLOTS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"OPENLOTS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"OPENLOTS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"OPENLOTS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"OPENLOTS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"OPENLOTS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"OPENLOTS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"OPENLOTS_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AuctionConfig tunes the live bidding engine.
type AuctionConfig struct {
	// LastMinuteWindow is the trailing window that triggers an extension.
	LastMinuteWindow time.Duration `envconfig:"OPENLOTS_AUCTION_LAST_MINUTE_WINDOW" default:"2m"`
	// ExtensionTime is how far auction_ends_at is pushed per triggering bid.
	ExtensionTime time.Duration `envconfig:"OPENLOTS_AUCTION_EXTENSION_TIME" default:"2m"`
	// AutoBidMaxRounds caps the proxy resolution loop.
	AutoBidMaxRounds int `envconfig:"OPENLOTS_AUCTION_AUTOBID_MAX_ROUNDS" default:"2000"`
	// AutoBidRoundDelay paces the visible proxy bidding war. Zero disables
	// pacing, which the tests rely on.
	AutoBidRoundDelay time.Duration `envconfig:"OPENLOTS_AUCTION_AUTOBID_ROUND_DELAY" default:"1s"`
	// BidDebounce silently drops a bidder's repeat submissions inside the window.
	BidDebounce time.Duration `envconfig:"OPENLOTS_AUCTION_BID_DEBOUNCE" default:"500ms"`
}

// SettlementConfig tunes the post-close settlement worker.
type SettlementConfig struct {
	Interval time.Duration `envconfig:"OPENLOTS_SETTLEMENT_INTERVAL" default:"30s"`
	// RefundPercent is the share of the escrow entry fee returned to losers.
	RefundPercent float64 `envconfig:"OPENLOTS_SETTLEMENT_REFUND_PERCENT" default:"0.60"`
	// ProcessingLeaseTTL bounds how long a listing may sit in the interim
	// processing state before the scan re-claims it.
	ProcessingLeaseTTL time.Duration `envconfig:"OPENLOTS_SETTLEMENT_PROCESSING_LEASE_TTL" default:"5m"`
	LockTTL            time.Duration `envconfig:"OPENLOTS_SETTLEMENT_LOCK_TTL" default:"2m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"OPENLOTS_AUTO_MIGRATE" default:"false"`
}
