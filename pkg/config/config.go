package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GoogleMaps   GoogleMapsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Ledger       LedgerConfig
	Dispatch     DispatchConfig
	Geo          GeoConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Ledger.PlatformShards < 1 {
		return nil, fmt.Errorf("%s must be at least 1", EnvLedgerPlatformShards)
	}
	if cfg.Ledger.MaxTxAttempts < 1 {
		return nil, fmt.Errorf("%s must be at least 1", EnvLedgerMaxTxAttempts)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"MARKETLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MARKETLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETLEDGER_DB_DSN"`
	Driver string `envconfig:"MARKETLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"MARKETLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKETLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKETLEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKETLEDGER_JWT_EXPIRATION_MINUTES" required:"true"`
}

// RateLimitConfig bounds the hot dispatch endpoints per caller.
type RateLimitConfig struct {
	AcceptWindow time.Duration `envconfig:"MARKETLEDGER_RATE_LIMIT_ACCEPT_WINDOW" default:"10s"`
	AcceptLimit  int           `envconfig:"MARKETLEDGER_RATE_LIMIT_ACCEPT_LIMIT" default:"5"`
	PayoutWindow time.Duration `envconfig:"MARKETLEDGER_RATE_LIMIT_PAYOUT_WINDOW" default:"1m"`
	PayoutLimit  int           `envconfig:"MARKETLEDGER_RATE_LIMIT_PAYOUT_LIMIT" default:"3"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKETLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKETLEDGER_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"MARKETLEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GoogleMapsConfig struct {
	APIKey string `envconfig:"MARKETLEDGER_GOOGLE_MAPS_API_KEY"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETLEDGER_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MARKETLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig names the outbox topics. Only the analytics worker reads a
// subscription; publishers leave LedgerSubscription empty.
type PubSubConfig struct {
	OrdersTopic        string `envconfig:"MARKETLEDGER_PUBSUB_ORDERS_TOPIC" required:"true"`
	LedgerTopic        string `envconfig:"MARKETLEDGER_PUBSUB_LEDGER_TOPIC" required:"true"`
	LedgerSubscription string `envconfig:"MARKETLEDGER_PUBSUB_LEDGER_SUBSCRIPTION"`
	NotificationTopic  string `envconfig:"MARKETLEDGER_PUBSUB_NOTIFICATION_TOPIC" default:"ml-notification-events"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"MARKETLEDGER_BIGQUERY_DATASET" default:"marketledger"`
	LedgerFactTable string `envconfig:"MARKETLEDGER_BIGQUERY_LEDGER_TABLE" default:"ledger_facts"`
}

type OutboxConfig struct {
	BatchSize           int           `envconfig:"MARKETLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS      int           `envconfig:"MARKETLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts         int           `envconfig:"MARKETLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention           time.Duration `envconfig:"MARKETLEDGER_OUTBOX_RETENTION" default:"720h"`
	DeadLetterRetention time.Duration `envconfig:"MARKETLEDGER_OUTBOX_DLQ_RETENTION" default:"2160h"`
	MetricsAddr         string        `envconfig:"MARKETLEDGER_OUTBOX_METRICS_ADDR"`
}

// LedgerConfig tunes the wallet ledger and its transaction primitive.
type LedgerConfig struct {
	PlatformShards int           `envconfig:"MARKETLEDGER_LEDGER_PLATFORM_SHARDS" default:"5"`
	MaxTxAttempts  int           `envconfig:"MARKETLEDGER_LEDGER_MAX_TX_ATTEMPTS" default:"5"`
	RetryBase      time.Duration `envconfig:"MARKETLEDGER_LEDGER_RETRY_BASE" default:"15ms"`
	EarningsHold   time.Duration `envconfig:"MARKETLEDGER_LEDGER_EARNINGS_HOLD" default:"0s"`
	// DefaultCommissionRate is a percentage, applied when no rule matches the category.
	DefaultCommissionRate  decimal.Decimal `envconfig:"MARKETLEDGER_LEDGER_DEFAULT_COMMISSION_RATE" default:"10"`
	ResellerCommissionRate decimal.Decimal `envconfig:"MARKETLEDGER_LEDGER_RESELLER_COMMISSION_RATE" default:"5"`
}

type DispatchConfig struct {
	RequestTTL time.Duration `envconfig:"MARKETLEDGER_DISPATCH_REQUEST_TTL" default:"2m"`
}

type GeoConfig struct {
	BaseFee         decimal.Decimal `envconfig:"MARKETLEDGER_GEO_BASE_FEE" default:"2.50"`
	PerKmFee        decimal.Decimal `envconfig:"MARKETLEDGER_GEO_PER_KM_FEE" default:"0.80"`
	MinimumFee      decimal.Decimal `envconfig:"MARKETLEDGER_GEO_MINIMUM_FEE" default:"3.00"`
	AverageSpeedKmh float64         `envconfig:"MARKETLEDGER_GEO_AVERAGE_SPEED_KMH" default:"30"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"MARKETLEDGER_CRON_INTERVAL" default:"1m"`
	LockTTL            time.Duration `envconfig:"MARKETLEDGER_CRON_LOCK_TTL" default:"5m"`
	PaymentTimeout     time.Duration `envconfig:"MARKETLEDGER_CRON_PAYMENT_TIMEOUT" default:"30m"`
	SettlementBatch    int           `envconfig:"MARKETLEDGER_CRON_SETTLEMENT_BATCH" default:"200"`
	NotificationMaxAge time.Duration `envconfig:"MARKETLEDGER_CRON_NOTIFICATION_MAX_AGE" default:"720h"`
	MetricsAddr        string        `envconfig:"MARKETLEDGER_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
