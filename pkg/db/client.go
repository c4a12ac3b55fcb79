package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/marketledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

const (
	defaultTxAttempts = 5
	defaultRetryBase  = 15 * time.Millisecond
)

// Client wraps the shared GORM connection.
type Client struct {
	conn     *gorm.DB
	policy   RetryPolicy
	observer RetryObserver
	logg     *logger.Logger
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RetryPolicy bounds how often InTx re-runs a closure that lost a write race.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// RetryObserver receives transaction retry outcomes, usually for metrics.
type RetryObserver interface {
	TxRetried()
	TxConflictExhausted()
}

// Option customizes a Client.
type Option func(*Client)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

func WithRetryObserver(observer RetryObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		c.logg = logg
	}
}

// New boots a GORM client using the provided configuration.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres":
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	gormCfg := &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}

	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}

	applyPoolSettings(sqlDB, cfg)

	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if logg != nil {
		logg.Info(ctx, "database connection established")
	}

	opts = append([]Option{WithLogger(logg)}, opts...)
	return Wrap(conn, opts...), nil
}

// Wrap builds a Client around an already opened connection.
func Wrap(conn *gorm.DB, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		policy: RetryPolicy{MaxAttempts: defaultTxAttempts, Base: defaultRetryBase},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.MaxAttempts < 1 {
		c.policy.MaxAttempts = 1
	}
	if c.policy.Base <= 0 {
		c.policy.Base = defaultRetryBase
	}
	return c
}

func applyPoolSettings(sqlDB *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Exec wraps GORM's Exec with context propagation.
func (c *Client) Exec(ctx context.Context, query string, args ...any) *gorm.DB {
	return c.conn.WithContext(ctx).Exec(query, args...)
}

// Raw wraps GORM's Raw with context propagation.
func (c *Client) Raw(ctx context.Context, query string, args ...any) *gorm.DB {
	return c.conn.WithContext(ctx).Raw(query, args...)
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// InTx runs fn in a transaction and re-runs the whole closure when it loses
// a concurrent write (optimistic version miss or serialization failure).
// fn must re-read everything it validates: each attempt starts from scratch.
// Once the attempts are spent the conflict surfaces as TRANSACTION_CONFLICT.
func (c *Client) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	backoff := retry.NewExponential(c.policy.Base)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(c.policy.MaxAttempts-1), backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.WithTx(ctx, fn)
		if err == nil || !IsConflict(err) {
			return err
		}
		if attempt < c.policy.MaxAttempts {
			if c.observer != nil {
				c.observer.TxRetried()
			}
			if c.logg != nil {
				c.logg.Debug(c.logg.WithField(ctx, "attempt", attempt), "transaction conflict, retrying")
			}
		}
		return retry.RetryableError(err)
	})
	if err != nil && IsConflict(err) {
		if c.observer != nil {
			c.observer.TxConflictExhausted()
		}
		return pkgerrors.Wrap(pkgerrors.CodeTransactionConflict, err, "concurrent update did not settle")
	}
	return err
}
