package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/blocksurvey/uptime-coordinator/pkg/retry"
	"github.com/blocksurvey/uptime-coordinator/pkg/utils"
)

// Executor is an interface that both *pgxpool.Pool and pgx.Tx implement.
// Gateway methods accept it so callers can run them inside or outside a
// transaction; the caller owns the commit/rollback boundary.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	Logger *zap.Logger
	Pool   *pgxpool.Pool
}

// New connects a pool using the POSTGRES_* environment variables and pings
// it with exponential backoff before returning.
func New(ctx context.Context, logger *zap.Logger) (*Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(utils.Env("POSTGRES_USER", "postgres")),
		url.QueryEscape(utils.Env("POSTGRES_PASSWORD", "")),
		utils.Env("POSTGRES_HOST", "localhost"),
		utils.Env("POSTGRES_PORT", "5432"),
		utils.Env("POSTGRES_DB", "coordinator"),
		utils.Env("POSTGRES_SSLMODE", "require"),
	)

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	config.MinConns = 2
	config.MaxConns = int32(utils.EnvInt("POSTGRES_MAX_CONNS", 10))
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	client := &Client{Logger: logger}
	retryErr := retry.WithBackoff(connCtx, retry.DefaultConfig(), logger, "postgres_connection", func() error {
		pool, openErr := pgxpool.NewWithConfig(connCtx, config)
		if openErr != nil {
			return fmt.Errorf("failed to create postgres connection pool: %w", openErr)
		}
		if pingErr := pool.Ping(connCtx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("failed to ping postgres: %w", pingErr)
		}
		client.Pool = pool

		logger.Info("PostgreSQL connection pool configured",
			zap.String("host", utils.Env("POSTGRES_HOST", "localhost")),
			zap.String("database", utils.Env("POSTGRES_DB", "coordinator")),
			zap.Int32("max_conns", config.MaxConns),
		)
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	return client, nil
}

// Begin starts a new transaction.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.Pool.Begin(ctx)
}

// BeginFunc executes fn within a transaction: rolled back when fn errors,
// committed otherwise.
func (c *Client) BeginFunc(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, c.Pool, fn)
}

// Close releases the pool.
func (c *Client) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
