package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// StoreOptions selects and configures an AccountRepository backend.
type StoreOptions struct {
	Driver      string
	DSN         string
	RedisURL    string
	Development bool
	AutoMigrate bool
	Tx          TxConfig
}

// OpenAccountRepo connects to the configured backend. The returned close
// function releases the underlying connection pool.
func OpenAccountRepo(ctx context.Context, opts StoreOptions, logger zerolog.Logger) (AccountRepository, func() error, error) {
	switch opts.Driver {
	case DriverPostgres:
		db, err := openPostgres(ctx, opts, logger)
		if err != nil {
			return nil, nil, err
		}
		if opts.AutoMigrate {
			if err := EnsurePostgresSchema(ctx, db); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
			logger.Info().Msg("Account schema ensured")
		}
		return NewPostgresAccountRepo(db, opts.Tx, logger), db.Close, nil
	case DriverRedis:
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		logger.Info().Str("addr", redisOpts.Addr).Msg("Redis connection successful")
		return NewRedisAccountRepo(client, opts.Tx, logger), client.Close, nil
	case DriverMemory:
		logger.Warn().Msg("Using in-memory account store; balances are lost on restart")
		return NewMemoryAccountRepo(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func openPostgres(ctx context.Context, opts StoreOptions, logger zerolog.Logger) (*sql.DB, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("DB_CONNECTION_STRING must be set for the %s driver", DriverPostgres)
	}
	dsn := preparePostgresDSN(opts.DSN, opts.Development)
	logger.Info().Str("db_connection_string_port_check", portFromDSN(dsn)).Msg("DB connection string port")

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	logger.Info().Msg("Database connection successful")

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// preparePostgresDSN disables SSL for local development unless the DSN says
// otherwise. Elsewhere the simple query protocol is forced so transaction
// poolers like pgbouncer don't trip over server-side prepared statements.
func preparePostgresDSN(dsn string, development bool) string {
	if development && !strings.Contains(dsn, "sslmode") {
		dsn += dsnSeparator(dsn) + "sslmode=disable"
	}
	if !development && !strings.Contains(dsn, "prefer_simple_protocol") {
		dsn += dsnSeparator(dsn) + "prefer_simple_protocol=true"
	}
	return dsn
}

func dsnSeparator(dsn string) string {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return " "
	}
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}

// portFromDSN extracts the port from a URL-style DSN for startup logs.
func portFromDSN(dsn string) string {
	parts := strings.Split(dsn, ":")
	for i, part := range parts {
		if strings.Contains(part, "@") && len(parts) > i+1 {
			portAndDB := strings.Split(parts[i+1], "/")
			if len(portAndDB) > 0 {
				return portAndDB[0]
			}
		}
	}
	return "not_found"
}
