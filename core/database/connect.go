package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/botstarter/core/logger"
)

const (
	connectTimeout = 5 * time.Second
	readyTimeout   = 30 * time.Second
	readyInterval  = 2 * time.Second
)

// Connect opens the database connection, configures the pool, and verifies
// connectivity. Postgres is waited for up to 30s so the bot can start next to
// a database that is still booting.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("database: driver %q has no SQL backend", cfg.Driver)
	}
	if cfg.Driver == DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	start := time.Now()
	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	wait := connectTimeout
	if cfg.Driver == DriverPostgres {
		wait = readyTimeout
	}
	if err := WaitReady(ctx, db, wait); err != nil {
		_ = db.Close()
		logger.Error(ctx, logger.CompStorage, "db.connect",
			slog.String("status", "fail"),
			slog.String("driver", cfg.Driver),
			slog.String("host", cfg.Host),
			slog.String("db", cfg.Name),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	logger.Info(ctx, logger.CompStorage, "db.connect",
		slog.String("status", "ok"),
		slog.String("driver", cfg.Driver),
		slog.String("host", cfg.Host),
		slog.String("db", cfg.Name),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", logger.Took(start)),
	)
	return db, nil
}

// WaitReady pings db until it answers, timeout passes or ctx is done.
func WaitReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, connectTimeout)
		lastErr = db.PingContext(pingCtx)
		pingCancel()
		if lastErr == nil {
			return nil
		}
		logger.Debug(ctx, logger.CompStorage, "db.wait",
			slog.Int("attempt", attempt),
			slog.String("err", lastErr.Error()),
		)

		timer := time.NewTimer(readyInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("timeout reached waiting for database: %w", lastErr)
		case <-timer.C:
		}
	}
}
