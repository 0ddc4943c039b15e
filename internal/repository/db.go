package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yourorg/market-ingest/internal/config"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the shared connection pool. Each repository call borrows a
// connection for the duration of one statement and returns it to the pool.
func Connect(ctx context.Context, dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	driver := dbConfig.Driver
	if driver == "" {
		driver = "pgx"
	}

	db, err := sqlx.Open(driver, dbConfig.URL)
	if err != nil {
		return nil, &StorageError{Op: "open database", Err: err}
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "ping database", Err: fmt.Errorf("%s: %w", driver, err)}
	}

	return db, nil
}
