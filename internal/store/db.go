package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"nallo/api/internal/logger"
)

const (
	pingAttempts = 5
	pingBackoff  = 2 * time.Second
)

// Open connects to PostgreSQL through the pgx stdlib driver and waits for the
// server to answer a ping, retrying a few times for slow container starts.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	for attempt := 1; ; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			return db, nil
		}
		if attempt == pingAttempts {
			break
		}
		logger.Sugar.Infof("postgres ping failed (attempt %d/%d), retrying in %s: %v", attempt, pingAttempts, pingBackoff, err)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping db: %w", ctx.Err())
		case <-time.After(pingBackoff):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("ping db: %w", err)
}
