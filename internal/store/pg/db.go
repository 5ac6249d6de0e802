// Package pg implements the snapshot and agent stores on Postgres with the
// pgvector extension, via the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// dbTimeout bounds every single round-trip. Slow statements indicate an
// unhealthy database, not normal load; captures abort instead of piling up.
const dbTimeout = 5 * time.Second

// OpenDB opens and verifies a pooled connection.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores opens the database once and wires both stores over it.
func NewStores(dsn string) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, nil, err
	}
	return &store.Stores{
		Snapshots: NewSnapshotStore(db),
		Agents:    NewAgentStore(db),
	}, db, nil
}

func opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, dbTimeout)
}
