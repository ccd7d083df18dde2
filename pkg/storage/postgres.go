package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS room_snapshots (
	key        TEXT PRIMARY KEY,
	snapshot   BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS room_alarms (
	key     TEXT PRIMARY KEY,
	fire_at TIMESTAMPTZ NOT NULL
);
`

// Postgres implements Store on a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database at dsn and ensures the schema
// exists before returning.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Get returns the snapshot stored under key, or ErrNotFound.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var snapshot []byte
	err := p.pool.QueryRow(ctx,
		`SELECT snapshot FROM room_snapshots WHERE key = $1`, key,
	).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snapshot, nil
}

// Put upserts the snapshot stored under key.
func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO room_snapshots (key, snapshot, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET snapshot = $2, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// SetAlarm upserts the eviction deadline for key.
func (p *Postgres) SetAlarm(ctx context.Context, key string, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO room_alarms (key, fire_at) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET fire_at = $2`,
		key, at.UTC())
	if err != nil {
		return fmt.Errorf("set alarm: %w", err)
	}
	return nil
}

// DeleteAlarm clears the eviction deadline for key.
func (p *Postgres) DeleteAlarm(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM room_alarms WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete alarm: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
