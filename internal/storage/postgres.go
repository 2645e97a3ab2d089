package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres keeps objects in a single table keyed by (bucket, key). Useful
// where a relational database is already deployed and an object store is not.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS objects (
	bucket     TEXT NOT NULL,
	key        TEXT NOT NULL,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (bucket, key)
)`

// NewPostgres wraps an existing database handle. The caller owns the handle's
// lifecycle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres opens a pgx-backed handle for the given DSN and ensures the
// objects table exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure objects table: %w", err)
	}
	return NewPostgres(db), nil
}

func (p *Postgres) Put(ctx context.Context, bucket, key string, data []byte) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO objects (bucket, key, data, updated_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (bucket, key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		bucket, key, data)
	if err != nil {
		return fmt.Errorf("%s/%s: %v: %w", bucket, key, err, ErrPutFailed)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE bucket = $1 AND key = $2`,
		bucket, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %v: %w", bucket, key, err, ErrGetFailed)
	}
	return data, nil
}

func (p *Postgres) Delete(ctx context.Context, bucket, key string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM objects WHERE bucket = $1 AND key = $2`, bucket, key)
	if err != nil {
		return fmt.Errorf("%s/%s: %v: %w", bucket, key, err, ErrDeleteFailed)
	}
	return nil
}

// Close closes the underlying database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}
