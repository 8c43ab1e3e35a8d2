package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPort stores counters in a promotion_usage table.
type PostgresPort struct {
	pool *pgxpool.Pool
}

// NewPostgresPort connects to dsn and makes sure the usage table exists.
func NewPostgresPort(ctx context.Context, dsn string) (*PostgresPort, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger/postgres: ping: %w", err)
	}

	p := &PostgresPort{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the pool.
func (p *PostgresPort) Close() {
	p.pool.Close()
}

func (p *PostgresPort) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS promotion_usage (
		promotion_id TEXT PRIMARY KEY,
		usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		usage_limit INTEGER NOT NULL DEFAULT 0 CHECK (usage_limit >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("ledger/postgres: create schema: %w", err)
	}
	return nil
}

// Register creates the counter if missing and sets its limit.
func (p *PostgresPort) Register(ctx context.Context, promotionID string, count, limit int) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO promotion_usage (promotion_id, usage_count, usage_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (promotion_id) DO UPDATE SET
			usage_limit = EXCLUDED.usage_limit,
			updated_at = NOW()`, promotionID, count, limit)
	if err != nil {
		return fmt.Errorf("ledger/postgres: register %s: %w", promotionID, err)
	}
	return nil
}

// Read returns the counter of a promotion.
func (p *PostgresPort) Read(ctx context.Context, promotionID string) (Usage, error) {
	var u Usage
	err := p.pool.QueryRow(ctx,
		`SELECT usage_count, usage_limit FROM promotion_usage WHERE promotion_id = $1`,
		promotionID,
	).Scan(&u.Count, &u.Limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, ErrUnknownPromotion
	}
	if err != nil {
		return Usage{}, fmt.Errorf("ledger/postgres: read %s: %w", promotionID, err)
	}
	return u, nil
}

// CompareAndIncrement increments the counter if it still equals expectedCount.
func (p *PostgresPort) CompareAndIncrement(ctx context.Context, promotionID string, expectedCount int) (bool, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE promotion_usage
		SET usage_count = usage_count + 1, updated_at = NOW()
		WHERE promotion_id = $1 AND usage_count = $2`, promotionID, expectedCount)
	if err != nil {
		return false, fmt.Errorf("ledger/postgres: increment %s: %w", promotionID, err)
	}
	return tag.RowsAffected() == 1, nil
}
