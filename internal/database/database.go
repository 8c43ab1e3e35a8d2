package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"promotion-engine-api/internal/ledger"
	"promotion-engine-api/internal/models"
)

var (
	// ErrNotFound is returned when a promotion does not exist for the tenant.
	ErrNotFound = errors.New("database: promotion not found")
	// ErrTenantMismatch is returned when a promotion id is already owned by another tenant.
	ErrTenantMismatch = errors.New("database: promotion id belongs to another tenant")
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS promotions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			record TEXT NOT NULL,
			is_active INTEGER NOT NULL,
			priority INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS promotion_usage (
			promotion_id TEXT PRIMARY KEY,
			usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			usage_limit INTEGER NOT NULL DEFAULT 0 CHECK (usage_limit >= 0),
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_promotions_tenant ON promotions(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_promotions_tenant_active ON promotions(tenant_id, is_active, priority)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// UpsertPromotion creates or updates a promotion record of a tenant. The
// usage counter lives in the ledger and is not written here.
func (db *DB) UpsertPromotion(ctx context.Context, tenantID string, record models.PromotionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode promotion %s: %w", record.ID, err)
	}

	query := `INSERT INTO promotions (
		id, tenant_id, record, is_active, priority, updated_at
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		record = excluded.record,
		is_active = excluded.is_active,
		priority = excluded.priority,
		updated_at = excluded.updated_at
	WHERE promotions.tenant_id = excluded.tenant_id`

	res, err := db.conn.ExecContext(
		ctx,
		query,
		record.ID,
		tenantID,
		string(data),
		record.IsActive,
		record.Priority,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert promotion: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to upsert promotion: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("promotion %s: %w", record.ID, ErrTenantMismatch)
	}

	return nil
}

// GetPromotion returns one promotion record of a tenant.
func (db *DB) GetPromotion(ctx context.Context, tenantID, promotionID string) (models.PromotionRecord, error) {
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT record FROM promotions WHERE tenant_id = ? AND id = ?`,
		tenantID, promotionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PromotionRecord{}, ErrNotFound
	}
	if err != nil {
		return models.PromotionRecord{}, fmt.Errorf("failed to query promotion: %w", err)
	}

	var record models.PromotionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return models.PromotionRecord{}, fmt.Errorf("failed to decode promotion %s: %w", promotionID, err)
	}
	return record, nil
}

// ListPromotions returns every promotion record of a tenant, active ones first,
// then by priority descending and id ascending.
func (db *DB) ListPromotions(ctx context.Context, tenantID string) ([]models.PromotionRecord, error) {
	return db.queryPromotions(ctx, `SELECT id, record FROM promotions
		WHERE tenant_id = ?
		ORDER BY is_active DESC, priority DESC, id ASC`, tenantID)
}

// ListAllPromotions returns the promotion records of every tenant by id.
func (db *DB) ListAllPromotions(ctx context.Context) ([]models.PromotionRecord, error) {
	return db.queryPromotions(ctx, `SELECT id, record FROM promotions ORDER BY id ASC`)
}

func (db *DB) queryPromotions(ctx context.Context, query string, args ...interface{}) ([]models.PromotionRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	records := []models.PromotionRecord{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}

		var record models.PromotionRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to decode promotion %s: %w", id, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating promotions: %w", err)
	}

	return records, nil
}

// Register creates the usage counter of a promotion if missing and sets its limit.
func (db *DB) Register(ctx context.Context, promotionID string, count, limit int) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO promotion_usage (
		promotion_id, usage_count, usage_limit, updated_at
	) VALUES (?, ?, ?, ?)
	ON CONFLICT(promotion_id) DO UPDATE SET
		usage_limit = excluded.usage_limit,
		updated_at = excluded.updated_at`,
		promotionID, count, limit, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to register usage of %s: %w", promotionID, err)
	}
	return nil
}

// Read returns the usage counter of a promotion.
func (db *DB) Read(ctx context.Context, promotionID string) (ledger.Usage, error) {
	var u ledger.Usage
	err := db.conn.QueryRowContext(ctx,
		`SELECT usage_count, usage_limit FROM promotion_usage WHERE promotion_id = ?`,
		promotionID,
	).Scan(&u.Count, &u.Limit)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Usage{}, ledger.ErrUnknownPromotion
	}
	if err != nil {
		return ledger.Usage{}, fmt.Errorf("failed to read usage of %s: %w", promotionID, err)
	}
	return u, nil
}

// CompareAndIncrement increments the usage counter if it still equals expectedCount.
func (db *DB) CompareAndIncrement(ctx context.Context, promotionID string, expectedCount int) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE promotion_usage
		SET usage_count = usage_count + 1, updated_at = ?
		WHERE promotion_id = ? AND usage_count = ?`,
		time.Now().UTC().Format(time.RFC3339), promotionID, expectedCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to increment usage of %s: %w", promotionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to increment usage of %s: %w", promotionID, err)
	}
	return n == 1, nil
}
