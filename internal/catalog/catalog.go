// Package catalog loads a tenant's promotions from storage, decodes them and
// bounds the number handed to the engine.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"promotion-engine-api/internal/cache"
	"promotion-engine-api/internal/models"
)

const (
	DefaultMaxSize  = 1000
	DefaultCacheTTL = 30 * time.Second
)

// Store lists the stored promotion records of a tenant.
type Store interface {
	ListPromotions(ctx context.Context, tenantID string) ([]models.PromotionRecord, error)
}

// Catalog serves decoded tenant catalogs, optionally through a cache.
type Catalog struct {
	store        Store
	cache        cache.Cache
	cacheTTL     time.Duration
	cacheEnabled func() bool
	maxSize      int
	log          zerolog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithCache caches record lists in c for ttl while enabled reports true.
func WithCache(c cache.Cache, ttl time.Duration, enabled func() bool) Option {
	return func(cat *Catalog) {
		cat.cache = c
		if ttl > 0 {
			cat.cacheTTL = ttl
		}
		if enabled != nil {
			cat.cacheEnabled = enabled
		}
	}
}

// WithMaxSize bounds the number of promotions evaluated per tenant.
func WithMaxSize(n int) Option {
	return func(cat *Catalog) {
		if n > 0 {
			cat.maxSize = n
		}
	}
}

// New creates a catalog over store.
func New(store Store, log zerolog.Logger, opts ...Option) *Catalog {
	c := &Catalog{
		store:        store,
		cacheTTL:     DefaultCacheTTL,
		cacheEnabled: func() bool { return true },
		maxSize:      DefaultMaxSize,
		log:          log.With().Str("component", "catalog").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Promotions returns the tenant's promotions, active ones first, then by
// priority descending and id ascending, cut to the configured maximum.
// Records that fail to decode are returned as never-eligible promotions so
// evaluations can report them.
func (c *Catalog) Promotions(ctx context.Context, tenantID string) ([]models.Promotion, error) {
	records, err := c.records(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	promotions := make([]models.Promotion, 0, len(records))
	for _, r := range records {
		p, err := r.DecodeOrInvalid()
		if err != nil {
			c.log.Debug().
				Err(err).
				Str("tenant_id", tenantID).
				Str("promotion_id", r.ID).
				Msg("stored promotion does not decode")
		}
		promotions = append(promotions, p)
	}

	Order(promotions)
	if len(promotions) > c.maxSize {
		c.log.Warn().
			Str("tenant_id", tenantID).
			Int("promotions", len(promotions)).
			Int("max_size", c.maxSize).
			Msg("catalog truncated")
		promotions = promotions[:c.maxSize]
	}
	return promotions, nil
}

// Invalidate drops the cached catalog of a tenant.
func (c *Catalog) Invalidate(ctx context.Context, tenantID string) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Delete(ctx, cacheKey(tenantID)); err != nil {
		return fmt.Errorf("catalog: invalidate %s: %w", tenantID, err)
	}
	return nil
}

// Purge empties the catalog cache of every tenant.
func (c *Catalog) Purge(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("catalog: purge: %w", err)
	}
	return nil
}

func (c *Catalog) records(ctx context.Context, tenantID string) ([]models.PromotionRecord, error) {
	useCache := c.cache != nil && c.cacheEnabled()
	key := cacheKey(tenantID)

	if useCache {
		var records []models.PromotionRecord
		err := cache.GetJSON(ctx, c.cache, key, &records)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			c.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("catalog cache read failed")
		}
	}

	records, err := c.store.ListPromotions(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list %s: %w", tenantID, err)
	}

	if useCache {
		if err := cache.SetJSON(ctx, c.cache, key, records, c.cacheTTL); err != nil {
			c.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("catalog cache write failed")
		}
	}
	return records, nil
}

// Order sorts promotions active first, then by priority descending and id ascending.
func Order(promotions []models.Promotion) {
	sort.SliceStable(promotions, func(i, j int) bool {
		a, b := promotions[i], promotions[j]
		if a.IsActive != b.IsActive {
			return a.IsActive
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
}

func cacheKey(tenantID string) string {
	return "catalog:" + tenantID
}
