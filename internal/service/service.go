package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"promotion-engine-api/internal/catalog"
	"promotion-engine-api/internal/engine"
	"promotion-engine-api/internal/events"
	"promotion-engine-api/internal/features"
	"promotion-engine-api/internal/ledger"
	"promotion-engine-api/internal/models"
	"promotion-engine-api/internal/tracing"
	"promotion-engine-api/internal/validation"
)

// Store persists promotion records per tenant.
type Store interface {
	catalog.Store
	UpsertPromotion(ctx context.Context, tenantID string, record models.PromotionRecord) error
	ListAllPromotions(ctx context.Context) ([]models.PromotionRecord, error)
}

// UsageStore is the usage ledger backend: it can read, compare-and-increment
// and create counters.
type UsageStore interface {
	ledger.Port
	ledger.Registrar
}

// Service provides business logic for the promotion engine API.
type Service struct {
	store   Store
	catalog *catalog.Catalog
	engine  *engine.Engine
	usage   UsageStore
	ledger  *ledger.Ledger
	events  *events.Manager
	flags   *features.Manager
	tracer  *tracing.Tracer
	log     zerolog.Logger

	ledgerOptions []ledger.Option
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes promotion and evaluation events through m.
func WithEvents(m *events.Manager) Option { return func(s *Service) { s.events = m } }

// WithFeatures reads feature flags from m.
func WithFeatures(m *features.Manager) Option { return func(s *Service) { s.flags = m } }

func WithTracer(t *tracing.Tracer) Option { return func(s *Service) { s.tracer = t } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithLedgerOptions tunes the ledger used for usage pre-checks.
func WithLedgerOptions(opts ...ledger.Option) Option {
	return func(s *Service) { s.ledgerOptions = append(s.ledgerOptions, opts...) }
}

// NewService creates a new service instance.
func NewService(store Store, cat *catalog.Catalog, eng *engine.Engine, usage UsageStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		catalog: cat,
		engine:  eng,
		usage:   usage,
		flags:   features.NewManager(),
		tracer:  tracing.Noop(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.NewManager(false, s.log)
	}
	s.ledger = ledger.New(usage, s.ledgerOptions...)
	return s
}

// UpsertPromotion validates a promotion record, registers its usage counter,
// stores it and drops the tenant's cached catalog. A record without an id
// gets a generated one. The counter is registered first so a stored
// promotion always has one.
func (s *Service) UpsertPromotion(ctx context.Context, tenantID string, record models.PromotionRecord) (models.PromotionRecord, error) {
	ctx, span := s.startSpan(ctx, "service.UpsertPromotion", tenantID)
	defer span.End()

	if err := validation.ValidateTenantID(tenantID); err != nil {
		return models.PromotionRecord{}, err
	}

	record.ID = validation.SanitizeString(record.ID)
	record.Name = validation.SanitizeString(record.Name)
	record.CouponCode = validation.SanitizeString(record.CouponCode)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("promotion.id", record.ID))

	if err := validation.ValidatePromotionRecord(record); err != nil {
		return models.PromotionRecord{}, err
	}

	if err := s.usage.Register(ctx, record.ID, record.UsageCount, record.UsageLimit); err != nil {
		tracing.RecordError(span, err)
		return models.PromotionRecord{}, fmt.Errorf("failed to register usage counter: %w", err)
	}

	if err := s.store.UpsertPromotion(ctx, tenantID, record); err != nil {
		tracing.RecordError(span, err)
		return models.PromotionRecord{}, err
	}

	if err := s.catalog.Invalidate(ctx, tenantID); err != nil {
		s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("catalog cache not invalidated")
	}

	if s.flags.IsEnabled(features.FeatureEventHooksEnabled) {
		s.events.PublishPromotionUpserted(ctx, tenantID, record)
	}

	s.log.Info().
		Str("tenant_id", tenantID).
		Str("promotion_id", record.ID).
		Str("type", string(record.Type)).
		Msg("promotion upserted")

	return record, nil
}

// SyncUsage registers the usage counter of every stored promotion. Existing
// counters keep their count, so it is safe on every start; a ledger that
// lost its counters restarts them from the stored counts.
func (s *Service) SyncUsage(ctx context.Context) (int, error) {
	records, err := s.store.ListAllPromotions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list promotions: %w", err)
	}
	for _, r := range records {
		if err := s.usage.Register(ctx, r.ID, r.UsageCount, r.UsageLimit); err != nil {
			return 0, fmt.Errorf("failed to register usage counter of %s: %w", r.ID, err)
		}
	}
	return len(records), nil
}

// Features returns the runtime flags.
func (s *Service) Features() []features.Flag {
	return s.flags.List()
}

// SetFeature switches a runtime flag. Switching the catalog cache empties
// it, dropping lists cached before records were changed outside the API.
func (s *Service) SetFeature(ctx context.Context, name string, enabled bool) (features.Flag, error) {
	flag, changed, err := s.flags.Set(name, enabled)
	if err != nil {
		return features.Flag{}, err
	}
	if changed && name == features.FeatureCacheEnabled {
		if err := s.catalog.Purge(ctx); err != nil {
			s.log.Warn().Err(err).Msg("catalog cache not purged")
		}
	}
	s.log.Info().Str("feature", name).Bool("enabled", enabled).Bool("changed", changed).Msg("feature switched")
	return flag, nil
}

// ListPromotions returns the stored promotion records of a tenant.
func (s *Service) ListPromotions(ctx context.Context, tenantID string) ([]models.PromotionRecord, error) {
	ctx, span := s.startSpan(ctx, "service.ListPromotions", tenantID)
	defer span.End()

	if err := validation.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	records, err := s.store.ListPromotions(ctx, tenantID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	return records, nil
}

// Preview prices a cart against the tenant's catalog without consuming usage.
func (s *Service) Preview(ctx context.Context, tenantID string, req models.CartRequest, now time.Time) (models.EvaluationResult, error) {
	ctx, span := s.startSpan(ctx, "service.Preview", tenantID)
	defer span.End()

	result, err := s.evaluate(ctx, tenantID, req, now)
	if err != nil {
		tracing.RecordError(span, err)
		return models.EvaluationResult{}, err
	}
	span.SetAttributes(attribute.Int("promotion.applied", len(result.AppliedPromotions)))

	if s.flags.IsEnabled(features.FeatureEventHooksEnabled) {
		s.events.PublishEvaluationPreviewed(ctx, tenantID, result)
	}
	return result, nil
}

// Checkout prices a cart and commits the usage of every applied promotion.
// A promotion whose usage can no longer be committed is removed from the
// returned result; this is not an error.
func (s *Service) Checkout(ctx context.Context, tenantID string, req models.CartRequest, now time.Time) (models.EvaluationResult, error) {
	ctx, span := s.startSpan(ctx, "service.Checkout", tenantID)
	defer span.End()

	preview, err := s.evaluate(ctx, tenantID, req, now)
	if err != nil {
		tracing.RecordError(span, err)
		return models.EvaluationResult{}, err
	}

	result, err := s.engine.CommitEvaluation(ctx, preview, s.usage)
	if err != nil {
		tracing.RecordError(span, err)
		return models.EvaluationResult{}, err
	}
	span.SetAttributes(
		attribute.String("evaluation.status", string(result.Status)),
		attribute.Int("promotion.applied", len(result.AppliedPromotions)),
	)

	if result.Status == models.StatusPartiallyRolledBack {
		s.log.Warn().
			Str("tenant_id", tenantID).
			Str("total_discount", result.TotalDiscount.StringFixed(2)).
			Msg("checkout committed with rolled back promotions")
	}

	if s.flags.IsEnabled(features.FeatureEventHooksEnabled) {
		s.events.PublishEvaluationCommitted(ctx, tenantID, result)
	}
	return result, nil
}

func (s *Service) evaluate(ctx context.Context, tenantID string, req models.CartRequest, now time.Time) (models.EvaluationResult, error) {
	if err := validation.ValidateTenantID(tenantID); err != nil {
		return models.EvaluationResult{}, err
	}
	if err := validation.ValidateCartRequest(req); err != nil {
		return models.EvaluationResult{}, err
	}

	promotions, err := s.catalog.Promotions(ctx, tenantID)
	if err != nil {
		return models.EvaluationResult{}, fmt.Errorf("failed to load catalog: %w", err)
	}

	if s.flags.IsEnabled(features.FeatureLedgerPrecheck) {
		s.refreshUsage(ctx, promotions)
	}

	return s.engine.Evaluate(promotions, req.ToCartContext(now), now)
}

// refreshUsage lets the ledger decide whether each limited promotion can
// still be used; the stored count only records the count at upsert time.
// Failures keep the stored count since the commit re-checks the limit. Each
// read is bounded by the ledger timeout and a timeout ends the precheck.
func (s *Service) refreshUsage(ctx context.Context, promotions []models.Promotion) {
	for i := range promotions {
		c := &promotions[i].Constraints
		if c.UsageLimit <= 0 {
			continue
		}
		id := promotions[i].ID
		available, err := s.ledger.CheckAvailable(ctx, id)
		switch {
		case errors.Is(err, ledger.ErrUnknownPromotion):
			continue
		case errors.Is(err, ledger.ErrCommitTimeout):
			s.log.Warn().Err(err).Str("promotion_id", id).Msg("usage precheck timed out")
			return
		case err != nil:
			s.log.Warn().Err(err).Str("promotion_id", id).Msg("usage precheck failed")
			continue
		}
		switch {
		case !available:
			c.UsageCount = c.UsageLimit
		case c.UsageCount >= c.UsageLimit:
			c.UsageCount = c.UsageLimit - 1
		}
	}
}

func (s *Service) startSpan(ctx context.Context, name, tenantID string) (context.Context, trace.Span) {
	return s.tracer.StartSpan(ctx, name, trace.WithAttributes(tracing.TenantAttr(tenantID)))
}

// IsInvalidInput reports whether err was caused by the caller's input.
func IsInvalidInput(err error) bool {
	var verr *validation.ValidationError
	var ierr *engine.InvalidInputError
	return errors.As(err, &verr) || errors.As(err, &ierr)
}
