package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"promotion-engine-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventPromotionUpserted is emitted when a promotion is created or updated.
	EventPromotionUpserted EventType = "promotion.upserted"
	// EventEvaluationPreviewed is emitted after a preview evaluation.
	EventEvaluationPreviewed EventType = "evaluation.previewed"
	// EventEvaluationCommitted is emitted after a checkout commit, rolled back or not.
	EventEvaluationCommitted EventType = "evaluation.committed"
	// EventPromotionRolledBack is emitted once per promotion removed at commit.
	EventPromotionRolledBack EventType = "promotion.rolled_back"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TenantID  string
	Data      interface{}
}

// PromotionUpsertedData contains data for promotion upserted events.
type PromotionUpsertedData struct {
	Promotion models.PromotionRecord
}

// EvaluationData contains data for evaluation events.
type EvaluationData struct {
	Result models.EvaluationResult
}

// RolledBackData contains data for promotion rolled back events.
type RolledBackData struct {
	PromotionID string
	Reason      string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, log zerolog.Logger) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		log:      log.With().Str("component", "events").Logger(),
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish runs every handler subscribed to eventType in its own goroutine.
// Handlers get a context detached from the caller's cancellation.
func (m *Manager) Publish(ctx context.Context, tenantID string, eventType EventType, data interface{}) {
	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Data:      data,
	}

	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.log.Error().
					Err(err).
					Str("event", string(event.Type)).
					Str("tenant_id", tenantID).
					Msg("event handler failed")
			}
		}(handler)
	}
}

// PublishPromotionUpserted publishes a promotion upserted event.
func (m *Manager) PublishPromotionUpserted(ctx context.Context, tenantID string, record models.PromotionRecord) {
	m.Publish(ctx, tenantID, EventPromotionUpserted, PromotionUpsertedData{Promotion: record})
}

// PublishEvaluationPreviewed publishes an evaluation previewed event.
func (m *Manager) PublishEvaluationPreviewed(ctx context.Context, tenantID string, result models.EvaluationResult) {
	m.Publish(ctx, tenantID, EventEvaluationPreviewed, EvaluationData{Result: result})
}

// PublishEvaluationCommitted publishes an evaluation committed event and one
// rolled back event per promotion the commit removed.
func (m *Manager) PublishEvaluationCommitted(ctx context.Context, tenantID string, result models.EvaluationResult) {
	m.Publish(ctx, tenantID, EventEvaluationCommitted, EvaluationData{Result: result})
	for _, s := range result.SkippedPromotions {
		if s.Reason == models.SkipUsageExhausted {
			m.Publish(ctx, tenantID, EventPromotionRolledBack, RolledBackData{
				PromotionID: s.PromotionID,
				Reason:      s.Detail,
			})
		}
	}
}

// Wait blocks until every running handler has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
