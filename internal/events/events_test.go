package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"promotion-engine-api/internal/models"
)

func TestPublish_RunsSubscribedHandlers(t *testing.T) {
	m := NewManager(true, zerolog.Nop())

	var (
		mu  sync.Mutex
		got []Event
	)
	m.Subscribe(EventPromotionUpserted, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.PublishPromotionUpserted(ctx, "acme", models.PromotionRecord{ID: "P1"})
	cancel()
	m.Wait()

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].TenantID != "acme" || got[0].Type != EventPromotionUpserted {
		t.Errorf("Unexpected event %+v", got[0])
	}
	data, ok := got[0].Data.(PromotionUpsertedData)
	if !ok || data.Promotion.ID != "P1" {
		t.Errorf("Unexpected event data %+v", got[0].Data)
	}
}

func TestPublish_Disabled(t *testing.T) {
	m := NewManager(false, zerolog.Nop())

	called := false
	m.Subscribe(EventEvaluationPreviewed, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})
	m.PublishEvaluationPreviewed(context.Background(), "acme", models.EvaluationResult{})
	m.Wait()

	if called {
		t.Error("Expected no handler calls when events are disabled")
	}
}

func TestPublishEvaluationCommitted_RolledBackPerPromotion(t *testing.T) {
	m := NewManager(true, zerolog.Nop())

	var (
		mu  sync.Mutex
		ids []string
	)
	m.Subscribe(EventPromotionRolledBack, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, e.Data.(RolledBackData).PromotionID)
		return nil
	})

	m.PublishEvaluationCommitted(context.Background(), "acme", models.EvaluationResult{
		Status: models.StatusPartiallyRolledBack,
		SkippedPromotions: []models.SkippedPromotion{
			{PromotionID: "A", Reason: models.SkipUsageExhausted},
			{PromotionID: "B", Reason: models.SkipSuperseded},
			{PromotionID: "C", Reason: models.SkipUsageExhausted},
		},
	})
	m.Wait()

	if len(ids) != 2 {
		t.Errorf("Expected 2 rolled back events, got %v", ids)
	}
}

func TestPublish_HandlerErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(true, zerolog.New(&buf))
	m.Subscribe(EventEvaluationCommitted, func(ctx context.Context, e Event) error {
		return errors.New("sink down")
	})

	m.PublishEvaluationCommitted(context.Background(), "acme", models.EvaluationResult{})
	m.Wait()

	if !strings.Contains(buf.String(), "sink down") {
		t.Errorf("Expected handler error in log, got %q", buf.String())
	}
}

func TestShutdown_DropsHandlers(t *testing.T) {
	m := NewManager(true, zerolog.Nop())
	called := false
	m.Subscribe(EventPromotionUpserted, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})

	m.Shutdown()
	m.PublishPromotionUpserted(context.Background(), "acme", models.PromotionRecord{})
	m.Wait()

	if called {
		t.Error("Expected no handler calls after shutdown")
	}
}
