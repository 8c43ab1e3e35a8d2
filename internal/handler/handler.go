package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"promotion-engine-api/internal/database"
	"promotion-engine-api/internal/features"
	"promotion-engine-api/internal/logger"
	"promotion-engine-api/internal/models"
	"promotion-engine-api/internal/service"
	"promotion-engine-api/internal/validation"
)

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	pinger      Pinger
	log         zerolog.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Pinger      Pinger
	Logger      zerolog.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20,
		Logger:      zerolog.Nop(),
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		pinger:      opts.Pinger,
		log:         opts.Logger,
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/admin/features", func(r chi.Router) {
		r.Get("/", h.ListFeatures)
		r.Put("/{name}", h.SetFeature)
	})
	r.Route("/tenants/{tenant_id}", func(r chi.Router) {
		r.Get("/promotions", h.ListPromotions)
		r.Post("/promotions", h.UpsertPromotion)
		r.Post("/evaluations", h.PreviewEvaluation)
		r.Post("/checkouts", h.Checkout)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpsertPromotion handles POST /tenants/{tenant_id}/promotions
func (h *Handler) UpsertPromotion(w http.ResponseWriter, r *http.Request) {
	var req models.PromotionRecord
	if !h.decode(w, r, &req) {
		return
	}

	record, err := h.service.UpsertPromotion(r.Context(), tenantID(r), req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, record)
}

// ListPromotions handles GET /tenants/{tenant_id}/promotions
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	records, err := h.service.ListPromotions(r.Context(), tenant)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.ListPromotionsResponse{
		TenantID:   tenant,
		Promotions: records,
	})
}

// PreviewEvaluation handles POST /tenants/{tenant_id}/evaluations
func (h *Handler) PreviewEvaluation(w http.ResponseWriter, r *http.Request) {
	now, ok := h.evaluationTime(w, r)
	if !ok {
		return
	}

	var req models.CartRequest
	if !h.decode(w, r, &req) {
		return
	}

	tenant := tenantID(r)
	result, err := h.service.Preview(r.Context(), tenant, req, now)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.EvaluationResponse{TenantID: tenant, Result: result})
}

// Checkout handles POST /tenants/{tenant_id}/checkouts. Checkouts always
// price at the server's clock.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req models.CartRequest
	if !h.decode(w, r, &req) {
		return
	}

	tenant := tenantID(r)
	result, err := h.service.Checkout(r.Context(), tenant, req, time.Now().UTC())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, models.EvaluationResponse{TenantID: tenant, Result: result})
}

// ListFeatures handles GET /admin/features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	flags := h.service.Features()
	resp := models.ListFeaturesResponse{Features: make([]models.FeatureFlag, 0, len(flags))}
	for _, f := range flags {
		resp.Features = append(resp.Features, featureFlag(f))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// SetFeature handles PUT /admin/features/{name}
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	var req models.SetFeatureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	name := validation.SanitizeString(chi.URLParam(r, "name"))
	flag, err := h.service.SetFeature(r.Context(), name, *req.Enabled)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, featureFlag(flag))
}

func featureFlag(f features.Flag) models.FeatureFlag {
	return models.FeatureFlag{Name: f.Name, Enabled: f.Enabled, Description: f.Description}
}

// evaluationTime parses the optional 'now' query parameter.
func (h *Handler) evaluationTime(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	nowParam := r.URL.Query().Get("now")
	if nowParam == "" {
		return time.Now().UTC(), true
	}
	parsed, err := validation.ValidateTimeString(validation.SanitizeString(nowParam))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid 'now' parameter, must be RFC3339 format")
		return time.Time{}, false
	}
	return parsed, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			h.respondError(w, http.StatusBadRequest, "failed to read request body")
		}
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.respondError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case service.IsInvalidInput(err):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrTenantMismatch):
		h.respondError(w, http.StatusConflict, "promotion id belongs to another tenant")
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "promotion not found")
	case errors.Is(err, features.ErrUnknownFlag):
		h.respondError(w, http.StatusNotFound, "unknown feature flag")
	default:
		l := logger.FromContext(r.Context(), h.log)
		l.Error().Err(err).Msg("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func tenantID(r *http.Request) string {
	return validation.SanitizeString(chi.URLParam(r, "tenant_id"))
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
