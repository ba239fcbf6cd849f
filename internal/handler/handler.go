package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ambassador-ledger/internal/apperr"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/cache"
	"ambassador-ledger/internal/features"
	"ambassador-ledger/internal/logger"
	"ambassador-ledger/internal/middleware"
	"ambassador-ledger/internal/models"
	"ambassador-ledger/internal/service"
	"ambassador-ledger/internal/transfer"
	"ambassador-ledger/internal/validation"
)

// HeaderIdempotencyKey lets clients retry settlement creation safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler provides HTTP handlers for the API.
type Handler struct {
	service         *service.Service
	transfer        *transfer.Orchestrator
	flags           *features.Manager
	idempotency     cache.Cache
	log             *logger.Logger
	maxBodySize     int64
	maxSnapshotSize int64
	idempotencyTTL  time.Duration
	now             func() time.Time
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize     int64
	MaxSnapshotSize int64
	IdempotencyTTL  time.Duration
	// Cache stores replies to requests carrying an Idempotency-Key.
	Cache  cache.Cache
	Flags  *features.Manager
	Logger *logger.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize:     10 << 20, // 10MB default
		MaxSnapshotSize: 256 << 20,
		IdempotencyTTL:  24 * time.Hour,
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service, orch *transfer.Orchestrator) *Handler {
	return NewHandlerWithOptions(svc, orch, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, orch *transfer.Orchestrator, opts NewHandlerOptions) *Handler {
	if opts.Cache == nil {
		opts.Cache = cache.NewInMemoryCache()
	}
	if opts.Flags == nil {
		opts.Flags = features.NewDefaultManager(false)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Handler{
		service:         svc,
		transfer:        orch,
		flags:           opts.Flags,
		idempotency:     opts.Cache,
		log:             opts.Logger.WithField("component", "handler"),
		maxBodySize:     opts.MaxBodySize,
		maxSnapshotSize: opts.MaxSnapshotSize,
		idempotencyTTL:  opts.IdempotencyTTL,
		now:             time.Now,
	}
}

// Routes returns the authenticated API. Every route requires gateway actor
// headers; writes are refused while maintenance mode is on.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.ActorMiddleware())
	r.Use(middleware.MaintenanceMiddleware(h.flags))

	r.Get("/slabs", h.ListSlabs)

	r.Route("/leads", func(r chi.Router) {
		r.Post("/", h.SubmitLead)
		r.Post("/{id}/confirm", h.ConfirmLead)
		r.Put("/{id}/status", h.UpdateLeadStatus)
	})

	r.Route("/ambassadors/{id}", func(r chi.Router) {
		r.Post("/recalculate", h.RecalculateAmbassador)
		r.Get("/pending-settlement", h.GetPendingSettlement)
		r.Get("/settlements", h.ListSettlements)
		r.Post("/settlements", h.CreateSettlement)
	})

	r.Route("/settlements/{id}", func(r chi.Router) {
		r.Post("/process", h.ProcessSettlement)
		r.Delete("/", h.DeleteSettlement)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/backup", h.Backup)
		r.Post("/restore", h.Restore)
		r.Post("/campuses/{id}/merge", h.MergeCampus)
		r.Put("/campuses/{id}", h.RenameCampus)
		r.Get("/features", h.ListFeatures)
	})

	return r
}

// ListSlabs handles GET /slabs
func (h *Handler) ListSlabs(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.ListSlabs())
}

// SubmitLead handles POST /leads
func (h *Handler) SubmitLead(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)

	var req models.SubmitLeadRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	lead, err := h.service.SubmitLead(r.Context(), actor, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, lead)
}

// ConfirmLead handles POST /leads/{id}/confirm
func (h *Handler) ConfirmLead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "lead_id")
	if !ok {
		return
	}

	res, err := h.service.ConfirmLead(r.Context(), h.actor(r), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, res)
}

// UpdateLeadStatus handles PUT /leads/{id}/status
func (h *Handler) UpdateLeadStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "lead_id")
	if !ok {
		return
	}

	var req models.UpdateLeadStatusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	lead, err := h.service.UpdateLeadStatus(r.Context(), h.actor(r), id, req.Status)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, lead)
}

// RecalculateAmbassador handles POST /ambassadors/{id}/recalculate
func (h *Handler) RecalculateAmbassador(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "ambassador_id")
	if !ok {
		return
	}

	benefit, err := h.service.RecalculateAmbassador(r.Context(), h.actor(r), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, benefit)
}

// GetPendingSettlement handles GET /ambassadors/{id}/pending-settlement
func (h *Handler) GetPendingSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "ambassador_id")
	if !ok {
		return
	}

	pending, err := h.service.CalculatePendingSettlement(r.Context(), h.actor(r), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, pending)
}

// ListSettlements handles GET /ambassadors/{id}/settlements
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "ambassador_id")
	if !ok {
		return
	}

	settlements, err := h.service.ListSettlements(r.Context(), h.actor(r), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if settlements == nil {
		settlements = []models.Settlement{}
	}

	h.respondJSON(w, http.StatusOK, settlements)
}

// CreateSettlement handles POST /ambassadors/{id}/settlements. A request
// repeated with the same Idempotency-Key gets the original reply.
func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	id, ok := h.pathID(w, r, "ambassador_id")
	if !ok {
		return
	}

	var req models.CreateSettlementRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" {
		h.createSettlement(w, r, actor, id, req, "")
		return
	}
	if err := validation.ValidateIdempotencyKey(key); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	cacheKey := fmt.Sprintf("idempotency:settlement:%s:%d:%s", actor.ID, id, key)
	var replay models.Settlement
	if err := cache.GetJSON(r.Context(), h.idempotency, cacheKey, &replay); err == nil {
		w.Header().Set("Idempotent-Replayed", "true")
		h.respondJSON(w, http.StatusCreated, replay)
		return
	}

	claims, err := h.idempotency.Incr(r.Context(), cacheKey+":claim", h.idempotencyTTL)
	if err != nil {
		h.log.WithContext(r.Context()).WithError(err).Warn("idempotency store unavailable")
	} else if claims > 1 {
		h.respondError(w, http.StatusConflict, "a request with this Idempotency-Key is already in progress")
		return
	}

	h.createSettlement(w, r, actor, id, req, cacheKey)
}

func (h *Handler) createSettlement(w http.ResponseWriter, r *http.Request, actor authz.Actor, ambassadorID int64, req models.CreateSettlementRequest, cacheKey string) {
	created, err := h.service.CreateSettlement(r.Context(), actor, ambassadorID, req)
	if err != nil {
		if cacheKey != "" {
			// let the client retry a failed request with the same key
			h.idempotency.Delete(r.Context(), cacheKey+":claim")
		}
		h.respondServiceError(w, r, err)
		return
	}

	if cacheKey != "" {
		if err := cache.SetJSON(r.Context(), h.idempotency, cacheKey, created, h.idempotencyTTL); err != nil {
			h.log.WithContext(r.Context()).WithError(err).Warn("failed to store idempotent reply")
			// without a stored reply a held claim would answer 409 until it expires
			h.idempotency.Delete(r.Context(), cacheKey+":claim")
		}
	}

	h.respondJSON(w, http.StatusCreated, created)
}

// ProcessSettlement handles POST /settlements/{id}/process
func (h *Handler) ProcessSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "settlement_id")
	if !ok {
		return
	}

	var req models.ProcessSettlementRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	st, err := h.service.ProcessSettlement(r.Context(), h.actor(r), id, req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, st)
}

// DeleteSettlement handles DELETE /settlements/{id}
func (h *Handler) DeleteSettlement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "settlement_id")
	if !ok {
		return
	}

	if err := h.service.DeleteSettlement(r.Context(), h.actor(r), id); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Backup handles GET /admin/backup and streams the snapshot blob.
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	blob, err := h.transfer.Backup(r.Context(), h.actor(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	name := "ambassador-ledger-" + h.now().UTC().Format("20060102T150405Z") + ".snap.zst"
	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// Restore handles POST /admin/restore. The raw snapshot blob is the body.
// Maintenance mode is held for the duration so no other write interleaves.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSnapshotSize)
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "snapshot exceeds the upload limit")
			return
		}
		h.respondError(w, http.StatusBadRequest, "failed to read snapshot")
		return
	}
	if len(blob) == 0 {
		h.respondError(w, http.StatusBadRequest, "request body is required")
		return
	}

	// The flag is per process. It excludes concurrent writers only because
	// a database file is served by a single instance.
	if !h.flags.TryEnable(features.FeatureMaintenanceMode) {
		h.respondError(w, http.StatusConflict, "another maintenance operation is running")
		return
	}
	defer h.flags.Disable(features.FeatureMaintenanceMode)

	report, err := h.transfer.Restore(r.Context(), h.actor(r), blob)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// MergeCampus handles POST /admin/campuses/{id}/merge
func (h *Handler) MergeCampus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "source_campus_id")
	if !ok {
		return
	}

	var req models.MergeCampusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	report, err := h.transfer.MergeCampus(r.Context(), h.actor(r), id, req.TargetCampusID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// RenameCampus handles PUT /admin/campuses/{id}
func (h *Handler) RenameCampus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "campus_id")
	if !ok {
		return
	}

	var req models.RenameCampusRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if err := h.transfer.RenameCampus(r.Context(), h.actor(r), id, req.Name); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListFeatures handles GET /admin/features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.flags.GetAll())
}

// actor returns the identity placed in the context by the actor middleware.
func (h *Handler) actor(r *http.Request) authz.Actor {
	actor, _ := authz.ActorFrom(r.Context())
	return actor
}

// pathID parses the {id} URL parameter.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, field string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err == nil {
		err = validation.ValidateID(id, field)
	} else {
		err = &validation.ValidationError{Field: field, Message: "must be an integer"}
	}
	if err != nil {
		h.respondServiceError(w, r, err)
		return 0, false
	}
	return id, true
}

// decodeJSON reads a size-limited JSON body into dst.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondServiceError maps a classified error to its status code. Only the
// short message reaches the client; the full chain is logged.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	entry := h.log.WithContext(r.Context()).WithError(err).WithFields(map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"kind":   string(kind),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Info("request rejected")
	}

	h.respondJSON(w, status, models.ErrorResponse{Error: apperr.Message(err), Code: string(kind)})
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

// ReadyCheck reports whether the dependencies needed to serve are reachable.
type ReadyCheck func(ctx context.Context) error

// Health handles GET /health. Each check must pass for a 200.
func Health(checks map[string]ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unavailable", "check": name})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
